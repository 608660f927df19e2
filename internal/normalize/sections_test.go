package normalize

import (
	"strings"
	"testing"

	"github.com/radfollowup/wrangler/constants"
)

const sampleReport = `CT CHEST WITHOUT CONTRAST

CLINICAL HISTORY
Cough for three weeks.

FINDINGS:
There is a 3mm pulmonary nodule in the right upper lobe.
No pleural effusion.

IMPRESSION:
Small pulmonary nodule.

RECOMMENDATIONS:
Follow-up CT chest in 6 months.`

func TestNormalizeSegmentsSections(t *testing.T) {
	doc := Normalize("d1", "P1", "report.pdf", nil, []Page{{Number: 1, Text: sampleReport}})

	if doc.LowConfidence {
		t.Fatal("document with recognized headers flagged low-confidence")
	}

	kinds := make([]constants.SectionKind, 0, len(doc.Sections))
	for _, s := range doc.Sections {
		kinds = append(kinds, s.Kind)
	}
	want := []constants.SectionKind{
		constants.SectionOther,
		constants.SectionFindings,
		constants.SectionImpression,
		constants.SectionRecommendations,
	}
	if len(kinds) != len(want) {
		t.Fatalf("got sections %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Fatalf("section %d = %s, want %s", i, kinds[i], want[i])
		}
	}

	findings := doc.Sections[1]
	if !strings.Contains(findings.Text(), "3mm pulmonary nodule") {
		t.Fatalf("findings text = %q", findings.Text())
	}
	if len(findings.Sentences) != 2 {
		t.Fatalf("findings sentences = %d, want 2", len(findings.Sentences))
	}
	if findings.Sentences[0].Page != 1 {
		t.Fatalf("sentence page = %d, want 1", findings.Sentences[0].Page)
	}
}

func TestNormalizeHeaderlessDocument(t *testing.T) {
	text := "The patient has a 1.2 cm hepatic lesion. Further evaluation may be considered."
	doc := Normalize("d1", "P1", "scan.pdf", nil, []Page{{Number: 1, Text: text}})

	if !doc.LowConfidence {
		t.Fatal("headerless document not flagged low-confidence")
	}
	if len(doc.Sections) != 1 || doc.Sections[0].Kind != constants.SectionOther {
		t.Fatalf("sections = %+v, want single Other section", doc.Sections)
	}
	if got := doc.Sections[0].Text(); !strings.Contains(got, "hepatic lesion") {
		t.Fatalf("section text = %q lost content", got)
	}
}

func TestNormalizeMergedHeaderFromOCR(t *testing.T) {
	text := "FINDINGSThere is a suspicious mass in the liver.\nIMPRESSIONSuspicious hepatic mass."
	doc := Normalize("d1", "P1", "scan.pdf", nil, []Page{{Number: 1, Text: text}})

	if doc.LowConfidence {
		t.Fatal("merged OCR headers not recognized")
	}
	if len(doc.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(doc.Sections))
	}
	if doc.Sections[0].Kind != constants.SectionFindings {
		t.Fatalf("first section = %s, want %s", doc.Sections[0].Kind, constants.SectionFindings)
	}
	if !strings.Contains(doc.Sections[0].Text(), "There is a suspicious mass") {
		t.Fatalf("merged header lost its trailing sentence: %q", doc.Sections[0].Text())
	}
	if doc.Sections[1].Kind != constants.SectionImpression {
		t.Fatalf("second section = %s, want %s", doc.Sections[1].Kind, constants.SectionImpression)
	}
}

func TestNormalizeRepairsHyphenWrap(t *testing.T) {
	text := "FINDINGS:\nSurveillance imaging is the recommen-\ndation for this lesion."
	doc := Normalize("d1", "P1", "scan.pdf", nil, []Page{{Number: 1, Text: text}})

	if len(doc.Sections) != 1 {
		t.Fatalf("sections = %d, want 1", len(doc.Sections))
	}
	if got := doc.Sections[0].Text(); !strings.Contains(got, "recommendation") {
		t.Fatalf("hyphen wrap not repaired: %q", got)
	}
}

func TestNormalizeMultiplePages(t *testing.T) {
	doc := Normalize("d1", "P1", "scan.pdf", nil, []Page{
		{Number: 1, Text: "FINDINGS:\nNodule in the right lung."},
		{Number: 2, Text: "RECOMMENDATIONS:\nRepeat CT in 12 months."},
	})
	if len(doc.Sections) != 2 {
		t.Fatalf("sections = %d, want 2", len(doc.Sections))
	}
	if doc.Sections[1].Sentences[0].Page != 2 {
		t.Fatalf("page = %d, want 2", doc.Sections[1].Sentences[0].Page)
	}
}

func TestNormalizeEmptyInput(t *testing.T) {
	doc := Normalize("d1", "P1", "scan.pdf", nil, nil)
	if len(doc.Sections) != 0 {
		t.Fatalf("sections = %d, want 0", len(doc.Sections))
	}
	if !doc.LowConfidence {
		t.Fatal("empty document should be low-confidence")
	}
}
