// Package normalize turns raw OCR/page text into a canonical Document
// segmented by report section with sentence-level provenance.
package normalize

import (
	"regexp"
	"strings"
	"time"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/entity"
)

// headerPattern matches one recognized section header. Patterns are tried
// in order on each line; they tolerate common OCR noise: missing colons,
// stray punctuation, and headers merged with the first sentence
// ("FINDINGSThere is a ...").
type headerPattern struct {
	kind constants.SectionKind
	re   *regexp.Regexp
}

var headerPatterns = []headerPattern{
	{constants.SectionFindings, regexp.MustCompile(`(?i)^\s*finding?s?\b\s*[:.\-]?\s*(.*)$`)},
	{constants.SectionImpression, regexp.MustCompile(`(?i)^\s*(?:impression?s?|conclusion?s?)\b\s*[:.\-]?\s*(.*)$`)},
	{constants.SectionRecommendations, regexp.MustCompile(`(?i)^\s*recommendation?s?\b\s*[:.\-]?\s*(.*)$`)},
	// "FOLLOW-UP:" needs its punctuation; a sentence can start with the word
	{constants.SectionRecommendations, regexp.MustCompile(`(?i)^\s*follow[\s\-]?up\s*[:.]\s*(.*)$`)},
	// merged-word variants from OCR ("FINDINGSThere is ...")
	{constants.SectionFindings, regexp.MustCompile(`^\s*FINDINGS([A-Z].*)$`)},
	{constants.SectionImpression, regexp.MustCompile(`^\s*IMPRESSIONS?([A-Z].*)$`)},
	{constants.SectionRecommendations, regexp.MustCompile(`^\s*RECOMMENDATIONS?([A-Z].*)$`)},
}

// matchHeader returns the section kind and any trailing text on the header
// line ("IMPRESSION: No acute process." keeps the sentence).
func matchHeader(line string) (constants.SectionKind, string, bool) {
	for _, hp := range headerPatterns {
		if m := hp.re.FindStringSubmatch(line); m != nil {
			return hp.kind, strings.TrimSpace(m[1]), true
		}
	}
	return "", "", false
}

// Page is one page of raw report text.
type Page struct {
	Number int
	Text   string
}

// Normalize builds the canonical Document for raw page text. Text before
// the first recognized header is assigned to Other; a document with no
// recognizable headers becomes a single Other section covering the full
// text and is flagged low-confidence. Normalize never fails: malformed
// input degrades, it does not abort the pipeline.
func Normalize(docID, patientID, sourceFile string, reportDate *time.Time, pages []Page) *entity.Document {
	type run struct {
		kind      constants.SectionKind
		sentences []entity.Sentence
	}
	runs := []*run{}
	current := &run{kind: constants.SectionOther}
	runs = append(runs, current)
	sawHeader := false

	for _, pg := range pages {
		lines := strings.Split(cleanPage(pg.Text), "\n")
		var buf []string
		bufStartLine := 0
		flush := func() {
			if len(buf) == 0 {
				return
			}
			block := strings.Join(buf, " ")
			for _, s := range SplitSentences(block) {
				current.sentences = append(current.sentences, entity.Sentence{
					Text: s,
					Page: pg.Number,
					Line: bufStartLine,
				})
			}
			buf = buf[:0]
		}
		for i, line := range lines {
			trimmed := strings.TrimSpace(line)
			if trimmed == "" {
				continue
			}
			if kind, rest, ok := matchHeader(trimmed); ok {
				flush()
				sawHeader = true
				current = &run{kind: kind}
				runs = append(runs, current)
				if rest != "" {
					buf = append(buf, rest)
					bufStartLine = i + 1
				}
				continue
			}
			if len(buf) == 0 {
				bufStartLine = i + 1
			}
			buf = append(buf, trimmed)
		}
		flush()
	}

	doc := &entity.Document{
		ID:            docID,
		PatientID:     patientID,
		SourceFile:    sourceFile,
		ReportDate:    reportDate,
		LowConfidence: !sawHeader,
	}
	for _, r := range runs {
		if len(r.sentences) == 0 {
			continue
		}
		doc.Sections = append(doc.Sections, entity.Section{Kind: r.kind, Sentences: r.sentences})
	}
	return doc
}

var (
	reSoftWrap    = regexp.MustCompile(`([a-z,;])\n([a-z])`)
	reMultiSpace  = regexp.MustCompile(`[ \t]+`)
	reControlJunk = regexp.MustCompile(`[\x00-\x08\x0b\x0c\x0e-\x1f]`)
)

// cleanPage strips control characters, repairs mid-sentence line wraps and
// collapses repeated whitespace, keeping real line boundaries so header
// detection stays line-oriented.
func cleanPage(text string) string {
	text = reControlJunk.ReplaceAllString(text, "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	// hyphenated wrap: "recommen-\ndation" -> "recommendation"
	text = strings.ReplaceAll(text, "-\n", "")
	text = reSoftWrap.ReplaceAllString(text, "$1 $2")
	text = reMultiSpace.ReplaceAllString(text, " ")
	return text
}
