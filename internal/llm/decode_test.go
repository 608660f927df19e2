package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestExtractJSONArray(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
		want string
	}{
		{"bare array", `[{"finding":"x"}]`, true, `[{"finding":"x"}]`},
		{"fenced", "```json\n[{\"finding\":\"x\"}]\n```", true, `[{"finding":"x"}]`},
		{"wrapped in prose", `Here are the findings: [{"finding":"x"}] Let me know!`, true, `[{"finding":"x"}]`},
		{"no array", "I could not find any structured findings.", false, ""},
		{"object only", `{"finding":"x"}`, false, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := ExtractJSONArray([]byte(tc.in))
			if ok != tc.ok {
				t.Fatalf("ok = %v, want %v", ok, tc.ok)
			}
			if ok && string(got) != tc.want {
				t.Fatalf("got %q, want %q", got, tc.want)
			}
		})
	}
}

func TestDecodeFindingsValid(t *testing.T) {
	raw := `[{"body_part":"liver","finding":"hypodense lesion","modality":"CT","priority":"medium","confidence":0.8}]`
	items, outcome := DecodeFindings([]byte(raw), nil)
	if outcome.Status != OutcomeValid {
		t.Fatalf("status = %s (%s), want %s", outcome.Status, outcome.Reason, OutcomeValid)
	}
	if len(items) != 1 || items[0].BodyPart != "liver" || items[0].Confidence != 0.8 {
		t.Fatalf("items = %+v", items)
	}
}

func TestDecodeFindingsRepairsSynonymsAndTypes(t *testing.T) {
	raw := "```json\n" + `[
	  {"bodypart":"liver","finding":"hypodense lesion","urgency":"URGENT","confidence":"0.8","extra_note":"ignore me"},
	  {"body_part":"lung","finding":"nodule","followup":"repeat CT","time_frame":"in 6 months","confidence":1.7}
	]` + "\n```"
	items, outcome := DecodeFindings([]byte(raw), nil)
	if outcome.Status != OutcomeCoerced {
		t.Fatalf("status = %s (%s), want %s", outcome.Status, outcome.Reason, OutcomeCoerced)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2", len(items))
	}
	if items[0].BodyPart != "liver" || items[0].Priority != "high" || items[0].Confidence != 0.8 {
		t.Fatalf("item 0 = %+v", items[0])
	}
	if items[1].RecommendedFollowup != "repeat CT" || items[1].Timeframe != "in 6 months" {
		t.Fatalf("item 1 = %+v", items[1])
	}
	if items[1].Confidence != 1.0 {
		t.Fatalf("confidence = %v, want clamped 1.0", items[1].Confidence)
	}
}

func TestDecodeFindingsSentinelCoercion(t *testing.T) {
	raw := `[{"body_part":"liver","finding":"lesion"}]`
	items, outcome := DecodeFindings([]byte(raw), nil)
	if outcome.Status != OutcomeCoerced {
		t.Fatalf("status = %s, want %s", outcome.Status, OutcomeCoerced)
	}
	if items[0].Confidence != MinConfidenceSentinel {
		t.Fatalf("confidence = %v, want sentinel %v", items[0].Confidence, MinConfidenceSentinel)
	}
	if items[0].Priority != "low" {
		t.Fatalf("priority = %q, want sentinel low", items[0].Priority)
	}
}

func TestDecodeFindingsSalvagesValidSiblings(t *testing.T) {
	raw := `[
	  {"body_part":"lung","finding":"3mm pulmonary nodule","modality":"CT","priority":"low","confidence":0.9},
	  {"finding":"renal cyst noted","modality":"CT","priority":"low","confidence":0.7},
	  {"body_part":"liver","modality":"CT","priority":"low","confidence":0.6}
	]`
	items, outcome := DecodeFindings([]byte(raw), nil)
	if outcome.Status != OutcomeCoerced {
		t.Fatalf("status = %s (%s), want %s", outcome.Status, outcome.Reason, OutcomeCoerced)
	}
	if len(items) != 2 {
		t.Fatalf("items = %d, want 2 (valid item plus salvaged item)", len(items))
	}
	if items[0].BodyPart != "lung" || items[0].Finding != "3mm pulmonary nodule" {
		t.Fatalf("item 0 = %+v, valid item lost", items[0])
	}
	if items[1].BodyPart != "uncategorized" || items[1].Finding != "renal cyst noted" {
		t.Fatalf("item 1 = %+v, want uncategorized sentinel", items[1])
	}
}

func TestDecodeFindingsDropsItemsWithoutFinding(t *testing.T) {
	items, outcome := DecodeFindings([]byte(`[{"body_part":"liver"}]`), nil)
	if outcome.Status != OutcomeCoerced {
		t.Fatalf("status = %s (%s), want %s", outcome.Status, outcome.Reason, OutcomeCoerced)
	}
	if len(items) != 0 {
		t.Fatalf("items = %+v, want none", items)
	}
	if len(outcome.Warnings) == 0 {
		t.Fatal("expected a drop warning")
	}
}

func TestDecodeFindingsFailures(t *testing.T) {
	cases := []struct {
		name string
		raw  string
	}{
		{"prose only", "The report mentions no actionable findings."},
		{"array of strings", `["liver lesion"]`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			items, outcome := DecodeFindings([]byte(tc.raw), nil)
			if outcome.Status != OutcomeFailed {
				t.Fatalf("status = %s, want %s", outcome.Status, OutcomeFailed)
			}
			if items != nil {
				t.Fatalf("items = %+v, want nil on failure", items)
			}
			if outcome.Reason == "" {
				t.Fatal("failed outcome missing reason")
			}
		})
	}
}

func TestDecodeFindingsEmptyArray(t *testing.T) {
	items, outcome := DecodeFindings([]byte("[]"), nil)
	if outcome.Status != OutcomeValid {
		t.Fatalf("status = %s (%s), want %s", outcome.Status, outcome.Reason, OutcomeValid)
	}
	if len(items) != 0 {
		t.Fatalf("items = %d, want 0", len(items))
	}
}

func TestSanitizeFindingsTruncatesLongFinding(t *testing.T) {
	long := strings.Repeat("a very long finding ", 20)
	doc, _ := json.Marshal([]map[string]any{{"body_part": "liver", "finding": long, "confidence": 0.5}})
	out, warnings, err := SanitizeFindings(doc, nil)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	var items []FindingFields
	if err := json.Unmarshal(out, &items); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if n := len([]rune(items[0].Finding)); n > 180 {
		t.Fatalf("finding length = %d, want <= 180", n)
	}
	if len(warnings) == 0 {
		t.Fatal("expected a truncation warning")
	}
}

func TestBuildUserPromptCapsSectionText(t *testing.T) {
	req := ExtractRequest{
		SectionKind: "FINDINGS",
		SectionText: strings.Repeat("x", 20000),
		PatientID:   "P1",
	}
	p := BuildUserPrompt(req)
	if len(p) > 10000 {
		t.Fatalf("prompt length = %d, cap not applied", len(p))
	}
}
