package llm

import (
	"encoding/json"
	"strings"
)

const maxSectionChars = 8000

// BuildSystemPrompt composes the extraction system message: strict JSON
// array output, the exact key set, and the clinical extraction rules.
func BuildSystemPrompt() string {
	parts := []string{
		"You are a clinical extraction assistant.",
		"From the SECTION_TEXT of a radiology report, extract only incidental findings and explicit follow-up recommendations.",
		"Return a STRICT JSON array; item keys exactly:",
		`patient_id (string or null), report_date (YYYY-MM-DD or null), modality (CT|XR|MRI|US|NM|Other), body_part (string), finding (concise, <=180 chars), recommended_followup (verbatim or null), timeframe (e.g. '3-6 months' or 'in 6 months', or null), priority (high|medium|low), confidence (0.0-1.0).`,
		"Do NOT invent follow-ups; if none is present, set recommended_followup and timeframe to null.",
		"priority is high if the wording includes 'urgent', 'immediate', 'ASAP', 'STAT', 'concerning', or a critical alert.",
		"JSON only. No prose.",
	}
	return strings.Join(parts, " ")
}

// BuildUserPrompt packages the section-scoped text plus report hints.
func BuildUserPrompt(req ExtractRequest) string {
	var b strings.Builder
	b.WriteString("SECTION: ")
	b.WriteString(string(req.SectionKind))
	b.WriteString("\n")
	if req.PatientID != "" {
		b.WriteString("PATIENT_ID: ")
		b.WriteString(req.PatientID)
		b.WriteString("\n")
	}
	if req.ReportDate != "" {
		b.WriteString("REPORT_DATE: ")
		b.WriteString(req.ReportDate)
		b.WriteString("\n")
	}
	b.WriteString("\nSECTION_TEXT:\n")
	text := req.SectionText
	if len(text) > maxSectionChars {
		text = text[:maxSectionChars]
	}
	b.WriteString(text)
	return b.String()
}

// BuildSelfCheckPrompt composes the second-pass validation message: the
// model re-reads its candidate items against the section text, removes
// items without clear textual evidence, normalizes dates, and demotes
// priority when confidence is low.
func BuildSelfCheckPrompt(items []FindingFields, sectionText string) string {
	enc, _ := json.Marshal(items)
	parts := []string{
		"Validate and normalize the CANDIDATE_JSON list against SECTION_TEXT:",
		"- Remove items without clear textual evidence.",
		"- Normalize dates to YYYY-MM-DD.",
		"- If confidence < 0.5, set priority to low.",
		"Output a STRICT JSON array with the same keys. No prose.",
	}
	text := sectionText
	if len(text) > maxSectionChars {
		text = text[:maxSectionChars]
	}
	return strings.Join(parts, "\n") +
		"\n---\nSECTION_TEXT:\n" + text +
		"\n---\nCANDIDATE_JSON:\n" + string(enc)
}

// BuildSummaryPrompt composes the query-engine summary message: answer
// strictly from the structured context, citing sources where possible.
func BuildSummaryPrompt(question string, contextJSON []byte) string {
	parts := []string{
		"You answer questions ONLY using the provided CONTEXT (structured follow-up task rows).",
		"If a fact is not present, say you cannot find it. Prefer citing source file and page.",
		"Return concise, actionable answers for clinicians.",
	}
	ctx := contextJSON
	if len(ctx) > 12000 {
		ctx = ctx[:12000]
	}
	return strings.Join(parts, " ") +
		"\n\nCONTEXT TASK_ROWS (JSON):\n" + string(ctx) +
		"\n\nUSER QUESTION:\n" + question
}
