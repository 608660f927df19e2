package llm

// BuildFindingsJSONSchema returns a JSON-Schema (draft 2020-12 subset) for
// the expected model response: a strict array of finding objects. We pass
// it to the model as a structured-output constraint and also validate
// locally against it.
func BuildFindingsJSONSchema() map[string]any {
	item := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"patient_id":  map[string]any{"type": []string{"string", "null"}},
			"report_date": map[string]any{"type": []string{"string", "null"}, "pattern": `^\d{4}-\d{2}-\d{2}$`},
			"modality": map[string]any{
				"type": "string",
				"enum": []string{"CT", "XR", "MRI", "US", "NM", "Other"},
			},
			"body_part": map[string]any{"type": "string", "minLength": 1},
			"finding":   map[string]any{"type": "string", "minLength": 1, "maxLength": 180},
			"recommended_followup": map[string]any{"type": []string{"string", "null"}},
			"timeframe":            map[string]any{"type": []string{"string", "null"}},
			"priority": map[string]any{
				"type": "string",
				"enum": []string{"high", "medium", "low"},
			},
			"confidence": map[string]any{"type": "number", "minimum": 0.0, "maximum": 1.0},
		},
		"required": []string{"body_part", "finding"},
	}
	return map[string]any{
		"type":  "array",
		"items": item,
	}
}
