package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
)

// DecodeFindings runs the full repair ladder on a raw model response:
//
//  1. locate the JSON array (the model sometimes wraps it in prose),
//  2. validate strictly against the schema,
//  3. on failure, sanitize item by item (synonyms, nulls, types,
//     required-field salvage) and re-validate,
//  4. unmarshal and coerce per-item sentinels for missing optionals.
//
// The returned Outcome is the tagged variant the pipeline records:
// Valid, Coerced (with warnings) or Failed (with reason). Findings are
// only nil when the outcome is Failed.
func DecodeFindings(raw []byte, logger *slog.Logger) ([]FindingFields, Outcome) {
	if logger == nil {
		logger = slog.Default()
	}
	schema := BuildFindingsJSONSchema()

	body, ok := ExtractJSONArray(raw)
	if !ok {
		return nil, Outcome{Status: OutcomeFailed, Reason: "no JSON array in response"}
	}

	var warnings []string
	if err := ValidateJSONAgainstSchema(schema, body); err != nil {
		cleaned, sanWarnings, sErr := SanitizeFindings(body, logger)
		if sErr != nil {
			return nil, Outcome{Status: OutcomeFailed, Reason: fmt.Sprintf("unparseable response: %v", sErr)}
		}
		if vErr := ValidateJSONAgainstSchema(schema, cleaned); vErr != nil {
			return nil, Outcome{Status: OutcomeFailed, Reason: fmt.Sprintf("schema validation failed after sanitize: %v", vErr)}
		}
		body = cleaned
		warnings = append(warnings, sanWarnings...)
	}

	var items []FindingFields
	if err := json.Unmarshal(body, &items); err != nil {
		return nil, Outcome{Status: OutcomeFailed, Reason: fmt.Sprintf("unmarshal findings: %v", err)}
	}

	// Sentinel coercion: missing or zero confidence gets the explicit
	// minimum rather than being silently dropped.
	for i := range items {
		if items[i].Confidence <= 0 {
			items[i].Confidence = MinConfidenceSentinel
			warnings = append(warnings, fmt.Sprintf("item %d: confidence(sentinel)", i))
		}
		if items[i].Priority == "" {
			items[i].Priority = "low"
			warnings = append(warnings, fmt.Sprintf("item %d: priority(sentinel)", i))
		}
	}

	if len(warnings) > 0 {
		return items, Outcome{Status: OutcomeCoerced, Warnings: warnings}
	}
	return items, Outcome{Status: OutcomeValid}
}

// MinConfidenceSentinel is assigned when the model omits its confidence
// self-estimate. Kept deliberately low so such findings surface as
// needing review instead of looking trustworthy.
const MinConfidenceSentinel = 0.05
