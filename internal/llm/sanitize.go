package llm

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/radfollowup/wrangler/constants"
)

// OutcomeStatus tags the result of decoding a model response.
type OutcomeStatus string

const (
	OutcomeValid   OutcomeStatus = "VALID"
	OutcomeCoerced OutcomeStatus = "COERCED"
	OutcomeFailed  OutcomeStatus = "FAILED"
)

// Outcome is the tagged result of validating and repairing a model
// response at the extraction boundary.
type Outcome struct {
	Status   OutcomeStatus
	Warnings []string
	Reason   string // set when Status == OutcomeFailed
}

var reArrayBlock = regexp.MustCompile(`(?s)\[.*\]`)

// ExtractJSONArray pulls the first JSON array out of a response that may
// be wrapped in prose or markdown fences. Returns the input unchanged if
// it already starts with '['.
func ExtractJSONArray(raw []byte) ([]byte, bool) {
	s := strings.TrimSpace(string(raw))
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "[") {
		return []byte(s), true
	}
	if m := reArrayBlock.FindString(s); m != "" {
		return []byte(m), true
	}
	return nil, false
}

// key synonyms the model habitually substitutes for the schema's names
var keySynonyms = map[string]string{
	"bodypart":       "body_part",
	"body_region":    "body_part",
	"anatomy":        "body_part",
	"followup":       "recommended_followup",
	"follow_up":      "recommended_followup",
	"recommendation": "recommended_followup",
	"time_frame":     "timeframe",
	"interval":       "timeframe",
	"urgency":        "priority",
	"score":          "confidence",
}

var allowedKeys = map[string]struct{}{
	"patient_id": {}, "report_date": {}, "modality": {}, "body_part": {},
	"finding": {}, "recommended_followup": {}, "timeframe": {},
	"priority": {}, "confidence": {},
}

// SanitizeFindings repairs a decoded-but-noncompliant findings array so it
// can pass schema validation: renames key synonyms, drops nulls and
// unknown keys, coerces confidence to a clamped number and priority to the
// lowercase enum, and trims strings. Repair is per item: an item with no
// finding text is dropped, a missing body_part falls back to the
// uncategorized bucket, and the surviving items are returned with a
// warning for each repair.
func SanitizeFindings(doc []byte, logger *slog.Logger) ([]byte, []string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var items []map[string]any
	if err := json.Unmarshal(doc, &items); err != nil {
		return nil, nil, fmt.Errorf("sanitize: decode: %w", err)
	}

	var warnings []string
	warn := func(format string, args ...any) {
		warnings = append(warnings, fmt.Sprintf(format, args...))
	}

	kept := items[:0]
	for i, m := range items {
		for from, to := range keySynonyms {
			if v, ok := m[from]; ok {
				if _, exists := m[to]; !exists {
					m[to] = v
				}
				delete(m, from)
				warn("item %d: %s->%s", i, from, to)
			}
		}
		for k, v := range m {
			if _, ok := allowedKeys[k]; !ok {
				delete(m, k)
				warn("item %d: %s(unknown)", i, k)
				continue
			}
			if v == nil && k != "patient_id" && k != "report_date" &&
				k != "recommended_followup" && k != "timeframe" {
				delete(m, k)
				warn("item %d: %s(null)", i, k)
			}
		}
		if v, ok := m["confidence"]; ok {
			switch t := v.(type) {
			case string:
				if f, err := strconv.ParseFloat(strings.TrimSpace(t), 64); err == nil {
					m["confidence"] = clamp01(f)
					warn("item %d: confidence(string)", i)
				} else {
					delete(m, "confidence")
					warn("item %d: confidence(unparseable)", i)
				}
			case float64:
				if t < 0 || t > 1 {
					m["confidence"] = clamp01(t)
					warn("item %d: confidence(clamped)", i)
				}
			default:
				delete(m, "confidence")
				warn("item %d: confidence(type)", i)
			}
		}
		if v, ok := m["priority"].(string); ok {
			p := strings.ToLower(strings.TrimSpace(v))
			switch p {
			case "high", "medium", "low":
				m["priority"] = p
			case "urgent", "stat", "critical":
				m["priority"] = "high"
				warn("item %d: priority(%s->high)", i, p)
			case "routine", "moderate":
				m["priority"] = "medium"
				warn("item %d: priority(%s->medium)", i, p)
			default:
				delete(m, "priority")
				warn("item %d: priority(unknown)", i)
			}
		}
		if v, ok := m["modality"].(string); ok {
			mod := strings.ToUpper(strings.TrimSpace(v))
			switch mod {
			case "CT", "XR", "MRI", "US", "NM":
				m["modality"] = mod
			case "OTHER", "":
				m["modality"] = "Other"
			default:
				m["modality"] = "Other"
				warn("item %d: modality(%s->Other)", i, v)
			}
		}
		for _, k := range []string{"patient_id", "report_date", "body_part", "finding", "recommended_followup", "timeframe"} {
			if v, ok := m[k].(string); ok {
				s := strings.TrimSpace(v)
				if s == "" || strings.EqualFold(s, "null") || s == "—" {
					delete(m, k)
					warn("item %d: %s(empty)", i, k)
				} else {
					m[k] = s
				}
			}
		}
		if v, ok := m["finding"].(string); ok {
			if r := []rune(v); len(r) > 180 {
				m["finding"] = strings.TrimSpace(string(r[:180]))
				warn("item %d: finding(truncated)", i)
			}
		}
		if _, ok := m["finding"].(string); !ok {
			warn("item %d: dropped(no finding)", i)
			continue
		}
		if _, ok := m["body_part"].(string); !ok {
			m["body_part"] = string(constants.Uncategorized)
			warn("item %d: body_part(sentinel)", i)
		}
		kept = append(kept, m)
	}

	out, err := json.Marshal(kept)
	if err != nil {
		return nil, warnings, fmt.Errorf("sanitize: encode: %w", err)
	}
	if len(warnings) > 0 {
		logger.Warn("llm.extract.sanitize", "warnings", len(warnings))
	}
	return out, warnings, nil
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
