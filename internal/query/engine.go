// Package query answers natural-language questions over the task store by
// translating intent into structured filters and aggregations.
package query

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/radfollowup/wrangler/constants"
	"github.com/radfollowup/wrangler/internal/common"
	"github.com/radfollowup/wrangler/internal/entity"
	"github.com/radfollowup/wrangler/internal/llm"
	"github.com/radfollowup/wrangler/internal/store"
)

// StructuredQuery is the literal filter/aggregation the engine executed,
// returned with every answer so callers can verify correctness.
type StructuredQuery struct {
	Filter    entity.TaskFilter `json:"filter"`
	BodyPart  string            `json:"body_part,omitempty"`
	CountOnly bool              `json:"count_only"`
	Overdue   bool              `json:"overdue"`
}

// Answer is the best-effort response: the executed query, the matching
// tasks, counts, and an optional model-phrased summary. Unsupported is
// set when no filter dimension could be recognized; the engine still
// returns the unfiltered result rather than an error.
type Answer struct {
	Question    string          `json:"question"`
	Query       StructuredQuery `json:"query"`
	Tasks       []*entity.Task  `json:"tasks,omitempty"`
	Count       int             `json:"count"`
	Summary     string          `json:"summary,omitempty"`
	Unsupported bool            `json:"unsupported,omitempty"`
}

// Engine translates questions with rule-based keyword mapping; the
// summarizer is optional and only phrases results, never filters them.
type Engine struct {
	Store      store.Store
	Summarizer llm.Summarizer
	Logger     *slog.Logger
	Now        func() time.Time // injectable for tests
}

func NewEngine(st store.Store, summarizer llm.Summarizer, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{Store: st, Summarizer: summarizer, Logger: logger, Now: time.Now}
}

// Answer executes the question. Translation failures degrade to a typed
// unsupported result; only store access errors propagate.
func (e *Engine) Answer(ctx context.Context, question string) (Answer, error) {
	sq, recognized := e.Translate(question)

	tasks, err := e.Store.List(ctx, sq.Filter)
	if err != nil {
		return Answer{}, err
	}
	if sq.BodyPart != "" {
		filtered := tasks[:0]
		for _, t := range tasks {
			if string(t.BodyPart) == sq.BodyPart {
				filtered = append(filtered, t)
			}
		}
		tasks = filtered
	}

	ans := Answer{
		Question:    question,
		Query:       sq,
		Count:       len(tasks),
		Unsupported: !recognized,
	}
	if !sq.CountOnly {
		ans.Tasks = tasks
	}

	if e.Summarizer != nil && len(tasks) > 0 {
		rows, _ := json.Marshal(tasks)
		summary, serr := e.Summarizer.Summarize(ctx, question, rows)
		if serr != nil {
			e.Logger.Warn("query.summarize_failed", "error", serr)
		} else {
			ans.Summary = summary
		}
	}

	if ans.Unsupported {
		e.Logger.Warn("query.unsupported", "question", question, "code", common.CodeQueryUnsupported)
	}
	e.Logger.Info("query.answered",
		"question", question,
		"count", ans.Count,
		"unsupported", ans.Unsupported,
	)
	return ans, nil
}

var (
	reNextWindow = regexp.MustCompile(`(?i)(?:next|within)\s+(\d+)\s*(day|week|month|year)s?`)
	rePatientID  = regexp.MustCompile(`(?i)patient\s+([A-Za-z0-9\-]+)`)
)

// Translate maps the question onto filter dimensions. It reports false
// when no dimension was recognized at all.
func (e *Engine) Translate(question string) (StructuredQuery, bool) {
	q := strings.ToLower(question)
	var sq StructuredQuery
	recognized := false

	for _, probe := range []struct {
		words   []string
		urgency constants.UrgencyClass
	}{
		{[]string{"critical", "stat"}, constants.UrgencyCritical},
		{[]string{"high priority", "high-priority", "high urgency", "urgent"}, constants.UrgencyHigh},
		{[]string{"routine"}, constants.UrgencyRoutine},
		{[]string{"incidental", "low priority", "low-priority"}, constants.UrgencyIncidentalLow},
	} {
		for _, w := range probe.words {
			if strings.Contains(q, w) {
				sq.Filter.Urgency = probe.urgency
				recognized = true
				break
			}
		}
		if sq.Filter.Urgency != "" {
			break
		}
	}

	switch {
	case strings.Contains(q, "still open"), strings.Contains(q, "open"),
		strings.Contains(q, "outstanding"), strings.Contains(q, "pending"),
		strings.Contains(q, "needs follow"), strings.Contains(q, "need follow"):
		sq.Filter.Status = constants.StatusOpen
		recognized = true
	case strings.Contains(q, "acknowledged"):
		sq.Filter.Status = constants.StatusAcknowledged
		recognized = true
	case strings.Contains(q, "closed"), strings.Contains(q, "resolved"), strings.Contains(q, "completed"):
		sq.Filter.Status = constants.StatusClosed
		recognized = true
	}

	// body part: longest matching vocabulary term or alias wins
	if bp, ok := matchBodyPart(q); ok {
		sq.BodyPart = bp
		recognized = true
	}

	if m := rePatientID.FindStringSubmatch(question); m != nil {
		sq.Filter.PatientID = m[1]
		recognized = true
	}

	now := e.Now().UTC()
	if m := reNextWindow.FindStringSubmatch(q); m != nil {
		n, _ := strconv.Atoi(m[1])
		end := addWindow(now, n, m[2])
		sq.Filter.DueBefore = &end
		recognized = true
	} else if strings.Contains(q, "overdue") {
		sq.Filter.DueBefore = &now
		sq.Overdue = true
		recognized = true
	}

	if strings.Contains(q, "how many") || strings.Contains(q, "count") || strings.Contains(q, "number of") {
		sq.CountOnly = true
		recognized = true
	}

	return sq, recognized
}

// matchBodyPart scans the question for vocabulary terms and their known
// phrasings, preferring the most specific (longest) hit.
func matchBodyPart(q string) (string, bool) {
	best := ""
	bestLen := 0
	for _, term := range constants.AllBodyParts() {
		if term == string(constants.Uncategorized) {
			continue
		}
		for _, probe := range []string{term, strings.ReplaceAll(term, "-", " ")} {
			if strings.Contains(q, probe) && len(probe) > bestLen {
				best, bestLen = term, len(probe)
			}
		}
	}
	// common phrasings that are aliases rather than canonical terms
	for probe, term := range map[string]constants.BodyPart{
		"nodule":          constants.PulmonaryNodule,
		"lung":            constants.Lung,
		"renal":           constants.Kidney,
		"hepatic":         constants.Liver,
		"aortic":          constants.Aorta,
		"lymphadenopathy": constants.LymphNode,
	} {
		if strings.Contains(q, probe) && len(probe) > bestLen {
			best, bestLen = string(term), len(probe)
		}
	}
	return best, best != ""
}

func addWindow(base time.Time, n int, unit string) time.Time {
	switch unit {
	case "day":
		return base.AddDate(0, 0, n)
	case "week":
		return base.AddDate(0, 0, 7*n)
	case "month":
		return base.AddDate(0, n, 0)
	default:
		return base.AddDate(n, 0, 0)
	}
}
