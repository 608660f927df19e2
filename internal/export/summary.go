package export

import (
	"fmt"
	"strings"

	"github.com/radfollowup/wrangler/internal/entity"
)

// SummaryMarkdown renders a clinician-readable digest of the tasks
// produced for one source document.
func SummaryMarkdown(sourceFile string, tasks []*entity.Task) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# Summary for %s\n\n", sourceFile)
	if len(tasks) == 0 {
		b.WriteString("_No incidental findings with follow-up found._\n")
		return b.String()
	}
	for _, t := range tasks {
		page := 0
		if len(t.Provenance) > 0 {
			page = t.Provenance[0].Page
		}
		fmt.Fprintf(&b, "- **Page %d (%s • %s)**: %s\n", page, t.Modality, t.BodyPart, t.Finding)
		action := t.RecommendedAction
		if action == "" {
			action = "—"
		}
		fmt.Fprintf(&b, "  - Follow-up: %s\n", action)
		due := "—"
		if t.DueEarliest != nil {
			due = t.DueEarliest.Format("2006-01-02")
			if t.DueLatest != nil && !t.DueLatest.Equal(*t.DueEarliest) {
				due += " to " + t.DueLatest.Format("2006-01-02")
			}
		}
		fmt.Fprintf(&b, "  - Due: %s  •  Urgency: %s  •  Risk: %.2f\n", due, t.Urgency, t.RiskScore)
	}
	return b.String()
}
