package export

import (
	"context"
	"time"

	"github.com/radfollowup/wrangler/internal/entity"
)

// DashboardStats is the aggregation exposed to dashboard collaborators:
// totals, the due-soon window, and breakdowns by urgency and modality.
type DashboardStats struct {
	TotalTasks  int            `json:"total_tasks"`
	DueWithin30 int            `json:"due_within_30"`
	ByUrgency   map[string]int `json:"by_urgency"`
	ByModality  map[string]int `json:"by_modality"`
	ByStatus    map[string]int `json:"by_status"`
}

// Dashboard aggregates over the whole store. The due-soon window counts
// tasks due between 365 days ago and 30 days ahead, so recently lapsed
// follow-ups stay visible.
func (s *Service) Dashboard(ctx context.Context) (DashboardStats, error) {
	tasks, err := s.store.List(ctx, entity.TaskFilter{})
	if err != nil {
		return DashboardStats{}, err
	}

	stats := DashboardStats{
		ByUrgency:  map[string]int{},
		ByModality: map[string]int{},
		ByStatus:   map[string]int{},
	}
	now := time.Now().UTC()
	lo := now.AddDate(0, 0, -365)
	hi := now.AddDate(0, 0, 30)
	for _, t := range tasks {
		stats.TotalTasks++
		stats.ByUrgency[string(t.Urgency)]++
		stats.ByModality[string(t.Modality)]++
		stats.ByStatus[string(t.Status)]++
		if t.DueEarliest != nil && !t.DueEarliest.Before(lo) && !t.DueEarliest.After(hi) {
			stats.DueWithin30++
		}
	}
	return stats, nil
}
