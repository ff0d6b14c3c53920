// Package views shapes query results into the rows and series the dashboard
// tables and charts render.
package views

import (
	"strings"

	"github.com/l0p7/admindata/internal/endpoints"
)

// CategoryRow is one row of the category table.
type CategoryRow struct {
	Key   string `json:"key"`
	Name  string `json:"name"`
	Image string `json:"image"`
}

// CategoryRows returns one row per category, in backend order.
func CategoryRows(categories []endpoints.Category) []CategoryRow {
	rows := make([]CategoryRow, 0, len(categories))
	for _, c := range categories {
		rows = append(rows, CategoryRow{Key: c.ID, Name: c.Name, Image: c.Image})
	}
	return rows
}

// Slice is one segment of the project status chart.
type Slice struct {
	Name  string `json:"name"`
	Value int    `json:"value"`
	Fill  string `json:"fill"`
}

// ProjectStatusChart always yields the three funnel segments; a nil status
// renders as all zeroes.
func ProjectStatusChart(status *endpoints.ProjectStatus) []Slice {
	var s endpoints.ProjectStatus
	if status != nil {
		s = *status
	}
	return []Slice{
		{Name: "Accepted", Value: s.Accepted, Fill: "#14b8a6"},
		{Name: "Completed", Value: s.Completed, Fill: "#3b82f6"},
		{Name: "New Inquiry", Value: s.New, Fill: "#f59e0b"},
	}
}

// RecentProjectRow is one row of the recent project table.
type RecentProjectRow struct {
	Key             string  `json:"key"`
	ProjectID       string  `json:"projectId"`
	ClientName      string  `json:"clientName"`
	Artisan         string  `json:"artisan"`
	EstimatedAmount float64 `json:"estimatedAmount"`
	Status          string  `json:"status"`
	CreatedAt       *string `json:"createdAt"`
}

// RecentProjectRows maps the recent-project feed. The backend never assigns
// an artisan, so Artisan stays empty.
func RecentProjectRows(projects []endpoints.RecentProject) []RecentProjectRow {
	rows := make([]RecentProjectRow, 0, len(projects))
	for _, p := range projects {
		row := RecentProjectRow{
			Key:             p.ID,
			ProjectID:       p.ProjectCode,
			EstimatedAmount: p.TotalWithVat,
			Status:          strings.ToLower(p.Status),
		}
		if p.Client != nil {
			row.ClientName = strings.TrimSpace(p.Client.FirstName + " " + p.Client.LastName)
		}
		if p.CreatedAt != "" {
			createdAt := p.CreatedAt
			row.CreatedAt = &createdAt
		}
		rows = append(rows, row)
	}
	return rows
}
