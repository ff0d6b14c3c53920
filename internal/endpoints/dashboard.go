package endpoints

import "encoding/json"

// ProjectStatus is the project funnel. Missing counts decode as zero.
type ProjectStatus struct {
	Accepted  int `json:"accepted"`
	Completed int `json:"completed"`
	New       int `json:"new"`
}

// ProjectClient is the populated userId of a recent project.
type ProjectClient struct {
	ID        string `json:"_id,omitempty"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// RecentProject is one row of the recent-project feed.
type RecentProject struct {
	ID           string         `json:"_id"`
	ProjectCode  string         `json:"projectCode"`
	Client       *ProjectClient `json:"userId,omitempty"`
	TotalWithVat float64        `json:"totalWithVat"`
	Status       string         `json:"status"`
	CreatedAt    string         `json:"createdAt,omitempty"`
}

// Analytics endpoints all share TagAdminData.
var (
	GeneralStats          = noArgQuery[json.RawMessage]("generalStats", "/analytics/overview", []Tag{TagAdminData})
	ProjectStatusFunnel   = noArgQuery[ProjectStatus]("projectStatusFunnel", "/analytics/project-status", []Tag{TagAdminData})
	RecentProjects        = noArgQuery[[]RecentProject]("recentProject", "/analytics/recent-project", []Tag{TagAdminData})
	VendorsConversionData = noArgQuery[json.RawMessage]("vendorsConversionData", "/dashboard/vendor-order-conversion-rate", []Tag{TagAdminData})
)
