package models

// KPI is a headline metric computed on demand from current datasets.
type KPI struct {
	Name  string   `json:"name"`
	Value string   `json:"value"`
	Delta *float64 `json:"delta,omitempty"`
	Text  string   `json:"text"`
}

// ActionItem is a role-specific briefing entry.
type ActionItem struct {
	Title   string `json:"title"`
	Details string `json:"details"`
	Link    string `json:"link,omitempty"`
}

// RoleDTELeadership receives deviation follow-up action items.
const RoleDTELeadership = "DTE Leadership"
