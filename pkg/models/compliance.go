package models

import "time"

// SubsystemUsage is a per-subsystem usage breakdown row.
type SubsystemUsage struct {
	Subsystem     string `json:"subsystem"`
	Count         int64  `json:"count"`
	EnhancedCount int64  `json:"enhancedCount"`
}

// DayAccess aggregates access attempts for a single calendar day.
type DayAccess struct {
	Day        string `json:"day"`
	Count      int64  `json:"count"`
	Authorized int64  `json:"authorized"`
}

// ComplianceSnapshot is a derived, on-demand projection over the audit
// trail for a time range. It is never persisted.
type ComplianceSnapshot struct {
	WindowStart   time.Time        `json:"windowStart"`
	WindowEnd     time.Time        `json:"windowEnd"`
	TotalAccesses int64            `json:"totalAccesses"`
	Authorized    int64            `json:"authorized"`
	Unauthorized  int64            `json:"unauthorized"`
	Score         float64          `json:"score"`
	Subsystems    []SubsystemUsage `json:"subsystems"`
}

// ComplianceExport is the per-day and per-subsystem export view.
type ComplianceExport struct {
	StartDate  string           `json:"startDate"`
	EndDate    string           `json:"endDate"`
	Days       []DayAccess      `json:"days"`
	Subsystems []SubsystemUsage `json:"subsystems"`
}
