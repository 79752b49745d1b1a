package models

import "time"

// IssueCategory groups operational tickets.
type IssueCategory string

const (
	IssueEmergency   IssueCategory = "emergency"
	IssueMaintenance IssueCategory = "maintenance"
)

// IssueSeverity ranks tickets.
type IssueSeverity string

const (
	SeverityCritical IssueSeverity = "critical"
	SeverityMedium   IssueSeverity = "medium"
)

// IssueStatus tracks ticket progress.
type IssueStatus string

const (
	IssueOpen       IssueStatus = "open"
	IssueInProgress IssueStatus = "in_progress"
	IssueResolved   IssueStatus = "resolved"
)

// Issue is an operational ticket created by control actions.
type Issue struct {
	ID                  string        `db:"id" json:"id"`
	StationID           string        `db:"station_id" json:"station_id"`
	PostID              string        `db:"post_id" json:"post_id"`
	SlotID              string        `db:"slot_id" json:"slot_id"`
	BookingID           string        `db:"booking_id" json:"booking_id,omitempty"`
	CustomerID          string        `db:"customer_id" json:"customer_id,omitempty"`
	Category            IssueCategory `db:"category" json:"category"`
	Severity            IssueSeverity `db:"severity" json:"severity"`
	Status              IssueStatus   `db:"status" json:"status"`
	Title               string        `db:"title" json:"title"`
	Description         string        `db:"description" json:"description"`
	ReportedBy          string        `db:"reported_by" json:"reported_by"`
	EstimatedCompletion *time.Time    `db:"estimated_completion" json:"estimated_completion,omitempty"`
	CreatedAt           time.Time     `db:"created_at" json:"created_at"`
	ResolvedAt          *time.Time    `db:"resolved_at" json:"resolved_at,omitempty"`
}

// IssueFilter selects unresolved issues for resolution.
type IssueFilter struct {
	StationID string
	SlotID    string
	Category  IssueCategory
}

// Matches reports whether an unresolved issue falls under the filter.
func (f IssueFilter) Matches(issue Issue) bool {
	if issue.Status == IssueResolved {
		return false
	}
	if f.StationID != "" && issue.StationID != f.StationID {
		return false
	}
	if f.SlotID != "" && issue.SlotID != f.SlotID {
		return false
	}
	if f.Category != "" && issue.Category != f.Category {
		return false
	}
	return true
}
