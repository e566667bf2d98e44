package models

import (
	"fmt"
	"time"
)

// ============================================================================
// Deviation Status
// ============================================================================

// DeviationStatus is the lifecycle state of a deviation.
// State machine (strictly linear, no skipping, no going back):
//
//	Open → In Progress → Under Review → Closed
type DeviationStatus string

const (
	DeviationStatusOpen        DeviationStatus = "Open"
	DeviationStatusInProgress  DeviationStatus = "In Progress"
	DeviationStatusUnderReview DeviationStatus = "Under Review"
	DeviationStatusClosed      DeviationStatus = "Closed"
)

// DeviationWorkflow is the ordered list of states a deviation moves through.
// The first entry is the initial state and the last entry is terminal.
type DeviationWorkflow []DeviationStatus

// DefaultDeviationWorkflow is the Kanban order used by the deviation hub.
var DefaultDeviationWorkflow = DeviationWorkflow{
	DeviationStatusOpen,
	DeviationStatusInProgress,
	DeviationStatusUnderReview,
	DeviationStatusClosed,
}

// Validate checks the workflow has at least two distinct, non-empty states.
func (w DeviationWorkflow) Validate() error {
	if len(w) < 2 {
		return fmt.Errorf("deviation workflow needs at least 2 states, got %d", len(w))
	}
	seen := make(map[DeviationStatus]bool, len(w))
	for _, s := range w {
		if s == "" {
			return fmt.Errorf("deviation workflow contains an empty state")
		}
		if seen[s] {
			return fmt.Errorf("deviation workflow state %q listed twice", s)
		}
		seen[s] = true
	}
	return nil
}

// Initial returns the state new deviations start in.
func (w DeviationWorkflow) Initial() DeviationStatus {
	return w[0]
}

// Contains reports whether s is a state of this workflow.
func (w DeviationWorkflow) Contains(s DeviationStatus) bool {
	return w.index(s) >= 0
}

// IsTerminal reports whether s is the final state.
func (w DeviationWorkflow) IsTerminal(s DeviationStatus) bool {
	return len(w) > 0 && w[len(w)-1] == s
}

// Next returns the state following s. ok is false when s is terminal or unknown.
func (w DeviationWorkflow) Next(s DeviationStatus) (next DeviationStatus, ok bool) {
	i := w.index(s)
	if i < 0 || i == len(w)-1 {
		return "", false
	}
	return w[i+1], true
}

func (w DeviationWorkflow) index(s DeviationStatus) int {
	for i, v := range w {
		if v == s {
			return i
		}
	}
	return -1
}

// ============================================================================
// Deviation Priority
// ============================================================================

// DeviationPriority ranks how urgently a deviation needs investigation.
type DeviationPriority string

const (
	DeviationPriorityHigh   DeviationPriority = "High"
	DeviationPriorityMedium DeviationPriority = "Medium"
	DeviationPriorityLow    DeviationPriority = "Low"
)

// IsValid returns true for the three known priorities.
func (p DeviationPriority) IsValid() bool {
	switch p {
	case DeviationPriorityHigh, DeviationPriorityMedium, DeviationPriorityLow:
		return true
	default:
		return false
	}
}

// ============================================================================
// Deviation
// ============================================================================

// RCA holds root cause analysis notes.
type RCA struct {
	Problem  string `json:"problem"`
	FiveWhys string `json:"five_whys"`
}

// CAPA holds the corrective and preventive action plan.
type CAPA struct {
	Corrective string `json:"corrective"`
	Preventive string `json:"preventive"`
}

// Deviation is a tracked quality event. Status only changes through the
// deviation service's Advance; deviations are never deleted.
type Deviation struct {
	ID           string            `json:"id"`
	Status       DeviationStatus   `json:"status"`
	Title        string            `json:"title"`
	Priority     DeviationPriority `json:"priority"`
	LinkedRecord string            `json:"linked_record"`
	RCA          RCA               `json:"rca"`
	CAPA         CAPA              `json:"capa"`
	CreatedBy    string            `json:"created_by"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
}

// Clone returns a copy safe to hand to callers.
func (d *Deviation) Clone() *Deviation {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}
