// Package change holds the change-management record model shared by the
// data source and the report renderer.
package change

import (
	"fmt"
	"time"
)

// Priority is the change priority as stored in the record store. The report
// query only ever returns Critical and High entries; anything else in a
// result set indicates a broken query contract.
type Priority string

const (
	PriorityCritical Priority = "Critical"
	PriorityHigh     Priority = "High"
)

// Rank returns the sort rank of a priority (Critical before High). Unknown
// priorities sort last.
func (p Priority) Rank() int {
	switch p {
	case PriorityCritical:
		return 1
	case PriorityHigh:
		return 2
	default:
		return 3
	}
}

// ParsePriority validates a raw priority value from the record store.
func ParsePriority(s string) (Priority, error) {
	switch Priority(s) {
	case PriorityCritical, PriorityHigh:
		return Priority(s), nil
	default:
		return "", fmt.Errorf("unexpected priority %q in result set", s)
	}
}

// Record is one change-management entry to report. Records are projections of
// rows returned by the data source for a single report cycle and are never
// mutated after construction.
//
// ActualStart and ActualEnd use the zero time.Time as the "not set" sentinel;
// the renderer turns that into an explicit placeholder, nothing else branches
// on it.
type Record struct {
	ID                string
	Priority          Priority
	Type              string
	ConfigurationItem string
	ShortDescription  string
	AssignmentGroup   string
	AssignedTo        string
	ActualStart       time.Time
	ActualEnd         time.Time
}

// StartSet reports whether the actual start date was present in the store.
func (r Record) StartSet() bool { return !r.ActualStart.IsZero() }

// EndSet reports whether the actual end date was present in the store.
func (r Record) EndSet() bool { return !r.ActualEnd.IsZero() }
