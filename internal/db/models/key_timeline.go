// Package models - key_timeline.go defines the append-only KeyTimeline entry
// recorded for every key mutation.
package models

import "time"

// TimelineOperation is the kind of mutation a timeline entry records
type TimelineOperation string

const (
	TimelineOperationCreate TimelineOperation = "Create"
	TimelineOperationUpdate TimelineOperation = "Update"
	TimelineOperationDelete TimelineOperation = "Delete"
)

// KeyTimeline is a write-once audit record of a key mutation. KeyID is a
// reference only; the entry outlives the key it describes.
type KeyTimeline struct {
	ID               string            `json:"id"`
	TenantID         string            `json:"project_key"`
	KeyID            string            `json:"key_id"`
	Operation        TimelineOperation `json:"operation"`
	PreviousSnapshot *Key              `json:"previous_snapshot,omitempty"` // nil on create
	NewSnapshot      *Key              `json:"new_snapshot,omitempty"`      // nil on delete
	Actor            *string           `json:"actor,omitempty"`
	Timestamp        time.Time         `json:"timestamp"`
}
