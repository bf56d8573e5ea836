// Package models - migration.go defines the tracker row written for each
// environment data migration run.
package models

import "time"

// Migration run statuses
const (
	MigrationStatusRunning   = "running"
	MigrationStatusSucceeded = "succeeded"
	MigrationStatusFailed    = "failed"
)

// EnvironmentMigration tracks a copy of modules and keys from one tenant to another
type EnvironmentMigration struct {
	ID           string `json:"id" db:"id"`
	SourceTenant string `json:"project_key" db:"source_tenant"`
	TargetTenant string `json:"targeted_project_key" db:"target_tenant"`
	Overwrite    bool   `json:"should_overwrite_existing_data" db:"overwrite"`
	Status       string `json:"status" db:"status"`
	MigrationCounts
	ErrorMessage *string    `json:"error_message,omitempty" db:"error_message"`
	StartedAt    time.Time  `json:"started_at" db:"started_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// MigrationCounts summarises what a run did to the target tenant.
//
// A source row is remapped when the target already holds a row with the same
// name (module) or the same module and key name (key) under another id; the
// source row then takes the target id and its keys follow it. A source row is
// skipped when it cannot be written without breaking the target's uniqueness,
// and a skipped module takes its keys with it.
type MigrationCounts struct {
	ModulesCopied   int `json:"modules_copied" db:"modules_copied"`
	KeysCopied      int `json:"keys_copied" db:"keys_copied"`
	ModulesRemapped int `json:"modules_remapped" db:"modules_remapped"`
	KeysRemapped    int `json:"keys_remapped" db:"keys_remapped"`
	ModulesSkipped  int `json:"modules_skipped" db:"modules_skipped"`
	KeysSkipped     int `json:"keys_skipped" db:"keys_skipped"`
}
