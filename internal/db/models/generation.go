// Package models - generation.go defines the generation history, the generated
// UILM file records and the ModuleScope used to address one or all modules.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// ModuleScope selects either one module or every module of a tenant. The zero
// value is AllModules.
type ModuleScope struct {
	moduleID string
	specific bool
}

// Specific scopes an operation to a single module
func Specific(moduleID string) ModuleScope {
	return ModuleScope{moduleID: moduleID, specific: true}
}

// AllModules scopes an operation to every module of the tenant
func AllModules() ModuleScope {
	return ModuleScope{}
}

// IsAll reports whether the scope covers every module
func (s ModuleScope) IsAll() bool { return !s.specific }

// ModuleID returns the scoped module id and true for a Specific scope
func (s ModuleScope) ModuleID() (string, bool) {
	return s.moduleID, s.specific
}

func (s ModuleScope) String() string {
	if !s.specific {
		return "all"
	}
	return s.moduleID
}

// Value implements driver.Valuer; AllModules is stored as NULL
func (s ModuleScope) Value() (driver.Value, error) {
	if !s.specific {
		return nil, nil
	}
	return s.moduleID, nil
}

// Scan implements sql.Scanner
func (s *ModuleScope) Scan(src interface{}) error {
	switch v := src.(type) {
	case nil:
		*s = AllModules()
	case string:
		*s = Specific(v)
	case []byte:
		*s = Specific(string(v))
	default:
		return fmt.Errorf("unsupported module scope column type %T", src)
	}
	return nil
}

// MarshalJSON encodes AllModules as null and Specific as the module id
func (s ModuleScope) MarshalJSON() ([]byte, error) {
	if !s.specific {
		return []byte("null"), nil
	}
	return json.Marshal(s.moduleID)
}

// UnmarshalJSON accepts null, "" (both AllModules) or a module id
func (s *ModuleScope) UnmarshalJSON(data []byte) error {
	var id *string
	if err := json.Unmarshal(data, &id); err != nil {
		return err
	}
	if id == nil || *id == "" {
		*s = AllModules()
		return nil
	}
	*s = Specific(*id)
	return nil
}

// LanguageFileGenerationHistory records one completed generation run. Version
// increases by one per tenant and the row is never updated.
type LanguageFileGenerationHistory struct {
	ID         string      `json:"id" db:"id"`
	TenantID   string      `json:"project_key" db:"tenant_id"`
	Scope      ModuleScope `json:"module_id" db:"module_id"`
	Version    int         `json:"version" db:"version"`
	CreateDate time.Time   `json:"create_date" db:"create_date"`
}

// UilmFile is a generated per-language bundle for one module. The content lives
// in blob storage at Location.
type UilmFile struct {
	ID                string    `json:"id" db:"id"`
	TenantID          string    `json:"project_key" db:"tenant_id"`
	ModuleID          string    `json:"module_id" db:"module_id"`
	Language          string    `json:"language" db:"language"`
	Format            string    `json:"format" db:"format"`
	Location          string    `json:"location" db:"location"`
	StorageBackend    string    `json:"storage_backend" db:"storage_backend"`
	SizeBytes         int64     `json:"size_bytes" db:"size_bytes"`
	Checksum          string    `json:"checksum" db:"checksum"`
	GenerationVersion int       `json:"generation_version" db:"generation_version"`
	CreateDate        time.Time `json:"create_date" db:"create_date"`
}
