// Package models - key.go defines the Key model: a named translatable string with
// one resource value per culture, plus the JSONB codec used to persist resources.
package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq"
)

// Resource is the value of a key for a single culture
type Resource struct {
	Culture string `json:"culture"`
	Value   string `json:"value"`
}

// Resources is the ordered set of per-culture values of a key. It is stored as a
// JSONB array so the caller's ordering survives a round trip.
type Resources []Resource

// Value implements driver.Valuer
func (r Resources) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r)
}

// Scan implements sql.Scanner
func (r *Resources) Scan(src interface{}) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		*r = Resources{}
		return nil
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported resources column type %T", src)
	}
	var out Resources
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Errorf("failed to decode resources: %w", err)
	}
	*r = out
	return nil
}

// Lookup returns the non-empty value stored for culture
func (r Resources) Lookup(culture string) (string, bool) {
	for _, res := range r {
		if res.Culture == culture && res.Value != "" {
			return res.Value, true
		}
	}
	return "", false
}

// Key is a translation key inside a module
type Key struct {
	ID                    string         `json:"id" db:"id"`
	TenantID              string         `json:"project_key" db:"tenant_id"`
	ModuleID              string         `json:"module_id" db:"module_id"`
	KeyName               string         `json:"key_name" db:"key_name"`
	Resources             Resources      `json:"resources" db:"resources"`
	Routes                pq.StringArray `json:"routes" db:"routes"`
	IsPartiallyTranslated bool           `json:"is_partially_translated" db:"is_partially_translated"`
	ShouldPublish         bool           `json:"should_publish" db:"should_publish"`
	CreateDate            time.Time      `json:"create_date" db:"create_date"`
	LastUpdateDate        time.Time      `json:"last_update_date" db:"last_update_date"`
	CreatedBy             *string        `json:"created_by,omitempty" db:"created_by"`
	LastUpdatedBy         *string        `json:"last_updated_by,omitempty" db:"last_updated_by"`
}

// CoversLanguages reports whether the key has a non-empty resource for every
// language code given. A key is partially translated when it does not.
func (k *Key) CoversLanguages(codes []string) bool {
	for _, code := range codes {
		if _, ok := k.Resources.Lookup(code); !ok {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the key, used for timeline snapshots. The copy
// always has non-nil Resources and Routes.
func (k *Key) Clone() *Key {
	if k == nil {
		return nil
	}
	out := *k
	out.Resources = append(Resources{}, k.Resources...)
	out.Routes = append(pq.StringArray{}, k.Routes...)
	return &out
}
