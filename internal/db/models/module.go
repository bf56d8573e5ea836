// Package models - module.go defines the Module and Language models that scope
// translation keys within a tenant.
package models

import "time"

// Module is a named grouping of translation keys inside a tenant
type Module struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"project_key" db:"tenant_id"`
	Name           string    `json:"name" db:"name"`
	CreateDate     time.Time `json:"create_date" db:"create_date"`
	LastUpdateDate time.Time `json:"last_update_date" db:"last_update_date"`
}

// Language is a culture configured for a tenant. At most one language per
// tenant carries IsDefault; the language service enforces it on write.
type Language struct {
	ID             string    `json:"id" db:"id"`
	TenantID       string    `json:"project_key" db:"tenant_id"`
	Code           string    `json:"code" db:"code"` // e.g. "en-US"
	DisplayName    string    `json:"display_name" db:"display_name"`
	IsDefault      bool      `json:"is_default" db:"is_default"`
	CreateDate     time.Time `json:"create_date" db:"create_date"`
	LastUpdateDate time.Time `json:"last_update_date" db:"last_update_date"`
}

// LanguageCodes returns the codes of the given languages in order
func LanguageCodes(langs []Language) []string {
	codes := make([]string, 0, len(langs))
	for _, l := range langs {
		codes = append(codes, l.Code)
	}
	return codes
}

// DefaultLanguage returns the code of the tenant's default language, or "" when
// none of the languages is flagged as default.
func DefaultLanguage(langs []Language) string {
	for _, l := range langs {
		if l.IsDefault {
			return l.Code
		}
	}
	return ""
}
