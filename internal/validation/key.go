// key.go validates translation key payloads before any write is attempted.
package validation

import (
	"strings"

	"github.com/uilm/uilm-service/internal/db/models"
)

// ValidateKey checks a key payload. It does not consult storage.
func ValidateKey(k *models.Key) Errors {
	var errs Errors
	if k == nil {
		errs.Add("Key", "Key is required.")
		return errs
	}

	if strings.TrimSpace(k.KeyName) == "" {
		errs.Add("KeyName", "Key name is required.")
	}
	if strings.TrimSpace(k.ModuleID) == "" {
		errs.Add("ModuleId", "Module id is required.")
	}

	seen := make(map[string]bool, len(k.Resources))
	for _, r := range k.Resources {
		if strings.TrimSpace(r.Culture) == "" {
			errs.Add("Resources", "Resource culture is required.")
			continue
		}
		if seen[r.Culture] {
			errs.Add("Resources", "Duplicate resource culture '"+r.Culture+"'.")
		}
		seen[r.Culture] = true
	}

	return errs
}
