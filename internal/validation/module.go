// module.go validates module and language payloads. Lengths are counted in
// characters, not bytes.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/uilm/uilm-service/internal/db/models"
)

const (
	moduleNameMinLength   = 3
	moduleNameMaxLength   = 100
	languageNameMinLength = 2
	languageNameMaxLength = 100
)

// languageCodePattern matches codes such as "en-US" or "zho-CN"
var languageCodePattern = regexp.MustCompile(`^[a-z]{2,3}-[A-Z]{2}$`)

// ValidateModule checks a module payload
func ValidateModule(m *models.Module) Errors {
	var errs Errors
	if m == nil {
		errs.Add("Module", "Module is required.")
		return errs
	}

	name := strings.TrimSpace(m.Name)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		errs.Add("ModuleName", "Module name is required.")
	case n < moduleNameMinLength || n > moduleNameMaxLength:
		errs.Add("ModuleName", "Module name must be between 3 and 100 characters long.")
	}
	return errs
}

// ValidateLanguage checks a language payload
func ValidateLanguage(l *models.Language) Errors {
	var errs Errors
	if l == nil {
		errs.Add("Language", "Language is required.")
		return errs
	}

	name := strings.TrimSpace(l.DisplayName)
	switch n := utf8.RuneCountInString(name); {
	case n == 0:
		errs.Add("LanguageName", "Language name is required.")
	case n < languageNameMinLength || n > languageNameMaxLength:
		errs.Add("LanguageName", "Language name must be between 2 and 100 characters long.")
	}

	switch {
	case l.Code == "":
		errs.Add("LanguageCode", "Language code is required.")
	case !IsLanguageCode(l.Code):
		errs.Add("LanguageCode", "Language code must follow the format 'xx-XX' or 'xxx-XX' (e.g., 'en-US', 'zho-CN').")
	}
	return errs
}

// IsLanguageCode reports whether code has the xx-XX / xxx-XX shape
func IsLanguageCode(code string) bool {
	return languageCodePattern.MatchString(code)
}
