// culture.go normalises resource culture tags so "en-us", "EN_US" and "en-US"
// address the same resource.
package validation

import (
	"strings"

	"golang.org/x/text/language"
)

// CanonicalCulture fixes separator and letter case of a language-region tag
// ("EN_us" becomes "en-US"). Three-letter base codes are kept as written so
// "zho-CN" stays distinct from "zh-CN". Input whose base or region is not a
// known ISO code is returned trimmed and otherwise unchanged.
func CanonicalCulture(culture string) string {
	c := strings.TrimSpace(culture)
	parts := strings.FieldsFunc(c, func(r rune) bool { return r == '-' || r == '_' })
	if len(parts) == 0 || len(parts) > 2 {
		return c
	}

	base := strings.ToLower(parts[0])
	if _, err := language.ParseBase(base); err != nil {
		return c
	}
	if len(parts) == 1 {
		return base
	}

	region := strings.ToUpper(parts[1])
	if _, err := language.ParseRegion(region); err != nil {
		return c
	}
	return base + "-" + region
}
