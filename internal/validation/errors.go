// errors.go defines the field-keyed violation list returned by every validator in
// this package. Validators never return a Go error; an empty list means valid.
package validation

import "strings"

// FieldError is a single violation attached to a payload field
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is an ordered list of field violations
type Errors []FieldError

// Add appends a violation
func (e *Errors) Add(field, message string) {
	*e = append(*e, FieldError{Field: field, Message: message})
}

// Valid reports whether no violation was recorded
func (e Errors) Valid() bool { return len(e) == 0 }

// Has reports whether a violation was recorded for field
func (e Errors) Has(field string) bool {
	for _, fe := range e {
		if fe.Field == field {
			return true
		}
	}
	return false
}

// Error joins all messages; it lets Errors be logged or wrapped where a plain
// error is expected
func (e Errors) Error() string {
	msgs := make([]string, 0, len(e))
	for _, fe := range e {
		msgs = append(msgs, fe.Field+": "+fe.Message)
	}
	return strings.Join(msgs, "; ")
}

// ToMap groups messages by field for JSON responses
func (e Errors) ToMap() map[string][]string {
	out := make(map[string][]string, len(e))
	for _, fe := range e {
		out[fe.Field] = append(out[fe.Field], fe.Message)
	}
	return out
}
