package domain

import (
	"regexp"
	"strings"
)

// Record is one CSV row as an ordered column -> value mapping.
// Keys keep their original casing; lookups are case-insensitive.
type Record struct {
	Columns []string          `json:"columns"`
	Values  map[string]string `json:"values"`
}

func NewRecord(columns []string, values map[string]string) Record {
	if values == nil {
		values = make(map[string]string)
	}
	return Record{Columns: columns, Values: values}
}

// Field resolves a column by case-insensitive name match. The second return
// reports whether the column exists at all, regardless of value.
func (r Record) Field(name string) (string, bool) {
	target := strings.ToLower(strings.TrimSpace(name))
	for key, value := range r.Values {
		if strings.ToLower(strings.TrimSpace(key)) == target {
			return strings.TrimSpace(value), true
		}
	}
	return "", false
}

// Email returns the trimmed value of the literal "email" column.
func (r Record) Email() (string, bool) {
	return r.Field("email")
}

var emailPattern = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// IsValidEmail reports whether an address passes syntactic validation.
func IsValidEmail(email string) bool {
	return emailPattern.MatchString(strings.TrimSpace(email))
}
