// Package request holds HTTP request bodies and their conversion into service input.
package request

import (
	"fmt"
	"strings"
	"time"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/validation"
)

// dateLayouts are the accepted date formats: YYYY-MM-DD, RFC3339 and RFC3339 with milliseconds.
var dateLayouts = []string{"2006-01-02", time.RFC3339, "2006-01-02T15:04:05.000Z07:00"}

// parseDate parses a required date field. Failures are reported as a validation error on field.
func parseDate(field, str string) (time.Time, error) {
	str = strings.TrimSpace(str)
	if str == "" {
		return time.Time{}, &validation.Error{Fields: map[string]string{field: field + " is required"}}
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, str); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, &validation.Error{Fields: map[string]string{
		field: fmt.Sprintf("cannot parse %q as a date or datetime", str),
	}}
}

// parseOptionalDate parses a date field that may be absent.
func parseOptionalDate(field string, str *string) (*time.Time, error) {
	if str == nil || strings.TrimSpace(*str) == "" {
		return nil, nil
	}
	t, err := parseDate(field, *str)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
