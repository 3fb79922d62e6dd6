package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ndewijer/Portfolio-Rebalancer-Backend/internal/apperrors"
)

// Error collects field-level validation failures keyed by JSON field name.
// errors.Is(err, apperrors.ErrValidation) holds for every *Error.
type Error struct {
	Fields map[string]string
}

func (e *Error) Error() string {
	msgs := make([]string, 0, len(e.Fields))
	for field, msg := range e.Fields {
		msgs = append(msgs, fmt.Sprintf("%s: %s", field, msg))
	}
	sort.Strings(msgs)
	return strings.Join(msgs, "; ")
}

// Is reports whether target is apperrors.ErrValidation.
func (e *Error) Is(target error) bool {
	return target == apperrors.ErrValidation
}

// fieldErrors converts the result of validator.Struct into an *Error, merging extra field messages.
// Returns nil when there is nothing to report.
func fieldErrors(err error, extra map[string]string) error {
	fields := make(map[string]string, len(extra))
	for k, v := range extra {
		fields[k] = v
	}

	var ve validator.ValidationErrors
	if errors.As(err, &ve) {
		for _, fe := range ve {
			if _, exists := fields[fe.Field()]; !exists {
				fields[fe.Field()] = describe(fe)
			}
		}
	} else if err != nil {
		return err
	}

	if len(fields) == 0 {
		return nil
	}
	return &Error{Fields: fields}
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "max":
		return fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	}
	return fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag())
}
