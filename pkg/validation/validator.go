// Package validation wraps a shared go-playground validator and converts its
// errors into field-level messages suitable for API responses.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// FieldError is a single failed validation rule.
type FieldError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

// Error collects every failed rule of a validated value.
type Error struct {
	Fields []FieldError `json:"fields"`
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	messages := make([]string, 0, len(e.Fields))
	for _, f := range e.Fields {
		messages = append(messages, fmt.Sprintf("%s: %s", f.Field, f.Message))
	}
	return strings.Join(messages, "; ")
}

// Add appends a rule failure that the struct tags cannot express, such as
// cross-element uniqueness.
func (e *Error) Add(field, tag, message string) {
	e.Fields = append(e.Fields, FieldError{Field: field, Tag: tag, Message: message})
}

// OrNil returns e when it holds failures and nil otherwise.
func (e *Error) OrNil() error {
	if e == nil || len(e.Fields) == 0 {
		return nil
	}
	return e
}

// GetValidator returns the singleton validator instance.
func GetValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" || name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// ValidateStruct validates s and returns *Error on failure.
func ValidateStruct(s interface{}) *Error {
	err := GetValidator().Struct(s)
	if err == nil {
		return nil
	}

	out := &Error{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		out.Add("", "invalid", err.Error())
		return out
	}

	for _, fe := range verrs {
		out.Fields = append(out.Fields, FieldError{
			Field:   trimNamespace(fe.Namespace()),
			Tag:     fe.Tag(),
			Message: message(fe),
		})
	}
	return out
}

// trimNamespace drops the top-level struct name from "Request.databases[0].id".
func trimNamespace(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "numeric":
		return "must be numeric"
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be greater than or equal to %s", fe.Param())
	case "lte":
		return fmt.Sprintf("must be less than or equal to %s", fe.Param())
	case "datetime":
		return fmt.Sprintf("must match the time layout %s", fe.Param())
	case "excludesall":
		return "contains forbidden characters"
	default:
		return fmt.Sprintf("failed the %s rule", fe.Tag())
	}
}
