// Package validation checks incoming requests and resolves the names they
// carry into stored entities before any stack logic runs.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

// MaxNameLength is the longest stack, package, user or group name accepted.
const MaxNameLength = 255

// ValidateEntityName validates a stack, package, user or group name.
// Names are used as URL path segments, so they may not contain '/'.
func ValidateEntityName(name string) error {
	if name == "" {
		return fmt.Errorf("name must not be empty")
	}
	if len(name) > MaxNameLength {
		return fmt.Errorf("name must be at most %d characters", MaxNameLength)
	}
	if strings.TrimSpace(name) != name {
		return fmt.Errorf("name must not start or end with whitespace")
	}
	for _, r := range name {
		if r == '/' {
			return fmt.Errorf("name must not contain '/'")
		}
		if unicode.IsControl(r) {
			return fmt.Errorf("name must not contain control characters")
		}
	}
	return nil
}

// Validator validates request structs using their `validate` tags.
type Validator struct {
	validate *validator.Validate
}

// New creates a Validator with the custom rules registered.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report fields by their JSON names.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})

	// Custom validators
	_ = v.RegisterValidation("entityname", func(fl validator.FieldLevel) bool {
		return ValidateEntityName(fl.Field().String()) == nil
	})

	return &Validator{validate: v}
}

// Validate checks s and returns ValidationErrors describing every failed rule.
func (v *Validator) Validate(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	var errs ValidationErrors
	for _, fe := range fieldErrs {
		errs.Add(fieldPath(fe), fmt.Sprint(fe.Value()), describe(fe))
	}
	return errs
}

// fieldPath strips the struct name from the error namespace,
// e.g. "SaveStackRequest.packages[1]" becomes "packages[1]".
func fieldPath(fe validator.FieldError) string {
	if _, path, ok := strings.Cut(fe.Namespace(), "."); ok {
		return path
	}
	return fe.Field()
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "entityname":
		if err := ValidateEntityName(fmt.Sprint(fe.Value())); err != nil {
			return err.Error()
		}
		return "invalid name"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
