// Package validation checks configuration structs with validator/v10 and
// converts failures into domain validation errors.
package validation

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	domainerrors "github.com/listenupapp/dirwatch/internal/errors"
)

// Validator wraps go-playground/validator with domain error conversion.
type Validator struct {
	v *validator.Validate
}

// New creates a validator that names fields after their yaml (or json) tags
// and understands the "globs" tag for ignore pattern lists.
func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())

	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		for _, tag := range []string{"yaml", "json"} {
			name, _, _ := strings.Cut(fld.Tag.Get(tag), ",")
			if name == "-" {
				return ""
			}
			if name != "" {
				return name
			}
		}
		return fld.Name
	})

	_ = v.RegisterValidation("globs", validGlobs)

	return &Validator{v: v}
}

// Validate validates a struct and returns a domain error.
func (v *Validator) Validate(s any) error {
	if err := v.v.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// formatError converts validator errors to domain errors.
func (v *Validator) formatError(err error) error {
	var validationErrs validator.ValidationErrors
	if !errors.As(err, &validationErrs) {
		return err
	}

	fieldErrors := make(map[string]string, len(validationErrs))
	parts := make([]string, 0, len(validationErrs))
	for _, e := range validationErrs {
		field := fieldPath(e)
		msg := friendlyMessage(e)
		fieldErrors[field] = msg
		parts = append(parts, field+" "+msg)
	}

	return domainerrors.ValidationWithDetails("validation failed: "+strings.Join(parts, "; "), fieldErrors)
}

// fieldPath drops the top-level struct name from the namespace,
// e.g. "Config.watches[0].root" becomes "watches[0].root".
func fieldPath(e validator.FieldError) string {
	ns := e.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func friendlyMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "min":
		if e.Kind() == reflect.Slice {
			return fmt.Sprintf("must contain at least %s item(s)", e.Param())
		}
		return "must be at least " + e.Param()
	case "oneof":
		return "must be one of: " + e.Param()
	case "unique":
		return fmt.Sprintf("must have unique %s values", strings.ToLower(e.Param()))
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "hostname_port":
		return "must be a host:port address"
	case "globs":
		return "contains a malformed glob pattern"
	default:
		return "is invalid"
	}
}

func validGlobs(fl validator.FieldLevel) bool {
	patterns, ok := fl.Field().Interface().([]string)
	if !ok {
		return false
	}
	for _, p := range patterns {
		if _, err := filepath.Match(p, ""); err != nil {
			return false
		}
	}
	return true
}
