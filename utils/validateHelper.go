package utils

import (
	"errors"
	"reflect"
	"sort"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the shared validator. Field names in errors are the
// json tag names so they can be echoed back to API callers.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			if name == "" {
				return fld.Name
			}
			return name
		})
	})
	return validate
}

// ValidateStruct runs struct-tag validation on v.
func ValidateStruct(v interface{}) error {
	return Validator().Struct(v)
}

// MissingFields lists fields that failed a "required" rule, sorted.
func MissingFields(err error) []string {
	return fieldsWhere(err, func(fe validator.FieldError) bool { return fe.Tag() == "required" })
}

// InvalidFields lists fields that failed any rule other than "required", sorted.
func InvalidFields(err error) []string {
	return fieldsWhere(err, func(fe validator.FieldError) bool { return fe.Tag() != "required" })
}

// ProcessValidationErrors maps field name to the failed rule.
func ProcessValidationErrors(err error) map[string]string {
	out := map[string]string{}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return out
	}
	for _, ve := range verrs {
		out[ve.Field()] = ve.Tag()
	}
	return out
}

func fieldsWhere(err error, keep func(validator.FieldError) bool) []string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return nil
	}
	var out []string
	for _, ve := range verrs {
		if keep(ve) {
			out = append(out, ve.Field())
		}
	}
	sort.Strings(out)
	return out
}
