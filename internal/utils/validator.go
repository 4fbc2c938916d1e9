// Package utils provides utility functions used throughout the application.
package utils

import (
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

var (
	// validate is a singleton validator instance
	validate *validator.Validate

	// modAcronymRegex matches mod acronyms (uppercase letters and digits,
	// two or three characters).
	modAcronymRegex = regexp.MustCompile(`^[A-Z0-9]{2,3}$`)
)

// Initialize validator with custom validations
func init() {
	validate = validator.New()

	// Register function to get tag name from json tags
	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = validate.RegisterValidation("mod_acronym", validateModAcronym)
}

// Validate performs validation on the given struct and returns validation errors.
func Validate(s any) error {
	return validate.Struct(s)
}

// ValidateVar validates a single variable with the given tag.
func ValidateVar(field any, tag string) error {
	return validate.Var(field, tag)
}

// validateModAcronym checks that a string is a plausible mod acronym.
func validateModAcronym(fl validator.FieldLevel) bool {
	return modAcronymRegex.MatchString(fl.Field().String())
}
