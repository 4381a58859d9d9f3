// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

// Package validation provides struct validation using go-playground/validator
// v10 behind a thread-safe singleton, with custom validators for geographic
// coordinates.
//
//	type DetectRequest struct {
//	    Lat float64 `validate:"latitude_deg"`
//	    Lng float64 `validate:"longitude_deg"`
//	}
//
//	if err := validation.ValidateStruct(&req); err != nil { ... }
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/tomtom215/stagesense/internal/geo"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// Validator returns the singleton validator instance. The instance caches
// struct metadata, so sharing one is both safe and faster.
func Validator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())

		// latitude_deg / longitude_deg: degrees in the WGS84 range, same
		// check the matching engine applies to venue coordinates.
		// Registration on the singleton cannot fail for these signatures.
		_ = validate.RegisterValidation("latitude_deg", func(fl validator.FieldLevel) bool {
			return geo.ValidLatitude(fl.Field().Float())
		})
		_ = validate.RegisterValidation("longitude_deg", func(fl validator.FieldLevel) bool {
			return geo.ValidLongitude(fl.Field().Float())
		})
	})
	return validate
}

// FieldError is a single field validation failure.
type FieldError struct {
	Field   string
	Tag     string
	Param   string
	Message string
}

func (e FieldError) Error() string {
	return e.Message
}

// RequestError aggregates the field failures for one struct.
type RequestError struct {
	fields []FieldError
}

// Fields returns the individual failures.
func (e *RequestError) Fields() []FieldError {
	return e.fields
}

func (e *RequestError) Error() string {
	if len(e.fields) == 0 {
		return "validation failed"
	}
	msgs := make([]string, 0, len(e.fields))
	for _, f := range e.fields {
		msgs = append(msgs, f.Message)
	}
	return strings.Join(msgs, "; ")
}

// ValidateStruct validates a struct against its validate tags, returning a
// *RequestError describing every failing field.
func ValidateStruct(s interface{}) error {
	err := Validator().Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err
	}

	out := &RequestError{fields: make([]FieldError, 0, len(verrs))}
	for _, fe := range verrs {
		out.fields = append(out.fields, FieldError{
			Field:   fe.Field(),
			Tag:     fe.Tag(),
			Param:   fe.Param(),
			Message: message(fe),
		})
	}
	return out
}

// message renders a human-readable description for one failure.
func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "latitude_deg":
		return fmt.Sprintf("%s must be between -90 and 90 degrees", fe.Field())
	case "longitude_deg":
		return fmt.Sprintf("%s must be between -180 and 180 degrees", fe.Field())
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", fe.Field(), fe.Param())
	case "gte":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "lte":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of: %s", fe.Field(), fe.Param())
	default:
		return fmt.Sprintf("%s failed validation (%s)", fe.Field(), fe.Tag())
	}
}
