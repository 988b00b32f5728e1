// Technocanvas - Collaborative Canvas Synchronization Core
// Copyright 2026 Arial Gardner (arialgardner)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/arialgardner/techno-canvas-sub001

// Package validation provides struct validation using go-playground/validator
// v10. It holds a thread-safe singleton validator instance and is the
// gatekeeper for malformed operations: anything failing here is rejected at
// the boundary and never enters the sync core.
package validation

import (
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"

	"github.com/arialgardner/techno-canvas-sub001/internal/models"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

// ErrMalformedOperation is returned for operations missing required fields.
var ErrMalformedOperation = errors.New("malformed operation")

// ValidationError is a single field validation failure.
type ValidationError struct {
	field   string
	tag     string
	message string
}

// Field returns the struct field that failed validation.
func (e *ValidationError) Field() string { return e.field }

// Tag returns the validation tag that failed.
func (e *ValidationError) Tag() string { return e.tag }

func (e *ValidationError) Error() string { return e.message }

// RequestValidationError aggregates the failures for one request.
type RequestValidationError struct {
	errors []ValidationError
}

// Errors returns the individual field failures.
func (ve *RequestValidationError) Errors() []ValidationError { return ve.errors }

func (ve *RequestValidationError) Error() string {
	if len(ve.errors) == 0 {
		return "validation failed"
	}
	msgs := make([]string, len(ve.errors))
	for i, err := range ve.errors {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap lets callers match with errors.Is(err, ErrMalformedOperation).
func (ve *RequestValidationError) Unwrap() error { return ErrMalformedOperation }

// instance returns the singleton validator, building it on first use.
// The instance caches struct metadata, so sharing it is both safe and fast.
func instance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateStruct validates any tagged struct, returning a
// *RequestValidationError on failure.
func ValidateStruct(s interface{}) error {
	err := instance().Struct(s)
	if err == nil {
		return nil
	}

	var invalid *validator.InvalidValidationError
	if errors.As(err, &invalid) {
		return fmt.Errorf("invalid validation target: %w", err)
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return err
	}

	ve := &RequestValidationError{}
	for _, fe := range fieldErrs {
		ve.errors = append(ve.errors, ValidationError{
			field:   fe.Field(),
			tag:     fe.Tag(),
			message: fmt.Sprintf("field %s failed on %q", fe.Field(), fe.Tag()),
		})
	}
	return ve
}

// ValidateMutation checks an incoming mutation request: the tag-level rules
// plus the semantic rules that tags cannot express (an update must carry a
// non-empty delta, a known shape type when creating).
func ValidateMutation(req *models.MutationRequest) error {
	if req == nil {
		return fmt.Errorf("%w: nil request", ErrMalformedOperation)
	}
	if err := ValidateStruct(req); err != nil {
		return err
	}
	if req.Type != models.OpDelete && req.Delta.IsZero() {
		return fmt.Errorf("%w: %s without delta fields", ErrMalformedOperation, req.Type)
	}
	return nil
}

// ValidateOperation checks a remote operation before it is applied: shapeId,
// userId and operationId must be present; create/update must carry a delta.
func ValidateOperation(op *models.Operation) error {
	if op == nil {
		return fmt.Errorf("%w: nil operation", ErrMalformedOperation)
	}
	if op.ShapeID == "" {
		return fmt.Errorf("%w: missing shapeId", ErrMalformedOperation)
	}
	if op.OperationID == "" {
		return fmt.Errorf("%w: missing operationId", ErrMalformedOperation)
	}
	if op.UserID == "" {
		return fmt.Errorf("%w: missing userId", ErrMalformedOperation)
	}
	if !op.Type.Valid() {
		return fmt.Errorf("%w: unknown operation type %q", ErrMalformedOperation, op.Type)
	}
	if op.Type != models.OpDelete && op.Delta.IsZero() {
		return fmt.Errorf("%w: %s without delta fields", ErrMalformedOperation, op.Type)
	}
	return nil
}
