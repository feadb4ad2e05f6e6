package util

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes returned by the assignment engine. Callers branch on these
// individually, so the missing-field variants stay distinct.
const (
	CodeValidation               = "VALIDATION_ERROR"
	CodeRequiredFieldsMissing    = "REQUIRED_FIELDS_MISSING"
	CodeToAgentIDRequired        = "TO_AGENT_ID_REQUIRED"
	CodeCompletionReasonRequired = "COMPLETION_REASON_REQUIRED"
	CodeAssignmentExists         = "ASSIGNMENT_EXISTS"
	CodeAssignmentNotFound       = "ASSIGNMENT_NOT_FOUND"
	CodeAssignmentClosed         = "ASSIGNMENT_CLOSED"
	CodeCapacityExceeded         = "CAPACITY_EXCEEDED"
	CodeInternal                 = "INTERNAL_ERROR"
)

// DomainError standardizes application errors.
type DomainError struct {
	Code       string
	Message    string
	HTTPStatus int
	Details    map[string]any
	Err        error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError constructs a DomainError.
func NewDomainError(code, message string, status int, details map[string]any) *DomainError {
	return &DomainError{Code: code, Message: message, HTTPStatus: status, Details: details}
}

func NewValidationError(message string, details map[string]any) error {
	return NewDomainError(CodeValidation, message, http.StatusBadRequest, details)
}

func NewRequiredFieldsMissing(fields ...string) error {
	return NewDomainError(CodeRequiredFieldsMissing, "required fields missing", http.StatusBadRequest, map[string]any{"fields": fields})
}

func NewToAgentIDRequired() error {
	return NewDomainError(CodeToAgentIDRequired, "to_agent_id required", http.StatusBadRequest, nil)
}

func NewCompletionReasonRequired() error {
	return NewDomainError(CodeCompletionReasonRequired, "completion_reason required", http.StatusBadRequest, nil)
}

func NewAssignmentExists(entityType, entityID string) error {
	return NewDomainError(CodeAssignmentExists, "an open assignment already exists for this entity", http.StatusConflict, map[string]any{
		"entity_type": entityType,
		"entity_id":   entityID,
	})
}

func NewAssignmentNotFound(assignmentID string) error {
	return NewDomainError(CodeAssignmentNotFound, "assignment not found", http.StatusNotFound, map[string]any{"assignment_id": assignmentID})
}

func NewAssignmentClosed(assignmentID string) error {
	return NewDomainError(CodeAssignmentClosed, "assignment is in a terminal state", http.StatusConflict, map[string]any{"assignment_id": assignmentID})
}

func NewCapacityExceeded(agentID string, active, capacity int) error {
	return NewDomainError(CodeCapacityExceeded, "agent is at hard capacity", http.StatusConflict, map[string]any{
		"agent_id": agentID,
		"active":   active,
		"cap":      capacity,
	})
}

func NewInternalError(err error) error {
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// ToDomainError converts generic errors to DomainError.
func ToDomainError(err error) *DomainError {
	if err == nil {
		return nil
	}
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr
	}
	return &DomainError{
		Code:       CodeInternal,
		Message:    "internal error",
		HTTPStatus: http.StatusInternalServerError,
		Err:        err,
	}
}

// MapError wraps unknown errors while passing DomainErrors through.
func MapError(err error) error {
	if err == nil {
		return nil
	}
	return ToDomainError(err)
}

// CodeOf extracts the domain error code, or INTERNAL_ERROR for unknown
// errors. Convenient for callers branching on outcome kind.
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	return ToDomainError(err).Code
}
