package engine

import (
	"errors"
	"fmt"
)

// Code is a stable, machine-readable error category surfaced to API callers.
type Code string

const (
	CodeValidation          Code = "VALIDATION_ERROR"
	CodeNotDraft            Code = "NOT_DRAFT"
	CodeNotFound            Code = "NOT_FOUND"
	CodeNoRulesAvailable    Code = "NO_RULES_AVAILABLE"
	CodeInvalidEvidence     Code = "INVALID_EVIDENCE" // log label for dropped evidence, never returned
	CodeOverrideReasonReq   Code = "OVERRIDE_REASON_REQUIRED"
	CodeActivationConflict  Code = "CONCURRENT_ACTIVATION_CONFLICT"
	CodeRuleEvaluationError Code = "RULE_EVALUATION_ERROR"
)

// Error carries a Code alongside a human message and an optional cause.
type Error struct {
	Code    Code
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches any *Error with the same code, so callers can compare against
// the sentinels below regardless of message.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

var (
	ErrValidation         = &Error{Code: CodeValidation, Message: "validation failed"}
	ErrNotDraft           = &Error{Code: CodeNotDraft, Message: "rule version is not a draft"}
	ErrNotFound           = &Error{Code: CodeNotFound, Message: "not found"}
	ErrNoRulesAvailable   = &Error{Code: CodeNoRulesAvailable, Message: "evaluation could not be completed"}
	ErrOverrideReason     = &Error{Code: CodeOverrideReasonReq, Message: "override reason is required"}
	ErrActivationConflict = &Error{Code: CodeActivationConflict, Message: "concurrent activation for rule"}
)

// Errorf builds a coded error with a formatted message.
func Errorf(code Code, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a code to an underlying error.
func Wrap(code Code, err error, msg string) *Error {
	return &Error{Code: code, Message: msg, Cause: err}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}
