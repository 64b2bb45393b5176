package opa

import (
	"errors"
	"fmt"
)

type ErrorKind int

const (
	KindRequestFailed ErrorKind = iota + 1
	KindInvalidResponse
	KindEvaluation
	KindTimeout
	KindConfiguration
	KindCircuitOpen
)

func (k ErrorKind) String() string {
	switch k {
	case KindRequestFailed:
		return "request_failed"
	case KindInvalidResponse:
		return "invalid_response"
	case KindEvaluation:
		return "evaluation_error"
	case KindTimeout:
		return "timeout"
	case KindConfiguration:
		return "configuration_error"
	case KindCircuitOpen:
		return "circuit_open"
	default:
		return "unknown"
	}
}

// Sentinels for errors.Is; a *PolicyError matches the sentinel of its kind.
var (
	ErrRequestFailed   = &PolicyError{Kind: KindRequestFailed}
	ErrInvalidResponse = &PolicyError{Kind: KindInvalidResponse}
	ErrEvaluation      = &PolicyError{Kind: KindEvaluation}
	ErrTimeout         = &PolicyError{Kind: KindTimeout}
	ErrConfiguration   = &PolicyError{Kind: KindConfiguration}
	ErrCircuitOpen     = &PolicyError{Kind: KindCircuitOpen}
)

type PolicyError struct {
	Kind    ErrorKind
	Message string
	Err     error
}

func newError(kind ErrorKind, message string, err error) *PolicyError {
	return &PolicyError{Kind: kind, Message: message, Err: err}
}

func (e *PolicyError) Error() string {
	msg := "opa " + e.Kind.String()
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *PolicyError) Unwrap() error {
	return e.Err
}

func (e *PolicyError) Is(target error) bool {
	t, ok := target.(*PolicyError)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && t.Message == "" && t.Err == nil
}

func KindOf(err error) (ErrorKind, bool) {
	var pe *PolicyError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return 0, false
}

// IsUnavailable reports whether err means the policy service could not be
// consulted, as opposed to answering badly. Callers fall back to local RBAC
// for these.
func IsUnavailable(err error) bool {
	kind, ok := KindOf(err)
	if !ok {
		return false
	}
	switch kind {
	case KindCircuitOpen, KindTimeout, KindRequestFailed:
		return true
	default:
		return false
	}
}
