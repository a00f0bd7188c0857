package models

import (
	"fmt"
	"strings"
)

// RecoverableError is implemented by enriched errors that carry structured
// context and remediation hints. The dispatch, store and output packages all
// use this interface to avoid an import cycle.
type RecoverableError interface {
	error
	ErrorCode() string
	Context() map[string]string
	SuggestedAction() string
}

// ErrorClass groups rejection codes by how a caller should react to them.
type ErrorClass string

// Error classes.
const (
	ClassSchema      ErrorClass = "schema"
	ClassOrdering    ErrorClass = "ordering"
	ClassPolicy      ErrorClass = "policy"
	ClassConsistency ErrorClass = "consistency"
)

// ErrorCode identifies why an event was rejected.
type ErrorCode string

// Rejection codes.
const (
	CodeMalformedEvent          ErrorCode = "MALFORMED_EVENT"
	CodeUnknownEventType        ErrorCode = "UNKNOWN_EVENT_TYPE"
	CodeRangeViolation          ErrorCode = "RANGE_VIOLATION"
	CodeMissingCapsuleReference ErrorCode = "MISSING_CAPSULE_REFERENCE"

	CodeOutOfOrderEvent ErrorCode = "OUT_OF_ORDER_EVENT"
	CodeStaleFromTier   ErrorCode = "STALE_FROM_TIER"
	CodeDuplicateEvent  ErrorCode = "DUPLICATE_EVENT"
	CodeCancelled       ErrorCode = "CANCELLED"

	CodeBelowConfidenceThreshold ErrorCode = "BELOW_CONFIDENCE_THRESHOLD"
	CodeIllegalTierJump          ErrorCode = "ILLEGAL_TIER_JUMP"
	CodeIllegalStageSkip         ErrorCode = "ILLEGAL_STAGE_SKIP"
	CodeIllegalStageRegression   ErrorCode = "ILLEGAL_STAGE_REGRESSION"
	CodeProgressRegression       ErrorCode = "PROGRESS_REGRESSION"
	CodeUnresolvedErrors         ErrorCode = "UNRESOLVED_ERRORS"
	CodeUnknownCapsule           ErrorCode = "UNKNOWN_CAPSULE"

	CodeInconsistentGateStatus ErrorCode = "INCONSISTENT_GATE_STATUS"
)

// Class returns the error class a code belongs to.
func (c ErrorCode) Class() ErrorClass {
	switch c {
	case CodeMalformedEvent, CodeUnknownEventType, CodeRangeViolation, CodeMissingCapsuleReference:
		return ClassSchema
	case CodeOutOfOrderEvent, CodeStaleFromTier, CodeDuplicateEvent, CodeCancelled:
		return ClassOrdering
	case CodeInconsistentGateStatus:
		return ClassConsistency
	default:
		return ClassPolicy
	}
}

// RejectionError is the single structured error returned for a rejected
// event. Field is the dotted path of the offending field; Current and
// Attempted describe the state conflict for ordering and policy errors.
type RejectionError struct {
	Code      ErrorCode `json:"code"`
	Field     string    `json:"field,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Current   string    `json:"current,omitempty"`
	Attempted string    `json:"attempted,omitempty"`
}

// Reject builds a RejectionError.
func Reject(code ErrorCode, field, format string, args ...any) *RejectionError {
	return &RejectionError{Code: code, Field: field, Reason: fmt.Sprintf(format, args...)}
}

// WithStates records the current and attempted states on e and returns it.
func (e *RejectionError) WithStates(current, attempted string) *RejectionError {
	e.Current = current
	e.Attempted = attempted
	return e
}

func (e *RejectionError) Error() string {
	var b strings.Builder
	b.WriteString(strings.ToLower(strings.ReplaceAll(string(e.Code), "_", " ")))
	if e.Field != "" {
		b.WriteString(" at ")
		b.WriteString(e.Field)
	}
	if e.Reason != "" {
		b.WriteString(": ")
		b.WriteString(e.Reason)
	}
	return b.String()
}

// Class returns the error class of e.
func (e *RejectionError) Class() ErrorClass { return e.Code.Class() }

// ErrorCode returns the stable machine-readable code for the CLI envelope.
func (e *RejectionError) ErrorCode() string { return string(e.Code) }

// Context returns the error class plus the offending field and the
// current and attempted states when set.
func (e *RejectionError) Context() map[string]string {
	ctx := map[string]string{"class": string(e.Class())}
	if e.Field != "" {
		ctx["field"] = e.Field
	}
	if e.Current != "" {
		ctx["current"] = e.Current
	}
	if e.Attempted != "" {
		ctx["attempted"] = e.Attempted
	}
	return ctx
}

// SuggestedAction returns a remediation hint chosen by error class.
func (e *RejectionError) SuggestedAction() string {
	switch e.Class() {
	case ClassSchema:
		return "fix the event payload; schema errors are never retried"
	case ClassOrdering:
		return "reload current state and resend with a fresh timestamp or id if this is not a replay"
	case ClassConsistency:
		return "recompute the declared gate status from its checks"
	default:
		return "satisfy the policy requirement for the attempted transition and resend"
	}
}

// Is matches any RejectionError with the same code, so sentinels such as
// ErrOutOfOrderEvent work with errors.Is.
func (e *RejectionError) Is(target error) bool {
	t, ok := target.(*RejectionError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Sentinels for errors.Is.
var (
	ErrMalformedEvent           = &RejectionError{Code: CodeMalformedEvent}
	ErrUnknownEventType         = &RejectionError{Code: CodeUnknownEventType}
	ErrRangeViolation           = &RejectionError{Code: CodeRangeViolation}
	ErrMissingCapsuleReference  = &RejectionError{Code: CodeMissingCapsuleReference}
	ErrOutOfOrderEvent          = &RejectionError{Code: CodeOutOfOrderEvent}
	ErrStaleFromTier            = &RejectionError{Code: CodeStaleFromTier}
	ErrDuplicateEvent           = &RejectionError{Code: CodeDuplicateEvent}
	ErrCancelled                = &RejectionError{Code: CodeCancelled}
	ErrBelowConfidenceThreshold = &RejectionError{Code: CodeBelowConfidenceThreshold}
	ErrIllegalTierJump          = &RejectionError{Code: CodeIllegalTierJump}
	ErrIllegalStageSkip         = &RejectionError{Code: CodeIllegalStageSkip}
	ErrIllegalStageRegression   = &RejectionError{Code: CodeIllegalStageRegression}
	ErrProgressRegression       = &RejectionError{Code: CodeProgressRegression}
	ErrUnresolvedErrors         = &RejectionError{Code: CodeUnresolvedErrors}
	ErrUnknownCapsule           = &RejectionError{Code: CodeUnknownCapsule}
	ErrInconsistentGateStatus   = &RejectionError{Code: CodeInconsistentGateStatus}
)
