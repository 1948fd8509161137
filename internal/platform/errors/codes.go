// Package errors provides structured error handling for the dealer engine.
//
// Every failure that crosses a component boundary (ledger reads, relay
// calls, transaction submission, local validation) is converted into an
// *Error carrying one Code from the taxonomy below. Callers branch on the
// code, never on message text.
package errors

import (
	"net/http"

	"google.golang.org/grpc/codes"
)

// Code is a machine-readable error code.
type Code string

const (
	// CodeUnknown represents an unknown error.
	CodeUnknown Code = "UNKNOWN"

	// Failure taxonomy
	CodeTransientNetwork       Code = "TRANSIENT_NETWORK"
	CodeSponsorshipExhausted   Code = "SPONSORSHIP_EXHAUSTED"
	CodeExecutionRejected      Code = "EXECUTION_REJECTED"
	CodeRequestNotFound        Code = "REQUEST_NOT_FOUND"
	CodeIllegalPhaseTransition Code = "ILLEGAL_PHASE_TRANSITION"

	// Snapshot errors
	CodeGameNotFound      Code = "GAME_NOT_FOUND"
	CodeSnapshotMalformed Code = "SNAPSHOT_MALFORMED"

	// Matching errors
	CodeRequestMismatch Code = "REQUEST_MISMATCH"

	// Draw errors
	CodeDrawKeyInvalid      Code = "DRAW_KEY_INVALID"
	CodeDrawAlreadyConsumed Code = "DRAW_ALREADY_CONSUMED"

	// Submission errors
	CodeFinalityTimeout Code = "FINALITY_TIMEOUT"
	CodeFeeUnitBusy     Code = "FEE_UNIT_BUSY"

	// Request validation errors
	CodeGameIDEmpty      Code = "GAME_ID_EMPTY"
	CodeInvalidMoveKind  Code = "INVALID_MOVE_KIND"
	CodeTriggerForbidden Code = "TRIGGER_FORBIDDEN"
)

// Retryable reports whether the code describes a failure that may succeed
// when the same step is attempted again without re-deriving state.
func (c Code) Retryable() bool {
	switch c {
	case CodeTransientNetwork, CodeRequestNotFound, CodeFeeUnitBusy:
		return true
	default:
		return false
	}
}

// GRPCCode maps domain codes to gRPC status codes.
func (c Code) GRPCCode() codes.Code {
	switch c {
	// InvalidArgument - validation failures, bad input
	case CodeGameIDEmpty,
		CodeInvalidMoveKind,
		CodeSnapshotMalformed:
		return codes.InvalidArgument

	// FailedPrecondition - state doesn't allow operation
	case CodeIllegalPhaseTransition,
		CodeRequestMismatch,
		CodeDrawAlreadyConsumed,
		CodeExecutionRejected:
		return codes.FailedPrecondition

	// NotFound - resource doesn't exist
	case CodeGameNotFound,
		CodeRequestNotFound:
		return codes.NotFound

	// Unavailable - the caller may try again later
	case CodeTransientNetwork,
		CodeSponsorshipExhausted,
		CodeFeeUnitBusy:
		return codes.Unavailable

	case CodeFinalityTimeout:
		return codes.DeadlineExceeded

	case CodeTriggerForbidden:
		return codes.PermissionDenied

	default:
		return codes.Internal
	}
}

// HTTPStatus maps domain codes to HTTP status codes for the trigger API.
func (c Code) HTTPStatus() int {
	switch c.GRPCCode() {
	case codes.InvalidArgument:
		return http.StatusBadRequest
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unavailable:
		return http.StatusServiceUnavailable
	case codes.DeadlineExceeded:
		return http.StatusGatewayTimeout
	case codes.PermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}
