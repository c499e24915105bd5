package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Kind groups error codes by how the engine reacts to them.
type Kind string

const (
	KindTransport    Kind = "transport"
	KindCancellation Kind = "cancellation"
	KindMalformed    Kind = "malformed"
	KindValidation   Kind = "validation"
	KindState        Kind = "state"
	KindInternal     Kind = "internal"
)

const (
	// Transport errors (1xxx)
	ErrGenerationFailed  = "CYC-1001" // generation backend returned an error
	ErrBackendStatus     = "CYC-1002" // non-success HTTP status
	ErrSearchFailed      = "CYC-1003" // search backend failure
	ErrPersistenceFailed = "CYC-1004" // store write/read failure

	// Cancellation (2xxx)
	ErrCancelled = "CYC-2001" // pause or stop cancelled the call

	// Malformed / validation (3xxx)
	ErrMalformedResponse = "CYC-3001" // response had no parseable structure
	ErrInvalidInput      = "CYC-3002"
	ErrMissingRequired   = "CYC-3003"

	// State (4xxx)
	ErrStateConflict = "CYC-4001" // transition not allowed from current state
	ErrNotFound      = "CYC-4004"

	// Internal (5xxx)
	ErrInternal = "CYC-5001"
	ErrPanic    = "CYC-5002"
)

// EngineError carries a code, the stage it happened in and the underlying cause.
type EngineError struct {
	Code          string    `json:"code"`
	Kind          Kind      `json:"kind"`
	Stage         string    `json:"stage,omitempty"`
	Message       string    `json:"message"`
	Timestamp     time.Time `json:"timestamp"`
	CorrelationID string    `json:"correlation_id"`
	Err           error     `json:"-"`
}

func (e *EngineError) Error() string {
	msg := e.Message
	if e.Err != nil {
		if msg == "" {
			msg = e.Err.Error()
		} else {
			msg = msg + ": " + e.Err.Error()
		}
	}
	if e.Stage != "" {
		return fmt.Sprintf("[%s] %s: %s", e.Code, e.Stage, msg)
	}
	return fmt.Sprintf("[%s] %s", e.Code, msg)
}

func (e *EngineError) Unwrap() error { return e.Err }

// WithStage tags the error with the stage it occurred in.
func (e *EngineError) WithStage(stage string) *EngineError {
	e.Stage = stage
	return e
}

// New creates an EngineError with no underlying cause.
func New(code, message string) *EngineError {
	return &EngineError{
		Code:          code,
		Kind:          kindFromCode(code),
		Message:       message,
		Timestamp:     time.Now(),
		CorrelationID: uuid.New().String(),
	}
}

// Wrap attaches a code and message to err. A cancelled context is always
// classified as cancellation regardless of the requested code.
func Wrap(err error, code, message string) *EngineError {
	if err == nil {
		return nil
	}
	if IsCancellation(err) {
		code = ErrCancelled
	}
	e := New(code, message)
	e.Err = err
	var inner *EngineError
	if stderrors.As(err, &inner) && inner.Stage != "" {
		e.Stage = inner.Stage
	}
	return e
}

// Is reports whether err, or anything it wraps, is an EngineError of kind.
func Is(err error, kind Kind) bool {
	var e *EngineError
	for err != nil {
		if !stderrors.As(err, &e) {
			return false
		}
		if e.Kind == kind {
			return true
		}
		err = e.Err
	}
	return false
}

// IsCancellation reports whether err was caused by pause or stop.
func IsCancellation(err error) bool {
	if err == nil {
		return false
	}
	if stderrors.Is(err, context.Canceled) {
		return true
	}
	var e *EngineError
	for stderrors.As(err, &e) {
		if e.Kind == KindCancellation {
			return true
		}
		err = e.Err
		if err == nil {
			break
		}
	}
	return false
}

// Retryable reports whether a caller could reasonably try again. Stage
// execution never retries; backend clients may.
func Retryable(err error) bool {
	var e *EngineError
	if !stderrors.As(err, &e) {
		return false
	}
	switch e.Code {
	case ErrGenerationFailed, ErrBackendStatus, ErrSearchFailed, ErrPersistenceFailed:
		return true
	}
	return false
}

// Code returns the code of the outermost EngineError in err, or "".
func Code(err error) string {
	var e *EngineError
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ""
}

func kindFromCode(code string) Kind {
	if len(code) < 5 {
		return KindInternal
	}
	switch code[4] {
	case '1':
		return KindTransport
	case '2':
		return KindCancellation
	case '3':
		if code == ErrMalformedResponse {
			return KindMalformed
		}
		return KindValidation
	case '4':
		return KindState
	default:
		return KindInternal
	}
}
