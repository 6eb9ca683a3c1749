// Package lsperr defines the error taxonomy shared by the queue, the
// workspace manager, and the server lifecycle.
//
// Three families matter to callers: configuration errors (handler
// registration problems, fatal at startup), contract violations (protocol
// bugs such as tracking an already-open document, fatal to the operation),
// and resolution failures (fatal to the whole request queue). Everything
// else is an ordinary execution error local to one request.
package lsperr

import (
	"errors"
	"fmt"
)

// Sentinel errors for queue and lifecycle state checks.
var (
	// ErrQueueNotAccepting is returned for work submitted before Start or
	// after shutdown has begun.
	ErrQueueNotAccepting = errors.New("request queue is not accepting new work")

	// ErrQueueShutDown completes items that were still pending when the
	// queue stopped. It is a cancellation, not a fault.
	ErrQueueShutDown = errors.New("request queue shut down before the request was processed")

	// ErrQueueAlreadyStarted is returned when Start is called twice.
	ErrQueueAlreadyStarted = errors.New("request queue already started")

	// ErrNotShutDown is returned when exit (or a wait for exit) is requested
	// before shutdown.
	ErrNotShutDown = errors.New("server has not been requested to shut down")

	// ErrServerExited is returned for requests arriving after the server has
	// fully exited.
	ErrServerExited = errors.New("server has exited")
)

// RegistrationError reports an invalid handler registration: duplicate
// entries, a multi-language method without a default handler, or handlers of
// one method disagreeing on shape. These are configuration errors and abort
// server construction.
type RegistrationError struct {
	Method string
	Reason string
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("handler registration for %q: %s", e.Method, e.Reason)
}

// NewRegistrationError creates a registration error for the given method.
func NewRegistrationError(method, format string, args ...interface{}) *RegistrationError {
	return &RegistrationError{Method: method, Reason: fmt.Sprintf(format, args...)}
}

// IsRegistrationError reports whether err is a handler registration error.
func IsRegistrationError(err error) bool {
	var re *RegistrationError
	return errors.As(err, &re)
}

// ContractError reports a violation of the protocol contract between client
// and server: a double initialized notification, tracking a document twice,
// untracking a document that was never opened. Contract violations indicate
// a bug on one side of the connection and are never retried.
type ContractError struct {
	Op     string
	Detail string
}

func (e *ContractError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

// NewContractError creates a contract violation error for the given operation.
func NewContractError(op, format string, args ...interface{}) *ContractError {
	return &ContractError{Op: op, Detail: fmt.Sprintf(format, args...)}
}

// IsContractError reports whether err is a protocol contract violation.
func IsContractError(err error) bool {
	var ce *ContractError
	return errors.As(err, &ce)
}

// ResolutionError reports a failure in the queue's serialized resolution
// phase: the language, handler, or request context for a queued item could
// not be determined. Resolution failures are fatal to the queue; every item
// behind the failing one is completed with the same error.
type ResolutionError struct {
	Method   string
	Language string
	Cause    error
}

func (e *ResolutionError) Error() string {
	if e.Language != "" {
		return fmt.Sprintf("resolving %s (language %s): %v", e.Method, e.Language, e.Cause)
	}
	return fmt.Sprintf("resolving %s: %v", e.Method, e.Cause)
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// NewResolutionError wraps a resolution-phase failure for the given method.
func NewResolutionError(method, language string, cause error) *ResolutionError {
	return &ResolutionError{Method: method, Language: language, Cause: cause}
}

// IsResolutionError reports whether err is a fatal resolution-phase error.
func IsResolutionError(err error) bool {
	var re *ResolutionError
	return errors.As(err, &re)
}

// MethodNotFoundError reports a request for a method with no registered
// handler. Unlike a resolution failure it is local to the one request.
type MethodNotFoundError struct {
	Method string
}

func (e *MethodNotFoundError) Error() string {
	return fmt.Sprintf("no handler registered for method %q", e.Method)
}

// NewMethodNotFoundError creates an error for an unregistered method.
func NewMethodNotFoundError(method string) *MethodNotFoundError {
	return &MethodNotFoundError{Method: method}
}

// IsMethodNotFoundError reports whether err identifies an unregistered method.
func IsMethodNotFoundError(err error) bool {
	var me *MethodNotFoundError
	return errors.As(err, &me)
}

// InvalidParamsError reports request parameters that could not be decoded
// for the resolved handler. It is local to the one request.
type InvalidParamsError struct {
	Method string
	Cause  error
}

func (e *InvalidParamsError) Error() string {
	return fmt.Sprintf("invalid params for %s: %v", e.Method, e.Cause)
}

func (e *InvalidParamsError) Unwrap() error {
	return e.Cause
}

// NewInvalidParamsError wraps a params decode failure for the given method.
func NewInvalidParamsError(method string, cause error) *InvalidParamsError {
	return &InvalidParamsError{Method: method, Cause: cause}
}

// IsInvalidParamsError reports whether err is a params decode failure.
func IsInvalidParamsError(err error) bool {
	var pe *InvalidParamsError
	return errors.As(err, &pe)
}
