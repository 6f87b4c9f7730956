package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorClass tells a caller how to react to an error
type ErrorClass int

const (
	// ErrorTransient errors are logged and the worker keeps serving
	ErrorTransient ErrorClass = iota
	// ErrorInvalid errors come from malformed input or configuration
	ErrorInvalid
	// ErrorFatal errors abort initialization
	ErrorFatal
)

// String returns the string representation of ErrorClass
func (ec ErrorClass) String() string {
	switch ec {
	case ErrorTransient:
		return "transient"
	case ErrorInvalid:
		return "invalid"
	case ErrorFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

var (
	// Lifecycle
	ErrAlreadyStarted = errors.New("component already started")
	ErrNotStarted     = errors.New("component not started")
	ErrAlreadyStopped = errors.New("component already stopped")
	ErrShuttingDown   = errors.New("component is shutting down")

	// Fabric
	ErrNoConnection      = errors.New("no connection available")
	ErrConnectionLost    = errors.New("connection lost")
	ErrConnectionTimeout = errors.New("connection timeout")
	ErrBindFailed        = errors.New("endpoint bind failed")
	ErrBackpressure      = errors.New("send buffer full")
	ErrCircuitOpen       = errors.New("circuit breaker open")

	// Documents
	ErrInvalidData   = errors.New("invalid data format")
	ErrParsingFailed = errors.New("parsing failed")

	// Configuration
	ErrInvalidConfig  = errors.New("invalid configuration")
	ErrMissingConfig  = errors.New("missing required configuration")
	ErrConfigNotFound = errors.New("configuration not found")

	ErrResourceExhausted = errors.New("resource exhausted")
)

// sentinelClasses classifies the sentinels above and the context errors.
// Sentinels not listed are classified by message.
var sentinelClasses = []struct {
	err   error
	class ErrorClass
}{
	{ErrConnectionTimeout, ErrorTransient},
	{ErrConnectionLost, ErrorTransient},
	{ErrNoConnection, ErrorTransient},
	{ErrBackpressure, ErrorTransient},
	{ErrCircuitOpen, ErrorTransient},
	{context.DeadlineExceeded, ErrorTransient},
	{context.Canceled, ErrorTransient},
	{ErrInvalidConfig, ErrorFatal},
	{ErrMissingConfig, ErrorFatal},
	{ErrBindFailed, ErrorFatal},
	{ErrResourceExhausted, ErrorFatal},
	{ErrInvalidData, ErrorInvalid},
	{ErrParsingFailed, ErrorInvalid},
}

var (
	transientPatterns = []string{"timeout", "connection", "temporary", "unavailable", "retry"}
	fatalPatterns     = []string{"fatal", "panic", "invalid config", "missing config", "out of memory"}
)

// ClassifiedError carries a class and the component operation that failed
type ClassifiedError struct {
	Class     ErrorClass
	Err       error
	Message   string
	Component string
	Operation string
}

// Error implements the error interface
func (ce *ClassifiedError) Error() string {
	if ce.Message != "" {
		return ce.Message
	}
	return ce.Err.Error()
}

// Unwrap returns the underlying error
func (ce *ClassifiedError) Unwrap() error {
	return ce.Err
}

// lookup returns the explicit class of err: the outermost ClassifiedError,
// else the first matching sentinel.
func lookup(err error) (ErrorClass, bool) {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Class, true
	}
	for _, sc := range sentinelClasses {
		if errors.Is(err, sc.err) {
			return sc.class, true
		}
	}
	return 0, false
}

func messageContains(err error, patterns []string) bool {
	msg := strings.ToLower(err.Error())
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

// IsTransient reports whether err is a runtime failure the worker can ride out
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := lookup(err); ok {
		return class == ErrorTransient
	}
	return messageContains(err, transientPatterns)
}

// IsFatal reports whether err must abort initialization
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if class, ok := lookup(err); ok {
		return class == ErrorFatal
	}
	return messageContains(err, fatalPatterns)
}

// IsInvalid reports whether err was caused by bad input
func IsInvalid(err error) bool {
	if err == nil {
		return false
	}
	class, ok := lookup(err)
	return ok && class == ErrorInvalid
}

// Classify returns the error class for an error. Unknown errors are
// transient so runtime loops keep serving.
func Classify(err error) ErrorClass {
	if err == nil {
		return ErrorTransient
	}
	if class, ok := lookup(err); ok {
		return class
	}
	if messageContains(err, fatalPatterns) && !messageContains(err, transientPatterns) {
		return ErrorFatal
	}
	return ErrorTransient
}

// Wrap adds component context following the pattern
// "component.method: action failed: %w"
func Wrap(err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s.%s: %s failed: %w", component, method, action, err)
}

func wrapClassified(class ErrorClass, err error, component, method, action string) error {
	if err == nil {
		return nil
	}
	wrapped := Wrap(err, component, method, action)
	return &ClassifiedError{
		Class:     class,
		Err:       wrapped,
		Message:   wrapped.Error(),
		Component: component,
		Operation: method,
	}
}

// WrapTransient wraps an error as transient with context
func WrapTransient(err error, component, method, action string) error {
	return wrapClassified(ErrorTransient, err, component, method, action)
}

// WrapFatal wraps an error as fatal with context
func WrapFatal(err error, component, method, action string) error {
	return wrapClassified(ErrorFatal, err, component, method, action)
}

// WrapInvalid wraps an error as invalid with context
func WrapInvalid(err error, component, method, action string) error {
	return wrapClassified(ErrorInvalid, err, component, method, action)
}
