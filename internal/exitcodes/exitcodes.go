// Package exitcodes defines standard exit codes for CLI operations so that
// schedulers (cron, Airflow, Kubernetes jobs) can tell retryable failures
// from configuration mistakes.
package exitcodes

import (
	"context"
	"errors"
	"os"
	"strings"
)

const (
	// Success - extraction completed, or the operator requested an early exit
	Success = 0

	// ConfigError - missing or malformed mandatory setting (non-recoverable, don't retry)
	ConfigError = 1

	// ConnectionError - data source could not be opened or was lost (recoverable)
	ConnectionError = 2

	// ExtractionError - the run failed while executing the catalog (non-recoverable)
	ExtractionError = 3

	// CatalogError - catalog file unreadable (non-recoverable)
	CatalogError = 4

	// Cancelled - run cancelled via SIGINT/SIGTERM (recoverable)
	Cancelled = 5

	// StateError - run history or profile store errors (non-recoverable)
	StateError = 6

	// IOError - output or log file I/O errors (recoverable)
	IOError = 7
)

// Coder is implemented by typed errors that know their own exit code.
type Coder interface {
	ExitCode() int
}

// ExitError wraps an error with an exit code.
type ExitError struct {
	Err  error
	Code int
}

func (e *ExitError) Error() string {
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode implements Coder.
func (e *ExitError) ExitCode() int {
	return e.Code
}

// NewExitError creates a new ExitError with the given code.
func NewExitError(err error, code int) *ExitError {
	return &ExitError{Err: err, Code: code}
}

// FromError determines the appropriate exit code for an error.
// Typed errors win; otherwise the message is classified heuristically.
func FromError(err error) int {
	if err == nil {
		return Success
	}

	var coder Coder
	if errors.As(err, &coder) {
		return coder.ExitCode()
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return Cancelled
	}

	var pathErr *os.PathError
	if errors.As(err, &pathErr) {
		return IOError
	}

	errStr := strings.ToLower(err.Error())

	if containsAny(errStr, []string{
		"no such file",
		"file not found",
		"permission denied",
		"is a directory",
		"not a directory",
	}) {
		return IOError
	}

	if containsAny(errStr, []string{"catalog"}) {
		return CatalogError
	}

	if containsAny(errStr, []string{
		"yaml:",
		"json:",
		"unmarshal",
		"invalid configuration",
		"missing required",
		"invalid value",
		"parsing config",
	}) && !containsAny(errStr, []string{"connection", "connect", "dial"}) {
		return ConfigError
	}

	if containsAny(errStr, []string{
		"connection",
		"connect",
		"dial",
		"refused",
		"timeout",
		"unreachable",
		"no such host",
		"network",
		"ping",
		"login failed",
		"authentication",
		"ora-12",
	}) {
		return ConnectionError
	}

	if containsAny(errStr, []string{
		"cancel",
		"interrupt",
	}) {
		return Cancelled
	}

	if containsAny(errStr, []string{
		"state",
		"history",
		"profile",
		"run not found",
	}) {
		return StateError
	}

	return ExtractionError
}

// IsRecoverable returns true if the error is recoverable (safe to retry).
func IsRecoverable(code int) bool {
	switch code {
	case ConnectionError, Cancelled, IOError:
		return true
	default:
		return false
	}
}

// Description returns a human-readable description of the exit code.
// Recoverable codes are marked as such.
func Description(code int) string {
	var d string
	switch code {
	case Success:
		return "success"
	case ConfigError:
		d = "configuration error"
	case ConnectionError:
		d = "connection error"
	case ExtractionError:
		d = "extraction error"
	case CatalogError:
		d = "catalog error"
	case Cancelled:
		d = "cancelled"
	case StateError:
		d = "state error"
	case IOError:
		d = "I/O error"
	default:
		return "unknown error"
	}
	if IsRecoverable(code) {
		d += " (recoverable)"
	}
	return d
}

func containsAny(s string, substrs []string) bool {
	for _, substr := range substrs {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}
