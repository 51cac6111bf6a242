package exitcodes

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
)

type codedErr struct{ code int }

func (e codedErr) Error() string { return "coded" }
func (e codedErr) ExitCode() int { return e.code }

func TestFromError(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected int
	}{
		{"nil error", nil, Success},
		{"typed error", codedErr{code: ConfigError}, ConfigError},
		{"wrapped typed error", fmt.Errorf("loading: %w", codedErr{code: ConnectionError}), ConnectionError},
		{"context canceled", fmt.Errorf("run: %w", context.Canceled), Cancelled},
		{"path error", &os.PathError{Op: "open", Path: "/foo", Err: errors.New("no such file")}, IOError},
		{"yaml parse error", errors.New("yaml: unmarshal error"), ConfigError},
		{"no such file", errors.New("open queries.txt: no such file or directory"), IOError},
		{"catalog unreadable", errors.New("reading catalog: unexpected EOF"), CatalogError},
		{"connection refused", errors.New("dial tcp: connection refused"), ConnectionError},
		{"login failed", errors.New("login failed for user"), ConnectionError},
		{"oracle listener", errors.New("ORA-12514: listener does not currently know of service"), ConnectionError},
		{"interrupted", errors.New("interrupted by operator"), Cancelled},
		{"history error", errors.New("run history unavailable"), StateError},
		{"unknown error", errors.New("something unexpected happened"), ExtractionError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FromError(tt.err)
			if got != tt.expected {
				t.Errorf("FromError(%v) = %d (%s), want %d (%s)",
					tt.err, got, Description(got), tt.expected, Description(tt.expected))
			}
		})
	}
}

func TestExitError(t *testing.T) {
	inner := errors.New("inner error")
	exitErr := NewExitError(inner, ConnectionError)

	if exitErr.Code != ConnectionError {
		t.Errorf("expected code %d, got %d", ConnectionError, exitErr.Code)
	}

	if exitErr.Error() != "inner error" {
		t.Errorf("expected error message 'inner error', got '%s'", exitErr.Error())
	}

	if errors.Unwrap(exitErr) != inner {
		t.Error("Unwrap should return inner error")
	}

	if FromError(exitErr) != ConnectionError {
		t.Errorf("FromError should extract code from ExitError")
	}
}

func TestIsRecoverable(t *testing.T) {
	recoverable := []int{ConnectionError, Cancelled, IOError}
	nonRecoverable := []int{Success, ConfigError, ExtractionError, CatalogError, StateError}

	for _, code := range recoverable {
		if !IsRecoverable(code) {
			t.Errorf("expected code %d (%s) to be recoverable", code, Description(code))
		}
	}

	for _, code := range nonRecoverable {
		if IsRecoverable(code) {
			t.Errorf("expected code %d (%s) to be non-recoverable", code, Description(code))
		}
	}
}

func TestDescriptionMarksRecoverable(t *testing.T) {
	for code := Success; code <= IOError; code++ {
		marked := strings.HasSuffix(Description(code), "(recoverable)")
		if marked != IsRecoverable(code) {
			t.Errorf("Description(%d) = %q, IsRecoverable = %v", code, Description(code), IsRecoverable(code))
		}
	}
}

func TestDescription(t *testing.T) {
	tests := []struct {
		code     int
		expected string
	}{
		{Success, "success"},
		{ConfigError, "configuration error"},
		{ConnectionError, "connection error (recoverable)"},
		{ExtractionError, "extraction error"},
		{CatalogError, "catalog error"},
		{Cancelled, "cancelled (recoverable)"},
		{StateError, "state error"},
		{IOError, "I/O error (recoverable)"},
		{99, "unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			got := Description(tt.code)
			if got != tt.expected {
				t.Errorf("Description(%d) = %q, want %q", tt.code, got, tt.expected)
			}
		})
	}
}
