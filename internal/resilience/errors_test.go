package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

func TestIsTransient_ExplicitTransientError(t *testing.T) {
	err := NewTransientError(errors.New("eia: http 503"), 503)
	if !IsTransient(err) {
		t.Error("expected TransientError to be transient")
	}
}

func TestIsTransient_WrappedTransientError(t *testing.T) {
	inner := NewTransientError(errors.New("rate limited"), 429)
	wrapped := fmt.Errorf("fetch retail series: %w", inner)
	if !IsTransient(wrapped) {
		t.Error("expected wrapped TransientError to be transient")
	}
}

func TestIsTransient_NilAndPermanent(t *testing.T) {
	if IsTransient(nil) {
		t.Error("nil error should not be transient")
	}
	if IsTransient(errors.New("eia: invalid api_key")) {
		t.Error("regular error should not be transient")
	}
}

func TestIsTransient_Syscalls(t *testing.T) {
	for _, errno := range []syscall.Errno{syscall.ECONNRESET, syscall.ECONNREFUSED, syscall.ECONNABORTED} {
		err := fmt.Errorf("dial tcp: %w", errno)
		if !IsTransient(err) {
			t.Errorf("%v should be transient", errno)
		}
	}
}

func TestIsTransient_NetworkTimeout(t *testing.T) {
	err := &net.DNSError{IsTimeout: true, Err: "timeout"}
	if !IsTransient(err) {
		t.Error("network timeout should be transient")
	}
}

func TestIsTransient_StringPatterns(t *testing.T) {
	for _, msg := range []string{
		"read: connection reset by peer",
		"write: broken pipe",
		"net/http: TLS handshake timeout",
		"unexpected EOF",
	} {
		if !IsTransient(errors.New(msg)) {
			t.Errorf("%q should be transient", msg)
		}
	}
}

func TestExhaustedError_Unwraps(t *testing.T) {
	root := NewTransientError(errors.New("http 502"), 502)
	err := &ExhaustedError{Attempts: 4, Err: root}

	var te *TransientError
	if !errors.As(err, &te) {
		t.Fatal("expected to unwrap TransientError")
	}
	if te.StatusCode != 502 {
		t.Errorf("status = %d, want 502", te.StatusCode)
	}
	if err.Error() != "gave up after 4 attempts: http 502" {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	tests := map[int]bool{
		200: false,
		400: false,
		401: false,
		403: false,
		404: false,
		408: true,
		429: true,
		500: true,
		502: true,
		503: true,
		504: true,
	}
	for code, want := range tests {
		if got := IsTransientHTTPStatus(code); got != want {
			t.Errorf("IsTransientHTTPStatus(%d) = %v, want %v", code, got, want)
		}
	}
}
