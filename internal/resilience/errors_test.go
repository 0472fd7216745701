package resilience

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"testing"
)

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

var _ net.Error = timeoutErr{}

func TestIsTransient(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"plain", errors.New("invalid domain"), false},
		{"explicit", Transient(errors.New("busy"), 503), true},
		{"wrapped", fmt.Errorf("estimate: %w", Transient(errors.New("busy"), 429)), true},
		{"net timeout", timeoutErr{}, true},
		{"conn reset", fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"conn refused", syscall.ECONNREFUSED, true},
		{"message", errors.New("Get https://x: dial tcp: lookup x: no such host"), true},
		{"eof", errors.New("unexpected EOF"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsTransient(tt.err); got != tt.want {
				t.Errorf("IsTransient(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestTransient_Nil(t *testing.T) {
	if Transient(nil, 500) != nil {
		t.Error("expected nil")
	}
}

func TestTransientError_Message(t *testing.T) {
	err := Transient(errors.New("busy"), 503)
	if err.Error() != "transient (status 503): busy" {
		t.Errorf("unexpected message %q", err.Error())
	}
	if Transient(errors.New("reset"), 0).Error() != "transient: reset" {
		t.Error("unexpected message without status")
	}
	inner := errors.New("inner")
	if !errors.Is(Transient(inner, 0), inner) {
		t.Error("expected Unwrap to expose inner error")
	}
}

func TestIsTransientHTTPStatus(t *testing.T) {
	for _, code := range []int{408, 429, 500, 502, 503, 504} {
		if !IsTransientHTTPStatus(code) {
			t.Errorf("%d should be transient", code)
		}
	}
	for _, code := range []int{200, 400, 401, 403, 404, 501} {
		if IsTransientHTTPStatus(code) {
			t.Errorf("%d should not be transient", code)
		}
	}
}
