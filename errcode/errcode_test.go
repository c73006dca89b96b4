package errcode

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestOf(t *testing.T) {
	cause := errors.New("nack")
	cases := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, OK},
		{"bare code", Busy, Busy},
		{"wrapped E", Wrap(Transport, "read", cause), Transport},
		{"fmt wrapped E", fmt.Errorf("outer: %w", New(Uninitialised, "pressure", "no fine temperature")), Uninitialised},
		{"plain", cause, Error},
		{"outer E over inner code", Wrap(InvalidPayload, "decode", Timeout), InvalidPayload},
		{"outer E over inner E", Wrap(InvalidParams, "build", New(Unsupported, "gain", "x")), InvalidParams},
		{"fmt over code over E", fmt.Errorf("ctl: %w", Wrap(Busy, "q", New(Transport, "tx", ""))), Busy},
	}
	for _, tc := range cases {
		if got := Of(tc.err); got != tc.want {
			t.Errorf("%s: Of = %q, want %q", tc.name, got, tc.want)
		}
	}
}

func TestEIsAndUnwrap(t *testing.T) {
	cause := errors.New("nack")
	err := Wrap(Transport, "regio.read", cause)
	if !errors.Is(err, Transport) {
		t.Fatal("errors.Is(err, Transport) = false")
	}
	if errors.Is(err, Unavailable) {
		t.Fatal("errors.Is(err, Unavailable) = true")
	}
	if !errors.Is(err, cause) {
		t.Fatal("cause not reachable through Unwrap")
	}
	if got, want := err.Error(), "regio.read: transport_error: nack"; got != want {
		t.Fatalf("Error() = %q, want %q", got, want)
	}
	if Wrap(Transport, "x", nil) != nil {
		t.Fatal("Wrap(nil) must be nil")
	}
}

func TestMapDriverErr(t *testing.T) {
	if got := MapDriverErr(context.DeadlineExceeded); got != Timeout {
		t.Fatalf("deadline mapped to %q", got)
	}
	if got := MapDriverErr(New(UnknownChip, "bmx280", "id 0x11")); got != UnknownChip {
		t.Fatalf("unknown chip mapped to %q", got)
	}
	if got := MapDriverErr(errors.New("x")); got != Error {
		t.Fatalf("plain mapped to %q", got)
	}
}
