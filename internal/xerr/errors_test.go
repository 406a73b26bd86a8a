package xerr

import (
	"errors"
	"strings"
	"testing"
)

func TestError_MessageIncludesCodeAndParent(t *testing.T) {
	parent := errors.New("dial tcp: connection refused")
	e := New(DialFailed, "connecting to backend", parent)

	msg := e.Error()
	if !strings.Contains(msg, "dial_failed") {
		t.Fatalf("expected code in message, got %q", msg)
	}
	if !strings.Contains(msg, "connection refused") {
		t.Fatalf("expected parent message included, got %q", msg)
	}
}

func TestError_UnwrapAndIs(t *testing.T) {
	parent := errors.New("boom")
	e := New(ConfigInvalid, "bad config", parent)

	if !errors.Is(e, parent) {
		t.Fatal("expected errors.Is to find the wrapped parent")
	}
}

func TestError_CodeAndSite(t *testing.T) {
	e := New(ListenFailed, "bind failed", nil)
	if e.Code() != ListenFailed {
		t.Fatalf("got code %v", e.Code())
	}
	if e.Site() == "" {
		t.Fatal("expected a non-empty call site")
	}
}
