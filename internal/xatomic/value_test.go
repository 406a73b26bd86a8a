package xatomic

import "testing"

func TestValue_LoadZeroBeforeStore(t *testing.T) {
	var v Value[int]
	if got := v.Load(); got != 0 {
		t.Fatalf("expected zero value, got %d", got)
	}
}

func TestValue_StoreAndLoad(t *testing.T) {
	var v Value[string]
	v.Store("hello")
	if got := v.Load(); got != "hello" {
		t.Fatalf("got %q", got)
	}
	v.Store("world")
	if got := v.Load(); got != "world" {
		t.Fatalf("got %q", got)
	}
}

func TestValue_PointerType(t *testing.T) {
	type payload struct{ n int }
	var v Value[*payload]
	if got := v.Load(); got != nil {
		t.Fatalf("expected nil zero value, got %+v", got)
	}
	p := &payload{n: 7}
	v.Store(p)
	if got := v.Load(); got != p {
		t.Fatalf("expected same pointer back, got %+v", got)
	}
}
