package config

import (
	"testing"
	"time"
)

func TestPort(t *testing.T) {
	t.Setenv("TEST_PORT", "8083")
	p, err := Port("TEST_PORT", "1")
	if err != nil || p != "8083" {
		t.Fatalf("expected 8083, got %q (%v)", p, err)
	}

	t.Setenv("TEST_PORT", "99999")
	if _, err := Port("TEST_PORT", "1"); err == nil {
		t.Fatal("expected error for out of range port")
	}
}

func TestIntAndSeconds(t *testing.T) {
	t.Setenv("TEST_INT", "abc")
	if got := Int("TEST_INT", 7); got != 7 {
		t.Fatalf("expected fallback 7, got %d", got)
	}
	t.Setenv("TEST_INT", "30")
	if got := Seconds("TEST_INT", time.Minute); got != 30*time.Second {
		t.Fatalf("expected 30s, got %s", got)
	}
}

func TestBoolAndList(t *testing.T) {
	t.Setenv("TEST_BOOL", "yes")
	if !Bool("TEST_BOOL", false) {
		t.Fatal("expected true")
	}
	t.Setenv("TEST_BOOL", "maybe")
	if Bool("TEST_BOOL", false) {
		t.Fatal("expected fallback false")
	}

	t.Setenv("TEST_LIST", " a, ,b ,")
	got := List("TEST_LIST", "")
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("unexpected list: %#v", got)
	}
}
