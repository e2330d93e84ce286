package env

import "testing"

func TestLookupReturnsFirstNonBlank(t *testing.T) {
	t.Setenv("STORYLINE_TEST_A", "  ")
	t.Setenv("STORYLINE_TEST_B", " second ")
	v, ok := Lookup("STORYLINE_TEST_MISSING", "STORYLINE_TEST_A", "STORYLINE_TEST_B")
	if !ok || v != "second" {
		t.Fatalf("expected second, got %q (%v)", v, ok)
	}
	if _, ok := Lookup("STORYLINE_TEST_MISSING"); ok {
		t.Fatal("expected missing key to report false")
	}
}

func TestGetFallback(t *testing.T) {
	t.Setenv("STORYLINE_TEST_FORMAT", "")
	if got := Get("STORYLINE_TEST_FORMAT", "json"); got != "json" {
		t.Fatalf("expected fallback, got %q", got)
	}
	t.Setenv("STORYLINE_TEST_FORMAT", "console")
	if got := Get("STORYLINE_TEST_FORMAT", "json"); got != "console" {
		t.Fatalf("expected console, got %q", got)
	}
}
