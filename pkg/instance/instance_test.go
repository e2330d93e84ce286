package instance

import "testing"

func TestGetIDOrder(t *testing.T) {
	t.Setenv("STORYLINE_WORKER_ID", "cron-7")
	t.Setenv("POD_NAME", "storyline-api-abc")
	if got := GetID(); got != "cron-7" {
		t.Fatalf("expected worker id, got %q", got)
	}

	t.Setenv("STORYLINE_WORKER_ID", "")
	if got := GetID(); got != "storyline-api-abc" {
		t.Fatalf("expected pod name, got %q", got)
	}

	t.Setenv("POD_NAME", "")
	if got := GetID(); got == "" {
		t.Fatal("expected hostname or fallback id")
	}
}
