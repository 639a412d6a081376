package workflow

import (
	"context"
	"testing"
	"time"
)

// DB-backed dispatch is covered by the models integration suite; these stay
// DB-free.

func TestPublishBackoff_DoublesAndCaps(t *testing.T) {
	cases := []struct {
		attempt  int
		expected time.Duration
	}{
		{0, 5 * time.Second},
		{1, 5 * time.Second},
		{2, 10 * time.Second},
		{3, 20 * time.Second},
		{8, 10 * time.Minute},
		{50, 10 * time.Minute},
	}
	for _, tc := range cases {
		got := PublishBackoff(tc.attempt, 5*time.Second, 10*time.Minute)
		if got != tc.expected {
			t.Fatalf("PublishBackoff(%d) expected %s, got %s", tc.attempt, tc.expected, got)
		}
	}
}

func TestPublishBackoff_NoCap(t *testing.T) {
	if got := PublishBackoff(4, time.Second, 0); got != 8*time.Second {
		t.Fatalf("expected 8s, got %s", got)
	}
}

func TestDispatchOnce_NoDBIsNoop(t *testing.T) {
	d := &OutboxDispatcher{}
	if n := d.DispatchOnce(context.Background()); n != 0 {
		t.Fatalf("expected 0 published without a DB, got %d", n)
	}
}

func TestNewOutboxDispatcher_ReadsEnv(t *testing.T) {
	t.Setenv("OUTBOX_BATCH_SIZE", "7")
	t.Setenv("OUTBOX_MAX_ATTEMPTS", "3")
	t.Setenv("OUTBOX_INITIAL_BACKOFF", "2s")
	d := NewOutboxDispatcher(nil, nil)
	if d.BatchSize != 7 || d.MaxAttempts != 3 || d.InitialBackoff != 2*time.Second {
		t.Fatalf("env not applied: %+v", d)
	}
	if d.DispatcherID == "" || d.Publish == nil {
		t.Fatalf("expected dispatcher id and default publisher")
	}
}
