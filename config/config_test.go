package config

import (
	"context"
	"testing"
	"time"

	"github.com/mmdatafocus/terminal_sync/appctx"
)

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TS_BOOL", " Yes ")
	t.Setenv("TS_BAD_BOOL", "maybe")
	t.Setenv("TS_DUR", "250ms")
	t.Setenv("TS_SECS", "12")
	t.Setenv("TS_NEG", "-3s")
	t.Setenv("TS_INT", "x")

	if !EnvBool("TS_BOOL", false) || !EnvBool("TS_BAD_BOOL", true) || EnvBool("TS_UNSET", false) {
		t.Fatalf("EnvBool")
	}
	if EnvDuration("TS_DUR", 0) != 250*time.Millisecond {
		t.Fatalf("EnvDuration should parse Go durations")
	}
	if EnvDuration("TS_SECS", 0) != 12*time.Second {
		t.Fatalf("EnvDuration should accept whole seconds")
	}
	if EnvDuration("TS_NEG", time.Minute) != time.Minute {
		t.Fatalf("EnvDuration should reject non-positive values")
	}
	if EnvInt("TS_INT", 5) != 5 {
		t.Fatalf("EnvInt should fall back on garbage")
	}
	if EnvString("TS_UNSET", "def") != "def" {
		t.Fatalf("EnvString default")
	}
}

func TestFeatureFlags(t *testing.T) {
	t.Setenv("SYNC_AUDIT_ENABLED", "true")
	t.Setenv("SYNC_AUDIT_BUCKET", "")
	if SyncAuditEnabled() {
		t.Fatalf("audit needs a bucket")
	}
	t.Setenv("SYNC_AUDIT_BUCKET", "audit")
	if !SyncAuditEnabled() {
		t.Fatalf("expected audit enabled")
	}
}

func TestRetryBackoff(t *testing.T) {
	cases := map[int]time.Duration{1: 2 * time.Second, 2: 4 * time.Second, 4: 16 * time.Second, 5: 30 * time.Second, 9: 30 * time.Second}
	for attempt, expected := range cases {
		if got := RetryBackoff(attempt); got != expected {
			t.Fatalf("RetryBackoff(%d) expected %s, got %s", attempt, expected, got)
		}
	}
}

func TestDatabaseDSN(t *testing.T) {
	t.Setenv("DB_USER", "u")
	t.Setenv("DB_PASSWORD", "p")
	t.Setenv("DB_HOST", "/cloudsql/proj:region:inst")
	t.Setenv("DB_PORT", "")
	t.Setenv("DB_NAME", "terminals")
	want := "u:p@unix(/cloudsql/proj:region:inst)/terminals?parseTime=true&loc=UTC&charset=utf8mb4"
	if got := DatabaseDSN(); got != want {
		t.Fatalf("expected %s, got %s", want, got)
	}
}

func TestSchoolIdFromContext(t *testing.T) {
	if SchoolIdFromContext(context.Background()) != "" {
		t.Fatalf("expected empty school id")
	}
	ctx := appctx.Set(context.Background(), appctx.ContextKeySchoolId, "S-1")
	if SchoolIdFromContext(ctx) != "S-1" {
		t.Fatalf("expected S-1")
	}
}
