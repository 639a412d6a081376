package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// EnvString returns the trimmed value of key, or def when unset or blank.
func EnvString(key, def string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	return v
}

func EnvInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

// EnvBool accepts true/false, 1/0, yes/no, y/n and on/off. Anything else yields def.
func EnvBool(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "true", "1", "yes", "y", "on":
		return true
	case "false", "0", "no", "n", "off":
		return false
	default:
		return def
	}
}

// EnvDuration parses Go durations ("10s") and falls back to whole seconds ("10").
func EnvDuration(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	if d, err := time.ParseDuration(v); err == nil && d > 0 {
		return d
	}
	if n, err := strconv.Atoi(v); err == nil && n > 0 {
		return time.Duration(n) * time.Second
	}
	return def
}

func IsProduction() bool {
	return strings.EqualFold(strings.TrimSpace(os.Getenv("GO_ENV")), "production")
}

// TransactionEventsEnabled gates the outbox dispatcher that publishes
// transaction events to Pub/Sub.
//
// Set via env:
// - OUTBOX_DISPATCHER_ENABLED=true
func TransactionEventsEnabled() bool {
	return EnvBool("OUTBOX_DISPATCHER_ENABLED", false)
}

// SyncAuditEnabled gates archiving of /sync reconciliation runs to GCS.
//
// Set via env:
// - SYNC_AUDIT_ENABLED=true
// - SYNC_AUDIT_BUCKET=<bucket>
func SyncAuditEnabled() bool {
	return EnvBool("SYNC_AUDIT_ENABLED", false) && EnvString("SYNC_AUDIT_BUCKET", "") != ""
}
