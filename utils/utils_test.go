package utils

import (
	"context"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestGenerateAPIKey(t *testing.T) {
	raw, hash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("GenerateAPIKey: %v", err)
	}
	if !strings.HasPrefix(raw, "tk_live_") || len(raw) != len("tk_live_")+64 {
		t.Fatalf("unexpected key shape %q", raw)
	}
	if hash != HashAPIKey(raw) || len(hash) != 64 {
		t.Fatalf("hash does not match key")
	}
	other, _, _ := GenerateAPIKey()
	if other == raw {
		t.Fatalf("expected distinct keys")
	}
	if p := APIKeyPrefix(raw); len(p) != 16 || !strings.HasPrefix(raw, p) {
		t.Fatalf("unexpected prefix %q", p)
	}
	if APIKeyPrefix("short") != "short" {
		t.Fatalf("short keys are their own prefix")
	}
}

type validated struct {
	TerminalId string `json:"terminal_id" validate:"required"`
	SchoolId   string `json:"school_id" validate:"required"`
	Status     string `json:"status" validate:"omitempty,oneof=active inactive"`
	Battery    *int   `json:"battery_level" validate:"omitempty,min=0,max=100"`
}

func TestValidateStruct_FieldNamesFromJSONTags(t *testing.T) {
	battery := 120
	err := ValidateStruct(validated{Status: "broken", Battery: &battery})
	if err == nil {
		t.Fatalf("expected validation error")
	}
	if got := MissingFields(err); !reflect.DeepEqual(got, []string{"school_id", "terminal_id"}) {
		t.Fatalf("unexpected missing fields %v", got)
	}
	if got := InvalidFields(err); !reflect.DeepEqual(got, []string{"battery_level", "status"}) {
		t.Fatalf("unexpected invalid fields %v", got)
	}
	if got := ProcessValidationErrors(err); got["status"] != "oneof" || got["terminal_id"] != "required" {
		t.Fatalf("unexpected rule map %v", got)
	}
	if err := ValidateStruct(validated{TerminalId: "T-1", SchoolId: "S-1"}); err != nil {
		t.Fatalf("expected valid, got %v", err)
	}
	if MissingFields(nil) != nil {
		t.Fatalf("nil error has no fields")
	}
}

func TestHelpers(t *testing.T) {
	if NilIfEmpty("") != nil || *NilIfEmpty("x") != "x" {
		t.Fatalf("NilIfEmpty")
	}
	blank := "   "
	if TrimPtr(&blank) != nil || TrimPtr(nil) != nil {
		t.Fatalf("TrimPtr should drop blanks")
	}
	padded := " v1.2 "
	if *TrimPtr(&padded) != "v1.2" {
		t.Fatalf("TrimPtr should trim")
	}
	if DereferencePtr[int](nil, 7) != 7 {
		t.Fatalf("DereferencePtr default")
	}
	if _, err := ParseDecimal(" "); err == nil {
		t.Fatalf("expected error for blank decimal")
	}
	if d, err := ParseDecimal(" 12.50 "); err != nil || d.String() != "12.5" {
		t.Fatalf("ParseDecimal: %v %s", err, d)
	}
}

func TestObtainLock_NilLocker(t *testing.T) {
	if _, err := ObtainLock(context.Background(), nil, "terminal-sync", "T-1", time.Second, 0); err == nil {
		t.Fatalf("expected error without a redis lock client")
	}
}

func TestContextHelpers(t *testing.T) {
	ctx := SetSchoolIdInContext(context.Background(), "S-1")
	ctx = SetTerminalIdInContext(ctx, "T-1")
	ctx = SetCredentialIdInContext(ctx, 9)
	if v, _ := GetSchoolIdFromContext(ctx); v != "S-1" {
		t.Fatalf("school id %q", v)
	}
	if v, _ := GetTerminalIdFromContext(ctx); v != "T-1" {
		t.Fatalf("terminal id %q", v)
	}
	if v, ok := GetCredentialIdFromContext(ctx); !ok || v != 9 {
		t.Fatalf("credential id %d", v)
	}
	if _, ok := GetCorrelationIdFromContext(ctx); ok {
		t.Fatalf("no correlation id was set")
	}
}
