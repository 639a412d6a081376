package offlinequeue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mmdatafocus/terminal_sync/models"
	"github.com/shopspring/decimal"
)

func queuedTx(transactionId string) Transaction {
	return Transaction{
		Id:            "local-1",
		TransactionId: transactionId,
		StudentId:     "S1",
		Amount:        decimal.RequireFromString("12.50"),
		Type:          "purchase",
		Status:        StatusPending,
		CreatedAt:     time.Date(2026, 3, 2, 8, 30, 0, 0, time.UTC),
		Metadata:      map[string]interface{}{"menu_item": "lunch"},
	}
}

func TestHTTPRemote_PostsToProcess(t *testing.T) {
	t.Setenv("OFFLINE_QUEUE_RATE_LIMIT_PER_MIN", "600000")
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/terminal-api/process" || r.Method != http.MethodPost {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer tk_live_abc" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"success":true,"data":{}}`))
	}))
	defer srv.Close()

	remote, err := NewHTTPRemote(srv.URL+"/terminal-api/", "tk_live_abc", Defaults{TerminalId: "T-1", SchoolId: "SCH-1", VendorId: "V-1"})
	if err != nil {
		t.Fatalf("NewHTTPRemote: %v", err)
	}
	if err := remote.InsertTransaction(context.Background(), queuedTx("TX-1")); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	checks := map[string]any{
		"terminal_id":    "T-1",
		"transaction_id": "TX-1",
		"amount":         "12.5",
		"payment_method": "cash",
		"vendor_id":      "V-1",
		"school_id":      "SCH-1",
		"student_id":     "S1",
		"type":           "purchase",
	}
	for k, want := range checks {
		if got[k] != want {
			t.Fatalf("field %s: expected %v, got %v", k, want, got[k])
		}
	}
	if md, _ := got["metadata"].(map[string]any); md["menu_item"] != "lunch" {
		t.Fatalf("metadata not passed through: %v", got["metadata"])
	}
}

func TestHTTPRemote_ErrorMapping(t *testing.T) {
	t.Setenv("OFFLINE_QUEUE_RATE_LIMIT_PER_MIN", "600000")
	cases := []struct {
		status int
		body   string
		dup    bool
		fail   bool
	}{
		{http.StatusOK, `{"success":true,"duplicate":true}`, true, false},
		{http.StatusConflict, `{"success":false,"error":"transaction_id already exists"}`, true, false},
		{http.StatusInternalServerError, `{"success":false,"error":"failed to process transaction"}`, false, true},
		{http.StatusBadRequest, `{"success":false,"error":"missing required fields"}`, false, true},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(tc.body))
		}))
		remote, err := NewHTTPRemote(srv.URL, "tk_live_abc", Defaults{})
		if err != nil {
			t.Fatalf("NewHTTPRemote: %v", err)
		}
		err = remote.InsertTransaction(context.Background(), queuedTx("TX-1"))
		srv.Close()
		if tc.dup && !errors.Is(err, ErrDuplicate) {
			t.Fatalf("status %d: expected ErrDuplicate, got %v", tc.status, err)
		}
		if tc.fail && (err == nil || errors.Is(err, ErrDuplicate)) {
			t.Fatalf("status %d: expected plain error, got %v", tc.status, err)
		}
	}
}

func TestNewHTTPRemote_RequiresURLAndKey(t *testing.T) {
	if _, err := NewHTTPRemote("", "k", Defaults{}); err == nil {
		t.Fatalf("expected error for empty url")
	}
	if _, err := NewHTTPRemote("http://localhost", " ", Defaults{}); err == nil {
		t.Fatalf("expected error for empty key")
	}
}

type fakeWriter struct {
	got *models.Transaction
	err error
}

func (w *fakeWriter) CreateTransaction(ctx context.Context, t *models.Transaction) error {
	w.got = t
	return w.err
}

func TestDBRemote_MapsRecordAndDuplicate(t *testing.T) {
	w := &fakeWriter{}
	remote := &DBRemote{Store: w, Defaults: Defaults{TerminalId: "T-1", SchoolId: "SCH-1", VendorId: "V-1"}}
	if err := remote.InsertTransaction(context.Background(), queuedTx("TX-1")); err != nil {
		t.Fatalf("InsertTransaction: %v", err)
	}
	if w.got.Source != models.TransactionSourceOfflineQueue || w.got.PaymentMethod != "cash" || w.got.SchoolId != "SCH-1" {
		t.Fatalf("unexpected mapped record %+v", w.got)
	}
	if !w.got.TransactionAt.Equal(queuedTx("TX-1").CreatedAt) {
		t.Fatalf("expected capture time preserved, got %s", w.got.TransactionAt)
	}

	w.err = fmt.Errorf("%w: TX-1", models.ErrDuplicateTransaction)
	if err := remote.InsertTransaction(context.Background(), queuedTx("TX-1")); !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestManualSignal_DeliversLatestChange(t *testing.T) {
	s := NewManualSignal(false)
	ctx, cancel := context.WithCancel(context.Background())
	ch := s.Subscribe(ctx)

	s.Set(false)
	select {
	case v := <-ch:
		t.Fatalf("unexpected notification %v for unchanged state", v)
	default:
	}

	s.Set(true)
	s.Set(false)
	s.Set(true)
	if v := <-ch; v != true {
		t.Fatalf("expected latest state true, got %v", v)
	}
	if !s.Online() {
		t.Fatalf("expected online")
	}

	cancel()
	deadline := time.After(time.Second)
	for {
		select {
		case _, ok := <-ch:
			if !ok {
				return
			}
		case <-deadline:
			t.Fatalf("subscription not closed after cancel")
		}
	}
}

func TestProbeSignal_FollowsHealthEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	p := NewProbeSignal(srv.URL+"/healthz", 10*time.Millisecond)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ch := p.Subscribe(ctx)
	go p.Run(ctx)

	select {
	case v := <-ch:
		if !v {
			t.Fatalf("expected online from healthy probe")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("probe never reported online")
	}
}
