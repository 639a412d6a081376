package middlewares

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mmdatafocus/terminal_sync/models"
	"github.com/mmdatafocus/terminal_sync/utils"
	"github.com/sirupsen/logrus"
)

type fakeCredentials struct {
	creds     map[string]*models.TerminalCredential
	terminals map[string]*models.Terminal
	touched   []uint
}

func (f *fakeCredentials) FindCredentialByHash(ctx context.Context, keyHash string) (*models.TerminalCredential, error) {
	if c, ok := f.creds[keyHash]; ok {
		return c, nil
	}
	return nil, models.ErrCredentialNotFound
}

func (f *fakeCredentials) TouchCredential(ctx context.Context, id uint, at time.Time) error {
	f.touched = append(f.touched, id)
	return nil
}

func (f *fakeCredentials) GetTerminal(ctx context.Context, terminalId string) (*models.Terminal, error) {
	if t, ok := f.terminals[terminalId]; ok {
		return t, nil
	}
	return nil, models.ErrTerminalNotFound
}

type seen struct {
	school, terminal, prefix string
	hasTerminal              bool
}

func newAuthRouter(store CredentialStore, out *seen) *gin.Engine {
	gin.SetMode(gin.TestMode)
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	r := gin.New()
	r.Use(CorrelationId(), Preflight())
	r.GET("/who", TerminalAuth(store, time.Second, logger), func(c *gin.Context) {
		out.school, _ = utils.GetSchoolIdFromContext(c.Request.Context())
		out.terminal, out.hasTerminal = utils.GetTerminalIdFromContext(c.Request.Context())
		out.prefix = c.GetString(GinKeyCredentialPrefix)
		c.Status(http.StatusOK)
	})
	return r
}

func TestTerminalAuth(t *testing.T) {
	recent := time.Now().UTC()
	store := &fakeCredentials{
		creds: map[string]*models.TerminalCredential{
			utils.HashAPIKey("bound-key"):   {ID: 1, TerminalId: "T-1", SchoolId: "stale", KeyPrefix: "bound-ke"},
			utils.HashAPIKey("gateway-key"): {ID: 2, SchoolId: "S-9", KeyPrefix: "gateway-", LastUsedAt: &recent},
			utils.HashAPIKey("orphan-key"):  {ID: 3, TerminalId: "T-GONE", SchoolId: "S-1"},
		},
		terminals: map[string]*models.Terminal{"T-1": {TerminalId: "T-1", SchoolId: "S-1"}},
	}

	cases := []struct {
		name   string
		header string
		status int
	}{
		{"no header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic bound-key", http.StatusUnauthorized},
		{"empty token", "Bearer   ", http.StatusUnauthorized},
		{"unknown key", "Bearer nope", http.StatusUnauthorized},
		{"terminal removed", "Bearer orphan-key", http.StatusUnauthorized},
		{"bound key", "Bearer bound-key", http.StatusOK},
		{"scheme is case-insensitive", "bearer gateway-key", http.StatusOK},
	}
	for _, tc := range cases {
		var got seen
		r := newAuthRouter(store, &got)
		req := httptest.NewRequest(http.MethodGet, "/who", nil)
		if tc.header != "" {
			req.Header.Set("Authorization", tc.header)
		}
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		if w.Code != tc.status {
			t.Fatalf("%s: expected %d, got %d", tc.name, tc.status, w.Code)
		}
	}

	var bound seen
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer bound-key")
	newAuthRouter(store, &bound).ServeHTTP(w, req)
	if bound.school != "S-1" || bound.terminal != "T-1" || bound.prefix != "bound-ke" {
		t.Fatalf("bound key context: %+v", bound)
	}

	var gw seen
	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set("Authorization", "Bearer gateway-key")
	newAuthRouter(store, &gw).ServeHTTP(w, req)
	if gw.school != "S-9" || gw.hasTerminal {
		t.Fatalf("gateway key context: %+v", gw)
	}

	// The gateway key was used a moment ago and is not touched again.
	for _, id := range store.touched {
		if id == 2 {
			t.Fatalf("recently used credential was touched")
		}
	}
}

func TestCorrelationId(t *testing.T) {
	var got seen
	r := newAuthRouter(&fakeCredentials{}, &got)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/who", nil)
	req.Header.Set(CorrelationHeader, "cid-123")
	r.ServeHTTP(w, req)
	if w.Header().Get(CorrelationHeader) != "cid-123" {
		t.Fatalf("expected correlation id echoed, got %q", w.Header().Get(CorrelationHeader))
	}

	w = httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/who", nil))
	if w.Header().Get(CorrelationHeader) == "" {
		t.Fatalf("expected a minted correlation id")
	}
}

func TestPreflight(t *testing.T) {
	var got seen
	r := newAuthRouter(&fakeCredentials{}, &got)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodOptions, "/who", nil))
	if w.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", w.Code)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatalf("expected wildcard origin, got %q", w.Header().Get("Access-Control-Allow-Origin"))
	}
}
