package main

import (
	"context"
	"testing"
	"time"
)

func TestConnectRedis_OneShotGivesUp(t *testing.T) {
	t.Setenv("REDIS_ADDRESS", "127.0.0.1:1")
	t.Setenv("OFFLINE_AGENT_REDIS_TIMEOUT", "200ms")

	done := make(chan bool, 1)
	go func() {
		done <- connectRedis(context.Background(), true) == nil
	}()
	select {
	case gotNil := <-done:
		if !gotNil {
			t.Fatalf("expected no client for an unreachable redis")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("one-shot redis connect did not give up")
	}
}

func TestHealthURL(t *testing.T) {
	cases := map[string]string{
		"https://pay.example.test/terminal-api/": "https://pay.example.test/healthz",
		"http://localhost:8080":                  "http://localhost:8080/healthz",
	}
	for in, want := range cases {
		if got := healthURL(in); got != want {
			t.Fatalf("healthURL(%q) expected %s, got %s", in, want, got)
		}
	}
}
