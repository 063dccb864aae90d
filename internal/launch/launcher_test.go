package launch

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"leak-sentinel/internal/config"
)

func TestStartWaitsForReachableTarget(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/health" {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, `{"status":"ok"}`)
	}))
	defer ts.Close()

	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.TargetURL = ts.URL

	l := NewLauncher(cfg)
	if err := l.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	l.Stop()
}

func TestStartFailsWhenTargetNeverReady(t *testing.T) {
	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	cfg.TargetURL = "http://127.0.0.1:1"
	cfg.StartupTimeoutSec = 1
	cfg.RequestTimeoutSec = 1

	l := NewLauncher(cfg)
	if err := l.Start(context.Background()); err == nil {
		t.Fatalf("expected readiness failure")
	}
}

func TestStopWithoutStartIsSafe(t *testing.T) {
	cfg, err := config.LoadConfig("")
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	NewLauncher(cfg).Stop()
}
