package scanrun

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

func requireUnix(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix-like environment")
	}
}

func TestControllerFacadeRunAndRecord(t *testing.T) {
	requireUnix(t)
	store := NewHistoryStore(filepath.Join(t.TempDir(), "history.json"))
	store.Load()
	hub := NewStreamHub()
	c := NewController(MultiSink{hub}, store, DefaultControllerOptions())

	if err := c.Start(NewDescriptor("/bin/sh", "-c", "echo hi"), "https://example.com"); err != nil {
		t.Fatalf("start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	st, err := c.Wait(ctx)
	if err != nil {
		t.Fatalf("wait: %v", err)
	}
	if st.State != StateDone || st.ExitCode == nil || *st.ExitCode != 0 {
		t.Fatalf("unexpected status: %+v", st)
	}
	if store.Len() != 1 {
		t.Fatalf("expected 1 record, got %d", store.Len())
	}

	h := NewViewerHandler(c, store, hub, "/api")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/history/0", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("history status = %d", rec.Code)
	}
	var got Record
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Target != "https://example.com" || len(got.Output) != 2 {
		t.Fatalf("unexpected record: %+v", got)
	}
}

func TestFacadeErrors(t *testing.T) {
	c := NewController(nil, nil, DefaultControllerOptions())
	if err := c.Start(Descriptor{}, "x"); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("expected ErrEmptyCommand, got %v", err)
	}
	if _, err := BuildScan("wpscan", DefaultScanOptions()); !errors.Is(err, ErrEmptyTarget) {
		t.Fatalf("expected ErrEmptyTarget, got %v", err)
	}
	o := DefaultScanOptions()
	o.Target = "https://example.com"
	if _, err := BuildScan("scanrun-no-such-binary", o); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestConfigFacade(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.History.Limit != 50 {
		t.Fatalf("history limit = %d", cfg.History.Limit)
	}
	t.Setenv("SCANRUN_HISTORY_LIMIT", "99")
	if _, err := LoadConfig(""); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("expected ErrInvalidConfig, got %v", err)
	}
}

func TestRegisterMetricsIdempotent(t *testing.T) {
	reg := prometheus.NewRegistry()
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := RegisterMetrics(reg); err != nil {
		t.Fatalf("second register: %v", err)
	}
}
