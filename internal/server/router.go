package server

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/scanrun/internal/console"
	"github.com/loykin/scanrun/internal/history"
	"github.com/loykin/scanrun/internal/metrics"
	"github.com/loykin/scanrun/internal/run"
)

// Controller is the part of run.Controller the viewer needs. It has no
// Start: the viewer cannot launch scans.
type Controller interface {
	Snapshot() run.Snapshot
	Lines() []string
	Cancel()
}

// History is the read/clear side of the history store.
type History interface {
	List() []run.Record
	Get(index int) (run.Record, error)
	Clear()
}

const heartbeatInterval = 15 * time.Second

// Router provides embeddable HTTP handlers for watching the current scan.
// Endpoints:
//
//	GET    {basePath}/status          controller snapshot
//	GET    {basePath}/output?from=N   output lines from index N
//	GET    {basePath}/stream          SSE: snapshot, then line/status/progress events
//	GET    {basePath}/history         saved runs, newest first
//	GET    {basePath}/history/:index  one saved run (0-based)
//	DELETE {basePath}/history         clear saved runs
//	POST   {basePath}/cancel          cancel the active scan
//	GET    /metrics                   Prometheus exposition
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	ctrl     Controller
	hist     History
	hub      *Hub
	basePath string
	metrics  http.Handler
	tls      *tls.Config
	log      *slog.Logger
}

type RouterOption func(*Router)

// WithMetricsHandler replaces the default Prometheus handler.
func WithMetricsHandler(h http.Handler) RouterOption {
	return func(r *Router) { r.metrics = h }
}

// WithTLS makes Serve speak HTTPS with cfg.
func WithTLS(cfg *tls.Config) RouterOption {
	return func(r *Router) { r.tls = cfg }
}

func WithLogger(l *slog.Logger) RouterOption {
	return func(r *Router) {
		if l != nil {
			r.log = l
		}
	}
}

// NewRouter constructs a Router. hub may be nil, in which case /stream
// responds 503.
func NewRouter(ctrl Controller, hist History, hub *Hub, basePath string, opts ...RouterOption) *Router {
	r := &Router{
		ctrl:     ctrl,
		hist:     hist,
		hub:      hub,
		basePath: sanitizeBase(basePath),
		metrics:  metrics.Handler(),
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(r)
	}
	r.log = r.log.With("component", "server")
	return r
}

// Handler returns an http.Handler powered by gin that can be mounted in any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.GET("/output", r.handleOutput)
	group.GET("/stream", r.handleStream)
	group.GET("/history", r.handleHistory)
	group.GET("/history/:index", r.handleHistoryEntry)
	group.DELETE("/history", r.handleHistoryClear)
	group.POST("/cancel", r.handleCancel)
	g.GET("/metrics", gin.WrapH(r.metrics))
	return g
}

// Serve listens on addr until ctx is done, then shuts down gracefully.
// ready, when non-nil, receives the bound address.
func (r *Router) Serve(ctx context.Context, addr string, ready chan<- string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	// no Read/WriteTimeout: /stream responses are long-lived
	srv := &http.Server{
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
		TLSConfig:         r.tls,
	}
	if ready != nil {
		ready <- ln.Addr().String()
	}
	r.log.Info("viewer listening", "addr", ln.Addr().String(), "base", r.basePath, "tls", r.tls != nil)

	errc := make(chan error, 1)
	go func() {
		if r.tls != nil {
			errc <- srv.ServeTLS(ln, "", "")
			return
		}
		errc <- srv.Serve(ln)
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type outputResp struct {
	From  int      `json:"from"`
	Total int      `json:"total"`
	Lines []string `json:"lines"`
}

type historyEntry struct {
	Index int    `json:"index"`
	Label string `json:"label"`
	run.Record
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.ctrl.Snapshot())
}

func (r *Router) handleOutput(c *gin.Context) {
	lines := r.ctrl.Lines()
	from := 0
	if s := c.Query("from"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "from must be a non-negative integer"})
			return
		}
		from = n
	}
	if from > len(lines) {
		from = len(lines)
	}
	writeJSON(c, http.StatusOK, outputResp{From: from, Total: len(lines), Lines: append([]string{}, lines[from:]...)})
}

func (r *Router) handleStream(c *gin.Context) {
	if r.hub == nil {
		writeJSON(c, http.StatusServiceUnavailable, errorResp{Error: "streaming disabled"})
		return
	}
	events, unsubscribe := r.hub.Subscribe()
	defer unsubscribe()
	snap := r.ctrl.Snapshot()

	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()
	ctx := c.Request.Context()
	first := true
	c.Stream(func(w io.Writer) bool {
		if first {
			first = false
			c.SSEvent("snapshot", snap)
			return true
		}
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent(ev.Type, ev)
			return true
		case <-heartbeat.C:
			_, _ = io.WriteString(w, ": ping\n\n")
			return true
		case <-ctx.Done():
			return false
		}
	})
}

func (r *Router) handleHistory(c *gin.Context) {
	recs := r.hist.List()
	out := make([]historyEntry, 0, len(recs))
	for i, rec := range recs {
		out = append(out, historyEntry{Index: i, Label: console.EntryLabel(i+1, rec), Record: rec})
	}
	writeJSON(c, http.StatusOK, out)
}

func (r *Router) handleHistoryEntry(c *gin.Context) {
	idx, err := strconv.Atoi(c.Param("index"))
	if err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "index must be an integer"})
		return
	}
	rec, err := r.hist.Get(idx)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			writeJSON(c, http.StatusNotFound, errorResp{Error: err.Error()})
			return
		}
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, historyEntry{Index: idx, Label: console.EntryLabel(idx+1, rec), Record: rec})
}

func (r *Router) handleHistoryClear(c *gin.Context) {
	r.hist.Clear()
	r.log.Info("history cleared via viewer", "remote", c.ClientIP())
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleCancel(c *gin.Context) {
	if !r.ctrl.Snapshot().State.Active() {
		writeJSON(c, http.StatusConflict, errorResp{Error: "no scan is running"})
		return
	}
	r.log.Info("cancel requested via viewer", "remote", c.ClientIP())
	r.ctrl.Cancel()
	writeJSON(c, http.StatusOK, r.ctrl.Snapshot())
}
