// Package client talks to the read-only viewer of a running scanrun session.
package client

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// ErrStreamClosed is returned by Stream when the server ends the stream
// before a terminal status.
var ErrStreamClosed = errors.New("stream closed by server")

// Client calls the viewer API under a base URL such as
// http://127.0.0.1:8089/api.
type Client struct {
	baseURL string
	client  *http.Client
	stream  *http.Client // no overall timeout
	logger  *slog.Logger
}

// Config holds client configuration
type Config struct {
	BaseURL  string
	Timeout  time.Duration
	Logger   *slog.Logger
	CACert   string // PEM bundle trusted for the viewer's certificate
	Insecure bool   // skip certificate verification
}

func DefaultConfig() Config {
	return Config{
		BaseURL: "http://127.0.0.1:8089/api",
		Timeout: 10 * time.Second,
	}
}

// New creates a client. It fails only when the CA bundle cannot be loaded.
func New(config Config) (*Client, error) {
	def := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = def.BaseURL
	}
	if config.Timeout <= 0 {
		config.Timeout = def.Timeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	if config.Insecure || config.CACert != "" {
		tlsConfig, err := setupClientTLS(config)
		if err != nil {
			return nil, err
		}
		transport.TLSClientConfig = tlsConfig
	}

	return &Client{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		logger:  config.Logger,
		client:  &http.Client{Timeout: config.Timeout, Transport: transport},
		stream:  &http.Client{Transport: transport},
	}, nil
}

func setupClientTLS(config Config) (*tls.Config, error) {
	// #nosec G402 -- InsecureSkipVerify is an explicit operator choice
	tlsConfig := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: config.Insecure}
	if config.CACert != "" {
		pem, err := os.ReadFile(config.CACert)
		if err != nil {
			return nil, fmt.Errorf("read CA certificate: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, fmt.Errorf("parse CA certificate %s", config.CACert)
		}
		tlsConfig.RootCAs = pool
	}
	return tlsConfig, nil
}

// IsReachable checks whether the viewer answers.
func (c *Client) IsReachable(ctx context.Context) bool {
	_, err := c.Status(ctx)
	if err != nil {
		c.logger.Debug("viewer unreachable", "url", c.baseURL, "error", err)
		return false
	}
	return true
}

// Status returns the controller snapshot.
func (c *Client) Status(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.getJSON(ctx, "/status", &s)
	return s, err
}

// Output returns the current run's output from line index from.
func (c *Client) Output(ctx context.Context, from int) (Output, error) {
	var o Output
	err := c.getJSON(ctx, "/output?from="+strconv.Itoa(from), &o)
	return o, err
}

// History lists saved scans, newest first.
func (c *Client) History(ctx context.Context) ([]HistoryEntry, error) {
	var h []HistoryEntry
	err := c.getJSON(ctx, "/history", &h)
	return h, err
}

// HistoryEntry returns the saved scan at 0-based index.
func (c *Client) HistoryEntry(ctx context.Context, index int) (HistoryEntry, error) {
	var e HistoryEntry
	err := c.getJSON(ctx, "/history/"+strconv.Itoa(index), &e)
	return e, err
}

// ClearHistory removes all saved scans.
func (c *Client) ClearHistory(ctx context.Context) error {
	return c.do(ctx, http.MethodDelete, "/history", nil)
}

// Cancel stops the running scan and returns the resulting snapshot. It
// returns an *APIError with status 409 when no scan is running.
func (c *Client) Cancel(ctx context.Context) (Snapshot, error) {
	var s Snapshot
	err := c.do(ctx, http.MethodPost, "/cancel", &s)
	return s, err
}

// Stream follows the live event stream and calls fn for each event until
// fn returns an error, ctx is done or the server closes the stream. The
// first event carries the current snapshot. Returning io.EOF from fn stops
// the stream without error.
func (c *Client) Stream(ctx context.Context, fn func(Event) error) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/stream", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.checkResponse(resp); err != nil {
		return err
	}

	err = readEvents(resp.Body, func(name string, data []byte) error {
		ev, err := decodeEvent(name, data)
		if err != nil {
			return err
		}
		return fn(ev)
	})
	switch {
	case errors.Is(err, io.EOF):
		return nil
	case ctx.Err() != nil:
		return ctx.Err()
	case err == nil:
		return ErrStreamClosed
	}
	return err
}

func decodeEvent(name string, data []byte) (Event, error) {
	if name == "snapshot" {
		var s Snapshot
		if err := json.Unmarshal(data, &s); err != nil {
			return Event{}, fmt.Errorf("decode snapshot: %w", err)
		}
		return Event{Type: name, Snapshot: &s}, nil
	}
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return Event{}, fmt.Errorf("decode %s event: %w", name, err)
	}
	if ev.Type == "" {
		ev.Type = name
	}
	return ev, nil
}

// readEvents parses a text/event-stream body. Comment lines are skipped and
// multi-line data is joined with newlines. It returns nil at end of body.
func readEvents(r io.Reader, fn func(name string, data []byte) error) error {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	var name string
	var data []string
	for sc.Scan() {
		line := sc.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if err := fn(name, []byte(strings.Join(data, "\n"))); err != nil {
					return err
				}
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
		default:
			field, value, _ := strings.Cut(line, ":")
			value = strings.TrimPrefix(value, " ")
			switch field {
			case "event":
				name = value
			case "data":
				data = append(data, value)
			}
		}
	}
	return sc.Err()
}

func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodGet, path, out)
}

// do performs a request and decodes a 2xx body into out when non-nil.
func (c *Client) do(ctx context.Context, method, path string, out any) error {
	u := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.client.Do(req)
	if err != nil {
		c.logger.Debug("viewer request failed", "method", method, "url", redact(u), "error", err)
		return fmt.Errorf("do request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if err := c.checkResponse(resp); err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func (c *Client) checkResponse(resp *http.Response) error {
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	var body ErrorResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil {
		apiErr.Message = body.Error
	}
	c.logger.Debug("viewer returned an error", "status", resp.StatusCode, "error", apiErr.Message)
	return apiErr
}

// IsStatus reports whether err is an *APIError with the given HTTP status.
func IsStatus(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == code
}

func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
