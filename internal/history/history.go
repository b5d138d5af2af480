package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/loykin/scanrun/internal/metrics"
	"github.com/loykin/scanrun/internal/run"
)

// MaxEntries is the hard cap on retained records.
const MaxEntries = 50

// ErrNotFound is returned by Get for an index outside the history.
var ErrNotFound = errors.New("history entry not found")

// Store is a bounded, most-recent-first list of run records mirrored to a
// single JSON file. The in-memory list is authoritative: file errors are
// logged and counted, never returned.
//
// The file is rewritten in full on every mutation (temp file + rename), so
// a crash mid-write loses at most the latest change.
type Store struct {
	mu      sync.Mutex
	path    string
	limit   int
	records []run.Record
	log     *slog.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLimit caps the number of retained records. Values outside
// 1..MaxEntries fall back to MaxEntries.
func WithLimit(n int) Option {
	return func(s *Store) {
		if n >= 1 && n <= MaxEntries {
			s.limit = n
		}
	}
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.log = l
		}
	}
}

// New returns an empty store backed by path. Call Load to read existing
// records.
func New(path string, opts ...Option) *Store {
	s := &Store{path: path, limit: MaxEntries, log: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	s.log = s.log.With("component", "history", "path", path)
	return s
}

// DefaultPath is $XDG_STATE_HOME/scanrun/history.json, falling back to
// ~/.local/state/scanrun/history.json.
func DefaultPath() (string, error) {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return filepath.Join(dir, "scanrun", "history.json"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(home, ".local", "state", "scanrun", "history.json"), nil
}

func (s *Store) Path() string { return s.path }

// Load replaces the in-memory history with the file contents. A missing or
// unparsable file yields an empty history.
func (s *Store) Load() []run.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.records = nil
	b, err := os.ReadFile(filepath.Clean(s.path))
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		s.log.Warn("history read failed", "error", err)
		metrics.PersistError("read")
	default:
		var recs []run.Record
		if err := json.Unmarshal(b, &recs); err != nil {
			s.log.Warn("history file malformed; starting empty", "error", err)
			metrics.PersistError("decode")
			break
		}
		if len(recs) > s.limit {
			recs = recs[:s.limit]
		}
		s.records = recs
	}
	metrics.SetHistoryEntries(len(s.records))
	return s.listLocked()
}

// Append inserts rec at the front, evicts beyond the limit, persists, and
// returns the refreshed listing.
func (s *Store) Append(rec run.Record) []run.Record {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make([]run.Record, 0, min(len(s.records)+1, s.limit))
	next = append(next, rec.Clone())
	for _, r := range s.records {
		if len(next) == s.limit {
			break
		}
		next = append(next, r)
	}
	s.records = next
	s.persistLocked()
	metrics.SetHistoryEntries(len(s.records))
	return s.listLocked()
}

// Clear empties the history and removes the backing file.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = nil
	s.removeLocked()
	metrics.SetHistoryEntries(0)
}

// Teardown discards the history for good at the end of a session. History
// is session-scoped: the file only exists to survive an abnormal restart.
func (s *Store) Teardown() {
	s.Clear()
	s.log.Debug("history torn down")
}

// Get returns the record at index (0 = most recent).
func (s *Store) Get(index int) (run.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if index < 0 || index >= len(s.records) {
		return run.Record{}, fmt.Errorf("%w: index %d of %d", ErrNotFound, index, len(s.records))
	}
	return s.records[index].Clone(), nil
}

// List returns a copy of all records, most recent first.
func (s *Store) List() []run.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listLocked()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *Store) listLocked() []run.Record {
	out := make([]run.Record, len(s.records))
	for i, r := range s.records {
		out[i] = r.Clone()
	}
	return out
}

func (s *Store) persistLocked() {
	if err := writeFileAtomic(s.path, s.records); err != nil {
		s.log.Warn("history write failed", "error", err)
		metrics.PersistError("write")
	}
}

func (s *Store) removeLocked() {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		s.log.Warn("history remove failed", "error", err)
		metrics.PersistError("remove")
	}
}

func writeFileAtomic(path string, recs []run.Record) error {
	if recs == nil {
		recs = []run.Record{}
	}
	b, err := json.MarshalIndent(recs, "", "  ")
	if err != nil {
		return err
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".history-*.json")
	if err != nil {
		return err
	}
	defer func() { _ = os.Remove(tmp.Name()) }()
	if _, err := tmp.Write(b); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
