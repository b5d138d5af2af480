package history

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loykin/scanrun/internal/run"
)

func rec(target string, code int) run.Record {
	return run.Record{
		Target:    target,
		Command:   "scantool --url " + target,
		ExitCode:  &code,
		Output:    []string{"$ scantool --url " + target, "line"},
		Timestamp: "2026-10-17T10:00:00",
	}
}

func TestLoadMissingFileIsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "nested", "history.json"))
	assert.Empty(t, s.Load())
	assert.Equal(t, 0, s.Len())
}

func TestLoadCorruptFileIsEmpty(t *testing.T) {
	for name, content := range map[string]string{
		"garbage":    "{not json",
		"wrong type": `{"target":"x"}`,
		"empty":      "",
	} {
		t.Run(name, func(t *testing.T) {
			p := filepath.Join(t.TempDir(), "history.json")
			require.NoError(t, os.WriteFile(p, []byte(content), 0o600))
			s := New(p)
			assert.Empty(t, s.Load())
		})
	}
}

func TestAppendInsertsFirstAndPersists(t *testing.T) {
	p := filepath.Join(t.TempDir(), "state", "history.json")
	s := New(p)
	s.Load()

	s.Append(rec("https://a.example", 0))
	list := s.Append(rec("https://b.example", 1))
	require.Len(t, list, 2)
	assert.Equal(t, "https://b.example", list[0].Target)
	assert.Equal(t, "https://a.example", list[1].Target)

	b, err := os.ReadFile(p)
	require.NoError(t, err)
	var onDisk []map[string]any
	require.NoError(t, json.Unmarshal(b, &onDisk))
	require.Len(t, onDisk, 2)
	for _, k := range []string{"target", "command", "exit_code", "output", "timestamp"} {
		assert.Contains(t, onDisk[0], k)
	}
}

func TestAppendEvictsOldestAtCap(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "history.json"))
	for i := 0; i < MaxEntries; i++ {
		s.Append(rec(fmt.Sprintf("t%02d", i), 0))
	}
	require.Equal(t, MaxEntries, s.Len())

	list := s.Append(rec("newest", 0))
	require.Len(t, list, MaxEntries)
	assert.Equal(t, "newest", list[0].Target)
	assert.Equal(t, "t01", list[MaxEntries-1].Target, "t00 should have been evicted")
}

func TestWithLimit(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "history.json"), WithLimit(2))
	s.Append(rec("a", 0))
	s.Append(rec("b", 0))
	list := s.Append(rec("c", 0))
	require.Len(t, list, 2)
	assert.Equal(t, []string{"c", "b"}, []string{list[0].Target, list[1].Target})

	// out of range limits keep the default cap
	assert.Equal(t, MaxEntries, New("x", WithLimit(500)).limit)
	assert.Equal(t, MaxEntries, New("x", WithLimit(0)).limit)
}

func TestRoundTripThroughLoad(t *testing.T) {
	p := filepath.Join(t.TempDir(), "history.json")
	r := rec("https://example.com", 0)
	r.ID = "run-1"
	New(p).Append(r)

	s := New(p)
	list := s.Load()
	require.NotEmpty(t, list)
	assert.Equal(t, r, list[0])
}

func TestLoadKeepsNullExitCode(t *testing.T) {
	p := filepath.Join(t.TempDir(), "history.json")
	doc := `[{"target":"x","command":"scantool","exit_code":null,"output":["a"],"timestamp":"2026-10-17T10:00:00"}]`
	require.NoError(t, os.WriteFile(p, []byte(doc), 0o600))

	list := New(p).Load()
	require.Len(t, list, 1)
	assert.Nil(t, list[0].ExitCode)
	assert.True(t, list[0].OK())
}

func TestGet(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "history.json"))
	s.Append(rec("a", 0))
	s.Append(rec("b", 2))

	got, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "b", got.Target)

	// returned records are copies
	got.Output[0] = "changed"
	again, _ := s.Get(0)
	assert.NotEqual(t, "changed", again.Output[0])

	for _, idx := range []int{-1, 2, 100} {
		_, err := s.Get(idx)
		assert.True(t, errors.Is(err, ErrNotFound), "index %d", idx)
	}
}

func TestClearRemovesFileAndToleratesMissing(t *testing.T) {
	p := filepath.Join(t.TempDir(), "history.json")
	s := New(p)
	s.Clear() // nothing on disk yet

	s.Append(rec("a", 0))
	require.FileExists(t, p)
	s.Clear()
	assert.Equal(t, 0, s.Len())
	assert.NoFileExists(t, p)
}

func TestTeardownRemovesPersistedHistory(t *testing.T) {
	p := filepath.Join(t.TempDir(), "history.json")
	s := New(p)
	s.Append(rec("a", 0))
	s.Teardown()
	s.Teardown()
	assert.NoFileExists(t, p)
	assert.Empty(t, New(p).Load())
}

func TestWriteFailureKeepsMemory(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("path semantics differ on windows")
	}
	dir := t.TempDir()
	blocker := filepath.Join(dir, "not-a-dir")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	s := New(filepath.Join(blocker, "history.json"))
	list := s.Append(rec("a", 0))
	require.Len(t, list, 1)
	got, err := s.Get(0)
	require.NoError(t, err)
	assert.Equal(t, "a", got.Target)
}

func TestDefaultPathHonoursXDGStateHome(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", dir)
	p, err := DefaultPath()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "scanrun", "history.json"), p)
}

func TestStoreSatisfiesRecorder(t *testing.T) {
	var _ run.Recorder = New("unused")
}
