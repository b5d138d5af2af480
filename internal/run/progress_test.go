package run

import (
	"bytes"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProgress(t *testing.T) {
	tests := []struct {
		name    string
		elapsed time.Duration
		ceiling time.Duration
		want    int
	}{
		{"zero", 0, time.Minute, 0},
		{"negative", -time.Second, time.Minute, 0},
		{"half", 120 * time.Second, 240 * time.Second, 47},
		{"at ceiling", 240 * time.Second, 240 * time.Second, 95},
		{"past ceiling", time.Hour, 240 * time.Second, 95},
		{"default ceiling", 24 * time.Second, 0, 9},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Progress(tt.elapsed, tt.ceiling))
		})
	}
}

func TestProgressNeverDecreases(t *testing.T) {
	prev := 0
	for d := time.Duration(0); d <= 300*time.Second; d += 700 * time.Millisecond {
		p := Progress(d, DefaultProgressCeiling)
		require.GreaterOrEqual(t, p, prev)
		require.LessOrEqual(t, p, MaxRunningProgress)
		prev = p
	}
}

func TestElapsedText(t *testing.T) {
	assert.Equal(t, "00:00", ElapsedText(0))
	assert.Equal(t, "00:00", ElapsedText(-time.Second))
	assert.Equal(t, "00:59", ElapsedText(59*time.Second+900*time.Millisecond))
	assert.Equal(t, "02:05", ElapsedText(125*time.Second))
	assert.Equal(t, "61:01", ElapsedText(61*time.Minute+time.Second))
}

func TestStateHelpers(t *testing.T) {
	assert.True(t, StateRunning.Active())
	assert.True(t, StateCancelling.Active())
	assert.False(t, StateDone.Active())
	assert.True(t, StateDone.Terminal())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateIdle.Terminal())
	assert.Equal(t, "unknown", State(42).String())

	b, err := json.Marshal(Status{State: StateCancelling, ExitCode: intPtr(0)})
	require.NoError(t, err)
	assert.JSONEq(t, `{"state":"cancelling","exit_code":0}`, string(b))
}

func TestRecordOKAndClone(t *testing.T) {
	assert.True(t, Record{}.OK())
	assert.True(t, Record{ExitCode: intPtr(0)}.OK())
	assert.False(t, Record{ExitCode: intPtr(2)}.OK())

	r := Record{ExitCode: intPtr(1), Output: []string{"a"}}
	c := r.Clone()
	*c.ExitCode = 9
	c.Output[0] = "b"
	assert.Equal(t, 1, *r.ExitCode)
	assert.Equal(t, "a", r.Output[0])
}

type countSink struct{ lines, statuses, progress int }

func (s *countSink) OnLine(string)          { s.lines++ }
func (s *countSink) OnStatus(Status)        { s.statuses++ }
func (s *countSink) OnProgress(int, string) { s.progress++ }

func TestMultiSinkFansOut(t *testing.T) {
	a, b := &countSink{}, &countSink{}
	m := MultiSink{a, NopSink{}, b}
	m.OnLine("x")
	m.OnStatus(Status{})
	m.OnProgress(1, "")
	m.OnProgress(2, "")
	for _, s := range []*countSink{a, b} {
		assert.Equal(t, 1, s.lines)
		assert.Equal(t, 1, s.statuses)
		assert.Equal(t, 2, s.progress)
	}
}

func TestLineReaderTruncatesOversizedLines(t *testing.T) {
	long := make([]byte, maxLineBytes+10)
	for i := range long {
		long[i] = 'a'
	}
	src := append(long, []byte("\nshort\n")...)
	lr := newLineReader(bytes.NewReader(src))

	line, ok, err := lr.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Len(t, line, maxLineBytes)

	line, ok, err = lr.Next()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "short", line)

	_, ok, err = lr.Next()
	assert.False(t, ok)
	assert.Error(t, err)
}
