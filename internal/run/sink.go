package run

// Sink consumes what a run produces. The controller calls it synchronously
// and in event order; implementations must not call Start, Cancel or Wait
// from inside a callback.
type Sink interface {
	OnLine(text string)
	OnStatus(st Status)
	OnProgress(percent int, label string)
}

// NopSink discards everything.
type NopSink struct{}

func (NopSink) OnLine(string)          {}
func (NopSink) OnStatus(Status)        {}
func (NopSink) OnProgress(int, string) {}

// MultiSink delivers every event to each sink in order.
type MultiSink []Sink

func (m MultiSink) OnLine(text string) {
	for _, s := range m {
		s.OnLine(text)
	}
}

func (m MultiSink) OnStatus(st Status) {
	for _, s := range m {
		s.OnStatus(st)
	}
}

func (m MultiSink) OnProgress(percent int, label string) {
	for _, s := range m {
		s.OnProgress(percent, label)
	}
}

// Record is the immutable result of one finished run.
type Record struct {
	ID        string   `json:"id,omitempty"`
	Target    string   `json:"target"`
	Command   string   `json:"command"`
	ExitCode  *int     `json:"exit_code"`
	Output    []string `json:"output"`
	Timestamp string   `json:"timestamp"`
}

// TimestampLayout is ISO-8601 with second precision in local time.
const TimestampLayout = "2006-01-02T15:04:05"

// OK reports a run that exited zero or without an exit code.
func (r Record) OK() bool { return r.ExitCode == nil || *r.ExitCode == 0 }

// Clone returns a deep copy.
func (r Record) Clone() Record {
	c := r
	c.ExitCode = copyIntPtr(r.ExitCode)
	c.Output = append([]string(nil), r.Output...)
	return c
}

// Recorder receives the Record of each finished run.
type Recorder interface {
	Append(rec Record) []Record
}
