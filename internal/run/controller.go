package run

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/loykin/scanrun/internal/command"
	"github.com/loykin/scanrun/internal/metrics"
)

var (
	// ErrRunActive is returned by Start while a run is Running or Cancelling.
	ErrRunActive = errors.New("a scan is already running")
	// ErrLaunch wraps the reason a child process could not be created.
	ErrLaunch = errors.New("scan could not be launched")
)

const (
	DefaultGracePeriod  = 5 * time.Second
	DefaultDrainTimeout = 2 * time.Second
	killReapTimeout     = 2 * time.Second
)

// Options tune a Controller. The zero value is usable; DefaultOptions
// additionally echoes the command line into the output.
type Options struct {
	GracePeriod     time.Duration // SIGTERM to SIGKILL escalation window
	ProgressCeiling time.Duration // see Progress
	DrainTimeout    time.Duration // output drain window after the child exits
	EchoCommand     bool          // record "$ <command>" as the first output line
	WorkDir         string        // empty means the current directory
	Env             []string      // nil inherits the environment
	SampleInterval  time.Duration // child resource sampling; 0 disables
	Logger          *slog.Logger
	Now             func() time.Time
}

func DefaultOptions() Options {
	return Options{
		GracePeriod:     DefaultGracePeriod,
		ProgressCeiling: DefaultProgressCeiling,
		DrainTimeout:    DefaultDrainTimeout,
		EchoCommand:     true,
	}
}

func (o Options) withDefaults() Options {
	if o.GracePeriod <= 0 {
		o.GracePeriod = DefaultGracePeriod
	}
	if o.ProgressCeiling <= 0 {
		o.ProgressCeiling = DefaultProgressCeiling
	}
	if o.DrainTimeout <= 0 {
		o.DrainTimeout = DefaultDrainTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	return o
}

// Snapshot is a point-in-time copy of the controller's observable state.
type Snapshot struct {
	RunID         string    `json:"run_id,omitempty"`
	State         State     `json:"state"`
	Target        string    `json:"target,omitempty"`
	Command       string    `json:"command,omitempty"`
	PID           int       `json:"pid,omitempty"`
	StartedAt     time.Time `json:"started_at,omitempty"`
	Progress      int       `json:"progress"`
	ProgressLabel string    `json:"progress_label,omitempty"`
	Lines         int       `json:"lines"`
	Status        Status    `json:"status"`
}

// Controller owns the lifecycle of at most one scan process at a time.
//
// Lock order: emitMu, then mu. emitMu serializes Sink delivery so lines
// reach the sink in production order and never after the terminal status;
// mu guards the session fields and is never held while calling the sink.
type Controller struct {
	opts     Options
	sink     Sink
	recorder Recorder
	log      *slog.Logger

	emitMu sync.Mutex
	mu     sync.Mutex

	state         State
	active        *handle
	current       *handle // most recent launched run, kept after finalize
	runID         string
	target        string
	rendered      string
	lines         []string
	startedAt     time.Time
	progress      int
	progressLabel string
	last          Status
}

// handle is one spawned child and the goroutines serving it.
type handle struct {
	cmd    *exec.Cmd
	reader *os.File

	streamDone chan struct{} // reader goroutine returned
	exited     chan struct{} // cmd.Wait returned; exit is valid afterwards
	finalized  chan struct{} // finalize completed; final is valid afterwards

	exit        *int
	final       Status
	cancelled   bool // guarded by Controller.mu
	closeOnce   sync.Once
	stopSampler func()
}

func (h *handle) closeReader() {
	h.closeOnce.Do(func() { _ = h.reader.Close() })
}

// exitCode returns the child's exit code once it has been reaped.
func (h *handle) exitCode() *int {
	select {
	case <-h.exited:
		return copyIntPtr(h.exit)
	default:
		return nil
	}
}

// NewController returns an idle controller. sink may be nil; recorder may be
// nil when history is not kept.
func NewController(sink Sink, recorder Recorder, opts Options) *Controller {
	if sink == nil {
		sink = NopSink{}
	}
	opts = opts.withDefaults()
	return &Controller{
		opts:     opts,
		sink:     sink,
		recorder: recorder,
		log:      opts.Logger.With("component", "run"),
		state:    StateIdle,
	}
}

// Start launches d. target labels the run for display and history. It
// returns ErrRunActive without side effects while another run is active,
// and an error wrapping ErrLaunch when the executable cannot be started;
// in that case the sink gets a Failed status and the controller stays Idle.
func (c *Controller) Start(d command.Descriptor, target string) error {
	if err := d.Validate(); err != nil {
		return err
	}

	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.active != nil {
		c.mu.Unlock()
		return ErrRunActive
	}

	h, err := c.spawn(d)
	if err != nil {
		c.state = StateIdle
		c.current = nil
		st := Status{State: StateFailed, Message: fmt.Sprintf("%s could not be started: %v", d.Executable(), err)}
		c.last = st
		c.progress = 0
		c.progressLabel = "Idle"
		c.mu.Unlock()

		c.sink.OnProgress(0, "Idle")
		c.sink.OnStatus(st)
		metrics.LaunchFailed()
		c.log.Warn("scan launch failed", "executable", d.Executable(), "error", err)
		return fmt.Errorf("%w: %w", ErrLaunch, err)
	}

	now := c.opts.Now()
	c.active = h
	c.current = h
	c.state = StateRunning
	c.runID = uuid.NewString()
	c.target = target
	c.rendered = d.Render()
	c.lines = nil
	c.startedAt = now
	c.progress = 0
	c.progressLabel = "Ready"
	echo := ""
	if c.opts.EchoCommand {
		echo = "$ " + c.rendered
		c.lines = append(c.lines, echo)
	}
	st := Status{State: StateRunning, Message: "Scan running…"}
	c.last = st
	runID := c.runID
	pid := h.cmd.Process.Pid
	c.mu.Unlock()

	c.sink.OnProgress(0, "Ready")
	c.sink.OnStatus(st)
	if echo != "" {
		c.sink.OnLine(echo)
	}

	h.stopSampler = metrics.SampleProcess(pid, c.opts.SampleInterval)
	metrics.RunStarted()
	metrics.SetRunActive(true)
	c.log.Info("scan started", "run_id", runID, "target", target, "pid", pid)

	go c.read(h)
	go c.wait(h)
	go c.monitor(h)
	return nil
}

// spawn creates the child with stdout and stderr merged into one pipe and
// no stdin.
func (c *Controller) spawn(d command.Descriptor) (*handle, error) {
	pr, pw, err := os.Pipe()
	if err != nil {
		return nil, err
	}
	// #nosec G204 -- the operator chooses the scanner and its arguments
	cmd := exec.Command(d.Executable(), d.Args()...)
	cmd.Dir = c.opts.WorkDir
	if c.opts.Env != nil {
		cmd.Env = c.opts.Env
	}
	cmd.Stdout = pw
	cmd.Stderr = pw
	configureSysProcAttr(cmd)

	if err := cmd.Start(); err != nil {
		_ = pr.Close()
		_ = pw.Close()
		return nil, err
	}
	// The child holds its own copy of the write end.
	_ = pw.Close()

	return &handle{
		cmd:         cmd,
		reader:      pr,
		streamDone:  make(chan struct{}),
		exited:      make(chan struct{}),
		finalized:   make(chan struct{}),
		stopSampler: func() {},
	}, nil
}

func (c *Controller) read(h *handle) {
	defer close(h.streamDone)
	lr := newLineReader(h.reader)
	for {
		line, ok, err := lr.Next()
		if ok && !c.deliverLine(h, line) {
			return
		}
		if err != nil {
			return
		}
	}
}

// deliverLine appends line to the session and forwards it. It returns false
// once h has been finalized.
func (c *Controller) deliverLine(h *handle, line string) bool {
	c.emitMu.Lock()
	defer c.emitMu.Unlock()

	c.mu.Lock()
	if c.active != h {
		c.mu.Unlock()
		return false
	}
	c.lines = append(c.lines, line)
	elapsed := c.opts.Now().Sub(c.startedAt)
	if pct := Progress(elapsed, c.opts.ProgressCeiling); pct > c.progress {
		c.progress = pct
	}
	verb := "Running"
	if c.state == StateCancelling {
		verb = "Stopping"
	}
	c.progressLabel = verb + " • " + ElapsedText(elapsed)
	pct, label := c.progress, c.progressLabel
	c.mu.Unlock()

	c.sink.OnLine(line)
	c.sink.OnProgress(pct, label)
	metrics.OutputLine()
	return true
}

func (c *Controller) wait(h *handle) {
	_ = h.cmd.Wait()
	h.exit = exitCode(h.cmd.ProcessState)
	close(h.exited)
}

// monitor finalizes a run that ends on its own.
func (c *Controller) monitor(h *handle) {
	<-h.exited
	c.drain(h)
	c.finalize(h)
}

// drain gives the reader a bounded window to reach end of stream after the
// child exited, then closes the read end. A grandchild that inherited the
// pipe cannot keep the run open past that.
func (c *Controller) drain(h *handle) {
	select {
	case <-h.streamDone:
	case <-time.After(c.opts.DrainTimeout):
		c.log.Debug("output did not reach EOF after exit; closing stream")
	}
	h.closeReader()
}

// Cancel stops the active run: SIGTERM, up to GracePeriod for the child to
// exit, then SIGKILL. It returns once the run is finalized. Without an
// active run, or while a cancel is already in progress, it does nothing.
// A child that already exited on its own is not relabelled as cancelled;
// Cancel waits for its normal finalize instead.
func (c *Controller) Cancel() {
	c.emitMu.Lock()
	c.mu.Lock()
	h := c.active
	if h == nil || c.state != StateRunning {
		c.mu.Unlock()
		c.emitMu.Unlock()
		return
	}
	select {
	case <-h.exited:
		c.mu.Unlock()
		c.emitMu.Unlock()
		<-h.finalized
		return
	default:
	}
	c.state = StateCancelling
	h.cancelled = true
	st := Status{State: StateCancelling, Message: "Stopping scan…"}
	c.last = st
	runID := c.runID
	c.mu.Unlock()
	c.sink.OnStatus(st)
	c.emitMu.Unlock()

	c.log.Info("cancelling scan", "run_id", runID, "pid", h.cmd.Process.Pid)
	if err := terminate(h.cmd); err != nil {
		c.log.Debug("terminate failed", "run_id", runID, "error", err)
	}
	select {
	case <-h.exited:
	case <-time.After(c.opts.GracePeriod):
		c.log.Warn("scan ignored termination; killing", "run_id", runID, "grace", c.opts.GracePeriod)
		_ = forceKill(h.cmd)
		select {
		case <-h.exited:
		case <-time.After(killReapTimeout):
		}
	}
	c.drain(h)
	c.finalize(h)
	<-h.finalized
}

// finalize is the single exit path of a run. It runs its body at most once
// per handle: the first caller clears c.active under the lock, later callers
// see a different handle and return.
func (c *Controller) finalize(h *handle) {
	c.emitMu.Lock()
	c.mu.Lock()
	if c.active != h {
		c.mu.Unlock()
		c.emitMu.Unlock()
		return
	}
	c.active = nil
	h.closeReader()

	now := c.opts.Now()
	elapsed := now.Sub(c.startedAt)
	code := h.exitCode()
	st := Status{ExitCode: code, Cancelled: h.cancelled, Elapsed: elapsed}
	var verb string
	switch {
	case h.cancelled:
		st.State, st.Message, verb = StateDone, "Scan cancelled.", "Cancelled"
	case code != nil && *code != 0:
		st.State, st.Message, verb = StateFailed, fmt.Sprintf("Scan finished with exit code %d", *code), "Failed"
	default:
		st.State, st.Message, verb = StateDone, "Scan finished.", "Done"
	}
	label := verb + " • " + ElapsedText(elapsed)
	c.state = st.State
	c.progress = 100
	c.progressLabel = label
	c.last = st

	var rec *Record
	if c.target != "" && len(c.lines) > 0 {
		rec = &Record{
			ID:        c.runID,
			Target:    c.target,
			Command:   c.rendered,
			ExitCode:  copyIntPtr(code),
			Output:    append([]string(nil), c.lines...),
			Timestamp: now.Format(TimestampLayout),
		}
	}
	runID := c.runID
	c.mu.Unlock()

	h.stopSampler()
	c.sink.OnProgress(100, label)
	c.sink.OnStatus(st)
	c.emitMu.Unlock()

	if rec != nil && c.recorder != nil {
		c.recorder.Append(*rec)
	}
	metrics.SetRunActive(false)
	metrics.RunFinished(outcome(st), elapsed.Seconds())
	c.log.Info("scan finished", "run_id", runID, "state", st.State, "exit_code", derefOr(code, -1), "cancelled", st.Cancelled, "elapsed", elapsed.Round(time.Millisecond))

	h.final = st
	close(h.finalized)
}

// Wait blocks until the most recent run is completely finalized, history
// included, and returns its final status. Before any run, or after a launch
// failure, it returns the last reported status.
func (c *Controller) Wait(ctx context.Context) (Status, error) {
	c.mu.Lock()
	h := c.current
	last := c.last
	c.mu.Unlock()
	if h == nil {
		return last, nil
	}
	select {
	case <-h.finalized:
		return h.final, nil
	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// State returns the current lifecycle state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Running reports whether a child process is active.
func (c *Controller) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active != nil
}

// Lines returns a copy of the current (or last) run's output.
func (c *Controller) Lines() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.lines...)
}

// Snapshot returns the observable state without the output lines.
func (c *Controller) Snapshot() Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := Snapshot{
		RunID:         c.runID,
		State:         c.state,
		Target:        c.target,
		Command:       c.rendered,
		StartedAt:     c.startedAt,
		Progress:      c.progress,
		ProgressLabel: c.progressLabel,
		Lines:         len(c.lines),
		Status:        c.last,
	}
	s.Status.ExitCode = copyIntPtr(c.last.ExitCode)
	if c.active != nil && c.active.cmd.Process != nil {
		s.PID = c.active.cmd.Process.Pid
	}
	return s
}

func outcome(st Status) string {
	switch {
	case st.Cancelled:
		return "cancelled"
	case st.State == StateFailed:
		return "failed"
	default:
		return "done"
	}
}

func derefOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}
