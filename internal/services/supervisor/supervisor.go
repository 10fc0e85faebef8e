package supervisor

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eric2788/webcamrec/internal/metrics"
	"github.com/eric2788/webcamrec/pkg/monitor"
	"github.com/eric2788/webcamrec/pkg/pool"
	"github.com/eric2788/webcamrec/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var logger = logrus.WithField("service", "supervisor")

const DefaultChunkSize = 8192

// outputBuffer is the number of stdout chunks queued ahead of ReadChunk.
const outputBuffer = 64

// drainTimeout bounds how long stdout is read after the process was reaped,
// in case a grandchild still holds the pipe open.
const drainTimeout = 2 * time.Second

var (
	ErrLaunchFailed     = fmt.Errorf("process launch failed")
	ErrProcessCrashed   = fmt.Errorf("process exited unexpectedly")
	ErrRetryCapExceeded = fmt.Errorf("restart retry cap exceeded")
	ErrAlreadyRunning   = fmt.Errorf("process already running")
	ErrNotRunning       = fmt.Errorf("process not running")
	ErrFinished         = fmt.Errorf("supervisor already finished")
)

type Command struct {
	Path string
	Args []string
	Dir  string
	Env  []string
}

func (c Command) String() string {
	return strings.Join(append([]string{c.Path}, c.Args...), " ")
}

// ExitError is returned by ReadChunk at the point in the stream where the
// process died. The next chunk, if any, comes from the replacement process.
type ExitError struct {
	Process string
	RunID   uuid.UUID
	Pid     int
	Code    int
	Stalled bool
	Uptime  time.Duration
	Err     error
}

func (e *ExitError) Error() string {
	reason := fmt.Sprintf("exit code %d", e.Code)
	if e.Stalled {
		reason = "output stalled"
	} else if e.Err != nil && e.Code < 0 {
		reason = e.Err.Error()
	}
	return fmt.Sprintf("%s (pid %d) %v after %v: %s", e.Process, e.Pid, ErrProcessCrashed, e.Uptime.Round(time.Millisecond), reason)
}

func (e *ExitError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrProcessCrashed}
	}
	return []error{ErrProcessCrashed, e.Err}
}

type EventKind int

const (
	EventStarted EventKind = iota
	EventExited
	EventStalled
	EventFatal
)

func (k EventKind) String() string {
	switch k {
	case EventStarted:
		return "started"
	case EventExited:
		return "exited"
	case EventStalled:
		return "stalled"
	case EventFatal:
		return "fatal"
	}
	return "unknown"
}

type Event struct {
	Kind     EventKind
	Process  string
	RunID    uuid.UUID
	Pid      int
	Code     int
	Restarts int
	Err      error
	At       time.Time
}

type ProcessInfo struct {
	RunID      uuid.UUID `json:"run_id" swaggertype:"string" format:"uuid"`
	Pid        int       `json:"pid"`
	StartedAt  time.Time `json:"started_at"`
	Restarts   int       `json:"restarts"`
	LastOutput time.Time `json:"last_output"`
	Running    bool      `json:"running"`
}

type Option func(*Supervisor)

func WithPolicy(p Policy) Option {
	return func(s *Supervisor) {
		s.policy = p
	}
}

func WithChunkSize(n int) Option {
	return func(s *Supervisor) {
		if n > 0 {
			s.chunkSize = n
		}
	}
}

// WithStdin switches the supervisor to feeding mode: callers Write into the
// child's stdin and the child's stdout is only logged.
func WithStdin() Option {
	return func(s *Supervisor) {
		s.stdinMode = true
	}
}

// WithBeforeStart runs fn before every launch, restarts included.
func WithBeforeStart(fn func() error) Option {
	return func(s *Supervisor) {
		s.beforeStart = fn
	}
}

// WithLogger replaces the default entry tagged with the process name.
func WithLogger(l *logrus.Entry) Option {
	return func(s *Supervisor) {
		s.logger = l
	}
}

type frame struct {
	data []byte
	err  error
}

type process struct {
	cmd       *exec.Cmd
	runID     uuid.UUID
	startedAt time.Time
	stdin     io.WriteCloser
	activity  *monitor.ActivityReader
	stderr    *io.PipeWriter

	exited   chan struct{}
	waitErr  error
	readDone chan struct{}
	stdout   *os.File
	stalled  atomic.Bool
}

func (p *process) pid() int {
	return p.cmd.Process.Pid
}

// Supervisor owns at most one instance of an external process at a time,
// restarting it on unexpected exits until its Policy gives up.
type Supervisor struct {
	name         string
	cmd          Command
	policy       Policy
	chunkSize   int
	stdinMode   bool
	beforeStart func() error
	logger      *logrus.Entry
	bufs        *pool.BytesPool
	limiter     *rate.Limiter

	mu       sync.Mutex
	started  bool
	stopping bool
	proc     *process
	restarts int
	lastOut  time.Time
	err      error
	cancel   context.CancelFunc

	frames   chan frame
	events   chan Event
	done     chan struct{}
	doneOnce sync.Once
}

func New(name string, cmd Command, opts ...Option) *Supervisor {
	s := &Supervisor{
		name:      name,
		cmd:       cmd,
		policy:    DefaultPolicy(),
		chunkSize: DefaultChunkSize,
		logger:    logger.WithField("process", name),
		events:    make(chan Event, 64),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.bufs = pool.NewBytesPool(s.chunkSize)
	s.limiter = s.policy.limiter()
	s.frames = make(chan frame, outputBuffer)
	return s
}

func (s *Supervisor) Name() string {
	return s.name
}

// Start launches the process and returns once it is running. Later restarts
// happen in the background and are reported through Events.
func (s *Supervisor) Start(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	if s.started {
		finished := s.isFinished()
		s.mu.Unlock()
		if finished {
			return ErrFinished
		}
		return ErrAlreadyRunning
	}
	s.started = true
	runCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	p, err := s.launch(runCtx)
	if err != nil {
		cancel()
		s.finish()
		return err
	}
	go s.loop(runCtx, p)
	return nil
}

func (s *Supervisor) isFinished() bool {
	select {
	case <-s.done:
		return true
	default:
		return false
	}
}

// ReadChunk returns the next chunk of stdout. At a process exit it returns an
// *ExitError once; io.EOF means the supervisor finished and nothing follows.
func (s *Supervisor) ReadChunk(ctx context.Context) ([]byte, error) {
	select {
	case f, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return f.data, f.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Events is never closed; use Done to learn when the supervisor finished.
func (s *Supervisor) Events() <-chan Event {
	return s.events
}

func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// Err is the reason the supervisor gave up, nil after a requested Stop.
func (s *Supervisor) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *Supervisor) Info() ProcessInfo {
	s.mu.Lock()
	defer s.mu.Unlock()
	info := ProcessInfo{Restarts: s.restarts, LastOutput: s.lastOut}
	if p := s.proc; p != nil {
		info.RunID = p.runID
		info.Pid = p.pid()
		info.StartedAt = p.startedAt
		info.Running = true
		if p.activity != nil {
			info.LastOutput = p.activity.LastActivity()
		}
	}
	return info
}

// Stdin exposes the supervisor as a writer feeding the current child.
func (s *Supervisor) Stdin() io.Writer {
	return s
}

// Write sends b to the stdin of the running process. It fails with
// ErrNotRunning while the process is down between restarts.
func (s *Supervisor) Write(b []byte) (int, error) {
	s.mu.Lock()
	p := s.proc
	s.mu.Unlock()
	if p == nil || p.stdin == nil {
		return 0, ErrNotRunning
	}
	return p.stdin.Write(b)
}

// Stop terminates the process group and returns after it was reaped.
// It is safe to call more than once and on a supervisor that never started.
func (s *Supervisor) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.started {
		s.started = true
		s.mu.Unlock()
		s.finish()
		return nil
	}
	s.stopping = true
	p := s.proc
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if p != nil {
		s.terminate(p)
	}

	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Supervisor) launch(ctx context.Context) (*process, error) {
	if s.beforeStart != nil {
		if err := s.beforeStart(); err != nil {
			s.logger.Warnf("pre-launch hook failed: %v", err)
		}
	}

	cmd := exec.Command(s.cmd.Path, s.cmd.Args...)
	cmd.Dir = s.cmd.Dir
	if len(s.cmd.Env) > 0 {
		cmd.Env = append(os.Environ(), s.cmd.Env...)
	}
	setProcessGroup(cmd)
	cmd.WaitDelay = s.policy.StopGrace

	p := &process{
		cmd:      cmd,
		runID:    uuid.New(),
		exited:   make(chan struct{}),
		readDone: make(chan struct{}),
	}
	p.stderr = s.logger.WithField("stream", "stderr").WriterLevel(logrus.DebugLevel)
	cmd.Stderr = p.stderr

	var stdoutWriter *os.File
	if s.stdinMode {
		stdin, err := cmd.StdinPipe()
		if err != nil {
			_ = p.stderr.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrLaunchFailed, s.name, err)
		}
		p.stdin = stdin
		cmd.Stdout = p.stderr
		close(p.readDone)
	} else {
		r, w, err := os.Pipe()
		if err != nil {
			_ = p.stderr.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrLaunchFailed, s.name, err)
		}
		p.stdout, stdoutWriter = r, w
		cmd.Stdout = w
	}

	s.mu.Lock()
	if s.stopping || ctx.Err() != nil {
		s.mu.Unlock()
		p.abandon(stdoutWriter)
		return nil, context.Canceled
	}
	if err := cmd.Start(); err != nil {
		s.mu.Unlock()
		p.abandon(stdoutWriter)
		return nil, fmt.Errorf("%w: %s: %w", ErrLaunchFailed, s.cmd.Path, err)
	}
	p.startedAt = time.Now()
	s.proc = p
	restarts := s.restarts
	s.mu.Unlock()

	metrics.IncProcessStart(s.name)
	l := s.logger.WithField("pid", p.pid())
	l.Infof("started %s (run %s)", s.cmd, p.runID)

	go func() {
		p.waitErr = cmd.Wait()
		_ = p.stderr.Close()
		close(p.exited)
	}()

	if stdoutWriter != nil {
		// only the child keeps the write end open, so EOF means it is gone
		_ = stdoutWriter.Close()
		p.activity = monitor.NewActivityReader(p.stdout, nil)
		go s.read(ctx, p)
		if s.policy.StallTimeout > 0 {
			go s.watchdog(p)
		}
	}

	s.emit(Event{Kind: EventStarted, RunID: p.runID, Pid: p.pid(), Restarts: restarts})
	return p, nil
}

func (p *process) abandon(w *os.File) {
	_ = p.stderr.Close()
	if w != nil {
		_ = w.Close()
	}
	if p.stdout != nil {
		_ = p.stdout.Close()
	}
	if p.stdin != nil {
		_ = p.stdin.Close()
	}
}

func (s *Supervisor) read(ctx context.Context, p *process) {
	defer close(p.readDone)
	defer p.stdout.Close()
	for {
		buf := s.bufs.GetBytes()
		n, err := p.activity.Read(buf)
		if n > 0 && !s.send(ctx, frame{data: pool.Clone(buf, n)}) {
			s.bufs.PutBytes(buf)
			return
		}
		s.bufs.PutBytes(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				s.logger.Debugf("stdout read ended: %v", err)
			}
			return
		}
	}
}

func (s *Supervisor) send(ctx context.Context, f frame) bool {
	select {
	case s.frames <- f:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Supervisor) watchdog(p *process) {
	interval := max(s.policy.StallTimeout/4, 10*time.Millisecond)
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-p.exited:
			return
		case <-ticker.C:
			if idle := p.activity.IdleFor(); idle >= s.policy.StallTimeout {
				s.logger.Warnf("no output for %v, killing pid %d", idle.Round(time.Millisecond), p.pid())
				p.stalled.Store(true)
				s.emit(Event{Kind: EventStalled, RunID: p.runID, Pid: p.pid()})
				metrics.IncProcessSignal(s.name, "SIGKILL")
				_ = killGroup(p.pid())
				return
			}
		}
	}
}

// await blocks until p was reaped and its stdout fully drained.
func (s *Supervisor) await(p *process) *ExitError {
	<-p.exited
	select {
	case <-p.readDone:
	case <-time.After(drainTimeout):
		_ = p.stdout.Close()
		<-p.readDone
	}

	exit := &ExitError{
		Process: s.name,
		RunID:   p.runID,
		Pid:     p.pid(),
		Code:    p.cmd.ProcessState.ExitCode(),
		Stalled: p.stalled.Load(),
		Uptime:  time.Since(p.startedAt),
		Err:     p.waitErr,
	}

	s.mu.Lock()
	if s.proc == p {
		s.proc = nil
	}
	if p.activity != nil {
		s.lastOut = p.activity.LastActivity()
	}
	s.mu.Unlock()
	return exit
}

func (s *Supervisor) loop(ctx context.Context, p *process) {
	defer s.finish()
	failures := 0
	for {
		if p == nil {
			var err error
			p, err = s.launch(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				failures++
				s.logger.Errorf("relaunch failed (%d in a row): %v", failures, err)
				if s.policy.capReached(failures) {
					s.fail(failures, err)
					return
				}
				if !s.pause(ctx, failures) {
					return
				}
				continue
			}
		}

		exit := s.await(p)
		p = nil
		if ctx.Err() != nil {
			metrics.IncProcessExit(s.name, "stop")
			s.logger.Infof("pid %d stopped (exit code %d)", exit.Pid, exit.Code)
			return
		}

		if s.policy.StableAfter > 0 && exit.Uptime >= s.policy.StableAfter {
			failures = 0
		}
		failures++
		metrics.IncProcessExit(s.name, utils.Ternary(exit.Stalled, "stall", "crash"))
		s.logger.Warnf("%v (%d in a row)", exit, failures)
		s.emit(Event{Kind: EventExited, RunID: exit.RunID, Pid: exit.Pid, Code: exit.Code, Err: exit})
		if !s.stdinMode && !s.send(ctx, frame{err: exit}) {
			return
		}

		if s.policy.capReached(failures) {
			s.fail(failures, exit)
			return
		}
		if !s.pause(ctx, failures) {
			return
		}
	}
}

// pause sleeps the backoff for the given failure count and then waits for
// the restart rate limiter. It reports false when the supervisor is stopping.
func (s *Supervisor) pause(ctx context.Context, failures int) bool {
	delay := s.policy.Backoff(failures)
	s.logger.Infof("restarting in %v", delay)
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return false
	}
	if err := s.limiter.Wait(ctx); err != nil {
		return false
	}
	s.mu.Lock()
	s.restarts++
	s.mu.Unlock()
	return true
}

func (s *Supervisor) fail(failures int, cause error) {
	err := fmt.Errorf("%w: %s failed %d times in a row: %w", ErrRetryCapExceeded, s.name, failures, cause)
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	metrics.IncProcessFatal(s.name)
	s.logger.Error(err)
	s.emit(Event{Kind: EventFatal, Err: err})
}

func (s *Supervisor) finish() {
	s.mu.Lock()
	s.proc = nil
	s.mu.Unlock()
	s.doneOnce.Do(func() {
		close(s.frames)
		close(s.done)
	})
}

// terminate closes stdin (feeding mode) to let the child flush, then SIGTERM,
// then SIGKILL, each step bounded by the stop grace period.
func (s *Supervisor) terminate(p *process) {
	grace := s.policy.StopGrace
	l := s.logger.WithField("pid", p.pid())

	select {
	case <-p.exited:
		return
	default:
	}

	if p.stdin != nil {
		_ = p.stdin.Close()
		select {
		case <-p.exited:
			return
		case <-time.After(grace):
		}
	}

	if err := terminateGroup(p.pid()); err != nil {
		l.Warnf("SIGTERM failed: %v", err)
	}
	metrics.IncProcessSignal(s.name, "SIGTERM")
	select {
	case <-p.exited:
		return
	case <-time.After(grace):
	}

	l.Warnf("still alive after %v, sending SIGKILL", grace)
	if err := killGroup(p.pid()); err != nil {
		l.Errorf("SIGKILL failed: %v", err)
	}
	metrics.IncProcessSignal(s.name, "SIGKILL")
	<-p.exited
}

func (s *Supervisor) emit(e Event) {
	e.Process = s.name
	e.At = time.Now()
	select {
	case s.events <- e:
	default:
		s.logger.Warnf("event buffer full, dropping %s event", e.Kind)
	}
}
