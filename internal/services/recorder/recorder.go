package recorder

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eric2788/webcamrec/internal/metrics"
	"github.com/eric2788/webcamrec/internal/modules/config"
	"github.com/eric2788/webcamrec/internal/processors"
	"github.com/eric2788/webcamrec/internal/services/supervisor"
	"github.com/eric2788/webcamrec/pkg/pipeline"
	"github.com/eric2788/webcamrec/pkg/splitter"
	"github.com/eric2788/webcamrec/utils"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

var logger = logrus.WithField("service", "recorder")

var (
	ErrAlreadyRunning = fmt.Errorf("camera is already running")
	ErrInvalidState   = fmt.Errorf("operation not allowed in current state")
	ErrStartupTimeout = fmt.Errorf("camera produced no output before startup timeout")
	ErrUnknownSetting = fmt.Errorf("unknown setting")
	ErrInvalidValue   = fmt.Errorf("invalid setting value")
)

const (
	SettingRecording = "is_recording"

	packagerSinkID = "packager"
	segmentSinkID  = "segment"
)

// run holds everything owned by one Start..Stop cycle. Supervisors are
// single use, so every cycle gets fresh ones.
type run struct {
	ctx    context.Context
	cancel context.CancelFunc

	splitter *splitter.Splitter
	writer   *processors.SegmentWriter
	packager *processors.StreamPackager
	capture  *supervisor.Supervisor

	firstChunk chan struct{}
	firstOnce  sync.Once
	fatal      chan error
	pumpDone   chan struct{}
	wg         sync.WaitGroup
	bytes      *xsync.Counter
}

type Option func(*Service)

func WithCaptureCommand(cmd supervisor.Command) Option {
	return func(s *Service) { s.captureCmd = cmd }
}

func WithEncoderCommand(cmd supervisor.Command) Option {
	return func(s *Service) { s.encoderCmd = cmd }
}

func WithPolicy(p supervisor.Policy) Option {
	return func(s *Service) { s.policy = p }
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) { s.clock = clock }
}

// WithFinalizers sets the pipeline run on every published segment.
func WithFinalizers(pipe *pipeline.Pipe[processors.SegmentInfo]) Option {
	return func(s *Service) { s.finalize = pipe }
}

// Service coordinates the capture process, the always-on HLS stream and the
// optional segment recording.
type Service struct {
	cfg        *config.Config
	captureCmd supervisor.Command
	encoderCmd supervisor.Command
	policy     supervisor.Policy
	clock      func() time.Time
	finalize   *pipeline.Pipe[processors.SegmentInfo]

	// lifecycle serializes Start and Stop, mu guards the fields below it.
	lifecycle sync.Mutex

	mu              sync.Mutex
	state           State
	recording       bool
	desired         *bool
	failedComponent string
	lastErr         error
	startedAt       time.Time
	current         *run

	finals      sync.WaitGroup
	lastSegment atomic.Pointer[processors.SegmentInfo]
	segments    *xsync.Counter
	failures    *xsync.Counter
}

func New(cfg *config.Config, opts ...Option) *Service {
	s := &Service{
		cfg:        cfg,
		captureCmd: CaptureCommand(cfg),
		encoderCmd: EncoderCommand(cfg),
		policy:     policyFromConfig(cfg),
		clock:      time.Now,
		segments:   xsync.NewCounter(),
		failures:   xsync.NewCounter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	metrics.SetState(s.state.String(), allStates)
	return s
}

// Start launches capture and the encoder and returns once the first chunk of
// video arrived. Recording resumes if it was requested while stopped.
func (s *Service) Start(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	if s.state != Stopped && s.state != Failed {
		state := s.state
		s.mu.Unlock()
		return fmt.Errorf("%w (%s)", ErrAlreadyRunning, state)
	}
	if s.current != nil {
		// a failed run whose teardown has not happened yet
		r := s.current
		s.mu.Unlock()
		if err := s.teardown(context.Background(), r); err != nil {
			logger.Warnf("teardown of failed run: %v", err)
		}
		s.mu.Lock()
		s.current = nil
	}
	s.setStateLocked(Starting)
	s.failedComponent = ""
	s.lastErr = nil
	s.mu.Unlock()

	logger.Infof("starting camera: %s", s.captureCmd)
	err := s.startRun(ctx)
	if err != nil {
		s.mu.Lock()
		if s.state == Starting {
			s.setStateLocked(Stopped)
		}
		s.lastErr = err
		s.mu.Unlock()
		s.logFailure(err)
	}
	return err
}

func (s *Service) startRun(ctx context.Context) error {
	for _, dir := range []string{s.cfg.SaveDir, s.cfg.HLSDir} {
		if err := utils.EnsureDir(dir); err != nil {
			return fmt.Errorf("%w: %w", supervisor.ErrLaunchFailed, err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	r := &run{
		ctx:        runCtx,
		cancel:     cancel,
		firstChunk: make(chan struct{}),
		fatal:      make(chan error, 2),
		pumpDone:   make(chan struct{}),
		bytes:      xsync.NewCounter(),
	}
	r.splitter = splitter.New(
		splitter.WithBuffer(s.cfg.SinkBufferChunks),
		splitter.WithOnDrop(metrics.IncSinkDropped),
	)
	r.writer = processors.NewSegmentWriter(processors.SegmentWriterConfig{
		Dir:          s.cfg.SaveDir,
		Duration:     s.cfg.SegmentDuration,
		MinFreeBytes: s.cfg.MinFreeBytes,
		Clock:        s.clock,
		OnClosed:     s.segmentClosed,
		OnFailure:    func(err error) { s.storageFailed(r, err) },
	})

	encoderPolicy := s.policy
	encoderPolicy.StallTimeout = 0
	r.packager = processors.NewStreamPackager(processors.StreamPackagerConfig{
		HLSDir:  s.cfg.HLSDir,
		Command: s.encoderCmd,
		Policy:  encoderPolicy,
	})
	if err := r.packager.Start(ctx); err != nil {
		cancel()
		r.splitter.Close()
		return fmt.Errorf("encoder: %w", err)
	}
	if err := r.splitter.Attach(packagerSinkID, r.packager); err != nil {
		cancel()
		r.splitter.Close()
		return errors.Join(err, r.packager.Stop(context.Background()))
	}

	r.capture = supervisor.New("capture", s.captureCmd,
		supervisor.WithPolicy(s.policy),
		supervisor.WithChunkSize(s.cfg.ChunkSize),
	)
	if err := r.capture.Start(ctx); err != nil {
		cancel()
		r.splitter.Close()
		return errors.Join(fmt.Errorf("capture: %w", err), r.packager.Stop(context.Background()))
	}

	s.mu.Lock()
	s.current = r
	s.startedAt = s.clock()
	s.mu.Unlock()

	r.wg.Add(3)
	go s.pump(r)
	go s.watch(r, "capture", r.capture)
	go s.watch(r, "encoder", r.packager.Supervisor())

	timer := time.NewTimer(s.cfg.StartupTimeout)
	defer timer.Stop()

	var failure error
	select {
	case <-r.firstChunk:
	case err := <-r.fatal:
		failure = err
	case <-timer.C:
		failure = fmt.Errorf("%w (%s)", ErrStartupTimeout, s.cfg.StartupTimeout)
	case <-ctx.Done():
		failure = ctx.Err()
	}
	if failure != nil {
		terr := s.teardown(context.Background(), r)
		s.mu.Lock()
		s.current = nil
		s.mu.Unlock()
		if terr != nil {
			logger.Warnf("teardown after failed start: %v", terr)
		}
		return failure
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != Starting {
		// a fatal error won the race with the first chunk; its teardown
		// runs once the lifecycle lock is released
		return s.lastErr
	}
	s.setStateLocked(Streaming)
	want := s.cfg.RecordOnStart
	if s.desired != nil {
		want = *s.desired
		s.desired = nil
	}
	if want {
		if err := s.applyLocked(r, true); err != nil {
			logger.Warnf("cannot resume recording: %v", err)
		}
	}
	logger.Infof("camera streaming to %s", r.packager.PlaylistPath())
	return nil
}

// pump moves chunks from the capture supervisor into the splitter until the
// supervisor finished.
func (s *Service) pump(r *run) {
	defer r.wg.Done()
	defer close(r.pumpDone)
	for {
		data, err := r.capture.ReadChunk(r.ctx)
		if err != nil {
			var exit *supervisor.ExitError
			if errors.As(err, &exit) {
				logger.Warnf("capture stream interrupted: %v", exit)
				r.splitter.Boundary()
				continue
			}
			return
		}
		r.firstOnce.Do(func() { close(r.firstChunk) })
		metrics.AddChunk(len(data))
		r.bytes.Add(int64(len(data)))
		if err := r.splitter.Write(data); err != nil {
			return
		}
	}
}

func (s *Service) watch(r *run, component string, sup *supervisor.Supervisor) {
	defer r.wg.Done()
	log := logger.WithField("process", component)
	for {
		select {
		case ev := <-sup.Events():
			switch ev.Kind {
			case supervisor.EventExited, supervisor.EventStalled:
				log.Warnf("%s (pid %d, code %d, restarts %d): %v", ev.Kind, ev.Pid, ev.Code, ev.Restarts, ev.Err)
				if ev.Err != nil {
					s.logFailure(fmt.Errorf("%s %s: %w", component, ev.Kind, ev.Err))
				}
			default:
				log.Debugf("%s (pid %d)", ev.Kind, ev.Pid)
			}
		case <-sup.Done():
			if err := sup.Err(); err != nil {
				s.fail(r, component, err)
			}
			return
		case <-r.ctx.Done():
			return
		}
	}
}

// fail moves to Failed after a supervisor gave up. Recording is closed right
// away, the processes are torn down in the background.
func (s *Service) fail(r *run, component string, err error) {
	s.mu.Lock()
	if s.current != r || s.state == Stopping || s.state == Failed {
		s.mu.Unlock()
		return
	}
	s.setStateLocked(Failed)
	s.failedComponent = component
	s.lastErr = fmt.Errorf("%s: %w", component, err)
	s.recording = false
	s.mu.Unlock()

	r.splitter.Detach(segmentSinkID)
	if cerr := r.writer.Close(); cerr != nil {
		logger.Warnf("closing segment after failure: %v", cerr)
	}
	logger.Errorf("%s failed permanently: %v", component, err)
	s.logFailure(fmt.Errorf("%s: %w", component, err))

	select {
	case r.fatal <- err:
	default:
	}

	go func() {
		s.lifecycle.Lock()
		defer s.lifecycle.Unlock()
		s.mu.Lock()
		owned := s.current == r
		s.mu.Unlock()
		if !owned {
			return
		}
		if terr := s.teardown(context.Background(), r); terr != nil {
			logger.Warnf("teardown after failure: %v", terr)
		}
		s.mu.Lock()
		if s.current == r {
			s.current = nil
		}
		s.mu.Unlock()
	}()
}

// storageFailed runs after the segment writer disabled itself. Streaming
// keeps going.
func (s *Service) storageFailed(r *run, err error) {
	metrics.StorageFailuresTotal.Inc()
	s.logFailure(err)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current != r || !s.recording || r.writer.Enabled() {
		return
	}
	r.splitter.Detach(segmentSinkID)
	s.recording = false
	s.lastErr = err
	s.setStateLocked(Streaming)
	logger.Errorf("recording stopped after storage failure: %v", err)
}

// SetRecording turns segment recording on or off. Requests made while the
// camera is stopped or starting are applied once streaming begins.
func (s *Service) SetRecording(want bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case Stopped, Starting:
		s.desired = &want
		logger.Infof("recording=%t queued until camera is streaming", want)
		return nil
	case Stopping, Failed:
		return fmt.Errorf("%w: cannot change recording while %s", ErrInvalidState, s.state)
	}
	if s.recording == want {
		return nil
	}
	return s.applyLocked(s.current, want)
}

func (s *Service) applyLocked(r *run, want bool) error {
	if want {
		if err := r.writer.Enable(); err != nil {
			return err
		}
		if err := r.splitter.Attach(segmentSinkID, r.writer); err != nil {
			return errors.Join(err, r.writer.Disable())
		}
		s.recording = true
		s.setStateLocked(StreamingAndRecording)
		logger.Info("recording started")
		return nil
	}

	r.splitter.Detach(segmentSinkID)
	err := r.writer.Disable()
	s.recording = false
	s.setStateLocked(Streaming)
	logger.Info("recording stopped")
	return err
}

// OnSettingChanged applies a host setting update.
func (s *Service) OnSettingChanged(name, value string) error {
	if name != SettingRecording {
		return fmt.Errorf("%w: %s", ErrUnknownSetting, name)
	}
	want, err := utils.ParseBool(value)
	if err != nil {
		return fmt.Errorf("%w: %s=%q", ErrInvalidValue, name, value)
	}
	return s.SetRecording(want)
}

// Settings reports the effective setting values.
func (s *Service) Settings() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	recording := s.recording
	if s.desired != nil {
		recording = *s.desired
	}
	return map[string]string{SettingRecording: fmt.Sprint(recording)}
}

func (s *Service) IsRecording() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.recording
}

func (s *Service) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stop closes the open segment, stops both processes and waits for segment
// finalization. It is valid in every state.
func (s *Service) Stop(ctx context.Context) error {
	s.lifecycle.Lock()
	defer s.lifecycle.Unlock()

	s.mu.Lock()
	r := s.current
	s.desired = nil
	if r == nil {
		s.recording = false
		s.setStateLocked(Stopped)
		s.mu.Unlock()
		s.finals.Wait()
		return nil
	}
	s.setStateLocked(Stopping)
	s.mu.Unlock()

	logger.Info("stopping camera")
	err := s.teardown(ctx, r)

	s.mu.Lock()
	s.current = nil
	s.recording = false
	s.setStateLocked(Stopped)
	s.mu.Unlock()

	s.finals.Wait()
	if err != nil {
		logger.Warnf("camera stopped with errors: %v", err)
		return err
	}
	logger.Info("camera stopped")
	return nil
}

// teardown closes recording and stops capture in parallel, then drains the
// splitter into the encoder before stopping it. The drain waits at most one
// stop grace period: an encoder that stopped reading its stdin is stopped
// regardless, which also fails the write the packager lane is blocked in.
func (s *Service) teardown(ctx context.Context, r *run) error {
	var g errgroup.Group
	g.Go(func() error {
		r.splitter.Detach(segmentSinkID)
		return r.writer.Close()
	})
	g.Go(func() error {
		err := r.capture.Stop(ctx)
		select {
		case <-r.pumpDone:
		case <-ctx.Done():
		}
		return err
	})
	err := g.Wait()

	r.cancel()
	r.wg.Wait()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		r.splitter.Close()
	}()
	timeout := s.drainTimeout()
	grace := time.NewTimer(timeout)
	defer grace.Stop()
	select {
	case <-drained:
	case <-grace.C:
		logger.Warnf("encoder took no input for %v, stopping it undrained", timeout)
	case <-ctx.Done():
	}
	err = errors.Join(err, r.packager.Stop(ctx))
	<-drained
	return err
}

func (s *Service) drainTimeout() time.Duration {
	if s.policy.StopGrace > 0 {
		return s.policy.StopGrace
	}
	return supervisor.DefaultPolicy().StopGrace
}

// segmentClosed runs with the segment writer locked, so finalization is
// handed off to its own goroutine.
func (s *Service) segmentClosed(info processors.SegmentInfo) {
	metrics.ObserveSegment(string(info.Reason), info.Bytes)
	s.segments.Inc()
	s.lastSegment.Store(&info)
	if s.finalize == nil || s.finalize.Len() == 0 {
		return
	}
	s.finals.Add(1)
	go func() {
		defer s.finals.Done()
		ctx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
		defer cancel()
		if _, err := s.finalize.Process(ctx, info); err != nil {
			logger.WithField("segment", info.Name).Warnf("segment finalization failed: %v", err)
		}
	}()
}

func (s *Service) setStateLocked(next State) {
	if s.state == next {
		return
	}
	logger.Debugf("state %s -> %s", s.state, next)
	s.state = next
	metrics.SetState(next.String(), allStates)
}

// logFailure appends err to ERROR_LOG when configured.
func (s *Service) logFailure(err error) {
	s.failures.Inc()
	if s.cfg.ErrorLog == "" || err == nil {
		return
	}
	line := fmt.Sprintf("%s %v", s.clock().Format(time.RFC3339), err)
	if werr := utils.AppendLine(s.cfg.ErrorLog, line); werr != nil {
		logger.Warnf("cannot write error log: %v", werr)
	}
}
