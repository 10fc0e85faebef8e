package recorder_test

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eric2788/webcamrec/internal/modules/config"
	"github.com/eric2788/webcamrec/internal/processors"
	"github.com/eric2788/webcamrec/internal/services/catalog"
	"github.com/eric2788/webcamrec/internal/services/recorder"
	"github.com/eric2788/webcamrec/internal/services/supervisor"
	"github.com/eric2788/webcamrec/pkg/db"
	"github.com/eric2788/webcamrec/pkg/pipeline"
	"github.com/shirou/gopsutil/v4/process"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// counter writes consecutive zero padded numbers, one 8 byte record each.
const counter = `i=0; while :; do printf '%08d' "$i"; i=$((i+1)); sleep 0.005; done`

type collector struct {
	mu    sync.Mutex
	infos []processors.SegmentInfo
}

func (c *collector) Open(context.Context, *logrus.Entry) error { return nil }

func (c *collector) Process(_ context.Context, _ *logrus.Entry, info processors.SegmentInfo) (processors.SegmentInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.infos = append(c.infos, info)
	return info, nil
}

func (c *collector) Close() error { return nil }

// chronological returns the closed segments ordered by open time.
func (c *collector) chronological() []processors.SegmentInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := append([]processors.SegmentInfo(nil), c.infos...)
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.Before(out[j].StartedAt) })
	return out
}

type harness struct {
	svc       *recorder.Service
	cfg       *config.Config
	encoded   string
	collected *collector
}

func shell(script string) supervisor.Command {
	return supervisor.Command{Path: "sh", Args: []string{"-c", script}}
}

func newHarness(t *testing.T, capture supervisor.Command, mutate ...func(*config.Config)) *harness {
	t.Helper()
	return newHarnessWithEncoder(t, capture, `cat >> "$OUT"`, mutate...)
}

// newHarnessWithEncoder runs encoderScript as the encoder, with $OUT naming
// the file the harness reads as the encoded stream.
func newHarnessWithEncoder(t *testing.T, capture supervisor.Command, encoderScript string, mutate ...func(*config.Config)) *harness {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		SaveDir:            filepath.Join(root, "segments"),
		HLSDir:             filepath.Join(root, "hls"),
		ErrorLog:           filepath.Join(root, "error.log"),
		SegmentDuration:    time.Hour,
		ChunkSize:          4096,
		SinkBufferChunks:   4096,
		MaxRestartAttempts: 3,
		RestartBackoff:     20 * time.Millisecond,
		StopGrace:          time.Second,
		StartupTimeout:     5 * time.Second,
	}
	for _, m := range mutate {
		m(cfg)
	}

	h := &harness{
		cfg:       cfg,
		encoded:   filepath.Join(root, "encoded.h264"),
		collected: &collector{},
	}
	encoder := shell(encoderScript)
	encoder.Env = []string{"OUT=" + h.encoded}
	h.svc = recorder.New(cfg,
		recorder.WithCaptureCommand(capture),
		recorder.WithEncoderCommand(encoder),
		recorder.WithFinalizers(pipeline.New(
			pipeline.NewProcessorInfo[processors.SegmentInfo]("collector", h.collected),
		)),
	)
	t.Cleanup(func() { h.stop(t) })
	return h
}

func (h *harness) stop(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Stop(ctx))
}

func (h *harness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	require.NoError(t, h.svc.Start(ctx))
}

func (h *harness) segments(t *testing.T) []string {
	t.Helper()
	entries, err := os.ReadDir(h.cfg.SaveDir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		require.False(t, strings.HasPrefix(e.Name(), "."), "pending segment left behind: %s", e.Name())
		names = append(names, e.Name())
	}
	return names
}

func waitForCapture(t *testing.T, svc *recorder.Service, d time.Duration) {
	t.Helper()
	before := svc.Stats().CapturedBytes
	require.Eventually(t, func() bool {
		return svc.Stats().CapturedBytes > before
	}, 5*time.Second, 5*time.Millisecond)
	time.Sleep(d)
}

func assertGone(t *testing.T, pids ...int) {
	t.Helper()
	for _, pid := range pids {
		require.NotZero(t, pid)
		exists, err := process.PidExists(int32(pid))
		require.NoError(t, err)
		assert.False(t, exists, "pid %d still running", pid)
	}
}

// assertCounting checks that data is the uninterrupted counter output from zero.
func assertCounting(t *testing.T, data []byte) {
	t.Helper()
	require.NotEmpty(t, data)
	require.Zero(t, len(data)%8, "partial record in %d bytes", len(data))
	for i := 0; i*8 < len(data); i++ {
		n, err := strconv.Atoi(string(data[i*8 : i*8+8]))
		require.NoError(t, err)
		require.Equal(t, i, n, "gap in stream at record %d", i)
	}
}

func TestRecorder_StartStopLeavesNoProcesses(t *testing.T) {
	h := newHarness(t, shell(counter))
	h.start(t)

	st := h.svc.Status()
	assert.Equal(t, recorder.Streaming, st.State)
	assert.False(t, st.Recording)
	require.NotNil(t, st.Capture)
	require.NotNil(t, st.Encoder)
	capturePid, encoderPid := st.Capture.Pid, st.Encoder.Pid

	stats := h.svc.Stats()
	assert.Contains(t, stats.Processes, "capture")
	assert.Contains(t, stats.Processes, "encoder")

	h.stop(t)
	assert.Equal(t, recorder.Stopped, h.svc.State())
	assertGone(t, capturePid, encoderPid)
	assert.Empty(t, h.segments(t))

	// stop is valid when already stopped
	h.stop(t)
}

func TestRecorder_SecondStartRejected(t *testing.T) {
	h := newHarness(t, shell(counter))
	h.start(t)
	assert.ErrorIs(t, h.svc.Start(context.Background()), recorder.ErrAlreadyRunning)
}

func TestRecorder_ToggleProducesOneSegmentPerWindow(t *testing.T) {
	h := newHarness(t, shell(counter))
	h.start(t)

	const windows = 3
	for range windows {
		require.NoError(t, h.svc.SetRecording(true))
		assert.Equal(t, recorder.StreamingAndRecording, h.svc.State())
		waitForCapture(t, h.svc, 50*time.Millisecond)
		require.NoError(t, h.svc.SetRecording(false))
		assert.Equal(t, recorder.Streaming, h.svc.State())
	}
	h.stop(t)

	assert.Len(t, h.segments(t), windows)
	for _, info := range h.collected.chronological() {
		assert.Positive(t, info.Bytes)
		assert.Equal(t, processors.ReasonDisabled, info.Reason)
	}

	// the stream never stopped while recording toggled
	data, err := os.ReadFile(h.encoded)
	require.NoError(t, err)
	assertCounting(t, data)
}

func TestRecorder_SetRecordingIsIdempotent(t *testing.T) {
	h := newHarness(t, shell(counter))
	h.start(t)

	require.NoError(t, h.svc.SetRecording(true))
	require.NoError(t, h.svc.SetRecording(true))
	waitForCapture(t, h.svc, 20*time.Millisecond)
	require.NoError(t, h.svc.SetRecording(false))
	require.NoError(t, h.svc.SetRecording(false))
	h.stop(t)

	assert.Len(t, h.segments(t), 1)
}

func TestRecorder_RotationIsContiguous(t *testing.T) {
	h := newHarness(t, shell(counter), func(c *config.Config) {
		c.SegmentDuration = 200 * time.Millisecond
	})
	h.start(t)
	require.NoError(t, h.svc.SetRecording(true))
	time.Sleep(900 * time.Millisecond)
	h.stop(t)

	infos := h.collected.chronological()
	require.GreaterOrEqual(t, len(infos), 3)
	assert.Len(t, h.segments(t), len(infos))

	var recorded bytes.Buffer
	for i, info := range infos {
		data, err := os.ReadFile(info.Path)
		require.NoError(t, err)
		recorded.Write(data)
		if i < len(infos)-1 {
			assert.Equal(t, processors.ReasonRotated, info.Reason)
		}
	}
	assert.Equal(t, processors.ReasonShutdown, infos[len(infos)-1].Reason)

	encoded, err := os.ReadFile(h.encoded)
	require.NoError(t, err)
	assertCounting(t, encoded)
	assert.True(t, bytes.Contains(encoded, recorded.Bytes()), "segments must be a contiguous slice of the stream")
}

func TestRecorder_QueuedRecordingAppliedOnStart(t *testing.T) {
	h := newHarness(t, shell(counter))
	require.NoError(t, h.svc.SetRecording(true))
	assert.Equal(t, "true", h.svc.Settings()[recorder.SettingRecording])
	assert.Equal(t, recorder.Stopped, h.svc.State())

	h.start(t)
	assert.Equal(t, recorder.StreamingAndRecording, h.svc.State())
	assert.True(t, h.svc.IsRecording())
	st := h.svc.Status()
	require.NotNil(t, st.CurrentSegment)
}

func TestRecorder_RecordOnStart(t *testing.T) {
	h := newHarness(t, shell(counter), func(c *config.Config) { c.RecordOnStart = true })
	h.start(t)
	assert.True(t, h.svc.IsRecording())
}

func TestRecorder_OnSettingChanged(t *testing.T) {
	h := newHarness(t, shell(counter))
	h.start(t)

	require.NoError(t, h.svc.OnSettingChanged(recorder.SettingRecording, "1"))
	assert.True(t, h.svc.IsRecording())
	require.NoError(t, h.svc.OnSettingChanged(recorder.SettingRecording, "false"))
	assert.False(t, h.svc.IsRecording())

	assert.ErrorIs(t, h.svc.OnSettingChanged("brightness", "10"), recorder.ErrUnknownSetting)
	assert.ErrorIs(t, h.svc.OnSettingChanged(recorder.SettingRecording, "maybe"), recorder.ErrInvalidValue)
}

func TestRecorder_CaptureCrashStartsNewSegment(t *testing.T) {
	crashing := `i=0; while [ $i -lt 20 ]; do printf '%08d' "$i"; i=$((i+1)); sleep 0.01; done; exit 1`
	h := newHarness(t, shell(crashing), func(c *config.Config) {
		c.MaxRestartAttempts = 0
	})
	h.start(t)
	require.NoError(t, h.svc.SetRecording(true))

	require.Eventually(t, func() bool {
		st := h.svc.Status()
		return st.Capture != nil && st.Capture.Restarts >= 1 && len(h.collected.chronological()) >= 1
	}, 10*time.Second, 10*time.Millisecond)
	waitForCapture(t, h.svc, 20*time.Millisecond)

	st := h.svc.Status()
	assert.Equal(t, recorder.StreamingAndRecording, st.State)
	assert.True(t, st.Recording)
	h.stop(t)

	infos := h.collected.chronological()
	require.GreaterOrEqual(t, len(infos), 2)
	assert.Equal(t, processors.ReasonBoundary, infos[0].Reason)

	first, err := os.ReadFile(infos[0].Path)
	require.NoError(t, err)
	assert.True(t, bytes.HasSuffix(first, []byte("00000019")), "first segment ends with the crashed run")
	second, err := os.ReadFile(infos[1].Path)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(second, []byte("00000000")), "next segment starts with the restarted run")

	logged, err := os.ReadFile(h.cfg.ErrorLog)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "capture")
}

func TestRecorder_RetryCapMovesToFailed(t *testing.T) {
	h := newHarness(t, shell(`printf 'x'; exit 1`))
	h.start(t)

	require.Eventually(t, func() bool {
		return h.svc.State() == recorder.Failed
	}, 10*time.Second, 10*time.Millisecond)

	st := h.svc.Status()
	assert.Equal(t, "capture", st.FailedComponent)
	assert.Contains(t, st.Error, supervisor.ErrRetryCapExceeded.Error())
	assert.False(t, st.Recording)
	assert.ErrorIs(t, h.svc.SetRecording(true), recorder.ErrInvalidState)

	// nothing restarts by itself once failed
	require.Eventually(t, func() bool {
		st := h.svc.Status()
		return st.Capture == nil
	}, 10*time.Second, 10*time.Millisecond)
	assert.Equal(t, recorder.Failed, h.svc.State())

	// an explicit start is allowed again
	h.start(t)
}

func TestRecorder_StartupTimeout(t *testing.T) {
	h := newHarness(t, shell(`exec sleep 30`), func(c *config.Config) {
		c.StartupTimeout = 300 * time.Millisecond
	})
	err := h.svc.Start(context.Background())
	assert.ErrorIs(t, err, recorder.ErrStartupTimeout)
	assert.Equal(t, recorder.Stopped, h.svc.State())
	assert.Contains(t, h.svc.Status().Error, "startup timeout")
}

func TestRecorder_LaunchFailure(t *testing.T) {
	h := newHarness(t, supervisor.Command{Path: "/nonexistent/rpicam-vid"})
	err := h.svc.Start(context.Background())
	assert.ErrorIs(t, err, supervisor.ErrLaunchFailed)
	assert.Equal(t, recorder.Stopped, h.svc.State())
	assert.Nil(t, h.svc.Status().Encoder, "encoder must be stopped again")
}

func TestRecorder_StorageFailureKeepsStreaming(t *testing.T) {
	h := newHarness(t, shell(counter), func(c *config.Config) {
		c.SegmentDuration = 100 * time.Millisecond
	})
	h.start(t)
	require.NoError(t, h.svc.SetRecording(true))
	waitForCapture(t, h.svc, 20*time.Millisecond)

	require.NoError(t, os.RemoveAll(h.cfg.SaveDir))
	require.Eventually(t, func() bool {
		return h.svc.State() == recorder.Streaming
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, h.svc.IsRecording())
	assert.Contains(t, h.svc.Status().Error, processors.ErrStorageWrite.Error())

	// streaming continues after recording was dropped
	waitForCapture(t, h.svc, 20*time.Millisecond)
	assert.Equal(t, recorder.Streaming, h.svc.State())
}

func TestRecorder_IndexesSegments(t *testing.T) {
	client, err := db.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	index, err := catalog.NewService(client)
	require.NoError(t, err)

	root := t.TempDir()
	cfg := &config.Config{
		SaveDir:          filepath.Join(root, "segments"),
		HLSDir:           filepath.Join(root, "hls"),
		SegmentDuration:  time.Hour,
		ChunkSize:        4096,
		SinkBufferChunks: 256,
		StopGrace:        time.Second,
		StartupTimeout:   5 * time.Second,
	}
	encoder := shell(`cat > /dev/null`)
	svc := recorder.New(cfg,
		recorder.WithCaptureCommand(shell(counter)),
		recorder.WithEncoderCommand(encoder),
		recorder.WithFinalizers(pipeline.New(processors.NewCatalogIndexer(index))),
	)
	require.NoError(t, svc.Start(context.Background()))
	require.NoError(t, svc.SetRecording(true))
	waitForCapture(t, svc, 20*time.Millisecond)
	require.NoError(t, svc.Stop(context.Background()))

	entries, err := index.List(0)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, string(processors.ReasonShutdown), entries[0].Reason)
	assert.Positive(t, entries[0].Bytes)
}

func TestRecorder_StopIsBoundedWhenEncoderHangs(t *testing.T) {
	flood := `head -c 10000000 /dev/zero; exec sleep 60`
	h := newHarnessWithEncoder(t, shell(flood), `exec sleep 60`, func(c *config.Config) {
		c.StopGrace = 300 * time.Millisecond
	})
	h.start(t)
	require.NoError(t, h.svc.SetRecording(true))

	st := h.svc.Status()
	require.NotNil(t, st.Encoder)
	encoderPid := st.Encoder.Pid
	// well past the pipe buffer, so the packager lane is stuck writing stdin
	require.Eventually(t, func() bool {
		return h.svc.Stats().CapturedBytes >= 1<<20
	}, 5*time.Second, 10*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	begin := time.Now()
	require.NoError(t, h.svc.Stop(ctx))
	assert.Less(t, time.Since(begin), 5*time.Second)

	assert.Equal(t, recorder.Stopped, h.svc.State())
	assertGone(t, encoderPid)
	assert.Len(t, h.segments(t), 1)
}

func TestRecorder_EncoderCrashRestartsIndependently(t *testing.T) {
	h := newHarnessWithEncoder(t, shell(counter), `head -c 2000 > /dev/null`, func(c *config.Config) {
		c.MaxRestartAttempts = 0
	})
	h.start(t)
	require.NoError(t, h.svc.SetRecording(true))

	require.Eventually(t, func() bool {
		st := h.svc.Status()
		return st.Encoder != nil && st.Encoder.Restarts >= 1
	}, 10*time.Second, 10*time.Millisecond)

	st := h.svc.Status()
	assert.Equal(t, recorder.StreamingAndRecording, st.State)
	assert.True(t, st.Recording)
	require.NotNil(t, st.Capture)
	assert.Zero(t, st.Capture.Restarts, "capture keeps running while the encoder restarts")
	require.NotNil(t, st.CurrentSegment)

	// the open segment keeps growing across the encoder restart
	before := st.CurrentSegment.Bytes
	waitForCapture(t, h.svc, 50*time.Millisecond)
	after := h.svc.Status().CurrentSegment
	require.NotNil(t, after)
	assert.Equal(t, st.CurrentSegment.Name, after.Name)
	assert.Greater(t, after.Bytes, before)
}

func TestRecorder_EncoderRetryCapMovesToFailed(t *testing.T) {
	h := newHarnessWithEncoder(t, shell(counter), `sleep 0.3; exit 1`)
	h.start(t)
	require.NoError(t, h.svc.SetRecording(true))
	capturePid := h.svc.Status().Capture.Pid

	require.Eventually(t, func() bool {
		return h.svc.State() == recorder.Failed
	}, 15*time.Second, 10*time.Millisecond)

	st := h.svc.Status()
	assert.Equal(t, "encoder", st.FailedComponent)
	assert.Contains(t, st.Error, supervisor.ErrRetryCapExceeded.Error())
	assert.False(t, st.Recording)

	// capture is torn down with the failed run and the segment is published
	require.Eventually(t, func() bool {
		return h.svc.Status().Capture == nil
	}, 10*time.Second, 10*time.Millisecond)
	assertGone(t, capturePid)
	assert.Len(t, h.segments(t), 1)

	logged, err := os.ReadFile(h.cfg.ErrorLog)
	require.NoError(t, err)
	assert.Contains(t, string(logged), "encoder")
}

func TestRecorder_RemuxDeferredOnlyWhileRecordingUnderLoad(t *testing.T) {
	busy := newHarness(t, shell(counter), func(c *config.Config) { c.RemuxCPUPercent = 0 })
	assert.False(t, busy.svc.RemuxDeferred(), "nothing records while stopped")
	busy.start(t)
	assert.False(t, busy.svc.RemuxDeferred(), "streaming alone never defers")
	require.NoError(t, busy.svc.SetRecording(true))
	assert.True(t, busy.svc.RemuxDeferred())

	quiet := newHarness(t, shell(counter), func(c *config.Config) { c.RemuxCPUPercent = 101 })
	quiet.start(t)
	require.NoError(t, quiet.svc.SetRecording(true))
	assert.False(t, quiet.svc.RemuxDeferred(), "load below the limit lets remuxing run while recording")
}
