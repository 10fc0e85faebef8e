package processors

import (
	"bufio"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/eric2788/webcamrec/utils"
	"github.com/google/renameio/v2"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("pkg", "processors")

var (
	ErrStorageWrite      = fmt.Errorf("segment storage write failed")
	ErrInsufficientSpace = fmt.Errorf("insufficient free space")
)

// Segment files are named <prefix><timestamp><ext> unless configured otherwise.
const (
	DefaultSegmentPrefix = "raw_"
	DefaultSegmentExt    = ".h264"
)

type CloseReason string

const (
	ReasonRotated  CloseReason = "rotated"
	ReasonDisabled CloseReason = "disabled"
	ReasonBoundary CloseReason = "boundary"
	ReasonFailed   CloseReason = "failed"
	ReasonShutdown CloseReason = "shutdown"
)

// SegmentInfo describes a published segment file.
type SegmentInfo struct {
	Name      string      `json:"name"`
	Path      string      `json:"path"`
	Bytes     int64       `json:"bytes"`
	Chunks    int64       `json:"chunks"`
	StartedAt time.Time   `json:"started_at"`
	ClosedAt  time.Time   `json:"closed_at"`
	Reason    CloseReason `json:"reason"`
}

type SegmentWriterConfig struct {
	Dir      string
	Duration time.Duration
	Prefix   string
	Ext      string
	// BufferSize of the bufio writer in front of the segment file.
	BufferSize    int
	FlushInterval time.Duration
	// MinFreeBytes of zero disables the free space check.
	MinFreeBytes uint64
	Clock        func() time.Time

	// OnClosed runs with the writer locked and must not call back into it.
	OnClosed func(SegmentInfo)
	// OnFailure runs on its own goroutine after the writer disabled itself.
	OnFailure func(error)
}

type segment struct {
	name      string
	path      string
	file      *renameio.PendingFile
	w         *bufio.Writer
	bytes     int64
	chunks    int64
	createdAt time.Time
	flushedAt time.Time
}

// SegmentWriter is a splitter sink appending chunks to time-rotated files.
// At most one segment is open; a published file is never written again.
type SegmentWriter struct {
	cfg    SegmentWriterConfig
	logger *logrus.Entry

	mu       sync.Mutex
	enabled  bool
	current  *segment
	lastName string
}

func NewSegmentWriter(cfg SegmentWriterConfig) *SegmentWriter {
	cfg.Prefix = utils.EmptyOrElse(cfg.Prefix, DefaultSegmentPrefix)
	cfg.Ext = utils.EmptyOrElse(cfg.Ext, DefaultSegmentExt)
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = 1024 * 1024
	}
	if cfg.FlushInterval <= 0 {
		cfg.FlushInterval = 5 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	return &SegmentWriter{
		cfg:    cfg,
		logger: logger.WithField("processor", "segment-writer"),
	}
}

// Enable starts a fresh segment. Calling it while enabled does nothing.
func (w *SegmentWriter) Enable() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enabled {
		return nil
	}
	seg, err := w.open()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	w.current = seg
	w.enabled = true
	return nil
}

// Disable publishes the open segment, if any. Later chunks are discarded.
func (w *SegmentWriter) Disable() error {
	return w.shutdown(ReasonDisabled)
}

// Close is Disable for process shutdown.
func (w *SegmentWriter) Close() error {
	return w.shutdown(ReasonShutdown)
}

func (w *SegmentWriter) shutdown(reason CloseReason) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.enabled {
		return nil
	}
	w.enabled = false
	if err := w.closeCurrent(reason); err != nil {
		return fmt.Errorf("%w: %w", ErrStorageWrite, err)
	}
	return nil
}

func (w *SegmentWriter) Enabled() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.enabled
}

// Current reports the open segment.
func (w *SegmentWriter) Current() (SegmentInfo, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.current == nil {
		return SegmentInfo{}, false
	}
	return w.current.info(), true
}

// Boundary publishes the open segment because the upstream stream was cut.
// The next chunk starts a new one.
func (w *SegmentWriter) Boundary() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.enabled || w.current == nil {
		return
	}
	if err := w.closeCurrent(ReasonBoundary); err != nil {
		w.failLocked(err)
	}
}

// Accept appends chunk to the open segment, rotating first when the current
// one is at least Duration old. A chunk is never split across files.
func (w *SegmentWriter) Accept(chunk []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.enabled {
		return nil
	}

	now := w.cfg.Clock()
	if w.current != nil && w.cfg.Duration > 0 && now.Sub(w.current.createdAt) >= w.cfg.Duration {
		if err := w.closeCurrent(ReasonRotated); err != nil {
			return w.failLocked(err)
		}
	}
	if w.current == nil {
		seg, err := w.open()
		if err != nil {
			return w.failLocked(err)
		}
		w.current = seg
	}

	seg := w.current
	n, err := seg.w.Write(chunk)
	seg.bytes += int64(n)
	if err == nil {
		seg.chunks++
		if now.Sub(seg.flushedAt) >= w.cfg.FlushInterval {
			err = seg.w.Flush()
			seg.flushedAt = now
		}
	}
	if err != nil {
		return w.failLocked(err)
	}
	return nil
}

// failLocked publishes whatever reached the file, disables the writer and
// reports the failure asynchronously.
func (w *SegmentWriter) failLocked(cause error) error {
	if w.current != nil {
		if err := w.closeCurrent(ReasonFailed); err != nil {
			w.logger.Warnf("cannot publish failed segment: %v", err)
		}
	}
	w.enabled = false
	err := fmt.Errorf("%w: %w", ErrStorageWrite, cause)
	w.logger.Warnf("recording disabled: %v", err)
	if w.cfg.OnFailure != nil {
		go w.cfg.OnFailure(err)
	}
	return err
}

func (w *SegmentWriter) open() (*segment, error) {
	if w.cfg.MinFreeBytes > 0 {
		usage, err := disk.Usage(w.cfg.Dir)
		if err != nil {
			return nil, fmt.Errorf("cannot stat %s: %w", w.cfg.Dir, err)
		}
		if usage.Free < w.cfg.MinFreeBytes {
			return nil, fmt.Errorf("%w: %d MB left in %s", ErrInsufficientSpace, usage.Free/1024/1024, w.cfg.Dir)
		}
	}

	now := w.cfg.Clock()
	name, err := w.nextName(now)
	if err != nil {
		return nil, err
	}
	path := filepath.Join(w.cfg.Dir, name)
	pf, err := renameio.NewPendingFile(path,
		renameio.WithTempDir(w.cfg.Dir),
		renameio.WithPermissions(0o644),
	)
	if err != nil {
		return nil, fmt.Errorf("create pending segment: %w", err)
	}

	w.lastName = name
	w.logger.WithField("segment", name).Infof("segment opened")
	return &segment{
		name:      name,
		path:      path,
		file:      pf,
		w:         bufio.NewWriterSize(pf, w.cfg.BufferSize),
		createdAt: now,
		flushedAt: now,
	}, nil
}

// nextName derives the file name from the open time, adding -N when a file
// for the same second already exists.
func (w *SegmentWriter) nextName(t time.Time) (string, error) {
	base := utils.SegmentName(w.cfg.Prefix, t, w.cfg.Ext)
	name := base
	for i := 1; ; i++ {
		_, err := os.Stat(filepath.Join(w.cfg.Dir, name))
		if errors.Is(err, fs.ErrNotExist) && name != w.lastName {
			return name, nil
		}
		if err != nil && !errors.Is(err, fs.ErrNotExist) {
			return "", err
		}
		name = fmt.Sprintf("%s-%d%s", strings.TrimSuffix(base, w.cfg.Ext), i, w.cfg.Ext)
	}
}

func (w *SegmentWriter) closeCurrent(reason CloseReason) error {
	seg := w.current
	if seg == nil {
		return nil
	}
	w.current = nil

	flushErr := seg.w.Flush()
	if err := seg.file.CloseAtomicallyReplace(); err != nil {
		_ = seg.file.Cleanup()
		return fmt.Errorf("publish %s: %w", seg.name, errors.Join(flushErr, err))
	}

	info := seg.info()
	info.ClosedAt = w.cfg.Clock()
	info.Reason = reason
	w.logger.WithField("segment", seg.name).Infof("segment closed (%s, %d bytes)", reason, seg.bytes)
	if w.cfg.OnClosed != nil {
		w.cfg.OnClosed(info)
	}
	return flushErr
}

func (s *segment) info() SegmentInfo {
	return SegmentInfo{
		Name:      s.name,
		Path:      s.path,
		Bytes:     s.bytes,
		Chunks:    s.chunks,
		StartedAt: s.createdAt,
	}
}
