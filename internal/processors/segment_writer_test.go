package processors_test

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/eric2788/webcamrec/internal/processors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type closedLog struct {
	mu    sync.Mutex
	infos []processors.SegmentInfo
}

func (l *closedLog) add(info processors.SegmentInfo) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.infos = append(l.infos, info)
}

func (l *closedLog) all() []processors.SegmentInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]processors.SegmentInfo(nil), l.infos...)
}

func newWriter(t *testing.T, clock *fakeClock, mutate ...func(*processors.SegmentWriterConfig)) (*processors.SegmentWriter, string, *closedLog) {
	t.Helper()
	dir := t.TempDir()
	log := &closedLog{}
	cfg := processors.SegmentWriterConfig{
		Dir:      dir,
		Duration: time.Minute,
		Clock:    clock.Now,
		OnClosed: log.add,
	}
	for _, m := range mutate {
		m(&cfg)
	}
	return processors.NewSegmentWriter(cfg), dir, log
}

// segmentFiles lists published segments in name order, failing on leftovers
// of pending files.
func segmentFiles(t *testing.T, dir string) []string {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var names []string
	for _, e := range entries {
		require.False(t, strings.HasPrefix(e.Name(), "."), "pending file left behind: %s", e.Name())
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names
}

func readAll(t *testing.T, dir string, names []string) []byte {
	t.Helper()
	var buf bytes.Buffer
	for _, n := range names {
		data, err := os.ReadFile(filepath.Join(dir, n))
		require.NoError(t, err)
		buf.Write(data)
	}
	return buf.Bytes()
}

func TestSegmentWriter_DisabledDiscards(t *testing.T) {
	w, dir, _ := newWriter(t, newClock())
	require.NoError(t, w.Accept([]byte("dropped")))
	assert.Empty(t, segmentFiles(t, dir))
	_, open := w.Current()
	assert.False(t, open)
}

func TestSegmentWriter_ToggleProducesOneFilePerWindow(t *testing.T) {
	clock := newClock()
	w, dir, log := newWriter(t, clock)

	const n = 5
	for i := range n {
		require.NoError(t, w.Enable())
		require.NoError(t, w.Accept([]byte(fmt.Sprintf("window-%d", i))))
		clock.Advance(time.Second)
		require.NoError(t, w.Disable())
	}

	files := segmentFiles(t, dir)
	require.Len(t, files, n)
	for i, f := range files {
		data, err := os.ReadFile(filepath.Join(dir, f))
		require.NoError(t, err)
		assert.Equal(t, fmt.Sprintf("window-%d", i), string(data))
	}
	for _, info := range log.all() {
		assert.Equal(t, processors.ReasonDisabled, info.Reason)
	}
}

func TestSegmentWriter_EnableIsIdempotent(t *testing.T) {
	w, dir, _ := newWriter(t, newClock())
	require.NoError(t, w.Enable())
	require.NoError(t, w.Enable())
	require.NoError(t, w.Accept([]byte("x")))
	require.NoError(t, w.Disable())
	require.NoError(t, w.Disable())

	assert.Len(t, segmentFiles(t, dir), 1)
}

func TestSegmentWriter_RotationIsLossless(t *testing.T) {
	clock := newClock()
	w, dir, log := newWriter(t, clock)
	require.NoError(t, w.Enable())

	var want bytes.Buffer
	for i := range 20 {
		chunk := []byte(fmt.Sprintf("[chunk %02d]", i))
		want.Write(chunk)
		require.NoError(t, w.Accept(chunk))
		clock.Advance(10 * time.Second)
	}
	require.NoError(t, w.Disable())

	// chunks span 190s with D=60s: rotation at the first chunk at or after 60s
	files := segmentFiles(t, dir)
	require.Len(t, files, 4)
	assert.Equal(t, want.Bytes(), readAll(t, dir, files))

	infos := log.all()
	require.Len(t, infos, 4)
	assert.Equal(t, int64(6), infos[0].Chunks, "chunk at exactly D opens the next segment")
	assert.Equal(t, processors.ReasonRotated, infos[0].Reason)
	assert.Equal(t, processors.ReasonDisabled, infos[3].Reason)
	assert.Equal(t, "raw_2024-05-01_12-00-00.h264", files[0])
	assert.Equal(t, "raw_2024-05-01_12-01-00.h264", files[1])
}

func TestSegmentWriter_BoundaryStartsNewSegment(t *testing.T) {
	clock := newClock()
	w, dir, log := newWriter(t, clock)
	require.NoError(t, w.Enable())
	require.NoError(t, w.Accept([]byte("before-crash")))

	w.Boundary()
	_, open := w.Current()
	assert.False(t, open)
	assert.True(t, w.Enabled())

	clock.Advance(2 * time.Second)
	require.NoError(t, w.Accept([]byte("after-restart")))
	require.NoError(t, w.Disable())

	files := segmentFiles(t, dir)
	require.Len(t, files, 2)
	assert.Equal(t, "before-crashafter-restart", string(readAll(t, dir, files)))
	assert.Equal(t, processors.ReasonBoundary, log.all()[0].Reason)
}

func TestSegmentWriter_SameSecondGetsSuffix(t *testing.T) {
	w, dir, _ := newWriter(t, newClock())
	for range 3 {
		require.NoError(t, w.Enable())
		require.NoError(t, w.Disable())
	}
	assert.Equal(t, []string{
		"raw_2024-05-01_12-00-00-1.h264",
		"raw_2024-05-01_12-00-00-2.h264",
		"raw_2024-05-01_12-00-00.h264",
	}, segmentFiles(t, dir))
}

func TestSegmentWriter_StorageFailureDisables(t *testing.T) {
	clock := newClock()
	failed := make(chan error, 1)
	w, dir, _ := newWriter(t, clock, func(c *processors.SegmentWriterConfig) {
		c.OnFailure = func(err error) { failed <- err }
	})
	require.NoError(t, w.Enable())
	require.NoError(t, w.Accept([]byte("data")))

	require.NoError(t, os.RemoveAll(dir))
	clock.Advance(2 * time.Minute)

	err := w.Accept([]byte("more"))
	assert.ErrorIs(t, err, processors.ErrStorageWrite)
	assert.False(t, w.Enabled())

	select {
	case err := <-failed:
		assert.ErrorIs(t, err, processors.ErrStorageWrite)
	case <-time.After(time.Second):
		t.Fatal("OnFailure not called")
	}

	assert.NoError(t, w.Accept([]byte("discarded")))
}

func TestSegmentWriter_RefusesWhenDiskFull(t *testing.T) {
	w, dir, _ := newWriter(t, newClock(), func(c *processors.SegmentWriterConfig) {
		c.MinFreeBytes = 1 << 62
	})
	err := w.Enable()
	assert.ErrorIs(t, err, processors.ErrStorageWrite)
	assert.ErrorIs(t, err, processors.ErrInsufficientSpace)
	assert.False(t, w.Enabled())
	assert.Empty(t, segmentFiles(t, dir))
}
