package processors_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/eric2788/webcamrec/internal/processors"
	"github.com/eric2788/webcamrec/pkg/pipeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memIndex struct {
	failures int
	records  []processors.SegmentInfo
}

func (m *memIndex) Record(info processors.SegmentInfo) error {
	if m.failures > 0 {
		m.failures--
		return errors.New("database locked")
	}
	m.records = append(m.records, info)
	return nil
}

type memQueue struct {
	paths []string
	err   error
}

func (m *memQueue) Enqueue(path string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	m.paths = append(m.paths, path)
	return "task-1", nil
}

func TestFinalizers(t *testing.T) {
	index := &memIndex{failures: 1}
	queue := &memQueue{}
	pipe := pipeline.New(
		processors.NewCatalogIndexer(index),
		processors.NewMp4Enqueuer(queue, 1),
	)
	require.NoError(t, pipe.Open(context.Background()))
	defer pipe.Close()

	dir := t.TempDir()
	full := segmentFile(t, dir, "raw_a.h264", 10)
	empty := segmentFile(t, dir, "raw_b.h264", 0)

	_, err := pipe.Process(context.Background(), full)
	require.NoError(t, err)
	_, err = pipe.Process(context.Background(), empty)
	require.NoError(t, err)

	assert.Len(t, index.records, 2, "indexer retries transient failures")
	assert.Equal(t, []string{full.Path}, queue.paths, "empty segments are not remuxed")

	queue.err = errors.New("queue full")
	_, err = pipe.Process(context.Background(), full)
	assert.NoError(t, err, "enqueue failures do not fail finalization")
}

func TestFinalizers_RemovedSegmentIsNotRetried(t *testing.T) {
	index := &memIndex{}
	queue := &memQueue{}
	pipe := pipeline.New(
		processors.NewCatalogIndexer(index),
		processors.NewMp4Enqueuer(queue, 1),
	)

	gone := processors.SegmentInfo{Name: "raw_c.h264", Path: filepath.Join(t.TempDir(), "raw_c.h264"), Bytes: 10}
	_, err := pipe.Process(context.Background(), gone)
	assert.ErrorIs(t, err, pipeline.ErrPermanent)
	assert.Empty(t, index.records)
	assert.Empty(t, queue.paths, "later steps do not run")
}

func segmentFile(t *testing.T, dir, name string, size int) processors.SegmentInfo {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return processors.SegmentInfo{Name: name, Path: path, Bytes: int64(size)}
}
