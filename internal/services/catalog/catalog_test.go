package catalog_test

import (
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/eric2788/webcamrec/internal/processors"
	"github.com/eric2788/webcamrec/internal/services/catalog"
	"github.com/eric2788/webcamrec/pkg/db"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newCatalog(t *testing.T) *catalog.Service {
	t.Helper()
	client, err := db.Open(filepath.Join(t.TempDir(), "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	svc, err := catalog.NewService(client)
	require.NoError(t, err)
	return svc
}

func TestCatalog_RecordListNewestFirst(t *testing.T) {
	svc := newCatalog(t)
	start := time.Date(2024, 5, 1, 12, 0, 0, 0, time.Local)
	for i := range 3 {
		ts := start.Add(time.Duration(i) * 15 * time.Minute)
		name := fmt.Sprintf("raw_%s.h264", ts.Format("2006-01-02_15-04-05"))
		require.NoError(t, svc.Record(processors.SegmentInfo{
			Name:      name,
			Path:      "/data/" + name,
			Bytes:     int64(i + 1),
			StartedAt: ts,
			ClosedAt:  ts.Add(15 * time.Minute),
			Reason:    processors.ReasonRotated,
		}))
	}

	all, err := svc.List(0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "raw_2024-05-01_12-30-00.h264", all[0].Name)
	assert.Equal(t, 15*time.Minute, all[0].Duration())

	two, err := svc.List(2)
	require.NoError(t, err)
	assert.Len(t, two, 2)
}

func TestCatalog_GetMarkDelete(t *testing.T) {
	svc := newCatalog(t)
	require.NoError(t, svc.Record(processors.SegmentInfo{Name: "raw_x.h264", Path: "/data/raw_x.h264"}))

	require.NoError(t, svc.MarkConverted("raw_x.h264", "/data/raw_x.mp4"))
	entry, err := svc.Get("/data/raw_x.h264")
	require.NoError(t, err)
	assert.Equal(t, "/data/raw_x.mp4", entry.Mp4Path)

	require.NoError(t, svc.Delete("raw_x.h264"))
	_, err = svc.Get("raw_x.h264")
	assert.ErrorIs(t, err, catalog.ErrSegmentNotFound)
	assert.ErrorIs(t, svc.MarkConverted("raw_x.h264", "y"), catalog.ErrSegmentNotFound)

	n, err := svc.Count()
	require.NoError(t, err)
	assert.Zero(t, n)
}
