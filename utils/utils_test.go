package utils_test

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eric2788/webcamrec/utils"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSegmentNameRoundTrip(t *testing.T) {
	ts := time.Date(2024, 5, 1, 13, 4, 5, 0, time.Local)
	name := utils.SegmentName("raw_", ts, ".h264")
	assert.Equal(t, "raw_2024-05-01_13-04-05.h264", name)

	parsed, err := utils.ParseSegmentTime(name, "raw_")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))

	parsed, err = utils.ParseSegmentTime("raw_2024-05-01_13-04-05-2.h264", "raw_")
	require.NoError(t, err)
	assert.True(t, parsed.Equal(ts))

	_, err = utils.ParseSegmentTime("other.h264", "raw_")
	assert.Error(t, err)
}

func TestRemoveGlob(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"webcam.m3u8", "webcam0.ts", "webcam1.ts", "keep.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644))
	}
	n, err := utils.RemoveGlob(filepath.Join(dir, "webcam*.ts"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.FileExists(t, filepath.Join(dir, "keep.txt"))
	assert.FileExists(t, filepath.Join(dir, "webcam.m3u8"))
}

func TestParseBool(t *testing.T) {
	for in, want := range map[string]bool{"1": true, "TRUE": true, "on": true, "0": false, "no": false} {
		got, err := utils.ParseBool(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
	_, err := utils.ParseBool("maybe")
	assert.Error(t, err)
}

func TestWithRetry(t *testing.T) {
	utils.RetryInterval = time.Millisecond
	calls := 0
	err := utils.WithRetry(3, logrus.WithField("test", t.Name()), "flaky", func() error {
		calls++
		if calls < 3 {
			return errors.New("nope")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = utils.WithRetry(2, logrus.WithField("test", t.Name()), "broken", func() error {
		calls++
		return errors.New("always")
	})
	assert.EqualError(t, err, "always")
	assert.Equal(t, 2, calls)
}

func TestAppendLine(t *testing.T) {
	p := filepath.Join(t.TempDir(), "errors.log")
	require.NoError(t, utils.AppendLine(p, "first\n"))
	require.NoError(t, utils.AppendLine(p, "second"))
	data, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.Equal(t, "first\nsecond\n", string(data))
}
