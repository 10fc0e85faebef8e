package processors_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/eric2788/webcamrec/internal/processors"
	"github.com/eric2788/webcamrec/internal/services/supervisor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStreamPackager_FeedsEncoderAndCleansHLS(t *testing.T) {
	hls := t.TempDir()
	for _, stale := range []string{"webcam.m3u8", "webcam12.ts", "webcam13.ts"} {
		require.NoError(t, os.WriteFile(filepath.Join(hls, stale), []byte("old"), 0o644))
	}
	out := filepath.Join(t.TempDir(), "encoded.h264")

	p := processors.NewStreamPackager(processors.StreamPackagerConfig{
		HLSDir:  hls,
		Command: supervisor.Command{Path: "sh", Args: []string{"-c", `cat > "$OUT"`}, Env: []string{"OUT=" + out}},
		Policy:  supervisor.Policy{InitialBackoff: 10 * time.Millisecond, StopGrace: time.Second},
	})
	require.NoError(t, p.Start(context.Background()))

	entries, err := os.ReadDir(hls)
	require.NoError(t, err)
	assert.Empty(t, entries, "stale hls artefacts must be removed before launch")

	require.NoError(t, p.Accept([]byte("abc")))
	require.NoError(t, p.Accept([]byte("def")))

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, p.Stop(ctx))

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
	assert.Equal(t, filepath.Join(hls, "webcam.m3u8"), p.PlaylistPath())

	assert.Error(t, p.Accept([]byte("late")))
	st := p.Stats()
	assert.Equal(t, int64(2), st.Chunks)
	assert.Equal(t, int64(1), st.Dropped)
}
