package processors

import (
	"context"
	"errors"
	"os"
	"path/filepath"

	"github.com/eric2788/webcamrec/internal/services/supervisor"
	"github.com/eric2788/webcamrec/utils"
	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"
)

const (
	PlaylistName   = "webcam.m3u8"
	hlsSegmentGlob = "webcam*.ts"
)

type StreamPackagerConfig struct {
	HLSDir  string
	Command supervisor.Command
	Policy  supervisor.Policy
}

type PackagerStats struct {
	Bytes   int64 `json:"bytes"`
	Chunks  int64 `json:"chunks"`
	Dropped int64 `json:"dropped"`
}

// StreamPackager is the always attached sink feeding the HLS encoder's stdin.
// The encoder has its own supervisor, so it restarts independently of capture.
type StreamPackager struct {
	cfg     StreamPackagerConfig
	sup     *supervisor.Supervisor
	logger  *logrus.Entry
	bytes   *xsync.Counter
	chunks  *xsync.Counter
	dropped *xsync.Counter
}

func NewStreamPackager(cfg StreamPackagerConfig) *StreamPackager {
	p := &StreamPackager{
		cfg:     cfg,
		logger:  logger.WithField("processor", "stream-packager"),
		bytes:   xsync.NewCounter(),
		chunks:  xsync.NewCounter(),
		dropped: xsync.NewCounter(),
	}
	p.sup = supervisor.New("encoder", cfg.Command,
		supervisor.WithStdin(),
		supervisor.WithPolicy(cfg.Policy),
		supervisor.WithBeforeStart(p.cleanHLS),
		supervisor.WithLogger(p.logger.WithField("process", "encoder")),
	)
	return p
}

func (p *StreamPackager) Start(ctx context.Context) error {
	if err := os.MkdirAll(p.cfg.HLSDir, 0o755); err != nil {
		return err
	}
	return p.sup.Start(ctx)
}

func (p *StreamPackager) Stop(ctx context.Context) error {
	return p.sup.Stop(ctx)
}

// Accept writes the chunk to the encoder. While the encoder is restarting
// the chunk is dropped for this sink only.
func (p *StreamPackager) Accept(chunk []byte) error {
	n, err := p.sup.Write(chunk)
	p.bytes.Add(int64(n))
	if err != nil {
		p.dropped.Inc()
		return err
	}
	p.chunks.Inc()
	return nil
}

func (p *StreamPackager) Supervisor() *supervisor.Supervisor {
	return p.sup
}

func (p *StreamPackager) PlaylistPath() string {
	return filepath.Join(p.cfg.HLSDir, PlaylistName)
}

func (p *StreamPackager) Stats() PackagerStats {
	return PackagerStats{
		Bytes:   p.bytes.Value(),
		Chunks:  p.chunks.Value(),
		Dropped: p.dropped.Value(),
	}
}

// cleanHLS removes the playlist and segments left by a previous encoder run.
func (p *StreamPackager) cleanHLS() error {
	n, err := utils.RemoveGlob(filepath.Join(p.cfg.HLSDir, hlsSegmentGlob))
	if rmErr := os.Remove(p.PlaylistPath()); rmErr == nil {
		n++
	} else if !errors.Is(rmErr, os.ErrNotExist) {
		err = errors.Join(err, rmErr)
	}
	if n > 0 {
		p.logger.Debugf("removed %d stale hls files", n)
	}
	return err
}
