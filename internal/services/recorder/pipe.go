package recorder

import (
	"path/filepath"
	"strconv"
	"time"

	"github.com/eric2788/webcamrec/internal/modules/config"
	"github.com/eric2788/webcamrec/internal/processors"
	"github.com/eric2788/webcamrec/internal/services/supervisor"
	"github.com/eric2788/webcamrec/pkg/pipeline"
)

// CaptureCommand is the rpicam-vid invocation writing a raw h264 elementary
// stream to stdout.
func CaptureCommand(cfg *config.Config) supervisor.Command {
	args := []string{
		"-t", "0",
		"--width", strconv.Itoa(cfg.Width),
		"--height", strconv.Itoa(cfg.Height),
		"--framerate", strconv.Itoa(cfg.Framerate),
		"--nopreview",
		"--codec", "h264",
		"--profile", "high",
		"--inline",
		"--level", "4.2",
	}
	if cfg.VFlip {
		args = append(args, "--vflip")
	}
	args = append(args, "-o", "-")
	return supervisor.Command{Path: cfg.CaptureCommand, Args: args}
}

// EncoderCommand is the ffmpeg invocation packaging stdin into HLS.
func EncoderCommand(cfg *config.Config) supervisor.Command {
	return supervisor.Command{
		Path: cfg.EncoderCommand,
		Args: []string{
			"-nostdin",
			"-f", "h264",
			"-i", "-",
			"-c", "copy",
			"-f", "hls",
			"-hls_time", "2",
			"-hls_list_size", "5",
			"-hls_flags", "delete_segments",
			filepath.Join(cfg.HLSDir, processors.PlaylistName),
		},
	}
}

func policyFromConfig(cfg *config.Config) supervisor.Policy {
	p := supervisor.DefaultPolicy()
	p.InitialBackoff = cfg.RestartBackoff
	p.MaxConsecutiveFailures = cfg.MaxRestartAttempts
	p.RestartsPerMinute = cfg.MaxRestartsPerMinute
	p.StopGrace = cfg.StopGrace
	p.StallTimeout = cfg.StallTimeout
	return p
}

// newFinalPipeline runs on every published segment.
func newFinalPipeline(index processors.SegmentIndexer, convert processors.SegmentConverter) *pipeline.Pipe[processors.SegmentInfo] {
	pipe := pipeline.New[processors.SegmentInfo]()
	if index != nil {
		pipe.AddProcessors(processors.NewCatalogIndexer(index))
	}
	if convert != nil {
		pipe.AddProcessors(processors.NewMp4Enqueuer(convert, 1))
	}
	return pipe
}

const finalizeTimeout = 30 * time.Second
