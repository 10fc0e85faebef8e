package convert

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/eric2788/webcamrec/internal/modules/config"
	"github.com/eric2788/webcamrec/pkg/db"
	"github.com/eric2788/webcamrec/utils"
	"github.com/sirupsen/logrus"
	"go.uber.org/fx"
)

var logger = logrus.WithField("service", "convert")

var (
	ErrTaskNotFound       = errors.New("convert task not found")
	ErrFFmpegNotInstalled = errors.New("ffmpeg is not installed or not found in PATH")
	ErrConvertDisabled    = errors.New("mp4 conversion is disabled")
)

const DefaultInterval = time.Minute

type Service struct {
	manager      *ffmpegConvertManager
	deleteSource bool
	available    bool
	cancel       context.CancelFunc
}

type Options struct {
	Binary       string
	Interval     time.Duration
	DeleteSource bool
}

// New builds the service without starting its worker.
func New(client *db.Client, opts Options) (*Service, error) {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	manager, err := newFFmpegConvertManager(client, utils.EmptyOrElse(opts.Binary, "ffmpeg"), opts.Interval)
	if err != nil {
		return nil, err
	}
	return &Service{
		manager:      manager,
		deleteSource: opts.DeleteSource,
	}, nil
}

func NewService(lc fx.Lifecycle, cfg *config.Config, client *db.Client) (*Service, error) {
	svc, err := New(client, Options{
		Binary:       cfg.EncoderCommand,
		DeleteSource: cfg.DeleteRawAfterConvert,
	})
	if err != nil {
		return nil, err
	}
	lc.Append(fx.StartStopHook(
		func() error {
			if err := svc.Start(context.Background()); err != nil {
				// conversion is optional, the recorder works without it
				logger.Warnf("convert worker not started: %v", err)
			}
			return nil
		},
		svc.Stop,
	))
	return svc, nil
}

func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	if err := s.manager.StartWorker(ctx); err != nil {
		cancel()
		return err
	}
	s.cancel = cancel
	s.available = true
	return nil
}

func (s *Service) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
}

// Enqueue queues a raw segment for remuxing into an mp4 next to it and
// returns the task id.
func (s *Service) Enqueue(inputPath string) (string, error) {
	task, err := s.EnqueueTask(inputPath, "mp4", s.deleteSource)
	if err != nil {
		return "", err
	}
	return task.TaskID, nil
}

func (s *Service) EnqueueTask(path, format string, deleteSource bool) (*TaskQueue, error) {
	if !s.available {
		return nil, ErrFFmpegNotInstalled
	}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	return s.manager.Enqueue(path, utils.ChangePathFormat(path, format), format, deleteSource)
}

func (s *Service) Cancel(taskID string) error {
	return s.manager.Cancel(taskID)
}

func (s *Service) ListInProgress() ([]*TaskQueue, error) {
	return s.manager.ListInProgress()
}

func (s *Service) Available() bool {
	return s.available
}

// SetBusyCheck pauses the queue while check returns true.
func (s *Service) SetBusyCheck(check BusyCheck) {
	s.manager.setBusyCheck(check)
}

func (s *Service) SetConvertedHook(hook ConvertedHook) {
	s.manager.setConvertedHook(hook)
}
