package recorder

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/eric2788/webcamrec/internal/modules/config"
	"github.com/eric2788/webcamrec/internal/processors"
	"github.com/eric2788/webcamrec/internal/services/catalog"
	"github.com/eric2788/webcamrec/internal/services/convert"
	"go.uber.org/fx"
)

func NewService(lc fx.Lifecycle, cfg *config.Config, index *catalog.Service, remux *convert.Service) *Service {
	var converter processors.SegmentConverter
	if cfg.ConvertToMp4 {
		converter = remux
	}
	s := New(cfg, WithFinalizers(newFinalPipeline(index, converter)))

	remux.SetBusyCheck(s.RemuxDeferred)
	remux.SetConvertedHook(func(task *convert.TaskQueue) {
		err := index.MarkConverted(filepath.Base(task.InputPath), task.OutputPath)
		if err != nil && !errors.Is(err, catalog.ErrSegmentNotFound) {
			logger.Warnf("cannot mark %s as converted: %v", task.InputPath, err)
		}
	})

	// cancelling startCtx aborts a background auto start still in progress
	startCtx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.StartStopHook(
		func(ctx context.Context) error {
			if err := s.finalize.Open(ctx); err != nil {
				return err
			}
			if !cfg.AutoStart {
				return nil
			}
			go func() {
				if err := s.Start(startCtx); err != nil && !errors.Is(err, context.Canceled) {
					logger.Errorf("camera auto start failed: %v", err)
				}
			}()
			return nil
		},
		func(ctx context.Context) error {
			cancel()
			err := s.Stop(ctx)
			s.finalize.Close()
			return err
		},
	))
	return s
}
