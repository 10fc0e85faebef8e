package processors

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/eric2788/webcamrec/pkg/pipeline"
	"github.com/sirupsen/logrus"
)

// SegmentIndexer persists metadata of published segments.
type SegmentIndexer interface {
	Record(info SegmentInfo) error
}

// SegmentConverter queues a published raw segment for remuxing.
type SegmentConverter interface {
	Enqueue(inputPath string) (string, error)
}

type catalogIndexer struct {
	index SegmentIndexer
}

func NewCatalogIndexer(index SegmentIndexer) *pipeline.ProcessorInfo[SegmentInfo] {
	return pipeline.NewProcessorInfo(
		"catalog-indexer",
		&catalogIndexer{index: index},
		pipeline.WithErrorStrategy[SegmentInfo](pipeline.RetryOnError),
		pipeline.WithRetry[SegmentInfo](3, 500*time.Millisecond),
		pipeline.WithTimeout[SegmentInfo](5*time.Second),
	)
}

func (c *catalogIndexer) Open(context.Context, *logrus.Entry) error { return nil }

func (c *catalogIndexer) Process(_ context.Context, log *logrus.Entry, info SegmentInfo) (SegmentInfo, error) {
	if _, err := os.Stat(info.Path); errors.Is(err, fs.ErrNotExist) {
		return info, fmt.Errorf("%w: segment %s is gone", pipeline.ErrPermanent, info.Name)
	}
	if err := c.index.Record(info); err != nil {
		return info, err
	}
	log.WithField("segment", info.Name).Debug("segment indexed")
	return info, nil
}

func (c *catalogIndexer) Close() error { return nil }

type mp4Enqueuer struct {
	convert SegmentConverter
	minSize int64
}

// NewMp4Enqueuer skips segments smaller than minSize, empty ones included.
func NewMp4Enqueuer(convert SegmentConverter, minSize int64) *pipeline.ProcessorInfo[SegmentInfo] {
	return pipeline.NewProcessorInfo(
		"mp4-enqueuer",
		&mp4Enqueuer{convert: convert, minSize: max(minSize, 1)},
		pipeline.WithErrorStrategy[SegmentInfo](pipeline.ContinueOnError),
	)
}

func (m *mp4Enqueuer) Open(context.Context, *logrus.Entry) error { return nil }

func (m *mp4Enqueuer) Process(_ context.Context, log *logrus.Entry, info SegmentInfo) (SegmentInfo, error) {
	if info.Bytes < m.minSize {
		return info, nil
	}
	id, err := m.convert.Enqueue(info.Path)
	if err != nil {
		return info, err
	}
	log.WithField("segment", info.Name).Infof("queued for mp4 remux (task %s)", id)
	return info, nil
}

func (m *mp4Enqueuer) Close() error { return nil }
