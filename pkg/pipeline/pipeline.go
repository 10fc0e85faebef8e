package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("pkg", "pipeline")

// slowThreshold is the duration above which a processor run is logged as a warning.
const slowThreshold = 500 * time.Millisecond

// Pipe runs an item through an ordered list of processors.
// Each processor may replace the item for the next one.
type Pipe[T any] struct {
	processors []*ProcessorInfo[T]
}

func New[T any](processors ...*ProcessorInfo[T]) *Pipe[T] {
	return &Pipe[T]{
		processors: processors,
	}
}

func (p *Pipe[T]) AddProcessors(processors ...*ProcessorInfo[T]) {
	p.processors = append(p.processors, processors...)
}

func (p *Pipe[T]) Len() int {
	return len(p.processors)
}

func (p *Pipe[T]) Process(ctx context.Context, item T) (T, error) {
	current := item
	for _, processor := range p.processors {
		if err := ctx.Err(); err != nil {
			return current, err
		}
		var err error
		current, err = p.process(ctx, processor, current)
		if err != nil {
			return current, err
		}
	}
	return current, nil
}

// Open opens every processor in order. On failure the ones already
// opened are closed again.
func (p *Pipe[T]) Open(ctx context.Context) error {
	for i, processor := range p.processors {
		if err := processor.processor.Open(ctx, processor.logger); err != nil {
			for _, opened := range p.processors[:i] {
				_ = opened.close()
			}
			return err
		}
	}
	return nil
}

func (p *Pipe[T]) Close() {
	for _, processor := range p.processors {
		if err := processor.close(); err != nil {
			processor.logger.Errorf("error closing processor: %v", err)
		}
	}
}

func (p *Pipe[T]) run(ctx context.Context, tp *ProcessorInfo[T], item T) (T, error) {
	c, cancel := context.WithTimeout(ctx, tp.timeout)
	defer cancel()
	return tp.process(c, item)
}

func (p *Pipe[T]) process(ctx context.Context, tp *ProcessorInfo[T], item T) (T, error) {
	start := time.Now()
	defer func() {
		elapsed := time.Since(start)
		if elapsed > slowThreshold {
			tp.logger.Warnf("processor took too long to execute: %dms", elapsed.Milliseconds())
		} else {
			tp.logger.Debugf("processor executed: %dms", elapsed.Milliseconds())
		}
	}()

	next, err := p.run(ctx, tp, item)
	if err == nil {
		return next, nil
	}

	switch tp.strategy {
	case ContinueOnError:
		tp.logger.Warnf("continuing despite error: %v", err)
		return item, nil
	case RetryOnError:
		delay := tp.backoff
		for attempt := 1; attempt <= tp.retries && !errors.Is(err, ErrPermanent); attempt++ {
			tp.logger.Warnf("retry %d/%d in %v: %v", attempt, tp.retries, delay, err)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return item, ctx.Err()
			}
			next, err = p.run(ctx, tp, item)
			if err == nil {
				tp.logger.Infof("succeeded on retry %d", attempt)
				return next, nil
			}
			delay *= 2
		}
		tp.logger.Errorf("giving up: %v", err)
		return item, err
	default:
		return item, err
	}
}
