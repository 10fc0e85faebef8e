package pipeline

import (
	"context"
	"fmt"
	"io"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

// ErrPermanent marks a failure that retrying cannot fix, such as a segment
// removed before it was indexed. RetryOnError steps give up on it at once.
var ErrPermanent = fmt.Errorf("permanent processor failure")

type ErrorStrategy int

const (
	// StopOnError ends the pipe run with the error.
	StopOnError ErrorStrategy = iota
	// ContinueOnError logs the error and hands the unchanged item on.
	ContinueOnError
	// RetryOnError retries with a doubling backoff, then stops the run.
	RetryOnError
)

// Processor is one step of a pipe. Open and Close bracket the pipe's life,
// Process runs once per item and may replace it for the next step.
type Processor[T any] interface {
	Open(ctx context.Context, log *logrus.Entry) error
	Process(ctx context.Context, log *logrus.Entry, item T) (T, error)
	io.Closer
}

type ProcessorInfo[T any] struct {
	name      string
	processor Processor[T]
	logger    *logrus.Entry

	strategy ErrorStrategy
	retries  int
	backoff  time.Duration
	timeout  time.Duration
	closed   atomic.Bool
}

type ProcessorOption[T any] func(*ProcessorInfo[T])

func NewProcessorInfo[T any](name string, processor Processor[T], options ...ProcessorOption[T]) *ProcessorInfo[T] {
	pro := &ProcessorInfo[T]{
		name:      name,
		processor: processor,
		strategy:  StopOnError,
		retries:   3,
		backoff:   500 * time.Millisecond,
		timeout:   10 * time.Second,
		logger:    logger.WithField("processor", name),
	}
	for _, option := range options {
		option(pro)
	}
	return pro
}

func (p *ProcessorInfo[T]) Name() string {
	return p.name
}

func (p *ProcessorInfo[T]) process(ctx context.Context, item T) (T, error) {
	if p.closed.Load() {
		return item, io.ErrClosedPipe
	}
	return p.processor.Process(ctx, p.logger, item)
}

func (p *ProcessorInfo[T]) close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	return p.processor.Close()
}

func WithErrorStrategy[T any](strategy ErrorStrategy) ProcessorOption[T] {
	return func(pi *ProcessorInfo[T]) {
		pi.strategy = strategy
	}
}

// WithRetry sets how often a RetryOnError step is retried and the delay
// before the first retry.
func WithRetry[T any](retries int, backoff time.Duration) ProcessorOption[T] {
	return func(pi *ProcessorInfo[T]) {
		pi.retries = max(retries, 0)
		if backoff > 0 {
			pi.backoff = backoff
		}
	}
}

// WithTimeout bounds every single run of the step, retries included.
func WithTimeout[T any](timeout time.Duration) ProcessorOption[T] {
	return func(pi *ProcessorInfo[T]) {
		if timeout > 0 {
			pi.timeout = timeout
		}
	}
}
