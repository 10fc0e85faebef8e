package splitter

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

var logger = logrus.WithField("pkg", "splitter")

const DefaultBufferChunks = 256

var (
	ErrSinkExists  = fmt.Errorf("sink already attached")
	ErrClosed      = fmt.Errorf("splitter is closed")
	ErrSinkStalled = fmt.Errorf("sink stalled, oldest chunk dropped")
)

// Sink consumes chunks. Accept is only ever called from the sink's own lane
// goroutine, so implementations see chunks one at a time and in order.
// The chunk is shared with other sinks and must not be modified.
type Sink interface {
	Accept(chunk []byte) error
}

// BoundaryAware sinks are told when the upstream byte stream was interrupted,
// e.g. because the capture process restarted.
type BoundaryAware interface {
	Boundary()
}

type Option func(*Splitter)

// WithBuffer sets the per sink queue length in chunks.
func WithBuffer(chunks int) Option {
	return func(s *Splitter) {
		if chunks > 0 {
			s.buffer = chunks
		}
	}
}

// WithOnDrop registers a callback fired every time a chunk is dropped for a sink.
func WithOnDrop(fn func(sinkID string)) Option {
	return func(s *Splitter) {
		s.onDrop = fn
	}
}

type registry struct {
	lanes []*lane
}

// Splitter fans one ordered byte stream out to any number of sinks.
// Each sink owns a bounded queue; a stalled sink loses its oldest chunks
// while the others keep receiving everything.
type Splitter struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[registry]
	closed   atomic.Bool

	buffer int
	onDrop func(string)
	logger *logrus.Entry

	chunks *xsync.Counter
	bytes  *xsync.Counter
}

func New(opts ...Option) *Splitter {
	s := &Splitter{
		buffer: DefaultBufferChunks,
		logger: logger,
		chunks: xsync.NewCounter(),
		bytes:  xsync.NewCounter(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.snapshot.Store(&registry{})
	return s
}

// Write hands chunk to every attached sink. It never blocks on a sink.
func (s *Splitter) Write(chunk []byte) error {
	if s.closed.Load() {
		return ErrClosed
	}
	if len(chunk) == 0 {
		return nil
	}
	s.chunks.Inc()
	s.bytes.Add(int64(len(chunk)))
	for _, l := range s.snapshot.Load().lanes {
		l.push(item{chunk: chunk})
	}
	return nil
}

// Boundary queues a stream discontinuity marker behind the chunks already written.
func (s *Splitter) Boundary() {
	if s.closed.Load() {
		return
	}
	for _, l := range s.snapshot.Load().lanes {
		l.push(item{boundary: true})
	}
}

func (s *Splitter) Attach(id string, sink Sink) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.Load() {
		return ErrClosed
	}
	cur := s.snapshot.Load()
	if slices.ContainsFunc(cur.lanes, func(l *lane) bool { return l.id == id }) {
		return fmt.Errorf("%w: %s", ErrSinkExists, id)
	}

	l := newLane(id, sink, s.buffer, s.onDrop, s.logger.WithField("sink", id))
	go l.run()

	next := &registry{lanes: append(slices.Clone(cur.lanes), l)}
	s.snapshot.Store(next)
	s.logger.Debugf("sink %s attached (%d total)", id, len(next.lanes))
	return nil
}

// Detach removes a sink. Chunks already queued for it are still delivered,
// and once Detach returns the sink will not be called again.
func (s *Splitter) Detach(id string) bool {
	s.mu.Lock()
	cur := s.snapshot.Load()
	idx := slices.IndexFunc(cur.lanes, func(l *lane) bool { return l.id == id })
	if idx < 0 {
		s.mu.Unlock()
		return false
	}
	l := cur.lanes[idx]
	s.snapshot.Store(&registry{lanes: slices.Delete(slices.Clone(cur.lanes), idx, idx+1)})
	s.mu.Unlock()

	l.stop()
	s.logger.Debugf("sink %s detached", id)
	return true
}

func (s *Splitter) Attached(id string) bool {
	return slices.ContainsFunc(s.snapshot.Load().lanes, func(l *lane) bool { return l.id == id })
}

// Close detaches every sink after draining their queues. Further writes fail with ErrClosed.
func (s *Splitter) Close() {
	s.mu.Lock()
	if !s.closed.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return
	}
	cur := s.snapshot.Swap(&registry{})
	s.mu.Unlock()

	var wg sync.WaitGroup
	for _, l := range cur.lanes {
		wg.Add(1)
		go func() {
			defer wg.Done()
			l.stop()
		}()
	}
	wg.Wait()
}

type LaneStats struct {
	ID        string `json:"id"`
	Queued    int    `json:"queued"`
	Delivered int64  `json:"delivered"`
	Dropped   int64  `json:"dropped"`
	Failed    int64  `json:"failed"`
}

type Stats struct {
	Chunks int64       `json:"chunks"`
	Bytes  int64       `json:"bytes"`
	Sinks  []LaneStats `json:"sinks"`
}

func (s *Splitter) Stats() Stats {
	lanes := s.snapshot.Load().lanes
	st := Stats{
		Chunks: s.chunks.Value(),
		Bytes:  s.bytes.Value(),
		Sinks:  make([]LaneStats, 0, len(lanes)),
	}
	for _, l := range lanes {
		st.Sinks = append(st.Sinks, l.stats())
	}
	return st
}

type item struct {
	chunk    []byte
	boundary bool
}

type lane struct {
	id    string
	sink  Sink
	queue chan item
	quit  chan struct{}
	done  chan struct{}
	once  sync.Once

	// set when a boundary marker was dropped, replayed before the next chunk
	lostBoundary atomic.Bool

	delivered *xsync.Counter
	dropped   *xsync.Counter
	failed    *xsync.Counter

	onDrop func(string)
	warn   *rate.Limiter
	logger *logrus.Entry
}

func newLane(id string, sink Sink, buffer int, onDrop func(string), log *logrus.Entry) *lane {
	return &lane{
		id:        id,
		sink:      sink,
		queue:     make(chan item, buffer),
		quit:      make(chan struct{}),
		done:      make(chan struct{}),
		delivered: xsync.NewCounter(),
		dropped:   xsync.NewCounter(),
		failed:    xsync.NewCounter(),
		onDrop:    onDrop,
		warn:      rate.NewLimiter(rate.Every(5*time.Second), 1),
		logger:    log,
	}
}

// push never blocks: when the queue is full the oldest entry makes room.
func (l *lane) push(it item) {
	for {
		select {
		case l.queue <- it:
			return
		default:
		}
		select {
		case old := <-l.queue:
			l.discard(old)
		default:
		}
	}
}

func (l *lane) discard(old item) {
	if old.boundary {
		l.lostBoundary.Store(true)
		return
	}
	n := l.dropped.Value() + 1
	l.dropped.Inc()
	if l.onDrop != nil {
		l.onDrop(l.id)
	}
	if l.warn.Allow() {
		l.logger.Warnf("%v (%d dropped so far)", ErrSinkStalled, n)
	}
}

func (l *lane) run() {
	defer close(l.done)
	for {
		select {
		case it := <-l.queue:
			l.deliver(it)
		case <-l.quit:
			for {
				select {
				case it := <-l.queue:
					l.deliver(it)
				default:
					return
				}
			}
		}
	}
}

func (l *lane) deliver(it item) {
	ba, aware := l.sink.(BoundaryAware)
	if l.lostBoundary.Swap(false) && aware {
		ba.Boundary()
	}
	if it.boundary {
		if aware {
			ba.Boundary()
		}
		return
	}
	if err := l.sink.Accept(it.chunk); err != nil {
		l.failed.Inc()
		if l.warn.Allow() {
			l.logger.Warnf("sink rejected chunk: %v", err)
		}
		return
	}
	l.delivered.Inc()
}

func (l *lane) stop() {
	l.once.Do(func() { close(l.quit) })
	<-l.done
}

func (l *lane) stats() LaneStats {
	return LaneStats{
		ID:        l.id,
		Queued:    len(l.queue),
		Delivered: l.delivered.Value(),
		Dropped:   l.dropped.Value(),
		Failed:    l.failed.Value(),
	}
}
