package monitor

import (
	"io"
	"sync/atomic"
	"time"
)

// ActivityReader counts bytes and remembers when data last arrived.
// It is used by the supervisor watchdog to detect a wedged child.
type ActivityReader struct {
	r        io.Reader
	read     atomic.Int64
	lastRead atomic.Int64 // unix nanos
	now      func() time.Time
	callback func(read int64)
}

func NewActivityReader(r io.Reader, cb func(read int64)) *ActivityReader {
	a := &ActivityReader{r: r, callback: cb, now: time.Now}
	a.Touch()
	return a
}

func (a *ActivityReader) Read(b []byte) (int, error) {
	n, err := a.r.Read(b)
	if n > 0 {
		total := a.read.Add(int64(n))
		a.Touch()
		if a.callback != nil {
			a.callback(total)
		}
	}
	return n, err
}

// Touch resets the idle timer without reading.
func (a *ActivityReader) Touch() {
	a.lastRead.Store(a.now().UnixNano())
}

func (a *ActivityReader) BytesRead() int64 {
	return a.read.Load()
}

func (a *ActivityReader) LastActivity() time.Time {
	return time.Unix(0, a.lastRead.Load())
}

func (a *ActivityReader) IdleFor() time.Duration {
	return a.now().Sub(a.LastActivity())
}
