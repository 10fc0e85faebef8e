package pool

import (
	"bytes"
	"sync"
)

// BufferPool recycles bytes.Buffer values used by the serializer.
// Buffers that grew beyond maxCap are dropped instead of pooled.
type BufferPool struct {
	pool   sync.Pool
	maxCap int
}

func NewBufferPool(initialCap, maxCap int) *BufferPool {
	initialCap = max(initialCap, 0)
	maxCap = max(maxCap, initialCap)
	return &BufferPool{
		pool: sync.Pool{
			New: func() any {
				return bytes.NewBuffer(make([]byte, 0, initialCap))
			},
		},
		maxCap: maxCap,
	}
}

func (bp *BufferPool) Get() *bytes.Buffer {
	buf := bp.pool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func (bp *BufferPool) Put(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > bp.maxCap {
		return
	}
	buf.Reset()
	bp.pool.Put(buf)
}
