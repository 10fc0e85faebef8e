package pool

import (
	"sync"
)

// BytesPool hands out fixed size read buffers.
type BytesPool struct {
	pool sync.Pool
	size int
}

func NewBytesPool(bufferSize int) *BytesPool {
	p := &BytesPool{size: bufferSize}
	p.pool.New = func() any {
		buf := make([]byte, bufferSize)
		return &buf
	}
	return p
}

func (p *BytesPool) Size() int {
	return p.size
}

func (p *BytesPool) GetBytes() []byte {
	return *(p.pool.Get().(*[]byte))
}

// PutBytes returns buf to the pool. Buffers that were not produced by this
// pool (different capacity) are left to the garbage collector.
func (p *BytesPool) PutBytes(buf []byte) {
	if cap(buf) != p.size {
		return
	}
	buf = buf[:cap(buf)]
	p.pool.Put(&buf)
}

// Clone copies the first n bytes of buf into a fresh slice so that buf can be
// reused while the copy travels through the pipeline.
func Clone(buf []byte, n int) []byte {
	out := make([]byte, n)
	copy(out, buf[:n])
	return out
}
