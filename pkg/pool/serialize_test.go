package pool_test

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/eric2788/webcamrec/pkg/pool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type segmentRecord struct {
	Name      string
	Bytes     int64
	StartedAt time.Time
}

func TestSerializer_RoundTripConcurrent(t *testing.T) {
	s := pool.NewSerializer()
	var wg sync.WaitGroup
	errCh := make(chan error, 100)

	for i := range 100 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			in := segmentRecord{Name: fmt.Sprintf("raw_%03d.h264", i), Bytes: int64(i) * 8192}
			data, err := s.Serialize(in)
			if err != nil {
				errCh <- fmt.Errorf("serialize %d: %w", i, err)
				return
			}
			out, err := pool.Decode[segmentRecord](s, data)
			if err != nil {
				errCh <- fmt.Errorf("deserialize %d: %w", i, err)
				return
			}
			if out.Name != in.Name || out.Bytes != in.Bytes {
				errCh <- fmt.Errorf("mismatch %d: %+v != %+v", i, out, in)
			}
		}(i)
	}

	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Fatal(err)
	}
}

func TestSerializer_OutputNotAliased(t *testing.T) {
	s := pool.NewSerializer()

	first, err := s.Serialize(segmentRecord{Name: "a"})
	require.NoError(t, err)
	snapshot := append([]byte(nil), first...)

	_, err = s.Serialize(segmentRecord{Name: "bbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"})
	require.NoError(t, err)

	assert.Equal(t, snapshot, first, "serialized bytes must survive buffer reuse")
}

func TestBytesPool_IgnoresForeignBuffers(t *testing.T) {
	p := pool.NewBytesPool(16)
	buf := p.GetBytes()
	assert.Len(t, buf, 16)

	p.PutBytes(make([]byte, 4))
	p.PutBytes(buf[:3])

	again := p.GetBytes()
	assert.Len(t, again, 16)
	assert.Equal(t, []byte("abc"), pool.Clone([]byte("abcdef"), 3))
}
