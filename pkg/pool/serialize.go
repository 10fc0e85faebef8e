package pool

import (
	"encoding/gob"
)

// Serializer gob-encodes values for the bbolt buckets.
type Serializer struct {
	bufs *BufferPool
}

func NewSerializer() *Serializer {
	return &Serializer{bufs: NewBufferPool(1024, 64*1024)}
}

func (s *Serializer) Serialize(v any) ([]byte, error) {
	buf := s.bufs.Get()
	defer s.bufs.Put(buf)
	if err := gob.NewEncoder(buf).Encode(v); err != nil {
		return nil, err
	}
	// the pooled buffer is reused, hand out a copy
	return append([]byte(nil), buf.Bytes()...), nil
}

func (s *Serializer) Deserialize(data []byte, v any) error {
	buf := s.bufs.Get()
	defer s.bufs.Put(buf)
	buf.Write(data)
	return gob.NewDecoder(buf).Decode(v)
}

// Decode is a typed shortcut for Deserialize.
func Decode[T any](s *Serializer, data []byte) (T, error) {
	var v T
	err := s.Deserialize(data, &v)
	return v, err
}
