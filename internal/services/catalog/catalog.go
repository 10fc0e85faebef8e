package catalog

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/eric2788/webcamrec/internal/processors"
	"github.com/eric2788/webcamrec/pkg/db"
	"github.com/eric2788/webcamrec/pkg/pool"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("service", "catalog")

const bucketName = "segments"

var ErrSegmentNotFound = fmt.Errorf("segment not found")

type Entry struct {
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	Bytes     int64     `json:"bytes"`
	Chunks    int64     `json:"chunks"`
	StartedAt time.Time `json:"started_at"`
	ClosedAt  time.Time `json:"closed_at"`
	Reason    string    `json:"reason"`
	Mp4Path   string    `json:"mp4_path,omitempty"`
}

func (e Entry) Duration() time.Duration {
	return e.ClosedAt.Sub(e.StartedAt)
}

// Service keeps an index of published segments keyed by file name.
// Names embed the start time, so key order is chronological.
type Service struct {
	bucket     *db.Bucket
	serializer *pool.Serializer
}

func NewService(client *db.Client) (*Service, error) {
	bucket, err := client.Bucket(bucketName)
	if err != nil {
		return nil, fmt.Errorf("open %s bucket: %w", bucketName, err)
	}
	return &Service{
		bucket:     bucket,
		serializer: pool.NewSerializer(),
	}, nil
}

func (s *Service) Record(info processors.SegmentInfo) error {
	entry := Entry{
		Name:      info.Name,
		Path:      info.Path,
		Bytes:     info.Bytes,
		Chunks:    info.Chunks,
		StartedAt: info.StartedAt,
		ClosedAt:  info.ClosedAt,
		Reason:    string(info.Reason),
	}
	data, err := s.serializer.Serialize(entry)
	if err != nil {
		return err
	}
	return s.bucket.Put([]byte(info.Name), data)
}

// List returns up to limit entries, newest first. limit <= 0 means all.
func (s *Service) List(limit int) ([]Entry, error) {
	entries := make([]Entry, 0)
	err := s.bucket.Reverse(func(k, v []byte) error {
		entry, err := pool.Decode[Entry](s.serializer, v)
		if err != nil {
			logger.Warnf("skipping corrupt entry %s: %v", k, err)
			return nil
		}
		entries = append(entries, entry)
		if limit > 0 && len(entries) >= limit {
			return db.ErrStopIteration
		}
		return nil
	})
	return entries, err
}

func (s *Service) Get(name string) (Entry, error) {
	var entry Entry
	found := false
	err := s.bucket.GetFunc([]byte(filepath.Base(name)), func(v []byte) error {
		found = true
		return s.serializer.Deserialize(v, &entry)
	})
	if err != nil {
		return Entry{}, err
	}
	if !found {
		return Entry{}, fmt.Errorf("%w: %s", ErrSegmentNotFound, name)
	}
	return entry, nil
}

func (s *Service) Delete(name string) error {
	return s.bucket.Delete([]byte(filepath.Base(name)))
}

// MarkConverted records where the remuxed mp4 of a segment was written.
func (s *Service) MarkConverted(name, mp4Path string) error {
	return s.bucket.Modify([]byte(filepath.Base(name)), func(old []byte) ([]byte, error) {
		if old == nil {
			return nil, fmt.Errorf("%w: %s", ErrSegmentNotFound, name)
		}
		entry, err := pool.Decode[Entry](s.serializer, old)
		if err != nil {
			return nil, err
		}
		entry.Mp4Path = mp4Path
		return s.serializer.Serialize(entry)
	})
}

func (s *Service) Count() (int, error) {
	return s.bucket.Count()
}
