package file

import (
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/eric2788/webcamrec/internal/modules/config"
	"github.com/eric2788/webcamrec/internal/processors"
	"github.com/eric2788/webcamrec/utils"
	"github.com/jellydator/ttlcache/v3"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/sirupsen/logrus"
)

var logger = logrus.WithField("service", "file")

var ErrFileNotFound = fmt.Errorf("file not found")
var ErrInvalidFilePath = fmt.Errorf("invalid file path")
var ErrAccessDenied = fmt.Errorf("access denied")
var ErrIsDirectory = fmt.Errorf("path is a directory")

const usageTTL = 30 * time.Second

var segmentFormats = []string{".h264", ".mp4"}

type Tree struct {
	Name       string     `json:"name"`
	Path       string     `json:"path"`
	Format     string     `json:"format"`
	Size       int64      `json:"size"`
	ModTime    time.Time  `json:"mod_time"`
	// RecordedAt is taken from the file name, nil for foreign names.
	RecordedAt *time.Time `json:"recorded_at,omitempty"`
}

type Usage struct {
	Path        string  `json:"path"`
	Total       uint64  `json:"total"`
	Free        uint64  `json:"free"`
	Used        uint64  `json:"used"`
	UsedPercent float64 `json:"used_percent"`
}

// Service exposes the recorded segment directory.
type Service struct {
	dir   string
	usage *ttlcache.Cache[string, Usage]
}

func NewService(cfg *config.Config) *Service {
	return New(cfg.SaveDir)
}

func New(dir string) *Service {
	return &Service{
		dir: dir,
		usage: ttlcache.New(
			ttlcache.WithTTL[string, Usage](usageTTL),
			ttlcache.WithDisableTouchOnHit[string, Usage](),
		),
	}
}

// ListSegments returns published segments and remuxed mp4 files, newest first.
// In-progress segments are hidden files and never listed.
func (s *Service) ListSegments() ([]*Tree, error) {
	entries, err := os.ReadDir(s.dir)
	if os.IsNotExist(err) {
		return []*Tree{}, nil
	} else if err != nil {
		return nil, err
	}

	files := make([]*Tree, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || strings.HasPrefix(name, ".") || !slices.Contains(segmentFormats, filepath.Ext(name)) {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			// removed while listing
			continue
		}
		tree := &Tree{
			Name:    name,
			Path:    filepath.Join(s.dir, name),
			Format:  utils.GetPathFormat(name),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		}
		if at, err := utils.ParseSegmentTime(name, processors.DefaultSegmentPrefix); err == nil {
			tree.RecordedAt = &at
		}
		files = append(files, tree)
	}
	slices.SortFunc(files, newestFirst)
	return files, nil
}

// newestFirst orders by recording time, then by name. Files without a
// recording time go last.
func newestFirst(a, b *Tree) int {
	switch {
	case a.RecordedAt != nil && b.RecordedAt != nil:
		if c := b.RecordedAt.Compare(*a.RecordedAt); c != 0 {
			return c
		}
	case a.RecordedAt != nil:
		return -1
	case b.RecordedAt != nil:
		return 1
	}
	return strings.Compare(b.Name, a.Name)
}

// Resolve returns the absolute path of a published file in the segment directory.
func (s *Service) Resolve(name string) (string, error) {
	return s.stat(name)
}

func (s *Service) Delete(name string) error {
	fullPath, err := s.stat(name)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil {
		return err
	}
	s.usage.Delete(s.dir)
	logger.WithField("segment", name).Info("deleted")
	return nil
}

// DiskUsage reports the filesystem holding the segments, cached briefly.
func (s *Service) DiskUsage() (Usage, error) {
	if item := s.usage.Get(s.dir); item != nil {
		return item.Value(), nil
	}
	st, err := disk.Usage(s.dir)
	if err != nil {
		return Usage{}, err
	}
	u := Usage{Path: st.Path, Total: st.Total, Free: st.Free, Used: st.Used, UsedPercent: st.UsedPercent}
	s.usage.Set(s.dir, u, ttlcache.DefaultTTL)
	return u, nil
}

func (s *Service) stat(name string) (string, error) {
	fullPath, err := s.validatePath(name)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(fullPath)
	if os.IsNotExist(err) {
		return "", ErrFileNotFound
	} else if err != nil {
		return "", err
	}
	if info.IsDir() {
		return "", ErrIsDirectory
	}
	if strings.HasPrefix(info.Name(), ".") {
		return "", ErrAccessDenied
	}
	return fullPath, nil
}

func (s *Service) validatePath(path string) (string, error) {
	baseAbs, err := filepath.Abs(s.dir)
	if err != nil {
		logger.Errorf("invalid base path for %s: %v", s.dir, err)
		return "", ErrInvalidFilePath
	}

	fullPathAbs, err := filepath.Abs(filepath.Join(baseAbs, path))
	if err != nil {
		logger.Errorf("invalid path for %s: %v", path, err)
		return "", ErrInvalidFilePath
	}

	if !strings.HasPrefix(fullPathAbs, baseAbs+string(os.PathSeparator)) {
		logger.Warnf("path traversal detected: %s", path)
		return "", ErrAccessDenied
	}

	return fullPathAbs, nil
}
