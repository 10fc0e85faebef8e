package utils

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"
)

// SegmentTimeLayout is the timestamp part of a raw segment file name.
const SegmentTimeLayout = "2006-01-02_15-04-05"

// SegmentName builds "<prefix><timestamp><ext>", e.g. raw_2024-05-01_13-00-00.h264.
func SegmentName(prefix string, t time.Time, ext string) string {
	return prefix + t.Format(SegmentTimeLayout) + ext
}

// ParseSegmentTime extracts the timestamp from a segment file name.
// A collision suffix such as "-1" is ignored.
func ParseSegmentTime(name, prefix string) (time.Time, error) {
	base := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
	if !strings.HasPrefix(base, prefix) {
		return time.Time{}, fmt.Errorf("segment %q does not start with %q", name, prefix)
	}
	base = strings.TrimPrefix(base, prefix)
	if len(base) > len(SegmentTimeLayout) {
		base = base[:len(SegmentTimeLayout)]
	}
	return time.ParseInLocation(SegmentTimeLayout, base, time.Local)
}

func GetPathFormat(path string) string {
	return strings.TrimPrefix(filepath.Ext(path), ".")
}

func ChangePathFormat(path string, newFormat string) string {
	ext := filepath.Ext(path)
	if ext == "" {
		return path + "." + newFormat
	}
	return path[0:len(path)-len(ext)] + "." + newFormat
}

func IsFileExists(path string) bool {
	fi, err := os.Stat(path)
	return err == nil && fi.Size() > 0
}

// RemoveGlob deletes every file matching pattern and returns how many were removed.
// Files that vanish concurrently are not an error.
func RemoveGlob(pattern string) (int, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return 0, err
	}
	removed := 0
	var errs []error
	for _, m := range matches {
		if err := os.Remove(m); err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				errs = append(errs, err)
			}
			continue
		}
		removed++
	}
	return removed, errors.Join(errs...)
}

// EnsureDir creates dir and verifies it is writable.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	f, err := os.CreateTemp(dir, ".probe-*")
	if err != nil {
		return fmt.Errorf("directory %s is not writable: %w", dir, err)
	}
	name := f.Name()
	_ = f.Close()
	return os.Remove(name)
}

// BinaryAvailable reports whether name can be resolved on PATH.
func BinaryAvailable(name string) bool {
	_, err := exec.LookPath(name)
	return err == nil
}

// AppendLine appends a single line to path, creating it if needed.
func AppendLine(path, line string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	if _, err := f.WriteString(strings.TrimRight(line, "\n") + "\n"); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}
