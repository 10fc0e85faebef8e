package utils

import (
	"time"

	"github.com/sirupsen/logrus"
)

// RetryInterval is the pause between WithRetry attempts.
var RetryInterval = 500 * time.Millisecond

// WithRetry runs fn up to times attempts and returns the last error.
func WithRetry(times int, log *logrus.Entry, name string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= max(times, 1); attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if attempt < times {
			log.Warnf("%s failed (attempt %d/%d): %v", name, attempt, times, err)
			time.Sleep(RetryInterval)
		}
	}
	return err
}
