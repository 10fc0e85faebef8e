package supervisor

import (
	"time"

	"golang.org/x/time/rate"
)

// Policy configures restarts and shutdown of a supervised process.
type Policy struct {
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	// MaxConsecutiveFailures of zero restarts forever.
	MaxConsecutiveFailures int
	// A run lasting at least StableAfter resets the failure counter.
	StableAfter time.Duration
	// RestartsPerMinute of zero disables the rate cap.
	RestartsPerMinute int
	StopGrace         time.Duration
	// StallTimeout of zero disables the output watchdog.
	StallTimeout time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		InitialBackoff:         1 * time.Second,
		MaxBackoff:             30 * time.Second,
		MaxConsecutiveFailures: 5,
		StableAfter:            30 * time.Second,
		RestartsPerMinute:      6,
		StopGrace:              10 * time.Second,
	}
}

// Backoff is InitialBackoff doubled for each consecutive failure after the first.
func (p Policy) Backoff(failures int) time.Duration {
	d := p.InitialBackoff
	if d <= 0 {
		return 0
	}
	for i := 1; i < failures; i++ {
		d *= 2
		if p.MaxBackoff > 0 && d >= p.MaxBackoff {
			return p.MaxBackoff
		}
	}
	return d
}

func (p Policy) limiter() *rate.Limiter {
	if p.RestartsPerMinute <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(time.Minute/time.Duration(p.RestartsPerMinute)), p.RestartsPerMinute)
}

func (p Policy) capReached(failures int) bool {
	return p.MaxConsecutiveFailures > 0 && failures >= p.MaxConsecutiveFailures
}
