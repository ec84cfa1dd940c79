package connection

import (
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/vovakirdan/mindmate-chat/internal/config"
)

// Policy bounds reconnect attempts. Zero MaxAttempts or MaxElapsed disables
// that cap; at least one should be set.
type Policy struct {
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
	// Jitter is the backoff randomization factor in [0, 1).
	Jitter      float64
	MaxAttempts int
	MaxElapsed  time.Duration
}

// PolicyFromConfig maps the reconnect section of the client config.
func PolicyFromConfig(cfg config.ReconnectConfig) Policy {
	return Policy{
		InitialDelay: cfg.InitialDelay,
		MaxDelay:     cfg.MaxDelay,
		Multiplier:   cfg.Multiplier,
		Jitter:       0.2,
		MaxAttempts:  cfg.MaxAttempts,
		MaxElapsed:   cfg.MaxElapsed,
	}
}

// DefaultPolicy mirrors config.Default().
func DefaultPolicy() Policy {
	return PolicyFromConfig(config.Default().Reconnect)
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	if p.InitialDelay > 0 {
		b.InitialInterval = p.InitialDelay
	}
	if p.MaxDelay > 0 {
		b.MaxInterval = p.MaxDelay
	}
	if p.Multiplier >= 1 {
		b.Multiplier = p.Multiplier
	}
	b.RandomizationFactor = p.Jitter
	b.Reset()
	return b
}

// exhausted reports whether another attempt would exceed the caps.
func (p Policy) exhausted(attempts int, elapsed time.Duration) bool {
	if p.MaxAttempts > 0 && attempts >= p.MaxAttempts {
		return true
	}
	return p.MaxElapsed > 0 && elapsed >= p.MaxElapsed
}
