package session

import (
	"time"

	"github.com/cenkalti/backoff"
)

// Policy bounds reconnection. Delay is a pure function of the attempt number.
type Policy struct {
	Initial    time.Duration
	Max        time.Duration
	Multiplier float64
	// MaxAttempts is the number of reconnect attempts after a failure. Zero retries
	// forever.
	MaxAttempts int
}

// DefaultPolicy waits 1s, 2s, 4s, 5s, 5s before giving up.
func DefaultPolicy() Policy {
	return Policy{
		Initial:     time.Second,
		Max:         5 * time.Second,
		Multiplier:  2,
		MaxAttempts: 5,
	}
}

func (p Policy) normalized() Policy {
	if p.Initial <= 0 {
		p.Initial = time.Second
	}
	if p.Max < p.Initial {
		p.Max = p.Initial
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxAttempts < 0 {
		p.MaxAttempts = 0
	}
	return p
}

// newBackOff builds a deterministic exponential schedule capped at MaxAttempts.
func (p Policy) newBackOff() backoff.BackOff {
	p = p.normalized()
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Initial
	b.MaxInterval = p.Max
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
}

// Delay returns how long to wait before reconnect attempt n (1-based). It reports
// false once the attempt budget is spent.
func (p Policy) Delay(attempt int) (time.Duration, bool) {
	if attempt < 1 {
		return 0, true
	}
	b := p.newBackOff()
	d := backoff.Stop
	for i := 0; i < attempt; i++ {
		d = b.NextBackOff()
		if d == backoff.Stop {
			return 0, false
		}
	}
	return d, true
}
