package signaling

import (
	"math/rand"
	"time"

	"github.com/autodev/remote-drive/internal/config"
)

// backoffSequence computes successive reconnection delays: exponential,
// doubling from cfg.Initial, capped at cfg.Max, with ±cfg.Jitter
// randomization (spec.md §4.2).
type backoffSequence struct {
	cfg     config.Backoff
	current time.Duration
}

func newBackoffSequence(cfg config.Backoff) *backoffSequence {
	return &backoffSequence{cfg: cfg}
}

// next returns the delay before the next reconnect attempt and advances the
// sequence. The first call returns cfg.Initial (jittered).
func (b *backoffSequence) next() time.Duration {
	if b.current == 0 {
		b.current = b.cfg.Initial
	} else {
		b.current *= 2
		if b.current > b.cfg.Max {
			b.current = b.cfg.Max
		}
	}
	return jitter(b.current, b.cfg.Jitter)
}

// reset returns the sequence to its initial state, called after a
// successful connection.
func (b *backoffSequence) reset() {
	b.current = 0
}

func jitter(d time.Duration, frac float64) time.Duration {
	if frac <= 0 {
		return d
	}
	delta := float64(d) * frac
	offset := (rand.Float64()*2 - 1) * delta // uniform in [-delta, +delta]
	result := float64(d) + offset
	if result < 0 {
		result = 0
	}
	return time.Duration(result)
}
