// Package retry provides bounded retry with exponential backoff.
package retry

import (
	"context"
	"math"
	"time"

	"github.com/cockroachdb/errors"
)

type Settings struct {
	InitialBackoff time.Duration
	Multiplier     int
	MaxBackoff     time.Duration
	// MaxRetries bounds the total number of attempts. Zero means
	// retry forever.
	MaxRetries int
}

func (s Settings) Verify() error {
	if s.InitialBackoff <= 0 {
		return errors.Newf("initial backoff must be set to >= 0, got %s", s.InitialBackoff)
	}
	if s.Multiplier < 1 {
		return errors.Newf("multiplier must be >= 1, got %d", s.Multiplier)
	}
	if s.MaxBackoff > 0 && s.InitialBackoff > s.MaxBackoff {
		return errors.Newf("initial backoff (%s) must be less than max backoff (%s)", s.InitialBackoff, s.MaxBackoff)
	}
	return nil
}

func DefaultSettings() Settings {
	return Settings{
		InitialBackoff: time.Second,
		Multiplier:     2,
	}
}

type Retry struct {
	Iteration int

	settings Settings
}

func NewRetry(settings Settings) (*Retry, error) {
	if err := settings.Verify(); err != nil {
		return nil, err
	}
	return &Retry{Iteration: 1, settings: settings}, nil
}

func (r *Retry) ShouldContinue() bool {
	if r.settings.MaxRetries == 0 {
		return true
	}
	return r.Iteration < r.settings.MaxRetries
}

// Backoff returns how long to wait before the next attempt and advances
// the iteration.
func (r *Retry) Backoff() time.Duration {
	d := r.settings.InitialBackoff * time.Duration(math.Pow(float64(r.settings.Multiplier), float64(r.Iteration-1)))
	if r.settings.MaxBackoff > 0 && d > r.settings.MaxBackoff {
		d = r.settings.MaxBackoff
	}
	r.Iteration++
	return d
}

// Do runs fn until it succeeds or attempts are exhausted, sleeping the
// backoff between attempts. The attempt number passed to fn starts at 1.
// The last error is returned when all attempts fail.
func Do(ctx context.Context, settings Settings, fn func(attempt int) error) error {
	r, err := NewRetry(settings)
	if err != nil {
		return err
	}
	for {
		err = fn(r.Iteration)
		if err == nil {
			return nil
		}
		if !r.ShouldContinue() {
			return err
		}
		select {
		case <-time.After(r.Backoff()):
		case <-ctx.Done():
			return errors.CombineErrors(err, ctx.Err())
		}
	}
}
