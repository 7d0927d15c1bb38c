package geo

import (
	"context"
	"errors"
	"math"
	"time"

	"semaphore/badging/internal/apperr"
)

const CodeUnavailable = "geolocation_unavailable"

var ErrNoFix = errors.New("geo: no position available")

type Fix struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Round rounds both coordinates to the given number of decimals. A
// negative precision keeps the fix as is.
func (f Fix) Round(decimals int) Fix {
	if decimals < 0 {
		return f
	}
	scale := math.Pow10(decimals)
	return Fix{
		Latitude:  math.Round(f.Latitude*scale) / scale,
		Longitude: math.Round(f.Longitude*scale) / scale,
	}
}

type Provider interface {
	Locate(ctx context.Context) (Fix, error)
}

type ProviderFunc func(ctx context.Context) (Fix, error)

func (f ProviderFunc) Locate(ctx context.Context) (Fix, error) {
	return f(ctx)
}

// Static returns the fix reported by the client, or ErrNoFix.
type Static struct {
	Fix *Fix
}

func (s Static) Locate(context.Context) (Fix, error) {
	if s.Fix == nil {
		return Fix{}, ErrNoFix
	}
	return *s.Fix, nil
}

// Locate asks provider for a fix and gives up after timeout. Every failure,
// including the deadline, is reported as geolocation_unavailable.
func Locate(ctx context.Context, provider Provider, timeout time.Duration) (Fix, error) {
	if provider == nil {
		return Fix{}, apperr.Invalid(CodeUnavailable)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		fix Fix
		err error
	}
	done := make(chan result, 1)
	go func() {
		fix, err := provider.Locate(ctx)
		done <- result{fix: fix, err: err}
	}()

	select {
	case <-ctx.Done():
		return Fix{}, apperr.Wrap(apperr.Validation, CodeUnavailable, ctx.Err())
	case res := <-done:
		if res.err != nil {
			return Fix{}, apperr.Wrap(apperr.Validation, CodeUnavailable, res.err)
		}
		return res.fix, nil
	}
}
