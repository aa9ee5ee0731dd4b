package httpx

import (
	"context"
	"errors"
	"net"
	"net/url"
	"time"
)

// RetryPolicy bounds retries of transient transport failures:
// exponential backoff starting at Base, capped at Max, Attempts total tries.
type RetryPolicy struct {
	Attempts int
	Base     time.Duration
	Max      time.Duration
}

func DefaultRetry() RetryPolicy {
	return RetryPolicy{Attempts: 3, Base: 500 * time.Millisecond, Max: 2 * time.Second}
}

// Transient reports whether err is worth retrying: connection-level trouble,
// timeouts, or a 5xx status. 4xx responses and payload problems are not.
func Transient(err error) bool {
	if err == nil {
		return false
	}
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code >= 500
	}
	var ue *url.Error
	if errors.As(err, &ue) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}

// Do runs fn up to p.Attempts times, sleeping with exponential backoff between
// tries. Only errors recognized by Transient are retried; anything else is
// returned immediately.
func Do(ctx context.Context, p RetryPolicy, fn func() error) error {
	if p.Attempts <= 0 {
		p = DefaultRetry()
	}
	wait := p.Base
	var err error
	for attempt := 1; ; attempt++ {
		err = fn()
		if err == nil || !Transient(err) || attempt >= p.Attempts {
			return err
		}
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return ctx.Err()
		}
		wait *= 2
		if wait > p.Max {
			wait = p.Max
		}
	}
}
