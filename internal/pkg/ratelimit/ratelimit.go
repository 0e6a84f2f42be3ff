// Package ratelimit is the fetcher's composite throttle: a bounded semaphore
// caps concurrent in-flight requests and a token bucket caps request rate.
// It mirrors the client crate's HttpRateLimiter, which pairs a tokio
// Semaphore with a governor quota.
package ratelimit

import (
	"context"
	"math/rand"
	"time"

	"golang.org/x/time/rate"
)

// Period names the unit a rate limit is expressed against, matching the
// config's RateLimitingDuration enum.
type Period int

const (
	PerSecond Period = iota
	PerMinute
	PerHour
)

func (p Period) duration() time.Duration {
	switch p {
	case PerMinute:
		return time.Minute
	case PerHour:
		return time.Hour
	default:
		return time.Second
	}
}

// Config describes one host's or one crawl's limiter settings.
type Config struct {
	// MaxConcurrent bounds simultaneous in-flight requests. Zero means
	// unbounded.
	MaxConcurrent int
	// Requests is how many requests are allowed per Period. Zero means
	// unmetered (no token bucket).
	Requests int
	Period   Period
	// Jitter adds up to this much random delay after a permit is acquired,
	// so a burst of releases doesn't fire all at once.
	Jitter time.Duration
}

// asLimit converts Requests/Period into an events-per-second rate.Limit plus
// a burst size, the Go equivalent of the governor crate's Quota.
func (c Config) asLimit() (rate.Limit, int) {
	if c.Requests <= 0 {
		return rate.Inf, 0
	}
	perSecond := float64(c.Requests) / c.Period.duration().Seconds()
	return rate.Limit(perSecond), c.Requests
}

// Limiter is the runtime throttle built from a Config. It is safe for
// concurrent use by many fetcher goroutines.
type Limiter struct {
	sem    chan struct{}
	bucket *rate.Limiter
	jitter time.Duration
}

// New builds a Limiter from cfg. A zero Config yields a no-op limiter.
func New(cfg Config) *Limiter {
	l := &Limiter{jitter: cfg.Jitter}
	if cfg.MaxConcurrent > 0 {
		l.sem = make(chan struct{}, cfg.MaxConcurrent)
	}
	if cfg.Requests > 0 {
		limit, burst := cfg.asLimit()
		l.bucket = rate.NewLimiter(limit, burst)
	}
	return l
}

// Release is returned by Acquire and must be called once the caller is done
// holding a concurrency permit (it is a no-op when there is no semaphore).
type Release func()

// Acquire blocks until a concurrency permit and a rate-limit token are both
// available, then waits out the jitter delay. It returns early with ctx's
// error if ctx is cancelled first.
func (l *Limiter) Acquire(ctx context.Context) (Release, error) {
	if l.sem != nil {
		select {
		case l.sem <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	release := func() {
		if l.sem != nil {
			<-l.sem
		}
	}

	if l.bucket != nil {
		if err := l.bucket.Wait(ctx); err != nil {
			release()
			return nil, err
		}
	}

	if l.jitter > 0 {
		d := time.Duration(rand.Int63n(int64(l.jitter)))
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			release()
			return nil, ctx.Err()
		}
	}

	return release, nil
}

// IsIdle reports whether every concurrency permit is currently free. The
// archiver's quiescence check does not call it; that check reads only the
// actor in-flight counter.
func (l *Limiter) IsIdle() bool {
	return l.sem == nil || len(l.sem) == 0
}
