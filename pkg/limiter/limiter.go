// Package limiter bounds gateway-wide in-flight dispatches. Admission never
// queues: once the bound is reached callers are rejected immediately.
package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
)

// ErrRejected means the concurrency bound is reached.
var ErrRejected = errors.New("limiter: concurrency limit reached")

type Limiter struct {
	sem      *semaphore.Weighted
	max      int64
	inFlight atomic.Int64
}

// New returns a limiter admitting at most max concurrent holders (min 1).
func New(max int) *Limiter {
	if max < 1 {
		max = 1
	}
	return &Limiter{sem: semaphore.NewWeighted(int64(max)), max: int64(max)}
}

// Permit is one admission. Release may be called any number of times; only
// the first call returns capacity.
type Permit struct {
	l    *Limiter
	once sync.Once
}

func (p *Permit) Release() {
	if p == nil {
		return
	}
	p.once.Do(func() {
		p.l.inFlight.Add(-1)
		p.l.sem.Release(1)
	})
}

// Acquire never blocks.
func (l *Limiter) Acquire() (*Permit, error) {
	if !l.sem.TryAcquire(1) {
		return nil, ErrRejected
	}
	l.inFlight.Add(1)
	return &Permit{l: l}, nil
}

// Do runs fn under a permit, releasing it on every exit path including a
// panic in fn.
func (l *Limiter) Do(ctx context.Context, fn func(context.Context) error) error {
	p, err := l.Acquire()
	if err != nil {
		return err
	}
	defer p.Release()
	return fn(ctx)
}

func (l *Limiter) InFlight() int { return int(l.inFlight.Load()) }

func (l *Limiter) Max() int { return int(l.max) }
