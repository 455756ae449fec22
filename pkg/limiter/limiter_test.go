package limiter

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestAcquireRejectsAtBound(t *testing.T) {
	l := New(2)
	p1, err := l.Acquire()
	require.NoError(t, err)
	p2, err := l.Acquire()
	require.NoError(t, err)

	_, err = l.Acquire()
	require.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, 2, l.InFlight())

	p1.Release()
	p3, err := l.Acquire()
	require.NoError(t, err)

	p2.Release()
	p3.Release()
	assert.Equal(t, 0, l.InFlight())
	assert.Equal(t, 2, l.Max())
}

func TestReleaseIsIdempotent(t *testing.T) {
	l := New(1)
	p, err := l.Acquire()
	require.NoError(t, err)

	p.Release()
	p.Release()
	p.Release()
	assert.Equal(t, 0, l.InFlight())

	q, err := l.Acquire()
	require.NoError(t, err)
	_, err = l.Acquire()
	require.ErrorIs(t, err, ErrRejected, "double release must not free extra capacity")
	q.Release()

	var nilPermit *Permit
	nilPermit.Release()
}

func TestDoReleasesOnEveryPath(t *testing.T) {
	l := New(1)
	boom := errors.New("boom")

	require.ErrorIs(t, l.Do(context.Background(), func(context.Context) error { return boom }), boom)
	assert.Equal(t, 0, l.InFlight())

	require.NoError(t, l.Do(context.Background(), func(context.Context) error { return nil }))
	assert.Equal(t, 0, l.InFlight())

	assert.Panics(t, func() {
		_ = l.Do(context.Background(), func(context.Context) error { panic("render blew up") })
	})
	assert.Equal(t, 0, l.InFlight())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := l.Do(ctx, func(ctx context.Context) error { return ctx.Err() })
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 0, l.InFlight())
}

func TestSecondCallerRejectedWhileFirstInFlight(t *testing.T) {
	l := New(1)
	started := make(chan struct{})
	finish := make(chan struct{})
	done := make(chan error, 1)

	go func() {
		done <- l.Do(context.Background(), func(context.Context) error {
			close(started)
			<-finish
			return nil
		})
	}()
	<-started

	err := l.Do(context.Background(), func(context.Context) error { return nil })
	require.ErrorIs(t, err, ErrRejected)

	close(finish)
	require.NoError(t, <-done)
	assert.Equal(t, 0, l.InFlight())
}

func TestNeverExceedsBound(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		max := rapid.IntRange(1, 8).Draw(rt, "max")
		workers := rapid.IntRange(1, 40).Draw(rt, "workers")
		failEvery := rapid.IntRange(1, 4).Draw(rt, "failEvery")

		l := New(max)
		var cur, peak, admitted, rejected atomic.Int64
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				err := l.Do(context.Background(), func(context.Context) error {
					n := cur.Add(1)
					for {
						p := peak.Load()
						if n <= p || peak.CompareAndSwap(p, n) {
							break
						}
					}
					time.Sleep(time.Duration(i%3) * time.Millisecond)
					cur.Add(-1)
					if i%failEvery == 0 {
						return errors.New("dispatch failed")
					}
					return nil
				})
				if errors.Is(err, ErrRejected) {
					rejected.Add(1)
				} else {
					admitted.Add(1)
				}
			}(i)
		}
		wg.Wait()

		if peak.Load() > int64(max) {
			rt.Fatalf("peak %d exceeded max %d", peak.Load(), max)
		}
		if admitted.Load()+rejected.Load() != int64(workers) {
			rt.Fatalf("lost callers")
		}
		if l.InFlight() != 0 {
			rt.Fatalf("leaked %d permits", l.InFlight())
		}
		// Full capacity is available again.
		for i := 0; i < max; i++ {
			if _, err := l.Acquire(); err != nil {
				rt.Fatalf("permit %d not returned: %v", i, err)
			}
		}
	})
}
