package dispatch

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/joeydtaylor/hermes/pkg/manifest"
	"github.com/joeydtaylor/hermes/pkg/registry"
)

// Policy is an effective retry policy for one target.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
	RetryOn     manifest.RetryClasses
}

// PolicyFromSettings builds the gateway default from document settings.
func PolicyFromSettings(s manifest.Settings) (Policy, error) {
	specs := s.RetryOn
	if len(specs) == 0 {
		specs = manifest.DefaultRetryOn()
	}
	rc, err := manifest.ParseRetryOn(specs)
	if err != nil {
		return Policy{}, err
	}
	return Policy{
		MaxAttempts: s.RetryAttempts,
		BaseDelay:   s.RetryDelay(),
		MaxDelay:    time.Duration(s.MaxBackoffMS) * time.Millisecond,
		Multiplier:  s.BackoffMultiplier,
		RetryOn:     rc,
	}.normalized(), nil
}

// Merge overlays the non-zero fields of an endpoint override.
func (p Policy) Merge(o *registry.RetryOverride) Policy {
	if o == nil {
		return p.normalized()
	}
	if o.MaxAttempts > 0 {
		p.MaxAttempts = o.MaxAttempts
	}
	if o.BaseDelay > 0 {
		p.BaseDelay = o.BaseDelay
	}
	if o.MaxDelay > 0 {
		p.MaxDelay = o.MaxDelay
	}
	if o.Multiplier > 0 {
		p.Multiplier = o.Multiplier
	}
	if o.RetryOn != nil {
		p.RetryOn = *o.RetryOn
	}
	return p.normalized()
}

func (p Policy) normalized() Policy {
	if p.MaxAttempts < 1 {
		p.MaxAttempts = 1
	}
	if p.BaseDelay < 0 {
		p.BaseDelay = 0
	}
	if p.Multiplier < 1 {
		p.Multiplier = 1
	}
	if p.MaxDelay < p.BaseDelay {
		p.MaxDelay = p.BaseDelay
	}
	return p
}

// Retryable reports whether a failed attempt may be repeated.
func (p Policy) Retryable(err error) bool {
	var de *DeliveryError
	if !errors.As(err, &de) {
		return false
	}
	switch de.Class {
	case ClassNetwork:
		return p.RetryOn.Network
	case ClassTimeout:
		return p.RetryOn.Timeout
	case ClassStatus:
		return p.RetryOn.RetryableStatus(de.StatusCode)
	default:
		return false
	}
}

// backOff yields base*multiplier^(n-1) capped at MaxDelay, without jitter.
func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.BaseDelay
	b.Multiplier = p.Multiplier
	b.MaxInterval = p.MaxDelay
	b.RandomizationFactor = 0
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Delays lists the waits between consecutive attempts.
func (p Policy) Delays() []time.Duration {
	p = p.normalized()
	b := p.backOff()
	out := make([]time.Duration, 0, p.MaxAttempts-1)
	for i := 1; i < p.MaxAttempts; i++ {
		out = append(out, b.NextBackOff())
	}
	return out
}

// wait blocks for d or until ctx is done.
func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	select {
	case <-ctx.Done():
		timer.Stop()
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
