package dispatch

import (
	"fmt"
	"time"
)

type Classification string

const (
	AllSucceeded Classification = "all_succeeded"
	Partial      Classification = "partial"
	AllFailed    Classification = "all_failed"
	RenderFailed Classification = "render_failed"
)

type Status string

const (
	Succeeded Status = "succeeded"
	Failed    Status = "failed"
)

// ErrorClass groups delivery failures for retry decisions and reporting.
type ErrorClass string

const (
	ClassNetwork     ErrorClass = "network"
	ClassTimeout     ErrorClass = "timeout"
	ClassStatus      ErrorClass = "status"
	ClassCircuitOpen ErrorClass = "circuit_open"
	ClassCancelled   ErrorClass = "cancelled"
	ClassConfig      ErrorClass = "config"
)

// DeliveryError is the failure of one attempt against one target.
type DeliveryError struct {
	Class      ErrorClass
	StatusCode int
	Err        error
}

func (e *DeliveryError) Error() string {
	if e.Class == ClassStatus {
		return fmt.Sprintf("%s: downstream returned %d", e.Class, e.StatusCode)
	}
	if e.Err == nil {
		return string(e.Class)
	}
	return fmt.Sprintf("%s: %v", e.Class, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Outcome is the final state of one target. Index matches the target's
// position in the endpoint definition.
type Outcome struct {
	Index          int
	Target         string
	Attempts       int
	Status         Status
	Elapsed        time.Duration
	LastStatusCode int
	Err            error
}

type Result struct {
	DeliveryID     string
	Classification Classification
	Outcomes       []Outcome
	RenderErr      error
	Elapsed        time.Duration
}

// Failed reports the outcomes that did not succeed.
func (r Result) Failed() []Outcome {
	var out []Outcome
	for _, o := range r.Outcomes {
		if o.Status != Succeeded {
			out = append(out, o)
		}
	}
	return out
}

func classify(outcomes []Outcome) Classification {
	ok := 0
	for _, o := range outcomes {
		if o.Status == Succeeded {
			ok++
		}
	}
	switch {
	case ok == len(outcomes) && ok > 0:
		return AllSucceeded
	case ok == 0:
		return AllFailed
	default:
		return Partial
	}
}
