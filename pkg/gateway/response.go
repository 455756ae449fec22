package gateway

import (
	"errors"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/joeydtaylor/hermes/pkg/codec"
	"github.com/joeydtaylor/hermes/pkg/dispatch"
)

// Response statuses reported in the JSON body.
const (
	StatusOK             = "ok"
	StatusPartial        = "partial"
	StatusDeliveryFailed = "delivery_failed"
	StatusRenderFailed   = "render_failed"
	StatusNotFound       = "not_found"
	StatusOverloaded     = "overloaded"
	StatusRateLimited    = "rate_limited"
	StatusUnavailable    = "unavailable"
	StatusBadRequest     = "bad_request"
	StatusTooLarge       = "payload_too_large"
	StatusNotAllowed     = "method_not_allowed"
)

// Response is what the caller of an endpoint receives.
type Response struct {
	Code       int            `json:"-"`
	Status     string         `json:"status"`
	Error      string         `json:"error,omitempty"`
	DeliveryID string         `json:"delivery_id,omitempty"`
	Warnings   []string       `json:"warnings,omitempty"`
	Targets    []TargetReport `json:"targets,omitempty"`
	RetryAfter time.Duration  `json:"-"`
}

type TargetReport struct {
	Index      int    `json:"index"`
	Target     string `json:"target"`
	Status     string `json:"status"`
	Attempts   int    `json:"attempts"`
	StatusCode int    `json:"status_code,omitempty"`
	Error      string `json:"error,omitempty"`
	ElapsedMS  int64  `json:"elapsed_ms"`
}

func errorResponse(code int, status, msg string) Response {
	return Response{Code: code, Status: status, Error: msg}
}

// fromResult maps a dispatch result onto the caller-facing response.
func fromResult(res dispatch.Result) Response {
	r := Response{DeliveryID: res.DeliveryID}
	for _, o := range res.Outcomes {
		tr := TargetReport{
			Index:      o.Index,
			Target:     o.Target,
			Status:     string(o.Status),
			Attempts:   o.Attempts,
			StatusCode: o.LastStatusCode,
			ElapsedMS:  o.Elapsed.Milliseconds(),
		}
		if o.Err != nil {
			tr.Error = o.Err.Error()
		}
		r.Targets = append(r.Targets, tr)
	}

	switch res.Classification {
	case dispatch.AllSucceeded:
		r.Code, r.Status = http.StatusOK, StatusOK
	case dispatch.Partial:
		r.Code, r.Status = http.StatusMultiStatus, StatusPartial
		for _, o := range res.Failed() {
			r.Warnings = append(r.Warnings, "target "+strconv.Itoa(o.Index)+" ("+o.Target+"): "+errString(o.Err))
		}
	case dispatch.RenderFailed:
		r.Code, r.Status = http.StatusUnprocessableEntity, StatusRenderFailed
		r.Error = errString(res.RenderErr)
	default:
		r.Code, r.Status = http.StatusBadGateway, StatusDeliveryFailed
		r.Error = "all targets failed"
		if len(res.Outcomes) == 0 {
			r.Error = "no targets"
		}
	}
	return r
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}

// writeResponse renders r as JSON.
func writeResponse(w http.ResponseWriter, r Response) {
	b, err := codec.JSONStrict.Marshal(r)
	if err != nil {
		r = errorResponse(http.StatusInternalServerError, "internal_error", err.Error())
		b, _ = codec.JSONStrict.Marshal(r)
	}
	if r.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(r.RetryAfter.Seconds()))))
	}
	writeJSON(w, b, r.Code)
}

func writeJSON(w http.ResponseWriter, payload []byte, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if len(payload) > 0 {
		_, _ = w.Write(payload)
		return
	}
	_, _ = w.Write([]byte(`{}`))
}

func bodyError(err error) Response {
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return errorResponse(http.StatusRequestEntityTooLarge, StatusTooLarge,
			"request body exceeds "+strconv.FormatInt(tooLarge.Limit, 10)+" bytes")
	}
	return errorResponse(http.StatusBadRequest, StatusBadRequest, "Invalid JSON: "+err.Error())
}
