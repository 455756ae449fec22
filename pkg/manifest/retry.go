package manifest

import (
	"fmt"
	"strconv"
	"strings"
)

// Outcome classes accepted in retry_on besides status specs.
const (
	RetryOnNetwork = "network"
	RetryOnTimeout = "timeout"
)

// DefaultRetryOn is used when neither settings nor the endpoint list classes.
func DefaultRetryOn() []string {
	return []string{RetryOnNetwork, RetryOnTimeout, "5xx", "429"}
}

// StatusRange is an inclusive HTTP status interval.
type StatusRange struct {
	Lo, Hi int
}

// RetryClasses is the parsed form of a retry_on list.
type RetryClasses struct {
	Network  bool
	Timeout  bool
	Statuses []StatusRange
}

// RetryableStatus reports whether a non-2xx status should be retried.
func (c RetryClasses) RetryableStatus(code int) bool {
	for _, r := range c.Statuses {
		if code >= r.Lo && code <= r.Hi {
			return true
		}
	}
	return false
}

// ParseRetryOn accepts "network", "timeout", a single code ("429"), a class
// ("5xx") or an inclusive range ("500-504").
func ParseRetryOn(specs []string) (RetryClasses, error) {
	var c RetryClasses
	for _, raw := range specs {
		s := strings.ToLower(strings.TrimSpace(raw))
		switch {
		case s == RetryOnNetwork:
			c.Network = true
		case s == RetryOnTimeout:
			c.Timeout = true
		case len(s) == 3 && strings.HasSuffix(s, "xx"):
			d, err := strconv.Atoi(s[:1])
			if err != nil || d < 1 || d > 5 {
				return RetryClasses{}, fmt.Errorf("retry_on %q invalid", raw)
			}
			c.Statuses = append(c.Statuses, StatusRange{Lo: d * 100, Hi: d*100 + 99})
		case strings.Contains(s, "-"):
			lo, hi, _ := strings.Cut(s, "-")
			l, err1 := parseStatus(lo)
			h, err2 := parseStatus(hi)
			if err1 != nil || err2 != nil || l > h {
				return RetryClasses{}, fmt.Errorf("retry_on %q invalid", raw)
			}
			c.Statuses = append(c.Statuses, StatusRange{Lo: l, Hi: h})
		default:
			code, err := parseStatus(s)
			if err != nil {
				return RetryClasses{}, fmt.Errorf("retry_on %q invalid", raw)
			}
			c.Statuses = append(c.Statuses, StatusRange{Lo: code, Hi: code})
		}
	}
	return c, nil
}

func parseStatus(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n < 100 || n > 599 {
		return 0, fmt.Errorf("status %d out of range", n)
	}
	return n, nil
}
