package client

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/samber/lo"
)

// RetryPolicy decides whether, and after how long, a dropped session tries
// to reconnect. attempt counts from zero; elapsed is the time since the
// connection was lost.
type RetryPolicy interface {
	NextRetryDelay(attempt int, elapsed time.Duration) (time.Duration, bool)
}

// DelayPolicy retries once per listed delay, then gives up.
type DelayPolicy []time.Duration

// DefaultRetryPolicy retries immediately, then after 2, 10 and 30 seconds.
var DefaultRetryPolicy = DelayPolicy{0, 2 * time.Second, 10 * time.Second, 30 * time.Second}

// NextRetryDelay implements RetryPolicy.
func (p DelayPolicy) NextRetryDelay(attempt int, _ time.Duration) (time.Duration, bool) {
	if attempt < 0 || attempt >= len(p) {
		return 0, false
	}
	return p[attempt], true
}

// ExponentialPolicy doubles the delay after every failed attempt.
type ExponentialPolicy struct {
	Initial time.Duration
	Max     time.Duration
	// MaxAttempts and MaxElapsed stop retrying when positive.
	MaxAttempts int
	MaxElapsed  time.Duration
}

// NextRetryDelay implements RetryPolicy.
func (p ExponentialPolicy) NextRetryDelay(attempt int, elapsed time.Duration) (time.Duration, bool) {
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		return 0, false
	}
	if p.MaxElapsed > 0 && elapsed >= p.MaxElapsed {
		return 0, false
	}

	delay := p.Initial
	for i := 0; i < attempt && delay > 0 && (p.Max <= 0 || delay < p.Max); i++ {
		if delay > math.MaxInt64/2 {
			delay = math.MaxInt64
			break
		}
		delay *= 2
	}
	if p.Max > 0 && delay > p.Max {
		delay = p.Max
	}
	return delay, true
}

// ParseDelays reads a comma-separated delay list such as "0,2s,10s,30s".
// Bare integers are milliseconds. "none" or an empty string disables
// reconnecting.
func ParseDelays(s string) (DelayPolicy, error) {
	if strings.EqualFold(strings.TrimSpace(s), "none") {
		return DelayPolicy{}, nil
	}

	parts := lo.Compact(lo.Map(strings.Split(s, ","), func(part string, _ int) string {
		return strings.TrimSpace(part)
	}))

	delays := make(DelayPolicy, 0, len(parts))
	for _, part := range parts {
		d, err := parseDelay(part)
		if err != nil {
			return nil, err
		}
		delays = append(delays, d)
	}
	return delays, nil
}

func parseDelay(s string) (time.Duration, error) {
	if ms, err := strconv.Atoi(s); err == nil {
		if ms < 0 {
			return 0, fmt.Errorf("negative retry delay %q", s)
		}
		return time.Duration(ms) * time.Millisecond, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, fmt.Errorf("invalid retry delay %q: %w", s, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("negative retry delay %q", s)
	}
	return d, nil
}
