package analysis

import (
	"errors"
	"regexp"
	"strconv"
	"time"

	"github.com/Carlvebbesen/IntervalInsights/internal/oracle"
)

// retryHintPattern matches the retry hint some rate-limit responses embed in
// their error body, e.g. "Please retry in 12.5s".
var retryHintPattern = regexp.MustCompile(`retry in ([\d.]+)s`)

// BackoffCalculator maps a rate-limit error to a wait duration.
type BackoffCalculator func(err error) time.Duration

// NewBackoffCalculator builds the default calculator: the upstream retry hint
// when the error carries one, otherwise fallback, plus a safety margin either
// way.
func NewBackoffCalculator(fallback, margin time.Duration) BackoffCalculator {
	return func(err error) time.Duration {
		var apiErr *oracle.APIError
		if errors.As(err, &apiErr) {
			if m := retryHintPattern.FindStringSubmatch(apiErr.Body); m != nil {
				if secs, parseErr := strconv.ParseFloat(m[1], 64); parseErr == nil {
					return time.Duration(secs*float64(time.Second)) + margin
				}
			}
		}
		return fallback + margin
	}
}
