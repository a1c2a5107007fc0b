package helpers

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

// TimeRange bounds recording start times. A zero End is open-ended.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside the range.
func (r *TimeRange) Contains(t time.Time) bool {
	if r == nil {
		return true
	}
	if t.Before(r.Start) {
		return false
	}
	return r.End.IsZero() || !t.After(r.End)
}

// TimeFlags holds the flag values for time range parsing.
type TimeFlags struct {
	Since string
	From  string
	To    string
}

// AddFlags adds time range flags to a FlagSet.
func (f *TimeFlags) AddFlags(flags *pflag.FlagSet) {
	flags.StringVar(&f.Since, "since", "", "Only recordings started within this duration (e.g. 30m, 24h)")
	flags.StringVar(&f.From, "from", "", "Only recordings started at or after this time (RFC3339 or 'now')")
	flags.StringVar(&f.To, "to", "", "Only recordings started at or before this time (RFC3339 or 'now')")
}

// Parse returns the selected range, or nil when no flag is set. --from and
// --to take precedence over --since.
func (f *TimeFlags) Parse(now time.Time) (*TimeRange, error) {
	if f.From != "" || f.To != "" {
		var r TimeRange
		var err error
		if f.From != "" {
			if r.Start, err = parseTime(f.From, now); err != nil {
				return nil, fmt.Errorf("invalid --from time: %w", err)
			}
		}
		if f.To != "" {
			if r.End, err = parseTime(f.To, now); err != nil {
				return nil, fmt.Errorf("invalid --to time: %w", err)
			}
			if r.End.Before(r.Start) {
				return nil, fmt.Errorf("end time cannot be before start time")
			}
		}
		return &r, nil
	}

	if f.Since != "" {
		d, err := time.ParseDuration(f.Since)
		if err != nil {
			return nil, fmt.Errorf("invalid --since duration: %w", err)
		}
		if d <= 0 {
			return nil, fmt.Errorf("--since must be positive")
		}
		return &TimeRange{Start: now.Add(-d)}, nil
	}
	return nil, nil
}

func parseTime(s string, now time.Time) (time.Time, error) {
	if s == "now" {
		return now, nil
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unsupported time format (use RFC3339)")
}
