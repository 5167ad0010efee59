package domain

import "fmt"

// Interval is a supported bar duration.
type Interval string

// Supported intervals.
const (
	Interval1m  Interval = "1m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval1h  Interval = "1h"
	Interval4h  Interval = "4h"
	Interval1d  Interval = "1d"
)

// Ms returns the interval duration in milliseconds, or 0 for an unknown interval.
func (i Interval) Ms() int64 {
	switch i {
	case Interval1m:
		return 60_000
	case Interval5m:
		return 300_000
	case Interval15m:
		return 900_000
	case Interval1h:
		return 3_600_000
	case Interval4h:
		return 14_400_000
	case Interval1d:
		return 86_400_000
	default:
		return 0
	}
}

// Valid reports whether the interval is one of the supported values.
func (i Interval) Valid() bool {
	return i.Ms() > 0
}

// ParseInterval validates a raw interval string.
func ParseInterval(s string) (Interval, error) {
	i := Interval(s)
	if !i.Valid() {
		return "", fmt.Errorf("unknown interval %q", s)
	}
	return i, nil
}
