//go:build linux

package reactor

import (
	"fmt"
	"time"
)

// Timestamp is a point in time stored as microseconds since the Unix
// epoch. It is totally ordered and immutable, mirroring the original
// Timestamp.h value type.
type Timestamp int64

// invalidTimestamp is the zero value, used as a sentinel.
const invalidTimestamp Timestamp = 0

// Now returns the current wall-clock time as a Timestamp.
func Now() Timestamp {
	return Timestamp(time.Now().UnixMicro())
}

// Time converts the Timestamp back to a time.Time for interop with the
// standard library (e.g. timerfd deadlines).
func (t Timestamp) Time() time.Time {
	return time.UnixMicro(int64(t))
}

// Add returns t advanced by d.
func (t Timestamp) Add(d Duration) Timestamp {
	return t + Timestamp(d*Duration(time.Second)/Duration(time.Microsecond))
}

// Before reports whether t is strictly earlier than other.
func (t Timestamp) Before(other Timestamp) bool {
	return t < other
}

// Valid reports whether t was ever set.
func (t Timestamp) Valid() bool {
	return t > invalidTimestamp
}

// String renders a human readable "20060102 15:04:05.000000" UTC timestamp,
// the Go analogue of Timestamp::toFormattedString in the original.
func (t Timestamp) String() string {
	tm := t.Time().UTC()
	return fmt.Sprintf("%04d%02d%02d %02d:%02d:%02d.%06d",
		tm.Year(), tm.Month(), tm.Day(),
		tm.Hour(), tm.Minute(), tm.Second(),
		tm.Nanosecond()/1000)
}

// Duration is a nonnegative interval expressed in floating-point
// seconds, used for timer intervals (TimerQueue::runEvery and friends).
type Duration float64

// StdDuration converts to a time.Duration, clamping to the kernel's
// minimum practical resolution so callers never arm a zero-delay timer
// that would busy-loop against the clock (§4.4).
func (d Duration) StdDuration() time.Duration {
	std := time.Duration(float64(d) * float64(time.Second))
	const minDelay = 100 * time.Microsecond
	if std < minDelay {
		return minDelay
	}
	return std
}
