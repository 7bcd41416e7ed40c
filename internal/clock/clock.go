// Package clock provides the monotonic nanosecond clock stamped on events.
package clock

// Func returns monotonic nanoseconds.
type Func func() uint64
