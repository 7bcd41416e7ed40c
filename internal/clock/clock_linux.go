//go:build linux

package clock

import "golang.org/x/sys/unix"

// Monotonic reads CLOCK_MONOTONIC, the clock behind bpf_ktime_get_ns, so
// emulated and kernel-emitted timestamps are comparable.
func Monotonic() uint64 {
	var ts unix.Timespec
	if err := unix.ClockGettime(unix.CLOCK_MONOTONIC, &ts); err != nil {
		return fallback()
	}
	return uint64(ts.Nano())
}
