//go:build !linux

package clock

func Monotonic() uint64 { return fallback() }
