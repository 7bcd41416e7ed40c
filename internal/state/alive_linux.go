//go:build linux

package state

import (
	"os"
	"strconv"
)

// ProcAlive reports whether /proc/<pid> exists.
func ProcAlive(pid uint32) bool {
	_, err := os.Stat("/proc/" + strconv.FormatUint(uint64(pid), 10))
	return err == nil
}
