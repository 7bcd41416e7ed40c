//go:build !linux

package state

// ProcAlive is unknown off linux; idle records are only evicted under
// capacity pressure.
var ProcAlive func(pid uint32) bool
