//go:build !linux

package bmond

func kernelRelease() string { return "" }
