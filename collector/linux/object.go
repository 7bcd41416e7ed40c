//go:build linux

package linuxcollector

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"slices"
	"strings"
)

const (
	objName       = "monitor_bpfel.o"
	objEnv        = "BMON_BPF_OBJ"
	installObjDir = "/usr/lib/bmon"
)

// resolveObject locates the compiled hook set. An explicit path (config or
// BMON_BPF_OBJ) must exist; otherwise the first present candidate wins.
func resolveObject(override string) (string, error) {
	if override = strings.TrimSpace(override); override == "" {
		override = strings.TrimSpace(os.Getenv(objEnv))
	}
	if override != "" {
		if _, err := os.Stat(override); err != nil {
			return "", fmt.Errorf("bpf object %s: %w", override, err)
		}
		return override, nil
	}

	candidates := objectCandidates()
	for _, p := range candidates {
		if fi, err := os.Stat(p); err == nil && !fi.IsDir() {
			return p, nil
		}
	}
	return "", fmt.Errorf(
		"bpf object not found (tried %s). Run `go generate ./collector/linux` to create it, or set %s to an existing .o",
		strings.Join(candidates, ", "), objEnv,
	)
}

// objectCandidates lists the working-directory, package-local,
// executable-relative and install locations, without duplicates.
func objectCandidates() []string {
	rel := []string{
		filepath.Join("collector", "linux", objName),
		objName,
	}
	out := slices.Clone(rel)
	if _, file, _, ok := runtime.Caller(0); ok {
		out = append(out, filepath.Join(filepath.Dir(file), objName))
	}
	if exe, err := os.Executable(); err == nil {
		for _, p := range rel {
			out = append(out, filepath.Join(filepath.Dir(exe), p))
		}
	}
	out = append(out, filepath.Join(installObjDir, objName))

	seen := make(map[string]bool, len(out))
	return slices.DeleteFunc(out, func(p string) bool {
		if seen[p] {
			return true
		}
		seen[p] = true
		return false
	})
}
