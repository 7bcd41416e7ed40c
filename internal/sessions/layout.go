package sessions

import (
	"cmp"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Sessions live under <dataDir>/sessions/<id>. An id is
// <UTC stamp>-<label>, with -N appended when the name is taken.
const (
	sessionsSubdir = "sessions"
	stampLayout    = "20060102-150405"
	maxLabel       = 48
	maxCollisions  = 999
)

var unsafeLabel = regexp.MustCompile(`[^a-z0-9._-]+`)

func SanitizeLabel(s string) string {
	s = unsafeLabel.ReplaceAllString(strings.ToLower(strings.TrimSpace(s)), "-")
	if len(s) > maxLabel {
		s = s[:maxLabel]
	}
	if s = strings.Trim(s, "-"); s == "" {
		return "unknown"
	}
	return s
}

func Dir(dataDir, id string) string {
	return filepath.Join(dataDir, sessionsSubdir, id)
}

func candidate(base string, n int) string {
	if n <= 1 {
		return base
	}
	return base + "-" + strconv.Itoa(n)
}

func baseID(label string, now time.Time) string {
	return now.UTC().Format(stampLayout) + "-" + SanitizeLabel(label)
}

// NewSessionID returns the first free id for label at now without
// reserving it.
func NewSessionID(dataDir, label string, now time.Time) (string, error) {
	base := baseID(label, now)
	for n := 1; n <= maxCollisions; n++ {
		id := candidate(base, n)
		_, err := os.Stat(Dir(dataDir, id))
		switch {
		case errors.Is(err, fs.ErrNotExist):
			return id, nil
		case err != nil:
			return "", err
		}
	}
	return "", fmt.Errorf("no free session id for %q", base)
}

// Create reserves a session id by creating its private directory. Mkdir
// is the reservation, so concurrent creators never share a directory.
func Create(dataDir, label string, now time.Time) (id, dir string, err error) {
	if err := os.MkdirAll(filepath.Join(dataDir, sessionsSubdir), 0o700); err != nil {
		return "", "", err
	}
	base := baseID(label, now)
	for n := 1; n <= maxCollisions; n++ {
		id = candidate(base, n)
		dir = Dir(dataDir, id)
		err = os.Mkdir(dir, 0o700)
		if err == nil {
			return id, dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", fmt.Errorf("create session dir: %w", err)
		}
	}
	return "", "", fmt.Errorf("no free session id for %q", base)
}

// List returns session ids oldest first. Collision suffixes sort
// numerically, so -10 follows -9.
func List(dataDir string) ([]string, error) {
	ents, err := os.ReadDir(filepath.Join(dataDir, sessionsSubdir))
	if err != nil {
		return nil, fmt.Errorf("list sessions: %w", err)
	}
	var ids []string
	for _, e := range ents {
		if e.IsDir() {
			ids = append(ids, e.Name())
		}
	}
	slices.SortFunc(ids, compareIDs)
	return ids, nil
}

func splitSuffix(id string) (string, int) {
	i := strings.LastIndexByte(id, '-')
	if i < 0 {
		return id, 1
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil || n < 2 {
		return id, 1
	}
	return id[:i], n
}

func compareIDs(a, b string) int {
	ab, an := splitSuffix(a)
	bb, bn := splitSuffix(b)
	return cmp.Or(strings.Compare(ab, bb), cmp.Compare(an, bn))
}

func Last(dataDir string) (string, error) {
	ids, err := List(dataDir)
	if err != nil {
		return "", err
	}
	if len(ids) == 0 {
		return "", fmt.Errorf("no sessions under %s", filepath.Join(dataDir, sessionsSubdir))
	}
	return ids[len(ids)-1], nil
}

// Resolve maps "last" (or "") or an explicit id to the session directory.
func Resolve(dataDir, sel string) (id, dir string, err error) {
	switch sel = strings.TrimSpace(sel); sel {
	case "", "last":
		if id, err = Last(dataDir); err != nil {
			return "", "", err
		}
	default:
		if strings.ContainsAny(sel, `/\`) || sel == "." || sel == ".." {
			return "", "", fmt.Errorf("invalid session id %q", sel)
		}
		id = sel
	}
	dir = Dir(dataDir, id)
	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		return "", "", fmt.Errorf("session %q not found", id)
	}
	return id, dir, nil
}
