package sessions

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/melonattacker/bmon/internal/storage"
)

const (
	dataEnv       = "BMON_DATA"
	systemDataDir = "/var/lib/bmon"
)

// DataDir returns the base directory for session data: $BMON_DATA when set,
// /var/lib/bmon for root, otherwise the XDG state directory.
func DataDir() (string, error) {
	return resolveDataDir(os.Geteuid(), os.Getenv, os.UserHomeDir)
}

func resolveDataDir(euid int, getenv func(string) string, home func() (string, error)) (string, error) {
	if v := strings.TrimSpace(getenv(dataEnv)); v != "" {
		return v, nil
	}
	if euid == 0 {
		return systemDataDir, nil
	}
	if v := strings.TrimSpace(getenv("XDG_STATE_HOME")); v != "" {
		return filepath.Join(v, "bmon"), nil
	}
	h, err := home()
	if err != nil {
		return "", fmt.Errorf("resolve home dir: %w", err)
	}
	return filepath.Join(h, ".local", "state", "bmon"), nil
}

// Prepare makes dir ready to hold sessions. An empty dir resolves the
// default location; when that cannot host the index, a per-uid directory
// under the system temp dir is used instead.
func Prepare(dir string) (string, error) {
	if strings.TrimSpace(dir) != "" {
		return dir, mkSessionsDir(dir)
	}
	def, err := DataDir()
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(os.Getenv(dataEnv)) != "" {
		return def, mkSessionsDir(def)
	}
	var errs []error
	for _, c := range []string{def, filepath.Join(os.TempDir(), "bmon-"+strconv.Itoa(os.Getuid()))} {
		err := mkSessionsDir(c)
		if err == nil {
			err = probeIndex(c)
		}
		if err == nil {
			return c, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", c, err))
	}
	return "", fmt.Errorf("no usable data dir: %w", errors.Join(errs...))
}

// Session data names processes and paths, so the tree is private.
func mkSessionsDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, sessionsSubdir), 0o700)
}

func probeIndex(dir string) error {
	p := filepath.Join(dir, ".index-probe.sqlite")
	defer func() {
		for _, suffix := range []string{"", "-wal", "-shm"} {
			_ = os.Remove(p + suffix)
		}
	}()
	db, err := storage.OpenSQLite(p)
	if err != nil {
		return err
	}
	return db.Close()
}
