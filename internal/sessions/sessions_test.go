package sessions

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestSanitizeLabel(t *testing.T) {
	if got := SanitizeLabel(" Kernel "); got != "kernel" {
		t.Fatalf("got %q", got)
	}
	if got := SanitizeLabel("a|b"); got == "" || got == "a|b" {
		t.Fatalf("unexpected %q", got)
	}
	if got := SanitizeLabel("###"); got != "unknown" {
		t.Fatalf("got %q", got)
	}
}

func TestNewSessionID_Unique(t *testing.T) {
	dir := t.TempDir()
	now := time.Date(2026, 2, 14, 1, 2, 3, 0, time.UTC)
	id1, err := NewSessionID(dir, "emulated", now)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != "20260214-010203-emulated" {
		t.Fatalf("id1=%q", id1)
	}
	if err := os.MkdirAll(Dir(dir, id1), 0o755); err != nil {
		t.Fatal(err)
	}
	id2, err := NewSessionID(dir, "emulated", now)
	if err != nil {
		t.Fatal(err)
	}
	if id2 != "20260214-010203-emulated-2" {
		t.Fatalf("id2=%q", id2)
	}
}

func TestResolveLast(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []string{"20260101-000000-kernel", "20260102-000000-kernel"} {
		if err := os.MkdirAll(Dir(dir, id), 0o700); err != nil {
			t.Fatal(err)
		}
	}
	id, d, err := Resolve(dir, "last")
	if err != nil {
		t.Fatal(err)
	}
	if id != "20260102-000000-kernel" || d != filepath.Join(dir, "sessions", id) {
		t.Fatalf("id=%q dir=%q", id, d)
	}
	if _, _, err := Resolve(dir, "nope"); err == nil {
		t.Fatalf("expected error for unknown session")
	}
}

func TestMetaRoundTrip(t *testing.T) {
	dir := t.TempDir()
	m := Meta{SessionID: "s", Backend: "emulated", EventCount: 3, Version: 1}
	if err := WriteMeta(dir, m); err != nil {
		t.Fatal(err)
	}
	got, err := ReadMeta(dir)
	if err != nil {
		t.Fatal(err)
	}
	if got.SessionID != "s" || got.EventCount != 3 {
		t.Fatalf("got %+v", got)
	}
}

func TestResolveDataDir(t *testing.T) {
	env := map[string]string{}
	getenv := func(k string) string { return env[k] }
	home := func() (string, error) { return "/home/u", nil }

	if got, _ := resolveDataDir(0, getenv, home); got != "/var/lib/bmon" {
		t.Fatalf("root: %q", got)
	}
	if got, _ := resolveDataDir(1000, getenv, home); got != "/home/u/.local/state/bmon" {
		t.Fatalf("user: %q", got)
	}
	env["XDG_STATE_HOME"] = "/xdg"
	if got, _ := resolveDataDir(1000, getenv, home); got != "/xdg/bmon" {
		t.Fatalf("xdg: %q", got)
	}
	env["BMON_DATA"] = "/custom"
	if got, _ := resolveDataDir(0, getenv, home); got != "/custom" {
		t.Fatalf("override: %q", got)
	}

	delete(env, "BMON_DATA")
	delete(env, "XDG_STATE_HOME")
	failing := func() (string, error) { return "", errors.New("no home") }
	if _, err := resolveDataDir(1000, getenv, failing); err == nil {
		t.Fatalf("expected error without home")
	}
}

func TestCreateAndPrepare(t *testing.T) {
	dataDir, err := Prepare(filepath.Join(t.TempDir(), "data"))
	if err != nil {
		t.Fatal(err)
	}
	now := time.Date(2026, 10, 18, 9, 30, 0, 0, time.UTC)
	id1, dir1, err := Create(dataDir, "emulated", now)
	if err != nil {
		t.Fatal(err)
	}
	id2, _, err := Create(dataDir, "emulated", now)
	if err != nil {
		t.Fatal(err)
	}
	if id1 != "20261018-093000-emulated" || id2 != "20261018-093000-emulated-2" {
		t.Fatalf("ids %q %q", id1, id2)
	}
	if st, err := os.Stat(dir1); err != nil || !st.IsDir() {
		t.Fatalf("session dir: %v", err)
	}
	last, err := Last(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if last != id2 {
		t.Fatalf("last=%q", last)
	}
}

func TestListOrdersCollisionSuffixesNumerically(t *testing.T) {
	dir := t.TempDir()
	for _, id := range []string{"20260101-000000-kernel-10", "20260101-000000-kernel", "20260101-000000-kernel-9", "20251231-235959-kernel"} {
		if err := os.MkdirAll(Dir(dir, id), 0o700); err != nil {
			t.Fatal(err)
		}
	}
	ids, err := List(dir)
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"20251231-235959-kernel", "20260101-000000-kernel", "20260101-000000-kernel-9", "20260101-000000-kernel-10"}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("ids=%v", ids)
		}
	}
}

func TestResolveRejectsPaths(t *testing.T) {
	dir := t.TempDir()
	if err := os.MkdirAll(filepath.Join(dir, "sessions"), 0o700); err != nil {
		t.Fatal(err)
	}
	for _, sel := range []string{"../etc", "..", "a/b"} {
		if _, _, err := Resolve(dir, sel); err == nil {
			t.Fatalf("Resolve(%q) succeeded", sel)
		}
	}
}

func TestPrepareProbesDefaultDir(t *testing.T) {
	t.Setenv("BMON_DATA", "")
	t.Setenv("XDG_STATE_HOME", t.TempDir())
	if os.Geteuid() == 0 {
		t.Skip("root resolves to the system data dir")
	}
	dir, err := Prepare("")
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(dir) != "bmon" {
		t.Fatalf("dir=%q", dir)
	}
	if _, err := os.Stat(filepath.Join(dir, ".index-probe.sqlite")); !os.IsNotExist(err) {
		t.Fatalf("probe left behind: %v", err)
	}
}
