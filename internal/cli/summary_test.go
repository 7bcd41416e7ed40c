package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/sessions"
	"github.com/melonattacker/bmon/internal/storage"
)

func record(typ event.Type, lvl event.Level, pid uint32, ts uint64, comm, details string) event.Record {
	return event.New(typ, lvl, event.Task{PID: pid, UID: 1000, GID: 1000, Comm: comm}, ts, details).ToRecord()
}

// writeSession records a short session under dataDir and returns its dir.
func writeSession(t *testing.T, dataDir string) (string, string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Join(dataDir, "sessions"), 0o700); err != nil {
		t.Fatal(err)
	}
	start := time.Date(2026, 10, 18, 10, 15, 0, 0, time.UTC)
	id, dir, err := sessions.Create(dataDir, "emulated", start)
	if err != nil {
		t.Fatal(err)
	}
	meta := sessions.Meta{SessionID: id, StartTS: start.UnixNano(), Backend: "emulated", Scenario: "file_threshold"}
	st, err := storage.Open(storage.OpenParams{SessionID: id, Dir: dir, StartTS: meta.StartTS, Backend: "emulated"})
	if err != nil {
		t.Fatal(err)
	}
	ts := meta.StartTS
	if _, err := st.AppendEvent(ts+1, record(event.ProcessCreated, event.Low, 4242, 100, "scanner", "/usr/bin/scanner"), "process scanner[4242] exec /usr/bin/scanner"); err != nil {
		t.Fatal(err)
	}
	anomaly, err := st.AppendEvent(ts+2, record(event.SyscallAnomaly, event.Medium, 4242, 200, "scanner", "file access threshold crossed: 100 opens"), "syscall anomaly in scanner[4242]")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.AppendAlert(ts+3, storage.Alert{RuleID: "B002", Severity: "high", Message: "scanner crossed the file access threshold"}, anomaly); err != nil {
		t.Fatal(err)
	}
	denied, err := st.AppendEvent(ts+4, record(event.FileAccessDenied, event.High, 4242, 300, "scanner", "open /etc/shadow"), "suspicious file access by scanner[4242]: open /etc/shadow")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.AppendAlert(ts+5, storage.Alert{RuleID: "B001", Severity: "critical", Message: "scanner touched /etc/shadow"}, denied); err != nil {
		t.Fatal(err)
	}
	meta.EndTS = ts + int64(2*time.Second)
	meta.EventCount, meta.AlertCount = st.Counts()
	if err := sessions.WriteMeta(dir, meta); err != nil {
		t.Fatal(err)
	}
	b, _ := json.Marshal(meta)
	if err := st.Close(meta.EndTS, string(b)); err != nil {
		t.Fatal(err)
	}
	return id, dir
}

func TestSummaryJSON(t *testing.T) {
	dataDir := t.TempDir()
	id, _ := writeSession(t, dataDir)

	buf, restore := captureStdout(t)
	err := SummaryCommand(context.Background(), []string{"--data", dataDir, "--json", "last"})
	restore()
	if err != nil {
		t.Fatalf("SummaryCommand: %v", err)
	}

	var out summaryOut
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("decode summary: %v\noutput=%s", err, buf.String())
	}
	if out.SessionID != id || out.Meta.EventCount != 3 || out.Meta.AlertCount != 2 {
		t.Fatalf("unexpected session: %+v", out)
	}
	if out.ByType["file_access_denied"] != 1 || out.AlertsBySeverity["critical"] != 1 {
		t.Fatalf("unexpected counts: %+v %+v", out.ByType, out.AlertsBySeverity)
	}
	if len(out.Alerts) != 2 || out.Alerts[0].RuleID != "B001" {
		t.Fatalf("alerts should rank critical first: %+v", out.Alerts)
	}
	if len(out.TopSuspicious) != 1 || out.TopSuspicious[0].Key != "scanner[4242]" || out.TopSuspicious[0].Count != 2 {
		t.Fatalf("unexpected suspicious ranking: %+v", out.TopSuspicious)
	}
}

func TestSummaryFallsBackToJSONL(t *testing.T) {
	dataDir := t.TempDir()
	_, dir := writeSession(t, dataDir)

	s, err := openSession(dataDir, "last")
	if err != nil {
		t.Fatal(err)
	}
	indexed, err := s.db.Summarize(s.ID, 10)
	s.Close()
	if err != nil {
		t.Fatal(err)
	}

	if err := os.Remove(filepath.Join(dir, storage.IndexFile)); err != nil {
		t.Fatal(err)
	}
	s, err = openSession(dataDir, "last")
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()
	if s.Indexed() {
		t.Fatalf("expected JSONL fallback")
	}
	got := summarizeEvents(s.all, 10)

	for k, v := range indexed.ByType {
		if got.ByType[k] != v {
			t.Fatalf("by_type[%s]: got %d want %d", k, got.ByType[k], v)
		}
	}
	if len(got.Alerts) != len(indexed.Alerts) || got.Alerts[0].RuleID != indexed.Alerts[0].RuleID {
		t.Fatalf("alerts differ: %+v vs %+v", got.Alerts, indexed.Alerts)
	}
	if len(got.TopSuspicious) != 1 || got.TopSuspicious[0] != indexed.TopSuspicious[0] {
		t.Fatalf("suspicious differ: %+v vs %+v", got.TopSuspicious, indexed.TopSuspicious)
	}
}

func TestSummaryText(t *testing.T) {
	dataDir := t.TempDir()
	writeSession(t, dataDir)

	buf, restore := captureStdout(t)
	err := SummaryCommand(context.Background(), []string{"--data", dataDir, "--color", "never"})
	restore()
	if err != nil {
		t.Fatal(err)
	}
	got := buf.String()
	for _, want := range []string{"Backend: emulated", "Events: 3", "B001", "scanner[4242]", "Scenario: file_threshold"} {
		if !strings.Contains(got, want) {
			t.Fatalf("missing %q in:\n%s", want, got)
		}
	}
}

func TestQueryAlertsJSON(t *testing.T) {
	dataDir := t.TempDir()
	writeSession(t, dataDir)

	buf, restore := captureStdout(t)
	err := QueryCommand(context.Background(), []string{"--data", dataDir, "--type", "alert", "--min-level", "critical", "--json"})
	restore()
	if err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one alert, got %q", buf.String())
	}
	var ev storage.Event
	if err := json.Unmarshal([]byte(lines[0]), &ev); err != nil {
		t.Fatal(err)
	}
	if ev.Alert == nil || ev.Alert.RuleID != "B001" || ev.MonoNS != 300 {
		t.Fatalf("unexpected alert %+v", ev)
	}
}

func TestQueryRejectsUnknownType(t *testing.T) {
	err := QueryCommand(context.Background(), []string{"--data", t.TempDir(), "--type", "exec"})
	if err == nil || !strings.Contains(err.Error(), "invalid -type") {
		t.Fatalf("expected invalid type error, got %v", err)
	}
}

func TestSessionsList(t *testing.T) {
	dataDir := t.TempDir()
	id, _ := writeSession(t, dataDir)

	rows, err := listSessions(dataDir)
	if err != nil {
		t.Fatal(err)
	}
	if len(rows) != 1 || rows[0].SessionID != id || rows[0].AlertCount != 2 {
		t.Fatalf("unexpected rows %+v", rows)
	}
}

func captureStdout(t *testing.T) (*bytes.Buffer, func()) {
	t.Helper()
	old := os.Stdout
	r, w, err := os.Pipe()
	if err != nil {
		t.Fatal(err)
	}
	os.Stdout = w
	buf := &bytes.Buffer{}
	done := make(chan struct{})
	go func() {
		_, _ = buf.ReadFrom(r)
		close(done)
	}()
	return buf, func() {
		_ = w.Close()
		os.Stdout = old
		<-done
		_ = r.Close()
	}
}
