package storage

import (
	"path/filepath"
	"testing"

	"github.com/melonattacker/bmon/internal/event"
)

func rec(typ event.Type, lvl event.Level, pid uint32, ts uint64, details string) event.Record {
	return event.New(typ, lvl, event.Task{PID: pid, UID: 1000, GID: 1000, Comm: "worker"}, ts, details).ToRecord()
}

func TestStore_SQLiteAndJSONL(t *testing.T) {
	dir := t.TempDir()
	id := "20261018-000000-test"

	metaJSON := `{"session_id":"` + id + `"}`
	s, err := Open(OpenParams{
		SessionID: id,
		Dir:       dir,
		StartTS:   10,
		Backend:   "emulated",
		MetaJSON:  metaJSON,
	})
	if err != nil {
		t.Fatal(err)
	}

	e1, err := s.AppendEvent(11, rec(event.ProcessCreated, event.Low, 123, 100, "/bin/cat"), "process worker[123] exec /bin/cat")
	if err != nil {
		t.Fatal(err)
	}
	if e1.Seq != 1 {
		t.Fatalf("seq1=%d", e1.Seq)
	}

	e2, err := s.AppendEvent(12, rec(event.FileAccessDenied, event.High, 123, 200, "open /etc/shadow"), "suspicious file access by worker[123]: open /etc/shadow")
	if err != nil {
		t.Fatal(err)
	}
	if e2.Seq != 2 {
		t.Fatalf("seq2=%d", e2.Seq)
	}

	a, err := s.AppendAlert(13, Alert{RuleID: "R1", Severity: "high", Message: "shadow read"}, e2)
	if err != nil {
		t.Fatal(err)
	}
	if a.MonoNS != 200 || a.PID != 123 || a.Alert.RelatedSeq != 2 {
		t.Fatalf("alert did not inherit related event: %+v", a)
	}
	if _, err := s.AppendAlert(14, Alert{RuleID: "R2", Severity: "urgent"}, e2); err == nil {
		t.Fatal("expected error for unknown severity")
	}
	if evs, alerts := s.Counts(); evs != 2 || alerts != 1 {
		t.Fatalf("counts=%d,%d", evs, alerts)
	}

	if err := s.Close(20, metaJSON); err != nil {
		t.Fatal(err)
	}

	db, err := OpenSQLiteReadOnly(filepath.Join(dir, IndexFile))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	row, err := db.GetSessionRow(id)
	if err != nil {
		t.Fatal(err)
	}
	if row.EndTS != 20 || row.EventCount != 2 || row.AlertCount != 1 || row.Backend != "emulated" {
		t.Fatalf("unexpected session row: %+v", row)
	}

	evs, err := db.Query(QueryOptions{SessionID: id, Type: "file_access_denied", Contains: "shadow"})
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 1 || evs[0].Details != "open /etc/shadow" {
		t.Fatalf("expected 1 file event, got %+v", evs)
	}

	alerts, err := db.Query(QueryOptions{SessionID: id, Type: TypeAlert, Severity: "high"})
	if err != nil {
		t.Fatal(err)
	}
	if len(alerts) != 1 || alerts[0].Alert == nil || alerts[0].Alert.RuleID != "R1" {
		t.Fatalf("expected 1 alert, got %+v", alerts)
	}

	all, err := db.Query(QueryOptions{SessionID: id})
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 entries, got %d", len(all))
	}
	// The alert shares mono_ns with its related event and sorts after it by seq.
	if all[0].Seq != 1 || all[1].Seq != 2 || all[2].Type != TypeAlert {
		t.Fatalf("unexpected order: %d %d %s", all[0].Seq, all[1].Seq, all[2].Type)
	}

	high, err := db.Query(QueryOptions{SessionID: id, MinLevel: "high"})
	if err != nil {
		t.Fatal(err)
	}
	if len(high) != 2 {
		t.Fatalf("expected event and alert at high, got %d", len(high))
	}

	logged, err := ReadJSONL(filepath.Join(dir, EventsFile))
	if err != nil {
		t.Fatal(err)
	}
	if len(logged) != 3 {
		t.Fatalf("jsonl lines=%d", len(logged))
	}
	if got := Filter(logged, QueryOptions{MinLevel: "high"}); len(got) != 2 {
		t.Fatalf("filter high=%d", len(got))
	}
	if got := Filter(logged, QueryOptions{PID: 123, Type: "process_created"}); len(got) != 1 || got[0].Record().Details != "/bin/cat" {
		t.Fatalf("filter pid/type=%+v", got)
	}
}

func TestReadJSONLOrdersByMonotonicTime(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, EventsFile)
	w, err := NewJSONLWriter(path)
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range []Event{
		{Seq: 1, MonoNS: 300, Type: "process_created"},
		{Seq: 2, MonoNS: 100, Type: "process_created"},
		{Seq: 3, MonoNS: 100, Type: TypeAlert},
	} {
		if err := w.Append(ev); err != nil {
			t.Fatal(err)
		}
	}
	if w.Lines() != 3 {
		t.Fatalf("lines=%d", w.Lines())
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	if err := w.Append(Event{Seq: 4}); err == nil {
		t.Fatalf("append after close should fail")
	}

	evs, err := ReadJSONL(path)
	if err != nil {
		t.Fatal(err)
	}
	got := []int64{evs[0].Seq, evs[1].Seq, evs[2].Seq}
	if got[0] != 2 || got[1] != 3 || got[2] != 1 {
		t.Fatalf("order=%v", got)
	}
}
