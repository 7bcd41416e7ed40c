package tunables

import (
	"errors"
	"testing"
)

func TestThresholdDefaults(t *testing.T) {
	tbl := NewTable()
	tests := []struct {
		idx  int
		want uint64
	}{
		{SlotFileAccessThreshold, 100},
		{SlotNetConnThreshold, 50},
		{SlotSyscallVolumeThreshold, 10000},
	}
	for _, tc := range tests {
		if got := Threshold(tbl, tc.idx); got != tc.want {
			t.Fatalf("Threshold(%s)=%d want %d", SlotName(tc.idx), got, tc.want)
		}
	}

	if err := tbl.Set(SlotNetConnThreshold, 5); err != nil {
		t.Fatal(err)
	}
	if got := Threshold(tbl, SlotNetConnThreshold); got != 5 {
		t.Fatalf("override ignored: %d", got)
	}
}

func TestVerdictIsLevelTriggered(t *testing.T) {
	tbl := NewTable()
	if VerdictSet(tbl) {
		t.Fatalf("verdict set on fresh table")
	}
	_ = tbl.Set(SlotVerdict, 1)
	if !VerdictSet(tbl) {
		t.Fatalf("verdict not observed")
	}
	_ = tbl.Set(SlotVerdict, 0)
	if VerdictSet(tbl) {
		t.Fatalf("verdict still observed after clear")
	}
}

func TestBadSlot(t *testing.T) {
	tbl := NewTable()
	if _, err := tbl.Get(NumSlots); !errors.Is(err, ErrBadSlot) {
		t.Fatalf("Get: expected ErrBadSlot, got %v", err)
	}
	if err := tbl.Set(-1, 1); !errors.Is(err, ErrBadSlot) {
		t.Fatalf("Set: expected ErrBadSlot, got %v", err)
	}
}

func TestSlotByName(t *testing.T) {
	idx, err := SlotByName("net_conn_threshold")
	if err != nil || idx != SlotNetConnThreshold {
		t.Fatalf("SlotByName name=%d,%v", idx, err)
	}
	idx, err = SlotByName("3")
	if err != nil || idx != SlotSyscallVolumeThreshold {
		t.Fatalf("SlotByName index=%d,%v", idx, err)
	}
	if _, err := SlotByName("99"); err == nil {
		t.Fatalf("expected error for out of range index")
	}
	if _, err := SlotByName("bogus"); err == nil {
		t.Fatalf("expected error for unknown name")
	}
}

func TestSelfSlot(t *testing.T) {
	tbl := NewTable()
	if IsSelf(tbl, 0) {
		t.Fatalf("unset self slot matched pid 0")
	}
	_ = tbl.Set(SlotSelfTGID, 321)
	if !IsSelf(tbl, 321) || IsSelf(tbl, 322) {
		t.Fatalf("IsSelf mismatch")
	}
	if err := CheckWritable(SlotSelfTGID); !errors.Is(err, ErrReadOnly) {
		t.Fatalf("expected ErrReadOnly, got %v", err)
	}
	if err := CheckWritable(SlotVerdict); err != nil {
		t.Fatalf("verdict slot not writable: %v", err)
	}
}
