package cli

import (
	"context"
	"strings"
	"testing"

	"github.com/melonattacker/bmon/internal/alert"
	"github.com/melonattacker/bmon/internal/scenario"
)

func mustSimulate(t *testing.T, name string) simulation {
	t.Helper()
	script, err := scenario.Load(name)
	if err != nil {
		t.Fatal(err)
	}
	engine, err := alert.NewEngine()
	if err != nil {
		t.Fatal(err)
	}
	sim, err := simulate(context.Background(), script, engine)
	if err != nil {
		t.Fatalf("simulate %s: %v", name, err)
	}
	return sim
}

func TestSimulateFileThreshold(t *testing.T) {
	sim := mustSimulate(t, "file_threshold")
	if !sim.Result.OK() {
		t.Fatalf("expectations failed: %v", sim.Result.Failures)
	}
	if len(sim.Events) != 3 {
		t.Fatalf("expected 3 events, got %+v", sim.Events)
	}
	want := []string{"process_created", "syscall_anomaly", "file_access_denied"}
	for i, ev := range sim.Events {
		if ev.Type != want[i] {
			t.Fatalf("event %d: got %s want %s", i, ev.Type, want[i])
		}
		if i > 0 && ev.MonoNS < sim.Events[i-1].MonoNS {
			t.Fatalf("events out of order: %+v", sim.Events)
		}
	}
	if len(sim.Alerts) != 2 || sim.Alerts[0].Alert.RuleID != "B002" || sim.Alerts[1].Alert.RuleID != "B001" {
		t.Fatalf("unexpected alerts %+v", sim.Alerts)
	}
	if sim.Alerts[1].PID != 4242 || sim.Alerts[1].MonoNS != sim.Events[2].MonoNS {
		t.Fatalf("alert should inherit its event's process and time: %+v", sim.Alerts[1])
	}
}

func TestSimulateVerdict(t *testing.T) {
	sim := mustSimulate(t, "verdict")
	if !sim.Result.OK() {
		t.Fatalf("expectations failed: %v", sim.Result.Failures)
	}
	found := false
	for _, a := range sim.Alerts {
		if a.Alert.RuleID == "B004" {
			found = true
			if a.Alert.Severity != "critical" || a.Comm != "httpd" {
				t.Fatalf("unexpected verdict alert %+v", a)
			}
		}
	}
	if !found {
		t.Fatalf("no verdict alert in %+v", sim.Alerts)
	}
}

func TestSimulateCommandList(t *testing.T) {
	buf, restore := captureStdout(t)
	err := SimulateCommand(context.Background(), []string{"-list"})
	restore()
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"beacon", "file_threshold", "verdict"} {
		if !contains(strings.Split(strings.TrimSpace(buf.String()), "\n"), want) {
			t.Fatalf("missing %s in %q", want, buf.String())
		}
	}
}
