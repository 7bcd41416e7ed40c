package cli

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"sync"

	"go.uber.org/zap"

	"github.com/melonattacker/bmon/collector"
	"github.com/melonattacker/bmon/collector/emulated"
	"github.com/melonattacker/bmon/internal/alert"
	"github.com/melonattacker/bmon/internal/analyzer"
	"github.com/melonattacker/bmon/internal/cliui"
	"github.com/melonattacker/bmon/internal/config"
	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/scenario"
	"github.com/melonattacker/bmon/internal/storage"
)

var errExpectations = errors.New("scenario expectations failed")

type simulation struct {
	Scenario string          `json:"scenario"`
	Result   scenario.Result `json:"result"`
	Events   []storage.Event `json:"events"`
	Alerts   []storage.Event `json:"alerts"`
}

// SimulateCommand drives the emulated hook set through a scripted workload
// and prints the resulting events and alerts. Nothing is persisted.
func SimulateCommand(ctx context.Context, args []string) error {
	fs := newFlagSet("simulate", args, simulateUsage)

	var file, rulesFile, color string
	var list, asJSON bool
	fs.StringVar(&file, "f", "", "scenario file or built-in name (default: file_threshold)")
	fs.StringVar(&rulesFile, "rules", "", "alert rules YAML (default: built-in rules)")
	fs.BoolVar(&list, "list", false, "list built-in scenarios")
	fs.BoolVar(&asJSON, "json", false, "emit JSON")
	fs.StringVar(&color, "color", "auto", "auto|always|never")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if list {
		names, err := scenario.Builtin()
		if err != nil {
			return err
		}
		for _, n := range names {
			fmt.Fprintln(os.Stdout, n)
		}
		return nil
	}
	mode, err := cliui.ParseColorMode(color)
	if err != nil {
		return err
	}
	script, err := scenario.Load(file)
	if err != nil {
		return err
	}
	rules, err := alert.LoadRulesFile(rulesFile)
	if err != nil {
		return err
	}

	sim, err := simulate(ctx, script, alert.NewEngineWithRules(rules))
	if err != nil {
		return err
	}
	if asJSON {
		if err := writeJSON(os.Stdout, sim); err != nil {
			return err
		}
	} else {
		writeSimulation(os.Stdout, cliui.NewColorizer(mode, false, os.Stdout), sim)
	}
	if !sim.Result.OK() {
		return errExpectations
	}
	return nil
}

// simulate runs script on a fresh emulated backend and waits for the
// analyzer to drain every emitted event.
func simulate(ctx context.Context, script scenario.Script, engine *alert.Engine) (simulation, error) {
	cfg := config.Default()
	cfg.Backend = collector.BackendEmulated
	backend := emulated.New(cfg.Collector(), zap.NewNop())
	if err := backend.Init(ctx); err != nil {
		return simulation{}, err
	}
	src, err := backend.Start(ctx)
	if err != nil {
		return simulation{}, err
	}

	capture := &captureSink{}
	an, err := analyzer.New(zap.NewNop(), analyzer.WithSinks(alert.NewSink(engine, nil, zap.NewNop(), capture), capture))
	if err != nil {
		_ = backend.Stop(ctx)
		return simulation{}, err
	}
	done := make(chan error, 1)
	go func() { done <- an.Run(context.Background(), src) }()

	res, runErr := scenario.Run(ctx, backend.Monitor(), backend.Slots(), script)
	stopErr := backend.Stop(context.Background())
	anErr := <-done
	if err := errors.Join(runErr, stopErr, anErr); err != nil {
		return simulation{}, err
	}

	events, alerts := capture.snapshot()
	return simulation{Scenario: script.Name, Result: res, Events: events, Alerts: alerts}, nil
}

// captureSink collects events as an analyzer sink and alerts as an alert
// publisher.
type captureSink struct {
	mu     sync.Mutex
	seq    int64
	events []storage.Event
	alerts []storage.Event
}

func (c *captureSink) Name() string { return "capture" }

func (c *captureSink) Publish(_ context.Context, rec event.Record) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.seq++
	summary := rec.String()
	if ev, err := event.FromRecord(rec); err == nil {
		summary = analyzer.Summarize(ev)
	}
	c.events = append(c.events, storage.Event{
		Seq:     c.seq,
		MonoNS:  rec.Timestamp,
		Type:    rec.Type,
		Level:   rec.Level,
		PID:     rec.PID,
		UID:     rec.UID,
		GID:     rec.GID,
		Comm:    rec.Comm,
		Details: rec.Details,
		Summary: summary,
	})
	return nil
}

func (c *captureSink) PublishAlert(_ context.Context, a storage.Event) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.alerts = append(c.alerts, a)
	return nil
}

func (c *captureSink) snapshot() ([]storage.Event, []storage.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]storage.Event(nil), c.events...), append([]storage.Event(nil), c.alerts...)
}

func writeSimulation(w io.Writer, col cliui.Colorizer, sim simulation) {
	fmt.Fprintf(w, "Scenario: %s (%d steps, %d hook calls)\n\n", sim.Scenario, sim.Result.Steps, sim.Result.Calls)
	fmt.Fprintln(w, "Events:")
	renderEvents(w, col, sim.Events)

	fmt.Fprintln(w, "\nAlerts:")
	if len(sim.Alerts) == 0 {
		fmt.Fprintln(w, "(none)")
	}
	for _, a := range sim.Alerts {
		fmt.Fprintf(w, "  %s %s %s\n", col.Level(a.Alert.Severity), a.Alert.RuleID, a.Alert.Message)
	}

	fmt.Fprintln(w)
	if sim.Result.OK() {
		fmt.Fprintln(w, "Expectations: OK")
		return
	}
	fmt.Fprintln(w, "Expectations: FAILED")
	for _, f := range sim.Result.Failures {
		fmt.Fprintf(w, "  - %s\n", f)
	}
}

func simulateUsage(w io.Writer, fs *flag.FlagSet) {
	prog := progName()
	fmt.Fprintf(w, "%s simulate: run a scripted workload against the emulated hook set\n\n", prog)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s simulate [flags]\n\n", prog)

	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  Runs in-process; no daemon or privileges needed. Exits 1 when a step expectation fails.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s simulate\n", prog)
	fmt.Fprintf(w, "  %s simulate -f verdict --json\n", prog)
	fmt.Fprintf(w, "  %s simulate -f ./my-scenario.yaml --rules ./rules.yaml\n\n", prog)

	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}
