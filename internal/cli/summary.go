package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/melonattacker/bmon/internal/cliui"
	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/sessions"
	"github.com/melonattacker/bmon/internal/storage"
)

type summaryOut struct {
	SessionID string        `json:"session_id"`
	Meta      sessions.Meta `json:"meta"`
	storage.Summary
}

// SummaryCommand prints aggregates and grouped alerts for one session.
func SummaryCommand(ctx context.Context, args []string) error {
	_ = ctx
	fs := newFlagSet("summary", args, summaryUsage)

	var dataDir, color string
	var top int
	var asJSON bool
	fs.StringVar(&dataDir, "data", "", "data directory (default: $BMON_DATA or the per-user state dir)")
	fs.IntVar(&top, "top", 10, "entries per ranking")
	fs.BoolVar(&asJSON, "json", false, "emit JSON")
	fs.StringVar(&color, "color", "auto", "auto|always|never")
	if err := fs.Parse(args); err != nil {
		return err
	}
	mode, err := cliui.ParseColorMode(color)
	if err != nil {
		return err
	}
	sel := "last"
	if fs.NArg() > 0 {
		sel = fs.Arg(0)
	}

	s, err := openSession(dataDir, sel)
	if err != nil {
		return err
	}
	defer s.Close()

	out := summaryOut{SessionID: s.ID, Meta: s.Meta}
	if s.Indexed() {
		if out.Summary, err = s.db.Summarize(s.ID, top); err != nil {
			return err
		}
	} else {
		out.Summary = summarizeEvents(s.all, top)
	}

	if asJSON {
		return writeJSON(os.Stdout, out)
	}
	writeSummary(os.Stdout, cliui.NewColorizer(mode, false, os.Stdout), out)
	return nil
}

func writeSummary(w io.Writer, col cliui.Colorizer, out summaryOut) {
	m := out.Meta
	fmt.Fprintf(w, "Session: %s\n", out.SessionID)
	if m.Backend != "" {
		fmt.Fprintf(w, "Backend: %s\n", m.Backend)
	}
	if m.StartTS > 0 {
		fmt.Fprintf(w, "Start:   %s\n", time.Unix(0, m.StartTS).UTC().Format(time.RFC3339))
	}
	if m.EndTS > 0 {
		fmt.Fprintf(w, "End:     %s (%s)\n", time.Unix(0, m.EndTS).UTC().Format(time.RFC3339), cliui.FormatDuration(m.StartTS, m.EndTS))
	}
	if m.Scenario != "" {
		fmt.Fprintf(w, "Scenario: %s\n", m.Scenario)
	}

	total := 0
	for _, n := range out.ByType {
		total += n
	}
	fmt.Fprintf(w, "\nEvents: %d\n", total)
	for _, t := range event.Types() {
		if n := out.ByType[t.String()]; n > 0 {
			fmt.Fprintf(w, "  %5d  %s\n", n, col.Type(t.String()))
		}
	}
	levels := make([]string, 0, 4)
	for _, l := range []event.Level{event.Critical, event.High, event.Medium, event.Low} {
		if n := out.ByLevel[l.String()]; n > 0 {
			levels = append(levels, fmt.Sprintf("%s=%d", col.Level(l.String()), n))
		}
	}
	if len(levels) > 0 {
		fmt.Fprintf(w, "  levels: %s\n", strings.Join(levels, "  "))
	}

	fmt.Fprintf(w, "\nAlerts:\n")
	if len(out.Alerts) == 0 {
		fmt.Fprintln(w, "(none)")
	} else {
		tbl := cliui.NewTable(
			cliui.Column{Name: "severity", MaxWidth: 8},
			cliui.Column{Name: "rule"},
			cliui.Column{Name: "count", AlignRight: true},
			cliui.Column{Name: "message", MaxWidth: 96},
		)
		for _, a := range out.Alerts {
			tbl.Row(col.Level(a.Severity), a.RuleID, fmt.Sprint(a.Count), a.Message)
		}
		_ = tbl.Render(w)
	}

	printTopPairs(w, "Top processes", out.TopProcesses)
	printTopPairs(w, "Suspicious processes", out.TopSuspicious)
}

func printTopPairs(w io.Writer, title string, ps []storage.TopPair) {
	fmt.Fprintf(w, "\n%s:\n", title)
	if len(ps) == 0 {
		fmt.Fprintln(w, "(none)")
		return
	}
	for _, p := range ps {
		fmt.Fprintf(w, "  %5d  %s\n", p.Count, p.Key)
	}
}

// summarizeEvents computes the index aggregates from the JSONL log.
func summarizeEvents(evs []storage.Event, top int) storage.Summary {
	out := storage.Summary{
		ByType:           map[string]int{},
		ByLevel:          map[string]int{},
		AlertsBySeverity: map[string]int{},
	}
	procs := map[string]int{}
	suspicious := map[string]int{}
	grouped := map[string]*storage.GroupedAlert{}
	for _, ev := range evs {
		if ev.Type == storage.TypeAlert {
			if ev.Alert == nil {
				continue
			}
			out.AlertsBySeverity[ev.Alert.Severity]++
			key := ev.Alert.Severity + "\x00" + ev.Alert.RuleID + "\x00" + ev.Alert.Message
			g, ok := grouped[key]
			if !ok {
				g = &storage.GroupedAlert{
					Severity: ev.Alert.Severity,
					RuleID:   ev.Alert.RuleID,
					Message:  ev.Alert.Message,
					FirstNS:  int64(ev.MonoNS),
				}
				grouped[key] = g
			}
			g.Count++
			g.LastNS = int64(ev.MonoNS)
			continue
		}
		out.ByType[ev.Type]++
		out.ByLevel[ev.Level]++
		proc := fmt.Sprintf("%s[%d]", ev.Comm, ev.PID)
		procs[proc]++
		if behavioral(ev) {
			suspicious[proc]++
		}
	}
	out.TopProcesses = topPairsFromCounts(procs, top)
	out.TopSuspicious = topPairsFromCounts(suspicious, top)

	out.Alerts = make([]storage.GroupedAlert, 0, len(grouped))
	for _, g := range grouped {
		out.Alerts = append(out.Alerts, *g)
	}
	sort.Slice(out.Alerts, func(i, j int) bool {
		ri, rj := severityRank(out.Alerts[i].Severity), severityRank(out.Alerts[j].Severity)
		if ri != rj {
			return ri > rj
		}
		if out.Alerts[i].Count != out.Alerts[j].Count {
			return out.Alerts[i].Count > out.Alerts[j].Count
		}
		return out.Alerts[i].RuleID < out.Alerts[j].RuleID
	})
	if top > 0 && len(out.Alerts) > top {
		out.Alerts = out.Alerts[:top]
	}
	return out
}

// behavioral matches the index's suspicious ranking: medium or above,
// excluding audit events and the runaway-activity signal.
func behavioral(ev storage.Event) bool {
	if severityRank(ev.Level) < int(event.Medium) {
		return false
	}
	switch ev.Type {
	case event.ProcessCreated.String(), event.PrivilegeEscalation.String():
		return false
	}
	return !strings.HasPrefix(ev.Details, "perf:")
}

func severityRank(s string) int {
	l, err := event.ParseLevel(s)
	if err != nil {
		return -1
	}
	return int(l)
}

func topPairsFromCounts(counts map[string]int, n int) []storage.TopPair {
	out := make([]storage.TopPair, 0, len(counts))
	for k, v := range counts {
		out = append(out, storage.TopPair{Key: k, Count: v})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Count == out[j].Count {
			return out[i].Key < out[j].Key
		}
		return out[i].Count > out[j].Count
	})
	if n <= 0 {
		n = 10
	}
	if len(out) > n {
		out = out[:n]
	}
	return out
}

func summaryUsage(w io.Writer, fs *flag.FlagSet) {
	prog := progName()
	fmt.Fprintf(w, "%s summary: summarize a recorded session (default: last)\n\n", prog)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s summary [flags] [session-id|last]\n\n", prog)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s summary\n", prog)
	fmt.Fprintf(w, "  %s summary --json 20261018-101500-emulated\n\n", prog)

	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}
