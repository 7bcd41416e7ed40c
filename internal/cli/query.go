package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/melonattacker/bmon/internal/cliui"
	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/storage"
)

func QueryCommand(ctx context.Context, args []string) error {
	_ = ctx
	fs := newFlagSet("query", args, queryUsage)

	var (
		sel, dataDir string
		typ          string
		minLevel     string
		severity     string
		contains     string
		color        string
		pid          uint
		sinceMono    uint64
		limit        int
		asJSON       bool
	)
	fs.StringVar(&sel, "session", "last", "session id or 'last'")
	fs.StringVar(&dataDir, "data", "", "data directory (default: $BMON_DATA or the per-user state dir)")
	fs.StringVar(&typ, "type", "", "event type or 'alert'")
	fs.StringVar(&minLevel, "min-level", "", "lowest event level or alert severity")
	fs.StringVar(&severity, "severity", "", "exact alert severity")
	fs.StringVar(&contains, "contains", "", "substring match in comm/details/summary")
	fs.UintVar(&pid, "pid", 0, "process id")
	fs.Uint64Var(&sinceMono, "since-mono", 0, "only entries at or after this monotonic timestamp (ns)")
	fs.IntVar(&limit, "limit", 5000, "max results")
	fs.BoolVar(&asJSON, "json", false, "emit JSONL entries")
	fs.StringVar(&color, "color", "auto", "auto|always|never")
	if err := fs.Parse(args); err != nil {
		return err
	}

	opts := storage.QueryOptions{
		Contains:  contains,
		PID:       uint32(pid),
		SinceMono: sinceMono,
		Severity:  strings.TrimSpace(severity),
		Limit:     limit,
	}
	if t := strings.TrimSpace(typ); t != "" && t != storage.TypeAlert {
		parsed, err := event.ParseType(t)
		if err != nil {
			return fmt.Errorf("invalid -type %q", t)
		}
		opts.Type = parsed.String()
	} else {
		opts.Type = t
	}
	if strings.TrimSpace(minLevel) != "" {
		lvl, err := parseLevelFlag("min-level", minLevel)
		if err != nil {
			return err
		}
		opts.MinLevel = lvl.String()
	}
	if opts.Severity != "" {
		if _, err := parseLevelFlag("severity", opts.Severity); err != nil {
			return err
		}
	}
	mode, err := cliui.ParseColorMode(color)
	if err != nil {
		return err
	}

	s, err := openSession(dataDir, sel)
	if err != nil {
		return err
	}
	defer s.Close()

	evs, err := s.Query(opts)
	if err != nil {
		return err
	}
	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		for _, ev := range evs {
			if err := enc.Encode(ev); err != nil {
				return err
			}
		}
		return nil
	}
	renderEvents(os.Stdout, cliui.NewColorizer(mode, false, os.Stdout), evs)
	return nil
}

func renderEvents(w io.Writer, col cliui.Colorizer, evs []storage.Event) {
	if len(evs) == 0 {
		fmt.Fprintln(w, "(no matching entries)")
		return
	}
	tbl := cliui.NewTable(
		cliui.Column{Name: "seq", AlignRight: true},
		cliui.Column{Name: "mono", AlignRight: true},
		cliui.Column{Name: "type", MaxWidth: 20},
		cliui.Column{Name: "level", MaxWidth: 8},
		cliui.Column{Name: "process", MaxWidth: 26},
		cliui.Column{Name: "summary", MaxWidth: 96},
	)
	for _, ev := range evs {
		lvl := ev.Level
		if ev.Alert != nil {
			lvl = ev.Alert.Severity
		}
		tbl.Row(
			strconv.FormatInt(ev.Seq, 10),
			cliui.FormatMono(ev.MonoNS),
			col.Type(ev.Type),
			col.Level(lvl),
			fmt.Sprintf("%s[%d]", ev.Comm, ev.PID),
			ev.Summary,
		)
	}
	_ = tbl.Render(w)
}

func queryUsage(w io.Writer, fs *flag.FlagSet) {
	prog := progName()
	fmt.Fprintf(w, "%s query: search events and alerts in a recorded session\n\n", prog)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s query [flags]\n\n", prog)

	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  --session defaults to 'last'. Results are ordered by monotonic timestamp.")
	fmt.Fprintln(w, "  Types: syscall_anomaly, network_anomaly, file_access_denied, process_created,")
	fmt.Fprintln(w, "  privilege_escalation, alert.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s query --type alert --min-level high\n", prog)
	fmt.Fprintf(w, "  %s query --type file_access_denied --contains shadow\n", prog)
	fmt.Fprintf(w, "  %s query --pid 4242 --json\n\n", prog)

	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}
