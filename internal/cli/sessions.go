package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/melonattacker/bmon/internal/cliui"
	"github.com/melonattacker/bmon/internal/sessions"
)

type sessionRow struct {
	SessionID  string `json:"session_id"`
	StartTS    int64  `json:"start_ts"`
	EndTS      int64  `json:"end_ts"`
	Backend    string `json:"backend"`
	Scenario   string `json:"scenario,omitempty"`
	EventCount int64  `json:"event_count"`
	AlertCount int    `json:"alert_count"`
}

func SessionsCommand(ctx context.Context, args []string) error {
	_ = ctx
	fs := newFlagSet("sessions", args, sessionsUsage)

	var dataDir string
	var asJSON bool
	fs.StringVar(&dataDir, "data", "", "data directory (default: $BMON_DATA or the per-user state dir)")
	fs.BoolVar(&asJSON, "json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if strings.TrimSpace(dataDir) == "" {
		d, err := sessions.DataDir()
		if err != nil {
			return err
		}
		dataDir = d
	}

	rows, err := listSessions(dataDir)
	if err != nil {
		return err
	}
	if asJSON {
		return writeJSON(os.Stdout, rows)
	}
	if len(rows) == 0 {
		fmt.Fprintln(os.Stdout, "(no sessions)")
		return nil
	}
	tbl := cliui.NewTable(
		cliui.Column{Name: "session"},
		cliui.Column{Name: "start", MaxWidth: 30},
		cliui.Column{Name: "duration", AlignRight: true},
		cliui.Column{Name: "backend"},
		cliui.Column{Name: "events", AlignRight: true},
		cliui.Column{Name: "alerts", AlignRight: true},
		cliui.Column{Name: "scenario", MaxWidth: 20},
	)
	for _, r := range rows {
		tbl.Row(
			r.SessionID,
			cliui.FormatAbsFull(r.StartTS),
			cliui.FormatDuration(r.StartTS, r.EndTS),
			r.Backend,
			fmt.Sprint(r.EventCount),
			fmt.Sprint(r.AlertCount),
			r.Scenario,
		)
	}
	return tbl.Render(os.Stdout)
}

// listSessions reads every session's meta.json. Sessions without one are
// skipped.
func listSessions(dataDir string) ([]sessionRow, error) {
	ids, err := sessions.List(dataDir)
	if err != nil {
		return nil, err
	}
	rows := make([]sessionRow, 0, len(ids))
	for _, id := range ids {
		m, err := sessions.ReadMeta(sessions.Dir(dataDir, id))
		if err != nil {
			continue
		}
		rows = append(rows, sessionRow{
			SessionID:  id,
			StartTS:    m.StartTS,
			EndTS:      m.EndTS,
			Backend:    m.Backend,
			Scenario:   m.Scenario,
			EventCount: m.EventCount,
			AlertCount: m.AlertCount,
		})
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].StartTS == rows[j].StartTS {
			return rows[i].SessionID < rows[j].SessionID
		}
		return rows[i].StartTS < rows[j].StartTS
	})
	return rows, nil
}

func sessionsUsage(w io.Writer, fs *flag.FlagSet) {
	prog := progName()
	fmt.Fprintf(w, "%s sessions: list recorded sessions\n\n", prog)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s sessions [flags]\n\n", prog)
	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}
