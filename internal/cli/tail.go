package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/melonattacker/bmon/internal/analyzer"
	"github.com/melonattacker/bmon/internal/cliui"
	"github.com/melonattacker/bmon/internal/event"
	"github.com/melonattacker/bmon/internal/ipc"
)

// TailCommand follows the live event stream of a running daemon.
func TailCommand(ctx context.Context, args []string) error {
	fs := newFlagSet("tail", args, tailUsage)

	var minLevel string
	var asJSON bool
	var color string
	fs.StringVar(&minLevel, "min-level", "low", "lowest level to show (low|medium|high|critical)")
	fs.BoolVar(&asJSON, "json", false, "emit one JSON record per line")
	fs.StringVar(&color, "color", "auto", "auto|always|never")
	if err := fs.Parse(args); err != nil {
		return err
	}
	lvl, err := parseLevelFlag("min-level", minLevel)
	if err != nil {
		return err
	}
	mode, err := cliui.ParseColorMode(color)
	if err != nil {
		return err
	}
	col := cliui.NewColorizer(mode, false, os.Stdout)

	enc := json.NewEncoder(os.Stdout)
	return withClient(ctx, func(c *ipc.Client) error {
		return c.Subscribe(ctx, lvl.String(), func(rec event.Record) error {
			if asJSON {
				return enc.Encode(rec)
			}
			return printRecord(os.Stdout, col, rec)
		})
	})
}

func printRecord(w io.Writer, col cliui.Colorizer, rec event.Record) error {
	ev, err := event.FromRecord(rec)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "%s %-8s %-20s %s\n",
		cliui.FormatMono(rec.Timestamp), col.Level(rec.Level), col.Type(rec.Type), analyzer.Summarize(ev))
	return err
}

func tailUsage(w io.Writer, fs *flag.FlagSet) {
	prog := progName()
	fmt.Fprintf(w, "%s tail: follow live security events from bmond\n\n", prog)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s tail [flags]\n\n", prog)

	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  Requires root or the uid bmond runs as. Stops on Ctrl-C or when bmond exits.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s tail\n", prog)
	fmt.Fprintf(w, "  %s tail --min-level high --json\n\n", prog)

	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}
