package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/melonattacker/bmon/internal/cliui"
	"github.com/melonattacker/bmon/internal/ipc"
	"github.com/melonattacker/bmon/internal/tunables"
)

// VerdictCommand raises, clears or shows the external verdict in slot 0.
func VerdictCommand(ctx context.Context, args []string) error {
	fs := newFlagSet("verdict", args, verdictUsage)
	if err := fs.Parse(args); err != nil {
		return err
	}
	action := "show"
	if fs.NArg() > 0 {
		action = fs.Arg(0)
	}

	var value uint64
	switch action {
	case "set":
		value = verdictGeneration(time.Now())
	case "clear":
		value = 0
	case "show":
		return withClient(ctx, func(c *ipc.Client) error {
			vals, err := c.GetSlots(ctx)
			if err != nil {
				return err
			}
			if len(vals) > tunables.SlotVerdict && vals[tunables.SlotVerdict] != 0 {
				fmt.Fprintf(os.Stdout, "verdict: set (%d)\n", vals[tunables.SlotVerdict])
				return nil
			}
			fmt.Fprintln(os.Stdout, "verdict: clear")
			return nil
		})
	default:
		return fmt.Errorf("unknown verdict action %q (expected set|clear|show)", action)
	}
	return withClient(ctx, func(c *ipc.Client) error {
		if err := c.SetSlot(ctx, tunables.SlotVerdict, value); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "verdict: %s\n", action)
		return nil
	})
}

// verdictGeneration picks a fresh non-zero slot value so that every set is
// reported again by processes that reported an earlier one.
func verdictGeneration(now time.Time) uint64 {
	return max(uint64(now.UnixNano()), 1)
}

func verdictUsage(w io.Writer, fs *flag.FlagSet) {
	prog := progName()
	fmt.Fprintf(w, "%s verdict: raise or clear the external verdict\n\n", prog)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s verdict set|clear|show\n\n", prog)

	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  While the verdict is set, every process that reaches a hook is flagged suspicious")
	fmt.Fprintln(w, "  and reported once per set.")
	fmt.Fprintln(w, "  Changing it requires root or the uid bmond runs as.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}

// SlotsCommand reads or writes the tunables table.
func SlotsCommand(ctx context.Context, args []string) error {
	fs := newFlagSet("slots", args, slotsUsage)
	var asJSON bool
	fs.BoolVar(&asJSON, "json", false, "emit JSON")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rest := fs.Args()
	action := "get"
	if len(rest) > 0 {
		action, rest = rest[0], rest[1:]
	}

	switch action {
	case "get":
		return withClient(ctx, func(c *ipc.Client) error {
			vals, err := c.GetSlots(ctx)
			if err != nil {
				return err
			}
			return writeSlots(os.Stdout, vals, asJSON)
		})
	case "set":
		if len(rest) != 2 {
			return fmt.Errorf("usage: %s slots set <index|name> <value>", progName())
		}
		idx, err := tunables.SlotByName(rest[0])
		if err != nil {
			return err
		}
		v, err := strconv.ParseUint(strings.TrimSpace(rest[1]), 0, 64)
		if err != nil {
			return fmt.Errorf("invalid slot value %q: %w", rest[1], err)
		}
		return withClient(ctx, func(c *ipc.Client) error {
			if err := c.SetSlot(ctx, idx, v); err != nil {
				return err
			}
			fmt.Fprintf(os.Stdout, "%s = %d\n", tunables.SlotName(idx), v)
			return nil
		})
	default:
		return fmt.Errorf("unknown slots action %q (expected get|set)", action)
	}
}

func writeSlots(w io.Writer, vals []uint64, asJSON bool) error {
	if asJSON {
		return writeJSON(w, namedSlots(vals))
	}
	tbl := cliui.NewTable(
		cliui.Column{Name: "idx", AlignRight: true},
		cliui.Column{Name: "name", MaxWidth: 28},
		cliui.Column{Name: "value", AlignRight: true},
	)
	for i, v := range vals {
		tbl.Row(strconv.Itoa(i), tunables.SlotName(i), strconv.FormatUint(v, 10))
	}
	return tbl.Render(w)
}

func slotsUsage(w io.Writer, fs *flag.FlagSet) {
	prog := progName()
	fmt.Fprintf(w, "%s slots: read or write the tunables table\n\n", prog)
	fmt.Fprintln(w, "Usage:")
	fmt.Fprintf(w, "  %s slots [flags] get\n", prog)
	fmt.Fprintf(w, "  %s slots set <index|name> <value>\n\n", prog)

	fmt.Fprintln(w, "Notes:")
	fmt.Fprintln(w, "  Slot 0 is the external verdict; slots 1-3 hold the detection thresholds.")
	fmt.Fprintln(w, "  Slot 4 holds the tgid of bmond itself and is read-only.")
	fmt.Fprintln(w, "  A zero threshold falls back to the built-in default.")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintf(w, "  %s slots get\n", prog)
	fmt.Fprintf(w, "  %s slots set file_access_threshold 250\n\n", prog)

	fmt.Fprintln(w, "Flags:")
	fs.PrintDefaults()
}

func withClient(ctx context.Context, fn func(*ipc.Client) error) error {
	c, err := ipc.Dial(ctx)
	if err != nil {
		return fmt.Errorf("connect to bmond at %s: %w", ipc.SockPath(), err)
	}
	defer c.Close()
	return fn(c)
}
