package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"text/tabwriter"

	"github.com/melonattacker/bmon/internal/cli"
)

type command struct {
	name    string
	summary string
	run     func(ctx context.Context, args []string) error
}

var commands = []command{
	{"status", "Check whether bmond is running and monitoring.", cli.StatusCommand},
	{"verdict", "Raise, clear or show the external verdict.", cli.VerdictCommand},
	{"slots", "Read or write the tunables table.", cli.SlotsCommand},
	{"tail", "Follow live security events.", cli.TailCommand},
	{"sessions", "List recorded sessions.", cli.SessionsCommand},
	{"query", "Query events and alerts in a session (default: last).", cli.QueryCommand},
	{"summary", "Summarize a session (default: last).", cli.SummaryCommand},
	{"simulate", "Run a scripted workload against the emulated hook set.", cli.SimulateCommand},
}

func lookup(name string) (command, bool) {
	for _, c := range commands {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func main() {
	os.Exit(realMain(os.Args))
}

func realMain(argv []string) int {
	prog := filepath.Base(argv[0])
	if len(argv) < 2 {
		printRootHelp(os.Stderr, prog)
		return 2
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	name, args := argv[1], argv[2:]
	if name == "help" || name == "-h" || name == "--help" {
		if len(args) == 0 {
			printRootHelp(os.Stdout, prog)
			return 0
		}
		name, args = args[0], []string{"-h"}
	}
	cmd, ok := lookup(name)
	if !ok {
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", name)
		printRootHelp(os.Stderr, prog)
		return 2
	}
	// `bmon <command> help` is the same as -h.
	if len(args) > 0 && args[0] == "help" {
		args = []string{"-h"}
	}

	err := cmd.run(ctx, args)
	switch {
	case err == nil, errors.Is(err, flag.ErrHelp):
		return 0
	default:
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
}

func printRootHelp(w io.Writer, prog string) {
	fmt.Fprintf(w, "%s: operator CLI for the bmond behavioral security monitor\n\n", prog)
	fmt.Fprintf(w, "Usage:\n  %[1]s <command> [args]\n  %[1]s help [command]\n\n", prog)

	fmt.Fprintln(w, "Commands:")
	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	for _, c := range commands {
		fmt.Fprintf(tw, "  %s\t%s\n", c.name, c.summary)
	}
	_ = tw.Flush()

	fmt.Fprintln(w, "\nExamples:")
	for _, ex := range []string{"status", "verdict set", "tail --min-level high", "query --type alert", "simulate -f beacon"} {
		fmt.Fprintf(w, "  %s %s\n", prog, ex)
	}

	fmt.Fprintln(w, "\nEnvironment:")
	fmt.Fprintln(w, "  BMON_SOCK   bmond socket path (default: /run/bmon.sock)")
	fmt.Fprintln(w, "  BMON_DATA   session data directory")
	fmt.Fprintf(w, "\nRun '%s <command> -h' for command flags.\n", prog)
}
