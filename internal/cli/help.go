package cli

import (
	"flag"
	"io"
	"os"
	"path/filepath"
	"slices"
)

// progName is the name the CLI was invoked as.
func progName() string {
	if len(os.Args) > 0 {
		if b := filepath.Base(os.Args[0]); b != "." && b != string(filepath.Separator) {
			return b
		}
	}
	return "bmon"
}

func wantsHelp(args []string) bool {
	return slices.ContainsFunc(args, func(a string) bool {
		switch a {
		case "-h", "-help", "--help", "help":
			return true
		}
		return false
	})
}

// newFlagSet returns a ContinueOnError flag set that never prints parse
// errors itself; main reports them once. Usage goes to stdout when help was
// requested and to stderr otherwise.
func newFlagSet(name string, args []string, usage func(w io.Writer, fs *flag.FlagSet)) *flag.FlagSet {
	var out io.Writer = os.Stderr
	if wantsHelp(args) {
		out = os.Stdout
	}
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fs.Usage = func() {
		fs.SetOutput(out)
		usage(out, fs)
		fs.SetOutput(io.Discard)
	}
	return fs
}
