package cliui

import (
	"fmt"
	"io"
	"os"
	"strings"
)

type ColorMode string

const (
	ColorAuto   ColorMode = "auto"
	ColorAlways ColorMode = "always"
	ColorNever  ColorMode = "never"
)

func ParseColorMode(v string) (ColorMode, error) {
	switch m := ColorMode(strings.ToLower(strings.TrimSpace(v))); m {
	case "":
		return ColorAuto, nil
	case ColorAuto, ColorAlways, ColorNever:
		return m, nil
	default:
		return "", fmt.Errorf("invalid --color %q (expected auto|always|never)", v)
	}
}

// SGR codes per level and event type.
var (
	levelColors = map[string]string{
		"critical": "1;31",
		"high":     "31",
		"medium":   "33",
		"low":      "36",
	}
	typeColors = map[string]string{
		"process_created":      "32",
		"file_access_denied":   "35",
		"network_anomaly":      "36",
		"syscall_anomaly":      "33",
		"privilege_escalation": "31",
		"alert":                "31",
	}
)

type Colorizer struct {
	Enabled bool
}

// NewColorizer resolves mode against NO_COLOR, CLICOLOR_FORCE/FORCE_COLOR
// and whether out is a terminal.
func NewColorizer(mode ColorMode, noColor bool, out io.Writer) Colorizer {
	switch {
	case noColor || mode == ColorNever:
		return Colorizer{}
	case mode == ColorAlways:
		return Colorizer{Enabled: true}
	case os.Getenv("NO_COLOR") != "":
		return Colorizer{}
	case envTrue("CLICOLOR_FORCE") || envTrue("FORCE_COLOR"):
		return Colorizer{Enabled: true}
	}
	return Colorizer{Enabled: isTerminal(out)}
}

func envTrue(k string) bool {
	v := strings.TrimSpace(os.Getenv(k))
	return v != "" && v != "0"
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	if !ok {
		return false
	}
	fi, err := f.Stat()
	return err == nil && fi.Mode()&os.ModeCharDevice != 0
}

// Level colors a level or alert severity name.
func (c Colorizer) Level(v string) string { return c.paint(levelColors, v) }

func (c Colorizer) Type(v string) string { return c.paint(typeColors, v) }

func (c Colorizer) paint(palette map[string]string, v string) string {
	if !c.Enabled {
		return v
	}
	code, ok := palette[strings.ToLower(strings.TrimSpace(v))]
	if !ok {
		return v
	}
	return "\x1b[" + code + "m" + v + "\x1b[0m"
}
