// Package scenario drives the in-process hook set from a YAML script. It
// backs `bmon simulate` and the emulated daemon's startup workload.
package scenario

import (
	"embed"
	"fmt"
	"net/netip"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	OpExec       = "exec"
	OpOpen       = "open"
	OpConnect    = "connect"
	OpRead       = "read"
	OpWrite      = "write"
	OpSched      = "sched"
	OpVerdict    = "verdict"
	OpSetVerdict = "set_verdict"
	OpSetSlot    = "set_slot"
	OpExit       = "exit"
)

const defaultScenarioFile = "scenarios/file_threshold.yaml"

//go:embed scenarios/*.yaml
var scenarioFS embed.FS

type Script struct {
	Name        string `yaml:"name"`
	Description string `yaml:"description"`
	Steps       []Step `yaml:"steps"`
}

type Step struct {
	Op     string `yaml:"op"`
	PID    uint32 `yaml:"pid"`
	UID    uint32 `yaml:"uid"`
	GID    uint32 `yaml:"gid"`
	Comm   string `yaml:"comm"`
	Repeat int    `yaml:"repeat"`

	Path  string `yaml:"path"`  // exec, open, read, write
	Addr  string `yaml:"addr"`  // connect, host:port
	Dev   uint64 `yaml:"dev"`   // read, write
	Inode uint64 `yaml:"inode"` // read, write
	Slot  string `yaml:"slot"`  // set_slot, name or index
	Value uint64 `yaml:"value"` // set_verdict, set_slot

	Expect *Expect `yaml:"expect,omitempty"`

	addr netip.AddrPort
}

// Expect is checked against the process table after the step runs.
type Expect struct {
	Tracked      *bool   `yaml:"tracked"`
	Suspicious   *bool   `yaml:"suspicious"`
	FileAccesses *uint64 `yaml:"file_accesses"`
	NetConns     *uint64 `yaml:"net_conns"`
}

// Default returns the built-in file-threshold walk-through.
func Default() (Script, error) {
	b, err := scenarioFS.ReadFile(defaultScenarioFile)
	if err != nil {
		return Script{}, fmt.Errorf("read builtin scenario (%s): %w", defaultScenarioFile, err)
	}
	return Parse(b)
}

// Builtin returns the names of the embedded scenarios.
func Builtin() ([]string, error) {
	entries, err := scenarioFS.ReadDir("scenarios")
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(entries))
	for _, e := range entries {
		out = append(out, strings.TrimSuffix(e.Name(), ".yaml"))
	}
	return out, nil
}

// Load reads a script from path, or an embedded scenario when path names
// one. An empty path selects the default.
func Load(path string) (Script, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return Default()
	}
	if b, err := scenarioFS.ReadFile("scenarios/" + path + ".yaml"); err == nil {
		return Parse(b)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return Script{}, fmt.Errorf("read scenario %s: %w", path, err)
	}
	return Parse(b)
}

func Parse(b []byte) (Script, error) {
	var s Script
	if err := yaml.Unmarshal(b, &s); err != nil {
		return Script{}, fmt.Errorf("parse scenario yaml: %w", err)
	}
	if len(s.Steps) == 0 {
		return Script{}, fmt.Errorf("scenario %q has no steps", s.Name)
	}
	for i := range s.Steps {
		if err := s.Steps[i].validate(); err != nil {
			return Script{}, fmt.Errorf("step %d (%s): %w", i+1, s.Steps[i].Op, err)
		}
	}
	return s, nil
}

func (st *Step) validate() error {
	st.Op = strings.ToLower(strings.TrimSpace(st.Op))
	if st.Repeat < 0 {
		return fmt.Errorf("negative repeat")
	}
	if st.Repeat == 0 {
		st.Repeat = 1
	}
	switch st.Op {
	case OpSetVerdict, OpSetSlot:
		if st.Op == OpSetSlot && strings.TrimSpace(st.Slot) == "" {
			return fmt.Errorf("missing slot")
		}
		return nil
	case OpExec, OpOpen:
		if st.Path == "" {
			return fmt.Errorf("missing path")
		}
	case OpConnect:
		ap, err := netip.ParseAddrPort(strings.TrimSpace(st.Addr))
		if err != nil {
			return fmt.Errorf("addr: %w", err)
		}
		st.addr = ap
	case OpRead, OpWrite:
		if st.Path == "" && st.Inode == 0 {
			return fmt.Errorf("missing path or inode")
		}
	case OpSched, OpVerdict, OpExit:
	default:
		return fmt.Errorf("unknown op %q", st.Op)
	}
	if st.PID == 0 {
		return fmt.Errorf("missing pid")
	}
	if st.Comm == "" {
		st.Comm = fmt.Sprintf("pid%d", st.PID)
	}
	return nil
}
