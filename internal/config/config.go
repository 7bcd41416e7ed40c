// Package config loads bmond settings: built-in defaults, then an optional
// YAML file, then BMON_* environment variables. Flags are applied by the
// caller on top.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/melonattacker/bmon/collector/common"
	"github.com/melonattacker/bmon/internal/event"
)

const DefaultPath = "/etc/bmon/bmond.yaml"

type Config struct {
	Backend   string `yaml:"backend"`
	BPFObject string `yaml:"bpf_object"`
	Socket    string `yaml:"socket"`
	DataDir   string `yaml:"data_dir"`
	NoStore   bool   `yaml:"no_store"`
	RulesFile string `yaml:"rules_file"`
	Scenario  string `yaml:"scenario"`

	Log        Log        `yaml:"log"`
	Thresholds Thresholds `yaml:"thresholds"`
	Capacity   Capacity   `yaml:"capacity"`
	Sweep      Sweep      `yaml:"sweep"`
	NATS       NATS       `yaml:"nats"`
}

type Log struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json|console
}

// Thresholds are written into the tunables slots at startup; zero keeps the
// built-in default.
type Thresholds struct {
	FileAccess    uint64 `yaml:"file_access"`
	NetConn       uint64 `yaml:"net_conn"`
	SyscallVolume uint64 `yaml:"syscall_volume"`
}

type Capacity struct {
	Ring      int `yaml:"ring"`
	Processes int `yaml:"processes"`
	Files     int `yaml:"files"`
	Conns     int `yaml:"conns"`
}

type Sweep struct {
	Interval       time.Duration `yaml:"interval"`
	ProcessIdleTTL time.Duration `yaml:"process_idle_ttl"`
}

type NATS struct {
	URL      string `yaml:"url"`
	Prefix   string `yaml:"prefix"`
	MinLevel string `yaml:"min_level"`
}

func Default() Config {
	return Config{
		Backend: common.BackendKernel,
		Log:     Log{Level: "info", Format: "json"},
		Capacity: Capacity{
			Ring:      4096,
			Processes: 1024,
			Files:     2048,
			Conns:     512,
		},
		Sweep: Sweep{
			Interval:       30 * time.Second,
			ProcessIdleTTL: 10 * time.Minute,
		},
		NATS: NATS{Prefix: "bmon", MinLevel: "medium"},
	}
}

// Load returns the defaults overlaid with path (when non-empty) and the
// environment. A missing file at DefaultPath is not an error.
func Load(path string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}
	cfg := Default()

	explicit := strings.TrimSpace(path) != ""
	if !explicit {
		path = DefaultPath
	}
	b, err := os.ReadFile(path)
	switch {
	case err == nil:
		expanded := os.Expand(string(b), func(k string) string { return getenv(k) })
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", path, err)
		}
	case errors.Is(err, os.ErrNotExist) && !explicit:
	default:
		return cfg, fmt.Errorf("read config %s: %w", path, err)
	}

	if err := cfg.ApplyEnv(getenv); err != nil {
		return cfg, err
	}
	return cfg, cfg.Validate()
}

// ApplyEnv overrides fields from BMON_* variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	str := func(key string, dst *string) {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			*dst = v
		}
	}
	str("BMON_BACKEND", &c.Backend)
	str("BMON_BPF_OBJ", &c.BPFObject)
	str("BMON_SOCK", &c.Socket)
	str("BMON_DATA", &c.DataDir)
	str("BMON_RULES", &c.RulesFile)
	str("BMON_LOG_LEVEL", &c.Log.Level)
	str("BMON_LOG_FORMAT", &c.Log.Format)
	str("BMON_NATS_URL", &c.NATS.URL)
	str("BMON_NATS_PREFIX", &c.NATS.Prefix)

	for key, dst := range map[string]*uint64{
		"BMON_FILE_ACCESS_THRESHOLD":    &c.Thresholds.FileAccess,
		"BMON_NET_CONN_THRESHOLD":       &c.Thresholds.NetConn,
		"BMON_SYSCALL_VOLUME_THRESHOLD": &c.Thresholds.SyscallVolume,
	} {
		v := strings.TrimSpace(getenv(key))
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		*dst = n
	}
	return nil
}

func (c Config) Validate() error {
	switch c.Backend {
	case common.BackendKernel, common.BackendEmulated:
	default:
		return fmt.Errorf("%w: %q", common.ErrUnknownBackend, c.Backend)
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		return fmt.Errorf("invalid log format %q", c.Log.Format)
	}
	if c.Capacity.Ring < 0 || c.Capacity.Processes < 0 || c.Capacity.Files < 0 || c.Capacity.Conns < 0 {
		return fmt.Errorf("capacities must not be negative")
	}
	if c.NATS.MinLevel != "" {
		if _, err := event.ParseLevel(c.NATS.MinLevel); err != nil {
			return fmt.Errorf("nats.min_level: %w", err)
		}
	}
	if c.Scenario != "" && c.Backend != common.BackendEmulated {
		return fmt.Errorf("scenario requires the %s backend", common.BackendEmulated)
	}
	return nil
}

// Collector projects the backend settings.
func (c Config) Collector() common.Config {
	return common.Config{
		Backend:                c.Backend,
		BPFObject:              c.BPFObject,
		FileAccessThreshold:    c.Thresholds.FileAccess,
		NetConnThreshold:       c.Thresholds.NetConn,
		SyscallVolumeThreshold: c.Thresholds.SyscallVolume,
		RingCapacity:           c.Capacity.Ring,
		ProcessCapacity:        c.Capacity.Processes,
		FileCapacity:           c.Capacity.Files,
		ConnCapacity:           c.Capacity.Conns,
		SweepInterval:          c.Sweep.Interval,
		ProcessIdleTTL:         c.Sweep.ProcessIdleTTL,
	}
}
