package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/melonattacker/bmon/internal/bmond"
	"github.com/melonattacker/bmon/internal/config"
	"github.com/melonattacker/bmon/internal/logging"
)

var version = "dev"

func main() {
	os.Exit(realMain())
}

func realMain() int {
	var (
		cfgPath  string
		backend  string
		sock     string
		dataDir  string
		scenario string
		rules    string
		logLevel string
		noStore  bool
		showVer  bool
	)
	flag.StringVar(&cfgPath, "config", "", "config file (default: "+config.DefaultPath+" when present)")
	flag.StringVar(&backend, "backend", "", "kernel|emulated (overrides config)")
	flag.StringVar(&sock, "sock", "", "control socket path (overrides config; env: BMON_SOCK)")
	flag.StringVar(&dataDir, "data", "", "session data directory (overrides config; env: BMON_DATA)")
	flag.StringVar(&scenario, "scenario", "", "run a scenario file or built-in name on startup (emulated backend only)")
	flag.StringVar(&rules, "rules", "", "alert rules YAML (overrides config)")
	flag.StringVar(&logLevel, "log-level", "", "debug|info|warn|error (overrides config)")
	flag.BoolVar(&noStore, "no-store", false, "do not record a session")
	flag.BoolVar(&showVer, "version", false, "print version and exit")
	flag.Parse()

	if showVer {
		fmt.Println(version)
		return 0
	}

	cfg, err := config.Load(cfgPath, os.Getenv)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if sock != "" {
		cfg.Socket = sock
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if scenario != "" {
		cfg.Scenario = scenario
	}
	if rules != "" {
		cfg.RulesFile = rules
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if noStore {
		cfg.NoStore = true
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		return 2
	}

	logger, err := logging.New(cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: %v\n", err)
		return 2
	}
	defer func() { _ = logger.Sync() }()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	d := bmond.New(cfg, logger, version)
	if err := d.Run(ctx); err != nil {
		logger.Error("bmond failed", zap.Error(err))
		return 1
	}
	return 0
}
