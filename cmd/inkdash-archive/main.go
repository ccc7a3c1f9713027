// inkdash-archive runs a single archive pass outside the daemon:
// snapshot, cleanup, and summary by default, or individual steps via
// flags. Meant for cron-style invocation and manual runs.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"inkdash/internal/archiver"
	"inkdash/internal/config"
	"inkdash/internal/storage"
	logx "inkdash/pkg/logx"
)

func main() {
	var (
		cfgPath     string
		cleanupOnly bool
		summaryOnly bool
	)
	flag.StringVar(&cfgPath, "config", "", "path to config yaml/json (optional; env vars apply either way)")
	flag.BoolVar(&cleanupOnly, "cleanup-only", false, "only remove entries past retention")
	flag.BoolVar(&summaryOnly, "summary-only", false, "only report archive contents")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfgPath, cleanupOnly, summaryOnly); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string, cleanupOnly, summaryOnly bool) error {
	cfgm := config.NewManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return err
	}

	logSvc, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: true,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	defer logSvc.Close()
	log = log.With(logx.String("comp", "archive"))

	rot, err := cfg.ResolveRotation(log)
	if err != nil {
		return err
	}
	arc, err := cfg.ResolveArchive()
	if err != nil {
		return err
	}

	var store storage.Store
	if sc, enabled, err := cfg.ResolveStorage(); err != nil {
		return err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return err
		}
		if st != nil {
			store = st
			defer store.Close()
		}
	}

	names := make([]string, 0, len(rot.Order))
	for _, p := range rot.Order {
		names = append(names, p.Name)
	}
	arch := archiver.New(arc, rot.CurrentDir, names, store, log)

	switch {
	case summaryOnly:
		_, err = arch.Summarize(ctx)
		return err
	case cleanupOnly:
		return arch.Cleanup(ctx)
	default:
		if err := arch.Snapshot(ctx); err != nil {
			return err
		}
		if err := arch.Cleanup(ctx); err != nil {
			return err
		}
		_, err = arch.Summarize(ctx)
		return err
	}
}
