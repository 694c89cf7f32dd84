// Command migrate applies the embedded schema migrations or prints their status.
//
//	migrate [-config path] up|status
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"go.uber.org/zap"

	"passgate/internal/config"
	"passgate/internal/database"
	"passgate/internal/logger"
	"passgate/internal/migrations"
)

func main() {
	configPath := flag.String("config", "", "path to config.yaml (default $CONFIG_PATH or config/config.yaml)")
	flag.Parse()

	cmd := flag.Arg(0)
	if cmd == "" {
		cmd = "up"
	}
	if err := run(*configPath, cmd); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
}

func run(configPath, cmd string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := database.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	runner, err := migrations.NewRunner(db, log)
	if err != nil {
		return err
	}

	switch cmd {
	case "up":
		done, err := runner.Up(ctx)
		if err != nil {
			return err
		}
		log.Info("migrations finished", zap.Strings("applied", done))
	case "status":
		st, err := runner.Status(ctx)
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "VERSION\tNAME\tAPPLIED AT")
		for _, s := range st {
			at := "pending"
			if s.AppliedAt != nil {
				at = s.AppliedAt.Format("2006-01-02 15:04:05 MST")
			}
			fmt.Fprintf(w, "%s\t%s\t%s\n", s.Version, s.Name, at)
		}
		return w.Flush()
	default:
		return fmt.Errorf("unknown command %q (want up or status)", cmd)
	}
	return nil
}
