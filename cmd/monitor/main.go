package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"breaker-monitor/internal/tasks"
)

func main() {
	var opts tasks.Options
	flag.StringVar(&opts.ConfigPath, "config", "config/config.yaml", "path to YAML config")
	flag.BoolVar(&opts.Console, "console", true, "print every snapshot to the log")
	flag.StringVar(&opts.LogLevel, "log-level", "", "override log.level (debug, info, warn, error)")
	flag.Parse()

	// Handle SIGINT/SIGTERM for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := tasks.InitAndRun(ctx, opts); err != nil {
		log.Fatalf("monitor exited with error: %v", err)
	}
}
