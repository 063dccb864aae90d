package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"leak-sentinel/internal/config"
	"leak-sentinel/internal/heapstat"
	"leak-sentinel/internal/server"
	"leak-sentinel/internal/storage"
)

const version = "1.0.0"

func main() {
	var (
		configPath  string
		port        int
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to config.yaml (optional)")
	flag.IntVar(&port, "port", 0, "listen port (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("leak-target v%s\n", version)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if port > 0 {
		cfg.Port = port
	}

	registry := heapstat.NewRegistry()
	collector := heapstat.NewCollector(heapstat.NewIntrospector(registry))

	srv := server.New(cfg, registry, collector)
	if err := srv.Start(); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Printf("leak-target listening on %s (leaky=%t)", srv.Addr(), cfg.LeakyEnabled())

	pruner := storage.NewPruner(cfg.SnapshotDir, cfg.RetentionDays)
	pruner.Start()
	defer pruner.Stop()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(shutdownCtx); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
