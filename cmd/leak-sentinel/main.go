package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/term"

	"leak-sentinel/internal/config"
	"leak-sentinel/internal/driver"
	"leak-sentinel/internal/launch"
	"leak-sentinel/internal/logging"
)

const version = "1.0.0"

func main() {
	os.Exit(run())
}

func run() int {
	var (
		configPath  string
		targetURL   string
		requests    int
		showVersion bool
	)

	flag.StringVar(&configPath, "config", "", "path to config.yaml (optional)")
	flag.StringVar(&targetURL, "target", "", "target base URL (overrides config)")
	flag.IntVar(&requests, "requests", 0, "request burst size (overrides config)")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")
	flag.Parse()

	if showVersion {
		fmt.Printf("leak-sentinel v%s\n", version)
		return 0
	}

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if targetURL != "" {
		cfg.TargetURL = targetURL
	}
	if requests > 0 {
		cfg.RequestCount = requests
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	launcher := launch.NewLauncher(cfg)
	if err := launcher.Start(ctx); err != nil {
		log.Fatalf("Target not available: %v", err)
	}
	defer launcher.Stop()

	d := driver.New(cfg)
	logger, err := logging.NewLogger(cfg.LogDir)
	if err != nil {
		log.Printf("measurement log disabled: %v", err)
	} else {
		d.SetLogger(logger)
		defer logger.Close()
	}

	m, err := d.Run(ctx)
	if err != nil {
		launcher.Stop()
		log.Fatalf("Measurement aborted: %v", err)
	}

	pretty := term.IsTerminal(int(os.Stdout.Fd()))
	driver.Render(os.Stdout, m, pretty)

	return driver.ExitCode(m)
}
