package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/david/bidwatch/internal/app"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml)")
	only := flag.String("only", "both", "documents to process: openings, bulletins or both")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := app.Load(ctx, *configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	defer a.Close()

	targets, err := a.Targets(*only)
	if err != nil {
		log.Fatal(err)
	}
	p, err := a.Pipeline(true)
	if err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	app.RenderStats(os.Stdout, a.RunStage(ctx, targets, p.Extract))
}
