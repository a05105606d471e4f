package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/david/bidwatch/internal/app"
	"github.com/david/bidwatch/internal/ingest"
	"github.com/david/bidwatch/internal/store"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml)")
	only := flag.String("only", "both", "documents to refresh: openings, bulletins or both")
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
	p, err := a.Pipeline(false)
	if err != nil {
		log.Fatal(err)
	}

	stats := a.RunStage(ctx, targets, func(ctx context.Context, kind store.Kind, path string) (ingest.StageStats, error) {
		if kind == store.KindOpenings {
			return p.FetchOpenings(ctx, path)
		}
		return p.FetchBulletins(ctx, path)
	})
	app.RenderStats(os.Stdout, stats)
}
