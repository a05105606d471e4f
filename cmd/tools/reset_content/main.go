package main

import (
	"context"
	"flag"
	"log"
	"os"

	"github.com/david/bidwatch/internal/app"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml)")
	only := flag.String("only", "both", "documents to reset: openings, bulletins or both")
	flag.Parse()

	ctx := context.Background()
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

	app.RenderStats(os.Stdout, a.RunStage(ctx, targets, p.Reset))
}
