package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"time"

	"go.uber.org/zap"

	"github.com/david/bidwatch/internal/app"
	"github.com/david/bidwatch/internal/ingest"
	"github.com/david/bidwatch/internal/notify"
	"github.com/david/bidwatch/internal/store"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml)")
	dryRun := flag.Bool("dry-run", false, "print the digest without pushing it")
	flag.Parse()

	ctx := context.Background()
	a, err := app.Load(ctx, *configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	defer a.Close()

	openings := loadOptional(a, a.Config.Documents.Openings, store.KindOpenings)
	bulletins := loadOptional(a, a.Config.Documents.Bulletins, store.KindBulletins)

	today := ingest.Today(time.Now(), a.Zone)
	accepted := ingest.AcceptedSet(a.Config.Extract.AcceptedTypes)
	digest := notify.BuildDigest(openings, bulletins, today, accepted, a.Registry.Links)

	fmt.Println(digest.Markdown())
	if *dryRun {
		return
	}

	senders := notify.SendersFromConfig(a.Config.Notify, a.Logger.Named("notify"))
	if err := notify.Deliver(ctx, digest, senders, a.Logger.Named("notify")); err != nil {
		a.Logger.Error("digest not delivered everywhere", zap.Error(err))
	}
}

// loadOptional returns nil for a missing document so the digest can still go out.
func loadOptional(a *app.App, path string, kind store.Kind) *store.Document {
	doc, err := store.LoadKind(path, kind)
	if err != nil {
		if errors.Is(err, store.ErrSourceRead) {
			a.Logger.Warn("document skipped", zap.String("path", path), zap.Error(err))
		}
		return nil
	}
	return doc
}
