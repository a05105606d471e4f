package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/david/bidwatch/internal/ai"
	"github.com/david/bidwatch/internal/db"
	"github.com/david/bidwatch/internal/metrics"
	"github.com/david/bidwatch/internal/models"
	"github.com/david/bidwatch/internal/store"
)

// Stage names used in logs, metrics and the run ledger.
const (
	StageFetch    = "fetch"
	StageClassify = "classify"
	StageExtract  = "extract"
	StageEnrich   = "enrich"
	StageReset    = "reset"
)

// DefaultAcceptedTypes are the categories whose records get a content synopsis.
var DefaultAcceptedTypes = []models.ProjectType{
	models.TypeInfoConstruction,
	models.TypeInfoHardwareProcurement,
}

// Pipeline runs the per-document stages. Every stage is strictly sequential
// and absorbs per-record failures; only an unreadable document or a failed
// listing fetch ends a stage early.
type Pipeline struct {
	Registry   *Registry
	Normalizer *Normalizer
	Listings   ListingFetcher
	Classifier *ai.Classifier
	Extractor  *ContentExtractor
	Ledger     *db.RunLedger
	Logger     *zap.Logger
	Clock      Clock

	Accepted      map[models.ProjectType]bool
	OpeningsDays  int
	BulletinsDays int
}

func NewPipeline(reg *Registry, zone *time.Location, classifier *ai.Classifier, extractor *ContentExtractor, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		Registry:      reg,
		Normalizer:    NewNormalizer(zone, reg.Links),
		Classifier:    classifier,
		Extractor:     extractor,
		Logger:        logger,
		Clock:         time.Now,
		Accepted:      AcceptedSet(nil),
		OpeningsDays:  3,
		BulletinsDays: 3,
	}
}

// AcceptedSet maps configured labels onto the taxonomy; an empty list yields the defaults.
func AcceptedSet(labels []string) map[models.ProjectType]bool {
	out := map[models.ProjectType]bool{}
	for _, l := range labels {
		if t, ok := models.ParseProjectType(l); ok {
			out[t] = true
		}
	}
	if len(out) == 0 {
		for _, t := range DefaultAcceptedTypes {
			out[t] = true
		}
	}
	return out
}

// NeedsClassification is the idempotent skip rule: a record that already has
// a non-default type and a non-blank synopsis is never sent again.
func NeedsClassification(r store.Record) bool {
	return r.PrjType() == models.TypeOther || !r.HasContent()
}

// NeedsContent reports an accepted-type record whose synopsis is still missing.
func (p *Pipeline) NeedsContent(r store.Record) bool {
	return p.Accepted[r.PrjType()] && !r.HasContent()
}

// run wraps a stage with ledger bookkeeping, timing, metrics and a summary log line.
func (p *Pipeline) run(ctx context.Context, stage string, kind store.Kind, fn func(*StageStats) error) (StageStats, error) {
	stats := StageStats{Stage: stage, Document: kind}
	log := p.Logger.With(zap.String("stage", stage), zap.String("document", string(kind)))

	runID, err := p.Ledger.Start(ctx, stage, string(kind))
	if err != nil {
		log.Warn("run ledger unavailable", zap.Error(err))
	}

	start := time.Now()
	stageErr := fn(&stats)
	stats.Duration = time.Since(start)

	if err := p.Ledger.Finish(ctx, runID, db.RunSummary{
		Considered: stats.Considered,
		Updated:    stats.Updated,
		Skipped:    stats.Skipped,
		Failed:     stats.Failed,
		Duration:   stats.Duration,
		Err:        stageErr,
	}); err != nil {
		log.Warn("run ledger update failed", zap.Error(err))
	}
	metrics.ObserveStage(stage, string(kind), stats.Considered, stats.Updated, stats.Skipped, stats.Failed, stats.Duration)

	if stageErr != nil {
		log.Warn("stage skipped", zap.Error(stageErr))
		return stats, stageErr
	}
	log.Info("stage complete",
		zap.Int("considered", stats.Considered),
		zap.Int("updated", stats.Updated),
		zap.Int("skipped", stats.Skipped),
		zap.Int("failed", stats.Failed),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

// Classify assigns prjType from titles alone.
func (p *Pipeline) Classify(ctx context.Context, kind store.Kind, path string) (StageStats, error) {
	return p.run(ctx, StageClassify, kind, func(stats *StageStats) error {
		doc, err := store.LoadKind(path, kind)
		if err != nil {
			return err
		}

		var updates []store.Update
		for _, r := range doc.Records {
			if ctx.Err() != nil {
				break
			}
			stats.Considered++
			if !NeedsClassification(r) {
				stats.Skipped++
				continue
			}
			res, err := p.Classifier.Classify(ctx, r.Title(), "")
			if err != nil {
				stats.Failed++
				continue
			}
			typ := res.PrjType
			updates = append(updates, store.Update{ID: r.ID(), PrjType: &typ})
		}

		stats.Updated = store.Merge(doc, updates)
		return p.save(doc, path, stats.Updated)
	})
}

// Extract fills prjContent for accepted-type records that lack it.
func (p *Pipeline) Extract(ctx context.Context, kind store.Kind, path string) (StageStats, error) {
	return p.run(ctx, StageExtract, kind, func(stats *StageStats) error {
		doc, err := store.LoadKind(path, kind)
		if err != nil {
			return err
		}

		var updates []store.Update
		for _, r := range doc.Records {
			if ctx.Err() != nil {
				break
			}
			if !p.NeedsContent(r) {
				continue
			}
			stats.Considered++
			content, ok := p.synopsis(ctx, kind, r)
			if !ok {
				stats.Failed++
				continue
			}
			updates = append(updates, store.Update{ID: r.ID(), PrjContent: &content})
		}

		stats.Skipped = len(doc.Records) - stats.Considered
		stats.Updated = store.Merge(doc, updates)
		return p.save(doc, path, stats.Updated)
	})
}

// Enrich classifies each record by title and, for accepted types, extracts a
// synopsis in the same pass. The document is written once at the end.
func (p *Pipeline) Enrich(ctx context.Context, kind store.Kind, path string) (StageStats, error) {
	return p.run(ctx, StageEnrich, kind, func(stats *StageStats) error {
		doc, err := store.LoadKind(path, kind)
		if err != nil {
			return err
		}

		var updates []store.Update
		for _, r := range doc.Records {
			if ctx.Err() != nil {
				break
			}
			stats.Considered++
			if !NeedsClassification(r) {
				stats.Skipped++
				continue
			}

			res, err := p.Classifier.Classify(ctx, r.Title(), "")
			if err != nil {
				stats.Failed++
				continue
			}
			typ := res.PrjType
			u := store.Update{ID: r.ID(), PrjType: &typ}

			if p.Accepted[typ] && !r.HasContent() {
				if content, ok := p.synopsis(ctx, kind, r); ok {
					u.PrjContent = &content
				} else {
					stats.Failed++
				}
			}
			updates = append(updates, u)
		}

		stats.Updated = store.Merge(doc, updates)
		return p.save(doc, path, stats.Updated)
	})
}

// synopsis extracts detail text for r and asks the classifier to summarise it.
// ok is false when nothing usable came back; prjContent then stays null.
func (p *Pipeline) synopsis(ctx context.Context, kind store.Kind, r store.Record) (string, bool) {
	target := DetailTarget{
		Kind:       kind,
		BulletinID: r.String("bulletinId"),
		PrjID:      r.String("prjId"),
		Title:      r.Title(),
		Embedded:   r.String("bulletinContent"),
	}
	log := p.Logger.With(zap.String("id", r.ID()))

	text, err := p.Extractor.Extract(ctx, target, nil)
	if err != nil {
		result := "empty"
		if errors.Is(err, ErrNetwork) {
			result = "network"
		}
		metrics.ObserveDetailFetch(string(kind), result)
		log.Warn("no detail content", zap.Error(err))
		return "", false
	}
	metrics.ObserveDetailFetch(string(kind), "ok")

	res, err := p.Classifier.Classify(ctx, target.Title, text)
	if err != nil || res.PrjContent == "" {
		log.Warn("no synopsis produced", zap.Error(err))
		return "", false
	}
	return res.PrjContent, true
}

func (p *Pipeline) save(doc *store.Document, path string, changed int) error {
	if changed == 0 {
		return nil
	}
	if err := store.Save(doc, path); err != nil {
		return fmt.Errorf("save %s: %w", path, err)
	}
	return nil
}

// Reset nulls every prjContent in the document so the next run recomputes it.
func (p *Pipeline) Reset(ctx context.Context, kind store.Kind, path string) (StageStats, error) {
	return p.run(ctx, StageReset, kind, func(stats *StageStats) error {
		doc, err := store.LoadKind(path, kind)
		if err != nil {
			return err
		}
		stats.Considered = len(doc.Records)
		stats.Updated = store.ResetContent(doc)
		stats.Skipped = stats.Considered - stats.Updated
		return p.save(doc, path, stats.Updated)
	})
}

// FetchOpenings pulls the openings listing, keeps projects opening within the
// forward window and rewrites the document, carrying over earlier
// classifications by id.
func (p *Pipeline) FetchOpenings(ctx context.Context, path string) (StageStats, error) {
	return p.run(ctx, StageFetch, store.KindOpenings, func(stats *StageStats) error {
		items, err := p.fetchListing(ctx, p.Registry.Listings.Openings)
		if err != nil {
			return err
		}

		today := Today(p.Clock(), p.Normalizer.Zone)
		window := ForwardWindow(today, p.OpeningsDays)
		projects := p.Normalizer.Openings(items, window)
		kept := p.previous(path, store.KindOpenings).PreserveOpenings(projects)

		doc, err := store.NewOpeningsDocument(models.OpeningsDocument{
			Today:      today.Format(dateLayout),
			FutureDate: window.End.Format(dateLayout),
			Projects:   projects,
		})
		if err != nil {
			return err
		}
		if err := store.Save(doc, path); err != nil {
			return fmt.Errorf("save %s: %w", path, err)
		}

		stats.Considered = len(items)
		stats.Updated = len(projects)
		stats.Skipped = len(items) - len(projects)
		p.Logger.Debug("openings window",
			zap.String("today", today.Format(dateLayout)),
			zap.String("until", window.End.Format(dateLayout)),
			zap.Int("preserved", kept))
		return nil
	})
}

// FetchBulletins pulls the bulletin listing and keeps bulletins published in
// the backward window, which excludes today.
func (p *Pipeline) FetchBulletins(ctx context.Context, path string) (StageStats, error) {
	return p.run(ctx, StageFetch, store.KindBulletins, func(stats *StageStats) error {
		items, err := p.fetchListing(ctx, p.Registry.Listings.Bulletins)
		if err != nil {
			return err
		}

		today := Today(p.Clock(), p.Normalizer.Zone)
		bulletins := p.Normalizer.Bulletins(items, BackwardWindow(today, p.BulletinsDays))
		kept := p.previous(path, store.KindBulletins).PreserveBulletins(bulletins)

		doc, err := store.NewBulletinsDocument(bulletins)
		if err != nil {
			return err
		}
		if err := store.Save(doc, path); err != nil {
			return fmt.Errorf("save %s: %w", path, err)
		}

		stats.Considered = len(items)
		stats.Updated = len(bulletins)
		stats.Skipped = len(items) - len(bulletins)
		p.Logger.Debug("bulletins window", zap.Int("preserved", kept))
		return nil
	})
}

func (p *Pipeline) fetchListing(ctx context.Context, cfg ListingConfig) ([]RawRecord, error) {
	if p.Listings == nil {
		return nil, fmt.Errorf("%w: no listing fetcher configured", ErrNetwork)
	}
	body, err := ListingRequest(cfg)
	if err != nil {
		return nil, err
	}
	resp, err := p.Listings.FetchListing(ctx, cfg.URL, body)
	if err != nil {
		return nil, err
	}
	items, err := DecodeListing(resp.Body, cfg.ItemPaths)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}
	return items, nil
}

// previous loads the current document for carry-over; a missing file is normal on first run.
func (p *Pipeline) previous(path string, kind store.Kind) Previous {
	doc, err := store.LoadKind(path, kind)
	if err != nil {
		if _, statErr := os.Stat(path); statErr == nil {
			p.Logger.Warn("previous document unreadable, starting fresh", zap.String("path", path), zap.Error(err))
		}
		return Previous{}
	}
	return PreviousFrom(doc)
}
