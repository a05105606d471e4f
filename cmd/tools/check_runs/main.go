package main

import (
	"context"
	"flag"
	"log"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"

	"github.com/david/bidwatch/internal/app"
	"github.com/david/bidwatch/internal/db"
)

func main() {
	configPath := flag.String("config", "", "optional config file (yaml)")
	limit := flag.Int("limit", 10, "number of runs to show")
	flag.Parse()

	ctx := context.Background()
	a, err := app.Load(ctx, *configPath)
	if err != nil {
		log.Fatal(err)
	}
	defer a.Close()

	if !a.Ledger.Enabled() {
		log.Fatal("run ledger unavailable: set DATABASE_URL")
	}

	runs, err := a.Ledger.ListRecent(ctx, *limit)
	if err != nil {
		log.Fatal(err)
	}

	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Stage", "Document", "Status", "Considered", "Updated", "Skipped", "Failed", "Duration", "Started At"})

	for _, r := range runs {
		duration := "Running..."
		if r.Status != db.StatusRunning {
			duration = (time.Duration(r.DurationMS) * time.Millisecond).Round(time.Millisecond).String()
		}
		t.AppendRow(table.Row{r.Stage, r.Document, r.Status, r.Considered, r.Updated, r.Skipped, r.Failed, duration, r.StartedAt.Format("2006-01-02 15:04:05")})
	}
	t.Render()
}
