// File: cmd/seed/main.go
// Inserts one demo research job per pipeline phase so the UI has something to
// render locally. Each job gets its own workspace to respect the single
// active-run rule.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/oklog/ulid/v2"

	"competitor-research/internal/config"
	"competitor-research/internal/domain/model"
	pg "competitor-research/internal/infra/db/postgres"
)

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to YAML config file")
	flag.Parse()

	cfg, err := config.LoadConfig(*cfgPath, true)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	pool, err := pg.NewPgxPool(ctx, cfg.Database.URL, 2)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()
	repo := pg.NewResearchJobRepo(pool)

	now := time.Now()
	demos := []*model.ResearchJob{
		demo("seed-queued", model.JobStatusQueued, now, func(j *model.ResearchJob) {}),
		demo("seed-discovering", model.JobStatusDiscovering, now, func(j *model.ResearchJob) {
			j.SitesDiscovered = 37
		}),
		demo("seed-review", model.JobStatusReviewReady, now, func(j *model.ResearchJob) {
			j.SitesDiscovered = 100
		}),
		demo("seed-scraping", model.JobStatusScraping, now, func(j *model.ResearchJob) {
			j.SitesDiscovered = 100
			j.SitesValidated = 80
			j.SitesScraped = 23
			j.PagesScraped = 412
			dom := "example-competitor.com"
			j.CurrentScrapingDomain = &dom
		}),
		demo("seed-extracting", model.JobStatusExtracting, now, func(j *model.ResearchJob) {
			j.SitesDiscovered = 100
			j.SitesValidated = 80
			j.SitesScraped = 80
			j.PagesScraped = 1620
			j.FAQsExtracted = 210
		}),
		demo("seed-refining", model.JobStatusRefining, now, func(j *model.ResearchJob) {
			j.SitesDiscovered = 100
			j.SitesValidated = 80
			j.SitesScraped = 80
			j.PagesScraped = 1620
			j.FAQsExtracted = 340
			j.FAQsAfterDedup = 212
			j.FAQsRefined = 75
		}),
		demo("seed-completed", model.JobStatusCompleted, now, func(j *model.ResearchJob) {
			j.SitesDiscovered = 100
			j.SitesValidated = 80
			j.SitesScraped = 80
			j.PagesScraped = 1620
			j.FAQsExtracted = 340
			j.FAQsAfterDedup = 212
			j.FAQsRefined = 212
			j.FAQsAdded = 212
			done := now
			j.CompletedAt = &done
		}),
		demo("seed-error", model.JobStatusError, now, func(j *model.ResearchJob) {
			j.SitesDiscovered = 100
			j.SitesValidated = 80
			j.ErrorMessage = "scrape worker crashed: context deadline exceeded"
		}),
		// stale heartbeat, for exercising the stall banner
		demo("seed-stalled", model.JobStatusScraping, now, func(j *model.ResearchJob) {
			j.SitesDiscovered = 100
			j.SitesValidated = 80
			j.SitesScraped = 11
			j.HeartbeatAt = now.Add(-20 * time.Minute)
		}),
	}

	for _, job := range demos {
		if err := repo.Save(ctx, nil, job); err != nil {
			log.Fatalf("seed %s (%s): %v", job.WorkspaceID, job.Status, err)
		}
		fmt.Printf("seeded %-18s %-13s %s\n", job.WorkspaceID, job.Status, job.ID)
	}
}

func demo(workspace string, status model.ResearchJobStatus, now time.Time, fill func(*model.ResearchJob)) *model.ResearchJob {
	j := &model.ResearchJob{
		ID:            ulid.Make().String(),
		WorkspaceID:   workspace,
		Status:        status,
		NicheQuery:    "emergency plumbers",
		ServiceArea:   "Denver, CO",
		TargetCount:   100,
		SearchQueries: []string{"emergency plumber denver", "24 hour plumber denver co"},
		HeartbeatAt:   now,
		CreatedAt:     now.Add(-10 * time.Minute),
		UpdatedAt:     now,
	}
	fill(j)
	return j
}
