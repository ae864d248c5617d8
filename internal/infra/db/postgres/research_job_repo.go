package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgconn"
	"github.com/jackc/pgx/v4"
	"github.com/jackc/pgx/v4/pgxpool"

	"competitor-research/internal/domain"
	"competitor-research/internal/domain/model"
	"competitor-research/internal/domain/ports/repository"
)

var _ repository.ResearchJobRepository = (*researchJobRepo)(nil)

const uniqueViolation = "23505"

type researchJobRepo struct {
	pool *pgxpool.Pool
}

func NewResearchJobRepo(pool *pgxpool.Pool) *researchJobRepo {
	return &researchJobRepo{pool: pool}
}

const jobColumns = `
id, workspace_id, status, niche_query, service_area, target_count, search_queries,
sites_discovered, sites_validated, sites_approved, sites_scraped, pages_scraped,
faqs_extracted, faqs_generated, faqs_after_dedup, faqs_refined, faqs_added,
heartbeat_at, current_scraping_domain, created_at, updated_at, completed_at, error_message`

func scanJob(row pgx.Row) (*model.ResearchJob, error) {
	var j model.ResearchJob
	var statusStr string
	err := row.Scan(
		&j.ID, &j.WorkspaceID, &statusStr, &j.NicheQuery, &j.ServiceArea, &j.TargetCount, &j.SearchQueries,
		&j.SitesDiscovered, &j.SitesValidated, &j.SitesApproved, &j.SitesScraped, &j.PagesScraped,
		&j.FAQsExtracted, &j.FAQsGenerated, &j.FAQsAfterDedup, &j.FAQsRefined, &j.FAQsAdded,
		&j.HeartbeatAt, &j.CurrentScrapingDomain, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt, &j.ErrorMessage,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrNotFound
		}
		return nil, domain.ErrReadDatabaseRow
	}
	j.Status = model.ResearchJobStatus(statusStr)
	return &j, nil
}

func (r *researchJobRepo) Save(ctx context.Context, tx repository.Tx, job *model.ResearchJob) error {
	job.UpdatedAt = time.Now()

	const q = `
INSERT INTO research_jobs (` + jobColumns + `)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23)
ON CONFLICT (id) DO UPDATE SET
  status = EXCLUDED.status,
  sites_discovered = EXCLUDED.sites_discovered,
  sites_validated = EXCLUDED.sites_validated,
  sites_approved = EXCLUDED.sites_approved,
  sites_scraped = EXCLUDED.sites_scraped,
  pages_scraped = EXCLUDED.pages_scraped,
  faqs_extracted = EXCLUDED.faqs_extracted,
  faqs_generated = EXCLUDED.faqs_generated,
  faqs_after_dedup = EXCLUDED.faqs_after_dedup,
  faqs_refined = EXCLUDED.faqs_refined,
  faqs_added = EXCLUDED.faqs_added,
  heartbeat_at = EXCLUDED.heartbeat_at,
  current_scraping_domain = EXCLUDED.current_scraping_domain,
  updated_at = EXCLUDED.updated_at,
  completed_at = EXCLUDED.completed_at,
  error_message = EXCLUDED.error_message;`

	_, err := execSQL(ctx, r.pool, tx, q,
		job.ID, job.WorkspaceID, string(job.Status), job.NicheQuery, job.ServiceArea, job.TargetCount, job.SearchQueries,
		job.SitesDiscovered, job.SitesValidated, job.SitesApproved, job.SitesScraped, job.PagesScraped,
		job.FAQsExtracted, job.FAQsGenerated, job.FAQsAfterDedup, job.FAQsRefined, job.FAQsAdded,
		job.HeartbeatAt, job.CurrentScrapingDomain, job.CreatedAt, job.UpdatedAt, job.CompletedAt, job.ErrorMessage,
	)
	if err != nil {
		// the partial unique index on (workspace_id) WHERE active rejects a
		// second active job for the same workspace
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.ErrActiveJobExists
		}
		return err
	}
	return nil
}

func (r *researchJobRepo) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.ResearchJob, error) {
	const q = `SELECT ` + jobColumns + ` FROM research_jobs WHERE id = $1;`
	row, err := pickRow(ctx, r.pool, tx, q, id)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *researchJobRepo) FindLatestByWorkspace(ctx context.Context, tx repository.Tx, workspaceID string) (*model.ResearchJob, error) {
	const q = `SELECT ` + jobColumns + ` FROM research_jobs WHERE workspace_id = $1 ORDER BY created_at DESC LIMIT 1;`
	row, err := pickRow(ctx, r.pool, tx, q, workspaceID)
	if err != nil {
		return nil, err
	}
	return scanJob(row)
}

func (r *researchJobRepo) MarkCancelled(ctx context.Context, tx repository.Tx, id, reason string, at time.Time) error {
	// conditional write: only a still-active row flips to cancelled, and the
	// heartbeat is stamped so observers read the record as fresh
	const q = `
UPDATE research_jobs
SET status = 'cancelled', error_message = $2, completed_at = $3, heartbeat_at = $3, updated_at = $3
WHERE id = $1 AND status NOT IN ('completed', 'error', 'cancelled');`

	tag, err := execSQL(ctx, r.pool, tx, q, id, reason, at)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, err := r.FindByID(ctx, tx, id); err != nil {
			return err
		}
		return domain.ErrJobTerminal
	}
	return nil
}

func (r *researchJobRepo) ListActive(ctx context.Context, tx repository.Tx) ([]*model.ResearchJob, error) {
	const q = `SELECT ` + jobColumns + `
FROM research_jobs
WHERE status NOT IN ('completed', 'error', 'cancelled')
ORDER BY created_at;`

	rows, err := pickRows(ctx, r.pool, tx, q)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*model.ResearchJob
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
