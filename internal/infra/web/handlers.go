package web

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"competitor-research/internal/domain"
	"competitor-research/internal/domain/model"
	"competitor-research/internal/infra/logging"
	"competitor-research/internal/infra/metrics"
	"competitor-research/internal/usecase"
)

type createJobRequest struct {
	WorkspaceID   string   `json:"workspace_id"`
	NicheQuery    string   `json:"niche_query"`
	ServiceArea   string   `json:"service_area"`
	TargetCount   int      `json:"target_count"`
	SearchQueries []string `json:"search_queries"`
}

type cancelJobRequest struct {
	Reason string `json:"reason"`
}

type stageDTO struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

type countersDTO struct {
	SitesDiscovered int `json:"sites_discovered"`
	SitesValidated  int `json:"sites_validated"`
	SitesScraped    int `json:"sites_scraped"`
	PagesScraped    int `json:"pages_scraped"`
	FAQsExtracted   int `json:"faqs_extracted"`
	FAQsAfterDedup  int `json:"faqs_after_dedup"`
	FAQsRefined     int `json:"faqs_refined"`
	FAQsAdded       int `json:"faqs_added"`
}

// jobViewResponse is the wire shape of one observation. Status carries the
// effective presentation status; stored_status keeps the raw record value so
// clients can tell a synthetic error from a real one.
type jobViewResponse struct {
	ID            string   `json:"id"`
	WorkspaceID   string   `json:"workspace_id"`
	Status        string   `json:"status"`
	StoredStatus  string   `json:"stored_status"`
	NicheQuery    string   `json:"niche_query"`
	ServiceArea   string   `json:"service_area,omitempty"`
	TargetCount   int      `json:"target_count"`
	SearchQueries []string `json:"search_queries,omitempty"`

	Stages       []stageDTO  `json:"stages"`
	CurrentStage int         `json:"current_stage"`
	Counters     countersDTO `json:"counters"`

	Stalled     bool   `json:"stalled"`
	StallReason string `json:"stall_reason,omitempty"`

	CurrentScrapingDomain *string `json:"current_scraping_domain,omitempty"`
	ErrorMessage          string  `json:"error_message,omitempty"`

	ElapsedSeconds int64      `json:"elapsed_seconds"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ObservedAt     time.Time  `json:"observed_at"`
}

func toJobViewResponse(v usecase.JobView) jobViewResponse {
	stages := make([]stageDTO, 0, model.StageCount)
	for i := 0; i < model.StageCount; i++ {
		stages = append(stages, stageDTO{Name: model.StageName(i), Status: string(v.Stages.Stages[i])})
	}
	c := v.Counters
	return jobViewResponse{
		ID:            v.Job.ID,
		WorkspaceID:   v.Job.WorkspaceID,
		Status:        string(v.EffectiveStatus()),
		StoredStatus:  string(v.Job.Status),
		NicheQuery:    v.Job.NicheQuery,
		ServiceArea:   v.Job.ServiceArea,
		TargetCount:   v.Job.TargetCount,
		SearchQueries: v.Job.SearchQueries,
		Stages:        stages,
		CurrentStage:  v.Stages.CurrentIndex,
		Counters: countersDTO{
			SitesDiscovered: c.SitesDiscovered,
			SitesValidated:  c.SitesValidated,
			SitesScraped:    c.SitesScraped,
			PagesScraped:    c.PagesScraped,
			FAQsExtracted:   c.FAQsExtracted,
			FAQsAfterDedup:  c.FAQsAfterDedup,
			FAQsRefined:     c.FAQsRefined,
			FAQsAdded:       c.FAQsAdded,
		},
		Stalled:               v.Stall.Stalled,
		StallReason:           v.Stall.Reason,
		CurrentScrapingDomain: v.Job.CurrentScrapingDomain,
		ErrorMessage:          v.Job.ErrorMessage,
		ElapsedSeconds:        int64(v.Elapsed.Seconds()),
		CreatedAt:             v.Job.CreatedAt,
		UpdatedAt:             v.Job.UpdatedAt,
		CompletedAt:           v.Job.CompletedAt,
		ObservedAt:            v.ObservedAt,
	}
}

// viewFor serves the observer's snapshot only while it is at least as fresh
// as the record in hand; after a write such as cancel, the snapshot lags
// until the next tick and the caller must see the record they just changed.
// On a stale or missing snapshot the view is composed from scratch, so the
// phase-entry bound restarts and phase-local stall flags come only from the
// observer's view.
func (s *Server) viewFor(job *model.ResearchJob) usecase.JobView {
	if view, ok := s.observer.Snapshot(job.ID); ok && !view.Job.UpdatedAt.Before(job.UpdatedAt) {
		return view
	}
	now := s.clock.Now()
	return usecase.ComposeView(job, s.detector.Check(job, now), now)
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	ctx := logging.WithWorkspaceID(r.Context(), req.WorkspaceID)

	job, err := s.jobUC.Create(ctx, usecase.CreateJobInput{
		WorkspaceID:   req.WorkspaceID,
		NicheQuery:    req.NicheQuery,
		ServiceArea:   req.ServiceArea,
		TargetCount:   req.TargetCount,
		SearchQueries: req.SearchQueries,
	})
	if err != nil {
		s.writeError(ctx, w, err, "Failed to create research job")
		return
	}

	metrics.IncJobCreated()
	s.observer.Attach(context.WithoutCancel(ctx), job.ID)
	writeJSON(w, http.StatusCreated, toJobViewResponse(s.viewFor(job)))
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithJobID(r.Context(), id)

	if view, ok := s.observer.Snapshot(id); ok {
		writeJSON(w, http.StatusOK, toJobViewResponse(view))
		return
	}

	// another replica's observer may have a fresher view cached
	if s.views != nil {
		if view, ok, err := s.views.Get(ctx, id); err == nil && ok {
			if view.Job.Active() {
				s.observer.Attach(context.WithoutCancel(ctx), id)
			}
			writeJSON(w, http.StatusOK, toJobViewResponse(view))
			return
		}
	}

	job, err := s.jobUC.Get(ctx, id)
	if err != nil {
		s.writeError(ctx, w, err, "Failed to get research job")
		return
	}
	if job.Active() {
		s.observer.Attach(context.WithoutCancel(ctx), job.ID)
	}
	writeJSON(w, http.StatusOK, toJobViewResponse(s.viewFor(job)))
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithJobID(r.Context(), id)

	var req cancelJobRequest
	if r.Body != nil {
		_ = json.NewDecoder(r.Body).Decode(&req) // empty body means default reason
	}

	if err := s.jobUC.Cancel(ctx, id, req.Reason); err != nil {
		s.writeError(ctx, w, err, "Failed to cancel research job")
		return
	}

	job, err := s.jobUC.Get(ctx, id)
	if err != nil {
		s.writeError(ctx, w, err, "Failed to get research job")
		return
	}
	writeJSON(w, http.StatusOK, toJobViewResponse(s.viewFor(job)))
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := logging.WithJobID(r.Context(), id)

	if err := s.recoverer.Recover(ctx, id); err != nil {
		metrics.IncRecovery("failed")
		s.writeError(ctx, w, err, "Failed to dispatch recovery")
		return
	}

	metrics.IncRecovery("dispatched")
	s.observer.Attach(context.WithoutCancel(ctx), id)
	writeJSON(w, http.StatusAccepted, map[string]string{"id": id, "recovery": "dispatched"})
}

// handleActive serves page-reload resume: the workspace's current active job,
// or 404 when there is none.
func (s *Server) handleActive(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "id")
	ctx := logging.WithWorkspaceID(r.Context(), workspaceID)

	job, err := s.jobUC.Resume(ctx, workspaceID)
	if err != nil {
		s.writeError(ctx, w, err, "Failed to resume research job")
		return
	}

	s.observer.Attach(context.WithoutCancel(ctx), job.ID)
	writeJSON(w, http.StatusOK, toJobViewResponse(s.viewFor(job)))
}

type errorResponse struct {
	Error string `json:"error"`
}

// writeError maps domain errors onto HTTP statuses. Unknown errors become a
// 500 with the generic message only; internals never leak to clients.
func (s *Server) writeError(ctx context.Context, w http.ResponseWriter, err error, generic string) {
	switch {
	case errors.Is(err, domain.ErrInvalidArgument):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "not found"})
	case errors.Is(err, domain.ErrActiveJobExists):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "workspace already has an active research job"})
	case errors.Is(err, domain.ErrJobTerminal):
		writeJSON(w, http.StatusConflict, errorResponse{Error: "job already finished"})
	case errors.Is(err, domain.ErrRecoveryInFlight):
		writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "recovery already in progress"})
	case errors.Is(err, domain.ErrEngineUnavailable):
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "workflow engine unavailable"})
	default:
		logging.With(ctx, s.log).Error().Err(err).Msg(generic)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: generic})
	}
}
