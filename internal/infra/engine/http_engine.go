package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"competitor-research/internal/domain/model"
	"competitor-research/internal/domain/ports/adapter"
)

var _ adapter.WorkflowEngineAdapter = (*HTTPEngine)(nil)

// HTTPEngine signals the external research workflow engine over its REST
// API. Both signals are accepted-or-failed only; the engine reports phase
// progress by writing to the job record, never through these calls.
type HTTPEngine struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPEngine(baseURL, token string, timeout time.Duration) (*HTTPEngine, error) {
	if baseURL == "" {
		return nil, errors.New("engine base url empty")
	}
	if _, err := url.Parse(baseURL); err != nil {
		return nil, fmt.Errorf("invalid engine base url: %w", err)
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPEngine{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}, nil
}

func (e *HTTPEngine) StartResearch(ctx context.Context, job *model.ResearchJob) error {
	payload := map[string]any{
		"job_id":         job.ID,
		"workspace_id":   job.WorkspaceID,
		"niche_query":    job.NicheQuery,
		"service_area":   job.ServiceArea,
		"target_count":   job.TargetCount,
		"search_queries": job.SearchQueries,
	}
	return e.post(ctx, "/v1/research/start", payload)
}

func (e *HTTPEngine) Resume(ctx context.Context, jobID string) error {
	return e.post(ctx, "/v1/research/"+jobID+"/resume", map[string]any{"job_id": jobID})
}

func (e *HTTPEngine) post(ctx context.Context, path string, payload map[string]any) error {
	b, _ := json.Marshal(payload)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.token != "" {
		req.Header.Set("Authorization", "Bearer "+e.token)
	}
	resp, err := e.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("engine returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
