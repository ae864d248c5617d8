//go:build !integration

package web

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"competitor-research/internal/domain"
	"competitor-research/internal/domain/model"
	"competitor-research/internal/usecase"
)

// --- Mocks ---

type mockJobUC struct {
	mu   sync.Mutex
	jobs map[string]*model.ResearchJob

	CreateError error
	CancelError error
}

func newMockJobUC() *mockJobUC {
	return &mockJobUC{jobs: make(map[string]*model.ResearchJob)}
}

func (m *mockJobUC) add(j *model.ResearchJob) {
	m.mu.Lock()
	m.jobs[j.ID] = j
	m.mu.Unlock()
}

func (m *mockJobUC) Create(ctx context.Context, in usecase.CreateJobInput) (*model.ResearchJob, error) {
	if m.CreateError != nil {
		return nil, m.CreateError
	}
	if in.WorkspaceID == "" || in.NicheQuery == "" {
		return nil, fmt.Errorf("%w: missing input", domain.ErrInvalidArgument)
	}
	if !model.ValidTargetTier(in.TargetCount) {
		return nil, fmt.Errorf("%w: bad tier", domain.ErrInvalidArgument)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.WorkspaceID == in.WorkspaceID && j.Active() {
			return nil, domain.ErrActiveJobExists
		}
	}
	now := time.Now()
	job := &model.ResearchJob{
		ID:          fmt.Sprintf("job-%d", len(m.jobs)+1),
		WorkspaceID: in.WorkspaceID,
		Status:      model.JobStatusQueued,
		NicheQuery:  in.NicheQuery,
		TargetCount: in.TargetCount,
		HeartbeatAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	m.jobs[job.ID] = job
	return job, nil
}

func (m *mockJobUC) Cancel(ctx context.Context, jobID, reason string) error {
	if m.CancelError != nil {
		return m.CancelError
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return domain.ErrNotFound
	}
	if j.Status.Terminal() {
		return domain.ErrJobTerminal
	}
	now := time.Now()
	j.Status = model.JobStatusCancelled
	j.CompletedAt = &now
	j.UpdatedAt = now
	return nil
}

func (m *mockJobUC) Resume(ctx context.Context, workspaceID string) (*model.ResearchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, j := range m.jobs {
		if j.WorkspaceID == workspaceID && j.Active() {
			return j, nil
		}
	}
	return nil, domain.ErrNotFound
}

func (m *mockJobUC) Get(ctx context.Context, jobID string) (*model.ResearchJob, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return j, nil
}

type mockRecoverer struct {
	RecoverError error
	mu           sync.Mutex
	calls        []string
}

func (m *mockRecoverer) Recover(ctx context.Context, jobID string) error {
	m.mu.Lock()
	m.calls = append(m.calls, jobID)
	m.mu.Unlock()
	return m.RecoverError
}

type mockObserver struct {
	mu       sync.Mutex
	attached []string
	views    map[string]usecase.JobView
}

func newMockObserver() *mockObserver {
	return &mockObserver{views: make(map[string]usecase.JobView)}
}

func (m *mockObserver) Attach(ctx context.Context, jobID string) {
	m.mu.Lock()
	m.attached = append(m.attached, jobID)
	m.mu.Unlock()
}

func (m *mockObserver) Snapshot(jobID string) (usecase.JobView, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.views[jobID]
	return v, ok
}

func (m *mockObserver) attachedTo(jobID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range m.attached {
		if id == jobID {
			return true
		}
	}
	return false
}

// mockViewCache stands in for the redis view cache shared across replicas.
type mockViewCache struct {
	mu    sync.Mutex
	views map[string]usecase.JobView
	gets  int
}

func newMockViewCache() *mockViewCache {
	return &mockViewCache{views: make(map[string]usecase.JobView)}
}

func (m *mockViewCache) put(v usecase.JobView) {
	m.mu.Lock()
	m.views[v.Job.ID] = v
	m.mu.Unlock()
}

func (m *mockViewCache) Get(ctx context.Context, jobID string) (usecase.JobView, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gets++
	v, ok := m.views[jobID]
	return v, ok, nil
}

// --- Harness ---

const testOperatorKey = "test-operator-key"

type harness struct {
	uc  *mockJobUC
	rec *mockRecoverer
	obs *mockObserver
	ts  *httptest.Server

	cookie *http.Cookie
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	logger := zerolog.Nop()
	return newHarnessWith(t, nil, &logger)
}

func newHarnessWith(t *testing.T, views ViewReader, logger *zerolog.Logger) *harness {
	t.Helper()
	uc := newMockJobUC()
	rec := &mockRecoverer{}
	obs := newMockObserver()
	auth := NewAuthManager("test-secret", false, "", 30*time.Minute)
	det := usecase.NewStallDetector(usecase.DefaultStallConfig(), nil)
	srv := NewServer(uc, rec, obs, views, det, auth, testOperatorKey, nil, logger)
	ts := httptest.NewServer(srv.Routes())
	t.Cleanup(ts.Close)

	h := &harness{uc: uc, rec: rec, obs: obs, ts: ts}
	h.login(t)
	return h
}

func (h *harness) login(t *testing.T) {
	t.Helper()
	body, _ := json.Marshal(loginRequest{Key: testOperatorKey})
	resp, err := http.Post(h.ts.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatalf("login: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("login status = %d", resp.StatusCode)
	}
	for _, c := range resp.Cookies() {
		if c.Name == "research_session" {
			h.cookie = c
			return
		}
	}
	t.Fatal("login set no session cookie")
}

func (h *harness) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, h.ts.URL+path, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	req.AddCookie(h.cookie)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("do %s %s: %v", method, path, err)
	}
	return resp
}

func decodeView(t *testing.T, resp *http.Response) jobViewResponse {
	t.Helper()
	defer resp.Body.Close()
	var v jobViewResponse
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decode view: %v", err)
	}
	return v
}

func activeTestJob(id, workspace string, status model.ResearchJobStatus) *model.ResearchJob {
	now := time.Now()
	return &model.ResearchJob{
		ID:          id,
		WorkspaceID: workspace,
		Status:      status,
		NicheQuery:  "hvac contractors",
		TargetCount: 100,
		HeartbeatAt: now,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// --- Tests ---

func TestAuthRequired(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.ts.URL + "/api/v1/research/job-1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status without session = %d, want 401", resp.StatusCode)
	}
}

func TestLoginRejectsWrongKey(t *testing.T) {
	h := newHarness(t)

	body, _ := json.Marshal(loginRequest{Key: "wrong"})
	resp, err := http.Post(h.ts.URL+"/api/v1/auth/login", "application/json", bytes.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("login with wrong key = %d, want 403", resp.StatusCode)
	}
}

func TestHealthIsOpen(t *testing.T) {
	h := newHarness(t)

	resp, err := http.Get(h.ts.URL + "/health")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("/health = %d", resp.StatusCode)
	}
}

func TestCreateResearchJob(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodPost, "/api/v1/research", createJobRequest{
		WorkspaceID: "ws-1",
		NicheQuery:  "hvac contractors",
		TargetCount: 100,
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create = %d, want 201", resp.StatusCode)
	}
	view := decodeView(t, resp)
	if view.Status != string(model.JobStatusQueued) {
		t.Fatalf("status = %s", view.Status)
	}
	if len(view.Stages) != model.StageCount {
		t.Fatalf("stages = %d, want %d", len(view.Stages), model.StageCount)
	}
	if view.Stages[0].Name != "discover" || view.Stages[0].Status != string(model.StagePending) {
		t.Fatalf("first stage = %+v", view.Stages[0])
	}
	if !h.obs.attachedTo(view.ID) {
		t.Fatal("created job got no observer")
	}
}

func TestCreateValidation(t *testing.T) {
	h := newHarness(t)

	cases := []struct {
		name string
		req  createJobRequest
	}{
		{"missing workspace", createJobRequest{NicheQuery: "x", TargetCount: 50}},
		{"missing niche", createJobRequest{WorkspaceID: "ws-1", TargetCount: 50}},
		{"off-tier count", createJobRequest{WorkspaceID: "ws-1", NicheQuery: "x", TargetCount: 99}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			resp := h.do(t, http.MethodPost, "/api/v1/research", tc.req)
			resp.Body.Close()
			if resp.StatusCode != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400", resp.StatusCode)
			}
		})
	}
}

func TestCreateRejectsSecondActiveJob(t *testing.T) {
	h := newHarness(t)
	h.uc.add(activeTestJob("job-1", "ws-1", model.JobStatusScraping))

	resp := h.do(t, http.MethodPost, "/api/v1/research", createJobRequest{
		WorkspaceID: "ws-1",
		NicheQuery:  "hvac contractors",
		TargetCount: 50,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestGetPrefersObserverSnapshot(t *testing.T) {
	h := newHarness(t)
	job := activeTestJob("job-1", "ws-1", model.JobStatusScraping)
	job.SitesValidated = 12
	h.uc.add(job)

	snap := usecase.ComposeView(job, usecase.Stalled(usecase.StallReasonHeartbeat), time.Now())
	h.obs.mu.Lock()
	h.obs.views["job-1"] = snap
	h.obs.mu.Unlock()

	resp := h.do(t, http.MethodGet, "/api/v1/research/job-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get = %d", resp.StatusCode)
	}
	view := decodeView(t, resp)
	if !view.Stalled || view.StallReason != usecase.StallReasonHeartbeat {
		t.Fatalf("snapshot stall not served: %+v", view)
	}
	if view.Counters.SitesValidated != 12 {
		t.Fatalf("counters not served from snapshot: %+v", view.Counters)
	}
}

func TestGetFallsBackToStoreAndAttaches(t *testing.T) {
	h := newHarness(t)
	h.uc.add(activeTestJob("job-1", "ws-1", model.JobStatusDiscovering))

	resp := h.do(t, http.MethodGet, "/api/v1/research/job-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get = %d", resp.StatusCode)
	}
	view := decodeView(t, resp)
	if view.ID != "job-1" {
		t.Fatalf("view id = %s", view.ID)
	}
	if !h.obs.attachedTo("job-1") {
		t.Fatal("active job fetched without observer attach")
	}
}

func TestGetUnknownJob(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/api/v1/research/nope", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestCancelJob(t *testing.T) {
	h := newHarness(t)
	h.uc.add(activeTestJob("job-1", "ws-1", model.JobStatusScraping))

	resp := h.do(t, http.MethodPost, "/api/v1/research/job-1/cancel", cancelJobRequest{Reason: "changed my mind"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel = %d", resp.StatusCode)
	}
	view := decodeView(t, resp)
	if view.Status != string(model.JobStatusCancelled) {
		t.Fatalf("status after cancel = %s", view.Status)
	}
}

func TestCancelOverridesLaggingSnapshot(t *testing.T) {
	h := newHarness(t)
	job := activeTestJob("job-1", "ws-1", model.JobStatusScraping)
	h.uc.add(job)

	// the observer last saw the job before the cancel lands; its snapshot
	// still says scraping
	stale := *job
	h.obs.mu.Lock()
	h.obs.views["job-1"] = usecase.ComposeView(&stale, usecase.Verdict{}, time.Now())
	h.obs.mu.Unlock()

	resp := h.do(t, http.MethodPost, "/api/v1/research/job-1/cancel", cancelJobRequest{Reason: "stop"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("cancel = %d", resp.StatusCode)
	}
	view := decodeView(t, resp)
	if view.Status != string(model.JobStatusCancelled) {
		t.Fatalf("status after cancel = %s, want %s", view.Status, model.JobStatusCancelled)
	}
	if view.StoredStatus != string(model.JobStatusCancelled) {
		t.Fatalf("stored status after cancel = %s", view.StoredStatus)
	}
}

func TestCancelTerminalJobConflicts(t *testing.T) {
	h := newHarness(t)
	h.uc.add(activeTestJob("job-1", "ws-1", model.JobStatusCompleted))

	resp := h.do(t, http.MethodPost, "/api/v1/research/job-1/cancel", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("status = %d, want 409", resp.StatusCode)
	}
}

func TestRecoverDispatches(t *testing.T) {
	h := newHarness(t)
	h.uc.add(activeTestJob("job-1", "ws-1", model.JobStatusExtracting))

	resp := h.do(t, http.MethodPost, "/api/v1/research/job-1/recover", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("recover = %d, want 202", resp.StatusCode)
	}
	if len(h.rec.calls) != 1 || h.rec.calls[0] != "job-1" {
		t.Fatalf("recoverer calls = %v", h.rec.calls)
	}
	if !h.obs.attachedTo("job-1") {
		t.Fatal("recovered job got no observer")
	}
}

func TestRecoverErrorMapping(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"already in flight", domain.ErrRecoveryInFlight, http.StatusTooManyRequests},
		{"terminal", domain.ErrJobTerminal, http.StatusConflict},
		{"unknown job", domain.ErrNotFound, http.StatusNotFound},
		{"engine down", fmt.Errorf("%w: connect refused", domain.ErrEngineUnavailable), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t)
			h.rec.RecoverError = tc.err
			resp := h.do(t, http.MethodPost, "/api/v1/research/job-1/recover", nil)
			resp.Body.Close()
			if resp.StatusCode != tc.want {
				t.Fatalf("status = %d, want %d", resp.StatusCode, tc.want)
			}
		})
	}
}

func TestActiveJobResume(t *testing.T) {
	h := newHarness(t)
	h.uc.add(activeTestJob("job-1", "ws-1", model.JobStatusValidating))

	resp := h.do(t, http.MethodGet, "/api/v1/workspaces/ws-1/research/active", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("active = %d", resp.StatusCode)
	}
	view := decodeView(t, resp)
	if view.ID != "job-1" {
		t.Fatalf("resumed wrong job: %s", view.ID)
	}
	if !h.obs.attachedTo("job-1") {
		t.Fatal("resumed job got no observer")
	}
}

func TestActiveJobResumeNoneActive(t *testing.T) {
	h := newHarness(t)
	h.uc.add(activeTestJob("job-1", "ws-1", model.JobStatusError))

	resp := h.do(t, http.MethodGet, "/api/v1/workspaces/ws-1/research/active", nil)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", resp.StatusCode)
	}
}

func TestErrorBodyIsJSON(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, http.MethodGet, "/api/v1/research/nope", nil)
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); !strings.Contains(ct, "application/json") {
		t.Fatalf("content type = %q", ct)
	}
	var e errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&e); err != nil {
		t.Fatalf("decode error body: %v", err)
	}
	if e.Error == "" {
		t.Fatal("empty error message")
	}
}

func TestGetServesViewCachedByAnotherReplica(t *testing.T) {
	logger := zerolog.Nop()
	cache := newMockViewCache()
	h := newHarnessWith(t, cache, &logger)

	// the job is only known through the cache; no local snapshot, and the
	// store is not consulted on a hit
	job := activeTestJob("job-1", "ws-1", model.JobStatusScraping)
	job.SitesValidated = 7
	cache.put(usecase.ComposeView(job, usecase.Verdict{}, time.Now()))

	resp := h.do(t, http.MethodGet, "/api/v1/research/job-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get = %d", resp.StatusCode)
	}
	view := decodeView(t, resp)
	if view.ID != "job-1" || view.Counters.SitesValidated != 7 {
		t.Fatalf("cached view not served: %+v", view)
	}
	if cache.gets == 0 {
		t.Fatal("cache was never read")
	}
	if !h.obs.attachedTo("job-1") {
		t.Fatal("active cached job got no observer takeover")
	}
}

func TestGetCachedTerminalViewDoesNotAttach(t *testing.T) {
	logger := zerolog.Nop()
	cache := newMockViewCache()
	h := newHarnessWith(t, cache, &logger)

	job := activeTestJob("job-1", "ws-1", model.JobStatusCompleted)
	cache.put(usecase.ComposeView(job, usecase.Verdict{}, time.Now()))

	resp := h.do(t, http.MethodGet, "/api/v1/research/job-1", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get = %d", resp.StatusCode)
	}
	resp.Body.Close()
	if h.obs.attachedTo("job-1") {
		t.Fatal("finished job must not get an observer")
	}
}

func TestServerErrorLogCarriesTraceContext(t *testing.T) {
	var buf bytes.Buffer
	logger := zerolog.New(&buf)
	h := newHarnessWith(t, nil, &logger)
	h.uc.CreateError = fmt.Errorf("pool exhausted")

	resp := h.do(t, http.MethodPost, "/api/v1/research", createJobRequest{
		WorkspaceID: "ws-1",
		NicheQuery:  "hvac contractors",
		TargetCount: 100,
	})
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", resp.StatusCode)
	}

	logged := buf.String()
	if !strings.Contains(logged, `"trace_id"`) {
		t.Fatalf("error log has no trace_id: %s", logged)
	}
	if !strings.Contains(logged, `"workspace_id":"ws-1"`) {
		t.Fatalf("error log has no workspace_id: %s", logged)
	}
}
