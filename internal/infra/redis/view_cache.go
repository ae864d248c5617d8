package redis

import (
	"context"
	"encoding/json"
	"time"

	"competitor-research/internal/usecase"
)

// ViewCache keeps the observer's latest composed JobView per job so poll
// requests between observer ticks are served without touching Postgres.
// Entries expire on their own; a miss just means the caller composes the
// view from a fresh read.
type ViewCache struct {
	client *redClient
	ttl    time.Duration
}

func NewViewCache(client *redClient, ttl time.Duration) *ViewCache {
	return &ViewCache{
		client: client,
		ttl:    ttl,
	}
}

func viewKey(jobID string) string { return "research_view:" + jobID }

func (c *ViewCache) Store(ctx context.Context, view usecase.JobView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, viewKey(view.Job.ID), data, c.ttl)
}

// Get returns the cached view, or ok=false on a miss.
func (c *ViewCache) Get(ctx context.Context, jobID string) (usecase.JobView, bool, error) {
	data, err := c.client.Get(ctx, viewKey(jobID))
	if err != nil {
		if IsNil(err) {
			return usecase.JobView{}, false, nil
		}
		return usecase.JobView{}, false, err
	}
	var view usecase.JobView
	if err := json.Unmarshal([]byte(data), &view); err != nil {
		return usecase.JobView{}, false, err
	}
	return view, true, nil
}

func (c *ViewCache) Delete(ctx context.Context, jobID string) error {
	return c.client.Del(ctx, viewKey(jobID))
}
