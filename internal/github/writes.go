package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// PullRef identifies a created pull request.
type PullRef struct {
	Number int    `json:"number"`
	URL    string `json:"html_url"`
}

// CreatePull opens a pull request and invalidates cached PR reads for the repo.
func (c *Client) CreatePull(ctx context.Context, repo, title, head, base, body string) (PullRef, error) {
	if base == "" {
		base = "main"
	}
	payload, err := json.Marshal(map[string]string{
		"title": title,
		"head":  head,
		"base":  base,
		"body":  body,
	})
	if err != nil {
		return PullRef{}, fmt.Errorf("encode pull request: %w", err)
	}

	data, err := c.doJSON(ctx, http.MethodPost, fmt.Sprintf("/repos/%s/pulls", repo), payload)
	if err != nil {
		return PullRef{}, fmt.Errorf("create pull request: %w", err)
	}

	var ref PullRef
	if err := json.Unmarshal(data, &ref); err != nil {
		return PullRef{}, fmt.Errorf("decode pull request: %w", err)
	}

	c.invalidate(ctx, ResourcePulls, repo)
	c.invalidate(ctx, ResourceActivity, repo)
	return ref, nil
}

// SubmitReview posts a review (APPROVE, REQUEST_CHANGES, or COMMENT) on a
// pull request and invalidates the affected cached reads.
func (c *Client) SubmitReview(ctx context.Context, repo string, number int, event, body string) error {
	payload, err := json.Marshal(map[string]string{
		"event": event,
		"body":  body,
	})
	if err != nil {
		return fmt.Errorf("encode review: %w", err)
	}

	if _, err := c.doJSON(ctx, http.MethodPost,
		fmt.Sprintf("/repos/%s/pulls/%d/reviews", repo, number), payload); err != nil {
		return fmt.Errorf("submit review: %w", err)
	}

	c.invalidate(ctx, ResourcePulls, repo)
	c.invalidate(ctx, ResourcePullDiff, repo)
	return nil
}

// DispatchWorkflow triggers a workflow_dispatch event and invalidates cached
// workflow run reads so the new run becomes visible on the next fetch.
func (c *Client) DispatchWorkflow(ctx context.Context, repo, workflow, ref string) error {
	payload, err := json.Marshal(map[string]string{"ref": ref})
	if err != nil {
		return fmt.Errorf("encode dispatch: %w", err)
	}

	if _, err := c.doJSON(ctx, http.MethodPost,
		fmt.Sprintf("/repos/%s/actions/workflows/%s/dispatches", repo, workflow), payload); err != nil {
		return fmt.Errorf("dispatch workflow: %w", err)
	}

	c.invalidate(ctx, ResourceWorkflowRuns, repo)
	c.invalidate(ctx, ResourceRunLogs, repo)
	return nil
}

func (c *Client) invalidate(ctx context.Context, resource Resource, repo string) {
	// Invalidation failure only means one extra stale-TTL window.
	_ = c.store.DeleteCacheEntries(ctx, string(resource)+"|"+repo)
}
