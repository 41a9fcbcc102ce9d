package github

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// call resolves one read resource to its REST path(s) and fetches it.
func (c *Client) call(ctx context.Context, resource Resource, repo string, params map[string]string) (json.RawMessage, error) {
	switch resource {
	case ResourceWorkflowRuns:
		return c.doJSON(ctx, http.MethodGet,
			fmt.Sprintf("/repos/%s/actions/runs?status=completed&per_page=10", repo), nil)
	case ResourceRunLogs:
		runID := params["run_id"]
		if runID == "" {
			return nil, fmt.Errorf("run_logs requires run_id")
		}
		return c.doJSON(ctx, http.MethodGet,
			fmt.Sprintf("/repos/%s/actions/runs/%s/jobs", repo, runID), nil)
	case ResourcePulls:
		return c.doJSON(ctx, http.MethodGet,
			fmt.Sprintf("/repos/%s/pulls?state=open&sort=updated&direction=desc&per_page=20", repo), nil)
	case ResourcePullDiff:
		number := params["number"]
		if number == "" {
			return nil, fmt.Errorf("pull_diff requires number")
		}
		return c.doJSON(ctx, http.MethodGet,
			fmt.Sprintf("/repos/%s/pulls/%s/files?per_page=20", repo, number), nil)
	case ResourceCommit:
		sha := params["sha"]
		if sha == "" {
			return nil, fmt.Errorf("commit requires sha")
		}
		return c.doJSON(ctx, http.MethodGet,
			fmt.Sprintf("/repos/%s/commits/%s", repo, sha), nil)
	case ResourceCommitStatus:
		sha := params["sha"]
		if sha == "" {
			return nil, fmt.Errorf("commit_status requires sha")
		}
		return c.doJSON(ctx, http.MethodGet,
			fmt.Sprintf("/repos/%s/commits/%s/status", repo, sha), nil)
	case ResourceActivity:
		return c.fetchActivity(ctx, repo, params)
	case ResourceFile:
		path := params["path"]
		if path == "" {
			return nil, fmt.Errorf("file requires path")
		}
		ref := params["ref"]
		if ref == "" {
			ref = "main"
		}
		return c.doJSON(ctx, http.MethodGet,
			fmt.Sprintf("/repos/%s/contents/%s?ref=%s", repo, url.PathEscape(path), url.QueryEscape(ref)), nil)
	default:
		return nil, fmt.Errorf("unknown resource %q", resource)
	}
}

// fetchActivity combines recent commits and merged pull requests into one
// payload for standup briefings.
func (c *Client) fetchActivity(ctx context.Context, repo string, params map[string]string) (json.RawMessage, error) {
	lookback := 16 * time.Hour
	if raw := params["lookback"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("activity lookback parse: %w", err)
		}
		lookback = d
	}
	since := c.now().Add(-lookback).Format(time.RFC3339)

	commits, err := c.doJSON(ctx, http.MethodGet,
		fmt.Sprintf("/repos/%s/commits?since=%s&per_page=20", repo, url.QueryEscape(since)), nil)
	if err != nil {
		return nil, err
	}
	merged, err := c.doJSON(ctx, http.MethodGet,
		fmt.Sprintf("/repos/%s/pulls?state=closed&sort=updated&direction=desc&per_page=10", repo), nil)
	if err != nil {
		return nil, err
	}

	combined, err := json.Marshal(map[string]json.RawMessage{
		"repo":       json.RawMessage(fmt.Sprintf("%q", repo)),
		"commits":    commits,
		"merged_prs": merged,
	})
	if err != nil {
		return nil, fmt.Errorf("encode activity: %w", err)
	}
	return combined, nil
}
