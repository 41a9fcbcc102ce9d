package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/samueltauil/devdash/internal/config"
)

func TestBuildWiresServiceGraph(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := config.Config{
		MetricsNamespace: fmt.Sprintf("test_app_%d", time.Now().UnixNano()),
		GitHubRepos:      []string{"acme/site", "acme/api"},
		CompletionMode:   "mock",
		ConfirmTimeout:   5 * time.Second,
		MaxToolRounds:    3,
		StandupLookback:  16 * time.Hour,
	}

	result, err := Build(ctx, cfg)
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	defer func() {
		if err := result.Cleanup(); err != nil {
			t.Fatalf("Cleanup() error = %v", err)
		}
	}()

	if result.API == nil || result.Agents == nil || result.Gate == nil || result.Button == nil {
		t.Fatalf("Build() returned incomplete graph: %+v", result)
	}

	ts := httptest.NewServer(result.API.Router())
	defer ts.Close()

	res, err := http.Get(ts.URL + "/v1/agents")
	if err != nil {
		t.Fatalf("GET /v1/agents error = %v", err)
	}
	defer res.Body.Close()
	if res.StatusCode != http.StatusOK {
		t.Fatalf("GET /v1/agents status = %d, want %d", res.StatusCode, http.StatusOK)
	}
	var out struct {
		Roles []string `json:"roles"`
	}
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		t.Fatalf("decode roles: %v", err)
	}
	if len(out.Roles) != 5 {
		t.Fatalf("roles = %v, want the five builtin profiles", out.Roles)
	}
}
