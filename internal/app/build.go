package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/samueltauil/devdash/internal/agent"
	"github.com/samueltauil/devdash/internal/completion"
	"github.com/samueltauil/devdash/internal/config"
	"github.com/samueltauil/devdash/internal/gate"
	"github.com/samueltauil/devdash/internal/github"
	"github.com/samueltauil/devdash/internal/hardware"
	"github.com/samueltauil/devdash/internal/httpapi"
	"github.com/samueltauil/devdash/internal/observability"
	"github.com/samueltauil/devdash/internal/store"
	"github.com/samueltauil/devdash/internal/tool"
)

type BuildResult struct {
	Config  config.Config
	API     *httpapi.Server
	Agents  *agent.Manager
	Gate    *gate.Gate
	Button  *hardware.SimulatedButton
	Metrics *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, button feed).
	Cleanup func() error
}

// Build assembles the full service graph from configuration. The returned
// BuildResult owns every long-lived component; callers run the API server
// and invoke Cleanup on shutdown.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	gh := github.NewClient(github.Config{
		BaseURL:  cfg.GitHubAPIURL,
		Token:    cfg.GitHubToken,
		TTLShort: cfg.CacheTTLCI,
		TTLLong:  cfg.CacheTTLCommits,
	}, st, metrics)

	adapter, err := completion.NewAdapter(completion.Config{
		Mode:    cfg.CompletionMode,
		HTTPURL: cfg.CompletionHTTPURL,
		Model:   cfg.CompletionModel,
		Metrics: metrics,
	})
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("completion adapter init failed: %w", err)
	}

	registry := tool.NewRegistry()
	defaultRepo := ""
	if len(cfg.GitHubRepos) > 0 {
		defaultRepo = cfg.GitHubRepos[0]
	}
	if err := tool.RegisterBuiltins(registry, gh, st, tool.BuiltinConfig{
		DefaultRepo:     defaultRepo,
		StandupLookback: cfg.StandupLookback,
		DeployWorkflow:  cfg.DeployWorkflow,
		DeployRef:       cfg.DeployRef,
	}); err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("tool registration failed: %w", err)
	}

	g := gate.New(cfg.ConfirmTimeout, st, metrics)

	manager := agent.NewManager(agent.Config{MaxToolRounds: cfg.MaxToolRounds},
		agent.BuiltinRoles(cfg.GitHubRepos), st, registry, adapter, g, metrics)
	manager.StartJanitor(ctx, 30*time.Second, 10*time.Minute)

	button := hardware.NewSimulatedButton(cfg.ButtonDebounce)
	go func() {
		for range button.Presses() {
			g.HandlePress()
		}
	}()

	var transcriber hardware.Transcriber
	if cfg.TranscriberHTTPURL != "" {
		transcriber = hardware.NewHTTPTranscriber(cfg.TranscriberHTTPURL)
	} else {
		transcriber = &hardware.MockTranscriber{}
	}

	api := httpapi.New(cfg, manager, g, button, transcriber, st, metrics)

	cleanup := func() error {
		var errs []string
		if err := button.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if err := st.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:  cfg,
		API:     api,
		Agents:  manager,
		Gate:    g,
		Button:  button,
		Metrics: metrics,
		Cleanup: cleanup,
	}, nil
}
