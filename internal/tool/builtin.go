package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/samueltauil/devdash/internal/github"
	"github.com/samueltauil/devdash/internal/store"
)

// BuiltinConfig parameterizes the builtin tool set.
type BuiltinConfig struct {
	DefaultRepo     string
	StandupLookback time.Duration
	DeployWorkflow  string
	DeployRef       string
}

// RegisterBuiltins wires the repository and memory tools into the registry.
func RegisterBuiltins(reg *Registry, gh *github.Client, st store.Store, cfg BuiltinConfig) error {
	if cfg.StandupLookback <= 0 {
		cfg.StandupLookback = 16 * time.Hour
	}
	if cfg.DeployWorkflow == "" {
		cfg.DeployWorkflow = "deploy.yml"
	}
	if cfg.DeployRef == "" {
		cfg.DeployRef = "main"
	}

	b := builtins{gh: gh, store: st, cfg: cfg}
	defs := []Definition{
		{
			Name:        "fetch_ci_logs",
			Description: "Fetch job logs for a CI workflow run. Defaults to the most recent failed run when run_id is omitted.",
			Schema:      objectSchema(`"repo":{"type":"string"},"run_id":{"type":"string"}`),
			Handler:     b.fetchCILogs,
		},
		{
			Name:        "get_repo_activity",
			Description: "Summarize recent commits and merged pull requests within a lookback window.",
			Schema:      objectSchema(`"repo":{"type":"string"},"lookback":{"type":"string"}`),
			Handler:     b.getRepoActivity,
		},
		{
			Name:        "get_open_prs",
			Description: "List open pull requests for a repository.",
			Schema:      objectSchema(`"repo":{"type":"string"}`),
			Handler:     b.getOpenPRs,
		},
		{
			Name:        "get_pr_diff",
			Description: "Fetch the changed files of a pull request, capped at twenty files.",
			Schema:      objectSchema(`"repo":{"type":"string"},"number":{"type":"integer"}`),
			Handler:     b.getPRDiff,
		},
		{
			Name:        "read_repo_file",
			Description: "Read a file from a repository at a given ref.",
			Schema:      objectSchema(`"repo":{"type":"string"},"path":{"type":"string"},"ref":{"type":"string"}`),
			Handler:     b.readRepoFile,
		},
		{
			Name:        "get_commit_status",
			Description: "Fetch the combined commit status for a sha.",
			Schema:      objectSchema(`"repo":{"type":"string"},"sha":{"type":"string"}`),
			Handler:     b.getCommitStatus,
		},
		{
			Name:        "create_pull_request",
			Description: "Open a pull request from head into base.",
			Sensitive:   true,
			Schema:      objectSchema(`"repo":{"type":"string"},"title":{"type":"string"},"head":{"type":"string"},"base":{"type":"string"},"body":{"type":"string"}`),
			Handler:     b.createPullRequest,
		},
		{
			Name:        "submit_pr_review",
			Description: "Submit a review on a pull request: APPROVE, REQUEST_CHANGES, or COMMENT.",
			Sensitive:   true,
			Schema:      objectSchema(`"repo":{"type":"string"},"number":{"type":"integer"},"event":{"type":"string"},"body":{"type":"string"}`),
			Handler:     b.submitPRReview,
		},
		{
			Name:        "trigger_deploy",
			Description: "Dispatch the deploy workflow on a ref.",
			Sensitive:   true,
			Schema:      objectSchema(`"repo":{"type":"string"},"workflow":{"type":"string"},"ref":{"type":"string"}`),
			Handler:     b.triggerDeploy,
		},
		{
			Name:        "remember_fact",
			Description: "Store a durable fact about the team or project under a key.",
			Schema:      objectSchema(`"key":{"type":"string"},"value":{"type":"string"}`),
			Handler:     b.rememberFact,
		},
		{
			Name:        "recall_facts",
			Description: "List every stored fact for the current memory scope.",
			Schema:      objectSchema(``),
			Handler:     b.recallFacts,
		},
	}

	for _, def := range defs {
		if err := reg.Register(def); err != nil {
			return err
		}
	}
	return nil
}

type builtins struct {
	gh    *github.Client
	store store.Store
	cfg   BuiltinConfig
}

func (b builtins) repoOrDefault(repo string) (string, error) {
	repo = strings.TrimSpace(repo)
	if repo != "" {
		return repo, nil
	}
	if b.cfg.DefaultRepo != "" {
		return b.cfg.DefaultRepo, nil
	}
	return "", fmt.Errorf("%w: repo is required", ErrInvalidArgs)
}

func (b builtins) fetchCILogs(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Repo  string `json:"repo"`
		RunID string `json:"run_id"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	repo, err := b.repoOrDefault(args.Repo)
	if err != nil {
		return nil, err
	}

	runID := strings.TrimSpace(args.RunID)
	if runID == "" {
		runID, err = b.latestFailedRun(ctx, repo)
		if err != nil {
			return nil, err
		}
	}

	payload, err := b.gh.Fetch(ctx, github.ResourceRunLogs, repo, map[string]string{"run_id": runID})
	if err != nil {
		return nil, err
	}
	return marshalResult(payload)
}

// latestFailedRun picks the newest completed run with a failure conclusion,
// falling back to the newest run when all of them passed.
func (b builtins) latestFailedRun(ctx context.Context, repo string) (string, error) {
	payload, err := b.gh.Fetch(ctx, github.ResourceWorkflowRuns, repo, nil)
	if err != nil {
		return "", err
	}
	var runs struct {
		WorkflowRuns []struct {
			ID         int64  `json:"id"`
			Conclusion string `json:"conclusion"`
		} `json:"workflow_runs"`
	}
	if err := json.Unmarshal(payload.Data, &runs); err != nil {
		return "", fmt.Errorf("decode workflow runs: %w", err)
	}
	if len(runs.WorkflowRuns) == 0 {
		return "", fmt.Errorf("no completed workflow runs for %s", repo)
	}
	for _, run := range runs.WorkflowRuns {
		if run.Conclusion == "failure" {
			return strconv.FormatInt(run.ID, 10), nil
		}
	}
	return strconv.FormatInt(runs.WorkflowRuns[0].ID, 10), nil
}

func (b builtins) getRepoActivity(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Repo     string `json:"repo"`
		Lookback string `json:"lookback"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	repo, err := b.repoOrDefault(args.Repo)
	if err != nil {
		return nil, err
	}

	lookback := b.cfg.StandupLookback
	if args.Lookback != "" {
		d, err := time.ParseDuration(args.Lookback)
		if err != nil || d <= 0 {
			return nil, fmt.Errorf("%w: lookback %q", ErrInvalidArgs, args.Lookback)
		}
		lookback = d
	}

	payload, err := b.gh.Fetch(ctx, github.ResourceActivity, repo, map[string]string{"lookback": lookback.String()})
	if err != nil {
		return nil, err
	}
	return marshalResult(payload)
}

func (b builtins) getOpenPRs(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Repo string `json:"repo"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	repo, err := b.repoOrDefault(args.Repo)
	if err != nil {
		return nil, err
	}
	payload, err := b.gh.Fetch(ctx, github.ResourcePulls, repo, nil)
	if err != nil {
		return nil, err
	}
	return marshalResult(payload)
}

func (b builtins) getPRDiff(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Repo   string `json:"repo"`
		Number int    `json:"number"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	repo, err := b.repoOrDefault(args.Repo)
	if err != nil {
		return nil, err
	}
	if args.Number <= 0 {
		return nil, fmt.Errorf("%w: number must be positive", ErrInvalidArgs)
	}
	payload, err := b.gh.Fetch(ctx, github.ResourcePullDiff, repo, map[string]string{"number": strconv.Itoa(args.Number)})
	if err != nil {
		return nil, err
	}
	return marshalResult(payload)
}

func (b builtins) readRepoFile(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Repo string `json:"repo"`
		Path string `json:"path"`
		Ref  string `json:"ref"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	repo, err := b.repoOrDefault(args.Repo)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Path) == "" {
		return nil, fmt.Errorf("%w: path is required", ErrInvalidArgs)
	}
	params := map[string]string{"path": args.Path}
	if args.Ref != "" {
		params["ref"] = args.Ref
	}
	payload, err := b.gh.Fetch(ctx, github.ResourceFile, repo, params)
	if err != nil {
		return nil, err
	}
	return marshalResult(payload)
}

func (b builtins) getCommitStatus(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Repo string `json:"repo"`
		SHA  string `json:"sha"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	repo, err := b.repoOrDefault(args.Repo)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.SHA) == "" {
		return nil, fmt.Errorf("%w: sha is required", ErrInvalidArgs)
	}
	payload, err := b.gh.Fetch(ctx, github.ResourceCommitStatus, repo, map[string]string{"sha": args.SHA})
	if err != nil {
		return nil, err
	}
	return marshalResult(payload)
}

func (b builtins) createPullRequest(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Repo  string `json:"repo"`
		Title string `json:"title"`
		Head  string `json:"head"`
		Base  string `json:"base"`
		Body  string `json:"body"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	repo, err := b.repoOrDefault(args.Repo)
	if err != nil {
		return nil, err
	}
	if args.Title == "" || args.Head == "" {
		return nil, fmt.Errorf("%w: title and head are required", ErrInvalidArgs)
	}
	if args.Base == "" {
		args.Base = "main"
	}

	ref, err := b.gh.CreatePull(ctx, repo, args.Title, args.Head, args.Base, args.Body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"number": ref.Number, "url": ref.URL})
}

func (b builtins) submitPRReview(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Repo   string `json:"repo"`
		Number int    `json:"number"`
		Event  string `json:"event"`
		Body   string `json:"body"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	repo, err := b.repoOrDefault(args.Repo)
	if err != nil {
		return nil, err
	}
	if args.Number <= 0 {
		return nil, fmt.Errorf("%w: number must be positive", ErrInvalidArgs)
	}
	event := strings.ToUpper(strings.TrimSpace(args.Event))
	switch event {
	case "APPROVE", "REQUEST_CHANGES", "COMMENT":
	default:
		return nil, fmt.Errorf("%w: event %q", ErrInvalidArgs, args.Event)
	}

	if err := b.gh.SubmitReview(ctx, repo, args.Number, event, args.Body); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"submitted": true, "event": event, "number": args.Number})
}

func (b builtins) triggerDeploy(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Repo     string `json:"repo"`
		Workflow string `json:"workflow"`
		Ref      string `json:"ref"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	repo, err := b.repoOrDefault(args.Repo)
	if err != nil {
		return nil, err
	}
	workflow := args.Workflow
	if workflow == "" {
		workflow = b.cfg.DeployWorkflow
	}
	ref := args.Ref
	if ref == "" {
		ref = b.cfg.DeployRef
	}

	if err := b.gh.DispatchWorkflow(ctx, repo, workflow, ref); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"dispatched": true, "workflow": workflow, "ref": ref})
}

func (b builtins) rememberFact(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error) {
	var args struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Key) == "" || strings.TrimSpace(args.Value) == "" {
		return nil, fmt.Errorf("%w: key and value are required", ErrInvalidArgs)
	}

	scope := MemoryScopeFrom(ctx)
	fact := store.Fact{
		Scope:     scope,
		Key:       args.Key,
		Value:     args.Value,
		UpdatedAt: time.Now().UTC(),
	}
	if err := b.store.UpsertFact(ctx, fact); err != nil {
		return nil, err
	}
	return json.Marshal(map[string]any{"remembered": true, "key": args.Key})
}

func (b builtins) recallFacts(ctx context.Context, rawArgs json.RawMessage) (json.RawMessage, error) {
	var args struct{}
	if err := decodeArgs(rawArgs, &args); err != nil {
		return nil, err
	}

	scope := MemoryScopeFrom(ctx)
	facts, err := b.store.ListFacts(ctx, scope)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]string, 0, len(facts))
	for _, fact := range facts {
		out = append(out, map[string]string{"key": fact.Key, "value": fact.Value})
	}
	return json.Marshal(map[string]any{"scope": scope, "facts": out})
}

func marshalResult(payload github.Payload) (json.RawMessage, error) {
	out, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return out, nil
}

func objectSchema(props string) json.RawMessage {
	return json.RawMessage(fmt.Sprintf(`{"type":"object","properties":{%s}}`, props))
}
