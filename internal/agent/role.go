package agent

import (
	"fmt"
	"strings"

	"github.com/samueltauil/devdash/internal/policy"
)

// Role is a declarative agent profile. All roles share the same turn loop;
// only the prompt, tool allowlist, memory scope, and confirmation overrides
// differ.
type Role struct {
	Name             string
	SystemPrompt     string
	Tools            []string
	MemoryScope      string
	ConfirmOverrides map[string]policy.Override
	// Persistent sessions survive the inactivity janitor.
	Persistent bool
}

func (r Role) Allows(toolName string) bool {
	for _, name := range r.Tools {
		if name == toolName {
			return true
		}
	}
	return false
}

func (r Role) overrideFor(toolName string) policy.Override {
	if r.ConfirmOverrides == nil {
		return policy.OverrideDefault
	}
	return r.ConfirmOverrides[toolName]
}

const (
	RoleCIDiagnosis   = "ci-diagnosis"
	RolePRTriage      = "pr-triage"
	RoleStandup       = "standup"
	RoleDeploy        = "deploy"
	RoleContextKeeper = "context-keeper"
)

// BuiltinRoles returns the agent profiles for the monitored repositories.
func BuiltinRoles(repos []string) map[string]Role {
	repoList := strings.Join(repos, ", ")
	if repoList == "" {
		repoList = "(no repositories configured)"
	}

	roles := []Role{
		{
			Name: RoleCIDiagnosis,
			SystemPrompt: fmt.Sprintf(
				"You diagnose CI failures for these repositories: %s. "+
					"Pull the failing run's job logs, identify the failing step, and explain "+
					"the most likely cause in a few sentences. Suggest a concrete fix when the "+
					"logs support one; say so when they do not.", repoList),
			Tools:       []string{"fetch_ci_logs", "get_commit_status", "read_repo_file"},
			MemoryScope: "ci",
		},
		{
			Name: RolePRTriage,
			SystemPrompt: fmt.Sprintf(
				"You triage open pull requests for these repositories: %s. "+
					"Summarize each PR's intent and size, flag risky diffs, and when asked, "+
					"submit reviews or open follow-up PRs. Never approve a PR you have not "+
					"read the diff of.", repoList),
			Tools:       []string{"get_open_prs", "get_pr_diff", "submit_pr_review", "create_pull_request"},
			MemoryScope: "pr",
		},
		{
			Name: RoleStandup,
			SystemPrompt: fmt.Sprintf(
				"You prepare a short standup briefing covering these repositories: %s. "+
					"Summarize recent commits and merged pull requests, group them by repo, "+
					"and surface anything a team would want to mention. Fold in remembered "+
					"team facts when relevant.", repoList),
			Tools:       []string{"get_repo_activity", "get_open_prs", "recall_facts"},
			MemoryScope: "team",
		},
		{
			Name: RoleDeploy,
			SystemPrompt: fmt.Sprintf(
				"You run deployments for these repositories: %s. "+
					"Before dispatching a deploy, check the commit status and the latest CI "+
					"runs and report what you found. A deploy always needs operator "+
					"confirmation; never present it as already done until it is dispatched.", repoList),
			Tools:       []string{"get_commit_status", "fetch_ci_logs", "trigger_deploy"},
			MemoryScope: "deploy",
			ConfirmOverrides: map[string]policy.Override{
				"trigger_deploy": policy.OverrideRequire,
			},
		},
		{
			Name: RoleContextKeeper,
			SystemPrompt: fmt.Sprintf(
				"You are the team's long-lived context keeper for these repositories: %s. "+
					"Remember durable facts the operator tells you with remember_fact, recall "+
					"them when asked, and answer questions about the team's recent activity.", repoList),
			Tools:       []string{"remember_fact", "recall_facts", "get_repo_activity"},
			MemoryScope: "team",
			Persistent:  true,
		},
	}

	out := make(map[string]Role, len(roles))
	for _, role := range roles {
		out[role.Name] = role
	}
	return out
}
