// Package models defines domain models for hostdeck.
package models

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"
)

// GitProvider identifies the webhook payload dialect of a target.
type GitProvider string

const (
	GitProviderGitHub GitProvider = "github"
	GitProviderGitLab GitProvider = "gitlab"
)

// Target is a deployable repository/path pair managed by the control plane.
type Target struct {
	ID               string      `json:"id"`
	Name             string      `json:"name"`
	Domain           string      `json:"domain,omitempty"`
	GitProvider      GitProvider `json:"git_provider"`
	RepositoryURL    string      `json:"repository_url"`
	Branch           string      `json:"branch"`
	LocalPath        string      `json:"local_path"`
	DeployUser       string      `json:"deploy_user,omitempty"`
	SecretToken      string      `json:"-"` // Never expose in JSON
	IsActive         bool        `json:"is_active"`
	PreDeployScript  string      `json:"pre_deploy_script,omitempty"`
	PostDeployScript string      `json:"post_deploy_script,omitempty"`
	LastDeployedAt   *time.Time  `json:"last_deployed_at,omitempty"`
	CreatedAt        time.Time   `json:"created_at"`
	UpdatedAt        time.Time   `json:"updated_at"`
}

// NewTarget creates a new active Target with initialized timestamps.
func NewTarget(name, repositoryURL, branch, localPath string) *Target {
	now := time.Now()
	if branch == "" {
		branch = "main"
	}
	return &Target{
		Name:          name,
		GitProvider:   GitProviderGitHub,
		RepositoryURL: repositoryURL,
		Branch:        branch,
		LocalPath:     localPath,
		IsActive:      true,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Validate checks the fields a deployment depends on.
func (t *Target) Validate() error {
	if strings.TrimSpace(t.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if strings.TrimSpace(t.RepositoryURL) == "" {
		return fmt.Errorf("repository_url is required")
	}
	if strings.TrimSpace(t.Branch) == "" {
		return fmt.Errorf("branch is required")
	}
	if strings.ContainsAny(t.Branch, " \t\n") || strings.HasPrefix(t.Branch, "-") {
		return fmt.Errorf("invalid branch name: %q", t.Branch)
	}
	if t.LocalPath == "" || !filepath.IsAbs(t.LocalPath) {
		return fmt.Errorf("local_path must be an absolute path")
	}
	if filepath.Clean(t.LocalPath) == "/" {
		return fmt.Errorf("local_path must not be the filesystem root")
	}
	if t.GitProvider != GitProviderGitHub && t.GitProvider != GitProviderGitLab {
		return fmt.Errorf("git_provider must be 'github' or 'gitlab'")
	}
	return nil
}

// RunsAs reports whether commands for this target must switch to another user.
func (t *Target) RunsAs(currentUser string) bool {
	return t.DeployUser != "" && t.DeployUser != currentUser
}

// ParseGitProvider converts a string to GitProvider.
func ParseGitProvider(s string) GitProvider {
	switch strings.ToLower(s) {
	case "gitlab":
		return GitProviderGitLab
	default:
		return GitProviderGitHub
	}
}
