package models

import (
	"time"
)

// DeploymentStatus is the state of a deployment run.
type DeploymentStatus string

const (
	DeploymentPending    DeploymentStatus = "pending"
	DeploymentProcessing DeploymentStatus = "processing"
	DeploymentCompleted  DeploymentStatus = "completed"
	DeploymentFailed     DeploymentStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed.
func (s DeploymentStatus) IsTerminal() bool {
	return s == DeploymentCompleted || s == DeploymentFailed
}

// CommitInfo is the commit metadata extracted from a trigger payload.
type CommitInfo struct {
	Hash    *string `json:"commit_hash"`
	Message *string `json:"commit_message"`
	Author  *string `json:"author"`
}

// DeploymentRun is one execution attempt of a deployment for a target.
type DeploymentRun struct {
	ID            string           `json:"id"`
	TargetID      string           `json:"target_id"`
	Status        DeploymentStatus `json:"status"`
	CommitHash    *string          `json:"commit_hash,omitempty"`
	CommitMessage *string          `json:"commit_message,omitempty"`
	Author        *string          `json:"author,omitempty"`
	Output        string           `json:"output,omitempty"`
	ErrorMessage  string           `json:"error_message,omitempty"`
	StartedAt     time.Time        `json:"started_at"`
	CompletedAt   *time.Time       `json:"completed_at,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
}

// NewDeploymentRun creates a run in processing state for the given target.
func NewDeploymentRun(targetID string, commit CommitInfo, now time.Time) *DeploymentRun {
	return &DeploymentRun{
		TargetID:      targetID,
		Status:        DeploymentProcessing,
		CommitHash:    commit.Hash,
		CommitMessage: commit.Message,
		Author:        commit.Author,
		StartedAt:     now,
		CreatedAt:     now,
	}
}

// Duration returns how long the run took, or zero while it is still running.
func (d *DeploymentRun) Duration() time.Duration {
	if d.CompletedAt == nil {
		return 0
	}
	return d.CompletedAt.Sub(d.StartedAt)
}

// ParseDeploymentStatus converts a string to DeploymentStatus.
func ParseDeploymentStatus(s string) DeploymentStatus {
	switch s {
	case "processing":
		return DeploymentProcessing
	case "completed":
		return DeploymentCompleted
	case "failed":
		return DeploymentFailed
	default:
		return DeploymentPending
	}
}
