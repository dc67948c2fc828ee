package deploy

import (
	"context"
	"fmt"
	"log"

	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/queue"
)

const (
	// JobName is the handler name of deployment jobs.
	JobName = "deploy"
	// QueueName is the queue deployment jobs are pushed to.
	QueueName = "deployments"

	jobMaxTries = 1
	jobTimeout  = 600 // seconds
)

// JobCommand is the data carried by a deployment job.
type JobCommand struct {
	TargetID string            `json:"target_id"`
	Commit   models.CommitInfo `json:"commit"`
}

// NewJob builds the payload of a deployment job. Deployments are attempted
// once; a new trigger enqueues a new job.
func NewJob(target *models.Target, commit models.CommitInfo) (*queue.Payload, error) {
	p, err := queue.NewPayload(JobName, JobCommand{TargetID: target.ID, Commit: commit})
	if err != nil {
		return nil, err
	}
	p.MaxTries = jobMaxTries
	p.Timeout = jobTimeout
	p.DisplayName = "Deploy " + target.Name
	return p, nil
}

// Handler returns the queue handler that runs deployment jobs.
func (e *Engine) Handler() queue.Handler {
	return func(ctx context.Context, job *queue.Job) error {
		var cmd JobCommand
		if err := job.Body.Decode(&cmd); err != nil {
			return err
		}

		target, err := e.targets.GetByID(ctx, cmd.TargetID)
		if err != nil {
			return fmt.Errorf("get target: %w", err)
		}
		if target == nil {
			log.Printf("warning: dropping deployment job %s: target %s no longer exists", job.ID, cmd.TargetID)
			return nil
		}
		if !target.IsActive {
			log.Printf("skipping deployment of inactive target %s", target.Name)
			return nil
		}

		run, err := e.Deploy(ctx, target, cmd.Commit)
		if err != nil {
			return err
		}
		log.Printf("deployment %s of target %s finished: %s", run.ID, target.Name, run.Status)
		return nil
	}
}
