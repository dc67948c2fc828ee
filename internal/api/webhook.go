package api

import (
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/go-github/v57/github"

	"github.com/good-yellow-bee/hostdeck/internal/deploy"
	"github.com/good-yellow-bee/hostdeck/internal/metrics"
	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/security"
)

const (
	maxWebhookBytes = 5 << 20

	signatureHeader   = "X-Hub-Signature-256"
	gitlabTokenHeader = "X-Gitlab-Token"
)

// WebhookResponse acknowledges a webhook delivery.
type WebhookResponse struct {
	Message string `json:"message"`
	JobID   string `json:"job_id,omitempty"`
}

// handleWebhook accepts a push notification for one target and queues a
// deployment when it concerns the target's branch.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := chi.URLParam(r, "id")

	target, err := s.storage.Targets().GetByID(ctx, id)
	if err != nil {
		internalError(w, "webhook: get target", err)
		return
	}
	if target == nil {
		metrics.WebhooksTotal.WithLabelValues("unknown", "rejected").Inc()
		JSONError(w, NewNotFound("target not found"))
		return
	}

	provider := string(target.GitProvider)
	reject := func(reason string) {
		log.Printf("warning: webhook for target %s rejected from %s: %s", target.Name, r.RemoteAddr, reason)
		metrics.WebhooksTotal.WithLabelValues(provider, "rejected").Inc()
		JSONError(w, ErrForbidden)
	}
	ignore := func(message string) {
		metrics.WebhooksTotal.WithLabelValues(provider, "ignored").Inc()
		OK(w, WebhookResponse{Message: message})
	}

	if !target.IsActive {
		reject("target is inactive")
		return
	}
	if !security.TokensEqual(chi.URLParam(r, "token"), target.SecretToken) {
		reject("invalid token")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBytes))
	if err != nil {
		JSONError(w, NewBadRequest("could not read request body"))
		return
	}

	switch event := github.WebHookType(r); {
	case event == "ping":
		ignore("pong")
		return
	case event != "" && event != "push":
		ignore("event " + event + " ignored")
		return
	}

	if sig := r.Header.Get(signatureHeader); sig != "" {
		if err := github.ValidateSignature(sig, body, []byte(target.SecretToken)); err != nil {
			reject("invalid signature")
			return
		}
	}
	if tok := r.Header.Get(gitlabTokenHeader); tok != "" && !security.TokensEqual(tok, target.SecretToken) {
		reject("invalid gitlab token")
		return
	}

	if branch, hasRef := deploy.PushedBranch(body); hasRef && branch != target.Branch {
		ignore("push to another branch ignored")
		return
	}

	jobID, err := s.enqueueDeploy(r, target, deploy.ParsePayload(target.GitProvider, body))
	if err != nil {
		internalError(w, "webhook: enqueue deployment", err)
		return
	}
	metrics.WebhooksTotal.WithLabelValues(provider, "queued").Inc()
	log.Printf("deployment of %s queued by webhook (job %s)", target.Name, jobID)
	Accepted(w, WebhookResponse{Message: "deployment queued", JobID: jobID})
}

func (s *Server) enqueueDeploy(r *http.Request, target *models.Target, commit models.CommitInfo) (string, error) {
	p, err := deploy.NewJob(target, commit)
	if err != nil {
		return "", err
	}
	return s.queue.Enqueue(r.Context(), deploy.QueueName, p)
}
