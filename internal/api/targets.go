package api

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/security"
)

// webhookTokenBytes is the entropy of generated webhook tokens.
const webhookTokenBytes = 32

// TargetResponse is a target plus the path its webhook is served on.
type TargetResponse struct {
	*models.Target
	WebhookPath string `json:"webhook_path"`
}

func targetToResponse(t *models.Target) TargetResponse {
	return TargetResponse{Target: t, WebhookPath: "/webhook/" + t.ID + "/" + t.SecretToken}
}

// TargetRequest creates or updates a target. On update, nil fields are kept.
type TargetRequest struct {
	Name             *string `json:"name"`
	Domain           *string `json:"domain"`
	GitProvider      *string `json:"git_provider"`
	RepositoryURL    *string `json:"repository_url"`
	Branch           *string `json:"branch"`
	LocalPath        *string `json:"local_path"`
	DeployUser       *string `json:"deploy_user"`
	PreDeployScript  *string `json:"pre_deploy_script"`
	PostDeployScript *string `json:"post_deploy_script"`
	IsActive         *bool   `json:"is_active"`
}

func (req *TargetRequest) apply(t *models.Target) {
	set := func(dst *string, src *string) {
		if src != nil {
			*dst = strings.TrimSpace(*src)
		}
	}
	set(&t.Name, req.Name)
	set(&t.Domain, req.Domain)
	set(&t.RepositoryURL, req.RepositoryURL)
	set(&t.Branch, req.Branch)
	set(&t.LocalPath, req.LocalPath)
	set(&t.DeployUser, req.DeployUser)
	if req.GitProvider != nil {
		t.GitProvider = models.GitProvider(strings.ToLower(strings.TrimSpace(*req.GitProvider)))
	}
	// Scripts keep their whitespace.
	if req.PreDeployScript != nil {
		t.PreDeployScript = *req.PreDeployScript
	}
	if req.PostDeployScript != nil {
		t.PostDeployScript = *req.PostDeployScript
	}
	if req.IsActive != nil {
		t.IsActive = *req.IsActive
	}
}

// loadTarget resolves the {id} URL parameter, writing the error response
// itself when it returns nil.
func (s *Server) loadTarget(w http.ResponseWriter, r *http.Request) *models.Target {
	target, err := s.storage.Targets().GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, "get target", err)
		return nil
	}
	if target == nil {
		JSONError(w, NewNotFound("target not found"))
		return nil
	}
	return target
}

// nameTaken reports whether another target already uses name.
func (s *Server) nameTaken(r *http.Request, name, exceptID string) (bool, error) {
	existing, err := s.storage.Targets().GetByName(r.Context(), name)
	if err != nil {
		return false, err
	}
	return existing != nil && existing.ID != exceptID, nil
}

func (s *Server) listTargets(w http.ResponseWriter, r *http.Request) {
	targets, err := s.storage.Targets().List(r.Context())
	if err != nil {
		internalError(w, "list targets", err)
		return
	}
	resp := make([]TargetResponse, len(targets))
	for i, t := range targets {
		resp[i] = targetToResponse(t)
	}
	OK(w, resp)
}

func (s *Server) createTarget(w http.ResponseWriter, r *http.Request) {
	var req TargetRequest
	if err := decodeBody(r, &req); err != nil {
		JSONError(w, ErrInvalidBody)
		return
	}

	target := models.NewTarget("", "", "", "")
	req.apply(target)
	if err := target.Validate(); err != nil {
		JSONError(w, NewValidationError(err.Error()))
		return
	}

	taken, err := s.nameTaken(r, target.Name, "")
	if err != nil {
		internalError(w, "create target: check name", err)
		return
	}
	if taken {
		JSONError(w, NewConflict("target name already exists"))
		return
	}

	token, err := security.GenerateToken(webhookTokenBytes)
	if err != nil {
		internalError(w, "create target", err)
		return
	}
	target.SecretToken = token

	if err := s.storage.Targets().Create(r.Context(), target); err != nil {
		internalError(w, "create target", err)
		return
	}
	logAdmin(r, "target created: %s (%s)", target.Name, target.ID)
	Created(w, targetToResponse(target))
}

func (s *Server) getTarget(w http.ResponseWriter, r *http.Request) {
	target := s.loadTarget(w, r)
	if target == nil {
		return
	}
	OK(w, targetToResponse(target))
}

func (s *Server) updateTarget(w http.ResponseWriter, r *http.Request) {
	target := s.loadTarget(w, r)
	if target == nil {
		return
	}

	var req TargetRequest
	if err := decodeBody(r, &req); err != nil {
		JSONError(w, ErrInvalidBody)
		return
	}
	req.apply(target)
	if err := target.Validate(); err != nil {
		JSONError(w, NewValidationError(err.Error()))
		return
	}

	taken, err := s.nameTaken(r, target.Name, target.ID)
	if err != nil {
		internalError(w, "update target: check name", err)
		return
	}
	if taken {
		JSONError(w, NewConflict("target name already exists"))
		return
	}

	target.UpdatedAt = s.now()
	if err := s.storage.Targets().Update(r.Context(), target); err != nil {
		internalError(w, "update target", err)
		return
	}
	logAdmin(r, "target updated: %s (%s)", target.Name, target.ID)
	OK(w, targetToResponse(target))
}

func (s *Server) deleteTarget(w http.ResponseWriter, r *http.Request) {
	target := s.loadTarget(w, r)
	if target == nil {
		return
	}
	if err := s.storage.Targets().Delete(r.Context(), target.ID); err != nil {
		internalError(w, "delete target", err)
		return
	}
	logAdmin(r, "target deleted: %s (%s)", target.Name, target.ID)
	NoContent(w)
}

func (s *Server) toggleTarget(w http.ResponseWriter, r *http.Request) {
	target := s.loadTarget(w, r)
	if target == nil {
		return
	}
	target.IsActive = !target.IsActive
	if err := s.storage.Targets().SetActive(r.Context(), target.ID, target.IsActive); err != nil {
		internalError(w, "toggle target", err)
		return
	}
	logAdmin(r, "target %s active=%t", target.Name, target.IsActive)
	OK(w, targetToResponse(target))
}

func (s *Server) getSSHKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		JSONError(w, errKeysDisabled)
		return
	}
	target := s.loadTarget(w, r)
	if target == nil {
		return
	}
	cred, err := s.keys.PublicKey(r.Context(), target.ID)
	if err != nil {
		internalError(w, "get deploy key", err)
		return
	}
	if cred == nil {
		JSONError(w, NewNotFound("target has no deploy key"))
		return
	}
	OK(w, cred)
}

// issueSSHKey generates a new deploy key, replacing any previous one. Only
// the public half is returned.
func (s *Server) issueSSHKey(w http.ResponseWriter, r *http.Request) {
	if s.keys == nil {
		JSONError(w, errKeysDisabled)
		return
	}
	target := s.loadTarget(w, r)
	if target == nil {
		return
	}
	cred, err := s.keys.Issue(r.Context(), target.ID)
	if err != nil {
		internalError(w, "issue deploy key", err)
		return
	}
	logAdmin(r, "deploy key issued for %s: %s", target.Name, cred.Fingerprint)
	Created(w, cred)
}

// DeployRequest optionally pins the commit recorded for a manual deployment.
type DeployRequest struct {
	CommitHash    *string `json:"commit_hash"`
	CommitMessage *string `json:"commit_message"`
}

func (s *Server) triggerDeploy(w http.ResponseWriter, r *http.Request) {
	target := s.loadTarget(w, r)
	if target == nil {
		return
	}
	if !target.IsActive {
		JSONError(w, NewConflict("target is inactive"))
		return
	}

	var req DeployRequest
	if err := decodeBody(r, &req); err != nil {
		JSONError(w, ErrInvalidBody)
		return
	}
	commit := models.CommitInfo{Hash: req.CommitHash, Message: req.CommitMessage}
	if subject := adminSubject(r); subject != "" {
		commit.Author = &subject
	}

	jobID, err := s.enqueueDeploy(r, target, commit)
	if err != nil {
		internalError(w, "trigger deployment", err)
		return
	}
	logAdmin(r, "deployment of %s queued manually (job %s)", target.Name, jobID)
	Accepted(w, WebhookResponse{Message: "deployment queued", JobID: jobID})
}

func (s *Server) listTargetRuns(w http.ResponseWriter, r *http.Request) {
	target := s.loadTarget(w, r)
	if target == nil {
		return
	}
	runs, err := s.storage.Deployments().ListByTarget(r.Context(), target.ID, limitParam(r))
	if err != nil {
		internalError(w, "list deployments", err)
		return
	}
	OK(w, ListResponse{Items: runs, Count: len(runs)})
}

func (s *Server) listDeployments(w http.ResponseWriter, r *http.Request) {
	runs, err := s.storage.Deployments().List(r.Context(), limitParam(r))
	if err != nil {
		internalError(w, "list deployments", err)
		return
	}
	OK(w, ListResponse{Items: runs, Count: len(runs)})
}

func (s *Server) getDeployment(w http.ResponseWriter, r *http.Request) {
	run, err := s.storage.Deployments().GetByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		internalError(w, "get deployment", err)
		return
	}
	if run == nil {
		JSONError(w, NewNotFound("deployment not found"))
		return
	}
	OK(w, run)
}
