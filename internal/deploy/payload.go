package deploy

import (
	"encoding/json"
	"strings"

	"github.com/google/go-github/v57/github"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

// ParseGitHubPayload extracts commit metadata from a GitHub push event.
// Missing fields stay nil and malformed JSON yields an empty CommitInfo.
func ParseGitHubPayload(body []byte) models.CommitInfo {
	var event github.PushEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return models.CommitInfo{}
	}

	info := models.CommitInfo{Hash: event.After}
	if hc := event.HeadCommit; hc != nil {
		info.Message = hc.Message
		if hc.Author != nil {
			info.Author = hc.Author.Name
		}
	}
	return info
}

type gitlabPush struct {
	After       *string `json:"after"`
	CheckoutSHA *string `json:"checkout_sha"`
	UserName    *string `json:"user_name"`
	Commits     []struct {
		Message *string `json:"message"`
		Author  *struct {
			Name *string `json:"name"`
		} `json:"author"`
	} `json:"commits"`
}

// ParseGitLabPayload extracts commit metadata from a GitLab push hook.
// checkout_sha falls back to after and the first commit author falls back
// to user_name.
func ParseGitLabPayload(body []byte) models.CommitInfo {
	var push gitlabPush
	if err := json.Unmarshal(body, &push); err != nil {
		return models.CommitInfo{}
	}

	info := models.CommitInfo{Hash: push.CheckoutSHA}
	if info.Hash == nil {
		info.Hash = push.After
	}
	if len(push.Commits) > 0 {
		first := push.Commits[0]
		info.Message = first.Message
		if first.Author != nil {
			info.Author = first.Author.Name
		}
	}
	if info.Author == nil {
		info.Author = push.UserName
	}
	return info
}

// ParsePayload dispatches on the provider.
func ParsePayload(provider models.GitProvider, body []byte) models.CommitInfo {
	if provider == models.GitProviderGitLab {
		return ParseGitLabPayload(body)
	}
	return ParseGitHubPayload(body)
}

// PushedBranch returns the branch a push event targets. hasRef reports
// whether the payload names any ref at all; tag pushes have a ref but no
// branch.
func PushedBranch(body []byte) (branch string, hasRef bool) {
	var push struct {
		Ref string `json:"ref"`
	}
	if err := json.Unmarshal(body, &push); err != nil || push.Ref == "" {
		return "", false
	}
	name, ok := strings.CutPrefix(push.Ref, "refs/heads/")
	if !ok {
		return "", true
	}
	return name, true
}
