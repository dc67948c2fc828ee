package deploy

import (
	"testing"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

func deref(p *string) string {
	if p == nil {
		return "<nil>"
	}
	return *p
}

func TestParseGitHubPayload(t *testing.T) {
	tests := []struct {
		name                  string
		body                  string
		hash, message, author string
	}{
		{
			name: "full push",
			body: `{"ref":"refs/heads/main","after":"a1b2c3","head_commit":{"id":"a1b2c3","message":"Fix checkout","author":{"name":"Ada","email":"ada@example.com"}}}`,
			hash: "a1b2c3", message: "Fix checkout", author: "Ada",
		},
		{
			name: "no head commit",
			body: `{"ref":"refs/heads/main","after":"0000000000000000000000000000000000000000"}`,
			hash: "0000000000000000000000000000000000000000", message: "<nil>", author: "<nil>",
		},
		{
			name: "empty object",
			body: `{}`,
			hash: "<nil>", message: "<nil>", author: "<nil>",
		},
		{
			name: "malformed",
			body: `{"after":`,
			hash: "<nil>", message: "<nil>", author: "<nil>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseGitHubPayload([]byte(tt.body))
			if got := deref(info.Hash); got != tt.hash {
				t.Errorf("hash = %q, want %q", got, tt.hash)
			}
			if got := deref(info.Message); got != tt.message {
				t.Errorf("message = %q, want %q", got, tt.message)
			}
			if got := deref(info.Author); got != tt.author {
				t.Errorf("author = %q, want %q", got, tt.author)
			}
		})
	}
}

func TestParseGitLabPayload(t *testing.T) {
	tests := []struct {
		name                  string
		body                  string
		hash, message, author string
	}{
		{
			name: "checkout sha and commit author",
			body: `{"after":"aaa","checkout_sha":"bbb","user_name":"Pusher","commits":[{"message":"Add feature","author":{"name":"Grace"}}]}`,
			hash: "bbb", message: "Add feature", author: "Grace",
		},
		{
			name: "falls back to after and user name",
			body: `{"after":"aaa","user_name":"Pusher","commits":[]}`,
			hash: "aaa", message: "<nil>", author: "Pusher",
		},
		{
			name: "commit without author",
			body: `{"checkout_sha":"ccc","user_name":"Pusher","commits":[{"message":"wip"}]}`,
			hash: "ccc", message: "wip", author: "Pusher",
		},
		{
			name: "malformed",
			body: `not json`,
			hash: "<nil>", message: "<nil>", author: "<nil>",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			info := ParseGitLabPayload([]byte(tt.body))
			if got := deref(info.Hash); got != tt.hash {
				t.Errorf("hash = %q, want %q", got, tt.hash)
			}
			if got := deref(info.Message); got != tt.message {
				t.Errorf("message = %q, want %q", got, tt.message)
			}
			if got := deref(info.Author); got != tt.author {
				t.Errorf("author = %q, want %q", got, tt.author)
			}
		})
	}
}

func TestParsePayload_Provider(t *testing.T) {
	body := []byte(`{"after":"x","checkout_sha":"y"}`)
	if got := deref(ParsePayload(models.GitProviderGitHub, body).Hash); got != "x" {
		t.Errorf("github hash = %q, want x", got)
	}
	if got := deref(ParsePayload(models.GitProviderGitLab, body).Hash); got != "y" {
		t.Errorf("gitlab hash = %q, want y", got)
	}
}

func TestPushedBranch(t *testing.T) {
	tests := []struct {
		body       string
		want       string
		wantHasRef bool
	}{
		{`{"ref":"refs/heads/main"}`, "main", true},
		{`{"ref":"refs/heads/feature/login"}`, "feature/login", true},
		{`{"ref":"refs/tags/v1.0.0"}`, "", true},
		{`{}`, "", false},
		{`nope`, "", false},
	}
	for _, tt := range tests {
		got, hasRef := PushedBranch([]byte(tt.body))
		if got != tt.want || hasRef != tt.wantHasRef {
			t.Errorf("PushedBranch(%s) = %q, %v, want %q, %v", tt.body, got, hasRef, tt.want, tt.wantHasRef)
		}
	}
}
