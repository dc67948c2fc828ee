// Package api provides the webhook intake and the admin HTTP API.
package api

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/good-yellow-bee/hostdeck/internal/api/auth"
	"github.com/good-yellow-bee/hostdeck/internal/api/health"
	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/queue"
	"github.com/good-yellow-bee/hostdeck/internal/storage"
)

// Config contains HTTP API server configuration.
type Config struct {
	Address   string
	JWTSecret []byte
	TokenTTL  time.Duration
	// WebhookRatePerMinute bounds deliveries per target.
	WebhookRatePerMinute int
	// AdminRatePerMinute bounds admin requests per client IP.
	AdminRatePerMinute int
	TLSCertFile        string
	TLSKeyFile         string
	Verbose            bool
}

// SetDefaults applies default values for missing configuration.
func (c *Config) SetDefaults() {
	if c.Address == "" {
		c.Address = ":8080"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 12 * time.Hour
	}
	if c.WebhookRatePerMinute == 0 {
		c.WebhookRatePerMinute = 30
	}
	if c.AdminRatePerMinute == 0 {
		c.AdminRatePerMinute = 300
	}
}

// TLSEnabled reports whether both certificate and key are configured.
func (c *Config) TLSEnabled() bool {
	return c.TLSCertFile != "" && c.TLSKeyFile != ""
}

// JobQueue is the queue surface the API drives.
type JobQueue interface {
	Enqueue(ctx context.Context, queueName string, p *queue.Payload) (string, error)
	Statistics(ctx context.Context) queue.Stats
	ListPending(ctx context.Context, limit int) ([]*models.QueuedJob, error)
	PendingDetails(ctx context.Context, id string) (*models.QueuedJob, error)
	DeletePending(ctx context.Context, id string) (bool, error)
	ListFailed(ctx context.Context, limit int) ([]*models.FailedJob, error)
	FailedDetails(ctx context.Context, id string) (*models.FailedJob, error)
	DeleteFailed(ctx context.Context, id string) (bool, error)
	Retry(ctx context.Context, id string) (bool, error)
	RetryAll(ctx context.Context) (int, error)
	ClearFailed(ctx context.Context) (int64, error)
}

// KeyIssuer manages target deploy keys.
type KeyIssuer interface {
	Issue(ctx context.Context, targetID string) (*models.Credential, error)
	PublicKey(ctx context.Context, targetID string) (*models.Credential, error)
}

// Server is the HTTP API server.
type Server struct {
	config        *Config
	storage       storage.Storage
	queue         JobQueue
	keys          KeyIssuer
	jwt           *auth.JWTService
	server        *http.Server
	healthHandler *health.Handler
	now           func() time.Time
}

// New creates a new API server. keys may be nil, which disables the deploy
// key endpoints.
func New(cfg *Config, store storage.Storage, q JobQueue, keys KeyIssuer) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config is required")
	}
	if store == nil {
		return nil, fmt.Errorf("storage is required")
	}
	if q == nil {
		return nil, fmt.Errorf("queue is required")
	}
	if len(cfg.JWTSecret) == 0 {
		return nil, fmt.Errorf("JWT secret is required")
	}

	cfg.SetDefaults()

	s := &Server{
		config:        cfg,
		storage:       store,
		queue:         q,
		keys:          keys,
		jwt:           auth.NewJWTService(cfg.JWTSecret, cfg.TokenTTL),
		healthHandler: health.NewHandler(),
		now:           time.Now,
	}

	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.setupRouter(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	if cfg.TLSEnabled() {
		s.server.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}

	return s, nil
}

// Run starts the HTTP server and blocks until context is canceled.
func (s *Server) Run(ctx context.Context) error {
	errChan := make(chan error, 1)

	go func() {
		log.Printf("HTTP API listening on %s", s.config.Address)
		var err error
		if s.config.TLSEnabled() {
			err = s.server.ListenAndServeTLS(s.config.TLSCertFile, s.config.TLSKeyFile)
		} else {
			err = s.server.ListenAndServe()
		}
		if err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Printf("shutting down HTTP API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.server.Shutdown(shutdownCtx)
	case err := <-errChan:
		return err
	}
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.server.Handler
}

// Address returns the configured listen address.
func (s *Server) Address() string {
	return s.config.Address
}

// RegisterHealthChecker adds a health checker to the server.
func (s *Server) RegisterHealthChecker(c health.Checker) {
	s.healthHandler.RegisterChecker(c)
}
