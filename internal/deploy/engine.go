// Package deploy reconciles a target's working copy with its repository and
// runs the target's hooks.
package deploy

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/user"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-git/v5"

	"github.com/good-yellow-bee/hostdeck/internal/metrics"
	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/storage"
	"github.com/good-yellow-bee/hostdeck/internal/vault"
)

// DefaultHookTimeout bounds each pre/post deploy script.
const DefaultHookTimeout = 300 * time.Second

// Credentials loans deploy keys for the duration of a run.
type Credentials interface {
	Loan(ctx context.Context, targetID, owner string) (*vault.Loan, error)
	Revoke(loan *vault.Loan) error
}

// Config holds engine settings and collaborators. Nil collaborators get defaults.
type Config struct {
	Runner      Runner
	Locker      Locker
	Audit       AuditLogger
	HookTimeout time.Duration
	// CurrentUser is the account the process runs as. Detected when empty.
	CurrentUser string
}

// Engine executes deployments.
type Engine struct {
	runs        storage.DeploymentRepository
	targets     storage.TargetRepository
	creds       Credentials
	runner      Runner
	locker      Locker
	audit       AuditLogger
	hookTimeout time.Duration
	currentUser string
	now         func() time.Time
	resolveHead func(path string) (string, error)
}

// NewEngine creates an Engine. creds may be nil when no target uses deploy keys.
func NewEngine(runs storage.DeploymentRepository, targets storage.TargetRepository, creds Credentials, cfg Config) *Engine {
	if cfg.Runner == nil {
		cfg.Runner = ExecRunner{}
	}
	if cfg.Locker == nil {
		cfg.Locker = NewLocalLocker()
	}
	if cfg.Audit == nil {
		cfg.Audit = NopAuditLogger{}
	}
	if cfg.HookTimeout <= 0 {
		cfg.HookTimeout = DefaultHookTimeout
	}
	if cfg.CurrentUser == "" {
		if u, err := user.Current(); err == nil {
			cfg.CurrentUser = u.Username
		}
	}
	return &Engine{
		runs:        runs,
		targets:     targets,
		creds:       creds,
		runner:      cfg.Runner,
		locker:      cfg.Locker,
		audit:       cfg.Audit,
		hookTimeout: cfg.HookTimeout,
		currentUser: cfg.CurrentUser,
		now:         time.Now,
		resolveHead: resolveHead,
	}
}

// transcript collects the human readable output of a run.
type transcript []string

func (t *transcript) add(s string) {
	*t = append(*t, s)
}

// addOutput appends command output, skipping empty output.
func (t *transcript) addOutput(s string) {
	if s = strings.TrimRight(s, "\n"); s != "" {
		*t = append(*t, s)
	}
}

func (t transcript) String() string {
	return strings.Join(t, "\n")
}

// Deploy runs one deployment of target and records it. The returned error is
// non-nil only when the run record cannot be created or finalized; a failed
// deployment is reported through the run's status.
func (e *Engine) Deploy(ctx context.Context, target *models.Target, commit models.CommitInfo) (*models.DeploymentRun, error) {
	started := e.now()
	run := models.NewDeploymentRun(target.ID, commit, started)
	if err := e.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("create deployment run: %w", err)
	}
	e.audit.LogStart(target.ID, run.ID, target.DeployUser)

	var out transcript
	runErr := e.execute(ctx, target, run, &out)

	// The job context may already be done; the record must still be written.
	persistCtx := context.WithoutCancel(ctx)
	finished := e.now()

	if runErr == nil {
		out.add("\n✓ Deployment completed successfully!")
		run.Status = models.DeploymentCompleted
		if run.CommitHash == nil {
			if hash, err := e.resolveHead(target.LocalPath); err == nil {
				run.CommitHash = &hash
			}
		}
	} else {
		log.Printf("error: deployment %s of target %s failed: %v", run.ID, target.Name, runErr)
		run.Status = models.DeploymentFailed
		run.ErrorMessage = runErr.Error()
	}
	run.Output = out.String()
	run.CompletedAt = &finished

	if err := e.runs.AttachOutput(persistCtx, run.ID, run.Output); err != nil {
		log.Printf("warning: attach output to deployment %s: %v", run.ID, err)
	}
	if err := e.runs.Finalize(persistCtx, run); err != nil {
		return run, fmt.Errorf("finalize deployment run: %w", err)
	}

	if run.Status == models.DeploymentCompleted {
		if err := e.targets.MarkDeployed(persistCtx, target.ID, finished); err != nil {
			log.Printf("warning: mark target %s deployed: %v", target.ID, err)
		}
	}

	duration := finished.Sub(started)
	metrics.DeploymentsTotal.WithLabelValues(string(run.Status)).Inc()
	metrics.DeploymentDuration.Observe(duration.Seconds())
	e.audit.LogFinish(target.ID, run.ID, string(run.Status), duration, runErr)

	return run, nil
}

// execute holds the per-target lock and the credential loan around the
// reconcile and hook steps.
func (e *Engine) execute(ctx context.Context, target *models.Target, run *models.DeploymentRun, out *transcript) error {
	unlock, err := e.locker.Lock(ctx, LockKey(target.ID))
	if err != nil {
		return fmt.Errorf("Could not acquire deployment lock: %w", err)
	}
	defer unlock()

	var env []string
	if e.creds != nil {
		owner := ""
		if target.RunsAs(e.currentUser) {
			owner = target.DeployUser
		}
		loan, err := e.creds.Loan(ctx, target.ID, owner)
		switch {
		case errors.Is(err, vault.ErrNoCredential):
		case err != nil:
			log.Printf("warning: loan deploy key for target %s: %v", target.ID, err)
		default:
			env = loan.Env
			defer func() {
				if err := e.creds.Revoke(loan); err != nil {
					log.Printf("warning: revoke deploy key for target %s: %v", target.ID, err)
				}
			}()
		}
	}

	if target.DeployUser != "" {
		out.add(fmt.Sprintf("Running deployment as user: %s\n", target.DeployUser))
	}

	if err := e.reconcile(ctx, target, run, env, out); err != nil {
		return err
	}

	e.runHook(ctx, target, run, "Pre-deploy", target.PreDeployScript, out)
	e.runHook(ctx, target, run, "Post-deploy", target.PostDeployScript, out)
	return nil
}

// reconcile brings LocalPath to the tip of the target branch.
func (e *Engine) reconcile(ctx context.Context, target *models.Target, run *models.DeploymentRun, env []string, out *transcript) error {
	path := target.LocalPath
	branch := target.Branch

	info, err := os.Stat(path)
	exists := err == nil && info.IsDir()
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("Failed to inspect %s: %v", path, err)
	}
	if err == nil && !info.IsDir() {
		return fmt.Errorf("Path %s exists but is not a directory", path)
	}

	if exists && !isRepository(path) {
		empty, err := isEmptyDir(path)
		if err != nil {
			return fmt.Errorf("Failed to inspect %s: %v", path, err)
		}
		if !empty {
			return fmt.Errorf("Directory %s exists but is not a git repository and contains files. Please remove it manually.", path)
		}
		out.add("Removing empty directory: " + path)
		if err := os.Remove(path); err != nil {
			return fmt.Errorf("Failed to remove directory: %v", err)
		}
		exists = false
	}

	if !exists {
		out.add("Cloning repository...")
		res, err := e.run(ctx, target, run, Command{
			Name: "git",
			Args: []string{"clone", "-b", branch, target.RepositoryURL, path},
			Env:  env,
		})
		if res != nil {
			out.addOutput(res.Stdout)
		}
		if err != nil || res.Failed() {
			return fmt.Errorf("Git clone failed: %s", failureText(res, err))
		}
		return nil
	}

	out.add("Pulling latest changes...")
	res, err := e.run(ctx, target, run, Command{
		Name: "git",
		Args: []string{"fetch", "origin", branch},
		Dir:  path,
		Env:  env,
	})
	if res != nil {
		out.addOutput(res.Stdout)
	}
	if err != nil || res.Failed() {
		return fmt.Errorf("Git fetch failed: %s", failureText(res, err))
	}

	res, err = e.run(ctx, target, run, Command{
		Name: "git",
		Args: []string{"reset", "--hard", "origin/" + branch},
		Dir:  path,
	})
	if res != nil {
		out.addOutput(res.Stdout)
	}
	if err != nil || res.Failed() {
		return fmt.Errorf("Git reset failed: %s", failureText(res, err))
	}
	return nil
}

// runHook runs an optional script. Failures are recorded in the transcript only.
func (e *Engine) runHook(ctx context.Context, target *models.Target, run *models.DeploymentRun, label, script string, out *transcript) {
	if strings.TrimSpace(script) == "" {
		return
	}
	out.add(fmt.Sprintf("\nRunning %s script...", strings.ToLower(label)))

	res, err := e.run(ctx, target, run, Command{
		Name:    "bash",
		Args:    []string{"-c", normalizeScript(script)},
		Dir:     target.LocalPath,
		Timeout: e.hookTimeout,
	})
	if res != nil {
		out.addOutput(res.Stdout)
	}
	if err != nil || res.Failed() {
		out.add(fmt.Sprintf("Warning: %s script failed: %s", label, failureText(res, err)))
	}
}

// run wraps c for the target's deploy user, executes it and audits it.
func (e *Engine) run(ctx context.Context, target *models.Target, run *models.DeploymentRun, c Command) (*Result, error) {
	c = asUser(c, target.DeployUser, e.currentUser)

	start := time.Now()
	res, err := e.runner.Run(ctx, c)
	ok := err == nil && res != nil && !res.Failed()
	e.audit.LogCommand(target.ID, run.ID, c.String(), ok, time.Since(start))
	return res, err
}

func isRepository(path string) bool {
	_, err := os.Stat(filepath.Join(path, ".git"))
	return err == nil
}

func isEmptyDir(path string) (bool, error) {
	entries, err := os.ReadDir(path)
	if err != nil {
		return false, err
	}
	return len(entries) == 0, nil
}

// resolveHead returns the commit checked out at path.
func resolveHead(path string) (string, error) {
	repo, err := git.PlainOpen(path)
	if err != nil {
		return "", fmt.Errorf("open repository: %w", err)
	}
	ref, err := repo.Head()
	if err != nil {
		return "", fmt.Errorf("resolve HEAD: %w", err)
	}
	return ref.Hash().String(), nil
}
