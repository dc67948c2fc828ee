package cmd

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/hostdeck/internal/deploy"
	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/security"
	"github.com/good-yellow-bee/hostdeck/internal/storage"
	"github.com/good-yellow-bee/hostdeck/internal/vault"
)

var (
	targetName     string
	targetID       string
	targetDomain   string
	targetRepo     string
	targetBranch   string
	targetPath     string
	targetProvider string
	targetUser     string
	targetPre      string
	targetPost     string
	targetKeyDir   string
	targetShowKey  bool
	deployCommit   string
	deployMessage  string
)

var targetCmd = &cobra.Command{
	Use:   "target",
	Short: "Deploy target management commands",
	Long: `Commands for managing deploy targets.

A target is a git checkout on this host that is updated when its webhook
fires.

Examples:
  # Create a target
  hostdeckctl target create --name shop --repo git@github.com:acme/shop.git --path /var/www/shop

  # Issue a deploy key
  hostdeckctl target key --name shop`,
}

var targetListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all targets",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		targets, err := store.Targets().List(cmd.Context())
		if err != nil {
			return fmt.Errorf("list targets: %w", err)
		}
		if jsonOutput() {
			return printJSON(targets)
		}
		if len(targets) == 0 {
			fmt.Println("No targets found.")
			return nil
		}

		fmt.Printf("\n%-36s  %-20s  %-8s  %-12s  %-6s  %s\n",
			"ID", "NAME", "PROVIDER", "BRANCH", "ACTIVE", "LAST DEPLOY")
		fmt.Println(strings.Repeat("-", 110))
		for _, t := range targets {
			last := "never"
			if t.LastDeployedAt != nil {
				last = t.LastDeployedAt.Format("2006-01-02 15:04")
			}
			fmt.Printf("%-36s  %-20s  %-8s  %-12s  %-6t  %s\n",
				t.ID, truncate(t.Name, 20), t.GitProvider, truncate(t.Branch, 12), t.IsActive, last)
		}
		fmt.Printf("\nTotal: %d target(s)\n", len(targets))
		return nil
	},
}

var targetCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a target",
	Long: `Create a deploy target. A webhook token is generated and printed once.

Example:
  hostdeckctl target create --name shop --repo https://github.com/acme/shop.git \
    --path /var/www/shop --branch main --user www-data`,
	RunE: func(cmd *cobra.Command, args []string) error {
		target := models.NewTarget(strings.TrimSpace(targetName), strings.TrimSpace(targetRepo),
			strings.TrimSpace(targetBranch), strings.TrimSpace(targetPath))
		target.Domain = strings.TrimSpace(targetDomain)
		target.GitProvider = models.GitProvider(strings.ToLower(strings.TrimSpace(targetProvider)))
		target.DeployUser = strings.TrimSpace(targetUser)
		target.PreDeployScript = targetPre
		target.PostDeployScript = targetPost
		if err := target.Validate(); err != nil {
			return err
		}

		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		existing, err := store.Targets().GetByName(ctx, target.Name)
		if err != nil {
			return fmt.Errorf("check existing target: %w", err)
		}
		if existing != nil {
			return fmt.Errorf("target name already exists: %s", target.Name)
		}

		token, err := security.GenerateToken(32)
		if err != nil {
			return err
		}
		target.SecretToken = token

		if err := store.Targets().Create(ctx, target); err != nil {
			return fmt.Errorf("create target: %w", err)
		}

		fmt.Printf("\nTarget created successfully:\n")
		fmt.Printf("  ID:       %s\n", target.ID)
		fmt.Printf("  Name:     %s\n", target.Name)
		fmt.Printf("  Branch:   %s\n", target.Branch)
		fmt.Printf("  Path:     %s\n", target.LocalPath)
		fmt.Printf("  Webhook:  /webhook/%s/%s\n", target.ID, target.SecretToken)
		return nil
	},
}

var targetShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show target details",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		t, err := resolveTarget(cmd.Context(), store.Targets(), targetName, targetID)
		if err != nil {
			return err
		}
		if jsonOutput() {
			return printJSON(t)
		}

		fmt.Printf("\nTarget: %s\n", t.Name)
		fmt.Printf("  ID:         %s\n", t.ID)
		fmt.Printf("  Domain:     %s\n", t.Domain)
		fmt.Printf("  Provider:   %s\n", t.GitProvider)
		fmt.Printf("  Repository: %s\n", t.RepositoryURL)
		fmt.Printf("  Branch:     %s\n", t.Branch)
		fmt.Printf("  Path:       %s\n", t.LocalPath)
		fmt.Printf("  User:       %s\n", t.DeployUser)
		fmt.Printf("  Active:     %t\n", t.IsActive)
		fmt.Printf("  Webhook:    /webhook/%s/%s\n", t.ID, t.SecretToken)
		if t.PreDeployScript != "" {
			fmt.Printf("  Pre-deploy:\n    %s\n", strings.ReplaceAll(t.PreDeployScript, "\n", "\n    "))
		}
		if t.PostDeployScript != "" {
			fmt.Printf("  Post-deploy:\n    %s\n", strings.ReplaceAll(t.PostDeployScript, "\n", "\n    "))
		}
		return nil
	},
}

var targetToggleCmd = &cobra.Command{
	Use:   "toggle",
	Short: "Enable or disable a target",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		t, err := resolveTarget(ctx, store.Targets(), targetName, targetID)
		if err != nil {
			return err
		}
		if err := store.Targets().SetActive(ctx, t.ID, !t.IsActive); err != nil {
			return fmt.Errorf("toggle target: %w", err)
		}
		state := "enabled"
		if t.IsActive {
			state = "disabled"
		}
		fmt.Printf("Target %s %s.\n", t.Name, state)
		return nil
	},
}

var targetKeyCmd = &cobra.Command{
	Use:   "key",
	Short: "Issue or show a target's deploy key",
	Long: `Generate a new ed25519 deploy key for a target, replacing the previous
one, and print the public half. With --show the current public key is printed
instead.

Requires ` + envMasterKey + ` (prompted when unset).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		t, err := resolveTarget(ctx, store.Targets(), targetName, targetID)
		if err != nil {
			return err
		}

		key, err := masterKey()
		if err != nil {
			return err
		}
		v, err := vault.New(store.Credentials(), vault.Config{KeyDir: targetKeyDir, MasterKey: key})
		if err != nil {
			return err
		}

		var cred *models.Credential
		if targetShowKey {
			cred, err = v.PublicKey(ctx, t.ID)
			if err != nil {
				return fmt.Errorf("get deploy key: %w", err)
			}
			if cred == nil {
				return fmt.Errorf("target %s has no deploy key", t.Name)
			}
		} else {
			cred, err = v.Issue(ctx, t.ID)
			if err != nil {
				return fmt.Errorf("issue deploy key: %w", err)
			}
		}

		if jsonOutput() {
			return printJSON(cred)
		}
		fmt.Printf("Fingerprint: %s\n", cred.Fingerprint)
		fmt.Println(cred.PublicKey)
		return nil
	},
}

var targetDeployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Queue a deployment",
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openDatabase(dbPath)
		if err != nil {
			return err
		}
		defer store.Close()

		ctx := cmd.Context()
		t, err := resolveTarget(ctx, store.Targets(), targetName, targetID)
		if err != nil {
			return err
		}
		if !t.IsActive {
			return fmt.Errorf("target %s is inactive", t.Name)
		}

		var commit models.CommitInfo
		if deployCommit != "" {
			commit.Hash = &deployCommit
		}
		if deployMessage != "" {
			commit.Message = &deployMessage
		}

		q, closeQueue := openQueue(store)
		defer closeQueue()

		p, err := deploy.NewJob(t, commit)
		if err != nil {
			return err
		}
		id, err := q.Enqueue(ctx, deploy.QueueName, p)
		if err != nil {
			return fmt.Errorf("queue deployment: %w", err)
		}
		fmt.Printf("Deployment of %s queued (job %s).\n", t.Name, id)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(targetCmd)
	targetCmd.AddCommand(targetListCmd, targetCreateCmd, targetShowCmd, targetToggleCmd, targetKeyCmd, targetDeployCmd)

	targetCreateCmd.Flags().StringVar(&targetName, "name", "", "target name")
	targetCreateCmd.Flags().StringVar(&targetDomain, "domain", "", "site domain")
	targetCreateCmd.Flags().StringVar(&targetRepo, "repo", "", "repository URL")
	targetCreateCmd.Flags().StringVar(&targetBranch, "branch", "main", "branch to deploy")
	targetCreateCmd.Flags().StringVar(&targetPath, "path", "", "checkout directory")
	targetCreateCmd.Flags().StringVar(&targetProvider, "provider", "github", "git provider: github, gitlab")
	targetCreateCmd.Flags().StringVar(&targetUser, "user", "", "system user that owns the checkout")
	targetCreateCmd.Flags().StringVar(&targetPre, "pre-deploy", "", "script run before updating")
	targetCreateCmd.Flags().StringVar(&targetPost, "post-deploy", "", "script run after updating")

	for _, c := range []*cobra.Command{targetShowCmd, targetToggleCmd, targetKeyCmd, targetDeployCmd} {
		c.Flags().StringVar(&targetName, "name", "", "target name")
		c.Flags().StringVar(&targetID, "id", "", "target ID")
	}
	targetKeyCmd.Flags().StringVar(&targetKeyDir, "key-dir", "", "directory for temporary key files")
	targetKeyCmd.Flags().BoolVar(&targetShowKey, "show", false, "print the current public key instead of issuing a new one")
	targetDeployCmd.Flags().StringVar(&deployCommit, "commit", "", "commit hash recorded on the run")
	targetDeployCmd.Flags().StringVar(&deployMessage, "message", "", "commit message recorded on the run")
}

// resolveTarget finds a target by name or ID (ID takes precedence).
func resolveTarget(ctx context.Context, repo storage.TargetRepository, name, id string) (*models.Target, error) {
	if id == "" && name == "" {
		return nil, fmt.Errorf("specify --name or --id")
	}
	if id != "" {
		t, err := repo.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get target: %w", err)
		}
		if t == nil {
			return nil, fmt.Errorf("target not found: %s", id)
		}
		return t, nil
	}
	t, err := repo.GetByName(ctx, name)
	if err != nil {
		return nil, fmt.Errorf("get target: %w", err)
	}
	if t == nil {
		return nil, fmt.Errorf("target not found: %s", name)
	}
	return t, nil
}
