// Package cmd contains the hostdeckctl commands.
package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/good-yellow-bee/hostdeck/internal/queue"
	"github.com/good-yellow-bee/hostdeck/internal/storage"
)

const (
	envDBPath    = "HOSTDECK_DB_PATH"
	envRedisAddr = "HOSTDECK_REDIS_ADDR"
	envMasterKey = "HOSTDECK_MASTER_KEY"
	envJWTSecret = "HOSTDECK_JWT_SECRET"
)

var (
	dbPath    string
	redisAddr string
	envFile   string
	output    string
)

var rootCmd = &cobra.Command{
	Use:   "hostdeckctl",
	Short: "HostDeck admin CLI",
	Long: `hostdeckctl manages deploy targets, deployment runs and the job queue
of a hostdeck installation. It operates directly on the database file.

Examples:
  # List targets
  hostdeckctl target list

  # Queue a deployment
  hostdeckctl target deploy --name shop

  # Retry every failed job
  hostdeckctl queue retry-all`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("load %s: %w", envFile, err)
		}
		if !cmd.Flags().Changed("db") {
			if v := os.Getenv(envDBPath); v != "" {
				dbPath = v
			}
		}
		if !cmd.Flags().Changed("redis") {
			if v := os.Getenv(envRedisAddr); v != "" {
				redisAddr = v
			}
		}
		return nil
	},
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "./data/hostdeck.db", "database path (env "+envDBPath+")")
	rootCmd.PersistentFlags().StringVar(&redisAddr, "redis", "", "redis address when the queue runs on redis (env "+envRedisAddr+")")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "dotenv file")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "output format (table, json)")
}

// openDatabase opens an existing database and applies pending migrations.
func openDatabase(path string) (*storage.SQLiteStorage, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("database file not found: %s", path)
	}

	store := storage.NewSQLiteStorage(path)
	if err := store.Open(); err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		store.Close()
		return nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, nil
}

// openQueue builds the queue the server uses: redis when an address is
// configured, the jobs table otherwise. The returned closer releases the
// redis client.
func openQueue(store *storage.SQLiteStorage) (*queue.Queue, func()) {
	if redisAddr == "" {
		return queue.New(queue.NewDatabaseBackend(store.Jobs(), 0), store.FailedJobs()), func() {}
	}
	client := redis.NewClient(&redis.Options{Addr: redisAddr})
	return queue.New(queue.NewRedisBackend(client, 0), store.FailedJobs()), func() { client.Close() }
}

// masterKey reads the master key from the environment or prompts for it.
func masterKey() ([]byte, error) {
	if v := os.Getenv(envMasterKey); v != "" {
		return []byte(v), nil
	}
	key, err := promptSecret("Master key: ")
	if err != nil {
		return nil, fmt.Errorf("read master key: %w", err)
	}
	if key == "" {
		return nil, fmt.Errorf("%s is required", envMasterKey)
	}
	return []byte(key), nil
}

// promptSecret prompts for a secret without echoing to the terminal.
func promptSecret(prompt string) (string, error) {
	fmt.Fprint(os.Stderr, prompt)

	fd := int(syscall.Stdin)
	if term.IsTerminal(fd) {
		secret, err := term.ReadPassword(fd)
		fmt.Fprintln(os.Stderr)
		if err != nil {
			return "", err
		}
		return string(secret), nil
	}

	// Piped input
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil && line == "" {
		return "", err
	}
	return strings.TrimSpace(line), nil
}

// printJSON writes v as indented JSON.
func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func jsonOutput() bool {
	return output == "json"
}

// truncate shortens s to maxLen characters.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-2] + ".."
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
