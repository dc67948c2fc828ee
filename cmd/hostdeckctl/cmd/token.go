package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/good-yellow-bee/hostdeck/internal/api/auth"
)

var (
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint an admin API token",
	Long: `Mint a bearer token for the admin API, signed with ` + envJWTSecret + `.

Example:
  curl -H "Authorization: Bearer $(hostdeckctl token --subject alice)" \
    http://localhost:8080/api/v1/targets`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := os.Getenv(envJWTSecret)
		if secret == "" {
			return fmt.Errorf("%s environment variable is required", envJWTSecret)
		}
		token, err := mintToken([]byte(secret), tokenSubject, tokenTTL)
		if err != nil {
			return err
		}
		fmt.Println(token)
		return nil
	},
}

func mintToken(secret []byte, subject string, ttl time.Duration) (string, error) {
	if ttl <= 0 {
		return "", fmt.Errorf("--ttl must be positive")
	}
	token, err := auth.NewJWTService(secret, ttl).GenerateToken(subject)
	if err != nil {
		return "", fmt.Errorf("generate token: %w", err)
	}
	return token, nil
}

func init() {
	rootCmd.AddCommand(tokenCmd)

	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "admin", "operator name recorded in the token")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 12*time.Hour, "token lifetime")
}
