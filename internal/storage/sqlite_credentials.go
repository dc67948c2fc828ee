package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/google/uuid"

	"github.com/good-yellow-bee/hostdeck/internal/models"
)

type sqliteCredentialRepo struct {
	db *sql.DB
}

func (r *sqliteCredentialRepo) Replace(ctx context.Context, cred *models.Credential) error {
	if cred.ID == "" {
		cred.ID = uuid.New().String()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, "DELETE FROM credentials WHERE target_id = ?", cred.TargetID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO credentials (id, target_id, key_type, public_key, fingerprint,
			private_key_encrypted, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`,
		cred.ID, cred.TargetID, string(cred.KeyType), cred.PublicKey, cred.Fingerprint,
		cred.PrivateKeyEncrypted, cred.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert credential: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit credential: %w", err)
	}
	return nil
}

func (r *sqliteCredentialRepo) GetByTarget(ctx context.Context, targetID string) (*models.Credential, error) {
	cred := &models.Credential{}
	var keyType string
	err := r.db.QueryRowContext(ctx, `
		SELECT id, target_id, key_type, public_key, fingerprint, private_key_encrypted, created_at
		FROM credentials WHERE target_id = ?
	`, targetID).Scan(
		&cred.ID, &cred.TargetID, &keyType, &cred.PublicKey, &cred.Fingerprint,
		&cred.PrivateKeyEncrypted, &cred.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan credential: %w", err)
	}
	cred.KeyType = models.ParseKeyType(keyType)
	return cred, nil
}

func (r *sqliteCredentialRepo) DeleteByTarget(ctx context.Context, targetID string) error {
	if _, err := r.db.ExecContext(ctx, "DELETE FROM credentials WHERE target_id = ?", targetID); err != nil {
		return fmt.Errorf("delete credential: %w", err)
	}
	return nil
}
