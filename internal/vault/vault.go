// Package vault issues, stores and temporarily materializes per-target deploy keys.
package vault

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"

	"github.com/good-yellow-bee/hostdeck/internal/models"
	"github.com/good-yellow-bee/hostdeck/internal/security"
	"github.com/good-yellow-bee/hostdeck/internal/storage"
)

// ErrNoCredential is returned when a target has no deploy key.
var ErrNoCredential = errors.New("no credential for target")

// Loan is a private key materialized on disk for the duration of one deployment.
type Loan struct {
	Path string
	// Env holds KEY=VALUE pairs that make git use the key.
	Env []string
}

// Config holds vault settings.
type Config struct {
	// KeyDir is where loaned private keys are written.
	KeyDir string
	// MasterKey encrypts private keys at rest.
	MasterKey []byte
}

// Vault manages deploy credentials.
type Vault struct {
	creds     storage.CredentialRepository
	keyDir    string
	masterKey []byte
	now       func() time.Time
	chown     func(path, owner string) error
}

// New creates a Vault.
func New(creds storage.CredentialRepository, cfg Config) (*Vault, error) {
	if len(cfg.MasterKey) == 0 {
		return nil, fmt.Errorf("master key is required")
	}
	if cfg.KeyDir == "" {
		cfg.KeyDir = filepath.Join(os.TempDir(), "hostdeck-keys")
	}
	return &Vault{
		creds:     creds,
		keyDir:    cfg.KeyDir,
		masterKey: cfg.MasterKey,
		now:       time.Now,
		chown:     chownToUser,
	}, nil
}

// Issue generates a fresh ed25519 keypair for the target and replaces any
// previous one. The returned credential carries the plaintext private key in
// PrivateKey; it is never persisted unencrypted.
func (v *Vault) Issue(ctx context.Context, targetID string) (*models.Credential, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}

	comment := fmt.Sprintf("deploy_%s@hostdeck", targetID)

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, fmt.Errorf("encode public key: %w", err)
	}
	block, err := ssh.MarshalPrivateKey(priv, comment)
	if err != nil {
		return nil, fmt.Errorf("encode private key: %w", err)
	}
	privPEM := pem.EncodeToMemory(block)

	sealed, err := security.Seal(privPEM, v.masterKey, []byte(targetID))
	if err != nil {
		return nil, fmt.Errorf("encrypt private key: %w", err)
	}

	authorized := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPub)))
	cred := &models.Credential{
		TargetID:            targetID,
		KeyType:             models.KeyTypeEd25519,
		PublicKey:           authorized + " " + comment,
		Fingerprint:         strings.TrimPrefix(ssh.FingerprintSHA256(sshPub), "SHA256:"),
		PrivateKeyEncrypted: sealed,
		CreatedAt:           v.now(),
	}
	if err := v.creds.Replace(ctx, cred); err != nil {
		return nil, fmt.Errorf("store credential: %w", err)
	}

	cred.PrivateKey = privPEM
	return cred, nil
}

// PublicKey returns the target's credential without private material, or nil.
func (v *Vault) PublicKey(ctx context.Context, targetID string) (*models.Credential, error) {
	cred, err := v.creds.GetByTarget(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	if cred != nil {
		cred.PrivateKeyEncrypted = nil
	}
	return cred, nil
}

// Loan writes the target's private key to a temporary file readable by owner.
// It returns ErrNoCredential when the target has no key.
func (v *Vault) Loan(ctx context.Context, targetID, owner string) (*Loan, error) {
	cred, err := v.creds.GetByTarget(ctx, targetID)
	if err != nil {
		return nil, fmt.Errorf("get credential: %w", err)
	}
	if cred == nil {
		return nil, ErrNoCredential
	}
	return v.LoanCredential(cred, owner)
}

// LoanCredential materializes an already loaded credential.
func (v *Vault) LoanCredential(cred *models.Credential, owner string) (*Loan, error) {
	privPEM, err := security.Open(cred.PrivateKeyEncrypted, v.masterKey, []byte(cred.TargetID))
	if err != nil {
		return nil, fmt.Errorf("decrypt private key: %w", err)
	}

	if err := os.MkdirAll(v.keyDir, 0o711); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	pattern := fmt.Sprintf("temp_key_%s_%d_*", cred.TargetID, v.now().Unix())
	f, err := os.CreateTemp(v.keyDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("create key file: %w", err)
	}
	path := f.Name()

	fail := func(err error) (*Loan, error) {
		f.Close()
		os.Remove(path)
		return nil, err
	}

	if err := f.Chmod(0o600); err != nil {
		return fail(fmt.Errorf("chmod key file: %w", err))
	}
	if _, err := f.Write(privPEM); err != nil {
		return fail(fmt.Errorf("write key file: %w", err))
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close key file: %w", err)
	}

	if owner != "" {
		if err := v.chown(path, owner); err != nil {
			os.Remove(path)
			return nil, fmt.Errorf("chown key file: %w", err)
		}
	}

	return &Loan{
		Path: path,
		Env:  []string{"GIT_SSH_COMMAND=" + SSHCommand(path)},
	}, nil
}

// Revoke removes a loaned key. A nil loan or an already removed file is not an error.
func (v *Vault) Revoke(loan *Loan) error {
	if loan == nil {
		return nil
	}
	if err := os.Remove(loan.Path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove key file: %w", err)
	}
	return nil
}

// SSHCommand builds the GIT_SSH_COMMAND value for a key path.
func SSHCommand(keyPath string) string {
	return fmt.Sprintf("ssh -i %s -o StrictHostKeyChecking=no -o UserKnownHostsFile=/dev/null", keyPath)
}

// chownToUser hands the file to owner when running as root. An owner that
// does not resolve is an error: a root-owned 0600 key is unreadable to
// sudo -u owner git.
func chownToUser(path, owner string) error {
	if os.Geteuid() != 0 {
		return nil
	}
	uid, gid, err := lookupIDs(owner, user.Lookup)
	if err != nil {
		return err
	}
	return os.Chown(path, uid, gid)
}

func lookupIDs(owner string, lookup func(string) (*user.User, error)) (int, int, error) {
	u, err := lookup(owner)
	if err != nil {
		return 0, 0, fmt.Errorf("lookup deploy user %s: %w", owner, err)
	}
	uid, err := strconv.Atoi(u.Uid)
	if err != nil {
		return 0, 0, fmt.Errorf("parse uid %q: %w", u.Uid, err)
	}
	gid, err := strconv.Atoi(u.Gid)
	if err != nil {
		return 0, 0, fmt.Errorf("parse gid %q: %w", u.Gid, err)
	}
	return uid, gid, nil
}
