// Package secrets provides the SecretResolver interface, built-in implementations,
// and a DB-backed secret store with AES-256-GCM encryption.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/jmoiron/sqlx"
)

// SecretType enumerates supported credential categories.
type SecretType string

const (
	SecretTypeBasicAuth        SecretType = "basic_auth"
	SecretTypeToken            SecretType = "token"
	SecretTypeCertificate      SecretType = "certificate"
	SecretTypeConnectionString SecretType = "connection_string"
	SecretTypeAWSCredentials   SecretType = "aws_credentials"
	SecretTypeSSHKey           SecretType = "ssh_key"
	SecretTypeAMQPURL          SecretType = "amqp_url"
)

// SecretMeta contains non-sensitive metadata returned by List.
type SecretMeta struct {
	ID        string     `json:"id"`
	Name      string     `json:"name"`
	Type      SecretType `json:"type"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SecretInput is the payload used to create or update a secret.
type SecretInput struct {
	ID       string                 `json:"id"`
	Name     string                 `json:"name"`
	Type     SecretType             `json:"type"`
	Value    map[string]interface{} `json:"value"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// secretRow mirrors the secrets table for sqlx scans. Only List scans into
// it, and List selects no encrypted_val column, so EncryptedVal stays empty.
type secretRow struct {
	ID           string     `db:"id"`
	Name         string     `db:"name"`
	Type         SecretType `db:"type"`
	EncryptedVal []byte     `db:"encrypted_val"`
	CreatedAt    time.Time  `db:"created_at"`
	UpdatedAt    time.Time  `db:"updated_at"`
}

// aeadCipher wraps a single AES-256-GCM AEAD and the encrypt/decrypt
// convention (nonce prepended to ciphertext) the whole secrets package
// relies on. The cipher.Block and cipher.AEAD are built once at construction
// time instead of on every encrypt/decrypt call.
type aeadCipher struct {
	gcm cipher.AEAD
}

func newAEADCipher(key []byte) (*aeadCipher, error) {
	if len(key) != 32 {
		return nil, fmt.Errorf("AES key must be exactly 32 bytes, got %d", len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, err
	}
	return &aeadCipher{gcm: gcm}, nil
}

func (c *aeadCipher) seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, c.gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return c.gcm.Seal(nonce, nonce, plaintext, nil), nil
}

func (c *aeadCipher) open(data []byte) ([]byte, error) {
	nonceSize := c.gcm.NonceSize()
	if len(data) < nonceSize {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	return c.gcm.Open(nil, nonce, ciphertext, nil)
}

// SecretStore persists secrets encrypted with AES-256-GCM and exposes
// CRUD operations plus the SecretResolver interface for the engine. It uses
// sqlx the same way internal/store.ProcessStore does, rather than the raw
// database/sql Query/Scan loops the rest of this package used to hand-roll.
type SecretStore struct {
	db     *sqlx.DB
	cipher *aeadCipher
}

// NewSecretStore creates a SecretStore backed by the provided DB connection
// and 32-byte AES-256 key. Returns an error if the key length is wrong.
func NewSecretStore(db *sqlx.DB, key []byte) (*SecretStore, error) {
	c, err := newAEADCipher(key)
	if err != nil {
		return nil, fmt.Errorf("secrets: %w", err)
	}
	return &SecretStore{db: db, cipher: c}, nil
}

// ---------------------------------------------------------------------------
// CRUD operations
// ---------------------------------------------------------------------------

// Upsert creates or updates a secret. The value is AES-256-GCM encrypted before
// being stored. Secrets must never appear in audit logs.
func (s *SecretStore) Upsert(ctx context.Context, input SecretInput) error {
	if input.ID == "" {
		return fmt.Errorf("secrets: id is required")
	}
	if input.Name == "" {
		return fmt.Errorf("secrets: name is required")
	}

	plain, err := json.Marshal(input.Value)
	if err != nil {
		return fmt.Errorf("secrets: marshal value: %w", err)
	}
	ciphertext, err := s.cipher.seal(plain)
	if err != nil {
		return fmt.Errorf("secrets: encrypt: %w", err)
	}
	metaJSON, err := json.Marshal(input.Metadata)
	if err != nil {
		return fmt.Errorf("secrets: marshal metadata: %w", err)
	}

	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO secrets (id, name, type, encrypted_val, metadata, created_at, updated_at)
		VALUES (:id, :name, :type, :encrypted_val, :metadata, NOW(), NOW())
		ON CONFLICT (id) DO UPDATE
		  SET name          = EXCLUDED.name,
		      type          = EXCLUDED.type,
		      encrypted_val = EXCLUDED.encrypted_val,
		      metadata      = EXCLUDED.metadata,
		      updated_at    = NOW()
	`, map[string]interface{}{
		"id":            input.ID,
		"name":          input.Name,
		"type":          string(input.Type),
		"encrypted_val": ciphertext,
		"metadata":      string(metaJSON),
	})
	if err != nil {
		return fmt.Errorf("secrets: upsert %s: %w", input.ID, err)
	}
	return nil
}

// List returns metadata for all secrets; the encrypted value is never exposed.
func (s *SecretStore) List(ctx context.Context) ([]SecretMeta, error) {
	var rows []secretRow
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT id, name, type, created_at, updated_at FROM secrets ORDER BY created_at DESC`); err != nil {
		return nil, fmt.Errorf("secrets: list: %w", err)
	}

	results := make([]SecretMeta, len(rows))
	for i, r := range rows {
		results[i] = SecretMeta{ID: r.ID, Name: r.Name, Type: r.Type, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt}
	}
	return results, nil
}

// Delete removes a secret by ID. Returns nil when the secret does not exist.
func (s *SecretStore) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("secrets: delete %s: %w", id, err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// SecretResolver implementation
// ---------------------------------------------------------------------------

// Resolve implements the SecretResolver interface. It fetches and decrypts the
// secret identified by ref, returning its key/value pairs for config injection.
// Secrets must never appear in audit logs.
func (s *SecretStore) Resolve(ctx context.Context, ref string) (map[string]interface{}, error) {
	ciphertext, err := s.fetchEncrypted(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("secrets: resolve %s: %w", ref, err)
	}

	plain, err := s.cipher.open(ciphertext)
	if err != nil {
		return nil, fmt.Errorf("secrets: decrypt %s: %w", ref, err)
	}

	var result map[string]interface{}
	if err := json.Unmarshal(plain, &result); err != nil {
		return nil, fmt.Errorf("secrets: unmarshal decrypted value: %w", err)
	}
	return result, nil
}

func (s *SecretStore) fetchEncrypted(ctx context.Context, id string) ([]byte, error) {
	var ciphertext []byte
	err := s.db.GetContext(ctx, &ciphertext, `SELECT encrypted_val FROM secrets WHERE id = $1`, id)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("secret not found: %s", id)
		}
		return nil, err
	}
	return ciphertext, nil
}

// ---------------------------------------------------------------------------
// Key rotation
// ---------------------------------------------------------------------------

// RotateKey re-encrypts every stored secret under newKey and, on success,
// makes newKey the store's active encryption key. Secrets are decrypted
// with the current key and re-sealed one row at a time; if any row fails
// to decrypt (e.g. already rotated under a different key) the store's
// active key is left unchanged and the error names the offending secret.
func (s *SecretStore) RotateKey(ctx context.Context, newKey []byte) error {
	newCipher, err := newAEADCipher(newKey)
	if err != nil {
		return fmt.Errorf("secrets: rotate: %w", err)
	}

	type rowKV struct {
		ID           string `db:"id"`
		EncryptedVal []byte `db:"encrypted_val"`
	}
	var all []rowKV
	if err := s.db.SelectContext(ctx, &all, `SELECT id, encrypted_val FROM secrets`); err != nil {
		return fmt.Errorf("secrets: rotate: list secrets: %w", err)
	}

	// Re-encrypt every row inside one transaction: either every secret ends
	// up under newKey or none do, so a mid-rotation failure never leaves the
	// table split across two keys.
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("secrets: rotate: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	for _, r := range all {
		plain, err := s.cipher.open(r.EncryptedVal)
		if err != nil {
			return fmt.Errorf("secrets: rotate: decrypt %s under current key: %w", r.ID, err)
		}
		reEncrypted, err := newCipher.seal(plain)
		if err != nil {
			return fmt.Errorf("secrets: rotate: encrypt %s under new key: %w", r.ID, err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE secrets SET encrypted_val = $1, updated_at = NOW() WHERE id = $2`,
			reEncrypted, r.ID); err != nil {
			return fmt.Errorf("secrets: rotate: persist %s: %w", r.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("secrets: rotate: commit: %w", err)
	}

	s.cipher = newCipher
	return nil
}
