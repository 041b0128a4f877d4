package repository

import (
	"crypto/rand"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/fieldset/quotad/internal/models"
	"github.com/google/uuid"
)

type APIKeyRepository struct {
	db *sql.DB
}

func NewAPIKeyRepository(db *sql.DB) *APIKeyRepository {
	return &APIKeyRepository{db: db}
}

// APIKeyCreateResult carries the full key, which is only shown once.
type APIKeyCreateResult struct {
	APIKey models.APIKey
	Key    string
}

// Create creates a new API key and returns the full key
func (r *APIKeyRepository) Create(name string) (*APIKeyCreateResult, error) {
	// Generate random key
	keyBytes := make([]byte, 32)
	if _, err := rand.Read(keyBytes); err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	key := "qk_" + hex.EncodeToString(keyBytes)

	apiKey := &models.APIKey{
		ID:        uuid.New().String(),
		Name:      name,
		KeyHash:   HashKey(key),
		KeyPrefix: key[:11], // "qk_" + first 8 chars
		Active:    true,
		CreatedAt: time.Now(),
	}

	_, err := r.db.Exec(`
		INSERT INTO api_keys (id, name, key_hash, key_prefix, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		apiKey.ID, apiKey.Name, apiKey.KeyHash, apiKey.KeyPrefix, 1, apiKey.CreatedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create API key: %w", err)
	}

	return &APIKeyCreateResult{APIKey: *apiKey, Key: key}, nil
}

// GetByHash returns an API key by its hash (for authentication)
func (r *APIKeyRepository) GetByHash(keyHash string) (*models.APIKey, error) {
	k := &models.APIKey{}
	var lastUsedAt sql.NullTime

	err := r.db.QueryRow(`
		SELECT id, name, key_hash, key_prefix, active, created_at, last_used_at
		FROM api_keys WHERE key_hash = ?`, keyHash,
	).Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Active, &k.CreatedAt, &lastUsedAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if lastUsedAt.Valid {
		k.LastUsedAt = &lastUsedAt.Time
	}
	return k, nil
}

// List returns all API keys
func (r *APIKeyRepository) List() ([]models.APIKey, error) {
	rows, err := r.db.Query(`
		SELECT id, name, key_hash, key_prefix, active, created_at, last_used_at
		FROM api_keys ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var keys []models.APIKey
	for rows.Next() {
		var k models.APIKey
		var lastUsedAt sql.NullTime
		if err := rows.Scan(&k.ID, &k.Name, &k.KeyHash, &k.KeyPrefix, &k.Active, &k.CreatedAt, &lastUsedAt); err != nil {
			return nil, err
		}
		if lastUsedAt.Valid {
			k.LastUsedAt = &lastUsedAt.Time
		}
		keys = append(keys, k)
	}
	return keys, rows.Err()
}

// UpdateLastUsed updates the last_used_at timestamp
func (r *APIKeyRepository) UpdateLastUsed(id string) error {
	_, err := r.db.Exec("UPDATE api_keys SET last_used_at = ? WHERE id = ?", time.Now(), id)
	return err
}

// Deactivate deactivates an API key
func (r *APIKeyRepository) Deactivate(id string) error {
	result, err := r.db.Exec("UPDATE api_keys SET active = 0 WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("API key not found")
	}
	return nil
}

// Delete permanently deletes an API key
func (r *APIKeyRepository) Delete(id string) error {
	result, err := r.db.Exec("DELETE FROM api_keys WHERE id = ?", id)
	if err != nil {
		return err
	}
	affected, _ := result.RowsAffected()
	if affected == 0 {
		return fmt.Errorf("API key not found")
	}
	return nil
}

// HashKey computes SHA256 hash of an API key
func HashKey(key string) string {
	hash := sha256.Sum256([]byte(key))
	return hex.EncodeToString(hash[:])
}
