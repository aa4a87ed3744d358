package database

import (
	"database/sql"
	"fmt"
	"time"
)

// APIKeyRecord represents an API key stored in the database. Only the hash
// of the key is persisted; the plaintext is shown once at creation.
type APIKeyRecord struct {
	ID         int64
	UserID     int64
	Name       string
	KeyHash    string
	CreatedAt  time.Time
	LastUsedAt *time.Time
}

// CreateAPIKey inserts a new API key record.
func (db *DB) CreateAPIKey(userID int64, name, keyHash string) (*APIKeyRecord, error) {
	now := time.Now()
	result, err := db.Exec(`
		INSERT INTO api_keys (user_id, name, key_hash, created_at)
		VALUES (?, ?, ?, ?)
	`, userID, name, keyHash, now)
	if err != nil {
		return nil, fmt.Errorf("failed to create api key: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to get api key id: %w", err)
	}

	return &APIKeyRecord{
		ID:        id,
		UserID:    userID,
		Name:      name,
		KeyHash:   keyHash,
		CreatedAt: now,
	}, nil
}

// GetAPIKeyByHash retrieves an API key by its hash. Returns nil when no key
// matches.
func (db *DB) GetAPIKeyByHash(keyHash string) (*APIKeyRecord, error) {
	key := &APIKeyRecord{}
	var lastUsed sql.NullTime
	err := db.QueryRow(`
		SELECT id, user_id, name, key_hash, created_at, last_used_at
		FROM api_keys WHERE key_hash = ?
	`, keyHash).Scan(&key.ID, &key.UserID, &key.Name, &key.KeyHash, &key.CreatedAt, &lastUsed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	key.LastUsedAt = nullTimeToPtr(lastUsed)
	return key, nil
}

// TouchAPIKey records the key's last use time.
func (db *DB) TouchAPIKey(id int64) error {
	_, err := db.Exec("UPDATE api_keys SET last_used_at = ? WHERE id = ?", time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to touch api key: %w", err)
	}
	return nil
}

// DeleteAPIKey removes an API key owned by the given user.
func (db *DB) DeleteAPIKey(id, userID int64) error {
	_, err := db.Exec("DELETE FROM api_keys WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	return nil
}
