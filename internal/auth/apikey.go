package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"

	"github.com/queryportal/queryportal/internal/database"
)

const (
	// APIKeyLength is the length of generated API keys in bytes (will be hex encoded)
	APIKeyLength = 32
)

// GenerateAPIKey creates a new cryptographically secure API key
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, APIKeyLength)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate api key: %w", err)
	}
	return hex.EncodeToString(bytes), nil
}

// HashAPIKey returns the storage hash of an API key. Keys are random, so a
// plain SHA-256 is enough; bcrypt would make every API request pay its cost.
func HashAPIKey(key string) string {
	sum := sha256.Sum256([]byte(key))
	return hex.EncodeToString(sum[:])
}

// CreateAPIKey generates a key for a user and stores its hash. The plaintext
// key is returned exactly once.
func (s *Service) CreateAPIKey(userID int64, name string) (string, *database.APIKeyRecord, error) {
	key, err := GenerateAPIKey()
	if err != nil {
		return "", nil, err
	}

	record, err := s.db.CreateAPIKey(userID, name, HashAPIKey(key))
	if err != nil {
		return "", nil, err
	}
	return key, record, nil
}

// ValidateAPIKey resolves an API key to its user. Returns nil without error
// when the key is unknown.
func (s *Service) ValidateAPIKey(key string) (*database.UserRecord, error) {
	record, err := s.db.GetAPIKeyByHash(HashAPIKey(key))
	if err != nil {
		return nil, err
	}
	if record == nil {
		return nil, nil
	}

	if err := s.db.TouchAPIKey(record.ID); err != nil {
		return nil, err
	}
	return s.db.GetUserByID(record.UserID)
}

// DeleteAPIKey removes an API key owned by the given user
func (s *Service) DeleteAPIKey(id, userID int64) error {
	return s.db.DeleteAPIKey(id, userID)
}
