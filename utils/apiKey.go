package utils

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	apiKeyPrefix    = "tk_live_"
	apiKeyPrefixLen = 16
)

// GenerateAPIKey creates a random terminal key and its sha256 hex hash.
// Only the hash is stored; the raw key is shown once.
func GenerateAPIKey() (rawKey string, keyHash string, err error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", "", fmt.Errorf("failed to generate random bytes: %w", err)
	}
	rawKey = apiKeyPrefix + hex.EncodeToString(b)
	return rawKey, HashAPIKey(rawKey), nil
}

func HashAPIKey(rawKey string) string {
	sum := sha256.Sum256([]byte(rawKey))
	return hex.EncodeToString(sum[:])
}

// APIKeyPrefix is the non-secret leading part of a key, safe to display.
func APIKeyPrefix(rawKey string) string {
	if len(rawKey) <= apiKeyPrefixLen {
		return rawKey
	}
	return rawKey[:apiKeyPrefixLen]
}
