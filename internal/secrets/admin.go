package secrets

import (
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/bcrypt"
)

const adminKeyName = "admin-api-key-hash"

// ErrEmptyKey rejects blank admin keys.
var ErrEmptyKey = errors.New("secrets: admin key must not be empty")

// HashKey returns the bcrypt hash of an admin key.
func HashKey(key string) (string, error) {
	if strings.TrimSpace(key) == "" {
		return "", ErrEmptyKey
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("secrets: hash admin key: %w", err)
	}
	return string(hash), nil
}

// CompareKey reports whether key matches hash. An empty hash matches nothing.
func CompareKey(hash, key string) bool {
	if hash == "" || key == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)) == nil
}

// SetAdminKey stores the hash of key; the key itself is never persisted.
func (k *KeyringStore) SetAdminKey(key string) error {
	hash, err := HashKey(key)
	if err != nil {
		return err
	}
	return k.Set(adminKeyName, hash)
}

// AdminKeyHash returns the stored hash, or ErrNotFound.
func (k *KeyringStore) AdminKeyHash() (string, error) {
	return k.Get(adminKeyName)
}

// CheckAdminKey reports whether key matches the stored hash.
func (k *KeyringStore) CheckAdminKey(key string) (bool, error) {
	hash, err := k.AdminKeyHash()
	if err != nil {
		return false, err
	}
	return CompareKey(hash, key), nil
}

// DeleteAdminKey removes the stored hash.
func (k *KeyringStore) DeleteAdminKey() error {
	return k.Delete(adminKeyName)
}
