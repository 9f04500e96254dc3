// Package secrets consolidates symmetric encryption of key material
// behind one capability interface so the backing store (local key, KMS,
// HSM) can be swapped without touching business logic.
package secrets

import (
	"fmt"

	"github.com/meridian-exchange/exchange_service/pkg/crypto"
)

// Manager encrypts and decrypts sensitive key material at rest.
type Manager interface {
	Encrypt(plaintext string) (string, error)
	Decrypt(ciphertext string) (string, error)
}

// localManager seals secrets with a locally configured key.
type localManager struct {
	key string
}

// NewLocalManager creates a Manager backed by the configured encryption
// key.
func NewLocalManager(encryptionKey string) (Manager, error) {
	if encryptionKey == "" {
		return nil, fmt.Errorf("encryption key is required")
	}
	return &localManager{key: encryptionKey}, nil
}

func (m *localManager) Encrypt(plaintext string) (string, error) {
	return crypto.Encrypt(plaintext, m.key)
}

func (m *localManager) Decrypt(ciphertext string) (string, error) {
	return crypto.Decrypt(ciphertext, m.key)
}
