// Package push delivers table events to the diner's browser as Web Push
// notifications.
package push

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	webpush "github.com/SherClockHolmes/webpush-go"
)

const vapidFile = "vapid_keys.json"

// VAPIDKeys holds the public and private keys for VAPID authentication,
// both base64url encoded as webpush-go expects them
type VAPIDKeys struct {
	PublicKey  string `json:"publicKey"`
	PrivateKey string `json:"privateKey"`
}

// VAPIDKeyManager handles VAPID key generation, storage, and retrieval
type VAPIDKeyManager struct {
	keyPath string

	mu   sync.Mutex
	keys *VAPIDKeys
}

// NewVAPIDKeyManager creates a manager that keeps its keys under keyPath
func NewVAPIDKeyManager(keyPath string) *VAPIDKeyManager {
	return &VAPIDKeyManager{
		keyPath: keyPath,
	}
}

// GenerateKeys generates a new P-256 key pair
func (v *VAPIDKeyManager) GenerateKeys() (*VAPIDKeys, error) {
	privateKey, publicKey, err := webpush.GenerateVAPIDKeys()
	if err != nil {
		return nil, fmt.Errorf("failed to generate VAPID keys: %w", err)
	}
	return &VAPIDKeys{PublicKey: publicKey, PrivateKey: privateKey}, nil
}

// LoadKeys reads the key file
func (v *VAPIDKeyManager) LoadKeys() (*VAPIDKeys, error) {
	raw, err := os.ReadFile(filepath.Join(v.keyPath, vapidFile))
	if err != nil {
		return nil, fmt.Errorf("failed to read VAPID keys: %w", err)
	}

	var keys VAPIDKeys
	if err := json.Unmarshal(raw, &keys); err != nil {
		return nil, fmt.Errorf("failed to parse VAPID keys: %w", err)
	}
	if err := v.ValidateKeys(&keys); err != nil {
		return nil, err
	}
	return &keys, nil
}

// SaveKeys writes the key file, readable by the owner only
func (v *VAPIDKeyManager) SaveKeys(keys *VAPIDKeys) error {
	if err := os.MkdirAll(v.keyPath, 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}

	raw, err := json.MarshalIndent(keys, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal VAPID keys: %w", err)
	}
	if err := os.WriteFile(filepath.Join(v.keyPath, vapidFile), raw, 0600); err != nil {
		return fmt.Errorf("failed to save VAPID keys: %w", err)
	}
	return nil
}

// GetOrGenerateKeys loads existing keys or generates and saves new ones.
// The result is cached for the life of the manager.
func (v *VAPIDKeyManager) GetOrGenerateKeys() (*VAPIDKeys, error) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.keys != nil {
		return v.keys, nil
	}

	keys, err := v.LoadKeys()
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		if keys, err = v.GenerateKeys(); err != nil {
			return nil, err
		}
		if err := v.SaveKeys(keys); err != nil {
			return nil, err
		}
	}

	v.keys = keys
	return keys, nil
}

// ValidateKeys checks the encoded key sizes
func (v *VAPIDKeyManager) ValidateKeys(keys *VAPIDKeys) error {
	if keys.PublicKey == "" {
		return fmt.Errorf("public key is empty")
	}
	if keys.PrivateKey == "" {
		return fmt.Errorf("private key is empty")
	}

	publicKeyBytes, err := base64.RawURLEncoding.DecodeString(keys.PublicKey)
	if err != nil {
		return fmt.Errorf("invalid public key format: %w", err)
	}
	if len(publicKeyBytes) != 65 {
		return fmt.Errorf("invalid public key length: expected 65 bytes, got %d", len(publicKeyBytes))
	}

	privateKeyBytes, err := base64.RawURLEncoding.DecodeString(keys.PrivateKey)
	if err != nil {
		return fmt.Errorf("invalid private key format: %w", err)
	}
	if len(privateKeyBytes) != 32 {
		return fmt.Errorf("invalid private key length: expected 32 bytes, got %d", len(privateKeyBytes))
	}
	return nil
}
