package config

import (
	"errors"
	"fmt"

	"github.com/kelseyhightower/envconfig"
)

// Secrets holds sensitive values that are never written to a profile file,
// only ever read from the environment, keeping them out of a world-readable
// YAML file and out of `ps auxww`.
type Secrets struct {
	// HistoryKey is the SQLCipher encryption key for the local alert/verify
	// history store. Env: ANONMANAGER_DB_KEY.
	HistoryKey string `envconfig:"DB_KEY"`
}

// LoadSecrets loads secrets from ANONMANAGER_* environment variables.
func LoadSecrets() (*Secrets, error) {
	var s Secrets
	if err := envconfig.Process("ANONMANAGER", &s); err != nil {
		return nil, fmt.Errorf("failed to load secrets from environment: %w", err)
	}
	return &s, nil
}

// ValidateHistoryKey validates the history store encryption key if one was
// supplied; an empty key is valid and means the store falls back to a
// randomly generated key persisted beside the state file.
func (s *Secrets) ValidateHistoryKey() error {
	if s.HistoryKey != "" && len(s.HistoryKey) < 16 {
		return errors.New("history encryption key must be at least 16 characters")
	}
	return nil
}

// HasHistoryEncryptionOverride reports whether the user supplied their own
// history store key rather than relying on the generated one.
func (s *Secrets) HasHistoryEncryptionOverride() bool {
	return s.HistoryKey != ""
}

// MaskHistoryKey returns a masked version of the history key safe to include
// in a log line or --status dump.
func (s *Secrets) MaskHistoryKey() string {
	if s.HistoryKey == "" {
		return "(not set)"
	}
	if len(s.HistoryKey) <= 8 {
		return "****"
	}
	return s.HistoryKey[:4] + "****" + s.HistoryKey[len(s.HistoryKey)-4:]
}
