package models

import (
	"time"

	"github.com/google/uuid"
)

type APIKey struct {
	ID          uuid.UUID  `json:"id" db:"id"`
	WorkspaceID uuid.UUID  `json:"workspace_id" db:"workspace_id"`
	UserID      *uuid.UUID `json:"user_id,omitempty" db:"user_id"`
	Name        string     `json:"name" db:"name"`
	KeyPrefix   string     `json:"key_prefix" db:"key_prefix"`
	KeyHash     string     `json:"-" db:"key_hash"`
	IsAdmin     bool       `json:"is_admin" db:"is_admin"`
	IsActive    bool       `json:"is_active" db:"is_active"`
	LastUsedAt  *time.Time `json:"last_used_at,omitempty" db:"last_used_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty" db:"expires_at"`
	CreatedAt   time.Time  `json:"created_at" db:"created_at"`
}

// LLM providers a credential may belong to.
const (
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
	ProviderOllama    = "ollama"
)

// LLMCredential is a workspace's stored upstream provider key. The key itself
// is only held encrypted; KeyHint exposes its last characters.
type LLMCredential struct {
	ID           uuid.UUID `json:"id" db:"id"`
	WorkspaceID  uuid.UUID `json:"workspace_id" db:"workspace_id"`
	Provider     string    `json:"provider" db:"provider"`
	Name         string    `json:"name" db:"name"`
	EncryptedKey string    `json:"-" db:"encrypted_key"`
	KeyHint      string    `json:"key_hint" db:"key_hint"`
	IsDefault    bool      `json:"is_default" db:"is_default"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
