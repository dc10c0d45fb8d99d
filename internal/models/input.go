package models

import (
	"time"

	"github.com/google/uuid"
)

// InputTypeReview marks client inputs that are customer reviews.
const InputTypeReview = "review"

// ClientInput is a raw text record used as a source of test cases.
type ClientInput struct {
	ID          uuid.UUID `json:"id" db:"id"`
	WorkspaceID uuid.UUID `json:"workspace_id" db:"workspace_id"`
	Client      string    `json:"client" db:"client"`
	Type        string    `json:"type" db:"type"`
	Content     string    `json:"content" db:"content"`
	Source      string    `json:"source,omitempty" db:"source"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}
