package auth

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

// KeyPrefix starts every API key issued by this service. Bearer tokens
// without it are not treated as API keys.
const KeyPrefix = "pk_"

// KeyStore looks up API keys by their SHA-256 hash.
type KeyStore interface {
	FindByHash(ctx context.Context, hash string) (*models.APIKey, error)
	TouchLastUsed(ctx context.Context, id uuid.UUID) error
}

type APIKeyMiddleware struct {
	keys         KeyStore
	headerName   string
	systemSecret string
}

func NewAPIKeyMiddleware(keys KeyStore, headerName, systemSecret string) *APIKeyMiddleware {
	return &APIKeyMiddleware{
		keys:         keys,
		headerName:   headerName,
		systemSecret: systemSecret,
	}
}

// Authenticate resolves an identity from the API key header or a pk_ bearer
// token. Requests without a key pass through untouched.
func (m *APIKeyMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := m.extractKey(r)
		if key == "" || tenant.FromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}

		if m.systemSecret != "" && subtle.ConstantTimeCompare([]byte(key), []byte(m.systemSecret)) == 1 {
			ctx := tenant.WithIdentity(r.Context(), &tenant.Identity{IsAdmin: true, Via: tenant.ViaSystem})
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		hash := HashAPIKey(key)
		ak, err := m.keys.FindByHash(r.Context(), hash)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid API key")
			return
		}

		if !ak.IsActive {
			writeError(w, http.StatusUnauthorized, "API key revoked")
			return
		}
		if ak.ExpiresAt != nil && ak.ExpiresAt.Before(time.Now()) {
			writeError(w, http.StatusUnauthorized, "API key expired")
			return
		}

		go func(id uuid.UUID) {
			ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), 5*time.Second)
			defer cancel()
			if err := m.keys.TouchLastUsed(ctx, id); err != nil {
				slog.Warn("failed to update api key last_used_at", "key_id", id, "error", err)
			}
		}(ak.ID)

		keyID := ak.ID
		ctx := tenant.WithIdentity(r.Context(), &tenant.Identity{
			UserID:      ak.UserID,
			WorkspaceID: ak.WorkspaceID,
			IsAdmin:     ak.IsAdmin,
			Via:         tenant.ViaAPIKey,
			APIKeyID:    &keyID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *APIKeyMiddleware) extractKey(r *http.Request) string {
	if key := strings.TrimSpace(r.Header.Get(m.headerName)); key != "" {
		return key
	}
	token := extractBearerToken(r)
	if strings.HasPrefix(token, KeyPrefix) {
		return token
	}
	if m.systemSecret != "" && token == m.systemSecret {
		return token
	}
	return ""
}

func HashAPIKey(key string) string {
	h := sha256.Sum256([]byte(key))
	return hex.EncodeToString(h[:])
}
