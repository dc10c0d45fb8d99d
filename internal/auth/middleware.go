package auth

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	json "github.com/goccy/go-json"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

// Claims are issued by the external identity provider.
type Claims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// UserStore resolves the user named by a session token.
type UserStore interface {
	GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
}

type JWTMiddleware struct {
	secret []byte
	users  UserStore
	caps   Capabilities
}

func NewJWTMiddleware(secret string, users UserStore, caps Capabilities) *JWTMiddleware {
	return &JWTMiddleware{
		secret: []byte(secret),
		users:  users,
		caps:   caps,
	}
}

// Authenticate resolves an identity from a session bearer token. It does
// nothing when an earlier middleware already identified the caller or when
// the bearer token is an API key.
func (m *JWTMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenStr := extractBearerToken(r)
		if tokenStr == "" || strings.HasPrefix(tokenStr, KeyPrefix) || tenant.FromContext(r.Context()) != nil {
			next.ServeHTTP(w, r)
			return
		}

		claims := &Claims{}
		token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
			if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			}
			return m.secret, nil
		})
		if err != nil || !token.Valid {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		userID, err := uuid.Parse(claims.Sub)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid user ID in token")
			return
		}

		user, err := m.users.GetUserByID(r.Context(), userID)
		if err != nil {
			writeError(w, http.StatusUnauthorized, "user not found")
			return
		}

		ctx := tenant.WithIdentity(r.Context(), &tenant.Identity{
			UserID:      &user.ID,
			WorkspaceID: user.WorkspaceID,
			IsAdmin:     m.caps.CanBypassTenancy(user),
			Via:         tenant.ViaSession,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// RequireIdentity rejects requests no authenticator could identify.
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tenant.FromContext(r.Context()) == nil {
			writeError(w, http.StatusUnauthorized, "missing or invalid credentials")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return ""
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
