package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
)

type fakeKeys struct {
	byHash  map[string]*models.APIKey
	touched chan uuid.UUID
}

func (f *fakeKeys) FindByHash(_ context.Context, hash string) (*models.APIKey, error) {
	if k, ok := f.byHash[hash]; ok {
		return k, nil
	}
	return nil, errors.New("not found")
}

func (f *fakeKeys) TouchLastUsed(_ context.Context, id uuid.UUID) error {
	if f.touched != nil {
		f.touched <- id
	}
	return nil
}

type fakeUsers map[uuid.UUID]*models.User

func (f fakeUsers) GetUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	if u, ok := f[id]; ok {
		return u, nil
	}
	return nil, errors.New("not found")
}

// chain wires the authenticators the way the router does.
func chain(keys KeyStore, users UserStore, secret, system string) (http.Handler, *tenant.Identity) {
	var seen tenant.Identity
	final := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = *tenant.FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})

	apiKeys := NewAPIKeyMiddleware(keys, "X-API-Key", system)
	sessions := NewJWTMiddleware(secret, users, UserFlagCapabilities{})
	h := apiKeys.Authenticate(sessions.Authenticate(RequireIdentity(WorkspaceOverride(final))))
	return h, &seen
}

func signToken(t *testing.T, secret string, sub uuid.UUID) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, Claims{
		Sub: sub.String(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	s, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func TestAuthenticate_APIKey(t *testing.T) {
	ws := uuid.New()
	key := KeyPrefix + "abc123"
	keys := &fakeKeys{
		byHash: map[string]*models.APIKey{
			HashAPIKey(key): {ID: uuid.New(), WorkspaceID: ws, IsActive: true},
		},
		touched: make(chan uuid.UUID, 1),
	}
	h, seen := chain(keys, fakeUsers{}, "secret", "")

	for _, setHeader := range []func(*http.Request){
		func(r *http.Request) { r.Header.Set("X-API-Key", key) },
		func(r *http.Request) { r.Header.Set("Authorization", "Bearer "+key) },
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		setHeader(req)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)

		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, ws, seen.WorkspaceID)
		assert.Equal(t, tenant.ViaAPIKey, seen.Via)
		assert.False(t, seen.IsAdmin)
		<-keys.touched
	}
}

func TestAuthenticate_RejectsRevokedAndExpiredKeys(t *testing.T) {
	past := time.Now().Add(-time.Minute)
	keys := &fakeKeys{byHash: map[string]*models.APIKey{
		HashAPIKey("pk_revoked"): {ID: uuid.New(), IsActive: false},
		HashAPIKey("pk_expired"): {ID: uuid.New(), IsActive: true, ExpiresAt: &past},
	}}
	h, _ := chain(keys, fakeUsers{}, "secret", "")

	for _, key := range []string{"pk_revoked", "pk_expired", "pk_unknown"} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-API-Key", key)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code, key)
	}
}

func TestAuthenticate_Session(t *testing.T) {
	ws := uuid.New()
	userID := uuid.New()
	users := fakeUsers{userID: {ID: userID, WorkspaceID: ws, IsAdmin: true}}
	h, seen := chain(&fakeKeys{}, users, "secret", "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "secret", userID))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.NotNil(t, seen.UserID)
	assert.Equal(t, userID, *seen.UserID)
	assert.True(t, seen.IsAdmin, "is_admin users get the bypass capability")
	assert.Equal(t, tenant.ViaSession, seen.Via)
}

func TestAuthenticate_SessionWrongSecret(t *testing.T) {
	userID := uuid.New()
	h, _ := chain(&fakeKeys{}, fakeUsers{userID: {ID: userID}}, "secret", "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "other", userID))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuthenticate_SystemSecret(t *testing.T) {
	h, seen := chain(&fakeKeys{}, fakeUsers{}, "secret", "sys-secret")

	pinned := uuid.New()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "sys-secret")
	req.Header.Set(WorkspaceHeader, pinned.String())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, seen.IsAdmin)
	assert.Equal(t, tenant.ViaSystem, seen.Via)
	require.NotNil(t, seen.Acting)
	assert.Equal(t, pinned, *seen.Acting)
}

func TestAuthenticate_MissingCredentials(t *testing.T) {
	h, _ := chain(&fakeKeys{}, fakeUsers{}, "secret", "")

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.JSONEq(t, `{"error":"missing or invalid credentials"}`, rec.Body.String())
}

func TestWorkspaceOverride_IgnoredForMembers(t *testing.T) {
	ws := uuid.New()
	keys := &fakeKeys{byHash: map[string]*models.APIKey{
		HashAPIKey("pk_member"): {ID: uuid.New(), WorkspaceID: ws, IsActive: true},
	}}
	h, seen := chain(keys, fakeUsers{}, "secret", "")

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-API-Key", "pk_member")
	req.Header.Set(WorkspaceHeader, uuid.NewString())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Nil(t, seen.Acting)
	assert.Equal(t, ws, seen.WorkspaceID)
}

func TestRequireAdmin(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := RequireAdmin(ok)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(tenant.WithIdentity(req.Context(), &tenant.Identity{WorkspaceID: uuid.New()}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = req.WithContext(tenant.WithIdentity(req.Context(), &tenant.Identity{IsAdmin: true}))
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}
