package credential

import (
	"context"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
	"github.com/nikhilbhutani/promptdeck/internal/models"
	"github.com/nikhilbhutani/promptdeck/internal/tenant"
	"github.com/nikhilbhutani/promptdeck/internal/testhelpers"
)

func TestEncryptor(t *testing.T) {
	enc, err := NewEncryptor("a passphrase")
	require.NoError(t, err)

	sealed, err := enc.Encrypt("sk-secret")
	require.NoError(t, err)
	assert.NotContains(t, sealed, "sk-secret")

	again, err := enc.Encrypt("sk-secret")
	require.NoError(t, err)
	assert.NotEqual(t, sealed, again, "nonces are random")

	plain, err := enc.Decrypt(sealed)
	require.NoError(t, err)
	assert.Equal(t, "sk-secret", plain)

	other, err := NewEncryptor(base64.StdEncoding.EncodeToString([]byte(strings.Repeat("k", 32))))
	require.NoError(t, err)
	_, err = other.Decrypt(sealed)
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = enc.Decrypt("not base64!")
	assert.ErrorIs(t, err, ErrDecrypt)

	_, err = NewEncryptor("")
	assert.Error(t, err)
}

func TestHint(t *testing.T) {
	assert.Equal(t, "****cdef", Hint("sk-1234567890abcdef"))
	assert.Equal(t, "****", Hint("short"))
}

func TestSetDefault_LeavesOneDefaultPerProvider(t *testing.T) {
	db := testhelpers.GetTestDB(t)
	enc, err := NewEncryptor("test-key")
	require.NoError(t, err)
	svc := NewService(db.Pool, enc, nil)

	ws := db.CreateWorkspace(t)
	ctx := tenant.WithIdentity(context.Background(), &tenant.Identity{WorkspaceID: ws})

	first, err := svc.Create(ctx, CreateRequest{Provider: models.ProviderOpenAI, Name: "first", Key: "sk-first-000000", IsDefault: true})
	require.NoError(t, err)
	assert.True(t, first.IsDefault)
	second, err := svc.Create(ctx, CreateRequest{Provider: models.ProviderOpenAI, Name: "second", Key: "sk-second-00000"})
	require.NoError(t, err)
	claude, err := svc.Create(ctx, CreateRequest{Provider: models.ProviderAnthropic, Name: "claude", Key: "sk-ant-0000000", IsDefault: true})
	require.NoError(t, err)

	key, err := svc.DefaultKey(ctx, ws, models.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-first-000000", key)

	_, err = svc.SetDefault(ctx, second.ID)
	require.NoError(t, err)

	creds, err := svc.List(ctx)
	require.NoError(t, err)
	defaults := map[string]int{}
	for _, c := range creds {
		if c.IsDefault {
			defaults[c.Provider]++
		}
	}
	assert.Equal(t, map[string]int{models.ProviderOpenAI: 1, models.ProviderAnthropic: 1}, defaults)

	key, err = svc.DefaultKey(ctx, ws, models.ProviderOpenAI)
	require.NoError(t, err)
	assert.Equal(t, "sk-second-00000", key)

	key, err = svc.DefaultKey(ctx, ws, models.ProviderOllama)
	require.NoError(t, err)
	assert.Empty(t, key)

	outsider := tenant.WithIdentity(context.Background(), &tenant.Identity{WorkspaceID: db.CreateWorkspace(t)})
	_, err = svc.SetDefault(outsider, claude.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	_, err = svc.Create(ctx, CreateRequest{Provider: "cohere", Name: "x", Key: "y"})
	assert.ErrorIs(t, err, apperrors.ErrValidation)
}
