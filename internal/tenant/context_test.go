package tenant

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nikhilbhutani/promptdeck/internal/apperrors"
)

func TestScopeFromContext(t *testing.T) {
	ws := uuid.New()
	other := uuid.New()

	t.Run("anonymous", func(t *testing.T) {
		_, err := ScopeFromContext(context.Background())
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("member is confined to its workspace", func(t *testing.T) {
		ctx := WithIdentity(context.Background(), &Identity{WorkspaceID: ws})
		scope, err := ScopeFromContext(ctx)
		require.NoError(t, err)

		assert.True(t, scope.Owns(ws))
		assert.False(t, scope.Owns(other))
		require.NotNil(t, scope.Filter())
		assert.Equal(t, ws, *scope.Filter())
	})

	t.Run("admin bypasses scoping", func(t *testing.T) {
		ctx := WithIdentity(context.Background(), &Identity{WorkspaceID: ws, IsAdmin: true})
		scope, err := ScopeFromContext(ctx)
		require.NoError(t, err)

		assert.True(t, scope.Owns(other))
		assert.Nil(t, scope.Filter())
		target, err := scope.Target()
		require.NoError(t, err)
		assert.Equal(t, ws, target)
	})

	t.Run("admin pinned to a workspace", func(t *testing.T) {
		ctx := WithIdentity(context.Background(), &Identity{IsAdmin: true, Acting: &other})
		scope, err := ScopeFromContext(ctx)
		require.NoError(t, err)

		assert.True(t, scope.Owns(other))
		assert.False(t, scope.Owns(ws))
	})

	t.Run("system key without workspace cannot write", func(t *testing.T) {
		ctx := WithIdentity(context.Background(), &Identity{IsAdmin: true, Via: ViaSystem})
		scope, err := ScopeFromContext(ctx)
		require.NoError(t, err)

		_, err = scope.Target()
		assert.ErrorIs(t, err, apperrors.ErrValidation)
	})
}
