package auth

import (
	"context"
	"io"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pacfleet/pacfleet/pkg/config"
	"github.com/pacfleet/pacfleet/pkg/errdefs"
	"github.com/pacfleet/pacfleet/pkg/log"
	"github.com/pacfleet/pacfleet/pkg/storage"
	"github.com/pacfleet/pacfleet/pkg/types"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

func newManager(t *testing.T, cfg config.Security) (*Manager, *storage.Store) {
	t.Helper()
	ctx := context.Background()

	d, err := storage.OpenDriver(config.Database{Kind: config.DatabaseEmbedded, Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { d.Close() })
	require.NoError(t, storage.Migrate(ctx, d))

	store := storage.NewStore(d)
	return NewManager(store, cfg), store
}

func securityConfig() config.Security {
	return config.Security{
		AuthTokenSigningSecret: "test-signing-secret",
		TokenTTL:               time.Hour,
		AdminTokens:            []string{"admin-token"},
	}
}

func TestRegisterAndAuthenticate(t *testing.T) {
	m, store := newManager(t, securityConfig())
	ctx := context.Background()

	e, token, err := m.Register(ctx, "builder", "arch-01")
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.NotEmpty(t, token)
	assert.Equal(t, types.SyncStatusOffline, e.SyncStatus)

	// Only the hash is persisted.
	stored, err := store.GetEndpoint(ctx, e.ID)
	require.NoError(t, err)
	assert.NotEqual(t, token, stored.AuthTokenHash)
	assert.Len(t, stored.AuthTokenHash, 64)

	id, err := m.Authenticate(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, e.ID, id.EndpointID)
	assert.False(t, id.Admin)
}

func TestRegisterValidation(t *testing.T) {
	m, _ := newManager(t, securityConfig())
	ctx := context.Background()

	_, _, err := m.Register(ctx, "", "host")
	assert.True(t, errdefs.Validation.Has(err))

	_, _, err = m.Register(ctx, "name", "  ")
	assert.True(t, errdefs.Validation.Has(err))
}

func TestReRegistrationRotatesToken(t *testing.T) {
	m, _ := newManager(t, securityConfig())
	ctx := context.Background()

	e1, oldToken, err := m.Register(ctx, "builder", "arch-01")
	require.NoError(t, err)

	e2, newToken, err := m.Register(ctx, "builder", "arch-01")
	require.NoError(t, err)
	assert.Equal(t, e1.ID, e2.ID)
	assert.NotEqual(t, oldToken, newToken)

	// The old token is signed and unexpired but its hash no longer matches.
	_, err = m.Authenticate(ctx, oldToken)
	require.Error(t, err)
	assert.True(t, errdefs.Auth.Has(err))

	id, err := m.Authenticate(ctx, newToken)
	require.NoError(t, err)
	assert.Equal(t, e1.ID, id.EndpointID)
}

func TestAuthenticateRejectsGarbage(t *testing.T) {
	m, _ := newManager(t, securityConfig())
	ctx := context.Background()

	for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
		_, err := m.Authenticate(ctx, token)
		require.Error(t, err, "token %q", token)
		assert.True(t, errdefs.Auth.Has(err), "token %q", token)
	}
}

func TestAuthenticateRejectsExpiredToken(t *testing.T) {
	cfg := securityConfig()
	cfg.TokenTTL = -time.Minute
	m, _ := newManager(t, cfg)
	ctx := context.Background()

	_, token, err := m.Register(ctx, "builder", "arch-01")
	require.NoError(t, err)

	_, err = m.Authenticate(ctx, token)
	require.Error(t, err)
	assert.True(t, errdefs.Auth.Has(err))
}

func TestAdminToken(t *testing.T) {
	m, _ := newManager(t, securityConfig())
	ctx := context.Background()

	id, err := m.Authenticate(ctx, "admin-token")
	require.NoError(t, err)
	assert.True(t, id.Admin)
	assert.Empty(t, id.EndpointID)

	require.NoError(t, m.RequireAdmin(id))
	require.NoError(t, m.AuthorizeSelf(id, "any-endpoint"))
}

func TestAuthorizeSelfScoping(t *testing.T) {
	m, _ := newManager(t, securityConfig())
	ctx := context.Background()

	e, token, err := m.Register(ctx, "builder", "arch-01")
	require.NoError(t, err)
	id, err := m.Authenticate(ctx, token)
	require.NoError(t, err)

	require.NoError(t, m.AuthorizeSelf(id, e.ID))

	err = m.AuthorizeSelf(id, "someone-else")
	require.Error(t, err)
	assert.True(t, errdefs.Forbidden.Has(err))

	err = m.RequireAdmin(id)
	require.Error(t, err)
	assert.True(t, errdefs.Forbidden.Has(err))
}

func TestAuthenticateUnknownEndpoint(t *testing.T) {
	m, store := newManager(t, securityConfig())
	ctx := context.Background()

	e, token, err := m.Register(ctx, "builder", "arch-01")
	require.NoError(t, err)
	require.NoError(t, store.DeleteEndpoint(ctx, e.ID, false))

	_, err = m.Authenticate(ctx, token)
	require.Error(t, err)
	assert.True(t, errdefs.Auth.Has(err))
}
