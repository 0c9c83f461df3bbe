package auth

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/deepnoodle-ai/rewind"
	"github.com/deepnoodle-ai/rewind/store"
)

func newTestService(t *testing.T) (*Service, *store.Store) {
	t.Helper()
	s, err := store.Open(filepath.Join(t.TempDir(), "rewind.db"), store.Options{})
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	service, err := NewService(context.Background(), s, "rootpass", nil,
		WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	return service, s
}

func TestService_BootstrapsRoot(t *testing.T) {
	ctx := context.Background()
	service, s := newTestService(t)

	root, err := s.GetUserByName(ctx, RootUsername)
	require.NoError(t, err)
	require.True(t, root.IsAdmin)

	logged, err := service.Login(ctx, RootUsername, "rootpass")
	require.NoError(t, err)
	require.Equal(t, root.ID, logged.ID)

	// A second bootstrap leaves the existing account alone.
	_, err = NewService(ctx, s, "different", nil, WithBcryptCost(bcrypt.MinCost))
	require.NoError(t, err)
	_, err = service.Login(ctx, RootUsername, "rootpass")
	require.NoError(t, err)
}

func TestService_RegisterAndLogin(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	user, err := service.Register(ctx, "alice", "secret123")
	require.NoError(t, err)
	require.False(t, user.IsAdmin)

	logged, err := service.Login(ctx, "alice", "secret123")
	require.NoError(t, err)
	require.Equal(t, user.ID, logged.ID)

	_, err = service.Login(ctx, "alice", "wrong")
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = service.Login(ctx, "nobody", "secret123")
	require.ErrorIs(t, err, ErrInvalidCredentials)

	// The stored credential is a hash, never the password.
	stored, err := service.store.GetUserByName(ctx, "alice")
	require.NoError(t, err)
	require.NotEqual(t, "secret123", stored.PasswordHash)
}

func TestService_RegisterValidation(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService(t)

	tests := []struct {
		name     string
		username string
		password string
		wantErr  error
	}{
		{"short username", "ab", "secret123", ErrInvalidUsername},
		{"bad characters", "not a name", "secret123", ErrInvalidUsername},
		{"short password", "alice", "hi", ErrInvalidPassword},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := service.Register(ctx, tt.username, tt.password)
			require.ErrorIs(t, err, tt.wantErr)
		})
	}

	_, err := service.Register(ctx, "alice", "secret123")
	require.NoError(t, err)
	_, err = service.Register(ctx, "alice", "othersecret")
	require.ErrorIs(t, err, store.ErrIntegrity)
}

func TestService_DeleteUserPermissions(t *testing.T) {
	ctx := context.Background()
	service, s := newTestService(t)

	root, err := s.GetUserByName(ctx, RootUsername)
	require.NoError(t, err)
	alice, err := service.Register(ctx, "alice", "secret123")
	require.NoError(t, err)
	bob, err := service.Register(ctx, "bob", "secret123")
	require.NoError(t, err)

	// Non-admins cannot delete anyone.
	require.ErrorIs(t, service.DeleteUser(ctx, alice, bob.ID), ErrForbidden)

	// Root cannot be deleted, even by an admin.
	require.ErrorIs(t, service.DeleteUser(ctx, root, root.ID), ErrForbidden)

	// Admin deletion cascades the user's sessions.
	external, err := s.CreateExternalSession(ctx, &rewind.ExternalSession{UserID: bob.ID, Name: "chat"})
	require.NoError(t, err)
	require.NoError(t, service.DeleteUser(ctx, root, bob.ID))
	_, err = s.GetUser(ctx, bob.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
	_, err = s.GetExternalSession(ctx, external.ID)
	require.ErrorIs(t, err, store.ErrNotFound)
}
