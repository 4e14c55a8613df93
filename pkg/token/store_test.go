package token

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"arkived/pkg/archive"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "auth_tokens.json"))
	require.NoError(t, err)
	return store
}

func TestCreateAndVerify(t *testing.T) {
	store := newTestStore(t)

	secret, err := store.Create("percy", []archive.Permission{archive.PermissionRead, archive.PermissionWrite}, "primary")
	require.NoError(t, err)
	require.NotEmpty(t, secret)

	if name := store.Verify(secret, archive.PermissionRead); name != "percy" {
		t.Errorf("Verify() = %q, want %q", name, "percy")
	}
	if name := store.Verify(secret, archive.PermissionWrite); name != "percy" {
		t.Errorf("Verify() with write = %q, want %q", name, "percy")
	}
}

func TestVerifyFailuresAreUniform(t *testing.T) {
	store := newTestStore(t)

	secret, err := store.Create("reader", []archive.Permission{archive.PermissionRead}, "")
	require.NoError(t, err)

	tests := []struct {
		name     string
		secret   string
		required archive.Permission
	}{
		{"unknown secret", "not-a-real-secret", archive.PermissionRead},
		{"insufficient permission", secret, archive.PermissionDelete},
		{"empty secret", "", archive.PermissionRead},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := store.Verify(tt.secret, tt.required); got != "" {
				t.Errorf("Verify() = %q, want empty", got)
			}
		})
	}
}

func TestVerifyRevokedToken(t *testing.T) {
	store := newTestStore(t)

	secret, err := store.Create("temp", []archive.Permission{archive.PermissionRead}, "")
	require.NoError(t, err)

	ok, err := store.Revoke("temp")
	require.NoError(t, err)
	require.True(t, ok)

	if got := store.Verify(secret, archive.PermissionRead); got != "" {
		t.Errorf("Verify() after revoke = %q, want empty", got)
	}
}

func TestRevokeIsIdempotent(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create("once", []archive.Permission{archive.PermissionRead}, "")
	require.NoError(t, err)

	ok, err := store.Revoke("once")
	require.NoError(t, err)
	assert.True(t, ok)

	tokens, err := store.List()
	require.NoError(t, err)
	first := tokens["once"]
	require.False(t, first.Active)

	// Second revoke is a no-op and must not touch revoked_at.
	ok, err = store.Revoke("once")
	require.NoError(t, err)
	assert.False(t, ok)

	reg, err := store.load()
	require.NoError(t, err)
	require.NotNil(t, reg.Tokens["once"].RevokedAt)

	beforeSecond := *reg.Tokens["once"].RevokedAt
	_, err = store.Revoke("once")
	require.NoError(t, err)

	reg, err = store.load()
	require.NoError(t, err)
	assert.Equal(t, beforeSecond, *reg.Tokens["once"].RevokedAt)
}

func TestRevokeUnknownToken(t *testing.T) {
	store := newTestStore(t)

	ok, err := store.Revoke("ghost")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCreateDuplicateName(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create("dup", []archive.Permission{archive.PermissionRead}, "")
	require.NoError(t, err)

	_, err = store.Create("dup", []archive.Permission{archive.PermissionRead}, "")
	assert.ErrorIs(t, err, archive.ErrDuplicateName)
}

func TestCreateRejectsInvalidPermission(t *testing.T) {
	store := newTestStore(t)

	_, err := store.Create("typo", []archive.Permission{"wriet"}, "")
	assert.True(t, archive.IsValidation(err), "expected validation error, got %v", err)
}

func TestListNeverExposesHashes(t *testing.T) {
	store := newTestStore(t)

	secret, err := store.Create("safe", []archive.Permission{archive.PermissionRead}, "desc")
	require.NoError(t, err)

	tokens, err := store.List()
	require.NoError(t, err)

	info, ok := tokens["safe"]
	require.True(t, ok)
	assert.Equal(t, "desc", info.Description)
	assert.True(t, info.Active)
	assert.NotContains(t, info.Description, secret)
}

func TestVerifyUpdatesLastUsed(t *testing.T) {
	store := newTestStore(t)

	secret, err := store.Create("tracked", []archive.Permission{archive.PermissionRead}, "")
	require.NoError(t, err)

	tokens, err := store.List()
	require.NoError(t, err)
	require.Nil(t, tokens["tracked"].LastUsed)

	require.Equal(t, "tracked", store.Verify(secret, archive.PermissionRead))

	tokens, err = store.List()
	require.NoError(t, err)
	assert.NotNil(t, tokens["tracked"].LastUsed)
}

func TestGetStats(t *testing.T) {
	store := newTestStore(t)

	secret, err := store.Create("alpha", []archive.Permission{archive.PermissionRead}, "")
	require.NoError(t, err)
	_, err = store.Create("beta", []archive.Permission{archive.PermissionRead}, "")
	require.NoError(t, err)

	_, err = store.Revoke("beta")
	require.NoError(t, err)

	store.Verify(secret, archive.PermissionRead)

	stats, err := store.GetStats()
	require.NoError(t, err)
	assert.Equal(t, 2, stats.TotalTokens)
	assert.Equal(t, 1, stats.ActiveTokens)
	assert.Equal(t, "alpha", stats.MostRecentAccess)
}
