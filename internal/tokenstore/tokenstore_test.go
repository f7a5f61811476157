package tokenstore

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
)

func testToken() *oauth2.Token {
	return &oauth2.Token{
		AccessToken:  "access-abc",
		RefreshToken: "refresh-xyz",
		TokenType:    "Bearer",
		Expiry:       time.Now().Add(time.Hour).Truncate(time.Second),
	}
}

func TestFileStore_SaveLoadRoundtrip(t *testing.T) {
	store := NewFileStore(t.TempDir())
	id := Identity{Username: "user@example.com", Client: "musicmanager"}

	require.NoError(t, store.Save(id, testToken()))

	loaded, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "access-abc", loaded.AccessToken)
	assert.Equal(t, "refresh-xyz", loaded.RefreshToken)
	assert.Equal(t, "Bearer", loaded.TokenType)
}

func TestFileStore_LoadMissingReturnsErrNotFound(t *testing.T) {
	store := NewFileStore(t.TempDir())

	_, err := store.Load(Identity{Username: "nobody", Client: "musicmanager"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestFileStore_LoadRejectsEmptyAccessToken(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	id := Identity{Username: "user", Client: "musicmanager"}

	path := store.Path(id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), DirPerms))
	require.NoError(t, os.WriteFile(path, []byte(`{"refresh_token":"only"}`), FilePerms))

	_, err := store.Load(id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
	assert.Contains(t, err.Error(), "no access token")
}

func TestFileStore_LoadRejectsCorruptFile(t *testing.T) {
	dir := t.TempDir()
	store := NewFileStore(dir)
	id := Identity{Username: "user", Client: "musicmanager"}

	path := store.Path(id)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), DirPerms))
	require.NoError(t, os.WriteFile(path, []byte(`not json`), FilePerms))

	_, err := store.Load(id)
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotFound)
}

func TestFileStore_SaveOverwritesPrior(t *testing.T) {
	store := NewFileStore(t.TempDir())
	id := Identity{Username: "user", Client: "musicmanager"}

	require.NoError(t, store.Save(id, testToken()))

	updated := testToken()
	updated.AccessToken = "access-new"
	require.NoError(t, store.Save(id, updated))

	loaded, err := store.Load(id)
	require.NoError(t, err)
	assert.Equal(t, "access-new", loaded.AccessToken)

	// The temp file from the atomic write must not linger.
	entries, err := os.ReadDir(filepath.Dir(store.Path(id)))
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestFileStore_SaveSetsOwnerOnlyPermissions(t *testing.T) {
	store := NewFileStore(t.TempDir())
	id := Identity{Username: "user", Client: "musicmanager"}

	require.NoError(t, store.Save(id, testToken()))

	info, err := os.Stat(store.Path(id))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(FilePerms), info.Mode().Perm())
}

func TestFileStore_SaveNilTokenFails(t *testing.T) {
	store := NewFileStore(t.TempDir())

	err := store.Save(Identity{Username: "user", Client: "musicmanager"}, nil)
	require.Error(t, err)
}

func TestFileStore_IdentitiesAreIsolated(t *testing.T) {
	store := NewFileStore(t.TempDir())

	manager := Identity{Username: "user", Client: "musicmanager"}
	mobile := Identity{Username: "user", Client: "mobileclient"}

	managerTok := testToken()
	managerTok.AccessToken = "manager-token"
	require.NoError(t, store.Save(manager, managerTok))

	mobileTok := testToken()
	mobileTok.AccessToken = "mobile-token"
	require.NoError(t, store.Save(mobile, mobileTok))

	loaded, err := store.Load(manager)
	require.NoError(t, err)
	assert.Equal(t, "manager-token", loaded.AccessToken)

	loaded, err = store.Load(mobile)
	require.NoError(t, err)
	assert.Equal(t, "mobile-token", loaded.AccessToken)
}

func TestIdentity_String(t *testing.T) {
	id := Identity{Username: "user@example.com", Client: "musicmanager"}
	assert.Equal(t, "user@example.com/musicmanager", id.String())
}
