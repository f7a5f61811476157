// Package tokenstore persists OAuth2 tokens for (username, client) identities.
// One JSON file per identity under an application data directory. This is a
// leaf package imported by both the client core and the CLI so neither needs
// to know the on-disk layout.
//
// Writers are not synchronized across processes: the last writer wins. Callers
// running multiple instances against the same directory must serialize
// externally.
package tokenstore

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"golang.org/x/oauth2"
)

// FilePerms restricts token files to owner-only read/write.
const FilePerms = 0o600

// DirPerms is used when creating per-username token directories.
const DirPerms = 0o700

// tokenExt is the file extension for stored tokens.
const tokenExt = ".token"

// ErrNotFound signals that no token is stored for the identity. It is a
// normal "not yet authorized" condition, not corruption.
var ErrNotFound = errors.New("tokenstore: no stored token")

// Identity scopes a stored credential to one account and client kind
// (e.g. "musicmanager" vs "mobileclient" tokens for the same user are
// stored separately).
type Identity struct {
	Username string
	Client   string
}

// String returns the identity in "username/client" form for logging.
func (id Identity) String() string {
	return id.Username + "/" + id.Client
}

// Store is the credential persistence contract. Any backend (file, keychain,
// remote secret store) implements it.
type Store interface {
	// Load retrieves the token for the identity. Returns ErrNotFound when
	// no token has been stored.
	Load(id Identity) (*oauth2.Token, error)

	// Save persists the token for the identity, replacing any prior one.
	Save(id Identity, tok *oauth2.Token) error
}

// FileStore stores one token file per identity at <dir>/<username>/<client>.token.
type FileStore struct {
	dir string
}

// NewFileStore creates a FileStore rooted at dir. An empty dir falls back to
// the platform data directory for the application.
func NewFileStore(dir string) *FileStore {
	if dir == "" {
		dir = DefaultDir()
	}

	return &FileStore{dir: dir}
}

// Path returns the token file path for the identity.
func (s *FileStore) Path(id Identity) string {
	return filepath.Join(s.dir, id.Username, id.Client+tokenExt)
}

// Load reads the stored token for the identity. A missing file maps to
// ErrNotFound; any other read or decode failure is an error.
func (s *FileStore) Load(id Identity) (*oauth2.Token, error) {
	path := s.Path(id)

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w for %s", ErrNotFound, id)
	}

	if err != nil {
		return nil, fmt.Errorf("tokenstore: reading %s: %w", path, err)
	}

	var tok oauth2.Token
	if err := json.Unmarshal(data, &tok); err != nil {
		return nil, fmt.Errorf("tokenstore: decoding %s: %w", path, err)
	}

	if tok.AccessToken == "" {
		return nil, fmt.Errorf("tokenstore: %s has no access token (re-login required)", path)
	}

	return &tok, nil
}

// Save writes the token file atomically (write-to-temp + rename) with 0600
// permissions. Never logs token values.
func (s *FileStore) Save(id Identity, tok *oauth2.Token) error {
	if tok == nil {
		return fmt.Errorf("tokenstore: nil token for %s", id)
	}

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("tokenstore: encoding: %w", err)
	}

	path := s.Path(id)

	dir := filepath.Dir(path)
	if mkErr := os.MkdirAll(dir, DirPerms); mkErr != nil {
		return fmt.Errorf("tokenstore: creating directory %s: %w", dir, mkErr)
	}

	// Atomic write: temp file in the same directory, then rename.
	// Same directory guarantees same filesystem for rename(2).
	tmp, err := os.CreateTemp(dir, ".token-*.tmp")
	if err != nil {
		return fmt.Errorf("tokenstore: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, FilePerms); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: writing: %w", err)
	}

	// Flush to stable storage before rename so a power loss between close and
	// rename cannot leave an empty or partial token file at the final path.
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("tokenstore: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("tokenstore: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("tokenstore: renaming: %w", err)
	}

	success = true

	return nil
}
