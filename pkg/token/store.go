// Package token implements the file-backed capability token registry used to
// authenticate API callers.
//
// Secrets are generated once at creation time and returned to the caller;
// only their SHA-256 hash is ever persisted. All read-modify-write cycles on
// the registry file are serialized behind a single mutex so concurrent
// verifications cannot lose last_used or active updates.
package token

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"arkived/internal/logger"
	"arkived/pkg/archive"
)

// Info is the externally visible view of a token. It never carries the hash
// or the secret.
type Info struct {
	Permissions []archive.Permission `json:"permissions"`
	CreatedAt   time.Time            `json:"created_at"`
	LastUsed    *time.Time           `json:"last_used,omitempty"`
	Active      bool                 `json:"active"`
	Description string               `json:"description,omitempty"`
}

// entry is the persisted form of a token.
type entry struct {
	TokenHash   string               `json:"token_hash"`
	Permissions []archive.Permission `json:"permissions"`
	CreatedAt   time.Time            `json:"created_at"`
	LastUsed    *time.Time           `json:"last_used,omitempty"`
	Active      bool                 `json:"active"`
	RevokedAt   *time.Time           `json:"revoked_at,omitempty"`
	Description string               `json:"description,omitempty"`
}

type registry struct {
	Tokens map[string]*entry `json:"tokens"`
}

// Store persists hashed capability tokens with permission sets and verifies
// presented credentials against them.
type Store struct {
	mu   sync.Mutex
	path string
}

// NewStore opens (or creates) the token registry at path.
func NewStore(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create token registry directory: %w", err)
	}

	s := &Store{path: path}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := s.save(&registry{Tokens: make(map[string]*entry)}); err != nil {
			return nil, err
		}
	}

	logger.Info("Token store ready at %s", path)
	return s, nil
}

// Create registers a new token and returns its raw secret. The secret is not
// recoverable afterwards. A token name can only be used once; creating a
// second token under the same name fails with archive.ErrDuplicateName
// (overwriting an existing credential silently would mask revocations).
func (s *Store) Create(name string, permissions []archive.Permission, description string) (string, error) {
	if name == "" {
		return "", archive.NewValidationError("name", "must not be empty")
	}
	if len(permissions) == 0 {
		permissions = []archive.Permission{archive.PermissionRead}
	}
	for _, p := range permissions {
		if !p.Valid() {
			return "", archive.NewValidationError("permissions", fmt.Sprintf("unknown permission %q", p))
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return "", err
	}

	if _, exists := reg.Tokens[name]; exists {
		return "", fmt.Errorf("token %q: %w", name, archive.ErrDuplicateName)
	}

	secret, err := generateSecret()
	if err != nil {
		return "", err
	}

	reg.Tokens[name] = &entry{
		TokenHash:   hashSecret(secret),
		Permissions: permissions,
		CreatedAt:   time.Now(),
		Active:      true,
		Description: description,
	}

	if err := s.save(reg); err != nil {
		return "", err
	}

	logger.Info("Created token %q with permissions %v", name, permissions)
	return secret, nil
}

// Verify hashes the presented secret and scans active tokens for a match
// holding the required permission. On success it updates last_used and
// returns the token name. On any failure (unknown secret, inactive token,
// insufficient permission) it returns "" without distinguishing the reason.
func (s *Store) Verify(secret string, required archive.Permission) string {
	if secret == "" {
		return ""
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		logger.Error("Token registry unreadable during verification: %v", err)
		return ""
	}

	presented := hashSecret(secret)

	for name, tok := range reg.Tokens {
		if !tok.Active {
			continue
		}
		if subtle.ConstantTimeCompare([]byte(tok.TokenHash), []byte(presented)) != 1 {
			continue
		}
		if !hasPermission(tok.Permissions, required) {
			logger.Warn("Token %q lacks %s permission", name, required)
			return ""
		}

		now := time.Now()
		tok.LastUsed = &now
		if err := s.save(reg); err != nil {
			// Verification stands; only the usage timestamp was lost.
			logger.Warn("Failed to persist last_used for token %q: %v", name, err)
		}
		return name
	}

	logger.Warn("Rejected credential with no matching active token")
	return ""
}

// Revoke marks the named token inactive and records revoked_at. Revoking an
// already-revoked or unknown token returns false and leaves the original
// revoked_at untouched.
func (s *Store) Revoke(name string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return false, err
	}

	tok, ok := reg.Tokens[name]
	if !ok || !tok.Active {
		return false, nil
	}

	now := time.Now()
	tok.Active = false
	tok.RevokedAt = &now

	if err := s.save(reg); err != nil {
		return false, err
	}

	logger.Info("Revoked token %q", name)
	return true, nil
}

// List returns every registered token's metadata, keyed by name. Hashes and
// secrets are never included.
func (s *Store) List() (map[string]Info, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return nil, err
	}

	out := make(map[string]Info, len(reg.Tokens))
	for name, tok := range reg.Tokens {
		out[name] = Info{
			Permissions: append([]archive.Permission(nil), tok.Permissions...),
			CreatedAt:   tok.CreatedAt,
			LastUsed:    tok.LastUsed,
			Active:      tok.Active,
			Description: tok.Description,
		}
	}
	return out, nil
}

// Stats summarizes registry state for the status endpoints.
type Stats struct {
	TotalTokens      int    `json:"total_tokens"`
	ActiveTokens     int    `json:"active_tokens"`
	MostRecentAccess string `json:"most_recent_access,omitempty"`
}

// GetStats returns aggregate token counts and the most recently used token
// name.
func (s *Store) GetStats() (Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reg, err := s.load()
	if err != nil {
		return Stats{}, err
	}

	stats := Stats{TotalTokens: len(reg.Tokens)}
	var latest time.Time
	for name, tok := range reg.Tokens {
		if tok.Active {
			stats.ActiveTokens++
		}
		if tok.LastUsed != nil && tok.LastUsed.After(latest) {
			latest = *tok.LastUsed
			stats.MostRecentAccess = name
		}
	}
	return stats, nil
}

// Path returns the location of the registry file. The backup engine snapshots
// this file directly.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) load() (*registry, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("failed to read token registry: %w", err)
	}

	var reg registry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("failed to decode token registry: %w", err)
	}
	if reg.Tokens == nil {
		reg.Tokens = make(map[string]*entry)
	}
	return &reg, nil
}

func (s *Store) save(reg *registry) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode token registry: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write token registry: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace token registry: %w", err)
	}
	return nil
}

func hasPermission(perms []archive.Permission, required archive.Permission) bool {
	for _, p := range perms {
		if p == required {
			return true
		}
	}
	return false
}

func hashSecret(secret string) string {
	sum := sha256.Sum256([]byte(secret))
	return hex.EncodeToString(sum[:])
}

func generateSecret() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("failed to generate token secret: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
