// Package session holds the authenticated operator identity and bearer
// credential, and exposes them to the REST gateway. The credential is
// persisted in the system keychain when available, falling back to a
// file under the Nexus data directory otherwise.
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	jose "github.com/go-jose/go-jose/v4"
	"github.com/go-jose/go-jose/v4/jwt"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/appdir"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/secrets"
)

var (
	// ErrNoCredential is returned when no bearer token is stored.
	ErrNoCredential = errors.New("no stored credential")

	// ErrCredentialExpired is returned when the stored token has expired.
	ErrCredentialExpired = errors.New("stored credential has expired")
)

// signatureAlgorithms lists the JWT algorithms the backend is known to issue.
// The token is never verified locally (the backend owns validation); the list
// only gates parsing.
var signatureAlgorithms = []jose.SignatureAlgorithm{jose.HS256, jose.RS256, jose.ES256}

// Identity describes the logged-in operator.
type Identity struct {
	ID    int64  `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

// credentialFile is the on-disk fallback format when no keychain is available.
type credentialFile struct {
	Identity Identity `json:"identity"`
	Token    string   `json:"token"`
}

// Store holds the current identity and credential.
// It is safe for concurrent use.
type Store struct {
	mu       sync.RWMutex
	identity *Identity
	token    string

	secretStore secrets.SecretStore
}

// Option configures the store.
type Option func(*Store)

// WithSecretStore overrides the platform secret store (used in tests).
func WithSecretStore(s secrets.SecretStore) Option {
	return func(st *Store) {
		st.secretStore = s
	}
}

// NewStore creates a session store and loads any persisted credential.
// A load failure is not an error; the store simply starts logged out.
func NewStore(opts ...Option) *Store {
	s := &Store{
		secretStore: secrets.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

// SetCredential stores the identity and bearer token, persisting them
// for future runs.
func (s *Store) SetCredential(identity Identity, token string) error {
	s.mu.Lock()
	s.identity = &identity
	s.token = token
	s.mu.Unlock()

	return s.persist(identity, token)
}

// Clear removes the stored credential (logout).
func (s *Store) Clear() error {
	s.mu.Lock()
	s.identity = nil
	s.token = ""
	s.mu.Unlock()

	if s.secretStore.IsSupported() {
		if err := s.secretStore.Delete(secrets.ServiceName, secrets.AccountAPIToken); err != nil && !errors.Is(err, secrets.ErrNotFound) {
			return err
		}
	}
	path, err := appdir.CredentialPath()
	if err != nil {
		return err
	}
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Identity returns the current operator identity, or nil when logged out.
func (s *Store) Identity() *Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.identity == nil {
		return nil
	}
	id := *s.identity
	return &id
}

// Token returns the current bearer token. It fails with ErrNoCredential
// when logged out and ErrCredentialExpired when the token's JWT expiry
// has passed, so callers can fail fast before any network call.
func (s *Store) Token() (string, error) {
	s.mu.RLock()
	token := s.token
	s.mu.RUnlock()

	if token == "" {
		return "", ErrNoCredential
	}
	if expired, err := tokenExpired(token, time.Now()); err == nil && expired {
		return "", ErrCredentialExpired
	}
	return token, nil
}

// tokenExpired inspects the token's JWT claims without verifying the
// signature. Tokens that do not parse as JWTs are treated as opaque and
// never considered locally expired.
func tokenExpired(token string, now time.Time) (bool, error) {
	parsed, err := jwt.ParseSigned(token, signatureAlgorithms)
	if err != nil {
		return false, err
	}
	var claims jwt.Claims
	if err := parsed.UnsafeClaimsWithoutVerification(&claims); err != nil {
		return false, err
	}
	if claims.Expiry == nil {
		return false, nil
	}
	return claims.Expiry.Time().Before(now), nil
}

// load restores a persisted credential, preferring the keychain.
func (s *Store) load() {
	if s.secretStore.IsSupported() {
		if token, err := s.secretStore.Get(secrets.ServiceName, secrets.AccountAPIToken); err == nil && token != "" {
			s.mu.Lock()
			s.token = token
			s.mu.Unlock()
			// Identity still comes from the fallback file, if present.
			s.loadIdentityFromFile()
			return
		}
	}
	s.loadFromFile()
}

func (s *Store) loadFromFile() {
	path, err := appdir.CredentialPath()
	if err != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var cf credentialFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return
	}
	s.mu.Lock()
	s.identity = &cf.Identity
	s.token = cf.Token
	s.mu.Unlock()
}

func (s *Store) loadIdentityFromFile() {
	path, err := appdir.CredentialPath()
	if err != nil {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	var cf credentialFile
	if err := json.Unmarshal(data, &cf); err != nil {
		return
	}
	s.mu.Lock()
	s.identity = &cf.Identity
	s.mu.Unlock()
}

// persist writes the credential to the keychain when supported. The
// identity (and, without a keychain, the token) goes to the fallback file.
func (s *Store) persist(identity Identity, token string) error {
	cf := credentialFile{Identity: identity}

	if s.secretStore.IsSupported() {
		if err := s.secretStore.Set(secrets.ServiceName, secrets.AccountAPIToken, token); err != nil {
			return fmt.Errorf("store credential: %w", err)
		}
	} else {
		cf.Token = token
	}

	if err := appdir.EnsureDir(); err != nil {
		return err
	}
	path, err := appdir.CredentialPath()
	if err != nil {
		return err
	}
	data, err := json.MarshalIndent(cf, "", "  ")
	if err != nil {
		return fmt.Errorf("store credential: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	return nil
}
