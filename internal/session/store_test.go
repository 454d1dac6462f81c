package session

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/appdir"
	"github.com/sanjay8views/whatsapp-bsp-ui-nexus/internal/secrets"
)

// memStore is an in-memory SecretStore for tests.
type memStore struct {
	values map[string]string
}

func newMemStore() *memStore {
	return &memStore{values: make(map[string]string)}
}

func (m *memStore) key(service, account string) string { return service + "/" + account }

func (m *memStore) Get(service, account string) (string, error) {
	v, ok := m.values[m.key(service, account)]
	if !ok {
		return "", secrets.ErrNotFound
	}
	return v, nil
}

func (m *memStore) Set(service, account, password string) error {
	m.values[m.key(service, account)] = password
	return nil
}

func (m *memStore) Delete(service, account string) error {
	k := m.key(service, account)
	if _, ok := m.values[k]; !ok {
		return secrets.ErrNotFound
	}
	delete(m.values, k)
	return nil
}

func (m *memStore) IsSupported() bool { return true }

func useTempAppDir(t *testing.T) {
	t.Helper()
	appdir.ResetCache()
	t.Cleanup(appdir.ResetCache)
	t.Setenv(appdir.NexusDirEnv, t.TempDir())
}

// makeJWT builds an unsigned-but-well-formed HS256 token with the given expiry.
func makeJWT(t *testing.T, exp time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	claims, err := json.Marshal(map[string]any{"exp": exp.Unix(), "sub": "42"})
	if err != nil {
		t.Fatalf("marshal claims: %v", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(claims)
	sig := base64.RawURLEncoding.EncodeToString([]byte("not-a-real-signature"))
	return fmt.Sprintf("%s.%s.%s", header, payload, sig)
}

func TestToken_NoCredential(t *testing.T) {
	useTempAppDir(t)
	s := NewStore(WithSecretStore(newMemStore()))

	if _, err := s.Token(); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Token error = %v, want ErrNoCredential", err)
	}
}

func TestSetCredential_RoundTrip(t *testing.T) {
	useTempAppDir(t)
	store := newMemStore()

	s := NewStore(WithSecretStore(store))
	token := makeJWT(t, time.Now().Add(time.Hour))
	if err := s.SetCredential(Identity{ID: 7, Email: "op@example.com"}, token); err != nil {
		t.Fatalf("SetCredential failed: %v", err)
	}

	got, err := s.Token()
	if err != nil {
		t.Fatalf("Token failed: %v", err)
	}
	if got != token {
		t.Errorf("Token = %q, want %q", got, token)
	}

	// A fresh store must restore the persisted credential.
	restored := NewStore(WithSecretStore(store))
	got, err = restored.Token()
	if err != nil {
		t.Fatalf("restored Token failed: %v", err)
	}
	if got != token {
		t.Errorf("restored Token = %q, want %q", got, token)
	}
	id := restored.Identity()
	if id == nil || id.ID != 7 || id.Email != "op@example.com" {
		t.Errorf("restored Identity = %+v", id)
	}
}

func TestToken_Expired(t *testing.T) {
	useTempAppDir(t)
	s := NewStore(WithSecretStore(newMemStore()))

	token := makeJWT(t, time.Now().Add(-time.Minute))
	if err := s.SetCredential(Identity{ID: 1, Email: "op@example.com"}, token); err != nil {
		t.Fatalf("SetCredential failed: %v", err)
	}

	if _, err := s.Token(); !errors.Is(err, ErrCredentialExpired) {
		t.Errorf("Token error = %v, want ErrCredentialExpired", err)
	}
}

func TestToken_OpaqueTokenNotExpired(t *testing.T) {
	useTempAppDir(t)
	s := NewStore(WithSecretStore(newMemStore()))

	// Non-JWT tokens are opaque; only the backend can judge them.
	if err := s.SetCredential(Identity{ID: 1, Email: "op@example.com"}, "opaque-token"); err != nil {
		t.Fatalf("SetCredential failed: %v", err)
	}
	if _, err := s.Token(); err != nil {
		t.Errorf("Token failed for opaque token: %v", err)
	}
}

func TestClear(t *testing.T) {
	useTempAppDir(t)
	store := newMemStore()
	s := NewStore(WithSecretStore(store))

	if err := s.SetCredential(Identity{ID: 1, Email: "op@example.com"}, "tok"); err != nil {
		t.Fatalf("SetCredential failed: %v", err)
	}
	if err := s.Clear(); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := s.Token(); !errors.Is(err, ErrNoCredential) {
		t.Errorf("Token error after Clear = %v, want ErrNoCredential", err)
	}
	if s.Identity() != nil {
		t.Error("Identity not nil after Clear")
	}
}
