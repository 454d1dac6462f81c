// Package secrets abstracts secure credential storage. On macOS the
// bearer token lives in the system Keychain; elsewhere the store
// reports unsupported and the session layer falls back to a file under
// the Nexus data directory.
package secrets

import "errors"

// ServiceName identifies Nexus entries in the system keychain.
const ServiceName = "Nexus"

// AccountAPIToken is the keychain account under which the backend
// bearer token is stored.
const AccountAPIToken = "api-token"

// ErrNotFound is returned when the requested credential does not exist.
var ErrNotFound = errors.New("credential not found")

// ErrNotSupported is returned by every operation on platforms without a
// secure store.
var ErrNotSupported = errors.New("secret store not supported on this platform")

// SecretStore is the platform credential store.
// Implementations must be safe for concurrent use.
type SecretStore interface {
	// Get retrieves the credential for service/account, or ErrNotFound.
	Get(service, account string) (string, error)

	// Set stores or replaces the credential for service/account.
	Set(service, account, password string) error

	// Delete removes the credential, or returns ErrNotFound.
	Delete(service, account string) error

	// IsSupported reports whether the store is functional here.
	IsSupported() bool
}

// Default returns the credential store for the current platform. It
// never returns nil; unsupported platforms get a NoopStore.
func Default() SecretStore {
	return platformStore()
}
