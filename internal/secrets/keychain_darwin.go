//go:build darwin

package secrets

import (
	"errors"

	"github.com/keybase/go-keychain"
)

func platformStore() SecretStore {
	return &keychainStore{}
}

// keychainStore backs SecretStore with the macOS Keychain. Items are
// generic passwords, non-synchronizable, readable only while the
// keychain is unlocked.
type keychainStore struct{}

func (k *keychainStore) IsSupported() bool { return true }

func (k *keychainStore) Get(service, account string) (string, error) {
	query := keychain.NewItem()
	query.SetSecClass(keychain.SecClassGenericPassword)
	query.SetService(service)
	query.SetAccount(account)
	query.SetMatchLimit(keychain.MatchLimitOne)
	query.SetReturnData(true)

	results, err := keychain.QueryItem(query)
	switch {
	case errors.Is(err, keychain.ErrorItemNotFound):
		return "", ErrNotFound
	case err != nil:
		return "", err
	case len(results) == 0:
		return "", ErrNotFound
	}
	return string(results[0].Data), nil
}

func (k *keychainStore) Set(service, account, password string) error {
	item := newItem(service, account)
	item.SetLabel(service + " - " + account)
	item.SetData([]byte(password))
	item.SetSynchronizable(keychain.SynchronizableNo)
	item.SetAccessible(keychain.AccessibleWhenUnlocked)

	err := keychain.AddItem(item)
	if !errors.Is(err, keychain.ErrorDuplicateItem) {
		return err
	}

	// Already stored: update the payload in place.
	update := keychain.NewItem()
	update.SetData([]byte(password))
	return keychain.UpdateItem(newItem(service, account), update)
}

func (k *keychainStore) Delete(service, account string) error {
	err := keychain.DeleteItem(newItem(service, account))
	if errors.Is(err, keychain.ErrorItemNotFound) {
		return ErrNotFound
	}
	return err
}

func newItem(service, account string) keychain.Item {
	item := keychain.NewItem()
	item.SetSecClass(keychain.SecClassGenericPassword)
	item.SetService(service)
	item.SetAccount(account)
	return item
}
