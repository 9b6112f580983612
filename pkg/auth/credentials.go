package auth

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"time"
)

// Errors
var (
	// ErrNoCredential means nothing is on file for the requested name.
	ErrNoCredential = errors.New("no credential configured")
	// ErrInvalidCredential means a record exists but cannot be used.
	ErrInvalidCredential = errors.New("invalid credential")
	// ErrStoreUnavailable is returned by stores that cannot perform an operation.
	ErrStoreUnavailable = errors.New("credential store unavailable")
)

// Account holds the OAuth user-context token pair for one upstream account.
// The application's consumer key and secret live in configuration.
type Account struct {
	Name              string    `json:"name"`
	AccessToken       string    `json:"access_token"`
	AccessTokenSecret string    `json:"access_token_secret"`
	LastModified      time.Time `json:"last_modified"`
}

// Validate reports whether the account carries a usable token pair.
func (a *Account) Validate() error {
	switch {
	case a == nil:
		return fmt.Errorf("%w: empty record", ErrInvalidCredential)
	case a.Name == "":
		return fmt.Errorf("%w: name is required", ErrInvalidCredential)
	case a.AccessToken == "":
		return fmt.Errorf("%w: access token is missing for %s", ErrInvalidCredential, a.Name)
	case a.AccessTokenSecret == "":
		return fmt.Errorf("%w: access token secret is missing for %s", ErrInvalidCredential, a.Name)
	}
	return nil
}

// CredentialStore is the interface for storing and retrieving credentials
type CredentialStore interface {
	Store(account *Account) error
	// Retrieve returns ErrNoCredential when the name is unknown to the store.
	Retrieve(name string) (*Account, error)
	List() ([]*Account, error)
	Delete(name string) error
}

// Manager handles credential storage with fallback mechanisms
type Manager struct {
	stores []CredentialStore
}

// NewManager creates a manager over the system keyring (when available), an
// encrypted file in the user config directory, and the environment.
func NewManager() (*Manager, error) {
	var stores []CredentialStore

	if keyringStore, err := NewKeyringStore(); err == nil {
		stores = append(stores, keyringStore)
	}

	configDir, err := ConfigDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get config directory: %w", err)
	}

	passphrase, err := loadPassphrase(configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to get passphrase: %w", err)
	}

	encryptedStore, err := NewEncryptedFileStore(filepath.Join(configDir, "credentials.enc"), passphrase)
	if err != nil {
		return nil, fmt.Errorf("failed to create encrypted store: %w", err)
	}
	stores = append(stores, encryptedStore, NewEnvironmentStore())

	return &Manager{stores: stores}, nil
}

// NewManagerWithStores builds a manager over explicit stores, tried in order.
func NewManagerWithStores(stores ...CredentialStore) *Manager {
	return &Manager{stores: stores}
}

// Store saves credentials using the first store that accepts them
func (m *Manager) Store(account *Account) error {
	if err := account.Validate(); err != nil {
		return err
	}
	account.LastModified = time.Now().UTC()

	var lastErr error
	for _, store := range m.stores {
		if err := store.Store(account); err != nil {
			lastErr = err
			continue
		}
		return nil
	}

	if lastErr != nil {
		return fmt.Errorf("failed to store credentials: %w", lastErr)
	}
	return ErrStoreUnavailable
}

// Session resolves name to a usable credential. It returns ErrNoCredential
// when no store knows the name, and an error wrapping ErrInvalidCredential
// when a record exists but is incomplete or unreadable and no other store
// has a valid one.
func (m *Manager) Session(name string) (*Account, error) {
	if name == "" {
		return nil, fmt.Errorf("%w: no account name given", ErrNoCredential)
	}

	var invalid error
	for _, store := range m.stores {
		account, err := store.Retrieve(name)
		switch {
		case err == nil:
			if verr := account.Validate(); verr != nil {
				invalid = verr
				continue
			}
			return account, nil
		case errors.Is(err, ErrNoCredential), errors.Is(err, ErrStoreUnavailable):
			continue
		default:
			invalid = fmt.Errorf("%w: %v", ErrInvalidCredential, err)
		}
	}

	if invalid != nil {
		return nil, invalid
	}
	return nil, fmt.Errorf("%w for %s", ErrNoCredential, name)
}

// List returns all stored accounts, keeping the most recently modified copy
// when several stores hold the same name.
func (m *Manager) List() ([]*Account, error) {
	byName := make(map[string]*Account)

	for _, store := range m.stores {
		accounts, err := store.List()
		if err != nil {
			continue
		}
		for _, account := range accounts {
			if existing, ok := byName[account.Name]; !ok || account.LastModified.After(existing.LastModified) {
				byName[account.Name] = account
			}
		}
	}

	result := make([]*Account, 0, len(byName))
	for _, account := range byName {
		result = append(result, account)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result, nil
}

// Delete removes credentials from all stores
func (m *Manager) Delete(name string) error {
	deleted := false
	var lastErr error

	for _, store := range m.stores {
		err := store.Delete(name)
		switch {
		case err == nil:
			deleted = true
		case errors.Is(err, ErrNoCredential), errors.Is(err, ErrStoreUnavailable):
		default:
			lastErr = err
		}
	}

	if deleted {
		return nil
	}
	if lastErr != nil {
		return fmt.Errorf("failed to delete credentials: %w", lastErr)
	}
	return fmt.Errorf("%w for %s", ErrNoCredential, name)
}

// ConfigDir returns the per-user configuration directory, creating it if
// needed.
func ConfigDir() (string, error) {
	var configDir string

	switch runtime.GOOS {
	case "darwin":
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		configDir = filepath.Join(home, "Library", "Application Support", "twarchive")
	case "windows":
		configDir = filepath.Join(os.Getenv("APPDATA"), "twarchive")
	default:
		if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
			configDir = filepath.Join(xdg, "twarchive")
		} else {
			home, err := os.UserHomeDir()
			if err != nil {
				return "", err
			}
			configDir = filepath.Join(home, ".config", "twarchive")
		}
	}

	if err := os.MkdirAll(configDir, 0700); err != nil {
		return "", fmt.Errorf("failed to create config directory: %w", err)
	}
	return configDir, nil
}

// SanitizeAccount creates a copy of the account with secrets masked
func SanitizeAccount(account *Account) *Account {
	if account == nil {
		return nil
	}
	return &Account{
		Name:              account.Name,
		AccessToken:       maskString(account.AccessToken),
		AccessTokenSecret: maskString(account.AccessTokenSecret),
		LastModified:      account.LastModified,
	}
}

func maskString(s string) string {
	if len(s) <= 8 {
		return "********"
	}
	return s[:4] + "..." + s[len(s)-4:]
}
