package auth

import (
	"os"
	"time"
)

// Environment variables read by EnvironmentStore.
const (
	EnvAccessToken       = "TWARCHIVE_ACCESS_TOKEN"
	EnvAccessTokenSecret = "TWARCHIVE_ACCESS_TOKEN_SECRET"
)

// EnvironmentStore serves a single read-only credential from the
// environment, under whatever name is asked for.
type EnvironmentStore struct{}

func NewEnvironmentStore() *EnvironmentStore {
	return &EnvironmentStore{}
}

func (e *EnvironmentStore) Store(account *Account) error {
	return ErrStoreUnavailable
}

func (e *EnvironmentStore) Retrieve(name string) (*Account, error) {
	token := os.Getenv(EnvAccessToken)
	secret := os.Getenv(EnvAccessTokenSecret)
	if token == "" && secret == "" {
		return nil, ErrNoCredential
	}
	if name == "" {
		name = "default"
	}
	// A half-set pair is returned as-is so Session reports it as invalid.
	return &Account{
		Name:              name,
		AccessToken:       token,
		AccessTokenSecret: secret,
		LastModified:      time.Time{},
	}, nil
}

func (e *EnvironmentStore) List() ([]*Account, error) {
	account, err := e.Retrieve("")
	if err != nil {
		return []*Account{}, nil
	}
	return []*Account{account}, nil
}

func (e *EnvironmentStore) Delete(name string) error {
	return ErrStoreUnavailable
}
