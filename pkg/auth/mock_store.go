package auth

import (
	"sync"
)

// MockStore is an in-memory CredentialStore with error injection.
type MockStore struct {
	mu       sync.RWMutex
	accounts map[string]*Account

	StoreError    error
	RetrieveError error
	ListError     error
	DeleteError   error
}

func NewMockStore() *MockStore {
	return &MockStore{accounts: make(map[string]*Account)}
}

func (m *MockStore) Store(account *Account) error {
	if m.StoreError != nil {
		return m.StoreError
	}
	if account == nil || account.Name == "" {
		return ErrInvalidCredential
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *account
	m.accounts[account.Name] = &cp
	return nil
}

// Put stores account without validation, for seeding broken records.
func (m *MockStore) Put(account Account) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accounts[account.Name] = &account
}

func (m *MockStore) Retrieve(name string) (*Account, error) {
	if m.RetrieveError != nil {
		return nil, m.RetrieveError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	account, ok := m.accounts[name]
	if !ok {
		return nil, ErrNoCredential
	}
	cp := *account
	return &cp, nil
}

func (m *MockStore) List() ([]*Account, error) {
	if m.ListError != nil {
		return nil, m.ListError
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Account, 0, len(m.accounts))
	for _, account := range m.accounts {
		cp := *account
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MockStore) Delete(name string) error {
	if m.DeleteError != nil {
		return m.DeleteError
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.accounts[name]; !ok {
		return ErrNoCredential
	}
	delete(m.accounts, name)
	return nil
}

// Count returns the number of stored accounts.
func (m *MockStore) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.accounts)
}

// NewMockManager creates a Manager backed by a single MockStore.
func NewMockManager() (*Manager, *MockStore) {
	store := NewMockStore()
	return NewManagerWithStores(store), store
}
