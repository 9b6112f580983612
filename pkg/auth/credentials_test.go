package auth

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validAccount(name string) *Account {
	return &Account{Name: name, AccessToken: "1234-abcdefghijkl", AccessTokenSecret: "s3cr3t-value-xyz"}
}

func TestAccountValidate(t *testing.T) {
	assert.NoError(t, validAccount("alice").Validate())

	var nilAccount *Account
	assert.ErrorIs(t, nilAccount.Validate(), ErrInvalidCredential)
	assert.ErrorIs(t, (&Account{AccessToken: "a", AccessTokenSecret: "b"}).Validate(), ErrInvalidCredential)
	assert.ErrorIs(t, (&Account{Name: "a", AccessTokenSecret: "b"}).Validate(), ErrInvalidCredential)
	assert.ErrorIs(t, (&Account{Name: "a", AccessToken: "b"}).Validate(), ErrInvalidCredential)
}

func TestManagerSession(t *testing.T) {
	m, store := NewMockManager()

	_, err := m.Session("alice")
	assert.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, m.Store(validAccount("alice")))
	got, err := m.Session("alice")
	require.NoError(t, err)
	assert.Equal(t, "1234-abcdefghijkl", got.AccessToken)
	assert.False(t, got.LastModified.IsZero())

	store.Put(Account{Name: "broken", AccessToken: "only-half"})
	_, err = m.Session("broken")
	assert.ErrorIs(t, err, ErrInvalidCredential)
	assert.False(t, errors.Is(err, ErrNoCredential))

	_, err = m.Session("")
	assert.ErrorIs(t, err, ErrNoCredential)
}

func TestManagerSessionFallsBackAcrossStores(t *testing.T) {
	first := NewMockStore()
	second := NewMockStore()
	first.Put(Account{Name: "alice"})
	second.Put(*validAccount("alice"))

	m := NewManagerWithStores(first, second)
	got, err := m.Session("alice")
	require.NoError(t, err)
	assert.Equal(t, "s3cr3t-value-xyz", got.AccessTokenSecret)
}

func TestManagerStoreRejectsInvalid(t *testing.T) {
	m, store := NewMockManager()
	assert.ErrorIs(t, m.Store(&Account{Name: "x"}), ErrInvalidCredential)
	assert.Equal(t, 0, store.Count())
}

func TestManagerStoreFallsThrough(t *testing.T) {
	failing := NewMockStore()
	failing.StoreError = errors.New("disk full")
	working := NewMockStore()

	m := NewManagerWithStores(failing, working)
	require.NoError(t, m.Store(validAccount("bob")))
	assert.Equal(t, 1, working.Count())
}

func TestManagerListAndDelete(t *testing.T) {
	m, _ := NewMockManager()
	require.NoError(t, m.Store(validAccount("bob")))
	require.NoError(t, m.Store(validAccount("alice")))

	accounts, err := m.List()
	require.NoError(t, err)
	require.Len(t, accounts, 2)
	assert.Equal(t, "alice", accounts[0].Name)

	require.NoError(t, m.Delete("alice"))
	assert.ErrorIs(t, m.Delete("alice"), ErrNoCredential)
}

func TestEncryptedFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "credentials.enc")
	store, err := NewEncryptedFileStore(path, "correct horse")
	require.NoError(t, err)

	_, err = store.Retrieve("alice")
	assert.ErrorIs(t, err, ErrNoCredential)

	require.NoError(t, store.Store(validAccount("alice")))
	require.NoError(t, store.Store(validAccount("bob")))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "s3cr3t-value-xyz")

	got, err := store.Retrieve("alice")
	require.NoError(t, err)
	assert.Equal(t, "1234-abcdefghijkl", got.AccessToken)

	all, err := store.List()
	require.NoError(t, err)
	assert.Len(t, all, 2)

	require.NoError(t, store.Delete("alice"))
	require.NoError(t, store.Delete("bob"))
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err), "file removed with last account")
}

func TestEncryptedFileStoreWrongPassphrase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "credentials.enc")
	store, err := NewEncryptedFileStore(path, "one")
	require.NoError(t, err)
	require.NoError(t, store.Store(validAccount("alice")))

	other, err := NewEncryptedFileStore(path, "two")
	require.NoError(t, err)
	_, err = other.Retrieve("alice")
	require.Error(t, err)

	m := NewManagerWithStores(other)
	_, err = m.Session("alice")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestNewEncryptedFileStoreRequiresPassphrase(t *testing.T) {
	_, err := NewEncryptedFileStore(filepath.Join(t.TempDir(), "c.enc"), "")
	assert.Error(t, err)
}

func TestLoadPassphrase(t *testing.T) {
	dir := t.TempDir()

	t.Setenv(PassphraseEnv, "from-env")
	got, err := loadPassphrase(dir)
	require.NoError(t, err)
	assert.Equal(t, "from-env", got)

	t.Setenv(PassphraseEnv, "")
	generated, err := loadPassphrase(dir)
	require.NoError(t, err)
	assert.NotEmpty(t, generated)

	again, err := loadPassphrase(dir)
	require.NoError(t, err)
	assert.Equal(t, generated, again, "generated passphrase is persisted")
}

func TestEnvironmentStore(t *testing.T) {
	store := NewEnvironmentStore()

	t.Setenv(EnvAccessToken, "")
	t.Setenv(EnvAccessTokenSecret, "")
	_, err := store.Retrieve("default")
	assert.ErrorIs(t, err, ErrNoCredential)

	t.Setenv(EnvAccessToken, "tok")
	t.Setenv(EnvAccessTokenSecret, "sec")
	got, err := store.Retrieve("ops")
	require.NoError(t, err)
	assert.Equal(t, "ops", got.Name)
	assert.Equal(t, "tok", got.AccessToken)

	assert.ErrorIs(t, store.Store(got), ErrStoreUnavailable)
	assert.ErrorIs(t, store.Delete("ops"), ErrStoreUnavailable)

	t.Setenv(EnvAccessTokenSecret, "")
	_, err = NewManagerWithStores(store).Session("ops")
	assert.ErrorIs(t, err, ErrInvalidCredential)
}

func TestSanitizeAccount(t *testing.T) {
	s := SanitizeAccount(validAccount("alice"))
	assert.Equal(t, "1234...ijkl", s.AccessToken)
	assert.Equal(t, "s3cr...-xyz", s.AccessTokenSecret)
	assert.Equal(t, "********", maskString("short"))
	assert.Nil(t, SanitizeAccount(nil))
}
