package resolver

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"twarchive/pkg/auth"
	"twarchive/pkg/config"
	errs "twarchive/pkg/errors"
	"twarchive/pkg/logger"
	"twarchive/pkg/ratelimit"
	"twarchive/pkg/store"
	"twarchive/pkg/twitter"
)

type fakeUpstream struct {
	byHandle map[string]*twitter.User
	byID     map[int64]*twitter.User
	err      error
	calls    int
}

func newFakeUpstream(users ...*twitter.User) *fakeUpstream {
	f := &fakeUpstream{byHandle: map[string]*twitter.User{}, byID: map[int64]*twitter.User{}}
	for _, u := range users {
		f.byHandle[strings.ToLower(u.ScreenName)] = u
		f.byID[u.ID] = u
	}
	return f
}

func (f *fakeUpstream) LookupByHandle(_ context.Context, handle string) (*twitter.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.byHandle[strings.ToLower(handle)]; ok {
		return u, nil
	}
	return nil, errs.New(errs.ErrorTypeNotFound, 404, "User not found.")
}

func (f *fakeUpstream) LookupByID(_ context.Context, id int64) (*twitter.User, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	if u, ok := f.byID[id]; ok {
		return u, nil
	}
	return nil, errs.New(errs.ErrorTypeNotFound, 404, "User not found.")
}

func (f *fakeUpstream) RateLimit() ratelimit.Advisory { return ratelimit.Advisory{} }

type countingWaiter struct{ waits int }

func (w *countingWaiter) Wait(ctx context.Context) error {
	w.waits++
	return ctx.Err()
}

func setup(t *testing.T, up Upstream) (*Resolver, *store.Store, *countingWaiter) {
	t.Helper()
	st, err := store.Open(context.Background(), config.DatabaseConfig{
		Driver: store.DriverSQLite,
		DSN:    filepath.Join(t.TempDir(), "resolver.db"),
	}, logger.NewNopLogger())
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	w := &countingWaiter{}
	return New(st, up, w, logger.NewTestLogger()), st, w
}

func TestNormalizeHandle(t *testing.T) {
	tests := map[string]string{
		" @Foo ":                           "Foo",
		"Foo":                              "Foo",
		"@@foo":                            "foo",
		"\t@ bar \n":                       "bar",
		"https://twitter.com/jack":         "jack",
		"http://mobile.twitter.com/Jack/":  "Jack",
		"https://x.com/TwitterDev?lang=en": "TwitterDev",
		"":                                 "",
	}
	for in, want := range tests {
		got := NormalizeHandle(in)
		assert.Equal(t, want, got, "input %q", in)
		assert.Equal(t, got, NormalizeHandle(got), "idempotent for %q", in)
	}
}

func TestCreateActiveValidatesUpstream(t *testing.T) {
	up := newFakeUpstream(&twitter.User{ID: 12, ScreenName: "Jack"})
	r, _, w := setup(t, up)
	ctx := context.Background()

	a, err := r.Create(ctx, " @jack ", true)
	require.NoError(t, err)
	assert.Equal(t, "Jack", a.Handle, "canonical casing from upstream")
	assert.Equal(t, int64(12), a.UID)
	assert.NotNil(t, a.LastChecked)
	assert.Equal(t, 1, w.waits)

	_, err = r.Create(ctx, "JACK", true)
	assert.True(t, errs.IsValidation(err))
	assert.Equal(t, 1, up.calls, "duplicate rejected before any lookup")
}

func TestCreateInactiveSkipsUpstream(t *testing.T) {
	up := newFakeUpstream()
	r, _, w := setup(t, up)

	a, err := r.Create(context.Background(), "ghost", false)
	require.NoError(t, err)
	assert.False(t, a.Resolved())
	assert.Zero(t, up.calls)
	assert.Zero(t, w.waits)
}

func TestCreateNotFound(t *testing.T) {
	r, _, w := setup(t, newFakeUpstream())

	_, err := r.Create(context.Background(), "nobody", true)
	assert.True(t, errs.IsNotFound(err))
	assert.Equal(t, 1, w.waits, "pacing applies to failed lookups too")
}

func TestCreateEmptyHandle(t *testing.T) {
	r, _, _ := setup(t, newFakeUpstream())
	_, err := r.Create(context.Background(), " @ ", true)
	assert.True(t, errs.IsValidation(err))
}

func TestResolveIsIdempotent(t *testing.T) {
	up := newFakeUpstream(&twitter.User{ID: 7, ScreenName: "alice"})
	r, st, _ := setup(t, up)
	ctx := context.Background()
	require.NoError(t, st.CreateAccount(ctx, &store.Account{Handle: "alice", Active: true}))

	first, err := r.Resolve(ctx, "alice", false)
	require.NoError(t, err)
	assert.Equal(t, int64(7), first.UID)
	assert.Equal(t, 1, up.calls)

	second, err := r.Resolve(ctx, "@alice", false)
	require.NoError(t, err)
	assert.Equal(t, first.UID, second.UID)
	assert.Equal(t, 1, up.calls, "no upstream call for an already resolved account")

	_, err = r.Resolve(ctx, "alice", true)
	require.NoError(t, err)
	assert.Equal(t, 2, up.calls, "force re-resolves")
}

func TestResolveInactiveIsUnchanged(t *testing.T) {
	up := newFakeUpstream(&twitter.User{ID: 7, ScreenName: "alice"})
	r, st, _ := setup(t, up)
	ctx := context.Background()
	require.NoError(t, st.CreateAccount(ctx, &store.Account{Handle: "alice", Active: false}))

	a, err := r.Resolve(ctx, "alice", true)
	require.NoError(t, err)
	assert.False(t, a.Resolved())
	assert.Zero(t, up.calls)
}

func TestResolveUntracked(t *testing.T) {
	r, _, _ := setup(t, newFakeUpstream())
	_, err := r.Resolve(context.Background(), "stranger", false)
	assert.True(t, errs.IsNotFound(err))
}

func TestResolveMapsConnectivityToAuth(t *testing.T) {
	up := newFakeUpstream()
	up.err = errs.Wrap(errs.ErrorTypeNetwork, context.DeadlineExceeded, "GET /users/show.json")
	r, st, _ := setup(t, up)
	ctx := context.Background()
	require.NoError(t, st.CreateAccount(ctx, &store.Account{Handle: "alice", Active: true}))

	_, err := r.Resolve(ctx, "alice", false)
	assert.True(t, errs.IsAuth(err))
	assert.False(t, errs.IsNotFound(err))
}

func TestUnavailableUpstreamIsAuth(t *testing.T) {
	r, st, _ := setup(t, Unavailable(auth.ErrNoCredential))
	ctx := context.Background()
	require.NoError(t, st.CreateAccount(ctx, &store.Account{Handle: "alice", Active: true}))

	_, err := r.Resolve(ctx, "alice", false)
	assert.True(t, errs.IsAuth(err))
	assert.ErrorIs(t, err, auth.ErrNoCredential)
}

func TestResolveAllContinuesPastFailures(t *testing.T) {
	up := newFakeUpstream(&twitter.User{ID: 1, ScreenName: "alice"}, &twitter.User{ID: 3, ScreenName: "carol"})
	r, st, w := setup(t, up)
	ctx := context.Background()
	for _, h := range []string{"carol", "bob", "alice"} {
		require.NoError(t, st.CreateAccount(ctx, &store.Account{Handle: h, Active: true}))
	}

	accounts, err := r.ResolveAll(ctx, false)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bob")
	require.Len(t, accounts, 3)
	assert.Equal(t, int64(1), accounts[0].UID)
	assert.Equal(t, int64(0), accounts[1].UID)
	assert.Equal(t, int64(3), accounts[2].UID)
	assert.Equal(t, 3, w.waits)
}

func TestUpdateKeepsOwnHandle(t *testing.T) {
	r, st, _ := setup(t, newFakeUpstream())
	ctx := context.Background()
	a := &store.Account{Handle: "alice", Active: true}
	require.NoError(t, st.CreateAccount(ctx, a))
	require.NoError(t, st.CreateAccount(ctx, &store.Account{Handle: "bob", Active: true}))

	a.Handle = "Alice"
	require.NoError(t, r.Update(ctx, a), "same handle is not a conflict")

	a.Handle = "BOB"
	assert.True(t, errs.IsValidation(r.Update(ctx, a)))
}

func TestActivateDeactivate(t *testing.T) {
	r, st, _ := setup(t, newFakeUpstream())
	ctx := context.Background()
	require.NoError(t, st.CreateAccount(ctx, &store.Account{Handle: "alice", Active: true}))

	a, err := r.Deactivate(ctx, "alice")
	require.NoError(t, err)
	assert.False(t, a.Active)

	a, err = r.Activate(ctx, "ALICE")
	require.NoError(t, err)
	assert.True(t, a.Active)
}

func TestCheckRenames(t *testing.T) {
	up := newFakeUpstream(
		&twitter.User{ID: 1, ScreenName: "alice_new"},
		&twitter.User{ID: 2, ScreenName: "BOB"},
		&twitter.User{ID: 3, ScreenName: "dave"},
	)
	r, st, w := setup(t, up)
	ctx := context.Background()
	checkTime := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return checkTime }

	require.NoError(t, st.CreateAccount(ctx, &store.Account{Handle: "alice", UID: 1, Active: true}))
	require.NoError(t, st.CreateAccount(ctx, &store.Account{Handle: "bob", UID: 2, Active: true}))
	require.NoError(t, st.CreateAccount(ctx, &store.Account{Handle: "carol", UID: 3, Active: true}))
	require.NoError(t, st.CreateAccount(ctx, &store.Account{Handle: "dave", Active: false}))
	require.NoError(t, st.CreateAccount(ctx, &store.Account{Handle: "unresolved", Active: true}))

	renames, err := r.CheckRenames(ctx)
	require.Error(t, err, "carol's new handle collides with dave")
	assert.True(t, errs.IsValidation(err))
	require.Len(t, renames, 1)
	assert.Equal(t, Rename{AccountID: renames[0].AccountID, UID: 1, From: "alice", To: "alice_new"}, renames[0])
	assert.Equal(t, 3, w.waits)

	alice, err := st.GetAccountByHandle(ctx, "alice_new")
	require.NoError(t, err)
	require.Len(t, alice.FormerHandles, 1)
	assert.Equal(t, "alice", alice.FormerHandles[0].Handle)
	assert.True(t, checkTime.Equal(alice.FormerHandles[0].ReplacedAt))

	bob, err := st.GetAccountByHandle(ctx, "bob")
	require.NoError(t, err)
	assert.Empty(t, bob.FormerHandles, "case-only change is not a rename")
	require.NotNil(t, bob.LastChecked)
	assert.True(t, checkTime.Equal(*bob.LastChecked))

	carol, err := st.GetAccountByHandle(ctx, "carol")
	require.NoError(t, err)
	require.NotNil(t, carol.LastChecked, "collisions still record the check")
}
