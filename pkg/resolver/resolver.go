package resolver

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	errs "twarchive/pkg/errors"
	"twarchive/pkg/logger"
	"twarchive/pkg/ratelimit"
	"twarchive/pkg/store"
	"twarchive/pkg/twitter"
)

// Upstream is the lookup surface the resolver needs.
type Upstream interface {
	LookupByHandle(ctx context.Context, handle string) (*twitter.User, error)
	LookupByID(ctx context.Context, id int64) (*twitter.User, error)
	RateLimit() ratelimit.Advisory
}

// Waiter blocks for the advised delay after an upstream call.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Store is the account persistence the resolver needs.
type Store interface {
	CreateAccount(ctx context.Context, a *store.Account) error
	UpdateAccount(ctx context.Context, a *store.Account) error
	GetAccountByHandle(ctx context.Context, handle string) (*store.Account, error)
	HandleTaken(ctx context.Context, handle string, excludeID int64) (bool, error)
	ListAccounts(ctx context.Context, activeOnly bool) ([]*store.Account, error)
}

// Resolver maps handles to stable user ids.
type Resolver struct {
	store    Store
	upstream Upstream
	pacer    Waiter
	logger   logger.Logger
	now      func() time.Time
}

// New creates a resolver. pacer runs after every upstream call.
func New(st Store, up Upstream, pacer Waiter, log logger.Logger) *Resolver {
	return &Resolver{
		store:    st,
		upstream: up,
		pacer:    pacer,
		logger:   logger.OrDefault(log),
		now:      time.Now,
	}
}

var profileURL = regexp.MustCompile(`(?i)^\s*https?://(?:www\.|mobile\.)?(?:twitter|x)\.com/([^/?#\s]+)`)

// NormalizeHandle strips surrounding whitespace and leading '@' markers. A
// profile URL is reduced to its handle first.
func NormalizeHandle(handle string) string {
	if m := profileURL.FindStringSubmatch(handle); m != nil {
		handle = m[1]
	}
	for {
		next := strings.TrimRightFunc(strings.TrimLeft(strings.TrimLeftFunc(handle, isSpace), "@"), isSpace)
		if next == handle {
			return handle
		}
		handle = next
	}
}

func isSpace(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r' || r == '\v' || r == '\f'
}

// Create adds a new account. Active accounts are validated upstream and
// stored with their canonical handle and id.
func (r *Resolver) Create(ctx context.Context, handle string, active bool) (*store.Account, error) {
	handle = NormalizeHandle(handle)
	if handle == "" {
		return nil, errs.Validation("handle is required")
	}
	if err := r.ensureAvailable(ctx, handle, 0); err != nil {
		return nil, err
	}

	account := &store.Account{Handle: handle, Active: active}
	if active {
		user, err := r.lookupHandle(ctx, handle)
		if err != nil {
			return nil, err
		}
		now := r.now().UTC()
		account.Handle = user.ScreenName
		account.UID = user.ID
		account.LastChecked = &now
	}

	if err := r.store.CreateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return nil, errs.Validation("account %q is already tracked", account.Handle)
		}
		return nil, err
	}

	r.logger.InfoWithFields("account created", map[string]interface{}{
		"account": account.Handle,
		"uid":     account.UID,
		"active":  account.Active,
	})
	return account, nil
}

// Update renames an account or changes its active flag. Keeping the same
// handle is never a conflict.
func (r *Resolver) Update(ctx context.Context, account *store.Account) error {
	account.Handle = NormalizeHandle(account.Handle)
	if account.Handle == "" {
		return errs.Validation("handle is required")
	}
	if err := r.ensureAvailable(ctx, account.Handle, account.ID); err != nil {
		return err
	}
	if err := r.store.UpdateAccount(ctx, account); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return errs.Validation("account %q is already tracked", account.Handle)
		}
		return err
	}
	return nil
}

func (r *Resolver) ensureAvailable(ctx context.Context, handle string, excludeID int64) error {
	taken, err := r.store.HandleTaken(ctx, handle, excludeID)
	if err != nil {
		return err
	}
	if taken {
		return errs.Validation("account %q is already tracked", handle)
	}
	return nil
}

// Get loads a tracked account by handle.
func (r *Resolver) Get(ctx context.Context, handle string) (*store.Account, error) {
	handle = NormalizeHandle(handle)
	account, err := r.store.GetAccountByHandle(ctx, handle)
	if errors.Is(err, store.ErrNotFound) {
		return nil, errs.Wrap(errs.ErrorTypeNotFound, err, "account %q is not tracked", handle)
	}
	return account, err
}

// Resolve populates the stable id of a tracked account. Inactive accounts
// and accounts already resolved (unless force) are returned unchanged
// without an upstream call.
func (r *Resolver) Resolve(ctx context.Context, handle string, force bool) (*store.Account, error) {
	account, err := r.Get(ctx, handle)
	if err != nil {
		return nil, err
	}
	return account, r.resolveAccount(ctx, account, force)
}

func (r *Resolver) resolveAccount(ctx context.Context, account *store.Account, force bool) error {
	if !account.Active {
		r.logger.DebugWithFields("skipping inactive account", map[string]interface{}{"account": account.Handle})
		return nil
	}
	if account.Resolved() && !force {
		return nil
	}

	user, err := r.lookupHandle(ctx, account.Handle)
	if err != nil {
		return err
	}

	if !strings.EqualFold(user.ScreenName, account.Handle) {
		if err := r.ensureAvailable(ctx, user.ScreenName, account.ID); err != nil {
			return err
		}
	}

	now := r.now().UTC()
	account.Handle = user.ScreenName
	account.UID = user.ID
	account.LastChecked = &now
	if err := r.store.UpdateAccount(ctx, account); err != nil {
		return err
	}

	r.logger.InfoWithFields("account resolved", map[string]interface{}{
		"account": account.Handle,
		"uid":     account.UID,
	})
	return nil
}

// ResolveAll resolves every active account in handle order. Failures are
// logged and joined; they do not stop the run.
func (r *Resolver) ResolveAll(ctx context.Context, force bool) ([]*store.Account, error) {
	accounts, err := r.store.ListAccounts(ctx, true)
	if err != nil {
		return nil, err
	}

	var failures []error
	for _, account := range accounts {
		if err := ctx.Err(); err != nil {
			return accounts, err
		}
		if err := r.resolveAccount(ctx, account, force); err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return accounts, ctxErr
			}
			r.logger.WithError(err).WarnWithFields("failed to resolve account", map[string]interface{}{
				"account": account.Handle,
				"type":    string(errs.TypeOf(err)),
			})
			failures = append(failures, fmt.Errorf("%s: %w", account.Handle, err))
		}
	}
	return accounts, errors.Join(failures...)
}

// SetActive toggles the active flag of a tracked account.
func (r *Resolver) SetActive(ctx context.Context, handle string, active bool) (*store.Account, error) {
	account, err := r.Get(ctx, handle)
	if err != nil {
		return nil, err
	}
	if account.Active == active {
		return account, nil
	}
	account.Active = active
	if err := r.store.UpdateAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// Activate re-enables resolution and harvesting for an account.
func (r *Resolver) Activate(ctx context.Context, handle string) (*store.Account, error) {
	return r.SetActive(ctx, handle, true)
}

// Deactivate soft-disables an account. Its items are kept.
func (r *Resolver) Deactivate(ctx context.Context, handle string) (*store.Account, error) {
	return r.SetActive(ctx, handle, false)
}

// lookupHandle calls the upstream and then waits the advised delay, whether
// or not the call succeeded.
func (r *Resolver) lookupHandle(ctx context.Context, handle string) (*twitter.User, error) {
	user, err := r.upstream.LookupByHandle(ctx, handle)
	if waitErr := r.wait(ctx); waitErr != nil {
		return nil, waitErr
	}
	if err != nil {
		return nil, classify(handle, err)
	}
	return user, nil
}

func (r *Resolver) wait(ctx context.Context) error {
	if r.pacer == nil {
		return nil
	}
	return r.pacer.Wait(ctx)
}

// classify maps upstream failures onto the resolver's contract: not found
// stays not found, connectivity trouble is reported as an auth failure.
func classify(handle string, err error) error {
	switch errs.TypeOf(err) {
	case errs.ErrorTypeNotFound:
		return errs.Wrap(errs.ErrorTypeNotFound, err, "account %q was not found upstream", handle)
	case errs.ErrorTypeAuth, errs.ErrorTypeNetwork:
		return errs.Auth(err, "could not reach the API as a valid user looking up %q", handle)
	default:
		return err
	}
}
