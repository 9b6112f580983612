package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"

	errs "twarchive/pkg/errors"
	"twarchive/pkg/ratelimit"
	"twarchive/pkg/store"
	"twarchive/pkg/twitter"
)

// Rename is one detected handle change.
type Rename struct {
	AccountID int64
	UID       int64
	From      string
	To        string
}

// CheckRenames looks up every active, resolved account by stable id and
// records handle changes in the account's history. Every checked account
// gets its last-checked time updated.
func (r *Resolver) CheckRenames(ctx context.Context) ([]Rename, error) {
	accounts, err := r.store.ListAccounts(ctx, true)
	if err != nil {
		return nil, err
	}

	var (
		renames  []Rename
		failures []error
	)
	for _, account := range accounts {
		if !account.Resolved() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return renames, err
		}

		rename, err := r.checkRename(ctx, account)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return renames, ctxErr
			}
			r.logger.WithError(err).WarnWithFields("rename check failed", map[string]interface{}{
				"account": account.Handle,
				"uid":     account.UID,
			})
			failures = append(failures, fmt.Errorf("%s: %w", account.Handle, err))
		}
		if rename != nil {
			renames = append(renames, *rename)
		}
	}
	return renames, errors.Join(failures...)
}

func (r *Resolver) checkRename(ctx context.Context, account *store.Account) (*Rename, error) {
	user, err := r.upstream.LookupByID(ctx, account.UID)
	if waitErr := r.wait(ctx); waitErr != nil {
		return nil, waitErr
	}
	if err != nil {
		return nil, classify(account.Handle, err)
	}

	now := r.now().UTC()
	account.LastChecked = &now

	var (
		rename    *Rename
		collision error
	)
	if !strings.EqualFold(user.ScreenName, account.Handle) {
		taken, err := r.store.HandleTaken(ctx, user.ScreenName, account.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			collision = errs.Validation("%q was renamed to %q, which another account already uses", account.Handle, user.ScreenName)
		} else {
			rename = &Rename{AccountID: account.ID, UID: account.UID, From: account.Handle, To: user.ScreenName}
			account.FormerHandles = append(account.FormerHandles, store.FormerHandle{Handle: account.Handle, ReplacedAt: now})
			account.Handle = user.ScreenName
		}
	}

	if err := r.store.UpdateAccount(ctx, account); err != nil {
		return nil, err
	}
	if rename != nil {
		r.logger.InfoWithFields("account renamed", map[string]interface{}{
			"uid":  rename.UID,
			"from": rename.From,
			"to":   rename.To,
		})
	}
	return rename, collision
}

// Unavailable is an Upstream whose every call fails with err. It stands in
// for the API client when no usable credential is configured.
func Unavailable(err error) Upstream {
	return unavailable{err: errs.Auth(err, "no usable credential")}
}

type unavailable struct{ err error }

func (u unavailable) LookupByHandle(context.Context, string) (*twitter.User, error) {
	return nil, u.err
}

func (u unavailable) LookupByID(context.Context, int64) (*twitter.User, error) {
	return nil, u.err
}

func (u unavailable) RateLimit() ratelimit.Advisory {
	return ratelimit.Advisory{}
}
