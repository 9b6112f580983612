package harvester

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	errs "twarchive/pkg/errors"
	"twarchive/pkg/logger"
	"twarchive/pkg/metrics"
	"twarchive/pkg/ratelimit"
	"twarchive/pkg/store"
	"twarchive/pkg/twitter"
)

// Upstream is the timeline surface the harvester needs.
type Upstream interface {
	FetchPage(ctx context.Context, req twitter.PageRequest) (*twitter.Page, error)
	RateLimit() ratelimit.Advisory
}

// Waiter blocks for the advised delay after an upstream call.
type Waiter interface {
	Wait(ctx context.Context) error
}

// Store is the job and item persistence the harvester needs.
type Store interface {
	CreateJob(ctx context.Context) (*store.Job, error)
	UpdateJobCount(ctx context.Context, id int64, count int) error
	FinishJob(ctx context.Context, id int64, count int) (time.Time, error)
	AbandonJob(ctx context.Context, id int64, count int) error
	RecordJobError(ctx context.Context, e *store.HarvestError) error
	InsertItem(ctx context.Context, it *store.Item) (bool, error)
	HarvestCursor(ctx context.Context, accountID int64) (*store.HarvestCursor, error)
	SaveHarvestCursor(ctx context.Context, c *store.HarvestCursor) error
}

// Options tune paging. Zero values fall back to the API defaults.
type Options struct {
	MaxPages int
	PageSize int
	Metrics  *metrics.Metrics
}

// Harvester pages account timelines into the store, one account at a time.
type Harvester struct {
	store    Store
	upstream Upstream
	pacer    Waiter
	opts     Options
	logger   logger.Logger
	now      func() time.Time
}

func New(st Store, up Upstream, pacer Waiter, opts Options, log logger.Logger) *Harvester {
	if opts.MaxPages <= 0 {
		opts.MaxPages = 16
	}
	if opts.PageSize <= 0 {
		opts.PageSize = 200
	}
	return &Harvester{
		store:    st,
		upstream: up,
		pacer:    pacer,
		opts:     opts,
		logger:   logger.OrDefault(log),
		now:      time.Now,
	}
}

// Harvest runs one job over accounts in order. Per-account failures are
// recorded against the job and do not stop the batch. If ctx is cancelled
// the job is marked abandoned and returned with the context error.
func (h *Harvester) Harvest(ctx context.Context, accounts []*store.Account) (*store.Job, error) {
	// Job bookkeeping must land even after ctx is cancelled.
	bookCtx := context.WithoutCancel(ctx)

	job, err := h.store.CreateJob(bookCtx)
	if err != nil {
		return nil, err
	}
	log := h.logger.WithField("job_id", job.ID)
	log.InfoWithFields("harvest started", map[string]interface{}{"accounts": len(accounts)})
	start := h.now()

	var attempted, authFailures int
	for _, account := range accounts {
		if ctx.Err() != nil {
			return h.abandon(bookCtx, log, job, ctx.Err())
		}
		if !account.Active || !account.Resolved() {
			log.WarnWithFields("skipping account", map[string]interface{}{
				"account":  account.Handle,
				"active":   account.Active,
				"resolved": account.Resolved(),
			})
			continue
		}

		attempted++
		stored, err := h.harvestAccount(ctx, log, job, account)
		job.ItemCount += stored

		if err != nil {
			if ctx.Err() != nil {
				return h.abandon(bookCtx, log, job, ctx.Err())
			}
			if errs.IsAuth(err) {
				authFailures++
			}
			h.recordError(bookCtx, log, job, account, err)
		}

		if err := h.store.UpdateJobCount(bookCtx, job.ID, job.ItemCount); err != nil {
			log.WithError(err).Warn("failed to update job count")
		}
	}

	if attempted > 0 && authFailures == attempted {
		log.ErrorWithFields("every account failed authentication; check the configured credential", map[string]interface{}{
			"accounts": attempted,
		})
	}

	finished, err := h.store.FinishJob(bookCtx, job.ID, job.ItemCount)
	if err != nil {
		return job, err
	}
	job.FinishedAt = &finished
	job.Status = store.JobFinished
	h.opts.Metrics.JobFinished(h.now().Sub(start))

	log.InfoWithFields("harvest finished", map[string]interface{}{
		"items":    job.ItemCount,
		"duration": h.now().Sub(start).String(),
	})
	return job, nil
}

func (h *Harvester) abandon(ctx context.Context, log logger.Logger, job *store.Job, cause error) (*store.Job, error) {
	if err := h.store.AbandonJob(ctx, job.ID, job.ItemCount); err != nil {
		log.WithError(err).Error("failed to mark job abandoned")
	}
	job.Status = store.JobAbandoned
	log.WarnWithFields("harvest abandoned", map[string]interface{}{
		"items":  job.ItemCount,
		"reason": cause.Error(),
	})
	return job, cause
}

func (h *Harvester) recordError(ctx context.Context, log logger.Logger, job *store.Job, account *store.Account, cause error) {
	errorType := string(errs.TypeOf(cause))
	h.opts.Metrics.HarvestError(errorType)
	log.WithError(cause).WarnWithFields("account harvest failed", map[string]interface{}{
		"account": account.Handle,
		"type":    errorType,
	})

	if err := h.store.RecordJobError(ctx, &store.HarvestError{
		JobID:     job.ID,
		AccountID: account.ID,
		Detail:    cause.Error(),
		ErrorType: errorType,
	}); err != nil {
		log.WithError(err).Error("failed to record harvest error")
	}
}

// harvestAccount pages backwards from the newest item down to the account's
// horizon, resuming a walk an earlier job left unfinished. The cursor is
// saved after every page, and the horizon only moves once a walk reaches
// the bottom. It returns the number of items newly stored, which is
// meaningful even alongside an error.
func (h *Harvester) harvestAccount(ctx context.Context, log logger.Logger, job *store.Job, account *store.Account) (int, error) {
	bookCtx := context.WithoutCancel(ctx)
	cur, err := h.store.HarvestCursor(ctx, account.ID)
	if err != nil {
		return 0, err
	}

	var maxID, top int64
	if cur.Pending() {
		maxID, top = cur.BackfillMaxID, cur.BackfillTop
		log.InfoWithFields("resuming unfinished harvest", map[string]interface{}{
			"account": account.Handle,
			"max_id":  maxID,
			"since":   cur.Horizon,
		})
	}

	stored := 0
	for page := 1; page <= h.opts.MaxPages; page++ {
		p, err := h.upstream.FetchPage(ctx, twitter.PageRequest{
			UserID:  account.UID,
			SinceID: cur.Horizon,
			MaxID:   maxID,
			Count:   h.opts.PageSize,
		})
		if err != nil {
			if waitErr := h.wait(ctx); waitErr != nil {
				return stored, waitErr
			}
			return stored, err
		}
		h.opts.Metrics.PageFetched()

		res, err := h.storePage(ctx, account, p.Items)
		stored += res.Added
		h.opts.Metrics.ItemsStored(res.Added)
		h.opts.Metrics.DuplicatesSkipped(res.Duplicates)
		for _, bad := range res.Rejected {
			h.recordError(bookCtx, log, job, account, bad)
		}
		log.DebugWithFields("page stored", map[string]interface{}{
			"account":    account.Handle,
			"page":       page,
			"items":      len(p.Items),
			"stored":     res.Added,
			"duplicates": res.Duplicates,
			"rejected":   len(res.Rejected),
		})
		if err != nil {
			return stored, err
		}

		if p.MaxID > top {
			top = p.MaxID
		}
		// Ids are positive, so a page bottoming out at 1 cannot be followed.
		done := len(p.Items) == 0 || !p.HasMore || p.MinID <= 1
		next := &store.HarvestCursor{AccountID: account.ID, Horizon: cur.Horizon}
		if done {
			next.Horizon = max(cur.Horizon, top)
		} else {
			maxID = p.MinID - 1
			next.BackfillMaxID = maxID
			next.BackfillTop = top
		}
		if err := h.store.SaveHarvestCursor(bookCtx, next); err != nil {
			return stored, err
		}

		if err := h.wait(ctx); err != nil {
			return stored, err
		}
		if done {
			return stored, nil
		}
	}

	log.InfoWithFields("page budget spent, continuing next job", map[string]interface{}{
		"account": account.Handle,
		"max_id":  maxID,
	})
	return stored, nil
}

// pageResult tallies one stored page. Rejected holds the items that could
// not be parsed; they are skipped, not fatal.
type pageResult struct {
	Added      int
	Duplicates int
	Rejected   []error
}

func (h *Harvester) storePage(ctx context.Context, account *store.Account, items []json.RawMessage) (pageResult, error) {
	var res pageResult
	for _, raw := range items {
		item, err := toItem(account, raw)
		if err != nil {
			res.Rejected = append(res.Rejected, err)
			continue
		}
		inserted, err := h.store.InsertItem(ctx, item)
		if errors.Is(err, store.ErrInvalidItem) {
			res.Rejected = append(res.Rejected, errs.Wrap(errs.ErrorTypeParsing, err, "item for %s", account.Handle))
			continue
		}
		if err != nil {
			return res, err
		}
		if inserted {
			res.Added++
		} else {
			res.Duplicates++
		}
	}
	return res, nil
}

func toItem(account *store.Account, raw json.RawMessage) (*store.Item, error) {
	hdr, err := twitter.DecodeHeader(raw)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, err, "malformed item for %s", account.Handle)
	}
	if hdr.StatusID() == 0 {
		return nil, errs.New(errs.ErrorTypeParsing, 0, "item for %s has no id", account.Handle)
	}
	published, err := time.Parse(twitter.CreatedAtLayout, hdr.CreatedAt)
	if err != nil {
		return nil, errs.Wrap(errs.ErrorTypeParsing, err, "item %d has a bad created_at", hdr.StatusID())
	}
	return &store.Item{
		AccountID:   account.ID,
		TwitterID:   hdr.StatusID(),
		PublishedAt: published.UTC(),
		Text:        hdr.Body(),
		Raw:         raw,
		Location:    hdr.Location(),
		Source:      hdr.Source,
	}, nil
}

func (h *Harvester) wait(ctx context.Context) error {
	if h.pacer == nil {
		return ctx.Err()
	}
	return h.pacer.Wait(ctx)
}
