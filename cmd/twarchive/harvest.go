package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"twarchive/internal/scheduler"
	"twarchive/pkg/harvester"
	"twarchive/pkg/metrics"
	"twarchive/pkg/store"
	"twarchive/pkg/ui"
)

var (
	harvestSet  string
	cronSpec    string
	metricsAddr string
)

// harvestCmd represents the harvest command
var harvestCmd = &cobra.Command{
	Use:   "harvest [handle...]",
	Short: "Harvest new timeline items into the store",
	Long: `Run one harvest job. Each account is paged backwards from its newest item
down to the newest one already stored. A failing account is recorded against
the job and does not stop the others.

Without arguments every active, resolved account is harvested.`,
	Example: `  # Harvest everyone
  twarchive harvest

  # Harvest two accounts
  twarchive harvest alice bob

  # Harvest a set
  twarchive harvest --set journalists`,
	RunE: runHarvest,
}

// scheduleCmd represents the schedule command
var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run harvests periodically",
	Long: `Run a harvest of every active account on a cron schedule until
interrupted. A run that is still going when the next one is due is skipped.`,
	Example: `  twarchive schedule --cron "0 */2 * * *" --metrics-addr :9090`,
	Args:    cobra.NoArgs,
	RunE:    runSchedule,
}

func init() {
	rootCmd.AddCommand(harvestCmd, scheduleCmd)
	harvestCmd.Flags().StringVar(&harvestSet, "set", "", "harvest the members of this set")
	harvestCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
	scheduleCmd.Flags().StringVar(&cronSpec, "cron", "", "cron expression (default: schedule.cron)")
	scheduleCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")
}

// harvestRunner owns the collaborators of a harvest so that scheduled runs
// reuse one client and pacer.
type harvestRunner struct {
	app     *app
	store   *store.Store
	metrics *metrics.Metrics
	h       *harvester.Harvester
}

func (a *app) newHarvestRunner(st *store.Store) (*harvestRunner, error) {
	m, err := metrics.New()
	if err != nil {
		return nil, err
	}
	c, err := a.client(m)
	if err != nil {
		return nil, err
	}
	h := harvester.New(st, c, a.pacer(c), harvester.Options{
		MaxPages: a.cfg.API.MaxPages,
		PageSize: a.cfg.API.PageSize,
		Metrics:  m,
	}, a.log)
	return &harvestRunner{app: a, store: st, metrics: m, h: h}, nil
}

func (r *harvestRunner) accounts(ctx context.Context, handles []string, set string) ([]*store.Account, error) {
	switch {
	case set != "":
		return r.store.SetMembers(ctx, set)
	case len(handles) > 0:
		res := r.app.resolverOffline(r.store)
		accounts := make([]*store.Account, 0, len(handles))
		for _, handle := range handles {
			acct, err := res.Get(ctx, handle)
			if err != nil {
				return nil, err
			}
			accounts = append(accounts, acct)
		}
		return accounts, nil
	default:
		return r.store.ListAccounts(ctx, true)
	}
}

func (r *harvestRunner) run(ctx context.Context, handles []string, set string) (*store.Job, error) {
	accounts, err := r.accounts(ctx, handles, set)
	if err != nil {
		return nil, err
	}
	return r.h.Harvest(ctx, accounts)
}

func runHarvest(cmd *cobra.Command, args []string) error {
	a, err := loadApp(map[string]interface{}{"metrics-addr": metricsAddr})
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	runner, err := a.newHarvestRunner(st)
	if err != nil {
		return err
	}
	a.serveMetrics(ctx, runner.metrics)

	job, err := runner.run(ctx, args, harvestSet)
	if job != nil {
		printJobSummary(cmd.Context(), st, job)
	}
	return err
}

func runSchedule(cmd *cobra.Command, args []string) error {
	a, err := loadApp(map[string]interface{}{"metrics-addr": metricsAddr})
	if err != nil {
		return err
	}
	ctx, cancel := signalContext(cmd.Context())
	defer cancel()

	st, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	runner, err := a.newHarvestRunner(st)
	if err != nil {
		return err
	}

	sched, err := scheduler.New(a.cfg.Schedule, a.log)
	if err != nil {
		return err
	}
	spec := cronSpec
	if spec == "" {
		spec = a.cfg.Schedule.Cron
	}
	err = sched.Schedule(spec, func(ctx context.Context, runID string) error {
		job, err := runner.run(ctx, nil, "")
		if job != nil {
			a.log.InfoWithFields("scheduled harvest job", map[string]interface{}{
				"run_id": runID,
				"job_id": job.ID,
				"items":  job.ItemCount,
				"status": string(job.Status),
			})
		}
		return err
	})
	if err != nil {
		return err
	}

	a.serveMetrics(ctx, runner.metrics)
	ui.PrintInfo("Schedule", spec)
	return sched.Run(ctx)
}

func printJobSummary(ctx context.Context, st *store.Store, job *store.Job) {
	switch job.Status {
	case store.JobFinished:
		ui.PrintSuccess(fmt.Sprintf("Job %d finished: %d new items", job.ID, job.ItemCount))
	default:
		ui.PrintWarning(fmt.Sprintf("Job %d %s after %d new items", job.ID, job.Status, job.ItemCount))
	}

	failures, err := st.JobErrors(context.WithoutCancel(ctx), job.ID)
	if err != nil || len(failures) == 0 {
		return
	}
	for _, f := range failures {
		ui.PrintWarning(fmt.Sprintf("%s: [%s] %s", f.Handle, f.ErrorType, f.Detail))
	}
}
