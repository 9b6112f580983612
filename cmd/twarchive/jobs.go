package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"
	errs "twarchive/pkg/errors"
	"twarchive/pkg/ui"
)

var (
	jobsLimit  int
	staleAfter time.Duration
)

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect harvest jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs, newest first",
	RunE:  runJobsList,
}

var jobsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a job and the account failures recorded against it",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsShow,
}

var jobsAbandonCmd = &cobra.Command{
	Use:   "abandon-stale",
	Short: "Mark jobs left running by a dead process as abandoned",
	Long: `Jobs whose process was killed stay 'running' with no end time. This marks
every running job started before --older-than ago as abandoned.`,
	RunE: runJobsAbandon,
}

func init() {
	rootCmd.AddCommand(jobsCmd)
	jobsCmd.AddCommand(jobsListCmd, jobsShowCmd, jobsAbandonCmd)
	jobsListCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "maximum number of jobs to list")
	jobsAbandonCmd.Flags().DurationVar(&staleAfter, "older-than", 24*time.Hour, "only jobs started at least this long ago")
}

func runJobsList(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	jobs, err := st.ListJobs(cmd.Context(), jobsLimit)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		ui.PrintInfo("No jobs", "Run 'twarchive harvest' to start one")
		return nil
	}

	tw := ui.NewTable()
	fmt.Fprintln(tw, "ID\tSTATUS\tSTARTED\tFINISHED\tITEMS")
	for _, j := range jobs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%d\n",
			j.ID, j.Status, formatTime(&j.StartedAt), formatTime(j.FinishedAt), j.ItemCount)
	}
	return tw.Flush()
}

func runJobsShow(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return errs.Validation("invalid job id %q", args[0])
	}

	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	job, err := st.GetJob(cmd.Context(), id)
	if err != nil {
		return err
	}
	ui.PrintInfo("Job", fmt.Sprint(job.ID))
	ui.PrintInfo("Status", string(job.Status))
	ui.PrintInfo("Started", formatTime(&job.StartedAt))
	ui.PrintInfo("Finished", formatTime(job.FinishedAt))
	ui.PrintInfo("Items", fmt.Sprint(job.ItemCount))

	failures, err := st.JobErrors(cmd.Context(), job.ID)
	if err != nil {
		return err
	}
	if len(failures) == 0 {
		return nil
	}

	fmt.Fprintln(ui.Stdout)
	tw := ui.NewTable()
	fmt.Fprintln(tw, "ACCOUNT\tTYPE\tRECORDED\tDETAIL")
	for _, f := range failures {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", f.Handle, f.ErrorType, formatTime(&f.RecordedAt), f.Detail)
	}
	return tw.Flush()
}

func runJobsAbandon(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	n, err := st.AbandonStaleJobs(cmd.Context(), time.Now().Add(-staleAfter))
	if err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Marked %d jobs abandoned", n))
	return nil
}
