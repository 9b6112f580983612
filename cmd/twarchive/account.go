package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"twarchive/pkg/dates"
	"twarchive/pkg/store"
	"twarchive/pkg/ui"
)

var (
	addInactive  bool
	listAll      bool
	resolveForce bool
	countsFrom   string
	countsTo     string
)

// accountCmd represents the account command
var accountCmd = &cobra.Command{
	Use:   "account",
	Short: "Manage tracked accounts",
	Long: `Manage the accounts whose timelines are harvested.

Active accounts are validated against the API when added and resolved to a
stable user id. Deactivating an account keeps its archived items.`,
}

var accountAddCmd = &cobra.Command{
	Use:   "add <handle>",
	Short: "Track a new account",
	Example: `  # Track and resolve an account
  twarchive account add @jack

  # Track without contacting the API
  twarchive account add jack --inactive`,
	Args: cobra.ExactArgs(1),
	RunE: runAccountAdd,
}

var accountListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked accounts",
	RunE:  runAccountList,
}

var accountResolveCmd = &cobra.Command{
	Use:   "resolve [handle...]",
	Short: "Resolve handles to stable user ids",
	Long: `Resolve the named accounts, or every active account when none are named.
Accounts that already carry an id are left alone unless --force is given.`,
	RunE: runAccountResolve,
}

var accountActivateCmd = &cobra.Command{
	Use:   "activate <handle>",
	Short: "Resume harvesting an account",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setAccountActive(cmd, args[0], true) },
}

var accountDeactivateCmd = &cobra.Command{
	Use:   "deactivate <handle>",
	Short: "Stop harvesting an account, keeping its items",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setAccountActive(cmd, args[0], false) },
}

var accountRenamesCmd = &cobra.Command{
	Use:   "check-renames",
	Short: "Detect and record handle changes",
	RunE:  runCheckRenames,
}

var accountCountsCmd = &cobra.Command{
	Use:   "counts <handle>",
	Short: "Show items published per day",
	Example: `  twarchive account counts jack --from 2024-01-01 --to 2024-01-31`,
	Args:    cobra.ExactArgs(1),
	RunE:    runAccountCounts,
}

func init() {
	rootCmd.AddCommand(accountCmd)
	accountCmd.AddCommand(accountAddCmd, accountListCmd, accountResolveCmd,
		accountActivateCmd, accountDeactivateCmd, accountRenamesCmd, accountCountsCmd)

	accountAddCmd.Flags().BoolVar(&addInactive, "inactive", false, "add without validating upstream")
	accountListCmd.Flags().BoolVar(&listAll, "all", false, "include inactive accounts")
	accountResolveCmd.Flags().BoolVar(&resolveForce, "force", false, "re-resolve accounts that already have an id")
	accountCountsCmd.Flags().StringVar(&countsFrom, "from", "", "first day, YYYY-MM-DD (default: 30 days ago)")
	accountCountsCmd.Flags().StringVar(&countsTo, "to", "", "last day, YYYY-MM-DD (default: today)")
}

func runAccountAdd(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
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

	acct, err := a.resolver(st, nil).Create(ctx, args[0], !addInactive)
	if err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Tracking %s", acct.Handle))
	if acct.Resolved() {
		ui.PrintInfo("User ID", fmt.Sprint(acct.UID))
	}
	return nil
}

func runAccountList(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	accounts, err := st.ListAccounts(cmd.Context(), !listAll)
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No accounts", "Use 'twarchive account add <handle>' to track one")
		return nil
	}

	tw := ui.NewTable()
	fmt.Fprintln(tw, "HANDLE\tUID\tACTIVE\tLAST CHECKED\tFORMERLY")
	for _, acct := range accounts {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\n",
			acct.Handle, uidString(acct), acct.Active, formatTime(acct.LastChecked), formerHandles(acct))
	}
	return tw.Flush()
}

func runAccountResolve(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
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
	r := a.resolver(st, nil)

	if len(args) == 0 {
		accounts, err := r.ResolveAll(ctx, resolveForce)
		for _, acct := range accounts {
			if acct.Resolved() {
				ui.PrintInfo(acct.Handle, fmt.Sprint(acct.UID))
			}
		}
		return err
	}

	var failed int
	for _, handle := range args {
		acct, err := r.Resolve(ctx, handle, resolveForce)
		if err != nil {
			ui.PrintError("Failed to resolve "+handle, err)
			failed++
			continue
		}
		ui.PrintInfo(acct.Handle, uidString(acct))
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d accounts could not be resolved", failed, len(args))
	}
	return nil
}

func setAccountActive(cmd *cobra.Command, handle string, active bool) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	acct, err := a.resolverOffline(st).SetActive(cmd.Context(), handle, active)
	if err != nil {
		return err
	}
	state := "deactivated"
	if acct.Active {
		state = "activated"
	}
	ui.PrintSuccess(fmt.Sprintf("Account %s %s", acct.Handle, state))
	return nil
}

func runCheckRenames(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
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

	renames, err := a.resolver(st, nil).CheckRenames(ctx)
	for _, r := range renames {
		ui.PrintInfo("Renamed", fmt.Sprintf("%s -> %s (uid %d)", r.From, r.To, r.UID))
	}
	if err == nil && len(renames) == 0 {
		ui.PrintSuccess("No renames detected")
	}
	return err
}

func runAccountCounts(cmd *cobra.Command, args []string) error {
	end := dates.Day(time.Now())
	start := end.AddDate(0, 0, -30)
	var err error
	if countsFrom != "" {
		if start, err = dates.Parse(countsFrom); err != nil {
			return err
		}
	}
	if countsTo != "" {
		if end, err = dates.Parse(countsTo); err != nil {
			return err
		}
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

	acct, err := a.resolverOffline(st).Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}
	counts, err := st.DailyCounts(cmd.Context(), acct.ID, start, end)
	if err != nil {
		return err
	}

	tw := ui.NewTable()
	fmt.Fprintln(tw, "DAY\tITEMS")
	total := 0
	for _, c := range counts {
		fmt.Fprintf(tw, "%s\t%d\n", c.Day.Format("2006-01-02"), c.Count)
		total += c.Count
	}
	fmt.Fprintf(tw, "total\t%d\n", total)
	return tw.Flush()
}

func uidString(a *store.Account) string {
	if !a.Resolved() {
		return "-"
	}
	return fmt.Sprint(a.UID)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func formerHandles(a *store.Account) string {
	if len(a.FormerHandles) == 0 {
		return ""
	}
	names := make([]string, 0, len(a.FormerHandles))
	for _, h := range a.FormerHandles {
		names = append(names, h.Handle)
	}
	return strings.Join(names, ", ")
}
