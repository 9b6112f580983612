package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"twarchive/pkg/ui"
)

var setNotes string

var setCmd = &cobra.Command{
	Use:   "set",
	Short: "Group accounts into named sets",
	Long: `Account sets are named groups that can be harvested together with
'twarchive harvest --set NAME'.`,
}

var setCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create an empty set",
	Args:  cobra.ExactArgs(1),
	RunE:  runSetCreate,
}

var setAddCmd = &cobra.Command{
	Use:     "add <name> <handle...>",
	Short:   "Add tracked accounts to a set",
	Example: `  twarchive set add journalists alice bob`,
	Args:    cobra.MinimumNArgs(2),
	RunE:    runSetAdd,
}

var setListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sets and their sizes",
	RunE:  runSetList,
}

func init() {
	rootCmd.AddCommand(setCmd)
	setCmd.AddCommand(setCreateCmd, setAddCmd, setListCmd)
	setCreateCmd.Flags().StringVar(&setNotes, "notes", "", "free-form description")
}

func runSetCreate(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	set, err := st.CreateSet(cmd.Context(), args[0], setNotes)
	if err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Created set %s", set.Name))
	return nil
}

func runSetAdd(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	// Handles are looked up locally; no API call is needed.
	r := a.resolverOffline(st)
	ids := make([]int64, 0, len(args)-1)
	for _, handle := range args[1:] {
		acct, err := r.Get(cmd.Context(), handle)
		if err != nil {
			return err
		}
		ids = append(ids, acct.ID)
	}
	if err := st.AddToSet(cmd.Context(), args[0], ids...); err != nil {
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Added %d accounts to %s", len(ids), args[0]))
	return nil
}

func runSetList(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	sets, err := st.ListSets(cmd.Context())
	if err != nil {
		return err
	}
	if len(sets) == 0 {
		ui.PrintInfo("No sets", "Use 'twarchive set create <name>' to make one")
		return nil
	}

	tw := ui.NewTable()
	fmt.Fprintln(tw, "NAME\tMEMBERS\tNOTES")
	for _, s := range sets {
		fmt.Fprintf(tw, "%s\t%d\t%s\n", s.Name, s.MemberCount, s.Notes)
	}
	return tw.Flush()
}
