package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	errs "twarchive/pkg/errors"
	"twarchive/pkg/store"
	"twarchive/pkg/ui"
)

var (
	filterOwner     string
	filterWords     string
	filterPeople    string
	filterLocations string
	filterInactive  bool
)

var filterCmd = &cobra.Command{
	Use:   "filter",
	Short: "Manage stream filters",
	Long: `A filter names the terms, user ids and bounding boxes passed to the
streaming endpoint. Only active filters can be streamed.`,
}

var filterAddCmd = &cobra.Command{
	Use:   "add <name>",
	Short: "Create a filter",
	Example: `  twarchive filter add elections --owner research \
    --words "election,ballot" --people "783214,6253282" \
    --locations "-122.75,36.8,-121.75,37.8"`,
	Args: cobra.ExactArgs(1),
	RunE: runFilterAdd,
}

var filterListCmd = &cobra.Command{
	Use:   "list",
	Short: "List filters",
	RunE:  runFilterList,
}

var filterEnableCmd = &cobra.Command{
	Use:   "enable <name>",
	Short: "Allow a filter to be streamed",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setFilterActive(cmd, args[0], true) },
}

var filterDisableCmd = &cobra.Command{
	Use:   "disable <name>",
	Short: "Stop a filter from being streamed",
	Args:  cobra.ExactArgs(1),
	RunE:  func(cmd *cobra.Command, args []string) error { return setFilterActive(cmd, args[0], false) },
}

func init() {
	rootCmd.AddCommand(filterCmd)
	filterCmd.AddCommand(filterAddCmd, filterListCmd, filterEnableCmd, filterDisableCmd)

	filterAddCmd.Flags().StringVar(&filterOwner, "owner", "", "who the filter belongs to")
	filterAddCmd.Flags().StringVar(&filterWords, "words", "", "comma-separated terms to track")
	filterAddCmd.Flags().StringVar(&filterPeople, "people", "", "comma-separated user ids to follow")
	filterAddCmd.Flags().StringVar(&filterLocations, "locations", "", "comma-separated bounding box coordinates")
	filterAddCmd.Flags().BoolVar(&filterInactive, "inactive", false, "create the filter disabled")
}

func runFilterAdd(cmd *cobra.Command, args []string) error {
	f := &store.Filter{
		Name:      strings.TrimSpace(args[0]),
		Owner:     filterOwner,
		Active:    !filterInactive,
		Words:     filterWords,
		People:    filterPeople,
		Locations: filterLocations,
	}
	if f.Name == "" {
		return errs.Validation("filter name is required")
	}
	if f.Words == "" && f.People == "" && f.Locations == "" {
		return errs.Validation("a filter needs at least one of --words, --people or --locations")
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

	if err := st.CreateFilter(cmd.Context(), f); err != nil {
		if errors.Is(err, store.ErrDuplicate) {
			return errs.Validation("filter %q already exists", f.Name)
		}
		return err
	}
	ui.PrintSuccess(fmt.Sprintf("Created filter %s", f.Name))
	return nil
}

func runFilterList(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	filters, err := st.ListFilters(cmd.Context())
	if err != nil {
		return err
	}
	if len(filters) == 0 {
		ui.PrintInfo("No filters", "Use 'twarchive filter add <name>' to create one")
		return nil
	}

	tw := ui.NewTable()
	fmt.Fprintln(tw, "NAME\tOWNER\tACTIVE\tWORDS\tPEOPLE\tLOCATIONS")
	for _, f := range filters {
		fmt.Fprintf(tw, "%s\t%s\t%t\t%s\t%s\t%s\n", f.Name, f.Owner, f.Active, f.Words, f.People, f.Locations)
	}
	return tw.Flush()
}

func setFilterActive(cmd *cobra.Command, name string, active bool) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	st, err := a.openStore(cmd.Context())
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.SetFilterActive(cmd.Context(), name, active); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return errs.Wrap(errs.ErrorTypeNotFound, err, "filter %q", name)
		}
		return err
	}
	state := "disabled"
	if active {
		state = "enabled"
	}
	ui.PrintSuccess(fmt.Sprintf("Filter %s %s", name, state))
	return nil
}
