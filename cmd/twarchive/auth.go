package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/term"
	"twarchive/pkg/auth"
	"twarchive/pkg/ui"
)

// authCmd represents the auth command
var authCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage stored access tokens",
	Long: `Manage the OAuth access tokens used to call the API.

Tokens are kept in the system keyring when one is available, and in an
encrypted file otherwise. TWARCHIVE_ACCESS_TOKEN and
TWARCHIVE_ACCESS_TOKEN_SECRET are used when nothing is stored.`,
}

var loginCmd = &cobra.Command{
	Use:   "login [name]",
	Short: "Store an access token pair",
	Long: `Store an access token and secret under a name. The name defaults to
api.default_account. Secrets are read without echo.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runLogin,
}

var authListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored credentials",
	RunE:  runAuthList,
}

var logoutCmd = &cobra.Command{
	Use:   "logout <name>",
	Short: "Remove stored credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogout,
}

func init() {
	rootCmd.AddCommand(authCmd)
	authCmd.AddCommand(loginCmd, authListCmd, logoutCmd)
}

func runLogin(cmd *cobra.Command, args []string) error {
	a, err := loadApp(nil)
	if err != nil {
		return err
	}
	name := a.cfg.API.DefaultAccount
	if len(args) == 1 {
		name = args[0]
	}

	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}

	fmt.Fprintf(ui.Stdout, "Access token for %s: ", name)
	token, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read access token: %w", err)
	}
	fmt.Fprint(ui.Stdout, "Access token secret: ")
	secret, err := readPassword()
	if err != nil {
		return fmt.Errorf("failed to read access token secret: %w", err)
	}

	acct := &auth.Account{
		Name:              name,
		AccessToken:       token,
		AccessTokenSecret: secret,
		LastModified:      time.Now(),
	}
	if err := acct.Validate(); err != nil {
		return err
	}
	if err := manager.Store(acct); err != nil {
		return fmt.Errorf("failed to store credentials: %w", err)
	}

	ui.PrintSuccess(fmt.Sprintf("Stored credentials for %s", name))
	return nil
}

func runAuthList(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	accounts, err := manager.List()
	if err != nil {
		return err
	}
	if len(accounts) == 0 {
		ui.PrintInfo("No stored credentials", "Use 'twarchive auth login' to add one")
		return nil
	}

	tw := ui.NewTable()
	fmt.Fprintln(tw, "NAME\tACCESS TOKEN\tMODIFIED")
	for _, acct := range accounts {
		safe := auth.SanitizeAccount(acct)
		fmt.Fprintf(tw, "%s\t%s\t%s\n", safe.Name, safe.AccessToken, formatTime(&safe.LastModified))
	}
	return tw.Flush()
}

func runLogout(cmd *cobra.Command, args []string) error {
	manager, err := auth.NewManager()
	if err != nil {
		return fmt.Errorf("failed to initialize credential manager: %w", err)
	}
	if err := manager.Delete(args[0]); err != nil {
		return fmt.Errorf("failed to remove credentials: %w", err)
	}
	ui.PrintSuccess(fmt.Sprintf("Removed credentials for %s", args[0]))
	return nil
}

// stdin is shared so that consecutive prompts do not lose buffered input.
var stdin = bufio.NewReader(os.Stdin)

// readPassword reads a line without echo when stdin is a terminal.
func readPassword() (string, error) {
	if term.IsTerminal(int(syscall.Stdin)) {
		password, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Fprintln(ui.Stdout)
		if err == nil {
			return strings.TrimSpace(string(password)), nil
		}
	}

	input, err := stdin.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && input != "") {
		return "", err
	}
	return strings.TrimSpace(input), nil
}
