package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/telekom/change-report/pkg/secrets"
)

// NewCredentialCommand manages stored credentials. Secrets are read from
// stdin so they never appear in the process argument list or shell history.
func NewCredentialCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "credential",
		Short: "Manage credentials in the OS keyring",
	}

	set := &cobra.Command{
		Use:   "set <account>",
		Short: "Store a credential and print the handle for config.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			account := args[0]
			fmt.Fprintf(cmd.ErrOrStderr(), "Enter secret for %q: ", account)
			reader := bufio.NewReader(cmd.InOrStdin())
			line, err := reader.ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("reading secret: %w", err)
			}
			secret := strings.TrimRight(line, "\r\n")
			if secret == "" {
				return fmt.Errorf("secret must not be empty")
			}
			handle, err := (secrets.Keyring{}).Store(account, secret)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Stored. Use this as EncryptedPassword: %s\n", handle)
			return nil
		},
	}

	rm := &cobra.Command{
		Use:   "rm <account>",
		Short: "Remove a stored credential",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := (secrets.Keyring{}).Delete(args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed credential %q\n", args[0])
			return nil
		},
	}

	cmd.AddCommand(set, rm)
	return cmd
}
