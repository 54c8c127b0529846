package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	issueKeyOwner string
	issueKeyTTL   int
)

var issueKeyCmd = &cobra.Command{
	Use:   "issue-key",
	Short: "Mint a merchant API key",
	RunE: func(cmd *cobra.Command, args []string) error {
		if issueKeyOwner == "" {
			return fmt.Errorf("--owner must be provided")
		}

		key, err := getApp().IssueKey(cmd.Context(), issueKeyOwner, issueKeyTTL)
		if err != nil {
			return err
		}

		fmt.Fprintln(cmd.OutOrStdout(), key)
		return nil
	},
}

func init() {
	issueKeyCmd.Flags().StringVar(&issueKeyOwner, "owner", "", "Merchant the key belongs to")
	issueKeyCmd.Flags().IntVar(&issueKeyTTL, "ttl-days", 365, "Key lifetime in days")
}
