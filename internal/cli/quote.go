package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	quoteFrom string
	quoteTo   string
)

var quoteCmd = &cobra.Command{
	Use:   "quote",
	Short: "Resolve the current customer rate for a currency pair",
	RunE: func(cmd *cobra.Command, args []string) error {
		if quoteFrom == "" {
			return fmt.Errorf("--from must be provided")
		}

		to := quoteTo
		if to == "" {
			to = getApp().Config.Settlement.Currency
		}

		rate, err := getApp().ResolveRate(cmd.Context(), quoteFrom, to)
		if err != nil {
			return err
		}

		fmt.Fprintf(cmd.OutOrStdout(), "%s/%s %s\n", quoteFrom, to, rate.String())
		return nil
	},
}

func init() {
	quoteCmd.Flags().StringVar(&quoteFrom, "from", "", "Source currency code")
	quoteCmd.Flags().StringVar(&quoteTo, "to", "", "Target currency code (defaults to the settlement currency)")
}
