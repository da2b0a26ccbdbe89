// -- cmd/history.go --
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// newHistoryCmd creates the `history` command, listing recent try-on
// attempts from the store.
func newHistoryCmd() *cobra.Command {
	historyCmd := &cobra.Command{
		Use:   "history",
		Short: "List recent try-on attempts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			limit, _ := cmd.Flags().GetInt("limit")

			components, err := initializeComponents(ctx, appCfg, false)
			if err != nil {
				components.Shutdown(ctx)
				return err
			}
			defer components.Shutdown(ctx)

			records, err := components.Store.ListTryOns(ctx, limit)
			if err != nil {
				return fmt.Errorf("failed to read history: %w", err)
			}
			if len(records) == 0 {
				fmt.Println("No try-on attempts recorded.")
				return nil
			}

			for _, rec := range records {
				status := "ok"
				if !rec.Success {
					status = "failed"
				}
				fmt.Printf("%s  %-6s  %s\n", rec.CreatedAt.Local().Format(time.RFC3339), status, rec.ClothingURL)
				if rec.Error != "" {
					fmt.Printf("%26s%s\n", "", rec.Error)
				}
			}
			return nil
		},
	}

	historyCmd.Flags().IntP("limit", "n", 20, "Maximum number of attempts to list.")
	return historyCmd
}
