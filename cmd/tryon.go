// -- cmd/tryon.go --
package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/internal/config"
	"github.com/fitchecklabs/fitcheck-cli/internal/controller"
	"github.com/fitchecklabs/fitcheck-cli/internal/observability"
	"github.com/fitchecklabs/fitcheck-cli/internal/relay"
)

// newTryOnCmd creates the `tryon` command: a one-shot try-on for a known
// clothing image on a page, without the interactive watcher.
func newTryOnCmd() *cobra.Command {
	tryOnCmd := &cobra.Command{
		Use:   "tryon [page-url] [image-url]",
		Short: "Run a single try-on for one clothing image on a page",
		Args:  cobra.ExactArgs(2),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			output, _ := cmd.Flags().GetString("output")

			components, err := initializeComponents(ctx, cfg, true)
			if err != nil {
				components.Shutdown(ctx)
				return err
			}
			defer components.Shutdown(ctx)

			if err := navigateAndSettle(ctx, components.Page, args[0], cfg); err != nil {
				return err
			}

			ctrl := controller.New(components.Page, components.Bus, components.Store, cfg, logger)

			started := time.Now()
			result := ctrl.TryOn(ctx, args[1])
			logger.Info("Try-on finished",
				zap.String("src", args[1]),
				zap.Duration("elapsed", time.Since(started)))

			switch result.Kind {
			case relay.KindSuccess:
				if err := writeImageFile(result.TryOnImageBase64, output); err != nil {
					return err
				}
				fmt.Printf("Try-on succeeded. Result written to %s\n", output)
				return nil
			case relay.KindAuthRequired:
				return fmt.Errorf("sign-in required: %s", result.Message)
			default:
				return fmt.Errorf("try-on failed: %s", result.Message)
			}
		},
	}

	tryOnCmd.Flags().StringP("output", "o", "tryon.jpg", "File to write the try-on result image to.")
	tryOnCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")

	return tryOnCmd
}
