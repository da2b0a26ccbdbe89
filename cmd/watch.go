// -- cmd/watch.go --
package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/fitchecklabs/fitcheck-cli/internal/config"
	"github.com/fitchecklabs/fitcheck-cli/internal/controller"
	"github.com/fitchecklabs/fitcheck-cli/internal/observability"
	"github.com/fitchecklabs/fitcheck-cli/internal/relay"
)

// newWatchCmd creates and configures the `watch` command: the interactive
// session that attaches try-on affordances to product images on a live page.
func newWatchCmd() *cobra.Command {
	watchCmd := &cobra.Command{
		Use:   "watch [url]",
		Short: "Open a shopping page and offer try-on on its product images",
		Long: `Watch opens the target page in a managed browser, classifies it, and
attaches a "Try On" affordance to every product image it accepts. Images
added later by infinite scroll or tab switches are picked up as they
appear. Clicking an affordance runs the full try-on pipeline and the
result is reported here.`,
		Args: cobra.ExactArgs(1),
		PreRunE: func(cmd *cobra.Command, args []string) error {
			// Bind flags to their viper keys so command-line values
			// override file and environment sources.
			if err := viper.BindPFlag("browser.headless", cmd.Flags().Lookup("headless")); err != nil {
				return err
			}
			return viper.BindPFlag("watcher.eager_scan", cmd.Flags().Lookup("eager-scan"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			// Re-resolve the config now that flags are bound.
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}

			manual, _ := cmd.Flags().GetBool("manual")
			duration, _ := cmd.Flags().GetDuration("duration")
			outputDir, _ := cmd.Flags().GetString("output-dir")

			components, err := initializeComponents(ctx, cfg, true)
			if err != nil {
				components.Shutdown(ctx)
				return err
			}
			defer components.Shutdown(ctx)

			if manual {
				settings, err := components.Store.GetSettings(ctx)
				if err != nil {
					return fmt.Errorf("failed to read settings: %w", err)
				}
				settings.ManualSelectionEnabled = true
				if err := components.Store.SaveSettings(ctx, settings); err != nil {
					return fmt.Errorf("failed to enable manual selection: %w", err)
				}
			}

			if err := navigateAndSettle(ctx, components.Page, args[0], cfg); err != nil {
				return err
			}

			outcomes := make(chan controller.Outcome, 8)
			ctrl := controller.New(components.Page, components.Bus, components.Store, cfg, logger,
				controller.WithOutcomeChannel(outcomes))

			active, err := ctrl.Activate(ctx)
			if err != nil {
				return fmt.Errorf("failed to activate on page: %w", err)
			}
			if !active {
				fmt.Println("Page was not recognized as a clothing page and manual selection is off. Nothing to watch.")
				return nil
			}
			defer ctrl.Deactivate()

			logger.Info("Watching page",
				zap.String("url", args[0]),
				zap.Bool("manual", manual),
				zap.Duration("duration", duration))
			fmt.Println("Watching. Hover a product image and click \"Try On\" in the opened browser. Ctrl+C to stop.")

			// A zero duration watches until interrupted.
			var deadline <-chan time.Time
			if duration > 0 {
				timer := time.NewTimer(duration)
				defer timer.Stop()
				deadline = timer.C
			}

			saved := 0
			for {
				select {
				case <-ctx.Done():
					fmt.Println("\nStopping.")
					return nil
				case <-deadline:
					logger.Info("Watch duration elapsed")
					return nil
				case outcome := <-outcomes:
					reportOutcome(outcome)
					if outcome.Result.Kind == relay.KindSuccess && outputDir != "" {
						saved++
						path := filepath.Join(outputDir, fmt.Sprintf("tryon-%s-%03d.jpg", time.Now().UTC().Format("20060102-150405"), saved))
						if err := os.MkdirAll(outputDir, 0o755); err != nil {
							logger.Warn("Could not create output directory", zap.Error(err))
							continue
						}
						if err := writeImageFile(outcome.Result.TryOnImageBase64, path); err != nil {
							logger.Warn("Could not save try-on image", zap.Error(err))
							continue
						}
						fmt.Printf("Saved result to %s\n", path)
					}
				}
			}
		},
	}

	watchCmd.Flags().Bool("manual", false, "Enable manual selection mode (click any image to pick it).")
	watchCmd.Flags().Duration("duration", 0, "Stop watching after this long. 0 watches until interrupted.")
	watchCmd.Flags().StringP("output-dir", "o", "", "Directory to save successful try-on images into.")
	watchCmd.Flags().Bool("headless", true, "Run the browser headless. (Overrides config/env)")
	watchCmd.Flags().Bool("eager-scan", true, "Scan images already on the page at startup. (Overrides config/env)")

	return watchCmd
}

// reportOutcome prints one try-on result to the terminal.
func reportOutcome(outcome controller.Outcome) {
	switch outcome.Result.Kind {
	case relay.KindSuccess:
		fmt.Printf("Try-on succeeded for %s (%.1fs)\n", outcome.Src, outcome.Elapsed.Seconds())
	case relay.KindAuthRequired:
		fmt.Printf("Try-on for %s needs sign-in: %s\n", outcome.Src, outcome.Result.Message)
	default:
		fmt.Printf("Try-on failed for %s: %s\n", outcome.Src, outcome.Result.Message)
	}
}
