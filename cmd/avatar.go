// -- cmd/avatar.go --
package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/fitchecklabs/fitcheck-cli/api/schemas"
	"github.com/fitchecklabs/fitcheck-cli/internal/imaging"
)

// newAvatarCmd groups the avatar subcommands. The stored avatar is the
// "before" picture every try-on composites clothing onto.
func newAvatarCmd() *cobra.Command {
	avatarCmd := &cobra.Command{
		Use:   "avatar",
		Short: "Manage the stored avatar photo",
	}
	avatarCmd.AddCommand(newAvatarSetCmd())
	avatarCmd.AddCommand(newAvatarShowCmd())
	avatarCmd.AddCommand(newAvatarCheckCmd())
	return avatarCmd
}

func newAvatarSetCmd() *cobra.Command {
	setCmd := &cobra.Command{
		Use:   "set [image-file]",
		Short: "Store a photo as the try-on avatar",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			skipCheck, _ := cmd.Flags().GetBool("skip-safety-check")

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image file: %w", err)
			}
			dataURL, err := imaging.NormalizeToJPEG(raw, appCfg.Acquire.JPEGQuality)
			if err != nil {
				return fmt.Errorf("unsupported image: %w", err)
			}

			components, err := initializeComponents(ctx, appCfg, false)
			if err != nil {
				components.Shutdown(ctx)
				return err
			}
			defer components.Shutdown(ctx)

			if !skipCheck {
				reply, err := checkAvatar(ctx, components, dataURL)
				if err != nil {
					return err
				}
				if !reply.Success {
					return fmt.Errorf("could not verify the photo: %s", reply.Message)
				}
				if !reply.IsSafe {
					return fmt.Errorf("photo rejected: %s", reply.Reason)
				}
			}

			rec := schemas.AvatarRecord{
				Base64:     dataURL,
				FileName:   filepath.Base(args[0]),
				UploadDate: time.Now().UTC(),
				FileSize:   int64(len(raw)),
			}
			if err := components.Store.SaveAvatar(ctx, rec); err != nil {
				return fmt.Errorf("failed to store avatar: %w", err)
			}
			fmt.Printf("Avatar stored (%s, %d bytes).\n", rec.FileName, rec.FileSize)
			return nil
		},
	}
	setCmd.Flags().Bool("skip-safety-check", false, "Store the photo without running the safety screen.")
	return setCmd
}

func newAvatarShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Print metadata about the stored avatar",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			components, err := initializeComponents(ctx, appCfg, false)
			if err != nil {
				components.Shutdown(ctx)
				return err
			}
			defer components.Shutdown(ctx)

			rec, err := components.Store.GetAvatar(ctx)
			if err != nil {
				return fmt.Errorf("no avatar stored: %w", err)
			}
			fmt.Printf("File:     %s\nSize:     %d bytes\nUploaded: %s\n",
				rec.FileName, rec.FileSize, rec.UploadDate.Format(time.RFC3339))
			return nil
		},
	}
}

func newAvatarCheckCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "check [image-file]",
		Short: "Run the safety screen on a photo without storing it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			raw, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read image file: %w", err)
			}
			dataURL, err := imaging.NormalizeToJPEG(raw, appCfg.Acquire.JPEGQuality)
			if err != nil {
				return fmt.Errorf("unsupported image: %w", err)
			}

			components, err := initializeComponents(ctx, appCfg, false)
			if err != nil {
				components.Shutdown(ctx)
				return err
			}
			defer components.Shutdown(ctx)

			reply, err := checkAvatar(ctx, components, dataURL)
			if err != nil {
				return err
			}
			switch {
			case !reply.Success:
				return fmt.Errorf("could not verify the photo: %s", reply.Message)
			case reply.IsSafe:
				fmt.Printf("Photo accepted: %s\n", reply.Reason)
			default:
				fmt.Printf("Photo rejected: %s\n", reply.Reason)
			}
			return nil
		},
	}
}

// checkAvatar round-trips a CHECK_AVATAR request through the broker.
func checkAvatar(ctx context.Context, components *appComponents, dataURL string) (schemas.CheckAvatarReply, error) {
	var reply schemas.CheckAvatarReply
	err := components.Bus.Request(ctx, schemas.ActionCheckAvatar,
		schemas.CheckAvatarRequest{ImageData: dataURL}, &reply)
	if err != nil {
		return reply, fmt.Errorf("safety check request failed: %w", err)
	}
	return reply, nil
}
