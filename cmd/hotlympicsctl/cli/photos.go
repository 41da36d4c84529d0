package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"hotlympics/core"
)

func newPhotosCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "photos",
		Short: "Delete photos and change pool membership",
	}

	var user string
	del := &cobra.Command{
		Use:   "delete <image>",
		Short: "Delete a photo",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			if err := s.svc.Admin.DeletePhoto(cmd.Context(), core.ImageID(args[0]), core.UserID(user)); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
			return nil
		},
	}
	del.Flags().StringVar(&user, "user", "", "owner of the photo")
	_ = del.MarkFlagRequired("user")

	var (
		poolUser string
		in       bool
	)
	pool := &cobra.Command{
		Use:   "pool <image>",
		Short: "Add a photo to or remove it from its owner's rating pool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ctx := cmd.Context()
			// load the owner so the pool cap is checked before any network call
			if _, err := s.svc.Admin.LoadDetails(ctx, core.UserID(poolUser)); err != nil {
				return err
			}
			confirmed, err := s.svc.Admin.TogglePool(ctx, core.ImageID(args[0]), core.UserID(poolUser), !in)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]any{"imageId": args[0], "isInPool": confirmed}, func(w io.Writer) {
				fmt.Fprintf(w, "%s in pool: %t\n", args[0], confirmed)
			})
		},
	}
	pool.Flags().StringVar(&poolUser, "user", "", "owner of the photo")
	pool.Flags().BoolVar(&in, "in", true, "desired membership")
	_ = pool.MarkFlagRequired("user")

	cmd.AddCommand(del, pool)
	return cmd
}
