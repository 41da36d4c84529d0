package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"hotlympics/core"
)

func newUsersCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "users",
		Short: "List, inspect, create and delete users",
	}

	var q core.ListUsersQuery
	list := &cobra.Command{
		Use:   "list",
		Short: "List one page of users",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			stats, err := s.svc.Admin.ReloadUsers(cmd.Context(), q)
			if err != nil {
				return err
			}
			users := s.svc.Admin.State().Users
			return opts.print(cmd.OutOrStdout(), map[string]any{"users": users, "stats": stats}, func(w io.Writer) {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tEMAIL\tGENDER\tPHOTOS\tPOOL")
				for _, u := range users {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\n", u.ID, u.Email, u.Gender, len(u.UploadedImageIDs), len(u.PoolImageIDs))
				}
				_ = tw.Flush()
				fmt.Fprintf(w, "%d users, %d images, %d with pooled photos\n", stats.TotalUsers, stats.TotalImages, stats.PooledUsers)
			})
		},
	}
	list.Flags().IntVar(&q.Limit, "limit", 0, "page size")
	list.Flags().StringVar(&q.StartAfter, "start-after", "", "cursor: last user id of the previous page")
	list.Flags().StringVar(&q.Search, "search", "", "email or id filter")

	show := &cobra.Command{
		Use:   "show <user>",
		Short: "Show a user with per-photo statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			d, err := s.svc.Admin.LoadDetails(cmd.Context(), core.UserID(args[0]))
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), d, func(w io.Writer) {
				fmt.Fprintf(w, "%s <%s> %s born %s\n", d.User.ID, d.User.Email, d.User.Gender, d.User.DateOfBirth)
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "IMAGE\tPOOL\tRATING\tBATTLES\tW/L/D")
				for _, img := range d.ImageData {
					fmt.Fprintf(tw, "%s\t%t\t%.1f\t%d\t%d/%d/%d\n", img.ImageID, img.InPool, img.Rating, img.Battles, img.Wins, img.Losses, img.Draws)
				}
				_ = tw.Flush()
			})
		},
	}

	var (
		form   core.CreateUserForm
		photos []string
	)
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user with photos",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			uploads, err := readPhotos(photos)
			if err != nil {
				return err
			}
			f := form
			f.Photos = uploads
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			id, err := s.svc.Admin.CreateUser(cmd.Context(), f)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), map[string]any{"userId": id}, func(w io.Writer) {
				fmt.Fprintf(w, "created %s\n", id)
			})
		},
	}
	create.Flags().StringVar(&form.Email, "email", "", "account email")
	create.Flags().StringVar(&form.Password, "password", "", "initial password")
	create.Flags().StringVar(&form.Gender, "gender", "", "female or male")
	create.Flags().StringVar(&form.DateOfBirth, "dob", "", "date of birth, YYYY-MM-DD")
	create.Flags().StringArrayVar(&photos, "photo", nil, "photo file to upload (repeatable)")
	create.Flags().IntSliceVar(&form.PoolIndices, "pool", nil, "indexes of --photo files to put in the pool")

	var yes bool
	del := &cobra.Command{
		Use:   "delete <user>",
		Short: "Delete a user and all of their photos",
		Long:  "Delete a user. The command asks twice before calling the API unless --yes is given.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			id := core.UserID(args[0])
			admin := s.svc.Admin

			admin.RequestUserDelete(id)
			in := bufio.NewReader(cmd.InOrStdin())
			prompts := []string{
				fmt.Sprintf("Delete user %s and all of their photos? [y/N] ", id),
				"This cannot be undone. Type the user id to confirm: ",
			}
			for i, p := range prompts {
				if !yes {
					fmt.Fprint(cmd.ErrOrStderr(), p)
					answer, _ := in.ReadString('\n')
					answer = strings.TrimSpace(answer)
					if (i == 0 && !strings.EqualFold(answer, "y")) || (i == 1 && answer != string(id)) {
						admin.CancelUserDelete(id)
						return errors.New("aborted")
					}
				}
				if i == 0 {
					if _, err := admin.ConfirmUserDelete(id); err != nil {
						return err
					}
				}
			}
			if err := admin.DeleteUser(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
			return nil
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "skip both confirmations")

	cmd.AddCommand(list, show, create, del)
	return cmd
}

func readPhotos(paths []string) ([]core.PhotoUpload, error) {
	out := make([]core.PhotoUpload, 0, len(paths))
	for _, p := range paths {
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		ct := mime.TypeByExtension(filepath.Ext(p))
		if ct == "" {
			ct = "application/octet-stream"
		}
		out = append(out, core.PhotoUpload{Name: filepath.Base(p), ContentType: ct, Data: data})
	}
	return out, nil
}
