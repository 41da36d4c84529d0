package cli

import (
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"hotlympics/core"
	"hotlympics/leaderboard"
)

func newCacheCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cache",
		Short: "Manage cached leaderboard snapshots",
	}

	var maxAge time.Duration
	get := &cobra.Command{
		Use:   "get <leaderboard>",
		Short: "Show a leaderboard, fetching it when the cached copy is missing or stale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			age := maxAge
			if age == 0 {
				age = s.cfg.Cache.MaxAge
			}
			snap, err := s.svc.Leaderboards.Get(cmd.Context(), args[0], age)
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), snap, func(w io.Writer) { printSnapshot(w, args[0], *snap) })
		},
	}
	get.Flags().DurationVar(&maxAge, "max-age", 0, "freshness window (default: cache.max_age)")

	refresh := &cobra.Command{
		Use:   "refresh <leaderboard>",
		Short: "Fetch a leaderboard and overwrite the cached copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			snap, err := s.svc.Leaderboards.Refresh(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return opts.print(cmd.OutOrStdout(), snap, func(w io.Writer) { printSnapshot(w, args[0], *snap) })
		},
	}

	var force, preload bool
	ensure := &cobra.Command{
		Use:   "ensure <leaderboard>",
		Short: "Refresh a leaderboard only when the cached copy is stale",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ok := s.svc.Leaderboards.EnsureFresh(cmd.Context(), args[0], s.cfg.Cache.MaxAge,
				leaderboard.EnsureOptions{PreloadImages: preload, Force: force})
			if !ok {
				return fmt.Errorf("leaderboard %s could not be refreshed", args[0])
			}
			return opts.print(cmd.OutOrStdout(), map[string]any{"id": args[0], "fresh": true}, func(w io.Writer) {
				fmt.Fprintf(w, "%s is fresh\n", args[0])
			})
		},
	}
	ensure.Flags().BoolVar(&force, "force", false, "refetch even when the cached copy is fresh")
	ensure.Flags().BoolVar(&preload, "preload", false, "warm every entry's image after a refresh")

	var manyForce bool
	many := &cobra.Command{
		Use:   "refresh-many [leaderboard...]",
		Short: "Refresh several leaderboards concurrently (default: cache.leaderboards)",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ids := args
			if len(ids) == 0 {
				ids = s.cfg.Cache.Leaderboards
			}
			res := s.svc.Leaderboards.RefreshMany(cmd.Context(), ids, s.cfg.Cache.MaxAge, leaderboard.EnsureOptions{Force: manyForce})
			if err := opts.print(cmd.OutOrStdout(), res, func(w io.Writer) {
				for _, id := range res.Success {
					fmt.Fprintf(w, "ok\t%s\n", id)
				}
				for _, id := range res.Failed {
					fmt.Fprintf(w, "failed\t%s\n", id)
				}
			}); err != nil {
				return err
			}
			if len(res.Failed) > 0 {
				return fmt.Errorf("%d of %d leaderboards failed", len(res.Failed), len(ids))
			}
			return nil
		},
	}
	many.Flags().BoolVar(&manyForce, "force", false, "refetch even when cached copies are fresh")

	list := &cobra.Command{
		Use:   "ls",
		Short: "List cached leaderboard ids",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			ids := s.svc.Leaderboards.IDs(cmd.Context())
			sort.Strings(ids)
			return opts.print(cmd.OutOrStdout(), ids, func(w io.Writer) {
				if len(ids) == 0 {
					fmt.Fprintln(w, "(no entries)")
				}
				for _, id := range ids {
					fmt.Fprintln(w, id)
				}
			})
		},
	}

	clearOne := &cobra.Command{
		Use:   "clear <leaderboard>",
		Short: "Remove one cached leaderboard",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			s.svc.Leaderboards.Clear(cmd.Context(), args[0])
			return nil
		},
	}

	clearAll := &cobra.Command{
		Use:   "clear-all",
		Short: "Remove every cached leaderboard",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd)
			if err != nil {
				return err
			}
			defer s.Close()
			n := s.svc.Leaderboards.ClearAll(cmd.Context())
			return opts.print(cmd.OutOrStdout(), map[string]int{"cleared": n}, func(w io.Writer) {
				fmt.Fprintf(w, "cleared %d leaderboards\n", n)
			})
		},
	}

	cmd.AddCommand(get, refresh, ensure, many, list, clearOne, clearAll)
	return cmd
}

func printSnapshot(w io.Writer, id string, snap core.Snapshot) {
	fmt.Fprintf(w, "%s: %d entries, update %d, generated %s\n", id, len(snap.Entries),
		snap.Metadata.UpdateCount, snap.Metadata.GeneratedAt.Format(time.RFC3339))
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "RANK\tIMAGE\tUSER\tRATING\tW/L/D")
	for i, e := range snap.Entries {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%.1f\t%d/%d/%d\n", i+1, e.ImageID, e.UserID, e.Rating, e.Wins, e.Losses, e.Draws)
	}
	_ = tw.Flush()
}
