package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"hotlympics/core"
	sdk "hotlympics/sdk/go"
)

func newWatchCmd(opts *rootOptions) *cobra.Command {
	var (
		server  string
		apiKey  string
		types   []string
		count   int
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Stream mutation events from a running hotlympics-admin",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eventsURL, err := streamURL(server, types)
			if err != nil {
				return err
			}
			client, err := sdk.NewClient(server, sdk.WithAPIKey(apiKey), sdk.WithEventsURL(eventsURL))
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			if timeout > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, timeout)
				defer cancel()
			}
			events, err := client.SubscribeEvents(ctx)
			if err != nil {
				return err
			}
			w := cmd.OutOrStdout()
			seen := 0
			for evt := range events {
				if opts.output == "json" {
					b, _ := json.Marshal(evt)
					fmt.Fprintln(w, string(b))
				} else {
					fmt.Fprintln(w, formatEvent(evt))
				}
				seen++
				if count > 0 && seen >= count {
					return nil
				}
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&server, "server", "http://localhost:8080/api", "hotlympics-admin base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "API key of the admin server")
	cmd.Flags().StringSliceVar(&types, "type", nil, "only these event types (repeatable)")
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many events")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "exit after this long")
	return cmd
}

func streamURL(server string, types []string) (string, error) {
	u, err := url.Parse(strings.TrimSuffix(server, "/"))
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("unsupported server scheme %q", u.Scheme)
	}
	u.Path += "/ws"
	q := u.Query()
	for _, t := range types {
		q.Add("type", t)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func formatEvent(e core.Event) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s %-14s %-11s", e.Time.Format(time.RFC3339), e.Type, e.Status)
	if e.UserID != "" {
		fmt.Fprintf(&b, " user=%s", e.UserID)
	}
	if e.ImageID != "" {
		fmt.Fprintf(&b, " image=%s", e.ImageID)
	}
	if e.InPool != nil {
		fmt.Fprintf(&b, " in_pool=%t", *e.InPool)
	}
	if e.Error != "" {
		fmt.Fprintf(&b, " error=%q", e.Error)
	}
	return b.String()
}
