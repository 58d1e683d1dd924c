package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/forumwatch/internal/watcher"
)

const checkMessage = "✅ <b>forumwatch</b> configuration check: Telegram delivery works."

func newCheckCmd() *cobra.Command {
	var noMessage bool
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Verify Telegram credentials and fetch every forum once",
		Long: `check calls getMe to verify the bot token, sends a test message to the
configured chat unless --no-message is given, then fetches and parses every
forum and prints how many topics were found. State is not touched.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			out := cmd.OutOrStdout()

			username, err := a.Sender.Verify(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "telegram: bot @%s\n", username)
			if !noMessage {
				if err := a.Sender.Send(ctx, checkMessage); err != nil {
					return err
				}
				fmt.Fprintln(out, "telegram: test message sent")
			}

			failed := 0
			for _, forum := range a.Config.Forums {
				topics, err := forumTopics(ctx, a.Fetcher, a.Extractor, forum)
				if err != nil {
					failed++
					fmt.Fprintf(out, "forum %s (%s): error: %v\n", forum.ID, forum.DisplayName(), err)
					continue
				}
				fmt.Fprintf(out, "forum %s (%s): %d topics\n", forum.ID, forum.DisplayName(), len(topics))
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d forums failed", failed, len(a.Config.Forums))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&noMessage, "no-message", false, "skip the Telegram test message")
	return cmd
}

// forumTopics fetches and parses one forum the same way a pass does: links
// resolve against the configured forum URL, not the final response URL.
func forumTopics(ctx context.Context, f watcher.Fetcher, e watcher.Extractor, forum watcher.Forum) ([]watcher.Topic, error) {
	resp, err := f.Fetch(ctx, watcher.FetchRequest{ForumID: forum.ID, URL: forum.URL, Render: forum.Render})
	if err != nil {
		return nil, err
	}
	return e.Extract(resp.Body, forum.URL)
}
