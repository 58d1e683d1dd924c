package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOnceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "once",
		Short: "Run a single pass and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			result, err := a.Scheduler.RunOnce(cmd.Context())
			if err != nil {
				return fmt.Errorf("pass %s: %w", result.PassID, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(),
				"pass %s: %d forums, %d failed, %d topics, %d new, %d delivered\n",
				result.PassID, len(result.Forums), len(result.FailedForums()),
				result.Found(), result.NewTopics(), result.Delivered())
			return nil
		},
	}
}
