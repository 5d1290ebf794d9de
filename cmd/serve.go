package cmd

import (
	"github.com/spf13/cobra"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the API, the lane workers and the periodic triggers",
		Long: `Starts the operator API and one worker pool per lane. Scheduled crawls,
index reconciliation and health checks are submitted on the intervals in the
schedule section of the config. Stops cleanly on SIGINT or SIGTERM.`,
		Args:        cobra.NoArgs,
		Annotations: map[string]string{annotationMode: "serve"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			return a.Serve(cmd.Context())
		},
	}
}
