package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pressroom/internal/sources"
)

func newSourcesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sources",
		Short: "Manage the publications that get crawled",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Add the sources listed in a YAML file, skipping known URLs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			entries, err := sources.LoadFile(args[0])
			if err != nil {
				return err
			}
			rep, err := a.Importer().Import(cmd.Context(), entries)
			if err != nil {
				return fmt.Errorf("import sources: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "imported %d sources: %d created, %d already present, %d invalid\n",
				len(entries), rep.Created, rep.Existing, rep.Invalid)
			return nil
		},
	})
	return cmd
}
