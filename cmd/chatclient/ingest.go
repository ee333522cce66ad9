package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest [payload-file]",
	Short: "Fold one notification payload the way a background process would",
	Long: `Reads a notification payload (JSON) from a file or stdin and merges it into
the local log after reloading it, exactly as a notification extension does
while the app is suspended.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var in io.Reader = cmd.InOrStdin()
		if len(args) == 1 && args[0] != "-" {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			in = f
		}

		payload, err := io.ReadAll(in)
		if err != nil {
			return fmt.Errorf("reading payload: %w", err)
		}

		ctx := cmd.Context()
		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		update, changed, err := s.registry.DeliverBackground(ctx, payload)
		if err != nil {
			return err
		}
		if !changed {
			fmt.Fprintln(cmd.OutOrStdout(), "discarded")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", update.Kind, update.Message.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
