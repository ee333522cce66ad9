package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"buddypark.app/relay/internal/model"
)

var (
	exportFormat string
	exportOutput string
)

type conversationExport struct {
	ConversationID string          `json:"conversation_id" yaml:"conversation_id"`
	Messages       []model.Message `json:"messages" yaml:"messages"`
}

var exportCmd = &cobra.Command{
	Use:   "export [conversation-id...]",
	Short: "Export conversations as YAML or JSON",
	Long:  `Exports the named conversations, or every stored conversation when none is named.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		ids := args
		if len(ids) == 0 {
			if ids, err = s.store.Conversations(ctx); err != nil {
				return err
			}
		}

		exports := make([]conversationExport, 0, len(ids))
		for _, id := range ids {
			msgs, err := s.store.Load(ctx, id)
			if err != nil {
				return err
			}
			exports = append(exports, conversationExport{ConversationID: id, Messages: msgs})
		}

		var w io.Writer = cmd.OutOrStdout()
		if exportOutput != "" {
			f, err := os.Create(exportOutput)
			if err != nil {
				return fmt.Errorf("creating output file: %w", err)
			}
			defer f.Close()
			w = f
		}
		return writeExport(w, exportFormat, exports)
	},
}

func writeExport(w io.Writer, format string, exports []conversationExport) error {
	switch format {
	case "yaml", "yml":
		enc := yaml.NewEncoder(w)
		defer func() { _ = enc.Close() }()
		return enc.Encode(exports)
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(exports)
	default:
		return fmt.Errorf("unsupported format %q (use yaml or json)", format)
	}
}

func init() {
	exportCmd.Flags().StringVarP(&exportFormat, "format", "f", "yaml", "Output format: yaml or json")
	exportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to a file instead of stdout")
	rootCmd.AddCommand(exportCmd)
}
