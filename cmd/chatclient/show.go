package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"buddypark.app/relay/internal/model"
)

var (
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("212")).
			Padding(0, 1).
			MarginBottom(1)

	userStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39")).
			Bold(true).
			Padding(0, 1)

	assistantStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("135")).
			Bold(true).
			Padding(0, 1)

	contentStyle = lipgloss.NewStyle().
			Padding(0, 2).
			MarginBottom(1)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

var showCmd = &cobra.Command{
	Use:   "show <conversation-id>",
	Short: "Print a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, false)
		if err != nil {
			return err
		}
		defer s.Close()

		msgs, err := s.store.Load(ctx, args[0])
		if err != nil {
			return err
		}
		renderConversation(cmd.OutOrStdout(), args[0], msgs)
		return nil
	},
}

func renderConversation(w io.Writer, conversationID string, msgs []model.Message) {
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Conversation %s (%d messages)", conversationID, len(msgs))))

	for _, m := range msgs {
		label := userStyle.Render("You")
		if m.Role == model.RoleAssistant {
			label = assistantStyle.Render(cfg.Relay.CharacterID)
		}
		stamp := ""
		if !m.Timestamp.IsZero() {
			stamp = timestampStyle.Render(m.Timestamp.Local().Format("2006-01-02 15:04:05"))
		}
		fmt.Fprintln(w, strings.TrimRight(label+" "+stamp, " "))
		fmt.Fprintln(w, contentStyle.Render(m.Content))
	}
}

func init() {
	rootCmd.AddCommand(showCmd)
}
