package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"buddypark.app/relay/internal/chat/relayclient"
	"buddypark.app/relay/internal/model"
)

var sendCmd = &cobra.Command{
	Use:   "send <conversation-id> <message>",
	Short: "Write a message and hand the conversation to the relay",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		update, err := s.registry.Send(ctx, args[0], strings.Join(args[1:], " "))
		if err != nil {
			return fmt.Errorf("storing message: %w", err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", update.Kind, update.Message.ID)
		return nil
	},
}

var greetCmd = &cobra.Command{
	Use:   "greet <conversation-id>",
	Short: "Ask the character to open a conversation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.relay.Greet(ctx, args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", result.Status, result.ReplyID)
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart <conversation-id>",
	Short: "Recover the last reply the relay produced",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		s, err := openSession(ctx, true)
		if err != nil {
			return err
		}
		defer s.Close()

		result, err := s.relay.Restart(ctx, args[0])
		if errors.Is(err, relayclient.ErrNoReply) {
			fmt.Fprintln(cmd.OutOrStdout(), "no reply to recover")
			return nil
		}
		if err != nil {
			return err
		}

		payload, err := json.Marshal(model.Notification{
			FullText:       result.Reply,
			ConversationID: args[0],
			ReplyID:        result.ReplyID,
		})
		if err != nil {
			return err
		}
		update, changed, err := s.registry.DeliverForeground(ctx, payload)
		if err != nil {
			return err
		}
		if !changed {
			fmt.Fprintln(cmd.OutOrStdout(), "log already up to date")
			return nil
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", update.Kind, update.Message.ID)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(sendCmd, greetCmd, restartCmd)
}
