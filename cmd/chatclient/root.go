package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"buddypark.app/relay/common/logger"
	"buddypark.app/relay/internal/chat"
	"buddypark.app/relay/internal/chat/localstore"
	"buddypark.app/relay/internal/chat/relayclient"
)

var (
	verbose    bool
	configPath string
	cfg        clientConfig
)

var rootCmd = &cobra.Command{
	Use:   "chatclient",
	Short: "Chat with a companion through the relay",
	Long: `A terminal client for the BuddyPark relay.

Messages are kept in a local SQLite log. Replies arrive as push notifications,
either live from the push outbox (listen) or one payload at a time (ingest),
and are merged into the log the same way the app merges them.

Quick Start:
  chatclient send c1 "hello"     # write to a conversation
  chatclient listen              # fold replies as they are pushed
  chatclient show c1             # read the conversation`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logger.SetupConsole(verbose)

		loaded, err := loadConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
		return nil
	},
}

func init() {
	defaultPath := ""
	if home, err := os.UserHomeDir(); err == nil {
		defaultPath = filepath.Join(home, ".buddypark", "chatclient.yaml")
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultPath, "Path to the client config file")
}

// session bundles what a command needs to touch the local log.
type session struct {
	store    *localstore.Store
	relay    *relayclient.Client
	registry *chat.Registry
}

func openSession(ctx context.Context, withRelay bool) (*session, error) {
	store, err := localstore.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("opening local store: %w", err)
	}

	s := &session{store: store}
	var sender chat.TurnSender
	if withRelay {
		s.relay = relayclient.New(relayclient.Config{
			BaseURL:      cfg.Relay.BaseURL,
			APIKey:       cfg.Relay.APIKey,
			CharacterID:  cfg.Relay.CharacterID,
			UserID:       cfg.Relay.UserID,
			RoutingToken: cfg.Relay.RoutingToken,
			Timeout:      cfg.Relay.Timeout,
		})
		sender = s.relay
	}
	s.registry = chat.NewRegistry(store, sender, chat.Config{})
	return s, nil
}

// Close waits for pending relay requests before closing the store.
func (s *session) Close() {
	s.registry.Close()
	_ = s.store.Close()
}
