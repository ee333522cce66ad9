package service

import (
	"buddypark.app/relay/common/id"
	"buddypark.app/relay/common/llm"
	"buddypark.app/relay/core/config"
	"buddypark.app/relay/internal/push"
	"buddypark.app/relay/internal/store"
)

type Services struct {
	snapshots store.SnapshotStore
	completer llm.Completer
	sender    push.Sender
	cfg       config.Config
}

func NewServices(snapshots store.SnapshotStore, completer llm.Completer, sender push.Sender, cfg config.Config) *Services {
	return &Services{
		snapshots: snapshots,
		completer: completer,
		sender:    sender,
		cfg:       cfg,
	}
}

func (s *Services) Separator() rune {
	return []rune(s.cfg.Relay.Separator)[0]
}

func (s *Services) Staleness() StalenessGuard {
	return NewStalenessGuard(s.snapshots)
}

func (s *Services) Dispatcher() *Dispatcher {
	return NewDispatcher(s.sender, DispatcherConfig{
		Separator:   s.Separator(),
		Concurrency: s.cfg.Relay.DispatchConcurrency,
		Sound:       s.cfg.Push.Sound,
		Category:    s.cfg.Push.Category,
	})
}

func (s *Services) Turns() TurnService {
	return NewTurnService(
		s.snapshots,
		s.Staleness(),
		s.completer,
		s.Dispatcher(),
		NewTemplatePromptBuilder(s.cfg.Relay.CharacterPromptTemplate),
		TurnConfig{
			Separator:       s.Separator(),
			GreetingMessage: s.cfg.Relay.GreetingMessage,
			Timeout:         s.cfg.Relay.TurnTimeout,
			OpenTimeout:     s.cfg.CompletionLLM.Timeout,
		},
		id.NewReplyID,
	)
}
