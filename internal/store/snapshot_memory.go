package store

import (
	"context"
	"sync"
	"time"

	"buddypark.app/relay/internal/model"
)

type memorySnapshotStore struct {
	mu        sync.RWMutex
	snapshots map[string]model.ConversationSnapshot
	now       func() time.Time
}

// NewMemorySnapshotStore keeps snapshots in process memory. Used for local runs
// and tests; snapshots do not survive a restart.
func NewMemorySnapshotStore() SnapshotStore {
	return &memorySnapshotStore{
		snapshots: make(map[string]model.ConversationSnapshot),
		now:       time.Now,
	}
}

func (s *memorySnapshotStore) SaveTurnStart(_ context.Context, conversationID string, requestMessages []model.RequestMessage, prompt, routingToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[conversationID] = model.ConversationSnapshot{
		ConversationID:      conversationID,
		LastRequestMessages: append([]model.RequestMessage(nil), requestMessages...),
		Prompt:              prompt,
		RoutingToken:        routingToken,
		LastReplyContent:    s.snapshots[conversationID].LastReplyContent,
		SavedAt:             s.now().UTC(),
	}
	return nil
}

func (s *memorySnapshotStore) SaveTurnResult(_ context.Context, conversationID, finalReplyContent string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[conversationID]
	if !ok {
		snap = model.ConversationSnapshot{ConversationID: conversationID}
	}
	snap.LastReplyContent = finalReplyContent
	snap.SavedAt = s.now().UTC()
	s.snapshots[conversationID] = snap
	return nil
}

func (s *memorySnapshotStore) SaveTurnResultIf(_ context.Context, conversationID, expectedLastUser, finalReplyContent string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap, ok := s.snapshots[conversationID]
	if !ok {
		return false, nil
	}
	if last, found := snap.LastUserMessage(); !found || last != expectedLastUser {
		return false, nil
	}
	snap.LastReplyContent = finalReplyContent
	snap.SavedAt = s.now().UTC()
	s.snapshots[conversationID] = snap
	return true, nil
}

func (s *memorySnapshotStore) ReadLastUserMessage(_ context.Context, conversationID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[conversationID]
	if !ok {
		return "", false, nil
	}
	last, found := snap.LastUserMessage()
	return last, found, nil
}

func (s *memorySnapshotStore) ReadLastReply(_ context.Context, conversationID string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[conversationID]
	if !ok || snap.LastReplyContent == "" {
		return "", false, nil
	}
	return snap.LastReplyContent, true, nil
}

func (s *memorySnapshotStore) Get(_ context.Context, conversationID string) (*model.ConversationSnapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap, ok := s.snapshots[conversationID]
	if !ok {
		return nil, ErrNotFound
	}
	snap.LastRequestMessages = append([]model.RequestMessage(nil), snap.LastRequestMessages...)
	return &snap, nil
}
