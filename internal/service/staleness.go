package service

import (
	"context"
	"fmt"

	"buddypark.app/relay/internal/store"
)

type Verdict int

const (
	VerdictStale Verdict = iota
	VerdictValid
)

func (v Verdict) String() string {
	if v == VerdictValid {
		return "valid"
	}
	return "stale"
}

// StalenessGuard tells an in-flight turn whether the user has moved on.
type StalenessGuard interface {
	Validate(ctx context.Context, conversationID, expectedLastUserMessage string) (Verdict, error)
}

type stalenessGuard struct {
	snapshots store.SnapshotStore
}

func NewStalenessGuard(snapshots store.SnapshotStore) StalenessGuard {
	return &stalenessGuard{snapshots: snapshots}
}

// Validate compares the snapshot's last user message with the one that started
// the turn. Comparison is exact: no trimming or normalisation. A conversation
// without a snapshot, or without a user entry, is stale.
func (g *stalenessGuard) Validate(ctx context.Context, conversationID, expectedLastUserMessage string) (Verdict, error) {
	last, ok, err := g.snapshots.ReadLastUserMessage(ctx, conversationID)
	if err != nil {
		return VerdictStale, fmt.Errorf("reading last user message: %w", err)
	}
	if !ok || last != expectedLastUserMessage {
		return VerdictStale, nil
	}
	return VerdictValid, nil
}
