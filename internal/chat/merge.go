package chat

import (
	"time"
	"unicode/utf8"

	"buddypark.app/relay/internal/model"
)

// DefaultCollapseSeparator joins two user messages sent back to back.
const DefaultCollapseSeparator = "\n"

type UpdateKind string

const (
	UpdateAppended  UpdateKind = "appended"
	UpdateReplaced  UpdateKind = "replaced"
	UpdateCollapsed UpdateKind = "collapsed"
)

type action int

const (
	actionDiscard action = iota
	actionAppend
	actionReplace
)

// decision is the outcome of merging one incoming message into a log.
type decision struct {
	action  action
	kind    UpdateKind
	message model.Message // what to store
}

type mergePolicy struct {
	separator string
	now       func() time.Time
	newID     func() string
}

// decide looks only at the last stored message:
//
//	empty log                   -> append
//	user after user             -> collapse into one user message
//	assistant after assistant   -> replace if strictly longer, else discard
//	anything else               -> append
//
// Collapsing and replacing store a new message with a fresh id.
func (p mergePolicy) decide(last *model.Message, incoming model.Message) decision {
	if last == nil || last.Role != incoming.Role {
		return decision{action: actionAppend, kind: UpdateAppended, message: incoming}
	}

	switch incoming.Role {
	case model.RoleUser:
		return decision{
			action: actionReplace,
			kind:   UpdateCollapsed,
			message: model.Message{
				ID:        p.newID(),
				Role:      model.RoleUser,
				Content:   last.Content + p.separator + incoming.Content,
				Timestamp: p.now(),
			},
		}
	default:
		if utf8.RuneCountInString(incoming.Content) <= utf8.RuneCountInString(last.Content) {
			return decision{action: actionDiscard}
		}
		return decision{action: actionReplace, kind: UpdateReplaced, message: incoming}
	}
}
