package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Fields flow through context enrichment, so every log line of a turn carries the
// conversation and reply it belongs to without passing them around explicitly.
type LogFields struct {
	ConversationID *string // Conversation the turn or fragment belongs to
	ReplyID        *string // Stable reply identifier of the in-flight turn
	RequestType    *string // new-message, retry-message, greeting-message, app-restart
	UserID         *string
	MessageID      *string // Redis stream message ID (push outbox)
	Component      string  // Component name (OTel semantic convention style, e.g., "relay.service.turn")
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
// Context timeouts and cancellation are preserved.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.ConversationID != nil {
		result.ConversationID = new.ConversationID
	}
	if new.ReplyID != nil {
		result.ReplyID = new.ReplyID
	}
	if new.RequestType != nil {
		result.RequestType = new.RequestType
	}
	if new.UserID != nil {
		result.UserID = new.UserID
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{ReplyID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Counts runes, so multi-byte reply text is never cut mid-character.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen]) + "..."
}
