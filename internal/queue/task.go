package queue

import "buddypark.app/relay/internal/model"

const DefaultPushStream = "push_outbox"

// PushTask is one notification waiting in the outbox for the push worker.
type PushTask struct {
	RoutingToken string
	Notification model.Notification
	TraceID      *string
}
