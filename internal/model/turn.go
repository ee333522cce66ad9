package model

type RequestType string

const (
	RequestTypeNewMessage      RequestType = "new-message"
	RequestTypeRetryMessage    RequestType = "retry-message"
	RequestTypeAppRestart      RequestType = "app-restart"
	RequestTypeGreetingMessage RequestType = "greeting-message"
)

func (t RequestType) Valid() bool {
	switch t {
	case RequestTypeNewMessage, RequestTypeRetryMessage, RequestTypeAppRestart, RequestTypeGreetingMessage:
		return true
	}
	return false
}

type TurnStatus string

const (
	TurnStatusCompleted     TurnStatus = "completed"
	TurnStatusStale         TurnStatus = "stale"
	TurnStatusUpstreamError TurnStatus = "upstream_error"
	TurnStatusRestored      TurnStatus = "restored"
)
