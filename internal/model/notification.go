package model

// Fragment is one accepted piece of an assistant reply, as handed from the relay
// to the notification dispatcher. It is never persisted.
type Fragment struct {
	ConversationID      string
	FragmentText        string
	AccumulatedFullText string
	LastUserReplyEcho   string
	ReplyID             string
}

// Notification is the push payload delivered to the client. FullText, when set,
// is authoritative over Body: Body only carries one sub-message for display.
type Notification struct {
	Title          string `json:"title" jsonschema:"description=Display name of the character"`
	Body           string `json:"body" jsonschema:"description=One sub-message of the reply"`
	Sound          string `json:"sound,omitempty"`
	Category       string `json:"category,omitempty"`
	RawText        string `json:"raw-text" jsonschema:"description=Fragment text before sub-message splitting"`
	UsersReply     string `json:"users-reply" jsonschema:"description=User message this reply answers"`
	FullText       string `json:"full-text" jsonschema:"description=Reply text accumulated so far"`
	ConversationID string `json:"conversation-id"`
	ReplyID        string `json:"reply-id" jsonschema:"description=Stable for the whole turn"`
	ThreadID       string `json:"thread-id,omitempty"`
	MutableContent bool   `json:"mutable-content,omitempty"`
}

// ReplyText is the text the client folds into its log.
func (n Notification) ReplyText() string {
	if n.FullText != "" {
		return n.FullText
	}
	return n.Body
}
