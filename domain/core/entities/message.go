package entities

import "time"

// Role values carried by session messages
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one entry of the session's message history. NodeID scopes a
// message to a node; an empty NodeID means the message is global.
type Message struct {
	ID        string    `json:"id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	NodeID    string    `json:"node_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// MessagesMeta is the remote store's metadata about a message history
type MessagesMeta map[string]interface{}

// Clone returns a copy of the metadata
func (m MessagesMeta) Clone() MessagesMeta {
	if m == nil {
		return nil
	}
	out := make(MessagesMeta, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
