// Package protocol defines the conversation message types shared by the
// session store, prompt builder, and generation backends.
package protocol

// Role identifies the sender of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message represents a single message in a conversation. Content is plain
// text; generation backends marshal it into their own wire shapes.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// NewMessage creates a Message with the given role and content.
//
// Example:
//
//	msg := protocol.NewMessage(protocol.RoleUser, "Hello")
func NewMessage(role Role, content string) Message {
	return Message{Role: role, Content: content}
}

// Window returns the trailing n messages of history, oldest first. When
// history holds fewer than n entries the whole slice is returned. The result
// aliases history; callers must not mutate it.
func Window(history []Message, n int) []Message {
	if n <= 0 || len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}
