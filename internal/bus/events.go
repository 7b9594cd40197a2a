package bus

import "time"

// MetaCommand is the metadata key channels use for chat commands such as "clear".
const MetaCommand = "command"

type InboundMessage struct {
	Channel   string
	SenderID  string
	ChatID    string
	Content   string
	Timestamp time.Time
	Metadata  map[string]any
}

// SessionKey names the transcript a message belongs to.
func (m *InboundMessage) SessionKey() string {
	return m.Channel + ":" + m.ChatID
}

// Command returns the chat command attached by the channel, if any.
func (m *InboundMessage) Command() string {
	cmd, _ := m.Metadata[MetaCommand].(string)
	return cmd
}

type OutboundMessage struct {
	Channel string
	ChatID  string
	Content string
	ReplyTo string
	// Partial marks a streamed chunk of a reply still in progress.
	Partial bool
	// Failed marks a canned reply sent in place of a failed completion.
	Failed   bool
	Metadata map[string]any
}
