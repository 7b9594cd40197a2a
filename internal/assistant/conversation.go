package assistant

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/stellarlinkco/cauldronwatch/internal/transcript"
)

// ApologyMessage replaces the reply when a completion fails.
const ApologyMessage = "I apologize, but I'm having trouble connecting right now. Please try again in a moment."

// Chatter answers a transcript.
type Chatter interface {
	Chat(ctx context.Context, msgs []transcript.Message) (string, error)
}

// StreamChatter answers a transcript while reporting reply deltas.
type StreamChatter interface {
	ChatStream(ctx context.Context, msgs []transcript.Message, onChunk func(string)) (string, error)
}

// Conversation keeps per-session transcripts in a store and routes new user
// messages through the assistant.
type Conversation struct {
	chat  Chatter
	store transcript.Store

	mu    sync.Mutex
	locks map[string]*sessionLock
}

// sessionLock is dropped from the map once no caller holds or waits on it.
type sessionLock struct {
	sync.Mutex
	refs int
}

func NewConversation(chat Chatter, store transcript.Store) *Conversation {
	return &Conversation{
		chat:  chat,
		store: store,
		locks: make(map[string]*sessionLock),
	}
}

func (c *Conversation) lock(session string) func() {
	c.mu.Lock()
	l, ok := c.locks[session]
	if !ok {
		l = &sessionLock{}
		c.locks[session] = l
	}
	l.refs++
	c.mu.Unlock()

	l.Lock()
	return func() {
		l.Unlock()
		c.mu.Lock()
		if l.refs--; l.refs == 0 {
			delete(c.locks, session)
		}
		c.mu.Unlock()
	}
}

// Send appends text as a user message, asks the assistant and appends the
// reply, or the apology when the completion fails. The returned transcript
// is always the saved one; the completion error, if any, is returned
// alongside it.
func (c *Conversation) Send(ctx context.Context, session, text string) ([]transcript.Message, error) {
	return c.send(ctx, session, text, func(msgs []transcript.Message) (string, error) {
		return c.chat.Chat(ctx, msgs)
	})
}

// SendStream is Send with reply deltas passed to onChunk. It falls back to a
// single completion when the assistant cannot stream.
func (c *Conversation) SendStream(ctx context.Context, session, text string, onChunk func(string)) ([]transcript.Message, error) {
	sc, ok := c.chat.(StreamChatter)
	if !ok {
		return c.Send(ctx, session, text)
	}
	return c.send(ctx, session, text, func(msgs []transcript.Message) (string, error) {
		return sc.ChatStream(ctx, msgs, onChunk)
	})
}

func (c *Conversation) send(ctx context.Context, session, text string, ask func([]transcript.Message) (string, error)) ([]transcript.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, fmt.Errorf("empty message")
	}

	unlock := c.lock(session)
	defer unlock()

	msgs, err := c.store.Load(session)
	if err != nil {
		return nil, fmt.Errorf("load transcript: %w", err)
	}
	msgs = append(msgs, transcript.Message{Role: transcript.RoleUser, Content: text})

	reply, chatErr := ask(msgs)
	if chatErr != nil {
		reply = ApologyMessage
	}
	msgs = append(msgs, transcript.Message{Role: transcript.RoleAssistant, Content: reply})

	if err := c.store.Save(session, msgs); err != nil {
		return msgs, fmt.Errorf("save transcript: %w", err)
	}
	return msgs, chatErr
}

func (c *Conversation) History(session string) ([]transcript.Message, error) {
	return c.store.Load(session)
}

// Clear resets the session to the welcome message.
func (c *Conversation) Clear(session string) ([]transcript.Message, error) {
	unlock := c.lock(session)
	defer unlock()

	if err := c.store.Clear(session); err != nil {
		return nil, err
	}
	return transcript.Default(), nil
}
