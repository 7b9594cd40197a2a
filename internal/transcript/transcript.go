// Package transcript persists chat transcripts behind a versioned schema.
package transcript

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"github.com/stellarlinkco/cauldronwatch/internal/config"
)

// SchemaVersion is the envelope version written by this package.
const SchemaVersion = 1

const (
	RoleUser      = "user"
	RoleAssistant = "assistant"

	DefaultSession = "default"

	WelcomeMessage = "Hello! I'm your Cauldron Network AI Assistant. I can help you understand your potion data, troubleshoot issues, and optimize your operations. What would you like to know?"
)

var ErrUnsupportedVersion = errors.New("unsupported transcript version")

type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Envelope is the stored form of one session transcript.
type Envelope struct {
	Version   int       `json:"version"`
	Key       string    `json:"key"`
	UpdatedAt time.Time `json:"updatedAt"`
	Messages  []Message `json:"messages"`
}

// Store loads and saves transcripts by session.
type Store interface {
	Load(session string) ([]Message, error)
	Save(session string, msgs []Message) error
	Clear(session string) error
	Close() error
}

// Default returns a fresh transcript holding only the welcome message.
func Default() []Message {
	return []Message{{Role: RoleAssistant, Content: WelcomeMessage}}
}

// Open returns the backend selected by cfg.
func Open(cfg *config.Config) (Store, error) {
	key := cfg.Transcript.Key
	switch cfg.Transcript.Backend {
	case config.TranscriptBackendSQLite:
		dbPath := cfg.TranscriptPath()
		s, err := NewSQLiteStore(dbPath, key)
		if err != nil {
			return nil, err
		}
		n, err := s.ImportFile(filepath.Join(filepath.Dir(dbPath), "transcripts"))
		if err != nil {
			log.Printf("[transcript] import file transcripts: %v", err)
		} else if n > 0 {
			log.Printf("[transcript] imported %d file transcripts", n)
		}
		return s, nil
	case config.TranscriptBackendFile, "":
		return NewFileStore(cfg.TranscriptPath(), key)
	default:
		return nil, fmt.Errorf("unknown transcript backend %q", cfg.Transcript.Backend)
	}
}

func storageKey(key, session string) string {
	return keyPrefix(key) + normalizeSession(session)
}

func keyPrefix(key string) string {
	if key == "" {
		key = config.DefaultTranscriptKey
	}
	return key + ":"
}

func normalizeSession(session string) string {
	session = strings.TrimSpace(session)
	if session == "" {
		return DefaultSession
	}
	return session
}

func encode(key, session string, msgs []Message) ([]byte, error) {
	env := Envelope{
		Version:   SchemaVersion,
		Key:       storageKey(key, session),
		UpdatedAt: time.Now().UTC(),
		Messages:  msgs,
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("marshal transcript: %w", err)
	}
	return data, nil
}

// decode parses a stored payload. Version 0 is the bare message array the
// browser widget used to keep; it is upgraded in place. Malformed payloads
// yield the default transcript.
func decode(data []byte) ([]Message, error) {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "" {
		return Default(), nil
	}

	if strings.HasPrefix(trimmed, "[") {
		var msgs []Message
		if err := json.Unmarshal([]byte(trimmed), &msgs); err != nil {
			log.Printf("[transcript] malformed legacy payload, using default: %v", err)
			return Default(), nil
		}
		return orDefault(msgs), nil
	}

	var env Envelope
	if err := json.Unmarshal([]byte(trimmed), &env); err != nil {
		log.Printf("[transcript] malformed payload, using default: %v", err)
		return Default(), nil
	}
	if env.Version != SchemaVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, env.Version)
	}
	return orDefault(env.Messages), nil
}

func orDefault(msgs []Message) []Message {
	out := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Role != RoleUser && m.Role != RoleAssistant {
			continue
		}
		out = append(out, m)
	}
	if len(out) == 0 {
		return Default()
	}
	return out
}
