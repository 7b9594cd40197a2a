package assistant

import (
	"context"
	"fmt"
	"log"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/stellarlinkco/cauldronwatch/internal/config"
	"github.com/stellarlinkco/cauldronwatch/internal/transcript"
)

const (
	KindChat  = "chat"
	KindAgent = "agent"
)

// Assistant answers chat questions about the network.
type Assistant struct {
	model       Model
	modelName   string
	temperature float64
	maxTokens   int
	recorder    Recorder
}

func New(m Model, cfg config.AssistantConfig) *Assistant {
	return &Assistant{
		model:       m,
		modelName:   cfg.Model,
		temperature: cfg.ChatTemperature,
		maxTokens:   cfg.ChatMaxTokens,
	}
}

// SetRecorder attaches a completion observer.
func (a *Assistant) SetRecorder(r Recorder) { a.recorder = r }

func (a *Assistant) request(msgs []transcript.Message) model.Request {
	temp := a.temperature
	return model.Request{
		Messages:    toModelMessages(msgs),
		System:      ChatSystemPrompt,
		Model:       a.modelName,
		MaxTokens:   a.maxTokens,
		Temperature: &temp,
	}
}

// Chat sends the transcript and returns the trimmed reply.
func (a *Assistant) Chat(ctx context.Context, msgs []transcript.Message) (string, error) {
	resp, err := a.model.Complete(ctx, a.request(msgs))
	reply, err := replyText(resp, err)
	observe(a.recorder, KindChat, err)
	if err != nil {
		log.Printf("[assistant] chat error: %v", err)
		return "", err
	}
	return reply, nil
}

// ChatStream forwards deltas to onChunk as they arrive and returns the
// trimmed full reply.
func (a *Assistant) ChatStream(ctx context.Context, msgs []transcript.Message, onChunk func(string)) (string, error) {
	var sb strings.Builder
	var final *model.Response
	err := a.model.CompleteStream(ctx, a.request(msgs), func(r model.StreamResult) error {
		if r.Delta != "" {
			sb.WriteString(r.Delta)
			if onChunk != nil {
				onChunk(r.Delta)
			}
		}
		if r.Final {
			final = r.Response
		}
		return nil
	})
	if err == nil && sb.Len() == 0 && final != nil {
		sb.WriteString(final.Message.Content)
	}
	reply := strings.TrimSpace(sb.String())
	if err == nil && reply == "" {
		err = ErrEmptyReply
	}
	observe(a.recorder, KindChat, err)
	if err != nil {
		log.Printf("[assistant] chat stream error: %v", err)
		return "", err
	}
	return reply, nil
}

func replyText(resp *model.Response, err error) (string, error) {
	if err != nil {
		return "", fmt.Errorf("completion: %w", err)
	}
	if resp == nil {
		return "", ErrEmptyReply
	}
	reply := strings.TrimSpace(resp.Message.Content)
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}

func observe(r Recorder, kind string, err error) {
	if r != nil {
		r.ObserveCompletion(kind, err)
	}
}

func toModelMessages(msgs []transcript.Message) []model.Message {
	out := make([]model.Message, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, model.Message{Role: m.Role, Content: m.Content})
	}
	return out
}
