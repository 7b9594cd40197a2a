// Package assistant bridges the dashboard chat widget and the analysis agent
// to an OpenAI-compatible completion endpoint.
package assistant

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/cexll/agentsdk-go/pkg/model"

	"github.com/stellarlinkco/cauldronwatch/internal/config"
)

var (
	ErrMissingAPIKey = errors.New("assistant: api key required")
	ErrEmptyReply    = errors.New("assistant: empty completion")
)

// Model is the subset of the agentsdk-go model the bridge needs.
type Model interface {
	Complete(ctx context.Context, req model.Request) (*model.Response, error)
	CompleteStream(ctx context.Context, req model.Request, cb model.StreamHandler) error
}

// ModelFactory builds a Model from configuration (allows injection in tests).
type ModelFactory func(cfg *config.Config) (Model, error)

// Recorder observes completion outcomes.
type Recorder interface {
	ObserveCompletion(kind string, err error)
}

// NewModel builds the OpenAI-compatible model described by cfg.
func NewModel(cfg *config.Config) (Model, error) {
	if strings.TrimSpace(cfg.Provider.APIKey) == "" {
		return nil, ErrMissingAPIKey
	}

	client := &http.Client{
		Timeout: cfg.RequestTimeout(),
		Transport: &attributionTransport{
			base:    http.DefaultTransport,
			referer: cfg.Provider.Referer,
			title:   cfg.Provider.Title,
		},
	}

	m, err := model.NewOpenAI(model.OpenAIConfig{
		APIKey:     cfg.Provider.APIKey,
		BaseURL:    cfg.Provider.BaseURL,
		Model:      cfg.Assistant.Model,
		MaxTokens:  cfg.Assistant.AgentMaxTokens,
		MaxRetries: 1,
		HTTPClient: client,
	})
	if err != nil {
		return nil, fmt.Errorf("create model: %w", err)
	}
	return m, nil
}

// attributionTransport adds the OpenRouter attribution headers.
type attributionTransport struct {
	base    http.RoundTripper
	referer string
	title   string
}

func (t *attributionTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req = req.Clone(req.Context())
	if t.referer != "" {
		req.Header.Set("HTTP-Referer", t.referer)
	}
	if t.title != "" {
		req.Header.Set("X-Title", t.title)
	}
	base := t.base
	if base == nil {
		base = http.DefaultTransport
	}
	return base.RoundTrip(req)
}
