// Package gateway wires the dashboard, scheduler, assistant and chat
// channels into one running process.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/stellarlinkco/cauldronwatch/internal/assistant"
	"github.com/stellarlinkco/cauldronwatch/internal/bus"
	"github.com/stellarlinkco/cauldronwatch/internal/channel"
	"github.com/stellarlinkco/cauldronwatch/internal/config"
	"github.com/stellarlinkco/cauldronwatch/internal/cron"
	"github.com/stellarlinkco/cauldronwatch/internal/dashboard"
	"github.com/stellarlinkco/cauldronwatch/internal/dataset"
	"github.com/stellarlinkco/cauldronwatch/internal/metrics"
	"github.com/stellarlinkco/cauldronwatch/internal/telemetry"
	"github.com/stellarlinkco/cauldronwatch/internal/transcript"
)

const (
	jobDashboard = "dashboard"
	jobNetwork   = "network"

	assistantOfflineMessage = "The assistant is offline: no API key is configured. The dashboard keeps updating."
)

// Options for creating a Gateway
type Options struct {
	ModelFactory assistant.ModelFactory
	SignalChan   chan os.Signal // for testing signal handling
}

type Gateway struct {
	cfg       *config.Config
	bus       *bus.MessageBus
	hub       *dashboard.Hub
	metrics   *metrics.Metrics
	scheduler *cron.Service
	store     transcript.Store
	conv      *assistant.Conversation
	agent     *assistant.Agent
	api       *dashboard.API
	channels  *channel.ChannelManager

	signalChan chan os.Signal
}

// New creates a Gateway with default options
func New(cfg *config.Config) (*Gateway, error) {
	return NewWithOptions(cfg, Options{})
}

// NewWithOptions creates a Gateway with custom options for testing
func NewWithOptions(cfg *config.Config, opts Options) (*Gateway, error) {
	g := &Gateway{cfg: cfg, signalChan: opts.SignalChan}

	g.bus = bus.NewMessageBus(config.DefaultBufSize)

	data, err := dataset.Open(cfg.Dashboard.DatasetDir)
	if err != nil {
		return nil, fmt.Errorf("load dataset: %w", err)
	}

	g.hub = dashboard.NewHub(data, telemetry.NewSource(cfg.Dashboard.Seed))
	g.metrics = metrics.New()
	g.hub.SetObserver(g.metrics)

	if err := g.initScheduler(); err != nil {
		return nil, err
	}

	g.store, err = transcript.Open(cfg)
	if err != nil {
		return nil, fmt.Errorf("open transcript store: %w", err)
	}

	factory := opts.ModelFactory
	if factory == nil {
		factory = assistant.NewModel
	}
	m, err := factory(cfg)
	switch {
	case errors.Is(err, assistant.ErrMissingAPIKey):
		log.Printf("[gateway] no API key configured, chat and agent disabled")
	case err != nil:
		_ = g.store.Close()
		return nil, fmt.Errorf("create model: %w", err)
	default:
		chat := assistant.New(m, cfg.Assistant)
		chat.SetRecorder(g.metrics)
		g.conv = assistant.NewConversation(chat, g.store)
		g.agent = assistant.NewAgent(m, cfg.Assistant)
		g.agent.SetRecorder(g.metrics)
	}

	g.api = dashboard.NewAPI(g.hub, cfg.Dashboard)
	g.api.Metrics = g.metrics.Handler()
	// Leave the interfaces nil rather than typed-nil so the API answers 503.
	if g.conv != nil {
		g.api.Chat = g.conv
		g.api.Agent = g.agent
	}

	chMgr, err := channel.NewChannelManagerWithGateway(cfg.Channels, cfg.Gateway, g.bus, channel.WebUIOptions{
		API:    g.api.Handler(),
		Events: g.hub,
	})
	if err != nil {
		_ = g.store.Close()
		return nil, fmt.Errorf("create channel manager: %w", err)
	}
	g.channels = chMgr

	return g, nil
}

func (g *Gateway) initScheduler() error {
	dashTick, netTick := g.cfg.TickIntervals()

	g.scheduler = cron.NewService()
	g.scheduler.OnRun = g.metrics.ObserveTick

	if _, err := g.scheduler.AddJob(jobDashboard, cron.Every(dashTick), func(context.Context) error {
		g.hub.Tick()
		return nil
	}); err != nil {
		return fmt.Errorf("schedule dashboard tick: %w", err)
	}
	if _, err := g.scheduler.AddJob(jobNetwork, cron.Every(netTick), func(context.Context) error {
		g.hub.NetworkTick()
		return nil
	}); err != nil {
		return fmt.Errorf("schedule network tick: %w", err)
	}
	return nil
}

func (g *Gateway) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go g.bus.DispatchOutbound(ctx)

	if err := g.channels.StartAll(ctx); err != nil {
		_ = g.Shutdown()
		return fmt.Errorf("start channels: %w", err)
	}
	log.Printf("[gateway] channels started: %v", g.channels.EnabledChannels())

	if err := g.scheduler.Start(ctx); err != nil {
		log.Printf("[gateway] scheduler start warning: %v", err)
	}

	go g.processLoop(ctx)

	log.Printf("[gateway] running on %s:%d", g.cfg.Gateway.Host, g.cfg.Gateway.Port)

	// Use injected signal channel for testing, or create default
	sigCh := g.signalChan
	if sigCh == nil {
		sigCh = make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)
	}
	select {
	case <-sigCh:
	case <-ctx.Done():
	}

	log.Printf("[gateway] shutting down...")
	return g.Shutdown()
}

func (g *Gateway) processLoop(ctx context.Context) {
	for {
		select {
		case msg := <-g.bus.Inbound:
			log.Printf("[gateway] inbound from %s/%s: %s", msg.Channel, msg.SenderID, truncate(msg.Content, 80))
			g.handleInbound(ctx, msg)
		case <-ctx.Done():
			return
		}
	}
}

func (g *Gateway) handleInbound(ctx context.Context, msg bus.InboundMessage) {
	session := msg.SessionKey()

	switch msg.Command() {
	case "clear":
		if g.conv != nil {
			if _, err := g.conv.Clear(session); err != nil {
				log.Printf("[gateway] clear %s: %v", session, err)
			}
		}
		g.reply(ctx, msg, transcript.WelcomeMessage, false)
		return
	case "start":
		g.reply(ctx, msg, transcript.WelcomeMessage, false)
		return
	}

	if g.conv == nil {
		g.reply(ctx, msg, assistantOfflineMessage, true)
		return
	}

	msgs, err := g.conv.SendStream(ctx, session, msg.Content, func(delta string) {
		g.send(ctx, bus.OutboundMessage{
			Channel: msg.Channel,
			ChatID:  msg.ChatID,
			Content: delta,
			Partial: true,
		})
	})
	if err != nil {
		log.Printf("[gateway] chat error for %s: %v", session, err)
	}
	if len(msgs) == 0 {
		g.reply(ctx, msg, assistant.ApologyMessage, true)
		return
	}
	g.reply(ctx, msg, msgs[len(msgs)-1].Content, err != nil)
}

func (g *Gateway) reply(ctx context.Context, msg bus.InboundMessage, content string, failed bool) {
	g.send(ctx, bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Content: content,
		Failed:  failed,
	})
}

func (g *Gateway) send(ctx context.Context, out bus.OutboundMessage) {
	select {
	case g.bus.Outbound <- out:
	case <-ctx.Done():
	}
}

func (g *Gateway) Shutdown() error {
	g.scheduler.Stop()
	_ = g.channels.StopAll()
	if g.store != nil {
		if err := g.store.Close(); err != nil {
			log.Printf("[gateway] close transcript store warning: %v", err)
		}
	}
	log.Printf("[gateway] shutdown complete")
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
