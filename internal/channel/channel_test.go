package channel

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/stellarlinkco/cauldronwatch/internal/bus"
	"github.com/stellarlinkco/cauldronwatch/internal/config"
)

func TestBaseChannel_Name(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch := NewBaseChannel("test", b, nil)
	if ch.Name() != "test" {
		t.Errorf("Name = %q, want test", ch.Name())
	}
}

func TestBaseChannel_IsAllowed(t *testing.T) {
	b := bus.NewMessageBus(10)

	open := NewBaseChannel("test", b, nil)
	if !open.IsAllowed("anyone") {
		t.Error("should allow anyone when allowFrom is empty")
	}

	ch := NewBaseChannel("test", b, []string{"user1", "user2"})
	if !ch.IsAllowed("user1") || !ch.IsAllowed("user2") {
		t.Error("should allow listed users")
	}
	if ch.IsAllowed("user3") {
		t.Error("should reject user3")
	}
}

func TestNewTelegramChannel_NoToken(t *testing.T) {
	b := bus.NewMessageBus(10)
	if _, err := NewTelegramChannel(config.TelegramConfig{}, b); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestNewTelegramChannel_Valid(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, err := NewTelegramChannel(config.TelegramConfig{Token: "fake-token", Proxy: "http://proxy.local:8080"}, b)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ch.Name() != "telegram" {
		t.Errorf("Name = %q, want telegram", ch.Name())
	}
	if ch.proxy != "http://proxy.local:8080" {
		t.Errorf("proxy = %q", ch.proxy)
	}
}

func TestToTelegramHTML(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"plain", "Cauldron A is at 80%", "Cauldron A is at 80%"},
		{"bold", "**Cauldron B** overflowing", "<b>Cauldron B</b> overflowing"},
		{"inline code", "check `disc_3`", "check <code>disc_3</code>"},
		{"escape", "volume < 100 & rising", "volume &lt; 100 &amp; rising"},
		{"code block with language", "```json\n{\"resolved\":[]}\n```", "<pre>{\"resolved\":[]}\n</pre>"},
		{"italic after bold", "**high** and *low*", "<b>high</b> and <i>low</i>"},
		{"unclosed italic", "*pending", "*pending"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := toTelegramHTML(tt.input); got != tt.want {
				t.Errorf("toTelegramHTML(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("", 10); len(got) != 0 {
		t.Errorf("empty input gave %d chunks", len(got))
	}
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("short input = %q", got)
	}

	got := splitMessage("aaaa\nbbbb\ncccc", 10)
	if len(got) != 2 || got[0] != "aaaa\nbbbb" || got[1] != "cccc" {
		t.Errorf("newline split = %q", got)
	}

	got = splitMessage(strings.Repeat("x", 25), 10)
	if len(got) != 3 || len(got[2]) != 5 {
		t.Errorf("hard split = %q", got)
	}

	for _, in := range []string{strings.Repeat("é", 9), "ab" + strings.Repeat("🧪", 4), strings.Repeat("🧪", 3)} {
		got = splitMessage(in, 5)
		for _, chunk := range got {
			if !utf8.ValidString(chunk) {
				t.Errorf("split of %q produced invalid chunk %q", in, chunk)
			}
		}
		if strings.Join(got, "") != in {
			t.Errorf("split of %q lost text: %q", in, got)
		}
	}
	if got = splitMessage(strings.Repeat("🧪", 2), 2); len(got) != 2 || got[0] != "🧪" {
		t.Errorf("limit below rune size = %q", got)
	}
}

type mockTelegramBot struct {
	updatesChan chan tgbotapi.Update
	sentMsgs    []tgbotapi.MessageConfig
	sendErr     error
	failFirst   bool
	calls       int
	stopped     bool
	self        tgbotapi.User
}

func newMockBot() *mockTelegramBot {
	return &mockTelegramBot{
		updatesChan: make(chan tgbotapi.Update, 10),
		self:        tgbotapi.User{UserName: "cauldron_bot"},
	}
}

func (m *mockTelegramBot) GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel {
	return m.updatesChan
}

func (m *mockTelegramBot) StopReceivingUpdates() {
	m.stopped = true
}

func (m *mockTelegramBot) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	m.calls++
	if m.sendErr != nil {
		return tgbotapi.Message{}, m.sendErr
	}
	if m.failFirst && m.calls == 1 {
		return tgbotapi.Message{}, fmt.Errorf("can't parse entities")
	}
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		m.sentMsgs = append(m.sentMsgs, msg)
	}
	return tgbotapi.Message{MessageID: m.calls}, nil
}

func (m *mockTelegramBot) GetSelf() tgbotapi.User {
	return m.self
}

func newTestTelegram(t *testing.T, b *bus.MessageBus, allow []string) (*TelegramChannel, *mockTelegramBot) {
	t.Helper()
	bot := newMockBot()
	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return bot, nil
	}
	ch, err := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token", AllowFrom: allow}, b, factory)
	if err != nil {
		t.Fatal(err)
	}
	return ch, bot
}

func TestTelegramChannel_HandleMessage(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := newTestTelegram(t, b, nil)

	ch.handleMessage(&tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 123, UserName: "brewer"},
		Chat:      &tgbotapi.Chat{ID: 456},
		Text:      "  which cauldron is fullest?  ",
		Date:      1700000000,
	})

	select {
	case msg := <-b.Inbound:
		if msg.Channel != "telegram" || msg.SenderID != "123" || msg.ChatID != "456" {
			t.Errorf("unexpected routing: %+v", msg)
		}
		if msg.Content != "which cauldron is fullest?" {
			t.Errorf("content = %q", msg.Content)
		}
		if msg.SessionKey() != "telegram:456" {
			t.Errorf("session = %q", msg.SessionKey())
		}
		if msg.Command() != "" {
			t.Errorf("command = %q, want none", msg.Command())
		}
		if msg.Metadata["username"] != "brewer" {
			t.Errorf("username = %v", msg.Metadata["username"])
		}
	default:
		t.Fatal("expected inbound message")
	}
}

func TestTelegramChannel_HandleMessage_Clear(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := newTestTelegram(t, b, nil)

	ch.handleMessage(&tgbotapi.Message{
		From:     &tgbotapi.User{ID: 1},
		Chat:     &tgbotapi.Chat{ID: 1},
		Text:     "/clear",
		Entities: []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: 6}},
	})

	msg := <-b.Inbound
	if msg.Command() != "clear" {
		t.Errorf("command = %q, want clear", msg.Command())
	}
}

func TestTelegramChannel_HandleMessage_Ignored(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := newTestTelegram(t, b, []string{"999"})

	tests := []struct {
		name string
		msg  *tgbotapi.Message
	}{
		{"rejected sender", &tgbotapi.Message{From: &tgbotapi.User{ID: 123}, Chat: &tgbotapi.Chat{ID: 1}, Text: "hi"}},
		{"empty text", &tgbotapi.Message{From: &tgbotapi.User{ID: 999}, Chat: &tgbotapi.Chat{ID: 1}, Text: "   "}},
		{"no sender", &tgbotapi.Message{Chat: &tgbotapi.Chat{ID: 1}, Text: "hi"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ch.handleMessage(tt.msg)
			select {
			case msg := <-b.Inbound:
				t.Errorf("unexpected inbound message: %+v", msg)
			default:
			}
		})
	}
}

func TestTelegramChannel_HandleMessage_Caption(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := newTestTelegram(t, b, nil)

	ch.handleMessage(&tgbotapi.Message{
		From:    &tgbotapi.User{ID: 1},
		Chat:    &tgbotapi.Chat{ID: 1},
		Caption: "photo of cauldron C",
	})
	if msg := <-b.Inbound; msg.Content != "photo of cauldron C" {
		t.Errorf("content = %q", msg.Content)
	}
}

func TestTelegramChannel_StartStop(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, bot := newTestTelegram(t, b, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := ch.Start(ctx); err != nil {
		t.Fatalf("Start error: %v", err)
	}

	bot.updatesChan <- tgbotapi.Update{Message: nil}
	bot.updatesChan <- tgbotapi.Update{Message: &tgbotapi.Message{
		From: &tgbotapi.User{ID: 123},
		Chat: &tgbotapi.Chat{ID: 456},
		Text: "status?",
	}}

	select {
	case inbound := <-b.Inbound:
		if inbound.Content != "status?" {
			t.Errorf("content = %q", inbound.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("expected inbound message")
	}

	if err := ch.Stop(); err != nil {
		t.Errorf("Stop error: %v", err)
	}
	if !bot.stopped {
		t.Error("bot should be stopped")
	}
}

func TestTelegramChannel_Start_InitError(t *testing.T) {
	b := bus.NewMessageBus(10)
	factory := func(token, apiEndpoint string, client *http.Client) (TelegramBot, error) {
		return nil, fmt.Errorf("unauthorized")
	}
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{Token: "fake-token"}, b, factory)

	if err := ch.Start(context.Background()); err == nil {
		t.Error("expected error from Start")
	}
}

func TestTelegramChannel_InitBot_InvalidProxy(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannelWithFactory(config.TelegramConfig{
		Token: "fake-token",
		Proxy: "://invalid-url",
	}, b, defaultBotFactory)

	if err := ch.initBot(); err == nil {
		t.Error("expected error for invalid proxy URL")
	}
}

func TestTelegramChannel_Stop_NotStarted(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)
	if err := ch.Stop(); err != nil {
		t.Errorf("Stop error: %v", err)
	}
}

func TestTelegramChannel_Send(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, _ := NewTelegramChannel(config.TelegramConfig{Token: "fake-token"}, b)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "test"}); err == nil {
		t.Error("expected error when bot is nil")
	}

	bot := newMockBot()
	ch.SetBot(bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "not-a-number", Content: "test"}); err == nil {
		t.Error("expected error for invalid chat ID")
	}

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "**Cauldron A** is critical"}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sentMsgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(bot.sentMsgs))
	}
	if got := bot.sentMsgs[0]; got.ParseMode != tgbotapi.ModeHTML || got.Text != "<b>Cauldron A</b> is critical" {
		t.Errorf("sent %+v", got)
	}
}

func TestTelegramChannel_Send_SkipsPartial(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, bot := newTestTelegram(t, b, nil)
	ch.SetBot(bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "Caul", Partial: true}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if bot.calls != 0 {
		t.Errorf("partial chunk should not be sent, got %d calls", bot.calls)
	}
}

func TestTelegramChannel_Send_LongMessage(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, bot := newTestTelegram(t, b, nil)
	ch.SetBot(bot)

	long := strings.Repeat("Cauldron readings look stable across the network.\n", 120)
	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: long}); err != nil {
		t.Fatalf("Send error: %v", err)
	}
	if len(bot.sentMsgs) < 2 {
		t.Errorf("expected multiple messages, got %d", len(bot.sentMsgs))
	}
	for _, m := range bot.sentMsgs {
		if len(m.Text) > telegramMaxLen {
			t.Errorf("chunk length %d exceeds %d", len(m.Text), telegramMaxLen)
		}
	}
}

func TestTelegramChannel_Send_PlainRetry(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, bot := newTestTelegram(t, b, nil)
	bot.failFirst = true
	ch.SetBot(bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "a < b"}); err != nil {
		t.Fatalf("Send should succeed after retry: %v", err)
	}
	if len(bot.sentMsgs) != 1 {
		t.Fatalf("sent %d messages, want 1", len(bot.sentMsgs))
	}
	if got := bot.sentMsgs[0]; got.ParseMode != "" || got.Text != "a < b" {
		t.Errorf("retry sent %+v, want plain original text", got)
	}
}

func TestTelegramChannel_Send_BothFail(t *testing.T) {
	b := bus.NewMessageBus(10)
	ch, bot := newTestTelegram(t, b, nil)
	bot.sendErr = fmt.Errorf("send failed")
	ch.SetBot(bot)

	if err := ch.Send(bus.OutboundMessage{ChatID: "123", Content: "test"}); err == nil {
		t.Error("expected error when both sends fail")
	}
}

// mockChannel implements Channel for manager tests.
type mockChannel struct {
	name     string
	started  bool
	stopped  bool
	startErr error
	stopErr  error
	sent     chan bus.OutboundMessage
}

func (m *mockChannel) Name() string { return m.name }

func (m *mockChannel) Start(ctx context.Context) error {
	m.started = true
	return m.startErr
}

func (m *mockChannel) Stop() error {
	m.stopped = true
	return m.stopErr
}

func (m *mockChannel) Send(msg bus.OutboundMessage) error {
	if m.sent != nil {
		m.sent <- msg
	}
	return nil
}

func TestChannelManager_Empty(t *testing.T) {
	b := bus.NewMessageBus(10)
	m, err := NewChannelManager(config.ChannelsConfig{}, b)
	if err != nil {
		t.Fatalf("NewChannelManager error: %v", err)
	}
	if len(m.EnabledChannels()) != 0 {
		t.Errorf("expected 0 enabled channels, got %d", len(m.EnabledChannels()))
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Errorf("StartAll error: %v", err)
	}
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll error: %v", err)
	}
}

func TestChannelManager_TelegramMissingToken(t *testing.T) {
	b := bus.NewMessageBus(10)
	cfg := config.ChannelsConfig{Telegram: config.TelegramConfig{Enabled: true}}
	if _, err := NewChannelManager(cfg, b); err == nil {
		t.Error("expected error for enabled telegram without token")
	}
}

func TestChannelManager_WithGateway(t *testing.T) {
	b := bus.NewMessageBus(10)
	cfg := config.ChannelsConfig{
		Telegram: config.TelegramConfig{Enabled: true, Token: "fake-token"},
		WebUI:    config.WebUIConfig{Enabled: true},
	}
	m, err := NewChannelManagerWithGateway(cfg, config.GatewayConfig{}, b, WebUIOptions{})
	if err != nil {
		t.Fatalf("NewChannelManagerWithGateway error: %v", err)
	}
	got := m.EnabledChannels()
	if len(got) != 2 || got[0] != "telegram" || got[1] != "webui" {
		t.Errorf("EnabledChannels = %v, want [telegram webui]", got)
	}
	if _, ok := m.Get("webui"); !ok {
		t.Error("webui channel should be registered")
	}
	if _, ok := m.Get("feishu"); ok {
		t.Error("unexpected channel")
	}
}

func TestChannelManager_RoutesOutbound(t *testing.T) {
	b := bus.NewMessageBus(10)
	mock := &mockChannel{name: "mock", sent: make(chan bus.OutboundMessage, 1)}
	m := &ChannelManager{channels: map[string]Channel{}, bus: b}
	m.add(mock)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go b.DispatchOutbound(ctx)

	b.Outbound <- bus.OutboundMessage{Channel: "mock", ChatID: "1", Content: "reply"}
	select {
	case msg := <-mock.sent:
		if msg.Content != "reply" {
			t.Errorf("content = %q", msg.Content)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("outbound message not routed")
	}
}

func TestChannelManager_StartStopErrors(t *testing.T) {
	b := bus.NewMessageBus(10)
	mock := &mockChannel{name: "mock", startErr: fmt.Errorf("start failed"), stopErr: fmt.Errorf("stop failed")}
	m := &ChannelManager{channels: map[string]Channel{"mock": mock}, bus: b}

	if err := m.StartAll(context.Background()); err == nil {
		t.Error("expected error from StartAll")
	}
	if !mock.started {
		t.Error("mock channel should be started")
	}
	// Stop errors are logged, not returned
	if err := m.StopAll(); err != nil {
		t.Errorf("StopAll should not return error: %v", err)
	}
	if !mock.stopped {
		t.Error("mock channel should be stopped")
	}
}
