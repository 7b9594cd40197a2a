package channel

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"

	"github.com/stellarlinkco/cauldronwatch/internal/bus"
	"github.com/stellarlinkco/cauldronwatch/internal/config"
	"github.com/stellarlinkco/cauldronwatch/internal/dashboard"
)

//go:embed static
var staticFiles embed.FS

const (
	webUIChannelName = "webui"
	writeTimeout     = 5 * time.Second
)

type wsMessage struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Data    any    `json:"data,omitempty"`
}

type wsClient struct {
	conn   *websocket.Conn
	id     string
	chatID string
}

// EventSource publishes dashboard events.
type EventSource interface {
	Subscribe(fn func(dashboard.Event)) func()
}

// WebUIOptions wires the dashboard into the web channel.
type WebUIOptions struct {
	API    http.Handler
	Events EventSource
}

type WebUIChannel struct {
	BaseChannel
	host        string
	port        int
	opts        WebUIOptions
	server      *http.Server
	clients     sync.Map
	nextID      atomic.Int64
	unsubscribe func()
}

func NewWebUIChannel(cfg config.WebUIConfig, gwCfg config.GatewayConfig, b *bus.MessageBus, opts WebUIOptions) (*WebUIChannel, error) {
	port := gwCfg.Port
	if port == 0 {
		port = config.DefaultPort
	}

	ch := &WebUIChannel{
		BaseChannel: NewBaseChannel(webUIChannelName, b, cfg.AllowFrom),
		host:        gwCfg.Host,
		port:        port,
		opts:        opts,
	}
	return ch, nil
}

// Handler serves the page, the dashboard API and the websocket.
func (w *WebUIChannel) Handler() (http.Handler, error) {
	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return nil, fmt.Errorf("embed static fs: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", w.handleWS)
	if w.opts.API != nil {
		mux.Handle("/api/", w.opts.API)
		mux.Handle("/metrics", w.opts.API)
	}
	return mux, nil
}

func (w *WebUIChannel) Start(ctx context.Context) error {
	handler, err := w.Handler()
	if err != nil {
		return err
	}
	w.subscribe()

	w.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", w.host, w.port),
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[webui] listening on %s", w.server.Addr)
		if err := w.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[webui] server error: %v", err)
		}
	}()

	return nil
}

// subscribe forwards dashboard events to every connected client.
func (w *WebUIChannel) subscribe() {
	if w.opts.Events == nil || w.unsubscribe != nil {
		return
	}
	w.unsubscribe = w.opts.Events.Subscribe(func(ev dashboard.Event) {
		data, err := json.Marshal(wsMessage{Type: ev.Type, Data: ev})
		if err != nil {
			log.Printf("[webui] encode %s event: %v", ev.Type, err)
			return
		}
		w.broadcast(data)
	})
}

func (w *WebUIChannel) handleWS(wr http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(wr, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Printf("[webui] websocket accept error: %v", err)
		return
	}

	clientID := fmt.Sprintf("webui-%d", w.nextID.Add(1))
	chatID := strings.TrimSpace(r.URL.Query().Get("session"))
	if chatID == "" {
		chatID = clientID
	}
	client := &wsClient{conn: conn, id: clientID, chatID: chatID}
	w.clients.Store(clientID, client)
	log.Printf("[webui] client connected: %s (session %s)", clientID, chatID)

	defer func() {
		w.clients.Delete(clientID)
		conn.CloseNow()
		log.Printf("[webui] client disconnected: %s", clientID)
	}()

	for {
		_, data, err := conn.Read(r.Context())
		if err != nil {
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}

		in := bus.InboundMessage{
			Channel:   webUIChannelName,
			SenderID:  clientID,
			ChatID:    chatID,
			Content:   strings.TrimSpace(msg.Content),
			Timestamp: time.Now(),
		}
		switch msg.Type {
		case "message":
			if in.Content == "" {
				continue
			}
		case "clear":
			in.Content = "/clear"
			in.Metadata = map[string]any{bus.MetaCommand: "clear"}
		default:
			continue
		}

		if !w.IsAllowed(clientID) {
			log.Printf("[webui] rejected message from %s", clientID)
			continue
		}

		w.bus.Inbound <- in
	}
}

// Send delivers a chat reply to the clients of its session. Replies for a
// session with no connected client are dropped; the transcript still holds them.
func (w *WebUIChannel) Send(msg bus.OutboundMessage) error {
	kind := "message"
	switch {
	case msg.Partial:
		kind = "chunk"
	case msg.Failed:
		kind = "error"
	}
	data, err := json.Marshal(wsMessage{Type: kind, Content: msg.Content})
	if err != nil {
		return err
	}

	var targets []*wsClient
	w.clients.Range(func(_, value any) bool {
		if c := value.(*wsClient); c.chatID == msg.ChatID {
			targets = append(targets, c)
		}
		return true
	})
	if len(targets) == 0 {
		if !msg.Partial {
			log.Printf("[webui] no client for session %s, reply dropped", msg.ChatID)
		}
		return nil
	}

	var firstErr error
	for _, c := range targets {
		if err := writeFrame(c.conn, data); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (w *WebUIChannel) broadcast(data []byte) {
	w.clients.Range(func(_, value any) bool {
		_ = writeFrame(value.(*wsClient).conn, data)
		return true
	})
}

func writeFrame(conn *websocket.Conn, data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func (w *WebUIChannel) Stop() error {
	if w.unsubscribe != nil {
		w.unsubscribe()
		w.unsubscribe = nil
	}
	if w.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := w.server.Shutdown(ctx); err != nil {
			log.Printf("[webui] shutdown error: %v", err)
		}
	}
	w.clients.Range(func(key, value any) bool {
		c := value.(*wsClient)
		c.conn.CloseNow()
		return true
	})
	log.Printf("[webui] stopped")
	return nil
}
