// Package web serves the websocket chat channel.
package web

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"gptbridge/pkg/api"
	"gptbridge/pkg/channels"
	"gptbridge/pkg/llm"
	"gptbridge/pkg/utils"

	"github.com/gorilla/websocket"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ChannelID is the gateway id of the websocket channel.
const ChannelID = "web"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins for decoupled UI
	},
}

// WebConfig is the "web" block of the app config.
type WebConfig struct {
	Port    int    `json:"port"`    // Default: 8080
	Path    string `json:"path"`    // Default: /ws
	Enabled *bool  `json:"enabled"` // Default: true
}

// IncomingMessage is the JSON form of a client message. Plain text frames
// are accepted too.
type IncomingMessage struct {
	Text     string `json:"text"`
	Username string `json:"username,omitempty"`
}

// Frame is one server-to-client message.
type Frame struct {
	Type  string `json:"type"` // text, thinking, error, image, signal, history, done
	Text  string `json:"text,omitempty"`
	Value string `json:"value,omitempty"`
	Data  any    `json:"data,omitempty"`
	Mime  string `json:"mime,omitempty"`
	URL   string `json:"url,omitempty"`
}

// SafeConn serializes writes on a websocket connection.
type SafeConn struct {
	*websocket.Conn
	mu sync.Mutex
}

func (sc *SafeConn) WriteFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return fmt.Errorf("marshal %s frame: %w", f.Type, err)
	}
	sc.mu.Lock()
	defer sc.mu.Unlock()
	return sc.Conn.WriteMessage(websocket.TextMessage, data)
}

// WebChannel accepts websocket clients. Each client names its chat with the
// "chat" query parameter; without it the connection id is used, so the
// conversation is "web_<chat>".
type WebChannel struct {
	config      WebConfig
	server      *http.Server
	history     api.HistorySource
	connections map[string]*SafeConn // UserID (connection id) -> conn
	mu          sync.RWMutex
}

// NewWebChannel creates the channel. history may be nil.
func NewWebChannel(cfg WebConfig, history api.HistorySource) *WebChannel {
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.Path == "" {
		cfg.Path = "/ws"
	}
	return &WebChannel{
		config:      cfg,
		history:     history,
		connections: make(map[string]*SafeConn),
	}
}

func (c *WebChannel) ID() string {
	return ChannelID
}

// Handler returns the websocket endpoint bound to the gateway context.
func (c *WebChannel) Handler(ctx api.ChannelContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c.handleWebSocket(w, r, ctx)
	})
}

func (c *WebChannel) Start(ctx api.ChannelContext) error {
	mux := http.NewServeMux()
	mux.Handle(c.config.Path, c.Handler(ctx))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	slog.Info("Web chat listening", "port", c.config.Port, "path", c.config.Path)

	go func() {
		if err := c.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Web chat server error", "error", err)
		}
	}()
	return nil
}

func (c *WebChannel) Stop() error {
	if c.server == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := c.server.Shutdown(ctx)

	c.mu.Lock()
	for id, conn := range c.connections {
		conn.Close()
		delete(c.connections, id)
	}
	c.mu.Unlock()
	return err
}

func (c *WebChannel) conn(session api.SessionContext) (*SafeConn, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	conn, ok := c.connections[session.UserID]
	if !ok {
		return nil, fmt.Errorf("web user %s not connected", session.UserID)
	}
	return conn, nil
}

// Send delivers a complete message as a text frame followed by done.
func (c *WebChannel) Send(session api.SessionContext, message string) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}
	if err := conn.WriteFrame(Frame{Type: llm.BlockTypeText, Text: message}); err != nil {
		return err
	}
	return conn.WriteFrame(Frame{Type: "done"})
}

// SendSignal implements api.SignalingChannel.
func (c *WebChannel) SendSignal(session api.SessionContext, signal string) error {
	conn, err := c.conn(session)
	if err != nil {
		return err
	}
	return conn.WriteFrame(Frame{Type: "signal", Value: signal})
}

// Stream forwards every block as its own frame and ends with done.
func (c *WebChannel) Stream(session api.SessionContext, blocks <-chan llm.ContentBlock) error {
	conn, err := c.conn(session)
	if err != nil {
		for range blocks {
		}
		return err
	}

	for block := range blocks {
		if err := conn.WriteFrame(blockFrame(block)); err != nil {
			for range blocks {
			}
			return err
		}
	}
	return conn.WriteFrame(Frame{Type: "done"})
}

func blockFrame(block llm.ContentBlock) Frame {
	f := Frame{Type: block.Type}
	if block.Type != llm.BlockTypeImage || block.Source == nil {
		f.Text = block.Text
		return f
	}
	switch block.Source.Type {
	case "base64":
		f.Data = base64.StdEncoding.EncodeToString(block.Source.Data)
		f.Mime = block.Source.MediaType
	case "url":
		f.URL = block.Source.URL
	}
	return f
}

func (c *WebChannel) handleWebSocket(w http.ResponseWriter, r *http.Request, ctx api.ChannelContext) {
	rawConn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("WS upgrade failed", "error", err)
		return
	}
	conn := &SafeConn{Conn: rawConn}

	connID := utils.GenerateID()
	chatID := r.URL.Query().Get("chat")
	if chatID == "" {
		chatID = connID
	}
	username := r.URL.Query().Get("username")
	if username == "" {
		username = "WebUser"
	}
	session := api.SessionContext{
		ChannelID: ChannelID,
		UserID:    connID,
		ChatID:    chatID,
		Username:  username,
	}

	c.mu.Lock()
	c.connections[connID] = conn
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.connections, connID)
		c.mu.Unlock()
		conn.Close()
		slog.Debug("Web client disconnected", "conversation", session.ConversationID())
	}()

	slog.Info("Web client connected", "conversation", session.ConversationID(), "remote", r.RemoteAddr)

	if c.history != nil {
		if turns := c.history.History(session.ConversationID()); len(turns) > 0 {
			if err := conn.WriteFrame(Frame{Type: "history", Data: turns}); err != nil {
				slog.Error("Failed to send history", "error", err)
			}
		}
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		msg := &api.UnifiedMessage{Session: session, Raw: data}
		var incoming IncomingMessage
		if err := json.Unmarshal(data, &incoming); err == nil {
			msg.Content = incoming.Text
			if incoming.Username != "" {
				msg.Session.Username = incoming.Username
			}
		} else {
			msg.Content = string(data)
		}
		if msg.Content == "" {
			continue
		}
		ctx.OnMessage(c.ID(), msg)
	}
}

func init() {
	channels.RegisterChannel(ChannelID, channels.FactoryFunc(func(rawConfig jsoniter.RawMessage, deps channels.Deps) (api.Channel, error) {
		var cfg WebConfig
		if len(rawConfig) > 0 {
			if err := json.Unmarshal(rawConfig, &cfg); err != nil {
				return nil, fmt.Errorf("failed to parse web config: %w", err)
			}
		}
		if cfg.Enabled != nil && !*cfg.Enabled {
			return nil, nil
		}
		return NewWebChannel(cfg, deps.History), nil
	}))
}
