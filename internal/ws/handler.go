// ABOUTME: HTTP handler for the /ws/chat endpoint
// ABOUTME: Authenticates, upgrades, and runs the per-connection read loop with guaranteed cleanup

package ws

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"golang.org/x/time/rate"

	"github.com/2389/coven-chat/internal/auth"
	"github.com/2389/coven-chat/internal/chat"
	"github.com/2389/coven-chat/internal/hub"
	"github.com/2389/coven-chat/internal/registry"
	"github.com/2389/coven-chat/internal/store"
	"github.com/2389/coven-chat/internal/topic"
)

// Path is where the handler is mounted.
const Path = "/ws/chat"

// Authenticator identifies the user behind an upgrade request.
type Authenticator interface {
	Authenticate(r *http.Request) (*auth.Identity, error)
}

// Lifecycle is the connection bookkeeping the handler drives.
type Lifecycle interface {
	Connect(ctx context.Context, c hub.Conn) error
	Subscribe(ctx context.Context, c hub.Conn, t topic.Topic) error
	Unsubscribe(ctx context.Context, c hub.Conn)
	SetTyping(ctx context.Context, c hub.Conn, isTyping bool) error
	TopicOf(c hub.Conn) (topic.Topic, bool)
	Disconnect(ctx context.Context, c hub.Conn)
}

// Messages handles the frames that change stored state.
type Messages interface {
	PostMessage(ctx context.Context, sender registry.Conn, req chat.PostRequest) (*store.Message, error)
	ToggleReaction(ctx context.Context, sender registry.Conn, messageID int64, emoji string) (bool, error)
	UpdateAvatar(ctx context.Context, userID int64, avatarURL string) error
	SetStatus(ctx context.Context, userID int64, status string) error
}

// Options tunes the transport. Zero values take defaults.
type Options struct {
	AllowedOrigins  []string
	FramesPerSecond float64
	Burst           int
	SendQueue       int
	MaxMessageBytes int64
	WriteTimeout    time.Duration
	PingInterval    time.Duration
}

func (o Options) withDefaults() Options {
	if o.FramesPerSecond <= 0 {
		o.FramesPerSecond = 10
	}
	if o.Burst <= 0 {
		o.Burst = 20
	}
	if o.SendQueue <= 0 {
		o.SendQueue = 64
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 64 << 10
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PingInterval <= 0 {
		o.PingInterval = 30 * time.Second
	}
	return o
}

// Handler serves the chat WebSocket endpoint.
type Handler struct {
	auth     Authenticator
	life     Lifecycle
	messages Messages
	opts     Options
	logger   *slog.Logger
}

// NewHandler creates a Handler.
func NewHandler(a Authenticator, life Lifecycle, msgs Messages, opts Options, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		auth:     a,
		life:     life,
		messages: msgs,
		opts:     opts.withDefaults(),
		logger:   logger.With("component", "ws"),
	}
}

// ServeHTTP upgrades the request and runs the connection until it ends.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ident, authErr := h.auth.Authenticate(r)

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: h.opts.AllowedOrigins,
	})
	if err != nil {
		// Accept has already written the HTTP error.
		h.logger.Warn("websocket upgrade rejected", "remote_addr", r.RemoteAddr, "origin", r.Header.Get("Origin"), "error", err)
		return
	}

	if authErr != nil {
		h.logger.Warn("unauthenticated websocket closed", "remote_addr", r.RemoteAddr, "error", authErr)
		_ = wsConn.Close(websocket.StatusPolicyViolation, "authentication required")
		return
	}

	wsConn.SetReadLimit(h.opts.MaxMessageBytes)
	c := newConn(wsConn, ident.UserID, ident.Username, h.opts.SendQueue)
	h.run(r.Context(), c)
}

func (h *Handler) run(parent context.Context, c *Conn) {
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	logger := h.logger.With("conn_id", c.ID(), "user_id", c.UserID())

	pumpDone := make(chan struct{})
	go func() {
		defer close(pumpDone)
		if err := c.writePump(ctx, h.opts.WriteTimeout, h.opts.PingInterval); err != nil && ctx.Err() == nil {
			logger.Debug("writer stopped", "error", err)
			cancel()
		}
	}()

	defer func() {
		h.life.Disconnect(ctx, c)
		cancel()
		<-pumpDone
		_ = c.closeWith(websocket.StatusNormalClosure, "")
	}()

	if err := h.life.Connect(ctx, c); err != nil {
		logger.Warn("connect side effects failed", "error", err)
	}

	err := h.readLoop(ctx, c, logger)
	switch status := websocket.CloseStatus(err); {
	case status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway:
		logger.Debug("client closed connection")
	case errors.Is(err, context.Canceled):
	default:
		logger.Debug("read loop ended", "error", err)
	}
}

func (h *Handler) readLoop(ctx context.Context, c *Conn, logger *slog.Logger) error {
	limiter := rate.NewLimiter(rate.Limit(h.opts.FramesPerSecond), h.opts.Burst)

	for {
		typ, data, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		if !limiter.Allow() {
			logger.Debug("frame rate exceeded, dropping frame")
			continue
		}

		f, err := decodeFrame(data)
		if err != nil {
			logger.Debug("dropping client frame", "error", err)
			continue
		}
		if err := h.dispatch(ctx, c, f); err != nil {
			logger.Debug("client frame rejected", "type", f.Type, "error", err)
		}
	}
}

var errNoConversation = errors.New("no conversation given or subscribed")

// dispatch applies one validated frame.
func (h *Handler) dispatch(ctx context.Context, c *Conn, f *clientFrame) error {
	switch f.Type {
	case frameSubscribe:
		if f.ConversationID == "" {
			return errNoConversation
		}
		t, err := topic.Parse(f.ConversationID)
		if err != nil {
			return err
		}
		return h.life.Subscribe(ctx, c, t)

	case frameUnsubscribe:
		h.life.Unsubscribe(ctx, c)
		return nil

	case frameTypingStart, frameTypingStop:
		return h.life.SetTyping(ctx, c, f.Type == frameTypingStart)

	case frameReaction:
		_, err := h.messages.ToggleReaction(ctx, c, int64(f.MessageID), f.Emoji)
		return err

	case frameAvatar:
		return h.messages.UpdateAvatar(ctx, c.UserID(), f.AvatarURL)

	case frameStatus:
		return h.messages.SetStatus(ctx, c.UserID(), f.Status)

	default:
		t, err := h.target(c, f)
		if err != nil {
			return err
		}
		_, err = h.messages.PostMessage(ctx, c, chat.PostRequest{
			Topic:             t,
			Content:           f.ChatMessage,
			ParentMessageID:   f.ParentMessageID.ptr(),
			ReplyType:         f.ReplyType,
			QuotedMessageID:   f.QuotedMessageID.ptr(),
			AttachmentFileIDs: f.attachments(),
		})
		return err
	}
}

// target is the frame's conversation, or the one c is watching.
func (h *Handler) target(c *Conn, f *clientFrame) (topic.Topic, error) {
	if f.ConversationID != "" {
		return topic.Parse(f.ConversationID)
	}
	if t, ok := h.life.TopicOf(c); ok {
		return t, nil
	}
	return "", errNoConversation
}
