package chat

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/mentorly/chat-gateway/internal/auth"
	"github.com/mentorly/chat-gateway/internal/domain"
	"github.com/mentorly/chat-gateway/internal/generator"
	"github.com/mentorly/chat-gateway/internal/store"
)

// handshakeTimeout bounds how long an unauthenticated socket may hold a slot.
const handshakeTimeout = 5 * time.Second

// Gateway accepts chat connections, authenticates them, and routes inbound
// events to the bound connection session.
type Gateway struct {
	verifier      auth.Verifier
	repo          store.Repository
	gen           generator.Generator
	registry      *Registry
	limiter       *RateLimiter
	stats         *Stats
	streamer      *Streamer
	sessionCfg    SessionConfig
	allowedOrigin string
	isDev         bool
}

// GatewayConfig wires the gateway's collaborators and tuning knobs.
type GatewayConfig struct {
	Verifier      auth.Verifier
	Repo          store.Repository
	Generator     generator.Generator
	Registry      *Registry
	Limiter       *RateLimiter
	Stats         *Stats
	Streamer      *Streamer
	Session       SessionConfig
	AllowedOrigin string
	IsDev         bool
}

// NewGateway creates a chat gateway.
func NewGateway(cfg GatewayConfig) *Gateway {
	registry := cfg.Registry
	if registry == nil {
		registry = NewRegistry()
	}
	stats := cfg.Stats
	if stats == nil {
		stats = &Stats{}
	}
	streamer := cfg.Streamer
	if streamer == nil {
		streamer = NewStreamer(0, 0)
	}
	return &Gateway{
		verifier:      cfg.Verifier,
		repo:          cfg.Repo,
		gen:           cfg.Generator,
		registry:      registry,
		limiter:       cfg.Limiter,
		stats:         stats,
		streamer:      streamer,
		sessionCfg:    cfg.Session,
		allowedOrigin: cfg.AllowedOrigin,
		isDev:         cfg.IsDev,
	}
}

// Stats returns the gateway counters.
func (g *Gateway) Stats() *Stats {
	return g.stats
}

// Registry returns the connection registry.
func (g *Gateway) Registry() *Registry {
	return g.registry
}

// Client is one live, authenticated connection.
type Client struct {
	identity *domain.Identity
	ws       *websocket.Conn
	session  *Session
}

// wsEmitter serializes outbound frames onto one socket. Writes use
// context.Background() since the WebSocket library tracks its own connection
// state; a closed socket surfaces as a write error and the event is dropped.
type wsEmitter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (e *wsEmitter) Emit(event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	frame, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		return err
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.conn.Write(context.Background(), websocket.MessageText, frame)
}

// ServeHTTP implements http.Handler for the WebSocket upgrade.
func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !g.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "ip", r.RemoteAddr)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr)
		}
	}()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	emitter := &wsEmitter{conn: ws}

	identity, err := g.authenticate(ctx, r, ws)
	if err != nil {
		// Exactly one error event, then close: no partial ready state is
		// ever observable to the client.
		if emitErr := emitter.Emit(EventError, ErrorPayload{Message: "unauthorized"}); emitErr != nil {
			slog.Debug("Failed to emit unauthorized error", "error", emitErr)
		}
		_ = ws.Close(websocket.StatusPolicyViolation, "unauthorized")
		slog.Warn("Chat connection rejected", "error", err, "ip", r.RemoteAddr)
		return
	}

	session := NewSession(identity, g.repo, g.gen, g.streamer, emitter, g.stats, g.sessionCfg)
	client := &Client{identity: identity, ws: ws, session: session}

	connID := g.registry.Register(client)
	g.stats.connectionOpened()
	defer func() {
		g.registry.Unregister(connID, client)
		g.stats.connectionClosed()
	}()

	slog.Info("Chat connection ready",
		"conn_id", connID, "user_id", identity.UserID, "ip", r.RemoteAddr)

	g.readLoop(ctx, ws, session, emitter, identity)
	slog.Info("Chat connection closed", "conn_id", connID, "user_id", identity.UserID)
}

// authenticate resolves the connection token, either from the upgrade query
// string or from a leading connect frame.
func (g *Gateway) authenticate(ctx context.Context, r *http.Request, ws *websocket.Conn) (*domain.Identity, error) {
	token := r.URL.Query().Get("token")
	if token == "" {
		handshakeCtx, cancel := context.WithTimeout(ctx, handshakeTimeout)
		defer cancel()

		_, data, err := ws.Read(handshakeCtx)
		if err != nil {
			return nil, errors.New("no handshake frame received")
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event != EventConnect {
			return nil, errors.New("expected connect handshake")
		}
		var p ConnectPayload
		if err := json.Unmarshal(frame.Data, &p); err != nil || p.Token == "" {
			return nil, errors.New("missing token in handshake")
		}
		token = p.Token
	}

	identity, err := g.verifier.Verify(ctx, token)
	if err != nil {
		return nil, err
	}
	return identity, nil
}

func (g *Gateway) readLoop(ctx context.Context, ws *websocket.Conn, session *Session, emitter Emitter, identity *domain.Identity) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("WebSocket closed by client", "user_id", identity.UserID)
			} else if ctx.Err() == nil {
				slog.Warn("WebSocket read error", "error", err, "user_id", identity.UserID)
			}
			return
		}

		var frame Frame
		if err := json.Unmarshal(data, &frame); err != nil || frame.Event == "" {
			if emitErr := emitter.Emit(EventError, ErrorPayload{Message: "malformed frame"}); emitErr != nil {
				slog.Debug("Failed to emit malformed frame error", "error", emitErr)
			}
			continue
		}

		if frame.Event == EventChatMessage && g.limiter != nil && !g.limiter.Allow(identity.UserID) {
			if emitErr := emitter.Emit(EventError, ErrorPayload{Message: "rate limit exceeded"}); emitErr != nil {
				slog.Debug("Failed to emit rate limit error", "error", emitErr)
			}
			continue
		}

		session.HandleEvent(ctx, frame.Event, frame.Data)
	}
}

func (g *Gateway) checkOrigin(r *http.Request) bool {
	if g.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || g.allowedOrigin == "*" {
		return true
	}
	if origin == g.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", g.allowedOrigin)
	return false
}
