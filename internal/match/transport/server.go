package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/router"
)

// ServerConfig holds the websocket endpoint tuning knobs.
type ServerConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	SubmitTimeout   time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultServerConfig returns the default endpoint configuration.
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		SubmitTimeout:   10 * time.Second,
		MaxMessageSize:  16 * 1024,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}
}

// Handler terminates websocket connections and translates wire envelopes
// into router operations. One connection can subscribe to several match
// rooms; each subscription gets its own outbox, forwarded onto the single
// socket writer.
type Handler struct {
	router   *router.Router
	upgrader websocket.Upgrader
	cfg      ServerConfig
}

// NewHandler wires the endpoint to a router.
func NewHandler(r *router.Router, cfg ServerConfig) *Handler {
	return &Handler{
		router: r,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  cfg.ReadBufferSize,
			WriteBufferSize: cfg.WriteBufferSize,
			CheckOrigin:     cfg.CheckOrigin,
		},
		cfg: cfg,
	}
}

// RegisterRoutes registers the websocket endpoint on a mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/match", h.handleMatchSocket)
}

// handleMatchSocket upgrades the connection. A match_id query parameter
// joins that room immediately; further joins arrive as match.join messages.
// The device_id comes from the upstream identity layer and is stamped onto
// every event this connection submits.
func (h *Handler) handleMatchSocket(w http.ResponseWriter, r *http.Request) {
	deviceID := r.URL.Query().Get("device_id")

	var initialMatch uuid.UUID
	if raw := r.URL.Query().Get("match_id"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid match_id", http.StatusBadRequest)
			return
		}
		initialMatch = id
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade websocket connection")
		return
	}

	c := &conn{
		id:       uuid.New().String(),
		deviceID: deviceID,
		ws:       ws,
		send:     make(chan event.Envelope, 256),
		done:     make(chan struct{}),
		handler:  h,
		subs:     make(map[uuid.UUID]*router.Subscriber),
	}

	log.Info().
		Str("connection_id", c.id).
		Str("device_id", deviceID).
		Msg("websocket connection established")

	go c.writePump()
	if initialMatch != uuid.Nil {
		if err := c.join(r.Context(), initialMatch); err != nil {
			log.Warn().Err(err).Str("connection_id", c.id).Msg("initial join failed")
		}
	}
	go c.readPump()
}

type conn struct {
	id       string
	deviceID string
	ws       *websocket.Conn
	send     chan event.Envelope
	done     chan struct{}
	handler  *Handler

	mu   sync.Mutex
	subs map[uuid.UUID]*router.Subscriber
}

func (c *conn) join(ctx context.Context, matchID uuid.UUID) error {
	c.mu.Lock()
	if _, ok := c.subs[matchID]; ok {
		c.mu.Unlock()
		return nil
	}
	sub := &router.Subscriber{
		ID:     c.id,
		Outbox: make(chan event.Envelope, 256),
	}
	c.subs[matchID] = sub
	c.mu.Unlock()

	if err := c.handler.router.Join(ctx, matchID, sub); err != nil {
		c.mu.Lock()
		delete(c.subs, matchID)
		c.mu.Unlock()
		return fmt.Errorf("failed to join match %s: %w", matchID, err)
	}

	// Forward room output onto the socket. Ends when the room closes the
	// outbox (leave, slow-subscriber drop, or room teardown).
	go func() {
		for env := range sub.Outbox {
			c.enqueue(env)
		}
		c.mu.Lock()
		delete(c.subs, matchID)
		c.mu.Unlock()
	}()
	return nil
}

func (c *conn) leave(matchID uuid.UUID) {
	c.mu.Lock()
	_, ok := c.subs[matchID]
	c.mu.Unlock()
	if !ok {
		return
	}
	c.handler.router.Leave(matchID, c.id)
}

// enqueue never blocks; if the socket writer is hopelessly behind, the
// message is dropped and the read deadline will eventually reap the
// connection.
func (c *conn) enqueue(env event.Envelope) {
	select {
	case <-c.done:
	case c.send <- env:
	default:
		log.Warn().Str("connection_id", c.id).Msg("send buffer full, dropping message")
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(c.handler.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()

	for {
		select {
		case <-c.done:
			c.ws.SetWriteDeadline(time.Now().Add(c.handler.cfg.WriteTimeout))
			c.ws.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case env := <-c.send:
			c.ws.SetWriteDeadline(time.Now().Add(c.handler.cfg.WriteTimeout))
			if err := c.ws.WriteJSON(env); err != nil {
				log.Error().Err(err).Str("connection_id", c.id).Msg("failed to write message")
				return
			}

		case <-ticker.C:
			c.ws.SetWriteDeadline(time.Now().Add(c.handler.cfg.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *conn) readPump() {
	defer c.teardown()

	c.ws.SetReadLimit(c.handler.cfg.MaxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(c.handler.cfg.ReadTimeout))
	c.ws.SetPongHandler(func(string) error {
		c.ws.SetReadDeadline(time.Now().Add(c.handler.cfg.ReadTimeout))
		return nil
	})

	for {
		_, raw, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("connection_id", c.id).Msg("unexpected websocket close")
			}
			return
		}
		c.ws.SetReadDeadline(time.Now().Add(c.handler.cfg.ReadTimeout))
		c.handleMessage(raw)
	}
}

func (c *conn) handleMessage(raw []byte) {
	var env event.Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		log.Warn().Err(err).Str("connection_id", c.id).Msg("malformed envelope")
		return
	}
	payload, err := event.ParseMessage(env)
	if err != nil {
		log.Warn().Err(err).Str("connection_id", c.id).Msg("rejected message")
		return
	}

	switch p := payload.(type) {
	case event.JoinPayload:
		ctx, cancel := context.WithTimeout(context.Background(), c.handler.cfg.SubmitTimeout)
		defer cancel()
		if err := c.join(ctx, p.MatchID); err != nil {
			log.Warn().Err(err).Str("connection_id", c.id).Msg("join failed")
		}

	case event.LeavePayload:
		c.leave(p.MatchID)

	case event.SubmitEventPayload:
		ev := p.Event
		if ev.DeviceID == "" {
			ev.DeviceID = c.deviceID
		}
		ctx, cancel := context.WithTimeout(context.Background(), c.handler.cfg.SubmitTimeout)
		reply, err := c.handler.router.Submit(ctx, p.MatchID, ev)
		cancel()
		if err != nil {
			reply, _ = event.NewEnvelope(event.MessageNack, event.NackPayload{
				ClientEventID: ev.ClientEventID,
				Reason:        event.NackReasonPersistence,
				Detail:        err.Error(),
			})
		}
		c.enqueue(reply)

	default:
		// Server-bound traffic is joins, leaves, and submissions only.
		log.Warn().
			Str("connection_id", c.id).
			Str("type", string(env.Type)).
			Msg("unexpected message direction")
	}
}

func (c *conn) teardown() {
	c.mu.Lock()
	matches := make([]uuid.UUID, 0, len(c.subs))
	for id := range c.subs {
		matches = append(matches, id)
	}
	c.mu.Unlock()

	for _, id := range matches {
		c.handler.router.Leave(id, c.id)
	}
	close(c.done)
	c.ws.Close()

	log.Info().Str("connection_id", c.id).Msg("websocket connection closed")
}
