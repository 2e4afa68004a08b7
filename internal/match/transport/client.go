package transport

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/syncer"
)

// ClientConfig configures the logger-device transport.
type ClientConfig struct {
	// URL of the router's websocket endpoint, e.g. ws://host:8080/ws/match.
	URL string
	// DeviceID is the authenticated device identity from the upstream
	// identity layer, stamped onto every submitted event.
	DeviceID string
	// OnBroadcast, when set, receives every room broadcast (snapshots,
	// applied events, clock updates) arriving on the socket.
	OnBroadcast func(event.Envelope)

	DialTimeout  time.Duration
	WriteTimeout time.Duration
}

// DefaultClientConfig returns sensible dial/write timeouts.
func DefaultClientConfig(rawURL, deviceID string) ClientConfig {
	return ClientConfig{
		URL:          rawURL,
		DeviceID:     deviceID,
		DialTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
}

// WSClient is the logger device's transport: it dials the router, submits
// events, and matches acks and nacks back to in-flight submissions by
// client event id. It implements syncer.Transport.
type WSClient struct {
	cfg ClientConfig

	mu    sync.Mutex
	conns map[uuid.UUID]*clientConn
}

// NewWSClient builds a client transport. Connections are dialed lazily, one
// per match, and redialed on the next submit after a failure.
func NewWSClient(cfg ClientConfig) *WSClient {
	return &WSClient{
		cfg:   cfg,
		conns: make(map[uuid.UUID]*clientConn),
	}
}

// Submit delivers one event and blocks until the router answers or the
// context expires. Conflict nacks come back wrapped in syncer.ErrConflict
// so the synchronizer can park the item instead of retrying it.
func (t *WSClient) Submit(ctx context.Context, ev event.MatchEvent) error {
	if ev.DeviceID == "" {
		ev.DeviceID = t.cfg.DeviceID
	}

	cc, err := t.conn(ctx, ev.MatchID)
	if err != nil {
		return err
	}

	env, err := event.NewEnvelope(event.MessageSubmitEvent, event.SubmitEventPayload{
		MatchID: ev.MatchID,
		Event:   ev,
	})
	if err != nil {
		return err
	}

	reply, err := cc.roundTrip(ctx, ev.ClientEventID, env, t.cfg.WriteTimeout)
	if err != nil {
		t.drop(ev.MatchID, cc)
		return err
	}

	payload, err := event.ParseMessage(reply)
	if err != nil {
		return fmt.Errorf("unparseable reply: %w", err)
	}
	switch p := payload.(type) {
	case event.AckPayload:
		return nil
	case event.NackPayload:
		if p.Reason == event.NackReasonConflict {
			return fmt.Errorf("%w: %s", syncer.ErrConflict, p.Detail)
		}
		return fmt.Errorf("event %s nacked (%s): %s", p.ClientEventID, p.Reason, p.Detail)
	default:
		return fmt.Errorf("unexpected reply type %s", reply.Type)
	}
}

// Close tears down every open connection.
func (t *WSClient) Close() {
	t.mu.Lock()
	conns := t.conns
	t.conns = make(map[uuid.UUID]*clientConn)
	t.mu.Unlock()

	for _, cc := range conns {
		cc.close()
	}
}

func (t *WSClient) conn(ctx context.Context, matchID uuid.UUID) (*clientConn, error) {
	t.mu.Lock()
	if cc, ok := t.conns[matchID]; ok && !cc.isClosed() {
		t.mu.Unlock()
		return cc, nil
	}
	t.mu.Unlock()

	u, err := url.Parse(t.cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid transport url: %w", err)
	}
	q := u.Query()
	q.Set("match_id", matchID.String())
	q.Set("device_id", t.cfg.DeviceID)
	u.RawQuery = q.Encode()

	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.DialTimeout}
	ws, _, err := dialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to dial router: %w", err)
	}

	cc := &clientConn{
		ws:          ws,
		pending:     make(map[uuid.UUID]chan event.Envelope),
		closed:      make(chan struct{}),
		onBroadcast: t.cfg.OnBroadcast,
	}
	go cc.readLoop()

	t.mu.Lock()
	t.conns[matchID] = cc
	t.mu.Unlock()
	return cc, nil
}

func (t *WSClient) drop(matchID uuid.UUID, cc *clientConn) {
	t.mu.Lock()
	if t.conns[matchID] == cc {
		delete(t.conns, matchID)
	}
	t.mu.Unlock()
	cc.close()
}

type clientConn struct {
	ws          *websocket.Conn
	onBroadcast func(event.Envelope)

	mu      sync.Mutex
	pending map[uuid.UUID]chan event.Envelope

	closeOnce sync.Once
	closed    chan struct{}
}

// roundTrip sends the envelope and waits for the ack or nack carrying the
// same client event id.
func (c *clientConn) roundTrip(ctx context.Context, id uuid.UUID, env event.Envelope, writeTimeout time.Duration) (event.Envelope, error) {
	reply := make(chan event.Envelope, 1)
	c.mu.Lock()
	c.pending[id] = reply
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	c.ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.ws.WriteJSON(env); err != nil {
		return event.Envelope{}, fmt.Errorf("failed to send event: %w", err)
	}

	select {
	case r := <-reply:
		return r, nil
	case <-c.closed:
		return event.Envelope{}, fmt.Errorf("connection closed awaiting acknowledgement")
	case <-ctx.Done():
		return event.Envelope{}, ctx.Err()
	}
}

func (c *clientConn) readLoop() {
	defer c.close()
	for {
		var env event.Envelope
		if err := c.ws.ReadJSON(&env); err != nil {
			return
		}

		payload, err := event.ParseMessage(env)
		if err != nil {
			log.Warn().Err(err).Msg("dropping unparseable message from router")
			continue
		}

		switch p := payload.(type) {
		case event.AckPayload:
			c.deliver(p.ClientEventID, env)
		case event.NackPayload:
			c.deliver(p.ClientEventID, env)
		default:
			if c.onBroadcast != nil {
				c.onBroadcast(env)
			}
		}
	}
}

func (c *clientConn) deliver(id uuid.UUID, env event.Envelope) {
	c.mu.Lock()
	reply := c.pending[id]
	c.mu.Unlock()
	if reply == nil {
		// Ack for an attempt whose waiter already timed out; the retry
		// will hit the dedup ledger and be re-acked.
		return
	}
	select {
	case reply <- env:
	default:
	}
}

func (c *clientConn) close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
}

func (c *clientConn) isClosed() bool {
	select {
	case <-c.closed:
		return true
	default:
		return false
	}
}
