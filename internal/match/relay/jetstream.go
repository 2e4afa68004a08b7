package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/rs/zerolog/log"

	"github.com/Mariamyussuf/Brixsport-sub002/internal/match/event"
)

// Config tunes the JetStream archive relay.
type Config struct {
	URL             string
	StreamName      string
	SubjectPrefix   string
	MaxReconnects   int
	ReconnectWait   time.Duration
	MaxAge          time.Duration
	DuplicateWindow time.Duration
}

// DefaultConfig keeps applied events for 7 days with a 2h dedup window.
func DefaultConfig() Config {
	return Config{
		URL:             nats.DefaultURL,
		StreamName:      "MATCH_EVENTS",
		SubjectPrefix:   "match.events",
		MaxReconnects:   -1,
		ReconnectWait:   2 * time.Second,
		MaxAge:          7 * 24 * time.Hour,
		DuplicateWindow: 2 * time.Hour,
	}
}

// JetStream mirrors every applied event onto a JetStream stream so
// downstream consumers (the analytics service, feed archival) get the
// applied stream without subscribing to rooms. The client event id doubles
// as the Nats-Msg-Id, so broker-side dedup matches the router's ledger.
type JetStream struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	config Config
}

// NewJetStream connects and ensures the stream exists.
func NewJetStream(cfg Config) (*JetStream, error) {
	opts := []nats.Option{
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			log.Error().Err(err).Msg("NATS disconnected")
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info().Str("url", nc.ConnectedUrl()).Msg("NATS reconnected")
		}),
	}

	nc, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("create JetStream context: %w", err)
	}

	r := &JetStream{nc: nc, js: js, config: cfg}
	if err := r.ensureStream(context.Background()); err != nil {
		nc.Close()
		return nil, fmt.Errorf("ensure stream: %w", err)
	}
	return r, nil
}

func (r *JetStream) ensureStream(ctx context.Context) error {
	sc := jetstream.StreamConfig{
		Name:        r.config.StreamName,
		Description: "Applied match events",
		Subjects:    []string{fmt.Sprintf("%s.>", r.config.SubjectPrefix)},
		Retention:   jetstream.LimitsPolicy,
		MaxAge:      r.config.MaxAge,
		Storage:     jetstream.FileStorage,
		Duplicates:  r.config.DuplicateWindow,
	}

	if _, err := r.js.Stream(ctx, r.config.StreamName); err != nil {
		if _, err := r.js.CreateStream(ctx, sc); err != nil {
			return fmt.Errorf("create stream: %w", err)
		}
		log.Info().Str("stream", r.config.StreamName).Msg("created JetStream stream")
		return nil
	}
	if _, err := r.js.UpdateStream(ctx, sc); err != nil {
		return fmt.Errorf("update stream: %w", err)
	}
	return nil
}

// Publish mirrors one applied event. Failures here never block the router's
// ack path; callers log and move on.
func (r *JetStream) Publish(ctx context.Context, ev event.MatchEvent) error {
	subject := fmt.Sprintf("%s.%s.%s", r.config.SubjectPrefix, ev.MatchID, ev.Type)

	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	ack, err := r.js.PublishMsg(ctx, &nats.Msg{
		Subject: subject,
		Data:    data,
		Header: nats.Header{
			"Event-Type": []string{string(ev.Type)},
			"Match-ID":   []string{ev.MatchID.String()},
		},
	},
		jetstream.WithMsgID(ev.ClientEventID.String()),
		jetstream.WithExpectStream(r.config.StreamName),
	)
	if err != nil {
		return fmt.Errorf("publish to JetStream: %w", err)
	}

	log.Debug().
		Str("subject", subject).
		Str("event_id", ev.ClientEventID.String()).
		Uint64("sequence", ack.Sequence).
		Msg("relayed applied event")
	return nil
}

// Close drains the connection.
func (r *JetStream) Close() error {
	if r.nc != nil {
		r.nc.Close()
	}
	return nil
}
