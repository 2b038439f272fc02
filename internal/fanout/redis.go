package fanout

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/metrics"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// envelope is what travels between instances over redis pub/sub.
type envelope struct {
	Origin string `json:"origin"`
	Room   string `json:"room"`
	Except string `json:"except,omitempty"`
	Kind   string `json:"kind"`
	Sender string `json:"sender,omitempty"`
	// Payload is the sender's bytes, base64 in the envelope, tagged with
	// the encoding they were written in.
	Payload  []byte `json:"payload,omitempty"`
	Encoding string `json:"encoding,omitempty"`
}

type Config struct {
	Addr    string
	DB      int
	Channel string
	Buffer  int
	// Instance tags outgoing messages so this process can skip its own.
	// Empty means a random id.
	Instance string
}

// RemoteHandler receives events published by other instances.
type RemoteHandler func(roomID string, except domain.ConnID, ev domain.Event)

// Redis relays room events between service instances. Publish never blocks:
// events are queued and written by Run, and dropped when the queue is full.
type Redis struct {
	rdb      *redis.Client
	prefix   string
	instance string
	queue    chan envelope
}

// NewRedis connects to redis and verifies connectivity.
func NewRedis(ctx context.Context, cfg Config) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: cfg.Addr, DB: cfg.DB})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", cfg.Addr, err)
	}
	return newRedis(rdb, cfg), nil
}

func newRedis(rdb *redis.Client, cfg Config) *Redis {
	if cfg.Channel == "" {
		cfg.Channel = "signaling"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 1024
	}
	if cfg.Instance == "" {
		cfg.Instance = uuid.NewString()
	}
	return &Redis{
		rdb:      rdb,
		prefix:   cfg.Channel,
		instance: cfg.Instance,
		queue:    make(chan envelope, cfg.Buffer),
	}
}

func (r *Redis) channel(roomID string) string { return r.prefix + ":" + roomID }

// Publish queues ev for the other instances.
func (r *Redis) Publish(roomID string, except domain.ConnID, ev domain.Event) {
	select {
	case r.queue <- r.wrap(roomID, except, ev):
		metrics.FanoutMessages.WithLabelValues("out", "queued").Inc()
	default:
		metrics.FanoutMessages.WithLabelValues("out", "dropped").Inc()
	}
}

func (r *Redis) wrap(roomID string, except domain.ConnID, ev domain.Event) envelope {
	return envelope{
		Origin:   r.instance,
		Room:     roomID,
		Except:   string(except),
		Kind:     string(ev.Kind),
		Sender:   string(ev.Sender),
		Payload:  ev.Payload.Raw,
		Encoding: ev.Payload.Encoding.String(),
	}
}

// Run drains the publish queue until ctx is done.
func (r *Redis) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case env := <-r.queue:
			raw, err := json.Marshal(env)
			if err != nil {
				metrics.FanoutMessages.WithLabelValues("out", "error").Inc()
				continue
			}
			if err := r.rdb.Publish(ctx, r.channel(env.Room), raw).Err(); err != nil {
				metrics.FanoutMessages.WithLabelValues("out", "error").Inc()
				slog.WarnContext(ctx, "fanout publish failed", "room", env.Room, "err", err)
				continue
			}
			metrics.FanoutMessages.WithLabelValues("out", "sent").Inc()
		}
	}
}

// Subscribe listens on every room channel and hands foreign events to fn
// until ctx is done.
func (r *Redis) Subscribe(ctx context.Context, fn RemoteHandler) error {
	pubsub := r.rdb.PSubscribe(ctx, r.channel("*"))
	defer func() { _ = pubsub.Close() }()

	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	ch := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			roomID, except, ev, ok := r.unwrap(msg.Channel, []byte(msg.Payload))
			if !ok {
				continue
			}
			metrics.FanoutMessages.WithLabelValues("in", "delivered").Inc()
			fn(roomID, except, ev)
		}
	}
}

// unwrap decodes a bus message. Messages from this instance, malformed ones
// and ones whose channel does not match their room are skipped.
func (r *Redis) unwrap(channel string, raw []byte) (string, domain.ConnID, domain.Event, bool) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		metrics.FanoutMessages.WithLabelValues("in", "error").Inc()
		return "", "", domain.Event{}, false
	}
	if env.Origin == r.instance {
		return "", "", domain.Event{}, false
	}
	if env.Room == "" || env.Kind == "" || strings.TrimPrefix(channel, r.prefix+":") != env.Room {
		metrics.FanoutMessages.WithLabelValues("in", "error").Inc()
		return "", "", domain.Event{}, false
	}
	ev := domain.Event{
		Kind:   domain.Kind(env.Kind),
		Sender: domain.ConnID(env.Sender),
	}
	if len(env.Payload) > 0 {
		ev.Payload = domain.JSONPayload(env.Payload)
		if env.Encoding == domain.EncodingMsgpack.String() {
			ev.Payload = domain.MsgpackPayload(env.Payload)
		}
	}
	return env.Room, domain.ConnID(env.Except), ev, true
}

// Close shuts down the redis connection.
func (r *Redis) Close() error { return r.rdb.Close() }
