package ws

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cwrk-planet/signaling-service/internal/domain"
	"github.com/cwrk-planet/signaling-service/internal/metrics"
	"github.com/cwrk-planet/signaling-service/internal/service"

	"github.com/gorilla/websocket"
)

type Options struct {
	SendBuffer      int
	PingEvery       time.Duration
	WriteWait       time.Duration
	MaxMessageBytes int64
	// AllowedOrigins is matched against the Origin header; empty or "*" allows all.
	AllowedOrigins []string
}

func (o Options) withDefaults() Options {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 256
	}
	if o.PingEvery <= 0 {
		o.PingEvery = 15 * time.Second
	}
	if o.WriteWait <= 0 {
		o.WriteWait = 5 * time.Second
	}
	if o.MaxMessageBytes <= 0 {
		o.MaxMessageBytes = 1 << 20
	}
	return o
}

type Server struct {
	upgrader websocket.Upgrader
	hub      *Hub
	sessions *service.SessionService
	router   *service.Router
	opts     Options

	// active counts HandleWS calls that have not finished their disconnect.
	active sync.WaitGroup
}

func NewServer(hub *Hub, sessions *service.SessionService, router *service.Router, opts Options) *Server {
	opts = opts.withDefaults()
	return &Server{
		hub:      hub,
		sessions: sessions,
		router:   router,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			Subprotocols:    []string{SubprotocolJSON, SubprotocolMsgpack},
			CheckOrigin:     originChecker(opts.AllowedOrigins),
		},
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	open := len(allowed) == 0
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		if o == "*" {
			open = true
		}
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(r *http.Request) bool {
		if open {
			return true
		}
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		_, ok := set[strings.ToLower(origin)]
		return ok
	}
}

// WS endpoint: GET /ws
func (s *Server) HandleWS(w http.ResponseWriter, r *http.Request) {
	s.active.Add(1)
	defer s.active.Done()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		slog.Warn("ws upgrade failed", "err", err)
		return
	}

	ctx := context.WithoutCancel(r.Context())
	sess := s.sessions.Connect()
	c := newWsConn(sess.ID(), conn, codecFor(conn.Subprotocol()), s.opts.SendBuffer)

	s.hub.Add(c)
	metrics.OpenConnections.Inc()
	slog.InfoContext(ctx, "ws connected", "conn", sess.ID(), "codec", c.codec.Name(), "remote", r.RemoteAddr)

	c.Enqueue(domain.Event{Kind: domain.KindConnected, Sender: sess.ID()})

	go s.writeLoop(ctx, c)
	s.readLoop(ctx, sess, c)

	s.hub.Remove(c.id)
	s.sessions.Disconnect(ctx, sess)
	metrics.OpenConnections.Dec()

	_ = c.Close()
	slog.InfoContext(ctx, "ws disconnected", "conn", sess.ID())
}

// Wait blocks until every connection handler has run its disconnect path, or
// ctx is done. Call it after Hub.CloseAll during shutdown.
func (s *Server) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Server) readLoop(ctx context.Context, sess *service.Session, c *wsConn) {
	defer func() { _ = c.Close() }()

	pongWait := 2 * s.opts.PingEvery
	c.conn.SetReadLimit(s.opts.MaxMessageBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				slog.DebugContext(ctx, "ws read failed", "conn", c.id, "err", err)
			}
			return
		}

		in, err := c.codec.Decode(data)
		if err != nil {
			slog.DebugContext(ctx, "ws malformed frame", "conn", c.id, "err", err)
			continue
		}
		metrics.InboundEvents.WithLabelValues(eventLabel(in.Event)).Inc()

		if err := s.router.Dispatch(ctx, sess, in); err != nil {
			slog.DebugContext(ctx, "ws event dropped", "conn", c.id, "event", in.Event, "err", err)
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, c *wsConn) {
	ticker := time.NewTicker(s.opts.PingEvery)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.send:
			data, err := c.codec.Encode(ev)
			if err != nil {
				slog.WarnContext(ctx, "ws encode failed", "conn", c.id, "event", string(ev.Kind), "err", err)
				continue
			}
			_ = c.conn.SetWriteDeadline(time.Now().Add(s.opts.WriteWait))
			if err := c.conn.WriteMessage(c.codec.MessageType(), data); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(s.opts.WriteWait)); err != nil {
				_ = c.Close()
				return
			}
		case <-c.closed:
			return
		}
	}
}

// eventLabel bounds metric label cardinality to the known event names.
func eventLabel(event string) string {
	switch event {
	case domain.InJoinRoom, domain.InLeaveRoom, domain.InMessage, domain.InScreenShare, domain.InStopScreenShare:
		return event
	default:
		return "unknown"
	}
}
