package ws

import (
	"sync"

	"github.com/cwrk-planet/signaling-service/internal/domain"

	"github.com/gorilla/websocket"
)

type wsConn struct {
	id     domain.ConnID
	conn   *websocket.Conn
	codec  Codec
	send   chan domain.Event
	closed chan struct{}
	once   sync.Once
}

func newWsConn(id domain.ConnID, c *websocket.Conn, codec Codec, buffer int) *wsConn {
	return &wsConn{
		id:     id,
		conn:   c,
		codec:  codec,
		send:   make(chan domain.Event, buffer),
		closed: make(chan struct{}),
	}
}

func (c *wsConn) ID() domain.ConnID { return c.id }

func (c *wsConn) Enqueue(ev domain.Event) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- ev:
		return true
	default:
		return false
	}
}

func (c *wsConn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.closed)
		err = c.conn.Close()
	})
	return err
}
