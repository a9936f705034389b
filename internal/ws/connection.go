package ws

import (
	"context"
	"encoding/json"
	"log"

	"github.com/gorilla/websocket"

	"github.com/screenverify/engine/internal/codec"
	"github.com/screenverify/engine/internal/engineerr"
)

// client is one connection's outbound queue, drained on its own goroutine
// so a slow reader never blocks the engine's message handling (mirrors the
// teacher's client/writePump pattern in the old broadcaster).
type client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *client {
	c := &client{conn: conn, send: make(chan []byte, 64)}
	go c.writePump()
	return c
}

func (c *client) writePump() {
	defer c.conn.Close()
	for msg := range c.send {
		if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			return
		}
	}
}

func (c *client) close() { close(c.send) }

// enqueue drops the rest of the outbound batch and disconnects the client
// if its send buffer can't keep up, rather than blocking the read loop;
// messages already queued before the buffer filled stay queued.
func (c *client) enqueue(msgs []json.RawMessage) {
	for _, m := range msgs {
		select {
		case c.send <- m:
		default:
			log.Printf("ws: client too slow, disconnecting")
			c.conn.Close()
			return
		}
	}
}

// serveConnection drives one token's connection for its lifetime (§4.1,
// §5): connect, then a sequential read loop — each inbound message is
// size-limited on read, rate-limited, decoded, and dispatched to the engine
// before the next read, so no two messages for the same token are ever
// handled concurrently.
func (s *Server) serveConnection(wsConn *websocket.Conn, token string) {
	wsConn.SetReadLimit(codec.MaxMessageBytes)
	c := newClient(wsConn)
	defer c.close()

	ctx := context.Background()

	conn, out, err := s.engine.Connect(ctx, token)
	if err != nil {
		c.enqueue([]json.RawMessage{codec.Error(err.Error())})
		return
	}
	c.enqueue(out)
	defer s.engine.Close(token)

	for {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			return
		}

		if _, ok := s.limiter.Allow(token); !ok {
			c.enqueue([]json.RawMessage{codec.Error(engineerr.ErrRateLimited.Message)})
			continue
		}

		msg, err := codec.Decode(raw)
		if err != nil {
			c.enqueue([]json.RawMessage{codec.Error(engineerr.ErrInvalidMessage.Message)})
			continue
		}

		c.enqueue(s.engine.HandleMessage(ctx, conn, msg))
	}
}
