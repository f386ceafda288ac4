package handlers

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/loksaikotini/EduCast/internal/protocol"
)

// Options tunes every socket the handler accepts.
type Options struct {
	SendBuffer     int           // outbound frames queued per connection
	MaxMessageSize int64         // largest inbound frame in bytes
	PongWait       time.Duration // read deadline extended by each pong
	WriteWait      time.Duration // deadline for a single write
	AllowedOrigins []string      // browser origins allowed to upgrade; "*" allows any
}

func (o Options) pingPeriod() time.Duration {
	return (o.PongWait * 9) / 10
}

// wsClient is one accepted socket. All writes happen on the writePump
// goroutine; all reads on the goroutine running readPump.
type wsClient struct {
	conn *websocket.Conn
	opts Options
	log  *slog.Logger

	send      chan protocol.Envelope
	done      chan struct{}
	closeOnce sync.Once
}

func newWSClient(conn *websocket.Conn, opts Options, log *slog.Logger) *wsClient {
	return &wsClient{
		conn: conn,
		opts: opts,
		log:  log,
		send: make(chan protocol.Envelope, opts.SendBuffer),
		done: make(chan struct{}),
	}
}

// Send queues env for the writePump without blocking. A full queue drops a
// droppable frame; for any other frame the connection is treated as stalled
// and closed, so the reader side unwinds through the normal disconnect path.
func (c *wsClient) Send(env protocol.Envelope, droppable bool) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- env:
		return true
	default:
	}
	if !droppable {
		c.log.Warn("send queue full, closing stalled connection", "type", env.Type)
		c.close()
	}
	return false
}

func (c *wsClient) close() {
	c.closeOnce.Do(func() { close(c.done) })
}

// readPump decodes frames and hands them to handle until the socket fails.
// A frame that is not valid JSON is reported through handle with an empty
// type so the caller can answer with an error frame.
func (c *wsClient) readPump(handle func(protocol.Envelope)) {
	c.conn.SetReadLimit(c.opts.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.Info("socket read failed", "err", err)
			}
			return
		}
		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			env = protocol.Envelope{}
		}
		handle(env)
	}
}

// writePump drains the send queue and keeps the connection alive with pings.
func (c *wsClient) writePump() {
	ticker := time.NewTicker(c.opts.pingPeriod())
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case env := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteJSON(env); err != nil {
				c.log.Debug("socket write failed", "err", err)
				c.close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}
