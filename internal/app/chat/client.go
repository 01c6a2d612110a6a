package chat

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"naberya/internal/pkg/logx"
)

const (
	// timeout duration for writing to the WebSocket connection.
	writeWait = 10 * time.Second

	// maximum time allowed for the server to wait for a Pong message from the client.
	pongWait = 60 * time.Second

	// frequency at which the server sends a Ping message.
	pingPeriod = (pongWait * 9) / 10

	// maximum allowed size (in bytes) of a frame sent by the client. Signal payloads
	// carry SDP blobs, so this is larger than a chat message.
	maxMessageSize = 64 * 1024

	// sendQueueSize is the number of outbound frames buffered per client.
	sendQueueSize = 256

	// WsCloseCodeSlowConsumer is a custom WebSocket Close Code (4000-4999 range)
	// sent when a client cannot keep up with its outbound queue.
	WsCloseCodeSlowConsumer = 4008
)

// Client adapts a gorilla/websocket connection to Sink and runs its read and write pumps.
type Client struct {
	// underlying WebSocket connection object.
	conn *websocket.Conn

	// a buffered channel used to queue frames waiting to be sent to the client.
	// It is never closed; done signals shutdown instead.
	send chan []byte

	// done is closed once by Close.
	done      chan struct{}
	closeOnce sync.Once

	// closeCode is the close frame code written by the write pump on shutdown.
	closeCode int

	// structured logger with connection context.
	logger zerolog.Logger
}

// NewClient constructs and returns a new Client instance.
func NewClient(wsConn *websocket.Conn, remoteIP string) *Client {
	return &Client{
		conn:      wsConn,
		send:      make(chan []byte, sendQueueSize),
		done:      make(chan struct{}),
		closeCode: websocket.CloseNormalClosure,
		logger: logx.Logger().With().
			Str("component", "client").
			Str("remote_ip", remoteIP).
			Logger(),
	}
}

// Enqueue implements Sink. A full queue closes the client.
func (c *Client) Enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		c.logger.Warn().Int("queue_len", len(c.send)).Msg("Client send queue full, closing slow client.")
		c.closeWith(WsCloseCodeSlowConsumer)
		return false
	}
}

// Close implements Sink.
func (c *Client) Close() {
	c.closeWith(websocket.CloseGoingAway)
}

func (c *Client) closeWith(code int) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		close(c.done)
	})
}

// Done is closed when the client starts shutting down.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// ReadPump reads frames until the connection fails or the client is closed, passing
// each frame to handle on the calling goroutine.
func (c *Client) ReadPump(handle func(frame []byte)) {
	defer c.Close()

	c.conn.SetReadLimit(maxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set read deadline")
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Info().Err(err).Msg("Error reading message (Client close/going away)")
			}
			return
		}

		select {
		case <-c.done:
			return
		default:
		}

		handle(frame)
	}
}

// WritePump writes queued frames and heartbeats until the client is closed or a write
// fails. tick runs on every heartbeat on the write goroutine.
func (c *Client) WritePump(tick func()) {
	ticker := time.NewTicker(pingPeriod)

	defer func() {
		ticker.Stop()
		c.Close()

		// ensure the connection is closed on exit; this also unblocks ReadPump
		if err := c.conn.Close(); err != nil {
			c.logger.Debug().Err(err).Msg("Client connection close error in WritePump")
		}
	}()

	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}

		case <-ticker.C:
			if !c.write(websocket.PingMessage, nil) {
				return
			}
			if tick != nil {
				tick()
			}

		case <-c.done:
			c.drain()
			c.write(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, ""))
			return
		}
	}
}

// drain flushes frames queued before shutdown.
func (c *Client) drain() {
	for {
		select {
		case frame := <-c.send:
			if !c.write(websocket.TextMessage, frame) {
				return
			}
		default:
			return
		}
	}
}

// write sets the deadline and writes one frame. It returns false on failure.
func (c *Client) write(messageType int, data []byte) bool {
	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		c.logger.Error().Err(err).Msg("Failed to set write deadline")
		return false
	}

	if err := c.conn.WriteMessage(messageType, data); err != nil {
		c.logger.Debug().Err(err).Int("message_type", messageType).Msg("Error writing message")
		return false
	}

	return true
}
