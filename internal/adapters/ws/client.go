package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/quckchat/call-service/internal/domain"
)

var (
	// ErrBackpressure is returned when a client's send buffer is full.
	ErrBackpressure = errors.New("client send buffer full")
	// ErrClosed is returned when sending to a client that went away.
	ErrClosed = errors.New("client closed")
)

const writeWait = 5 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Client is one device's event stream connection.
type Client struct {
	user   domain.UserID
	device domain.DeviceID
	conn   *websocket.Conn
	send   chan []byte

	// mu guards closed: the hub may publish into send concurrently
	// with the readPump tearing the client down.
	mu     sync.Mutex
	closed bool

	readLimit  int64
	pingPeriod time.Duration
}

// Options tune connection housekeeping.
type Options struct {
	ReadLimit  int64
	PingPeriod time.Duration
}

func DefaultOptions() Options {
	return Options{ReadLimit: 32768, PingPeriod: 54 * time.Second}
}

func (c *Client) TrySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.send)
	c.mu.Unlock()
	_ = c.conn.Close()
}

// Controller upgrades event stream requests and runs the pumps.
type Controller struct {
	Hub  *Hub
	Opts Options
}

// HandleEvents upgrades the request. The caller authenticated the user
// already; device identity comes from the device-token cookie.
func (ctl *Controller) HandleEvents(ctx context.Context, c *gin.Context) {
	user := domain.UserID(c.GetString("user_id"))
	device := domain.DeviceID(c.GetString("device_token"))
	log.Info().Str("module", "adapters.ws").Str("user", string(user)).
		Str("device", string(device)).Msg("event stream connection")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Err(err).Str("module", "adapters.ws").Msg("ws upgrade failed")
		return
	}

	client := &Client{
		user:       user,
		device:     device,
		conn:       conn,
		send:       make(chan []byte, 32),
		readLimit:  ctl.Opts.ReadLimit,
		pingPeriod: ctl.Opts.PingPeriod,
	}
	ctl.Hub.Register(client)

	ctx, cancel := context.WithCancel(ctx)
	go ctl.writePump(ctx, client)
	go ctl.readPump(ctx, cancel, client)
}

func (ctl *Controller) writePump(ctx context.Context, c *Client) {
	ticker := time.NewTicker(c.pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case data, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Debug().Err(err).Str("module", "adapters.ws").Msg("writePump write error")
				return
			}
		}
	}
}

// readPump only drains control frames and client pings; all signaling
// operations arrive over the HTTP API, never the event stream.
func (ctl *Controller) readPump(ctx context.Context, cancel context.CancelFunc, c *Client) {
	defer func() {
		cancel()
		ctl.Hub.Unregister(c)
		c.Close()
	}()

	c.conn.SetReadLimit(c.readLimit)
	wait := c.pingPeriod + writeWait
	_ = c.conn.SetReadDeadline(time.Now().Add(wait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(wait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if _, _, err := c.conn.ReadMessage(); err != nil {
				log.Debug().Err(err).Str("module", "adapters.ws").
					Str("user", string(c.user)).Msg("readPump closing")
				return
			}
			_ = c.conn.SetReadDeadline(time.Now().Add(wait))
		}
	}
}
