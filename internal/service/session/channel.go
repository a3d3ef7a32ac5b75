package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/echocat/slf4g"
	"github.com/gorilla/websocket"
)

// ErrChannelClosed is returned when writing to a channel after Close.
var ErrChannelClosed = errors.New("audio channel closed")

// Dialer opens the full-duplex connection to the audio endpoint. Swapping it
// is the hook for reconnection policies.
type Dialer interface {
	Dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error)
}

// WebsocketDialer dials with gorilla/websocket.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
}

func (d WebsocketDialer) Dial(ctx context.Context, url string, header http.Header) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, url, header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("websocket dial failed (%s): %w", resp.Status, err)
		}
		return nil, fmt.Errorf("websocket dial failed: %w", err)
	}
	return conn, nil
}

// Channel wraps one websocket connection: a single read goroutine dispatching
// through the router, a ping loop and serialized writes.
type Channel struct {
	ctx     context.Context
	conn    *websocket.Conn
	opts    Options
	router  *Router
	onClose func(*Channel, error)

	done      chan struct{}
	writeMu   sync.Mutex
	closeOnce sync.Once
	closed    atomic.Bool
	started   atomic.Bool

	errMu sync.Mutex
	err   error
}

func newChannel(ctx context.Context, conn *websocket.Conn, opts Options, router *Router, onClose func(*Channel, error)) *Channel {
	return &Channel{
		ctx:     ctx,
		conn:    conn,
		opts:    opts.withDefaults(),
		router:  router,
		onClose: onClose,
		done:    make(chan struct{}),
	}
}

// start 启动读循环与ping循环，只生效一次
func (c *Channel) start() {
	if !c.started.CompareAndSwap(false, true) {
		return
	}

	_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))
	})

	go c.readLoop()
	go c.pingLoop()
}

// SendBinary writes one binary frame.
func (c *Channel) SendBinary(data []byte) error {
	return c.write(func() error {
		return c.conn.WriteMessage(websocket.BinaryMessage, data)
	})
}

// SendJSON writes v as one text frame.
func (c *Channel) SendJSON(v any) error {
	return c.write(func() error {
		return c.conn.WriteJSON(v)
	})
}

func (c *Channel) write(fn func() error) error {
	if c.closed.Load() {
		return ErrChannelClosed
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.closed.Load() {
		return ErrChannelClosed
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	return fn()
}

// Close sends a close frame and releases the connection. Safe to call more
// than once; it must not be called from a router handler.
func (c *Channel) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.writeMu.Lock()
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(c.opts.CloseGrace))
		c.writeMu.Unlock()
		_ = c.conn.Close()

		// 读循环从未启动时由这里结束
		if c.started.CompareAndSwap(false, true) {
			close(c.done)
		}
	})
	<-c.done
	return nil
}

// Err returns the error that ended the channel, nil for a clean close.
func (c *Channel) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

func (c *Channel) setErr(err error) {
	if err == nil {
		return
	}
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.err == nil {
		c.err = err
	}
}

func (c *Channel) readLoop() {
	defer func() {
		close(c.done)
		if c.onClose != nil {
			c.onClose(c, c.Err())
		}
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			if c.closed.Load() || websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			c.setErr(err)
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(c.opts.ReadTimeout))

		msg := decodeFrame(messageType, data)
		if !c.router.Dispatch(c.ctx, msg) {
			log.With("kind", msg.Kind()).
				With("bytes", len(data)).
				Debug("unhandled inbound frame ignored")
		}
	}
}

// pingLoop 定期发送ping消息
func (c *Channel) pingLoop() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			if c.closed.Load() {
				return
			}
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.opts.WriteTimeout)); err != nil {
				log.WithError(err).Debug("ping failed")
				return
			}
		}
	}
}
