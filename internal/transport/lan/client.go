package lan

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hypo-app/hypo-core/internal/codec"
	"github.com/hypo-app/hypo-core/internal/logger"
	"github.com/hypo-app/hypo-core/internal/model"
)

// ErrNotConnected is returned by Send when the outbound queue is full,
// whether or not a socket is live.
var ErrNotConnected = errors.New("lan: not connected")

// ClientOptions configures one outbound LanClient connection to a peer.
type ClientOptions struct {
	LocalDeviceID model.DeviceId
	DialTimeout   time.Duration
	WriteTimeout  time.Duration
	IdleTimeout   time.Duration // connection closed if nothing received within this window
	SendQueueSize int
	MaxBackoff    time.Duration
	Logger        logger.Logger
}

func (o *ClientOptions) setDefaults() {
	if o.DialTimeout <= 0 {
		o.DialTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.IdleTimeout <= 0 {
		o.IdleTimeout = 30 * time.Second
	}
	if o.SendQueueSize < 64 {
		o.SendQueueSize = 64
	}
	if o.MaxBackoff <= 0 {
		o.MaxBackoff = 30 * time.Second
	}
}

// Client maintains one dialed WebSocket connection to a discovered peer,
// with a bounded outbound queue and exponential-backoff reconnect.
type Client struct {
	peerID model.DeviceId
	url    string
	opts   ClientOptions
	log    logger.Logger

	onFrame FrameHandler

	mu        sync.Mutex
	conn      *websocket.Conn
	connected bool

	sendQueue chan []byte
	stop      chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup
}

// NewClient constructs a Client dialing url (a ws:// LAN peer endpoint) for
// peerID. onFrame is invoked for every decoded inbound frame.
func NewClient(peerID model.DeviceId, url string, opts ClientOptions, onFrame FrameHandler) *Client {
	opts.setDefaults()
	log := opts.Logger
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Client{
		peerID:    peerID.Canonical(),
		url:       url,
		opts:      opts,
		log:       log,
		onFrame:   onFrame,
		sendQueue: make(chan []byte, opts.SendQueueSize),
		stop:      make(chan struct{}),
	}
}

// Start dials the peer and begins the reconnect-with-backoff loop.
func (c *Client) Start(ctx context.Context) {
	c.wg.Add(1)
	go c.run(ctx)
}

func (c *Client) run(ctx context.Context) {
	defer c.wg.Done()

	backoff := time.Second
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stop:
			return
		default:
		}

		if err := c.connectOnce(ctx); err != nil {
			c.log.Warn("lan: connect failed", logger.String("peer", string(c.peerID)), logger.Error(err))
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return
			case <-c.stop:
				return
			}
			backoff *= 2
			if backoff > c.opts.MaxBackoff {
				backoff = c.opts.MaxBackoff
			}
			continue
		}
		backoff = time.Second // reset after a session that actually connected
	}
}

func (c *Client) connectOnce(ctx context.Context) error {
	dialer := &websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	header := map[string][]string{"X-Device-Id": {string(c.opts.LocalDeviceID.Canonical())}}

	conn, _, err := dialer.DialContext(ctx, c.url, header)
	if err != nil {
		return fmt.Errorf("dial: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()

	writerDone := make(chan struct{})
	go c.writeLoop(conn, writerDone)

	c.readLoop(ctx, conn)

	c.mu.Lock()
	c.connected = false
	c.conn = nil
	c.mu.Unlock()
	conn.Close()
	<-writerDone
	return nil
}

func (c *Client) writeLoop(conn *websocket.Conn, done chan struct{}) {
	defer close(done)
	for {
		select {
		case frame, ok := <-c.sendQueue:
			if !ok {
				return
			}
			var buf bytes.Buffer
			if err := codec.WriteFrame(&buf, frame); err != nil {
				continue
			}
			conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := conn.WriteMessage(websocket.BinaryMessage, buf.Bytes()); err != nil {
				return
			}
		case <-c.stop:
			return
		}
	}
}

func (c *Client) readLoop(ctx context.Context, conn *websocket.Conn) {
	for {
		conn.SetReadDeadline(time.Now().Add(c.opts.IdleTimeout))
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}
		frame, err := codec.ReadFrame(bytes.NewReader(data))
		if err != nil {
			c.log.Warn("lan: dropping malformed frame", logger.String("peer", string(c.peerID)), logger.Error(err))
			continue
		}
		if c.onFrame != nil {
			c.onFrame(ctx, c.peerID, frame)
		}
	}
}

// Send enqueues frame for delivery. Returns ErrNotConnected if the queue is
// full (back-pressure) — callers fall back to the cloud branch in that case.
func (c *Client) Send(frame []byte) error {
	select {
	case c.sendQueue <- frame:
		return nil
	default:
		return ErrNotConnected
	}
}

func (c *Client) isConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Connected reports whether the client currently has a live connection.
func (c *Client) Connected() bool { return c.isConnected() }

// Stop tears down the connection and stops reconnect attempts.
func (c *Client) Stop() {
	c.stopOnce.Do(func() {
		close(c.stop)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
	})
	c.wg.Wait()
}
