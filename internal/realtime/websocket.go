package realtime

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

var ErrConnClosed = errors.New("connection closed")

type WSOptions struct {
	SendBuffer   int
	WriteTimeout time.Duration
	PongTimeout  time.Duration
	PingInterval time.Duration
	MaxReadBytes int64
}

func (o *WSOptions) withDefaults() {
	if o.SendBuffer <= 0 {
		o.SendBuffer = 32
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 10 * time.Second
	}
	if o.PongTimeout <= 0 {
		o.PongTimeout = 60 * time.Second
	}
	if o.PingInterval <= 0 || o.PingInterval >= o.PongTimeout {
		o.PingInterval = o.PongTimeout * 9 / 10
	}
	if o.MaxReadBytes <= 0 {
		o.MaxReadBytes = 4096
	}
}

// WSConn подключение поверх gorilla/websocket. Писать в сокет может только writePump,
// Send лишь кладёт сообщение в буфер.
type WSConn struct {
	id   string
	ws   *websocket.Conn
	opts WSOptions

	send      chan Message
	done      chan struct{}
	closeOnce sync.Once
}

func NewWSConn(ws *websocket.Conn, opts WSOptions) *WSConn {
	opts.withDefaults()
	return &WSConn{
		id:   uuid.NewString(),
		ws:   ws,
		opts: opts,
		send: make(chan Message, opts.SendBuffer),
		done: make(chan struct{}),
	}
}

func (c *WSConn) ID() string { return c.id }

func (c *WSConn) Send(ctx context.Context, msg Message) error {
	select {
	case <-c.done:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- msg:
		return nil
	case <-c.done:
		return ErrConnClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *WSConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		err = c.ws.Close()
	})
	return err
}

// Run обслуживает подключение до его закрытия клиентом, сервером или отмены ctx.
func (c *WSConn) Run(ctx context.Context) {
	go c.writePump()
	go func() {
		select {
		case <-ctx.Done():
			_ = c.Close()
		case <-c.done:
		}
	}()
	c.readPump()
	_ = c.Close()
}

// readPump читает входящие кадры только ради pong и обнаружения разрыва
func (c *WSConn) readPump() {
	c.ws.SetReadLimit(c.opts.MaxReadBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.opts.PongTimeout))
	})
	for {
		if _, _, err := c.ws.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *WSConn) writePump() {
	ticker := time.NewTicker(c.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteJSON(msg); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}
