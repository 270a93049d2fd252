package websocket

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

var ErrClosed = errors.New("websocket closed")

type ClientConfig struct {
	URL         string
	DialTimeout time.Duration
	Headers     http.Header
	// OnText and OnBinary run on a single goroutine in arrival order.
	OnText   func(data []byte) error
	OnBinary func(data []byte) error
	Logger   *slog.Logger
}

// Client is a websocket client connection. All writes, control replies
// included, go through one writer goroutine.
type Client struct {
	conn     net.Conn
	out      chan wsutil.Message
	done     chan struct{}
	doneOnce sync.Once
	closing  chan struct{}
	closeMu  sync.Once
	logger   *slog.Logger

	mu  sync.Mutex
	err error
}

func (c *Client) setDone() {
	c.doneOnce.Do(func() {
		close(c.done)
	})
}

// Done is closed once the connection is gone and every received message has
// been handled.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns the read error that ended the connection, nil after a clean
// close.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *Client) WriteText(data []byte) error {
	return c.Write(ws.OpText, data)
}

func (c *Client) WriteBinary(data []byte) error {
	return c.Write(ws.OpBinary, data)
}

func (c *Client) Ping(data []byte) error {
	return c.Write(ws.OpPing, data)
}

func (c *Client) SendClose(code ws.StatusCode, reason string) error {
	c.closeMu.Do(func() {
		close(c.closing)
	})
	return c.Write(ws.OpClose, ws.NewCloseFrameBody(code, reason))
}

// Close performs the closing handshake. When ctx expires first the
// connection is dropped without waiting for the server.
func (c *Client) Close(ctx context.Context) error {
	if err := c.SendClose(ws.StatusNormalClosure, "closing"); err != nil {
		return nil // already done
	}
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		_ = c.conn.Close()
		<-c.done
		return fmt.Errorf("close failed: %w", ctx.Err())
	}
}

// Write queues a frame. It never blocks once the connection is done.
func (c *Client) Write(opcode ws.OpCode, data []byte) error {
	select {
	case <-c.done:
		return ErrClosed
	default:
	}
	select {
	case c.out <- wsutil.Message{OpCode: opcode, Payload: data}:
		return nil
	case <-c.done:
		return ErrClosed
	}
}

func Connect(ctx context.Context, config ClientConfig) (*Client, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	logger = logger.With(
		slog.String("url", config.URL),
	)

	dialTimeout := config.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 10 * time.Second
	}

	// the context bounds the handshake only, not the connection
	hsCtx, cancel := context.WithTimeout(ctx, dialTimeout)
	defer cancel()

	d := ws.Dialer{
		Timeout: dialTimeout,
		Header:  ws.HandshakeHeaderHTTP(config.Headers),
	}
	conn, buf, hs, err := d.Dial(hsCtx, config.URL)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	logger.Debug("handshake complete", slog.Any("handshake", hs))

	// buf holds frames the server sent right after the handshake and reads
	// through to conn, so it is used in place of conn and never recycled
	var r io.Reader = conn
	if buf != nil {
		r = buf
	}

	client := &Client{
		conn:    conn,
		out:     make(chan wsutil.Message, 1000),
		done:    make(chan struct{}),
		closing: make(chan struct{}),
		logger:  logger,
	}

	onText := config.OnText
	if onText == nil {
		onText = func([]byte) error { return nil }
	}
	onBinary := config.OnBinary
	if onBinary == nil {
		onBinary = func([]byte) error { return nil }
	}

	input := make(chan wsutil.Message, 1000)

	go client.readLoop(r, input)
	go client.writeLoop()

	go func() {
		defer client.setDone()
		for msg := range input {
			switch msg.OpCode {
			case ws.OpText:
				if err := onText(msg.Payload); err != nil {
					logger.Error("text message handler failed", slog.Any("err", err))
				}
			case ws.OpBinary:
				if err := onBinary(msg.Payload); err != nil {
					logger.Error("binary message handler failed", slog.Any("err", err))
				}
			}
		}
	}()

	logger.Info("connected to websocket")
	_ = client.Ping([]byte("ping"))

	return client, nil
}

func (c *Client) readLoop(r io.Reader, input chan<- wsutil.Message) {
	defer close(input)
	for {
		messages, err := wsutil.ReadServerMessage(r, nil)
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, net.ErrClosed) {
				c.logger.Error("ws read failed", slog.Any("err", err))
				c.mu.Lock()
				c.err = err
				c.mu.Unlock()
			}
			return
		}
		for _, msg := range messages {
			if !msg.OpCode.IsControl() {
				input <- msg
				continue
			}

			c.logger.Debug("rcv: control", slog.Any("opcode", msg.OpCode))
			switch msg.OpCode {
			case ws.OpPing:
				_ = c.enqueue(ws.OpPong, msg.Payload)
			case ws.OpClose:
				code, reason := ws.ParseCloseFrameData(msg.Payload)
				c.logger.Debug("rcv: close", slog.Int("code", int(code)), slog.String("reason", reason))
				select {
				case <-c.closing:
					// reply to our own close
				default:
					if code.Empty() {
						code = ws.StatusNormalClosure
					}
					_ = c.enqueue(ws.OpClose, ws.NewCloseFrameBody(code, ""))
				}
				return
			}
		}
	}
}

// enqueue is Write for the reader side; it must not block on a full queue
// while the writer is waiting for the dispatcher.
func (c *Client) enqueue(opcode ws.OpCode, data []byte) error {
	select {
	case c.out <- wsutil.Message{OpCode: opcode, Payload: data}:
		return nil
	default:
		return errors.New("write queue full")
	}
}

func (c *Client) writeLoop() {
	defer c.conn.Close()
	for {
		select {
		case msg := <-c.out:
			if err := wsutil.WriteClientMessage(c.conn, msg.OpCode, msg.Payload); err != nil {
				c.logger.Error("message write failed", slog.Any("err", err))
				return
			}
		case <-c.done:
			// flush what was queued before the read side finished, such as
			// the reply to a server close
			for {
				select {
				case msg := <-c.out:
					if err := wsutil.WriteClientMessage(c.conn, msg.OpCode, msg.Payload); err != nil {
						return
					}
				default:
					return
				}
			}
		}
	}
}
