package websocket

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newServer starts a websocket server running handle for each connection.
func newServer(t *testing.T, handle func(r *http.Request, conn *serverConn)) string {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			t.Errorf("upgrade: %v", err)
			return
		}
		defer conn.Close()
		handle(r, &serverConn{conn: conn})
	}))
	t.Cleanup(srv.Close)
	return "ws://" + strings.TrimPrefix(srv.URL, "http://")
}

type serverConn struct {
	conn net.Conn
}

// read returns the next data frame; control frames are answered by wsutil.
func (s *serverConn) read() (string, error) {
	b, _, err := wsutil.ReadClientData(s.conn)
	return string(b), err
}

func (s *serverConn) write(text string) error {
	return wsutil.WriteServerText(s.conn, []byte(text))
}

type collector struct {
	mu   sync.Mutex
	msgs []string
}

func (c *collector) onText(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, string(data))
	return nil
}

func (c *collector) all() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.msgs...)
}

func TestClient_EchoInOrder(t *testing.T) {
	url := newServer(t, func(r *http.Request, conn *serverConn) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		for {
			msg, err := conn.read()
			if err != nil {
				return
			}
			if err := conn.write("echo:" + msg); err != nil {
				return
			}
		}
	})

	got := &collector{}
	headers := http.Header{}
	headers.Set("Authorization", "Bearer secret")
	client, err := Connect(context.Background(), ClientConfig{
		URL:     url,
		Headers: headers,
		OnText:  got.onText,
	})
	require.NoError(t, err)

	var want []string
	for _, m := range []string{"a", "b", "c", "d", "e"} {
		require.NoError(t, client.WriteText([]byte(m)))
		want = append(want, "echo:"+m)
	}

	require.Eventually(t, func() bool {
		return len(got.all()) == len(want)
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, want, got.all())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	require.NoError(t, client.Close(ctx))

	select {
	case <-client.Done():
	default:
		t.Fatal("client must be done after Close")
	}
	assert.ErrorIs(t, client.WriteText([]byte("late")), ErrClosed)
	assert.NoError(t, client.Close(ctx), "second close is a no-op")
}

func TestClient_ServerClose(t *testing.T) {
	url := newServer(t, func(r *http.Request, conn *serverConn) {
		_ = conn.write("bye soon")
		body := ws.NewCloseFrameBody(ws.StatusGoingAway, "bye")
		_ = ws.WriteFrame(conn.conn, ws.NewCloseFrame(body))
		// wait for the client's close reply
		_, _ = conn.read()
	})

	got := &collector{}
	client, err := Connect(context.Background(), ClientConfig{URL: url, OnText: got.onText})
	require.NoError(t, err)

	select {
	case <-client.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("client not done after server close")
	}
	assert.Equal(t, []string{"bye soon"}, got.all(), "messages before the close are delivered")
	assert.NoError(t, client.Err())
	assert.ErrorIs(t, client.WriteText([]byte("x")), ErrClosed)
}

func TestClient_CloseTimeout(t *testing.T) {
	release := make(chan struct{})
	url := newServer(t, func(r *http.Request, conn *serverConn) {
		// never read, so the close handshake is never answered
		<-release
	})
	defer close(release)

	client, err := Connect(context.Background(), ClientConfig{URL: url})
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = client.Close(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)

	select {
	case <-client.Done():
	default:
		t.Fatal("client must be done after a forced close")
	}
}

func TestConnect_DialError(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := "ws://" + strings.TrimPrefix(srv.URL, "http://")
	srv.Close()

	_, err := Connect(context.Background(), ClientConfig{URL: url, DialTimeout: time.Second})
	require.Error(t, err)
}

func TestClient_Binary(t *testing.T) {
	url := newServer(t, func(r *http.Request, conn *serverConn) {
		b, op, err := wsutil.ReadClientData(conn.conn)
		if err != nil {
			return
		}
		if op == ws.OpBinary {
			_ = wsutil.WriteServerBinary(conn.conn, append([]byte{0xff}, b...))
		}
		_, _ = conn.read()
	})

	got := make(chan []byte, 1)
	client, err := Connect(context.Background(), ClientConfig{
		URL: url,
		OnBinary: func(data []byte) error {
			got <- append([]byte(nil), data...)
			return nil
		},
	})
	require.NoError(t, err)
	defer client.Close(context.Background())

	require.NoError(t, client.WriteBinary([]byte{1, 2, 3}))
	select {
	case b := <-got:
		assert.Equal(t, []byte{0xff, 1, 2, 3}, b)
	case <-time.After(2 * time.Second):
		t.Fatal("no binary reply")
	}
}
