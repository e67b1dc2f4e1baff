package hostbridge

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
)

// wsPair returns the server and client ends of a fresh websocket.
func wsPair(t *testing.T) (*websocket.Conn, *websocket.Conn) {
	t.Helper()
	serverSide := make(chan *websocket.Conn, 1)
	upgrader := websocket.Upgrader{}
	hs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverSide <- conn
	}))
	t.Cleanup(hs.Close)

	clientConn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(hs.URL, "http"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = clientConn.Close() })

	select {
	case conn := <-serverSide:
		t.Cleanup(func() { _ = conn.Close() })
		return conn, clientConn
	case <-time.After(5 * time.Second):
		t.Fatal("server side of websocket not accepted")
		return nil, nil
	}
}

func readText(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)
	return string(data)
}

func TestPool_HelloPrecedesBroadcasts(t *testing.T) {
	p := newPool("w1", poolConfig{}, nil)
	t.Cleanup(p.closeAll)

	stop := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
				p.broadcast([]byte("event"))
				time.Sleep(time.Millisecond)
			}
		}
	}()

	serverConn, clientConn := wsPair(t)
	p.join(serverConn, func() []byte { return []byte("hello") })

	require.Equal(t, "hello", readText(t, clientConn))
	require.Equal(t, "event", readText(t, clientConn))

	close(stop)
	wg.Wait()
}

func TestPool_SlowClientIsDropped(t *testing.T) {
	p := newPool("w1", poolConfig{outboxSize: 2, writeTimeout: 100 * time.Millisecond}, nil)
	t.Cleanup(p.closeAll)

	serverConn, _ := wsPair(t)
	p.join(serverConn, nil)
	require.Equal(t, 1, p.count())

	frame := []byte(strings.Repeat("x", 256<<10))
	start := time.Now()
	for i := 0; i < 200; i++ {
		p.broadcast(frame)
	}
	require.Less(t, time.Since(start), 2*time.Second)
	require.Eventually(t, func() bool { return p.count() == 0 }, 5*time.Second, 10*time.Millisecond)
}

func TestPool_SendToAndIdle(t *testing.T) {
	idle := make(chan struct{}, 1)
	p := newPool("w1", poolConfig{idleTimeout: 20 * time.Millisecond}, func() { idle <- struct{}{} })
	t.Cleanup(p.closeAll)

	serverConn, clientConn := wsPair(t)
	c := p.join(serverConn, nil)
	p.sendTo(c, []byte("pong"))
	require.Equal(t, "pong", readText(t, clientConn))

	p.leave(c)
	p.leave(c)
	require.Equal(t, 0, p.count())
	select {
	case <-idle:
	case <-time.After(2 * time.Second):
		t.Fatal("idle callback not called")
	}

	// closed clients take no more frames
	require.False(t, c.enqueue([]byte("late")))
}
