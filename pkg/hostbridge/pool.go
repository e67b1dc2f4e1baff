package hostbridge

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	defaultOutboxSize   = 64
	defaultWriteTimeout = 10 * time.Second
)

// client is one websocket following a widget. Frames are queued on outbox
// and written by writeLoop, the only goroutine writing to conn.
type client struct {
	conn         *websocket.Conn
	outbox       chan []byte
	done         chan struct{}
	closeOnce    sync.Once
	writeTimeout time.Duration
}

func newClient(conn *websocket.Conn, outboxSize int, writeTimeout time.Duration) *client {
	if outboxSize <= 0 {
		outboxSize = defaultOutboxSize
	}
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &client{
		conn:         conn,
		outbox:       make(chan []byte, outboxSize),
		done:         make(chan struct{}),
		writeTimeout: writeTimeout,
	}
}

// enqueue never blocks. It reports false when the client is closed or its
// outbox is full.
func (c *client) enqueue(frame []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.outbox <- frame:
		return true
	default:
		return false
	}
}

func (c *client) writeLoop(onFail func(error)) {
	for {
		select {
		case <-c.done:
			return
		case frame := <-c.outbox:
			_ = c.conn.SetWriteDeadline(time.Now().Add(c.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				onFail(err)
				return
			}
		}
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.conn.Close()
	})
}

type poolConfig struct {
	idleTimeout  time.Duration
	writeTimeout time.Duration
	outboxSize   int
}

// pool is the set of clients following one widget. Broadcasting only queues
// frames, so a client that stops reading is dropped instead of holding up
// the widget's event forwarder.
type pool struct {
	widgetID string
	cfg      poolConfig
	onIdle   func()

	mu        sync.Mutex
	clients   map[*client]struct{}
	idleTimer *time.Timer
}

func newPool(widgetID string, cfg poolConfig, onIdle func()) *pool {
	return &pool{
		widgetID: widgetID,
		cfg:      cfg,
		onIdle:   onIdle,
		clients:  map[*client]struct{}{},
	}
}

// join adds conn to the pool. The frame built by hello is queued before the
// client can see any broadcast, so it is always the first frame written.
func (p *pool) join(conn *websocket.Conn, hello func() []byte) *client {
	c := newClient(conn, p.cfg.outboxSize, p.cfg.writeTimeout)
	p.mu.Lock()
	if hello != nil {
		if frame := hello(); len(frame) > 0 {
			c.enqueue(frame)
		}
	}
	p.clients[c] = struct{}{}
	p.stopIdleTimerLocked()
	p.mu.Unlock()

	go c.writeLoop(func(err error) {
		log.Warn().Err(err).Str("component", "hostbridge").Str("widget_id", p.widgetID).Msg("ws write failed, dropping client")
		p.leave(c)
	})
	return c
}

func (p *pool) leave(c *client) {
	if c == nil {
		return
	}
	p.mu.Lock()
	if _, ok := p.clients[c]; ok {
		delete(p.clients, c)
		p.scheduleIdleTimerLocked()
	}
	p.mu.Unlock()
	c.close()
}

func (p *pool) broadcast(frame []byte) {
	if len(frame) == 0 {
		return
	}
	var slow []*client
	p.mu.Lock()
	for c := range p.clients {
		if !c.enqueue(frame) {
			delete(p.clients, c)
			slow = append(slow, c)
		}
	}
	if len(slow) > 0 {
		p.scheduleIdleTimerLocked()
	}
	p.mu.Unlock()

	for _, c := range slow {
		log.Warn().Str("component", "hostbridge").Str("widget_id", p.widgetID).Msg("ws client is not reading, dropping it")
		c.close()
	}
}

// sendTo queues frame for c alone.
func (p *pool) sendTo(c *client, frame []byte) {
	if c == nil || len(frame) == 0 {
		return
	}
	if !c.enqueue(frame) {
		p.leave(c)
	}
}

func (p *pool) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.clients)
}

func (p *pool) closeAll() {
	p.mu.Lock()
	clients := p.clients
	p.clients = map[*client]struct{}{}
	p.stopIdleTimerLocked()
	p.mu.Unlock()
	for c := range clients {
		c.close()
	}
}

func (p *pool) stopIdleTimerLocked() {
	if p.idleTimer != nil {
		p.idleTimer.Stop()
		p.idleTimer = nil
	}
}

func (p *pool) scheduleIdleTimerLocked() {
	p.stopIdleTimerLocked()
	if len(p.clients) != 0 || p.cfg.idleTimeout <= 0 || p.onIdle == nil {
		return
	}
	p.idleTimer = time.AfterFunc(p.cfg.idleTimeout, p.triggerIdle)
}

func (p *pool) triggerIdle() {
	p.mu.Lock()
	idle := len(p.clients) == 0
	p.idleTimer = nil
	p.mu.Unlock()
	if idle {
		p.onIdle()
	}
}
