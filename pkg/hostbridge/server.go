// Package hostbridge exposes widget controllers to a host page over a
// websocket: the host receives widget events and drives the widget with
// small JSON frames.
package hostbridge

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/go-go-golems/punku-chat/pkg/session"
	"github.com/go-go-golems/punku-chat/pkg/widget"
	"github.com/go-go-golems/punku-chat/pkg/widget/events"
)

// Widget is what the bridge needs from a *widget.Controller.
type Widget interface {
	WidgetID() string
	Snapshot() widget.Snapshot
	Open()
	Close()
	Toggle()
	StartNewSession()
	Submit(ctx context.Context, text string) error
	SubmitFeedback(ctx context.Context, messageID string, fb session.Feedback) error
}

// Subscriber is the subscribing half of *events.Bus.
type Subscriber interface {
	Subscribe(ctx context.Context, widgetID string) (<-chan events.Event, error)
}

var _ Widget = &widget.Controller{}

type Option func(*Server)

func WithUpgrader(u websocket.Upgrader) Option {
	return func(s *Server) { s.upgrader = u }
}

// WithIdleTimeout stops forwarding a widget's events once it has had no
// connections for d.
func WithIdleTimeout(d time.Duration) Option {
	return func(s *Server) { s.pool.idleTimeout = d }
}

// WithWriteTimeout bounds every websocket write. A client that cannot take
// a frame within d is dropped.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.pool.writeTimeout = d }
}

// WithOutboxSize sets how many frames a client may fall behind before it is
// dropped.
func WithOutboxSize(n int) Option {
	return func(s *Server) { s.pool.outboxSize = n }
}

// WithCleanup runs sweep every interval while the server runs.
func WithCleanup(interval time.Duration, sweep func() int) Option {
	return func(s *Server) {
		s.cleanupInterval = interval
		s.sweep = sweep
	}
}

// Server resolves widgets through the handles published in a
// widget.Registry, so a disposed widget is no longer reachable.
type Server struct {
	bus      Subscriber
	registry *widget.Registry
	upgrader websocket.Upgrader

	pool            poolConfig
	cleanupInterval time.Duration
	sweep           func() int

	baseCtx context.Context
	mu      sync.Mutex
	follows map[string]*follow
}

// follow is one widget's connection pool plus the forwarder feeding it.
type follow struct {
	pool   *pool
	cancel context.CancelFunc
}

func NewServer(bus Subscriber, registry *widget.Registry, opts ...Option) *Server {
	s := &Server{
		bus:      bus,
		registry: registry,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		pool: poolConfig{
			idleTimeout:  30 * time.Second,
			writeTimeout: defaultWriteTimeout,
			outboxSize:   defaultOutboxSize,
		},
		baseCtx: context.Background(),
		follows: map[string]*follow{},
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Server) context() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.baseCtx
}

func (s *Server) lookup(widgetID string) (Widget, bool) {
	h, ok := s.registry.Lookup(widget.APIKey(widgetID))
	if !ok {
		return nil, false
	}
	w, ok := h.(Widget)
	return w, ok
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/ws", s.handleWS)
	return mux
}

func (s *Server) handleWS(w http.ResponseWriter, req *http.Request) {
	widgetID := strings.TrimSpace(req.URL.Query().Get("widget_id"))
	if widgetID == "" {
		widgetID = widget.DefaultWidgetID
	}
	wd, ok := s.lookup(widgetID)
	if !ok {
		http.Error(w, "unknown widget_id", http.StatusNotFound)
		return
	}

	f, err := s.ensureFollow(widgetID)
	if err != nil {
		log.Error().Err(err).Str("component", "hostbridge").Str("widget_id", widgetID).Msg("failed to follow widget events")
		http.Error(w, "failed to follow widget", http.StatusInternalServerError)
		return
	}

	conn, err := s.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	c := f.pool.join(conn, func() []byte {
		b, err := json.Marshal(helloFrame{Type: FrameHello, ServerTime: time.Now().UnixMilli(), Snapshot: wd.Snapshot()})
		if err != nil {
			return nil
		}
		return b
	})
	wsLog := log.With().
		Str("component", "hostbridge").
		Str("remote", conn.RemoteAddr().String()).
		Str("widget_id", widgetID).
		Logger()
	wsLog.Info().Msg("ws connected")

	go func() {
		defer f.pool.leave(c)
		defer wsLog.Info().Msg("ws disconnected")
		for {
			msgType, data, err := conn.ReadMessage()
			if err != nil {
				wsLog.Debug().Err(err).Msg("ws read loop end")
				return
			}
			if msgType != websocket.TextMessage || len(data) == 0 {
				continue
			}
			var frame ClientFrame
			if err := json.Unmarshal(data, &frame); err != nil {
				wsLog.Debug().Err(err).Msg("ignoring malformed frame")
				s.replyError(f.pool, c, "", errors.Wrap(err, "malformed frame"))
				continue
			}
			s.dispatch(wd, f.pool, c, frame)
		}
	}()
}

func (s *Server) dispatch(wd Widget, p *pool, c *client, frame ClientFrame) {
	switch strings.ToLower(frame.Type) {
	case FrameOpen:
		wd.Open()
	case FrameClose:
		wd.Close()
	case FrameToggle:
		wd.Toggle()
	case FrameNewSession:
		wd.StartNewSession()
	case FramePing:
		if b, err := json.Marshal(pongFrame{Type: FramePong, ServerTime: time.Now().UnixMilli()}); err == nil {
			p.sendTo(c, b)
		}
	case FrameSend:
		// Submit blocks until the reply is in; progress reaches the host as events.
		go func() {
			if err := wd.Submit(s.context(), frame.Text); err != nil {
				s.replyError(p, c, FrameSend, err)
			}
		}()
	case FrameFeedback:
		go func() {
			if err := wd.SubmitFeedback(s.context(), frame.MessageID, frame.Feedback); err != nil {
				s.replyError(p, c, FrameFeedback, err)
			}
		}()
	default:
		s.replyError(p, c, frame.Type, errors.Errorf("unknown frame type %q", frame.Type))
	}
}

func (s *Server) replyError(p *pool, c *client, op string, err error) {
	b, mErr := json.Marshal(errorFrame{Type: FrameError, Op: op, Error: err.Error()})
	if mErr != nil {
		return
	}
	p.sendTo(c, b)
}

// ensureFollow returns the widget's pool, subscribing to its events on first use.
func (s *Server) ensureFollow(widgetID string) (*follow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if f, ok := s.follows[widgetID]; ok {
		return f, nil
	}
	if s.bus == nil {
		return nil, errors.New("hostbridge: no event bus")
	}
	ctx, cancel := context.WithCancel(s.baseCtx)
	ch, err := s.bus.Subscribe(ctx, widgetID)
	if err != nil {
		cancel()
		return nil, err
	}
	f := &follow{cancel: cancel}
	f.pool = newPool(widgetID, s.pool, func() { s.unfollow(widgetID, f) })
	s.follows[widgetID] = f

	go func() {
		for ev := range ch {
			b, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			f.pool.broadcast(b)
		}
	}()
	return f, nil
}

func (s *Server) unfollow(widgetID string, f *follow) {
	s.mu.Lock()
	current, ok := s.follows[widgetID]
	if !ok || current != f {
		s.mu.Unlock()
		return
	}
	delete(s.follows, widgetID)
	s.mu.Unlock()

	log.Debug().Str("component", "hostbridge").Str("widget_id", widgetID).Msg("no connections left, stopping event forwarder")
	f.cancel()
	f.pool.closeAll()
}

// Connections reports how many websockets follow widgetID.
func (s *Server) Connections(widgetID string) int {
	s.mu.Lock()
	f, ok := s.follows[widgetID]
	s.mu.Unlock()
	if !ok {
		return 0
	}
	return f.pool.count()
}

// Run serves addr until ctx is done, then shuts the HTTP server down and
// closes every websocket.
func (s *Server) Run(ctx context.Context, addr string) error {
	if ctx == nil {
		return errors.New("ctx is nil")
	}
	if s == nil {
		return errors.New("server is not initialized")
	}
	srvCtx, srvCancel := context.WithCancel(ctx)
	defer srvCancel()

	s.mu.Lock()
	s.baseCtx = srvCtx
	s.mu.Unlock()

	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	eg, egCtx := errgroup.WithContext(srvCtx)

	if s.sweep != nil && s.cleanupInterval > 0 {
		eg.Go(func() error {
			s.runCleanupLoop(egCtx, s.cleanupInterval)
			return nil
		})
	}

	eg.Go(func() error {
		<-egCtx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Str("component", "hostbridge").Msg("server shutdown error")
			return err
		}
		s.closeAll()
		log.Info().Str("component", "hostbridge").Msg("server shutdown complete")
		return nil
	})

	eg.Go(func() error {
		log.Info().Str("component", "hostbridge").Str("addr", addr).Msg("starting host bridge")
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Str("component", "hostbridge").Msg("server listen error")
			return err
		}
		return nil
	})

	return eg.Wait()
}

func (s *Server) closeAll() {
	s.mu.Lock()
	follows := s.follows
	s.follows = map[string]*follow{}
	s.mu.Unlock()
	for _, f := range follows {
		f.cancel()
		f.pool.closeAll()
	}
}
