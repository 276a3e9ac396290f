package ingest

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Stream defaults.
const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultBaseDelay         = 5 * time.Second
	DefaultBackoffFactor     = 1.5
	DefaultMaxAttempts       = 10

	// Write timeout for control and subscribe messages
	WriteTimeout = 10 * time.Second

	// HandshakeTimeout bounds the WebSocket dial
	HandshakeTimeout = 10 * time.Second
)

// ErrReconnectExhausted is reported once the stream gives up reconnecting.
var ErrReconnectExhausted = errors.New("reconnect attempts exhausted")

// State is the connection state of a Stream.
type State int32

const (
	StateConnecting State = iota
	StateOpen
	StateReconnecting
	StateFailed
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateOpen:
		return "OPEN"
	case StateReconnecting:
		return "RECONNECTING"
	case StateFailed:
		return "FAILED"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Handler receives every non-control message from the stream.
type Handler func(Message)

// StreamConfig configures the stream client.
type StreamConfig struct {
	URL               string
	Assets            []string
	HeartbeatInterval time.Duration
	BaseDelay         time.Duration
	BackoffFactor     float64
	MaxAttempts       int
}

func (c *StreamConfig) applyDefaults() {
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.BaseDelay <= 0 {
		c.BaseDelay = DefaultBaseDelay
	}
	if c.BackoffFactor < 1 {
		c.BackoffFactor = DefaultBackoffFactor
	}
	if c.MaxAttempts < 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
}

// ReconnectDelay returns base × factor^attempt.
func ReconnectDelay(base time.Duration, factor float64, attempt int) time.Duration {
	return time.Duration(float64(base) * math.Pow(factor, float64(attempt)))
}

// StreamOption customizes a Stream.
type StreamOption func(*Stream)

// WithStateHook registers a callback invoked on every state transition.
func WithStateHook(fn func(State)) StreamOption {
	return func(s *Stream) { s.onState = fn }
}

// WithReconnectHook registers a callback invoked before each scheduled reconnect.
func WithReconnectHook(fn func(attempt int, delay time.Duration)) StreamOption {
	return func(s *Stream) { s.onReconnect = fn }
}

// Stream manages the exchange WebSocket subscription.
type Stream struct {
	cfg     StreamConfig
	handler Handler
	log     *zap.Logger

	conn   *websocket.Conn
	connMu sync.Mutex // guards conn and serializes writes

	state    atomic.Int32
	attempts int

	onState     func(State)
	onReconnect func(attempt int, delay time.Duration)

	cancel context.CancelFunc
	done   chan struct{}
	errMu  sync.Mutex
	err    error
}

// Connect starts the connection loop and returns a handle to it. The loop
// keeps reconnecting until ctx is cancelled, Close is called, or the
// reconnect budget is spent.
func Connect(ctx context.Context, cfg StreamConfig, handler Handler, log *zap.Logger, opts ...StreamOption) (*Stream, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("stream url is required")
	}
	if handler == nil {
		return nil, fmt.Errorf("stream handler is required")
	}
	cfg.applyDefaults()

	loopCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		cfg:     cfg,
		handler: handler,
		log:     log,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.setState(StateConnecting)
	go s.runLoop(loopCtx)
	return s, nil
}

// Close sends a close frame, cancels heartbeat and reconnect timers and
// waits for the loop to exit.
func (s *Stream) Close() error {
	s.cancel()
	<-s.done
	return nil
}

// State returns the current connection state.
func (s *Stream) State() State {
	return State(s.state.Load())
}

// Done is closed when the loop exits.
func (s *Stream) Done() <-chan struct{} {
	return s.done
}

// Err returns ErrReconnectExhausted after a FAILED exit, nil otherwise.
func (s *Stream) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}

func (s *Stream) setState(st State) {
	s.state.Store(int32(st))
	if s.onState != nil {
		s.onState(st)
	}
}

// runLoop handles connection, reading, and reconnection.
func (s *Stream) runLoop(ctx context.Context) {
	defer close(s.done)

	for {
		conn, err := s.dial(ctx)
		if err == nil {
			s.attempts = 0
			s.setState(StateOpen)
			s.log.Info("ws_connected", zap.String("endpoint", s.cfg.URL), zap.Strings("assets", s.cfg.Assets))
			err = s.serve(ctx, conn)
		}

		if ctx.Err() != nil {
			s.setState(StateClosed)
			s.log.Info("ws_loop_stopping", zap.String("reason", "context cancelled"))
			return
		}

		s.log.Warn("ws_disconnected", zap.Error(err), zap.Int("attempt", s.attempts))

		if s.attempts >= s.cfg.MaxAttempts {
			s.setState(StateFailed)
			s.errMu.Lock()
			s.err = ErrReconnectExhausted
			s.errMu.Unlock()
			s.log.Error("ws_reconnect_exhausted", zap.Int("max_attempts", s.cfg.MaxAttempts))
			return
		}

		delay := ReconnectDelay(s.cfg.BaseDelay, s.cfg.BackoffFactor, s.attempts)
		s.attempts++
		s.setState(StateReconnecting)
		if s.onReconnect != nil {
			s.onReconnect(s.attempts, delay)
		}
		s.log.Info("ws_reconnect_scheduled", zap.Int("attempt", s.attempts), zap.Duration("delay", delay))

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.setState(StateClosed)
			s.log.Info("ws_loop_stopping", zap.String("reason", "context cancelled"))
			return
		case <-timer.C:
		}
	}
}

// dial opens the WebSocket connection.
func (s *Stream) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: HandshakeTimeout,
		Proxy:            http.ProxyFromEnvironment,
	}

	conn, resp, err := dialer.DialContext(ctx, s.cfg.URL, nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial failed: %w", err)
	}
	return conn, nil
}

// serve subscribes, runs the heartbeat and reads until the connection drops.
func (s *Stream) serve(ctx context.Context, conn *websocket.Conn) error {
	s.connMu.Lock()
	s.conn = conn
	s.connMu.Unlock()

	defer func() {
		s.connMu.Lock()
		s.conn = nil
		s.connMu.Unlock()
		conn.Close()
	}()

	// Shutdown sends a close frame, which also unblocks the read below.
	stop := context.AfterFunc(ctx, func() { s.closeGracefully(conn) })
	defer stop()

	if err := s.subscribe(conn); err != nil {
		return fmt.Errorf("subscribe failed: %w", err)
	}

	hbCtx, hbCancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.heartbeat(hbCtx, conn)
	}()
	defer func() {
		hbCancel()
		wg.Wait()
	}()

	return s.readLoop(conn)
}

// subscribe sends one trades subscription per asset.
func (s *Stream) subscribe(conn *websocket.Conn) error {
	for _, asset := range s.cfg.Assets {
		if err := s.writeJSON(conn, NewSubscribeMessage(asset)); err != nil {
			return err
		}
		s.log.Debug("ws_subscribed", zap.String("channel", ChannelTrades), zap.String("coin", asset))
	}
	return nil
}

// heartbeat sends a ping control message every interval while the connection is open.
func (s *Stream) heartbeat(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(s.cfg.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.writeJSON(conn, pingMessage); err != nil {
				s.log.Warn("ws_ping_failed", zap.Error(err))
				conn.Close()
				return
			}
		}
	}
}

// readLoop reads messages until a read error.
func (s *Stream) readLoop(conn *websocket.Conn) error {
	for {
		// Two missed heartbeats means the peer is gone.
		conn.SetReadDeadline(time.Now().Add(2*s.cfg.HeartbeatInterval + WriteTimeout))

		_, data, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read error: %w", err)
		}
		s.handleMessage(data)
	}
}

// handleMessage filters control messages and dispatches the rest.
func (s *Stream) handleMessage(data []byte) {
	msg, err := ParseMessage(data)
	if err != nil {
		s.log.Warn("ws_malformed_message", zap.Error(err), zap.String("raw", truncate(string(data), 200)))
		return
	}

	switch msg.Channel {
	case ChannelPong:
		return
	case ChannelSubscriptionResponse:
		s.log.Debug("ws_subscription_ack", zap.ByteString("data", msg.Data))
		return
	case ChannelError:
		s.log.Warn("ws_server_error", zap.ByteString("data", msg.Data))
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.log.Error("ws_handler_panic", zap.Any("panic", r), zap.String("channel", msg.Channel))
		}
	}()
	s.handler(msg)
}

func (s *Stream) writeJSON(conn *websocket.Conn, v any) error {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(WriteTimeout))
	return conn.WriteJSON(v)
}

// closeGracefully sends a normal-closure frame and closes the socket.
func (s *Stream) closeGracefully(conn *websocket.Conn) {
	s.connMu.Lock()
	defer s.connMu.Unlock()

	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "shutdown")
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(time.Second)); err != nil {
		s.log.Debug("ws_close_frame_failed", zap.Error(err))
	}
	conn.Close()
}

// truncate shortens a string for logging.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}

// Subscription selects a channel and coin.
type Subscription struct {
	Type string `json:"type"`
	Coin string `json:"coin"`
}

// ControlMessage is an outbound subscribe or ping message.
type ControlMessage struct {
	Method       string        `json:"method"`
	Subscription *Subscription `json:"subscription,omitempty"`
}

var pingMessage = ControlMessage{Method: "ping"}

// NewSubscribeMessage creates a trades subscription for one asset.
func NewSubscribeMessage(asset string) ControlMessage {
	return ControlMessage{
		Method:       "subscribe",
		Subscription: &Subscription{Type: ChannelTrades, Coin: asset},
	}
}
