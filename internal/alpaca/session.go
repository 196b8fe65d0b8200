package alpaca

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// SessionState tracks where the ingestion FSM currently is. States advance
// Disconnected → Connecting → Connected → Authenticated → Subscribing →
// Streaming; every error path funnels through Closing back to Disconnected.
type SessionState int32

const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateAuthenticated
	StateSubscribing
	StateStreaming
	StateClosing
)

func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateAuthenticated:
		return "authenticated"
	case StateSubscribing:
		return "subscribing"
	case StateStreaming:
		return "streaming"
	case StateClosing:
		return "closing"
	}
	return "unknown"
}

// Codec translates between wire frames and normalized events.
type Codec interface {
	Decode(frame []byte) ([]Event, error)
	EncodeAuth(key, secret string) ([]byte, error)
	EncodeSubscribe(action string, delta SubscriptionSet) ([]byte, error)
}

// wsConn is the slice of *websocket.Conn the session uses; tests substitute
// an in-memory fake.
type wsConn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	SetPongHandler(h func(string) error)
	SetReadDeadline(t time.Time) error
	Close() error
}

// DialFunc opens the transport. The default uses gorilla's dialer.
type DialFunc func(ctx context.Context, url string) (wsConn, error)

func gorillaDial(ctx context.Context, url string) (wsConn, error) {
	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return nil, fmt.Errorf("%w: handshake status %d", ErrConnectionFailed, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return conn, nil
}

// SessionConfig carries everything one feed session needs.
type SessionConfig struct {
	Feed              FeedKind
	URL               string
	Key               string
	Secret            string
	Codec             Codec
	Reconnect         *ReconnectPolicy
	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	// AuthTimeout bounds the wait for the authentication ack.
	AuthTimeout time.Duration

	// ResubscribeInterval re-checks desired vs actual while streaming.
	ResubscribeInterval time.Duration

	Dial    DialFunc
	Logger  zerolog.Logger
	OnState func(FeedKind, SessionState)
}

// Session maintains exactly one authenticated upstream socket and emits
// normalized events. It owns three tasks per connection: a read pump, a
// write pump, and a heartbeat monitor, all rooted in one cancellable
// context per connection attempt.
type Session struct {
	cfg   SessionConfig
	state atomic.Int32

	events chan Event

	// desired carries the latest reconciliation target; writers replace any
	// stale pending value so only the newest union is applied.
	desired chan SubscriptionSet

	mu          sync.Mutex
	actual      SubscriptionSet
	lastDesired SubscriptionSet
}

func NewSession(cfg SessionConfig) *Session {
	if cfg.Dial == nil {
		cfg.Dial = gorillaDial
	}
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.ResubscribeInterval == 0 {
		cfg.ResubscribeInterval = 15 * time.Second
	}
	return &Session{
		cfg:     cfg,
		events:  make(chan Event, 256),
		desired: make(chan SubscriptionSet, 1),
	}
}

// Events is the session's normalized output stream.
func (s *Session) Events() <-chan Event {
	return s.events
}

// State reports the current FSM state.
func (s *Session) State() SessionState {
	return SessionState(s.state.Load())
}

// UpdateDesired hands the session a new reconciliation target. Never blocks;
// a pending, not-yet-applied target is replaced by the newer one.
func (s *Session) UpdateDesired(set SubscriptionSet) {
	s.mu.Lock()
	s.lastDesired = set.Clone()
	s.mu.Unlock()
	for {
		select {
		case s.desired <- set.Clone():
			return
		default:
			select {
			case <-s.desired:
			default:
			}
		}
	}
}

func (s *Session) setState(st SessionState) {
	s.state.Store(int32(st))
	if s.cfg.OnState != nil {
		s.cfg.OnState(s.cfg.Feed, st)
	}
}

// Run drives the connect/stream/reconnect loop until ctx is cancelled or
// the reconnect policy is exhausted.
func (s *Session) Run(ctx context.Context) error {
	log := s.cfg.Logger.With().Str("feed", string(s.cfg.Feed)).Logger()

	for {
		if ctx.Err() != nil {
			s.setState(StateDisconnected)
			return ctx.Err()
		}

		err := s.runOnce(ctx, log)
		s.setState(StateDisconnected)
		if ctx.Err() != nil {
			return ctx.Err()
		}

		delay, ok := s.cfg.Reconnect.Next()
		if !ok {
			log.Error().Err(err).Msg("reconnect attempts exhausted")
			s.emit(ctx, Event{Kind: EventError, Feed: s.cfg.Feed, Err: ErrReconnectExhausted})
			return ErrReconnectExhausted
		}
		log.Warn().Err(err).Dur("delay", delay).Int("attempt", s.cfg.Reconnect.Attempt()).
			Msg("session ended, scheduling reconnect")

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// runOnce performs one full connection lifetime: dial, authenticate,
// subscribe, stream. It returns when the connection dies or ctx cancels.
func (s *Session) runOnce(ctx context.Context, log zerolog.Logger) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	s.setState(StateConnecting)
	conn, err := s.cfg.Dial(connCtx, s.cfg.URL)
	if err != nil {
		return err
	}
	defer conn.Close()
	s.setState(StateConnected)

	// Fresh socket, fresh broker-side set.
	s.mu.Lock()
	s.actual = NewSubscriptionSet()
	s.mu.Unlock()

	// Inbound frames decoded off the read pump.
	inbound := make(chan []byte, 256)
	// Outbound frames serialized through the write pump; gorilla conns do
	// not allow concurrent writers.
	outbound := make(chan []byte, 64)
	pingReq := make(chan struct{}, 1)
	readErr := make(chan error, 1)
	writeErr := make(chan error, 1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		readErr <- s.readPump(connCtx, conn, inbound)
	}()
	go func() {
		defer wg.Done()
		writeErr <- s.writePump(connCtx, conn, outbound, pingReq)
	}()
	defer func() {
		s.setState(StateClosing)
		cancel()
		conn.Close()
		wg.Wait()
	}()

	hb := NewHeartbeatMonitor(
		s.cfg.HeartbeatInterval,
		s.cfg.HeartbeatTimeout,
		func() error {
			select {
			case pingReq <- struct{}{}:
				return nil
			case <-connCtx.Done():
				return connCtx.Err()
			}
		},
		func() {
			s.emit(ctx, Event{Kind: EventTimeout, Feed: s.cfg.Feed, Err: ErrHeartbeatTimeout})
			cancel()
		},
	)
	conn.SetPongHandler(func(string) error {
		hb.RecordPong()
		return nil
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		hb.Run(connCtx)
	}()

	if err := s.authenticate(connCtx, outbound, inbound, readErr); err != nil {
		return err
	}
	s.setState(StateAuthenticated)
	log.Info().Msg("session authenticated")

	// The trade-updates socket has no subscribe handshake; data sockets do.
	s.setState(StateSubscribing)
	if err := s.reconcile(connCtx, outbound, s.currentDesired()); err != nil {
		return err
	}

	s.setState(StateStreaming)
	s.cfg.Reconnect.Reset()
	log.Info().Msg("session streaming")

	recheck := time.NewTicker(s.cfg.ResubscribeInterval)
	defer recheck.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-connCtx.Done():
			return ErrConnectionClosed
		case err := <-readErr:
			return err
		case err := <-writeErr:
			return err
		case want := <-s.desired:
			if err := s.reconcile(connCtx, outbound, want); err != nil {
				return err
			}
		case <-recheck.C:
			// Periodic re-check guards against acks lost on the wire.
			if err := s.reconcile(connCtx, outbound, s.currentDesired()); err != nil {
				return err
			}
		case frame, ok := <-inbound:
			if !ok {
				return ErrConnectionClosed
			}
			if err := s.handleFrame(ctx, frame, cancel); err != nil {
				return err
			}
		}
	}
}

func (s *Session) handleFrame(ctx context.Context, frame []byte, cancel context.CancelFunc) error {
	events, err := s.cfg.Codec.Decode(frame)
	if err != nil {
		// A single undecodable frame is surfaced but never fatal.
		s.emit(ctx, Event{Kind: EventError, Feed: s.cfg.Feed, Err: err})
		return nil
	}
	for _, ev := range events {
		if ev.Kind == EventError && ev.Err == ErrAuthenticationFailed {
			// Mid-stream auth revocation restarts the session.
			cancel()
			return ErrAuthenticationFailed
		}
		s.emit(ctx, ev)
	}
	return nil
}

func (s *Session) authenticate(ctx context.Context, outbound chan<- []byte, inbound <-chan []byte, readErr <-chan error) error {
	frame, err := s.cfg.Codec.EncodeAuth(s.cfg.Key, s.cfg.Secret)
	if err != nil {
		return err
	}
	select {
	case outbound <- frame:
	case <-ctx.Done():
		return ctx.Err()
	}

	deadline := time.NewTimer(s.cfg.AuthTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return fmt.Errorf("%w: no ack within %s", ErrAuthenticationFailed, s.cfg.AuthTimeout)
		case err := <-readErr:
			return err
		case raw, ok := <-inbound:
			if !ok {
				return ErrConnectionClosed
			}
			events, err := s.cfg.Codec.Decode(raw)
			if err != nil {
				s.emit(ctx, Event{Kind: EventError, Feed: s.cfg.Feed, Err: err})
				continue
			}
			for _, ev := range events {
				switch ev.Kind {
				case EventAuthenticated:
					s.emit(ctx, ev)
					return nil
				case EventError:
					if ev.Err == ErrAuthenticationFailed {
						return ErrAuthenticationFailed
					}
					s.emit(ctx, ev)
				default:
					s.emit(ctx, ev)
				}
			}
		}
	}
}

// reconcile computes the delta between the broker-side set and the desired
// union and emits subscribe/unsubscribe frames. Converges in at most two
// protocol messages per call; an unchanged set emits nothing.
func (s *Session) reconcile(ctx context.Context, outbound chan<- []byte, desired SubscriptionSet) error {
	s.mu.Lock()
	if s.actual == nil {
		s.actual = NewSubscriptionSet()
	}
	add, remove := s.actual.Diff(desired)
	s.mu.Unlock()

	if !add.Empty() {
		frame, err := s.cfg.Codec.EncodeSubscribe("subscribe", add)
		if err != nil {
			return err
		}
		if err := s.send(ctx, outbound, frame); err != nil {
			return err
		}
	}
	if !remove.Empty() {
		frame, err := s.cfg.Codec.EncodeSubscribe("unsubscribe", remove)
		if err != nil {
			return err
		}
		if err := s.send(ctx, outbound, frame); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.actual.Apply(add, remove)
	s.mu.Unlock()
	return nil
}

func (s *Session) currentDesired() SubscriptionSet {
	select {
	case want := <-s.desired:
		return want
	default:
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.lastDesired == nil {
			return NewSubscriptionSet()
		}
		return s.lastDesired.Clone()
	}
}

func (s *Session) send(ctx context.Context, outbound chan<- []byte, frame []byte) error {
	select {
	case outbound <- frame:
		return nil
	case <-ctx.Done():
		return ErrSendFailed
	}
}

func (s *Session) readPump(ctx context.Context, conn wsConn, inbound chan<- []byte) error {
	defer close(inbound)
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
		}
		select {
		case inbound <- frame:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (s *Session) writePump(ctx context.Context, conn wsConn, outbound <-chan []byte, pingReq <-chan struct{}) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case frame := <-outbound:
			if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return fmt.Errorf("%w: %v", ErrSendFailed, err)
			}
		case <-pingReq:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
				return fmt.Errorf("%w: %v", ErrSendFailed, err)
			}
		}
	}
}

// emit pushes an event out, preferring delivery but never outliving ctx.
func (s *Session) emit(ctx context.Context, ev Event) {
	select {
	case s.events <- ev:
	case <-ctx.Done():
	}
}

// actualSet exposes the broker-side set for tests and status endpoints.
func (s *Session) actualSet() SubscriptionSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.actual == nil {
		return NewSubscriptionSet()
	}
	return s.actual.Clone()
}
