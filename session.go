package gatewayws

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/pkg/errors"
)

// State is the position of a Session in its lifecycle. It only ever moves forward.
type State int32

const (
	StateIdle State = iota
	StateAuthenticating
	StateConnecting
	StateHandshaking
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAuthenticating:
		return "AUTHENTICATING"
	case StateConnecting:
		return "CONNECTING"
	case StateHandshaking:
		return "HANDSHAKING"
	case StateActive:
		return "ACTIVE"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

const defaultRecvBuffer = 32

// SessionConfig wires the collaborators of a Session. Authenticator and ChannelFactory are
// required; everything else has a default.
type SessionConfig struct {
	DeveloperID string
	APIKey      string

	Authenticator  Authenticator
	ChannelFactory ChannelFactory
	Sink           EventSink
	Logger         Logger
	Metrics        *Metrics
	Jitter         JitterFunc
	RecvBuffer     int
}

// Session is one logical connection to the gateway: authenticate, open the channel, answer HELLO
// with IDENTIFY, heartbeat, and hand DISPATCH events to the sink until the channel closes.
//
// Inbound envelopes are processed by a single goroutine in arrival order. The heartbeat runs on its
// own goroutine; the ack flag is the only state the two share.
type Session struct {
	id             string
	devID          string
	apiKey         string
	auth           Authenticator
	channelFactory ChannelFactory
	sink           EventSink
	logger         Logger
	metrics        *Metrics
	jitter         JitterFunc
	emitter        *EventEmitter[State, State]

	state         atomic.Int32
	identifyToken string
	expectingAck  atomic.Bool

	// mu guards the channel and heartbeat handles against Stop from other goroutines.
	mu        sync.Mutex
	channel   Channel
	heartbeat *heartbeater

	recv        chan Message
	stopOnce    sync.Once
	closeC      CloseChan
	closeReason error
}

func NewSession(cfg SessionConfig) *Session {
	id := uuid.NewString()

	logger := cfg.Logger
	if logger == nil {
		logger = NopLogger()
	}
	logger = logger.WithField("session", id)

	sink := cfg.Sink
	if sink == nil {
		sink = NewLogSink(logger)
	}

	recvBuffer := cfg.RecvBuffer
	if recvBuffer <= 0 {
		recvBuffer = defaultRecvBuffer
	}

	s := &Session{
		id:             id,
		devID:          cfg.DeveloperID,
		apiKey:         cfg.APIKey,
		auth:           cfg.Authenticator,
		channelFactory: cfg.ChannelFactory,
		sink:           sink,
		logger:         logger,
		metrics:        cfg.Metrics,
		jitter:         cfg.Jitter,
		emitter:        NewEventEmitter[State, State](),
		recv:           make(chan Message, recvBuffer),
		closeC:         make(CloseChan),
	}
	s.metrics.SetState(StateIdle)
	return s
}

func (s *Session) ID() string { return s.id }

func (s *Session) State() State {
	return State(s.state.Load())
}

// ExpectingAck reports whether the last heartbeat sent is still unacknowledged.
func (s *Session) ExpectingAck() bool {
	return s.expectingAck.Load()
}

// OnStateChange registers fn to be called every time the session enters state.
func (s *Session) OnStateChange(state State, fn func(State)) {
	s.emitter.On(state, fn)
}

// CloseChan is closed once the session reached StateClosed.
func (s *Session) CloseChan() CloseChan {
	return s.closeC
}

// CloseErr explains why the session closed: ErrTerminated after Stop, the channel's close error
// after a remote close, or the startup failure. It is nil while the session is open.
func (s *Session) CloseErr() error {
	select {
	case <-s.closeC:
		return s.closeReason
	default:
		return nil
	}
}

// Start fetches the identify token and opens the channel. Only the token fetch blocks; the
// handshake continues on the session goroutine. ctx bounds the whole session: cancelling it stops
// the session. An authentication failure closes the session and is returned wrapping ErrAuth.
func (s *Session) Start(ctx context.Context) error {
	if !s.casState(StateIdle, StateAuthenticating) {
		return errors.Wrapf(ErrInvalidState, "cannot start session in state %s", s.State())
	}
	s.notify(StateAuthenticating)

	s.logger.Info("fetching authentication token")
	token, err := s.auth.FetchToken(ctx, s.devID, s.apiKey)
	if err != nil {
		if !errors.Is(err, ErrAuth) {
			err = errors.Wrap(ErrAuth, err.Error())
		}
		s.logger.Errorf("cannot fetch authentication token: %s", err)
		s.shutdown(err)
		return err
	}
	s.identifyToken = token

	if !s.casState(StateAuthenticating, StateConnecting) {
		return errors.Wrap(ErrInvalidState, "session stopped while authenticating")
	}
	s.notify(StateConnecting)

	ch := s.channelFactory(ctx, s.recv)

	s.mu.Lock()
	if s.State() == StateClosed {
		s.mu.Unlock()
		ch.Close()
		return errors.Wrap(ErrInvalidState, "session stopped while connecting")
	}
	s.channel = ch
	s.mu.Unlock()

	go s.run(ctx, ch)

	return nil
}

// Stop cancels heartbeating, closes the channel and moves the session to StateClosed. It is
// idempotent and may be called from any goroutine, including state change listeners.
func (s *Session) Stop() {
	s.shutdown(ErrTerminated)
}

// Send writes env to the channel. It is only allowed once the channel is open.
func (s *Session) Send(env Envelope) error {
	switch st := s.State(); st {
	case StateHandshaking, StateActive:
	default:
		return errors.Wrapf(ErrInvalidState, "cannot send %s in state %s", env.Op, st)
	}

	s.mu.Lock()
	ch := s.channel
	s.mu.Unlock()

	return s.sendEnvelope(ch, env)
}

func (s *Session) run(ctx context.Context, ch Channel) {
	s.logger.Info("creating websocket connection")
	if err := ch.Open(ctx); err != nil {
		s.logger.Errorf("cannot open channel: %s", err)
		s.shutdown(err)
		return
	}

	if !s.casState(StateConnecting, StateHandshaking) {
		return
	}
	s.logger.Info("websocket connection established")
	s.notify(StateHandshaking)

	channelClosed := ch.CloseChan()

	for {
		select {
		case <-s.closeC:
			return
		case <-ctx.Done():
			s.logger.Infof("context done: %s", ctx.Err())
			s.Stop()
			return
		case m := <-s.recv:
			s.handle(ctx, ch, m)
		case <-channelClosed:
			s.drain(ctx, ch)
			s.onChannelClosed(ch)
			return
		}
	}
}

// drain handles whatever the channel delivered right before it closed.
func (s *Session) drain(ctx context.Context, ch Channel) {
	for {
		select {
		case m := <-s.recv:
			s.handle(ctx, ch, m)
		default:
			return
		}
	}
}

func (s *Session) onChannelClosed(ch Channel) {
	err := ch.CloseErr()

	var ce *CloseError
	switch {
	case errors.As(err, &ce) && ce.Abnormal():
		s.logger.Warnf("websocket connection closed abnormally with code %d (%s)", ce.Code, ce.Text)
	case ce != nil:
		s.logger.Infof("websocket connection closed with code %d (%s)", ce.Code, ce.Text)
	default:
		s.logger.Infof("websocket connection closed: %v", err)
	}

	if err == nil {
		err = ErrConnectionClosed
	}
	s.shutdown(err)
}

func (s *Session) handle(ctx context.Context, ch Channel, m Message) {
	switch {
	case m.Type().IsData(), m.Type().IsBinary():
	case m.Type().IsClose():
		s.logger.Debugf("close frame received: %s", m)
		return
	default:
		s.logger.Debugf("ignoring %s frame", m.Type())
		return
	}

	s.logger.Debugf("raw message received: %s", m.Data())

	env, err := DecodeEnvelope(m.Data())
	if err != nil {
		s.metrics.EnvelopeDropped()
		s.logger.Warnf("dropping malformed envelope: %s", err)
		return
	}
	s.metrics.EnvelopeReceived(env.Op)

	switch env.Op {
	case OpHello:
		s.onHello(ch, env)
	case OpHeartbeatAck:
		s.expectingAck.Store(false)
	case OpReady:
		if s.State() != StateActive {
			s.logger.Debugf("ignoring READY in state %s", s.State())
			return
		}
		s.logger.Info("connection is READY")
	case OpDispatch:
		s.onDispatch(ctx, env)
	default:
		s.logger.Debugf("ignoring %s envelope in state %s", env.Op, s.State())
	}
}

func (s *Session) onHello(ch Channel, env Envelope) {
	if st := s.State(); st != StateHandshaking {
		s.logger.Debugf("ignoring HELLO in state %s", st)
		return
	}

	hello, err := env.Hello()
	if err != nil {
		s.logger.Warnf("ignoring HELLO: %s", err)
		return
	}
	interval := hello.Interval()

	s.logger.Info("sending IDENTIFY and scheduling heartbeats")
	if err := s.sendEnvelope(ch, NewIdentifyEnvelope(s.identifyToken)); err != nil {
		s.logger.Errorf("cannot send IDENTIFY: %s", err)
		return
	}

	s.mu.Lock()
	if !s.casState(StateHandshaking, StateActive) {
		s.mu.Unlock()
		return
	}
	s.heartbeat = newHeartbeater(s.logger, s.metrics, ch.Send, interval, s.jitter, &s.expectingAck)
	s.heartbeat.Start()
	s.mu.Unlock()

	s.notify(StateActive)
}

func (s *Session) onDispatch(ctx context.Context, env Envelope) {
	if st := s.State(); st != StateActive {
		s.logger.Debugf("ignoring DISPATCH in state %s", st)
		return
	}

	e := env.Dispatch()
	s.metrics.Dispatched(e.EventType)
	if err := s.sink.Dispatch(ctx, e); err != nil {
		s.logger.Errorf("sink failed on %s event for user %s: %s", e.EventType, e.UserID, err)
	}
}

func (s *Session) sendEnvelope(ch Channel, env Envelope) error {
	if ch == nil {
		return errors.Wrap(ErrConnectionClosed, "no channel")
	}
	m, err := NewEnvelopeMessage(env)
	if err != nil {
		return err
	}
	return ch.Send(m)
}

func (s *Session) shutdown(reason error) {
	var closed bool
	s.stopOnce.Do(func() {
		closed = true
		prev := State(s.state.Swap(int32(StateClosed)))
		s.metrics.SetState(StateClosed)

		s.mu.Lock()
		hb, ch := s.heartbeat, s.channel
		s.mu.Unlock()

		if hb != nil {
			hb.Cancel()
		}
		if ch != nil {
			ch.Close()
		}

		s.closeReason = reason
		close(s.closeC)

		s.logger.Infof("session closed from state %s", prev)
	})
	if !closed {
		return
	}
	// Listeners run outside the once so they may call Stop.
	s.emitter.Emit(StateClosed, StateClosed)
	s.emitter.Close()
}

func (s *Session) casState(from, to State) bool {
	if !s.state.CompareAndSwap(int32(from), int32(to)) {
		return false
	}
	s.metrics.SetState(to)
	s.logger.Debugf("state %s -> %s", from, to)
	return true
}

func (s *Session) notify(to State) {
	s.emitter.Emit(to, to)
}
