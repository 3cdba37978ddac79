package websocket

import (
	"crypto/tls"
	"net/http"
	"time"

	"github.com/nats-io/nuid"
	"github.com/pion/logging"
	"golang.org/x/time/rate"
)

// Options configures Start/StartLink. The zero value is a usable default:
// synchronous start, no TLS, no extra headers, no timeouts, default
// MaxFrameSize, immediate (unpaced) reconnection, and a silent logger.
type Options struct {
	// Async, when true, makes Start/StartLink return immediately with the
	// Session rather than blocking for the first Connecting attempt;
	// connect failures are then delivered only via HandleConnectFailure.
	Async bool

	// Header carries extra request headers for the opening handshake.
	Header http.Header

	// TLSConfig overrides the default TLS configuration used for wss://
	// targets (SNI host and TLS 1.2 minimum). Ignored for ws:// targets.
	TLSConfig *tls.Config

	// ConnectTimeout bounds dialing the transport. Zero means no timeout.
	ConnectTimeout time.Duration
	// RecvTimeout bounds each individual socket read. Zero means no timeout.
	RecvTimeout time.Duration
	// SendTimeout bounds each individual socket write. Zero means no timeout.
	SendTimeout time.Duration

	// MaxFrameSize bounds a single frame's (or reassembled message's)
	// payload length. Zero means defaultMaxFrameSize (64 MiB).
	MaxFrameSize int

	// Subprotocols lists requested Sec-WebSocket-Protocol values; the
	// server's echoed value (if any) is the single subprotocol in effect —
	// no further negotiation, per Non-goals.
	Subprotocols []string

	// ReconnectBackoff, when set, is waited on before every re-entry into
	// Connecting (initial reconnect attempts and HandleDisconnect/
	// HandleConnectFailure-driven ones alike). Nil means immediate,
	// unpaced reconnection — pacing is then entirely the handler's job.
	ReconnectBackoff *rate.Limiter

	// Logger receives the Session's leveled logs: a trace entry for each
	// message dispatched to HandleInfo and an error entry when
	// HandleConnectFailure gives up. State transitions, reconnect attempts
	// and discarded frames are not logged. Defaults to a logger
	// filtered at LogLevelError (effectively silent unless something
	// goes wrong).
	Logger logging.LeveledLogger
}

func (o Options) maxFrameSize() int {
	if o.MaxFrameSize > 0 {
		return o.MaxFrameSize
	}
	return defaultMaxFrameSize
}

func (o Options) logger() logging.LeveledLogger {
	if o.Logger != nil {
		return o.Logger
	}
	factory := logging.NewDefaultLoggerFactory()
	factory.DefaultLogLevel = logging.LogLevelError
	return factory.NewLogger("wsclient")
}

// Start opens a Session against target using handler and initialState.
// Unless opts.Async is set, it blocks until the first Connecting attempt
// either reaches Open (returns the Session, nil) or is given up on by
// HandleConnectFailure (returns nil, the connect error).
func Start(target string, handler Handler, initialState any, opts Options) (*Session, error) {
	return start(target, handler, initialState, opts)
}

// StartLink behaves like Start but additionally links the Session's
// terminal outcome to a supervisor-style done channel: callers select on
// (*Session).Done() and read (*Session).Err() exactly as with Start, the
// distinction is purely the naming convention carried over from the
// supervised-process model this library is adapted from — a crashed
// Session here never takes down the caller's goroutine, since it runs in
// its own goroutine throughout.
func StartLink(target string, handler Handler, initialState any, opts Options) (*Session, error) {
	return start(target, handler, initialState, opts)
}

func start(target string, handler Handler, initialState any, opts Options) (*Session, error) {
	u, tlsEnabled, err := parseTarget(target)
	if err != nil {
		return nil, err
	}

	conn := NewConn(u, tlsEnabled)
	if opts.Header != nil {
		conn.Header = opts.Header
	}
	if opts.TLSConfig != nil {
		conn.TLSConfig = opts.TLSConfig
	}
	conn.Subprotocols = opts.Subprotocols
	conn.ConnectTimeout = opts.ConnectTimeout
	conn.RecvTimeout = opts.RecvTimeout
	conn.SendTimeout = opts.SendTimeout

	state, err := handler.Init(initialState, conn)
	if err != nil {
		return nil, err
	}

	session := newSession(nuid.Next(), conn, handler, state, opts)

	if opts.Async {
		go session.loop(nil)
		return session, nil
	}

	result := make(chan error, 1)
	go session.loop(result)
	if err := <-result; err != nil {
		return nil, err
	}
	return session, nil
}

// Cast posts a fire-and-forget message to the handler's HandleCast. Safe
// to call from any goroutine; never blocks on the network.
func (s *Session) Cast(message any) {
	select {
	case s.mailbox <- mCast{msg: message}:
	case <-s.doneCh:
	}
}

// SendInfo posts msg for delivery to the handler's HandleInfo — for
// out-of-band messages that don't fit Cast (request/reply from another
// goroutine, a timer firing, anything not a wire frame).
func (s *Session) SendInfo(msg any) {
	select {
	case s.mailbox <- mInfo{msg: msg}:
	case <-s.doneCh:
	}
}

// SendFrame encodes frame and queues the resulting bytes for the wire.
// Encode errors are returned synchronously; a write failure after the
// Session has already terminated is reported as ErrClosed.
func (s *Session) SendFrame(frame *Frame) error {
	encoded, err := Encode(frame)
	if err != nil {
		return err
	}

	result := make(chan error, 1)
	select {
	case s.mailbox <- mSendBytes{data: encoded, result: result}:
	case <-s.doneCh:
		return ErrClosed
	}

	select {
	case err := <-result:
		return err
	case <-s.doneCh:
		return ErrClosed
	}
}

// State returns the handler's current opaque state ("get_state").
func (s *Session) State() (any, error) {
	reply := make(chan any, 1)
	select {
	case s.mailbox <- mGetState{reply: reply}:
	case <-s.doneCh:
		return nil, ErrClosed
	}
	select {
	case state := <-reply:
		return state, nil
	case <-s.doneCh:
		return nil, ErrClosed
	}
}

// ReplaceState overwrites the handler's opaque state ("replace_state").
func (s *Session) ReplaceState(state any) error {
	reply := make(chan error, 1)
	select {
	case s.mailbox <- mReplaceState{state: state, reply: reply}:
	case <-s.doneCh:
		return ErrClosed
	}
	select {
	case err := <-reply:
		return err
	case <-s.doneCh:
		return ErrClosed
	}
}

// Stop requests an orderly close with CloseNormalClosure and reason,
// without blocking for it to complete ("terminate" system message).
func (s *Session) Stop(reason string) {
	select {
	case s.mailbox <- mStop{reason: reason}:
	case <-s.doneCh:
	}
}

// Done returns a channel closed once the Session has reached Terminated.
func (s *Session) Done() <-chan struct{} { return s.doneCh }

// Err returns the terminal reason. Valid after Done() closes; nil means a
// clean, expected close (code 1000 or no code).
func (s *Session) Err() error {
	s.errMu.Lock()
	defer s.errMu.Unlock()
	return s.err
}
