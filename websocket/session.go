package websocket

import (
	"context"
	"fmt"
	"sync"

	"github.com/pion/logging"
	"github.com/pkg/errors"
)

type sessionPhase int

const (
	phaseConnecting sessionPhase = iota
	phaseOpen
	phaseClosing
	phaseDisconnect
	phaseTerminated
)

// Session is the per-connection runtime: a Conn, a user Handler, an
// opaque state value threaded through every callback, an inbound byte
// buffer, a reassembly slot, and the current phase. It is owned by
// exactly one goroutine (the one running loop); the public methods below
// only ever post to mailbox or read a mutex-guarded snapshot, never touch
// the socket directly.
type Session struct {
	ID      string
	handler Handler
	opts    Options
	logger  logging.LeveledLogger

	mailbox chan mailMsg
	doneCh  chan struct{}
	doneOne sync.Once

	errMu sync.Mutex
	err   error

	// Fields below are owned exclusively by the session goroutine once
	// loop() starts; no lock needed.
	conn    *Conn
	state   any
	buf     []byte
	reasm   *reassembler
	attempt int
	phase   sessionPhase

	fatalErr error

	closeOrigin  CloseOrigin
	closeCode    CloseCode
	closeHasCode bool
	closeReason  string
	remoteClosed bool
}

// newSession wires up a Session ready to run, but does not start it.
func newSession(id string, conn *Conn, handler Handler, initialState any, opts Options) *Session {
	return &Session{
		ID:      id,
		handler: handler,
		opts:    opts,
		logger:  opts.logger(),
		mailbox: make(chan mailMsg, 32),
		doneCh:  make(chan struct{}),
		conn:    conn,
		state:   initialState,
		reasm:   newReassembler(opts.maxFrameSize()),
		phase:   phaseConnecting,
	}
}

// loop runs the full Connecting/Open/Closing/Disconnect/Terminated state
// machine until Terminated, reporting the outcome of the *first*
// Connecting attempt (success or terminal failure — not a reconnect) on
// startResult exactly once, if non-nil.
func (s *Session) loop(startResult chan<- error) {
	for {
		switch s.phase {
		case phaseConnecting:
			reportNow, err := s.connecting()
			if startResult != nil && reportNow {
				startResult <- err
				startResult = nil
			}
		case phaseOpen:
			s.openLoop()
		case phaseClosing:
			s.closingLoop()
		case phaseDisconnect:
			s.disconnectPhase()
		case phaseTerminated:
			s.terminatedPhase()
			return
		}
	}
}

// connecting runs one Connecting attempt: open transport, send the
// Upgrade request, verify the response, activate the socket. reportNow
// is true exactly when the outcome is final — either the session reached
// Open, or HandleConnectFailure declined to reconnect.
func (s *Session) connecting() (reportNow bool, err error) {
	s.attempt++
	ctx := context.Background()

	if err = s.conn.Open(ctx); err == nil {
		var key string
		if key, err = generateKey(); err == nil {
			_, err = s.conn.Handshake(ctx, key)
		}
	}

	if err != nil {
		return s.handleConnectFailure(err)
	}

	s.conn.SetActive(true)
	s.phase = phaseOpen
	return true, nil
}

func (s *Session) handleConnectFailure(connErr error) (reportNow bool, err error) {
	failure := ConnectFailure{Err: connErr, Attempt: s.attempt, Conn: s.conn}
	reply, herr := s.invokeHandler("HandleConnectFailure", func() (Reply, error) {
		return s.handler.HandleConnectFailure(failure, s.state)
	})
	if herr != nil {
		s.fatal(herr)
		return true, herr
	}
	s.state = reply.State

	if reply.Kind == ReplyReconnectWithConn {
		if reply.Conn != nil {
			s.conn = reply.Conn
		}
		s.awaitReconnectBackoff()
		s.phase = phaseConnecting
		return false, nil
	}

	s.logger.Errorf("websocket: session %s giving up after connect attempt %d: %v", s.ID, s.attempt, connErr)
	s.fatalErr = failure
	s.phase = phaseTerminated
	return true, failure
}

func (s *Session) awaitReconnectBackoff() {
	if s.opts.ReconnectBackoff == nil {
		return
	}
	_ = s.opts.ReconnectBackoff.Wait(context.Background())
}

// beginClosingLocal sends a Close frame (best-effort — a write to an
// already-closed socket is ignored) and enters Closing with the local
// close reason recorded.
func (s *Session) beginClosingLocal(code CloseCode, reason string, hasCode bool) {
	var frame *Frame
	if hasCode {
		frame = CloseFrameWithCode(code, reason)
	} else {
		frame = CloseFrame()
	}
	if encoded, err := Encode(frame); err == nil {
		_ = s.conn.Send(encoded)
	}

	s.closeOrigin = CloseOriginLocal
	s.closeCode = code
	s.closeHasCode = hasCode
	s.closeReason = reason
	s.enterClosing()
}

// beginClosingRemote handles an inbound Close frame: echoes it back
// best-effort, then enters Closing with the remote's reason recorded.
func (s *Session) beginClosingRemote(f *Frame) {
	reply := CloseFrame()
	if f.HasCloseCode {
		reply = CloseFrameWithCode(f.CloseCode, string(f.Payload))
	}
	if encoded, err := Encode(reply); err == nil {
		_ = s.conn.Send(encoded)
	}

	s.closeOrigin = CloseOriginRemote
	s.closeCode = f.CloseCode
	s.closeHasCode = f.HasCloseCode
	s.closeReason = string(f.Payload)
	s.enterClosing()
}

// beginClosingAbrupt handles the TCP connection dropping with no Close
// frame ever received, while in the Open state. There is nothing to wait
// on, so the Session moves straight to Disconnect rather than arming the
// Closing grace timer.
func (s *Session) beginClosingAbrupt() {
	s.conn.SetActive(false)
	s.closeOrigin = CloseOriginRemote
	s.closeCode = CloseNoStatusReceived
	s.closeHasCode = false
	s.closeReason = ""
	s.remoteClosed = true
	s.phase = phaseDisconnect
}

func (s *Session) enterClosing() {
	s.conn.SetActive(false)
	s.phase = phaseClosing
}

// closeReasonValue builds the CloseReason handed to HandleDisconnect and
// recorded as the termination reason.
func (s *Session) closeReasonValue() CloseReason {
	return CloseReason{
		Origin: s.closeOrigin,
		Code:   s.closeCode,
		Reason: s.closeReason,
		Closed: s.remoteClosed,
	}
}

// disconnectPhase invokes HandleDisconnect once Closing has finished
// tearing the socket down.
func (s *Session) disconnectPhase() {
	reason := s.closeReasonValue()
	reply, err := s.invokeHandler("HandleDisconnect", func() (Reply, error) {
		return s.handler.HandleDisconnect(reason, s.state)
	})
	if err != nil {
		s.fatal(err)
		return
	}
	s.state = reply.State

	if reply.Kind == ReplyReconnect {
		s.buf = s.buf[:0]
		s.reasm.reset()
		s.remoteClosed = false
		s.attempt = 0
		s.awaitReconnectBackoff()
		s.phase = phaseConnecting
		return
	}

	s.phase = phaseTerminated
}

// terminatedPhase invokes Terminate, tears down the socket if it hasn't
// been already, and records the final error surfaced through Err().
func (s *Session) terminatedPhase() {
	var finalErr error
	switch {
	case s.fatalErr != nil:
		finalErr = s.fatalErr
	default:
		reason := s.closeReasonValue()
		if !reason.Normal() {
			finalErr = reason
		}
	}

	func() {
		defer func() { recover() }() //nolint:errcheck // Terminate must not bring the goroutine down
		s.handler.Terminate(finalErr, s.state)
	}()

	_ = s.conn.Close()
	s.setErr(finalErr)
	s.doneOne.Do(func() { close(s.doneCh) })
}

// fatal records err as the termination reason, closes the socket, and
// jumps straight to Terminated — used for handler panics, BadResponseError,
// and any other internal fault that makes continuing unsafe.
func (s *Session) fatal(err error) {
	s.fatalErr = err
	_ = s.conn.Close()
	s.phase = phaseTerminated
}

func (s *Session) setErr(err error) {
	s.errMu.Lock()
	s.err = err
	s.errMu.Unlock()
}

// invokeHandler calls fn, recovering a panic into an error (wrapped with
// a stack trace via github.com/pkg/errors) and wrapping a returned error
// with the callback name for context.
func (s *Session) invokeHandler(name string, fn func() (Reply, error)) (reply Reply, fatalErr error) {
	defer func() {
		if r := recover(); r != nil {
			fatalErr = errors.Wrapf(fmt.Errorf("%v", r), "websocket: handler %s panicked", name)
		}
	}()

	var err error
	reply, err = fn()
	if err != nil {
		return reply, errors.Wrapf(err, "websocket: handler %s", name)
	}
	return reply, nil
}
