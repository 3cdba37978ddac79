package websocket

import (
	"fmt"
	"time"
)

// closeGraceTimeout bounds how long Closing waits for the peer to finish
// the close handshake before the socket is forced shut. Fixed, not
// configurable.
const closeGraceTimeout = 5 * time.Second

// closingLoop runs the Closing state: discard inbound bytes, wait for the
// socket to close on its own or for the grace timer to force it.
func (s *Session) closingLoop() {
	timer := time.NewTimer(closeGraceTimeout)
	defer timer.Stop()

	for s.phase == phaseClosing {
		select {
		case <-s.conn.SocketClosed():
			s.phase = phaseDisconnect
		case <-timer.C:
			_ = s.conn.Close()
			s.phase = phaseDisconnect
		case msg := <-s.mailbox:
			s.handleClosingMailMsg(msg)
		}
	}
}

// mailMsg is the tagged union the Session selects on alongside the Conn's
// socket-bytes/socket-closed channels and the close timer. Each concrete
// type below corresponds to one public Session method.
type mailMsg interface{ isMailMsg() }

type mCast struct{ msg any }
type mInfo struct{ msg any }
type mSendBytes struct {
	data   []byte
	result chan<- error
}
type mGetState struct{ reply chan<- any }
type mReplaceState struct {
	state any
	reply chan<- error
}
type mStop struct{ reason string }

func (mCast) isMailMsg()         {}
func (mInfo) isMailMsg()         {}
func (mSendBytes) isMailMsg()    {}
func (mGetState) isMailMsg()     {}
func (mReplaceState) isMailMsg() {}
func (mStop) isMailMsg()         {}

// openLoop runs the Open-state event loop: one iteration handles exactly
// one event from the socket or the mailbox before returning to select, so
// a slow handler never starves the other event source.
func (s *Session) openLoop() {
	// parseNext is ready while the last parse dispatched a frame and bytes
	// remain in s.buf, so the next frame is parsed without new socket data.
	ready := make(chan struct{})
	close(ready)
	more := false
	for s.phase == phaseOpen {
		var parseNext <-chan struct{}
		if more {
			parseNext = ready
		}
		select {
		case data := <-s.conn.Inbound():
			s.buf = append(s.buf, data...)
			more = s.processBuffer()
		case <-parseNext:
			more = s.processBuffer()
		case <-s.conn.SocketClosed():
			s.beginClosingAbrupt()
		case msg := <-s.mailbox:
			s.handleMailMsg(msg)
		}
	}
}

// processBuffer parses at most one frame out of the Session's byte buffer,
// leaving any remainder for the next iteration. It reports whether a frame
// was dispatched with bytes still left in the buffer.
func (s *Session) processBuffer() bool {
	f, rest, err := Parse(s.buf, s.opts.maxFrameSize())
	if err == errIncomplete {
		return false
	}
	s.buf = rest
	if err != nil {
		s.beginClosingLocal(closeCodeFor(err), err.Error(), true)
		return false
	}
	s.dispatchFrame(f)
	return len(s.buf) > 0
}

// dispatchFrame routes a classified Frame to the reassembler (for
// fragments) or directly to the handler (for complete data frames and
// control frames).
func (s *Session) dispatchFrame(f *Frame) {
	switch f.Kind {
	case KindFragment, KindContinuation, KindFinish:
		complete, err := s.reasm.feed(f)
		if err != nil {
			s.beginClosingLocal(closeCodeFor(err), err.Error(), true)
			return
		}
		if complete != nil {
			s.invokeAndApply("HandleFrame", func() (Reply, error) {
				return s.handler.HandleFrame(complete, s.state)
			})
		}

	case KindText, KindBinary:
		s.invokeAndApply("HandleFrame", func() (Reply, error) {
			return s.handler.HandleFrame(f, s.state)
		})

	case KindPing:
		s.invokeAndApply("HandlePing", func() (Reply, error) {
			return s.handler.HandlePing(f.Payload, s.state)
		})

	case KindPong:
		s.invokeAndApply("HandlePong", func() (Reply, error) {
			return s.handler.HandlePong(f.Payload, s.state)
		})

	case KindClose:
		s.beginClosingRemote(f)
	}
}

// handleMailMsg services one mailbox message while Open.
func (s *Session) handleMailMsg(msg mailMsg) {
	switch m := msg.(type) {
	case mCast:
		s.invokeAndApply("HandleCast", func() (Reply, error) {
			return s.handler.HandleCast(m.msg, s.state)
		})

	case mInfo:
		s.logger.Tracef("websocket: session %s dispatching info message %T", s.ID, m.msg)
		s.invokeAndApply("HandleInfo", func() (Reply, error) {
			return s.handler.HandleInfo(m.msg, s.state)
		})

	case mSendBytes:
		err := s.conn.Send(m.data)
		if m.result != nil {
			m.result <- err
		}
		if err != nil && err != ErrClosed {
			s.fatal(err)
		}

	case mGetState:
		m.reply <- s.state

	case mReplaceState:
		s.state = m.state
		if m.reply != nil {
			m.reply <- nil
		}

	case mStop:
		s.beginClosingLocal(CloseNormalClosure, m.reason, true)
	}
}

// handleClosingMailMsg services administrative mailbox messages during the
// Closing state; Cast/Info/SendFrame requests are not meaningful once a
// close is already underway and are dropped (SendBytes reports ErrClosed
// to its caller rather than silently discarding).
func (s *Session) handleClosingMailMsg(msg mailMsg) {
	switch m := msg.(type) {
	case mGetState:
		m.reply <- s.state
	case mReplaceState:
		s.state = m.state
		if m.reply != nil {
			m.reply <- nil
		}
	case mSendBytes:
		if m.result != nil {
			m.result <- ErrClosed
		}
	case mStop:
		_ = s.conn.Close()
	}
}

// invokeAndApply runs a handler callback with panic/error recovery and
// applies its Reply, or fails the Session if the callback errored.
func (s *Session) invokeAndApply(name string, fn func() (Reply, error)) {
	reply, err := s.invokeHandler(name, fn)
	if err != nil {
		s.fatal(err)
		return
	}
	s.applyReply(reply)
}

// applyReply threads a Reply's state forward and carries out its wire
// effect, if any.
func (s *Session) applyReply(reply Reply) {
	s.state = reply.State
	switch reply.Kind {
	case ReplyOK:
	case ReplyFrame:
		if err := s.sendFrame(reply.Frame); err != nil && err != ErrClosed {
			s.fatal(err)
		}
	case ReplyClose:
		s.beginClosingLocal(0, "", false)
	case ReplyCloseWithCode:
		s.beginClosingLocal(reply.CloseCode, reply.CloseReason, true)
	default:
		s.fatal(&BadResponseError{Handler: fmt.Sprintf("%T", s.handler), Response: reply.Kind})
	}
}

// sendFrame encodes and writes a frame synchronously before the loop
// re-enters select. applyReply treats a send error as fatal, except
// ErrClosed, which leaves the socket-closed event to end the Session as a
// remote close.
func (s *Session) sendFrame(f *Frame) error {
	encoded, err := Encode(f)
	if err != nil {
		return err
	}
	return s.conn.Send(encoded)
}
