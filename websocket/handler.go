package websocket

import "fmt"

// ErrNotImplemented is returned by the two DefaultHandler callbacks with
// no sensible default (HandleFrame, HandleCast): a concrete Handler is
// expected to override them, and a session whose handler doesn't is
// terminated rather than silently dropping messages.
var ErrNotImplemented = fmt.Errorf("websocket: handler callback not implemented")

// ReplyKind tags the shape of a Reply returned from a Handler callback.
type ReplyKind int

const (
	// ReplyOK continues the session with the returned state, no wire effect.
	ReplyOK ReplyKind = iota
	// ReplyFrame continues the session and sends Frame on the wire first.
	ReplyFrame
	// ReplyClose initiates a local close with no status code.
	ReplyClose
	// ReplyCloseWithCode initiates a local close carrying CloseCode/CloseReason.
	ReplyCloseWithCode
	// ReplyReconnect is valid only from HandleDisconnect: reuse the
	// existing Conn and re-enter Connecting.
	ReplyReconnect
	// ReplyReconnectWithConn is valid only from HandleConnectFailure:
	// replace the Conn used for the next attempt and re-enter Connecting.
	ReplyReconnectWithConn
)

// Reply is the value every Handler callback that can affect wire or
// session state returns, alongside an error. State is always carried
// forward; the other fields are meaningful only for their matching Kind.
type Reply struct {
	Kind  ReplyKind
	State any

	Frame *Frame // ReplyFrame

	CloseCode   CloseCode // ReplyCloseWithCode
	CloseReason string    // ReplyCloseWithCode

	Conn *Conn // ReplyReconnectWithConn
}

// OK builds the {ok, state} reply.
func OK(state any) Reply { return Reply{Kind: ReplyOK, State: state} }

// WithFrame builds the {reply, frame, state} reply.
func WithFrame(state any, frame *Frame) Reply {
	return Reply{Kind: ReplyFrame, State: state, Frame: frame}
}

// Close builds the {close, state} reply (bare Close frame, no status code).
func Close(state any) Reply { return Reply{Kind: ReplyClose, State: state} }

// CloseWithCode builds the {close, {code, reason}, state} reply.
func CloseWithCode(state any, code CloseCode, reason string) Reply {
	return Reply{Kind: ReplyCloseWithCode, State: state, CloseCode: code, CloseReason: reason}
}

// Reconnect builds the {reconnect, state} reply, valid only as a
// HandleDisconnect return value.
func Reconnect(state any) Reply { return Reply{Kind: ReplyReconnect, State: state} }

// ReconnectWithConn builds the {reconnect, conn, state} reply, valid only
// as a HandleConnectFailure return value.
func ReconnectWithConn(state any, conn *Conn) Reply {
	return Reply{Kind: ReplyReconnectWithConn, State: state, Conn: conn}
}

// Handler is the polymorphic capability set a Session dispatches to. A
// concrete handler normally embeds DefaultHandler and overrides only the
// callbacks it cares about — Go has no mixins, so embedding plus method
// promotion plays that role.
type Handler interface {
	// Init runs once, before the first Connecting attempt, with conn being
	// the Conn about to be opened. Returning an error aborts the Session
	// before any connection is attempted.
	Init(state any, conn *Conn) (any, error)

	// HandleFrame dispatches one complete, reassembled Text/Binary message.
	HandleFrame(f *Frame, state any) (Reply, error)

	// HandleCast dispatches a fire-and-forget message from (*Session).Cast.
	HandleCast(msg any, state any) (Reply, error)

	// HandleInfo dispatches any other message posted to the mailbox that
	// isn't a cast, frame, ping, or pong.
	HandleInfo(msg any, state any) (Reply, error)

	// HandlePing dispatches an inbound Ping control frame's payload.
	HandlePing(payload []byte, state any) (Reply, error)

	// HandlePong dispatches an inbound Pong control frame's payload.
	HandlePong(payload []byte, state any) (Reply, error)

	// HandleDisconnect dispatches once the Closing state has finished
	// tearing the socket down. Reply must be ReplyOK or ReplyReconnect.
	HandleDisconnect(reason CloseReason, state any) (Reply, error)

	// HandleConnectFailure dispatches when Connecting fails to open the
	// transport or complete the handshake. Reply must be ReplyOK or
	// ReplyReconnectWithConn.
	HandleConnectFailure(failure ConnectFailure, state any) (Reply, error)

	// Terminate runs once, after the Session has reached Terminated, for
	// cleanup. reason is nil for a normal (code 1000 or no-error) exit.
	Terminate(reason error, state any)
}

// DefaultHandler implements a default for every Handler callback, as
// documented on each method below. Embed it in a concrete Handler and
// override only the callbacks that need different behavior.
type DefaultHandler struct{}

var _ Handler = DefaultHandler{}

// Init returns state unchanged.
func (DefaultHandler) Init(state any, _ *Conn) (any, error) { return state, nil }

// HandleFrame has no sensible default — a handler that receives frames
// without overriding this is a programming error, not a silent drop.
func (DefaultHandler) HandleFrame(_ *Frame, state any) (Reply, error) {
	return Reply{State: state}, ErrNotImplemented
}

// HandleCast has no sensible default, mirroring HandleFrame.
func (DefaultHandler) HandleCast(_ any, state any) (Reply, error) {
	return Reply{State: state}, ErrNotImplemented
}

// HandleInfo continues unchanged; the Session logs every info message at
// trace level before invoking HandleInfo.
func (DefaultHandler) HandleInfo(_ any, state any) (Reply, error) { return OK(state), nil }

// HandlePing replies with a Pong carrying the same payload.
func (DefaultHandler) HandlePing(payload []byte, state any) (Reply, error) {
	return WithFrame(state, PongFrame(payload)), nil
}

// HandlePong continues unchanged.
func (DefaultHandler) HandlePong(_ []byte, state any) (Reply, error) { return OK(state), nil }

// HandleDisconnect continues without reconnecting.
func (DefaultHandler) HandleDisconnect(_ CloseReason, state any) (Reply, error) {
	return OK(state), nil
}

// HandleConnectFailure terminates the Session rather than retrying.
func (DefaultHandler) HandleConnectFailure(_ ConnectFailure, state any) (Reply, error) {
	return OK(state), nil
}

// Terminate is a no-op.
func (DefaultHandler) Terminate(_ error, _ any) {}
