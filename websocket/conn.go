package websocket

import (
	"bufio"
	"context"
	"crypto/tls"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"
)

// Transport abstracts TCP/TLS socket establishment. The default
// implementation dials with net.Dialer and, for wss targets, wraps the
// connection in crypto/tls. Tests and embedders may supply their own
// Transport to substitute an in-memory pipe or a proxying dialer.
type Transport interface {
	Dial(ctx context.Context, network, addr string, tlsConfig *tls.Config) (net.Conn, error)
}

// defaultTransport dials plain TCP or TLS-over-TCP depending on whether
// tlsConfig is non-nil.
type defaultTransport struct{}

func (defaultTransport) Dial(ctx context.Context, network, addr string, tlsConfig *tls.Config) (net.Conn, error) {
	dialer := &net.Dialer{}
	if tlsConfig != nil {
		return (&tls.Dialer{NetDialer: dialer, Config: tlsConfig}).DialContext(ctx, network, addr)
	}
	return dialer.DialContext(ctx, network, addr)
}

// Conn is the thin facade over a Transport: it holds everything about one
// connection attempt (target, negotiated headers, timeouts, TLS trust
// store) and offers open/send/recv/set-active/close. It is owned
// exclusively by one Session — nothing else reads or writes the socket
// handle.
type Conn struct {
	URL            *url.URL
	TLS            bool
	TLSConfig      *tls.Config // CA trust store and related TLS options
	Header         http.Header // extra request headers
	Subprotocols   []string
	ConnectTimeout time.Duration
	RecvTimeout    time.Duration
	SendTimeout    time.Duration

	// NegotiatedSubprotocol is set after a successful Handshake to the
	// single value (if any) the server echoed back.
	NegotiatedSubprotocol string

	transport Transport

	mu      sync.Mutex
	socket  net.Conn // nullable; nil before Open and after teardown
	pending []byte   // bytes buffered by the handshake reader beyond the response headers
	active  bool

	inbound    chan []byte
	closed     chan struct{}
	closeSig   *sync.Once
	teardownMu sync.Once
}

// NewConn builds a Conn for target, ready to Open. tlsEnabled and the
// default TLSConfig come from parseTarget/Options; callers may still
// override TLSConfig before calling Open.
func NewConn(target *url.URL, tlsEnabled bool) *Conn {
	c := &Conn{
		URL:       target,
		TLS:       tlsEnabled,
		Header:    make(http.Header),
		transport: defaultTransport{},
		closed:    make(chan struct{}),
		closeSig:  new(sync.Once),
	}
	if tlsEnabled {
		c.TLSConfig = &tls.Config{ServerName: target.Hostname(), MinVersion: tls.VersionTLS12}
	}
	return c
}

// WithTransport overrides the Transport used by Open. Primarily for tests.
func (c *Conn) WithTransport(t Transport) *Conn {
	c.transport = t
	return c
}

// Open dials the target, applying ConnectTimeout if set. It does not
// perform the WebSocket handshake — see Handshake.
//
// Open may be called more than once on the same Conn: a Session that
// reconnects (HandleDisconnect/HandleConnectFailure replying Reconnect)
// reuses its existing *Conn rather than allocating a new one. Each
// successful dial therefore gets a fresh SocketClosed channel and fresh
// once-guards, so the previous connection's teardown signal can never be
// mistaken for the new one's.
func (c *Conn) Open(ctx context.Context) error {
	dialCtx := ctx
	if c.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.ConnectTimeout)
		defer cancel()
	}

	var tlsConfig *tls.Config
	if c.TLS {
		tlsConfig = c.TLSConfig
	}

	sock, err := c.transport.Dial(dialCtx, "tcp", c.URL.Host, tlsConfig)
	if err != nil {
		return &ConnError{Original: err}
	}

	c.mu.Lock()
	c.socket = sock
	c.closed = make(chan struct{})
	c.closeSig = new(sync.Once)
	c.teardownMu = sync.Once{}
	c.mu.Unlock()
	return nil
}

// Handshake sends the client Upgrade request over the already-open socket
// and verifies the server's response. It returns the negotiated
// subprotocol, if any.
func (c *Conn) Handshake(ctx context.Context, key string) (subprotocol string, err error) {
	c.mu.Lock()
	sock := c.socket
	c.mu.Unlock()
	if sock == nil {
		return "", ErrClosed
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = sock.SetDeadline(deadline)
	}
	defer func() { _ = sock.SetDeadline(time.Time{}) }()

	req, err := buildRequest(c.URL, key, c.Header, c.Subprotocols)
	if err != nil {
		return "", err
	}
	if err := req.Write(sock); err != nil {
		return "", &ConnError{Original: err}
	}

	br := bufio.NewReader(sock)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return "", &ConnError{Original: err}
	}
	defer func() { _ = resp.Body.Close() }()

	// http.ReadResponse's bufio.Reader may have read ahead past the header
	// block into bytes belonging to the server's first WebSocket frame(s);
	// stash them so the read loop emits them before anything off the wire.
	if n := br.Buffered(); n > 0 {
		extra := make([]byte, n)
		if _, err := io.ReadFull(br, extra); err != nil {
			return "", &ConnError{Original: err}
		}
		c.mu.Lock()
		c.pending = extra
		c.mu.Unlock()
	}

	subprotocol, err := verifyHandshake(resp, key)
	if err != nil {
		return "", err
	}
	c.NegotiatedSubprotocol = subprotocol
	return subprotocol, nil
}

// SetActive starts (active=true) or stops (active=false) delivery of
// inbound bytes to Inbound(). This mirrors the Erlang {active, true}
// socket mode: once active the Session receives every subsequent byte
// until it goes inactive again (used during the Closing state's
// discard-and-wait loop). The underlying read goroutine runs for the
// lifetime of the socket either way; SetActive(false) only toggles
// whether bytes are forwarded or silently dropped, since a real net.Conn
// cannot be "paused" cheaply.
func (c *Conn) SetActive(active bool) {
	c.mu.Lock()
	wasActive := c.active
	c.active = active
	sock := c.socket
	pending := c.pending
	c.pending = nil
	closed := c.closed
	closeSig := c.closeSig
	if active {
		c.inbound = make(chan []byte, 16)
	}
	c.mu.Unlock()

	if active && !wasActive && sock != nil {
		if len(pending) > 0 {
			c.deliver(pending)
		}
		// closed/closeSig are captured here, not re-read from c inside the
		// goroutine: a reconnect's Open call replaces both fields, and this
		// readLoop must keep signaling the attempt it was started for, never
		// whatever attempt happens to be current by the time it hits EOF.
		go c.readLoop(sock, closed, closeSig)
	}
}

func (c *Conn) readLoop(sock net.Conn, closed chan struct{}, closeSig *sync.Once) {
	buf := make([]byte, 4096)
	for {
		if c.RecvTimeout > 0 {
			_ = sock.SetReadDeadline(time.Now().Add(c.RecvTimeout))
		}
		n, err := sock.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			c.deliver(chunk)
		}
		if err != nil {
			closeSig.Do(func() { close(closed) })
			return
		}
	}
}

// deliver forwards a chunk to the active inbound channel, or drops it when
// the Session has gone inactive (Closing's discard phase) or has already
// torn the connection down.
func (c *Conn) deliver(chunk []byte) {
	c.mu.Lock()
	active := c.active
	ch := c.inbound
	closed := c.closed
	c.mu.Unlock()
	if !active || ch == nil {
		return
	}
	select {
	case ch <- chunk:
	case <-closed:
	}
}

// Inbound returns the channel the Dispatcher selects on for socket bytes.
func (c *Conn) Inbound() <-chan []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.inbound
}

// SocketClosed is closed once the socket has hit EOF/error or Close has
// been called. The Dispatcher selects on it for the tcp_closed event. A
// reconnect replaces this channel (see Open), so callers must re-fetch it
// after every successful Open rather than caching the returned channel.
func (c *Conn) SocketClosed() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// Send writes bytes to the socket, applying SendTimeout if set. A write
// after the socket has already closed is reported as ErrClosed, which the
// Session treats as a remote close rather than a hard error.
func (c *Conn) Send(data []byte) error {
	c.mu.Lock()
	sock := c.socket
	closed := c.closed
	c.mu.Unlock()
	if sock == nil {
		return ErrClosed
	}

	if c.SendTimeout > 0 {
		_ = sock.SetWriteDeadline(time.Now().Add(c.SendTimeout))
	}
	if _, err := sock.Write(data); err != nil {
		select {
		case <-closed:
			return ErrClosed
		default:
			return &ConnError{Original: err}
		}
	}
	return nil
}

// Close tears down the socket. Idempotent per connection attempt: Open
// rearms the once-guards, so a Conn reused across a reconnect can be
// closed again for its new socket.
func (c *Conn) Close() error {
	var err error
	c.teardownMu.Do(func() {
		c.mu.Lock()
		sock := c.socket
		c.socket = nil
		closeSig := c.closeSig
		closed := c.closed
		c.mu.Unlock()

		closeSig.Do(func() { close(closed) })

		if sock != nil {
			err = sock.Close()
		}
	})
	return err
}
