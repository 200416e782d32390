package mqtt

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
	"sync"
	"time"
)

// endpoint is a parsed server URI.
type endpoint struct {
	scheme    string
	address   string
	websocket bool
	// url is the WebSocket URL for ws:// endpoints.
	url string
}

// parseServerURI accepts tcp://, mqtt:// and ws:// URIs. A bare host:port
// is treated as tcp. TLS schemes fail closed.
func parseServerURI(uri string) (endpoint, error) {
	if !strings.Contains(uri, "://") {
		uri = "tcp://" + uri
	}

	u, err := url.Parse(uri)
	if err != nil {
		return endpoint{}, fmt.Errorf("%w: %w", ErrInvalidURI, err)
	}
	if u.Hostname() == "" {
		return endpoint{}, fmt.Errorf("%w: missing host in %q", ErrInvalidURI, uri)
	}

	ep := endpoint{scheme: strings.ToLower(u.Scheme)}
	port := u.Port()

	switch ep.scheme {
	case "tcp", "mqtt":
		if port == "" {
			port = "1883"
		}
	case "ws":
		if port == "" {
			port = "80"
		}
		ep.websocket = true
		path := u.Path
		if path == "" {
			path = "/mqtt"
		}
		ep.url = (&url.URL{Scheme: "ws", Host: net.JoinHostPort(u.Hostname(), port), Path: path, RawQuery: u.RawQuery}).String()
	case "ssl", "tls", "mqtts", "wss":
		return endpoint{}, ErrTLSNotSupported
	default:
		return endpoint{}, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURI, u.Scheme)
	}

	ep.address = net.JoinHostPort(u.Hostname(), port)
	return ep, nil
}

// writeResult is the outcome of a transport write.
type writeResult int

const (
	writeComplete writeResult = iota
	// writePartial means the transport accepted the data but owes the rest.
	// A writable or writeError event follows.
	writePartial
	// writeBusy means an earlier partial write is still draining and
	// nothing was written.
	writeBusy
	writeFailed
	// writeRejected means the packet could not be encoded or exceeds the
	// negotiated size. Nothing was written and the transport is intact.
	writeRejected
)

var errTransportClosed = errors.New("transport closed")

// transport owns one established connection. Reads happen on a single
// reader goroutine that posts whole frames to the multiplexer. Writes are
// made by the dispatch side under the registry lock. A write that cannot
// finish within a short slice is handed to a drain goroutine, and the
// transport reports busy until the drain ends.
type transport struct {
	conn net.Conn
	// framed transports cannot resume a half-written message.
	framed bool
	mux    *mux

	writeSlice   time.Duration
	writeTimeout time.Duration

	mu      sync.Mutex
	pending bool
	closed  bool
	done    chan struct{}
}

func newTransport(conn net.Conn, framed bool, m *mux, writeTimeout time.Duration) *transport {
	if writeTimeout <= 0 {
		writeTimeout = defaultWriteTimeout
	}
	return &transport{
		conn:         conn,
		framed:       framed,
		mux:          m,
		writeSlice:   defaultWriteSlice,
		writeTimeout: writeTimeout,
		done:         make(chan struct{}),
	}
}

func (t *transport) busy() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.pending
}

// write sends bufs. If pub is non-nil the buffers are handed over with it:
// a partial write keeps them and holds a reference on pub until the drain
// finishes. Otherwise the unwritten remainder is copied.
func (t *transport) write(pub *Publication, bufs ...[]byte) (writeResult, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return writeFailed, errTransportClosed
	}
	if t.pending {
		t.mu.Unlock()
		return writeBusy, nil
	}
	t.mu.Unlock()

	if t.framed {
		return t.writeFramed(bufs)
	}

	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeSlice))
	rest := make(net.Buffers, len(bufs))
	copy(rest, bufs)
	_, err := rest.WriteTo(t.conn)
	if err == nil {
		return writeComplete, nil
	}
	if !isTimeout(err) {
		return writeFailed, err
	}

	if pub != nil {
		pub.Retain()
	} else {
		rest = net.Buffers{flatten(rest)}
	}

	t.mu.Lock()
	t.pending = true
	t.mu.Unlock()

	go t.drain(rest, pub)
	return writePartial, nil
}

func (t *transport) writeFramed(bufs [][]byte) (writeResult, error) {
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	if _, err := t.conn.Write(flatten(bufs)); err != nil {
		return writeFailed, err
	}
	return writeComplete, nil
}

func (t *transport) drain(rest net.Buffers, pub *Publication) {
	_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	_, err := rest.WriteTo(t.conn)
	if pub != nil {
		pub.Release()
	}

	t.mu.Lock()
	t.pending = false
	t.mu.Unlock()

	if err != nil {
		t.mux.post(event{kind: evWriteError, tr: t, err: err})
		return
	}
	t.mux.post(event{kind: evWritable, tr: t})
}

// readLoop posts every frame read from the connection until it fails.
func (t *transport) readLoop(maxSize uint32) {
	br := bufio.NewReader(t.conn)
	for {
		header, body, err := readFrame(br, maxSize)
		if err != nil {
			t.mux.post(event{kind: evReadError, tr: t, err: err})
			return
		}
		if !t.mux.post(event{kind: evFrame, tr: t, header: header, body: body}) {
			return
		}
	}
}

func (t *transport) close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	close(t.done)
	t.mu.Unlock()
	return t.conn.Close()
}

func (t *transport) remoteAddr() string {
	if addr := t.conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return ""
}

func isTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func flatten(bufs [][]byte) []byte {
	if len(bufs) == 1 {
		return append([]byte(nil), bufs[0]...)
	}
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	out := make([]byte, 0, n)
	for _, b := range bufs {
		out = append(out, b...)
	}
	return out
}

// dialTCP is the first connect stage. It dials the proxy when one is
// configured, the broker otherwise.
func dialTCP(ctx context.Context, network, address string, timeout time.Duration) (net.Conn, error) {
	d := net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}
	return d.DialContext(ctx, network, address)
}
