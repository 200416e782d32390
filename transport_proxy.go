package mqtt

import (
	"bufio"
	"context"
	"encoding/base64"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"time"

	"golang.org/x/net/http/httpproxy"
	"golang.org/x/net/proxy"
)

// proxyConfig is an HTTP CONNECT or SOCKS5 proxy the TCP stage dials
// instead of the broker.
type proxyConfig struct {
	url      *url.URL
	username string
	password string
}

// parseProxyURL accepts http://, https:// (CONNECT to a plain proxy
// listener) and socks5:// URLs. Credentials in the URL are used unless
// username is given.
func parseProxyURL(raw, username, password string) (*proxyConfig, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL: %w", err)
	}
	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("unsupported proxy scheme: %q", u.Scheme)
	}
	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid proxy URL: missing host")
	}

	if username == "" && u.User != nil {
		username = u.User.Username()
		password, _ = u.User.Password()
	}
	return &proxyConfig{url: u, username: username, password: password}, nil
}

// address is the proxy's host:port with scheme default ports.
func (p *proxyConfig) address() string {
	if p.url.Port() != "" {
		return p.url.Host
	}
	port := "8080"
	switch p.url.Scheme {
	case "https":
		port = "443"
	case "socks5", "socks5h":
		port = "1080"
	}
	return net.JoinHostPort(p.url.Hostname(), port)
}

// tunnel asks the proxy on conn to connect to target.
func (p *proxyConfig) tunnel(ctx context.Context, conn net.Conn, target string) (net.Conn, error) {
	switch p.url.Scheme {
	case "socks5", "socks5h":
		return p.socks5(ctx, conn, target)
	default:
		return p.httpConnect(ctx, conn, target)
	}
}

func (p *proxyConfig) httpConnect(ctx context.Context, conn net.Conn, target string) (net.Conn, error) {
	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	req := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: target},
		Host:   target,
		Header: make(http.Header),
	}
	if p.username != "" {
		auth := base64.StdEncoding.EncodeToString([]byte(p.username + ":" + p.password))
		req.Header.Set("Proxy-Authorization", "Basic "+auth)
	}

	if err := req.Write(conn); err != nil {
		return nil, fmt.Errorf("send CONNECT request: %w", err)
	}

	br := bufio.NewReader(conn)
	resp, err := http.ReadResponse(br, req)
	if err != nil {
		return nil, fmt.Errorf("read CONNECT response: %w", err)
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("proxy CONNECT failed: %s", resp.Status)
	}

	if br.Buffered() > 0 {
		return &bufferedConn{Conn: conn, r: br}, nil
	}
	return conn, nil
}

func (p *proxyConfig) socks5(ctx context.Context, conn net.Conn, target string) (net.Conn, error) {
	var auth *proxy.Auth
	if p.username != "" {
		auth = &proxy.Auth{User: p.username, Password: p.password}
	}

	dialer, err := proxy.SOCKS5("tcp", p.address(), auth, connDialer{conn: conn})
	if err != nil {
		return nil, fmt.Errorf("create SOCKS5 dialer: %w", err)
	}

	cd, ok := dialer.(proxy.ContextDialer)
	if !ok {
		return nil, fmt.Errorf("SOCKS5 dialer does not support contexts")
	}
	tunneled, err := cd.DialContext(ctx, "tcp", target)
	if err != nil {
		return nil, fmt.Errorf("SOCKS5 connect failed: %w", err)
	}
	return tunneled, nil
}

// connDialer hands out the connection already dialed by the TCP stage.
type connDialer struct {
	conn net.Conn
}

func (d connDialer) Dial(_, _ string) (net.Conn, error) {
	return d.conn, nil
}

func (d connDialer) DialContext(_ context.Context, _, _ string) (net.Conn, error) {
	return d.conn, nil
}

// bufferedConn returns bytes read ahead by the CONNECT response parser
// before reading from the connection again.
type bufferedConn struct {
	net.Conn
	r *bufio.Reader
}

func (c *bufferedConn) Read(b []byte) (int, error) {
	return c.r.Read(b)
}

// ProxyFromEnvironment returns the proxy for serverURI from HTTP_PROXY,
// HTTPS_PROXY and NO_PROXY, or nil when none applies. ws and tcp
// endpoints use HTTP_PROXY.
func ProxyFromEnvironment(serverURI string) (*url.URL, error) {
	ep, err := parseServerURI(serverURI)
	if err != nil {
		return nil, err
	}
	return httpproxy.FromEnvironment().ProxyFunc()(&url.URL{Scheme: "http", Host: ep.address})
}
