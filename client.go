package mqtt

import (
	"errors"
	"sync"
	"time"
)

var ErrClientIDRequired = errors.New("MQTT 3.1 requires a client identifier")

// Client is a synchronous MQTT client. Every blocking call takes a
// timeout. Clients created with WithRegistry share that registry's
// dispatch loop; if the registry is not started, blocking calls drive the
// loop themselves.
type Client struct {
	reg     *Registry
	s       *Session
	ownsReg bool

	closeOnce sync.Once
}

// NewClient creates a client for serverURI (tcp://, mqtt://, ws:// or a
// bare host:port). An empty clientID asks an MQTT 3.1.1 or 5.0 server to
// assign one.
func NewClient(serverURI, clientID string, opts ...Option) (*Client, error) {
	o := applyOptions(opts...)
	if !o.version.Valid() {
		return nil, ErrInvalidProtocolVersion
	}
	if o.version == ProtocolV31 {
		if clientID == "" {
			return nil, ErrClientIDRequired
		}
		if len(clientID) > 23 {
			return nil, ErrClientIDTooLong
		}
	}
	if o.will != nil {
		if err := o.will.validate(); err != nil {
			return nil, err
		}
	}

	ep, err := parseServerURI(serverURI)
	if err != nil {
		return nil, err
	}
	servers := []server{{uri: serverURI, ep: ep}}
	for _, uri := range o.servers {
		fallback, err := parseServerURI(uri)
		if err != nil {
			return nil, err
		}
		servers = append(servers, server{uri: uri, ep: fallback})
	}

	if o.store != nil {
		if err := o.store.Open(clientID, serverURI); err != nil {
			return nil, err
		}
	}

	c := &Client{reg: o.registry}
	if c.reg == nil {
		c.reg = NewRegistry(WithRegistryLogger(o.logger), WithRegistryMetrics(o.metrics))
		c.reg.Start()
		c.ownsReg = true
	}

	c.s = newSession(clientID, serverURI, ep, o)
	c.s.servers = servers
	c.reg.add(c.s)
	return c, nil
}

// Registry returns the registry serving the client.
func (c *Client) Registry() *Registry { return c.reg }

// Connect runs the connect handshake and waits up to timeout for CONNACK.
// A refused connection returns a ConnectError. With CleanStart false,
// in-flight messages of the previous connection are resent.
func (c *Client) Connect(timeout time.Duration) error {
	c.reg.mu.Lock()
	attempt, err := c.reg.connect(c.s)
	c.reg.mu.Unlock()
	if err != nil {
		return err
	}
	return c.reg.awaitConnect(c.s, attempt, timeout)
}

// Publish sends msg and returns its packet id (0 for QoS 0). It blocks
// while the in-flight window is full, for at most timeout. Completion of
// a QoS 1 or 2 flow is reported by WaitForCompletion and the
// delivery-complete handler.
func (c *Client) Publish(msg *Message, timeout time.Duration) (uint16, error) {
	if msg == nil {
		return 0, ErrInvalidTopicName
	}
	return c.reg.publish(c.s, msg, timeout)
}

// WaitForCompletion waits until the flow for packet id has completed. It
// returns a PublishError when the server refused the message.
func (c *Client) WaitForCompletion(id uint16, timeout time.Duration) error {
	return c.reg.waitForCompletion(c.s, id, timeout)
}

// Subscribe subscribes to the given filters and returns one reason code
// (granted QoS on success) per filter. props is only sent with MQTT 5.
func (c *Client) Subscribe(subs []Subscription, props *Properties, timeout time.Duration) ([]ReasonCode, error) {
	codes, _, err := c.reg.subscribe(c.s, subs, props, timeout)
	return codes, err
}

// Unsubscribe removes subscriptions. MQTT 3.x returns no reason codes.
func (c *Client) Unsubscribe(filters []string, props *Properties, timeout time.Duration) ([]ReasonCode, error) {
	codes, _, err := c.reg.unsubscribe(c.s, filters, props, timeout)
	return codes, err
}

// Receive returns the oldest received message when no message handler is
// set. It returns ErrTimeout when nothing arrived in time.
func (c *Client) Receive(timeout time.Duration) (*Message, error) {
	var msg *Message
	err := c.reg.waitFor(c.s, timeout, func() (bool, error) {
		if c.s.onMessage == nil && len(c.s.delivery) > 0 {
			msg = c.s.delivery[0]
			c.s.delivery[0] = nil
			c.s.delivery = c.s.delivery[1:]
			c.reg.metrics.delivered()
			return true, nil
		}
		if c.s.closed {
			return true, ErrClientClosed
		}
		return false, nil
	})
	return msg, err
}

// Disconnect waits up to timeout for in-flight flows to finish, then
// sends DISCONNECT and closes the connection. The connection-lost handler
// is not called.
func (c *Client) Disconnect(timeout time.Duration) error {
	return c.reg.disconnect(c.s, timeout)
}

// Close disconnects without draining and releases the session. Messages
// still in flight are lost unless a Store keeps them. It may be called from
// a handler.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		if c.IsConnected() {
			_ = c.Disconnect(0)
		}
		c.reg.mu.Lock()
		c.reg.destroy(c.s)
		c.reg.unlockAndNotify()

		if c.ownsReg {
			c.reg.Shutdown()
		}
	})
	return nil
}

func (c *Client) IsConnected() bool {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.s.connected
}

// ClientID returns the client identifier, including one assigned by the
// server.
func (c *Client) ClientID() string {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.s.clientID
}

// SessionPresent reports the flag of the last successful CONNACK.
func (c *Client) SessionPresent() bool {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.s.sessionPresent
}

// State returns the handshake state.
func (c *Client) State() ConnectState {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()
	return c.s.state
}

// PendingIDs returns the packet ids of outbound messages awaiting acks,
// oldest first.
func (c *Client) PendingIDs() []uint16 {
	c.reg.mu.Lock()
	defer c.reg.mu.Unlock()

	ids := make([]uint16, 0, c.s.outbound.len())
	c.s.outbound.each(func(m *inflight) bool {
		ids = append(ids, m.id)
		return true
	})
	return ids
}
