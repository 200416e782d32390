package mqtt

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"
)

const (
	defaultKeepAlive      = 60
	defaultConnectTimeout = 30 * time.Second
	defaultRetryInterval  = 20 * time.Second
	defaultMaxInflight    = 10

	defaultMaxReconnects    = 10
	defaultReconnectBackoff = 1 * time.Second
	defaultMaxBackoff       = 60 * time.Second

	// defaultWriteTimeout bounds a background drain of a partial write and
	// every WebSocket write.
	defaultWriteTimeout = 10 * time.Second

	// defaultWriteSlice is how long a write may block the dispatch side
	// before the remainder is drained in the background.
	defaultWriteSlice = 5 * time.Millisecond

	// MaxPacketSizeProtocol is the largest packet MQTT can encode.
	MaxPacketSizeProtocol = 268435455 + 5
)

// MessageHandler receives an application message. Returning false leaves
// the message queued and it is offered again on a later iteration.
type MessageHandler func(msg *Message) bool

// DeliveryCompleteHandler is called when the flow of an outbound QoS 1 or
// QoS 2 message has completed.
type DeliveryCompleteHandler func(packetID uint16)

// ConnectionLostHandler is called once when an established connection
// drops for a reason other than Disconnect.
type ConnectionLostHandler func(err error)

// ReconnectHandler is called after every automatic reconnect attempt with
// its 1-based number. err is nil when the attempt connected; after the
// last permitted attempt it wraps ErrReconnectFailed.
type ReconnectHandler func(attempt int, err error)

// BackoffStrategy computes the delay before the next reconnect attempt
// from the attempt number, the previous delay and the last error.
type BackoffStrategy func(attempt int, current time.Duration, err error) time.Duration

// clientOptions holds configuration for a Client.
type clientOptions struct {
	version    ProtocolVersion
	username   string
	password   []byte
	keepAlive  uint16
	cleanStart bool

	connectTimeout time.Duration
	writeTimeout   time.Duration
	retryInterval  time.Duration
	maxInflight    int
	// maxPacketSize bounds inbound packets and is advertised in MQTT 5.
	maxPacketSize uint32

	will *Will

	sessionExpiryInterval uint32
	receiveMaximum        uint16
	topicAliasMaximum     uint16
	userProperties        []StringPair
	authenticator         EnhancedAuthenticator

	proxyURL      string
	proxyUsername string
	proxyPassword string
	proxyFromEnv  bool
	wsHeader      http.Header

	store Store

	// servers are fallback URIs tried in turn by automatic reconnects.
	servers          []string
	autoReconnect    bool
	maxReconnects    int
	reconnectBackoff time.Duration
	maxBackoff       time.Duration
	backoffStrategy  BackoffStrategy

	publishRate  rate.Limit
	publishBurst int

	onMessage          MessageHandler
	onDeliveryComplete DeliveryCompleteHandler
	onConnectionLost   ConnectionLostHandler
	onReconnect        ReconnectHandler

	registry *Registry
	logger   Logger
	metrics  Metrics
}

func defaultOptions() *clientOptions {
	return &clientOptions{
		version:        ProtocolV311,
		keepAlive:      defaultKeepAlive,
		cleanStart:     true,
		connectTimeout: defaultConnectTimeout,
		writeTimeout:   defaultWriteTimeout,
		retryInterval:  defaultRetryInterval,
		maxInflight:    defaultMaxInflight,

		maxReconnects:    defaultMaxReconnects,
		reconnectBackoff: defaultReconnectBackoff,
		maxBackoff:       defaultMaxBackoff,
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithProtocolVersion selects MQTT 3.1, 3.1.1 or 5.0. Default: 3.1.1.
func WithProtocolVersion(v ProtocolVersion) Option {
	return func(o *clientOptions) {
		o.version = v
	}
}

// WithCredentials sets the username and password sent in CONNECT.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.username = username
		o.password = []byte(password)
	}
}

// WithKeepAlive sets the keepalive interval in seconds. 0 disables pings.
func WithKeepAlive(seconds uint16) Option {
	return func(o *clientOptions) {
		o.keepAlive = seconds
	}
}

// WithCleanStart sets CleanSession (3.x) or Clean Start (5.0).
// Default: true.
func WithCleanStart(clean bool) Option {
	return func(o *clientOptions) {
		o.cleanStart = clean
	}
}

// WithConnectTimeout bounds a whole connect attempt: TCP, proxy,
// WebSocket and the CONNACK wait.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.connectTimeout = d
		}
	}
}

// WithWriteTimeout bounds background writes.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.writeTimeout = d
		}
	}
}

// WithRetryInterval sets how long an unacknowledged message waits before it
// is resent. Values below 10s are raised to 10s; 0 disables timed retries
// and leaves only the resend after a reconnect.
func WithRetryInterval(d time.Duration) Option {
	return func(o *clientOptions) {
		o.retryInterval = d
	}
}

// WithMaxInflight bounds outbound QoS 1 and 2 messages awaiting acks.
// Publishing beyond it blocks until space frees. Default: 10.
func WithMaxInflight(n int) Option {
	return func(o *clientOptions) {
		if n > 0 {
			o.maxInflight = min(n, 65535)
		}
	}
}

// WithMaxPacketSize sets the largest packet the client accepts.
// Values above MaxPacketSizeProtocol are clamped.
func WithMaxPacketSize(size uint32) Option {
	return func(o *clientOptions) {
		o.maxPacketSize = min(size, MaxPacketSizeProtocol)
	}
}

// WithWill sets a plain Will message.
func WithWill(topic string, payload []byte, retain bool, qos byte) Option {
	return func(o *clientOptions) {
		o.will = &Will{Topic: topic, Payload: payload, Retain: retain, QoS: qos}
	}
}

// WithWillMessage sets a Will message including MQTT 5 properties.
func WithWillMessage(w *Will) Option {
	return func(o *clientOptions) {
		o.will = w
	}
}

// WithSessionExpiryInterval sets the session expiry interval in seconds (MQTT 5).
func WithSessionExpiryInterval(seconds uint32) Option {
	return func(o *clientOptions) {
		o.sessionExpiryInterval = seconds
	}
}

// WithReceiveMaximum sets how many QoS 1 and 2 messages the server may
// send before they are acknowledged (MQTT 5).
func WithReceiveMaximum(maxValue uint16) Option {
	return func(o *clientOptions) {
		o.receiveMaximum = maxValue
	}
}

// WithTopicAliasMaximum sets how many inbound topic aliases the client
// accepts (MQTT 5).
func WithTopicAliasMaximum(maxValue uint16) Option {
	return func(o *clientOptions) {
		o.topicAliasMaximum = maxValue
	}
}

// WithUserProperty adds a user property to CONNECT (MQTT 5).
func WithUserProperty(key, value string) Option {
	return func(o *clientOptions) {
		o.userProperties = append(o.userProperties, StringPair{Key: key, Value: value})
	}
}

// WithEnhancedAuthentication enables MQTT 5 enhanced authentication.
func WithEnhancedAuthentication(auth EnhancedAuthenticator) Option {
	return func(o *clientOptions) {
		o.authenticator = auth
	}
}

// WithProxy connects through an HTTP CONNECT (http://) or SOCKS5
// (socks5://) proxy.
func WithProxy(proxyURL, username, password string) Option {
	return func(o *clientOptions) {
		o.proxyURL = proxyURL
		o.proxyUsername = username
		o.proxyPassword = password
	}
}

// WithProxyFromEnvironment uses HTTP_PROXY and NO_PROXY when no proxy is
// set explicitly.
func WithProxyFromEnvironment() Option {
	return func(o *clientOptions) {
		o.proxyFromEnv = true
	}
}

// WithWebSocketHeader sets extra headers for the WebSocket handshake.
func WithWebSocketHeader(header http.Header) Option {
	return func(o *clientOptions) {
		o.wsHeader = header
	}
}

// WithStore persists in-flight messages. Useful with WithCleanStart(false).
func WithStore(store Store) Option {
	return func(o *clientOptions) {
		o.store = store
	}
}

// WithAutoReconnect reconnects automatically after a connection loss.
// In-flight messages are resent on the new connection and, when the
// server kept no session, subscriptions are restored. Requires a running
// dispatch loop.
func WithAutoReconnect(enabled bool) Option {
	return func(o *clientOptions) {
		o.autoReconnect = enabled
	}
}

// WithMaxReconnects caps consecutive reconnect attempts. 0 means no limit.
// Default: 10.
func WithMaxReconnects(n int) Option {
	return func(o *clientOptions) {
		o.maxReconnects = max(n, 0)
	}
}

// WithReconnectBackoff sets the delay before the first reconnect attempt.
// Default: 1s.
func WithReconnectBackoff(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.reconnectBackoff = d
		}
	}
}

// WithMaxBackoff bounds the delay between reconnect attempts. Default: 60s.
func WithMaxBackoff(d time.Duration) Option {
	return func(o *clientOptions) {
		if d > 0 {
			o.maxBackoff = d
		}
	}
}

// WithBackoffStrategy replaces the default doubling backoff.
func WithBackoffStrategy(strategy BackoffStrategy) Option {
	return func(o *clientOptions) {
		o.backoffStrategy = strategy
	}
}

// WithServers adds fallback server URIs. Reconnect attempts move through
// the primary URI and these in round-robin order.
func WithServers(uris ...string) Option {
	return func(o *clientOptions) {
		o.servers = append(o.servers, uris...)
	}
}

// WithPublishRateLimit limits publishes to perSecond with the given burst.
func WithPublishRateLimit(perSecond float64, burst int) Option {
	return func(o *clientOptions) {
		o.publishRate = rate.Limit(perSecond)
		o.publishBurst = max(burst, 1)
	}
}

// OnMessage sets the message handler. Without one, messages are pulled
// with Receive.
func OnMessage(handler MessageHandler) Option {
	return func(o *clientOptions) {
		o.onMessage = handler
	}
}

// OnDeliveryComplete sets the delivery-complete handler.
func OnDeliveryComplete(handler DeliveryCompleteHandler) Option {
	return func(o *clientOptions) {
		o.onDeliveryComplete = handler
	}
}

// OnConnectionLost sets the connection-lost handler.
func OnConnectionLost(handler ConnectionLostHandler) Option {
	return func(o *clientOptions) {
		o.onConnectionLost = handler
	}
}

// OnReconnect sets the handler told about automatic reconnect attempts.
func OnReconnect(handler ReconnectHandler) Option {
	return func(o *clientOptions) {
		o.onReconnect = handler
	}
}

// WithRegistry attaches the client to a shared registry. Without it the
// client gets a private registry running its own dispatch loop.
func WithRegistry(r *Registry) Option {
	return func(o *clientOptions) {
		o.registry = r
	}
}

// WithLogger sets the logger of the client's private registry.
func WithLogger(logger Logger) Option {
	return func(o *clientOptions) {
		o.logger = logger
	}
}

// WithMetrics sets the metrics backend of the client's private registry.
func WithMetrics(m Metrics) Option {
	return func(o *clientOptions) {
		o.metrics = m
	}
}

func applyOptions(opts ...Option) *clientOptions {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}
