package mqtt

import (
	"container/list"
	"context"
	"net"
	"time"

	"golang.org/x/time/rate"
)

// inflight tracks one QoS 1 or QoS 2 publish in either direction.
type inflight struct {
	id      uint16
	qos     byte
	retain  bool
	version ProtocolVersion
	pub     *Publication
	// next is the packet that moves the flow forward. It only advances
	// along PUBACK, or PUBREC then PUBCOMP outbound, and PUBREL inbound.
	next    PacketType
	touched time.Time
	props   Properties

	// resentEpoch is the connection epoch in which the record was last
	// resent by the reconnect sweep.
	resentEpoch uint64

	// msg is the decoded inbound message held until PUBREL.
	msg *Message
}

func (m *inflight) release() {
	if m.pub != nil {
		m.pub.Release()
		m.pub = nil
	}
}

// inflightList keeps records in insertion order with lookup by packet id.
type inflightList struct {
	order *list.List
	byID  map[uint16]*list.Element
}

func newInflightList() *inflightList {
	return &inflightList{
		order: list.New(),
		byID:  make(map[uint16]*list.Element),
	}
}

func (l *inflightList) add(m *inflight) {
	if e, ok := l.byID[m.id]; ok {
		l.order.Remove(e)
	}
	l.byID[m.id] = l.order.PushBack(m)
}

func (l *inflightList) get(id uint16) *inflight {
	if e, ok := l.byID[id]; ok {
		return e.Value.(*inflight)
	}
	return nil
}

func (l *inflightList) remove(id uint16) *inflight {
	e, ok := l.byID[id]
	if !ok {
		return nil
	}
	delete(l.byID, id)
	return l.order.Remove(e).(*inflight)
}

func (l *inflightList) len() int {
	return len(l.byID)
}

// each visits records oldest first until fn returns false.
func (l *inflightList) each(fn func(*inflight) bool) {
	for e := l.order.Front(); e != nil; {
		next := e.Next()
		if !fn(e.Value.(*inflight)) {
			return
		}
		e = next
	}
}

// drain removes every record, passing each to fn.
func (l *inflightList) drain(fn func(*inflight)) {
	for e := l.order.Front(); e != nil; e = l.order.Front() {
		m := l.order.Remove(e).(*inflight)
		delete(l.byID, m.id)
		if fn != nil {
			fn(m)
		}
	}
}

// pendingOp is an outstanding SUBSCRIBE or UNSUBSCRIBE.
type pendingOp struct {
	kind  PacketType
	codes []ReasonCode
	props Properties
	err   error
	done  bool
	// restore holds the filters of a SUBSCRIBE sent by a reconnect.
	restore []Subscription
}

// server is one URI a session may connect to.
type server struct {
	uri string
	ep  endpoint
}

// Session is the state of one logical client connection. Every field is
// guarded by the owning Registry's lock.
type Session struct {
	clientID  string
	serverURI string
	endpoint  endpoint
	version   ProtocolVersion
	opts      *clientOptions

	state        ConnectState
	attempt      uint64
	attemptCtx   context.Context
	attemptStart time.Time
	cancel       context.CancelFunc
	// stageConn is the connection being set up before MQTT starts on it.
	stageConn net.Conn
	proxy     *proxyConfig
	connected bool
	good      bool
	closed    bool
	// epoch counts successful connects.
	epoch          uint64
	sessionPresent bool
	connErr        error
	connack        *ConnackPacket

	keepAlive     time.Duration
	retryInterval time.Duration
	maxInflight   int
	// maxPacketSize is the server's limit from CONNACK, 0 if none.
	maxPacketSize uint32

	tr        *transport
	lastMsgID uint16

	outbound *inflightList
	inbound  *inflightList
	// ackQueue holds control packets deferred while the transport had a
	// pending partial write.
	ackQueue []Packet
	// flushPending asks the loop for one more deferred-packet write.
	flushPending bool
	// delivery holds received messages not yet accepted by the application.
	delivery   []*Message
	delivering bool

	lastSent        time.Time
	lastReceived    time.Time
	pingOutstanding bool
	pingSent        time.Time
	pingDue         bool
	pingDueSince    time.Time

	pending map[uint16]*pendingOp
	// failures holds publish errors reported by the server until
	// WaitForCompletion collects them.
	failures      map[uint16]error
	resumePending bool
	restored      bool

	// servers lists the primary URI first, then the fallbacks.
	servers     []server
	serverIndex int

	reconnecting     bool
	reconnectAttempt int
	reconnectDelay   time.Duration
	reconnectTimer   *time.Timer
	// reconnectSeq tags timer events so a stopped timer's event is ignored.
	reconnectSeq uint64
	// subscriptions are the granted filters, restored after a reconnect
	// when the server kept no session.
	subscriptions map[string]Subscription

	aliases *topicAliases
	auth    *authExchange
	store   Store
	limiter *rate.Limiter

	// changed is closed and replaced whenever observable state changes.
	changed chan struct{}

	onMessage          MessageHandler
	onDeliveryComplete DeliveryCompleteHandler
	onConnectionLost   ConnectionLostHandler
	onReconnect        ReconnectHandler
}

func newSession(clientID, serverURI string, ep endpoint, opts *clientOptions) *Session {
	s := &Session{
		clientID:      clientID,
		serverURI:     serverURI,
		endpoint:      ep,
		version:       opts.version,
		opts:          opts,
		keepAlive:     time.Duration(opts.keepAlive) * time.Second,
		retryInterval: opts.retryInterval,
		maxInflight:   opts.maxInflight,
		outbound:      newInflightList(),
		inbound:       newInflightList(),
		pending:       make(map[uint16]*pendingOp),
		failures:      make(map[uint16]error),
		servers:       []server{{uri: serverURI, ep: ep}},
		subscriptions: make(map[string]Subscription),
		aliases:       newTopicAliases(opts.topicAliasMaximum),
		store:         opts.store,
		changed:       make(chan struct{}),

		onMessage:          opts.onMessage,
		onDeliveryComplete: opts.onDeliveryComplete,
		onConnectionLost:   opts.onConnectionLost,
		onReconnect:        opts.onReconnect,
	}
	if opts.publishRate > 0 {
		s.limiter = rate.NewLimiter(opts.publishRate, opts.publishBurst)
	}
	return s
}

// ClientID returns the client identifier. After a connect with an empty
// identifier it is the one assigned by the server.
func (s *Session) ClientID() string { return s.clientID }

// signal wakes every goroutine waiting for a state change.
func (s *Session) signal() {
	close(s.changed)
	s.changed = make(chan struct{})
}

func (s *Session) setState(next ConnectState) error {
	if s.state == next {
		return nil
	}
	if !s.state.CanTransition(next) {
		return ErrInvalidTransition
	}
	s.state = next
	s.signal()
	return nil
}

// settle ends the running handshake or disconnect. Every state may fall
// back to StateNotInProgress; anything else is a bug and is logged.
func (r *Registry) settle(s *Session) {
	if err := s.setState(StateNotInProgress); err != nil {
		r.logger.Error("cannot leave connect state", s.logFields().
			With(LogFieldState, s.state.String()).
			With(LogFieldError, err.Error()))
	}
}

// idInUse reports whether id is held by an in-flight record in either
// direction or by an outstanding SUBSCRIBE or UNSUBSCRIBE.
func (s *Session) idInUse(id uint16) bool {
	if s.outbound.get(id) != nil || s.inbound.get(id) != nil {
		return true
	}
	_, ok := s.pending[id]
	return ok
}

// nextMsgID allocates a packet id after the last one handed out, wrapping
// from 65535 to 1 and probing past ids still in use.
func (s *Session) nextMsgID() (uint16, error) {
	id := s.lastMsgID
	for range 65535 {
		id++
		if id == 0 {
			id = 1
		}
		if !s.idInUse(id) {
			s.lastMsgID = id
			delete(s.failures, id)
			return id, nil
		}
	}
	return 0, ErrNoMoreMsgIDs
}

// busy reports whether the transport still owes bytes from a partial write.
func (s *Session) busy() bool {
	return s.tr != nil && s.tr.busy()
}

// inflightLimit is the effective max-inflight: the configured bound,
// capped by the server's Receive Maximum.
func (s *Session) inflightLimit() int {
	limit := s.maxInflight
	if s.connack != nil && s.version == ProtocolV50 {
		if rm := s.connack.Props.GetUint16(PropReceiveMaximum); rm > 0 && int(rm) < limit {
			limit = int(rm)
		}
	}
	return limit
}

func (s *Session) logFields() LogFields {
	return LogFields{
		LogFieldClientID: s.clientID,
		LogFieldServer:   s.serverURI,
	}
}
