package mqtt

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"
)

// connect starts a connect attempt and returns its number. The stages run
// in goroutines that post their results to the dispatch loop; the caller
// waits with awaitConnect. Caller holds r.mu.
func (r *Registry) connect(s *Session) (uint64, error) {
	switch {
	case s.closed:
		return 0, ErrClientClosed
	case s.connected:
		return 0, ErrAlreadyConnected
	case s.state != StateNotInProgress:
		return 0, ErrConnectInProgress
	}

	prx, err := resolveProxy(s)
	if err != nil {
		return 0, err
	}

	// Automatic reconnects keep in-flight messages and resend them even
	// when the server starts a clean session.
	if s.opts.cleanStart && !s.reconnecting {
		r.discardSession(s)
	} else if s.store != nil && !s.restored {
		if err := r.restore(s); err != nil {
			return 0, err
		}
		s.restored = true
	}

	if err := s.setState(StateTCPInProgress); err != nil {
		return 0, err
	}

	s.attempt++
	s.connErr = nil
	s.connack = nil
	s.proxy = prx
	s.attemptStart = r.now()

	ctx, cancel := context.WithTimeout(context.Background(), s.opts.connectTimeout)
	s.attemptCtx, s.cancel = ctx, cancel

	attempt := s.attempt
	context.AfterFunc(ctx, func() {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			r.mux.post(event{kind: evStage, sess: s, attempt: attempt, err: ErrTimeout})
		}
	})

	address := s.endpoint.address
	if prx != nil {
		address = prx.address()
	}

	r.logger.Info("connecting", s.logFields().
		With(LogFieldRemoteAddr, address).
		With("attempt", attempt))

	go r.runStage(ctx, s, attempt, StateTCPInProgress, func(ctx context.Context) (net.Conn, error) {
		return dialTCP(ctx, "tcp", address, 0)
	})
	return attempt, nil
}

func resolveProxy(s *Session) (*proxyConfig, error) {
	o := s.opts
	if o.proxyURL != "" {
		return parseProxyURL(o.proxyURL, o.proxyUsername, o.proxyPassword)
	}
	if !o.proxyFromEnv {
		return nil, nil
	}
	u, err := ProxyFromEnvironment(s.serverURI)
	if err != nil || u == nil {
		return nil, err
	}
	return parseProxyURL(u.String(), "", "")
}

// discardSession drops the state of a previous session before a clean
// start.
func (r *Registry) discardSession(s *Session) {
	clear(s.failures)
	clear(s.subscriptions)
	r.dropOutbound(s, ErrMessageDiscarded)
	s.inbound.drain(func(m *inflight) { m.release() })

	if s.store != nil {
		if err := s.store.Clear(); err != nil {
			r.logger.Warn("clearing store failed", s.logFields().With(LogFieldError, err.Error()))
		}
	}
	s.restored = true
}

// runStage runs one blocking handshake stage and posts its result.
func (r *Registry) runStage(ctx context.Context, s *Session, attempt uint64, stage ConnectState, fn func(context.Context) (net.Conn, error)) {
	conn, err := fn(ctx)
	posted := r.mux.post(event{kind: evStage, sess: s, attempt: attempt, stage: stage, conn: conn, err: err})
	if !posted && conn != nil {
		_ = conn.Close()
	}
}

// handleStage advances the handshake after a stage finished. Results of an
// abandoned attempt are discarded. A stage of StateNotInProgress carries
// the attempt timeout.
func (r *Registry) handleStage(ev event) {
	s := ev.sess
	_, live := r.sessions[s]
	stale := !live || ev.attempt != s.attempt || !s.state.InProgress() ||
		(ev.stage != StateNotInProgress && ev.stage != s.state)
	if stale {
		if ev.conn != nil {
			_ = ev.conn.Close()
		}
		return
	}

	if ev.err != nil {
		if errors.Is(ev.err, ErrTimeout) {
			r.failAttempt(s, fmt.Errorf("%w: connect stage %s", ErrTimeout, s.state))
			return
		}
		r.failAttempt(s, fmt.Errorf("%s: %w", s.state, ev.err))
		return
	}

	s.stageConn = ev.conn
	next := afterStage(s.state, s.proxy != nil, s.endpoint.websocket)
	if err := s.setState(next); err != nil {
		r.failAttempt(s, err)
		return
	}

	r.logger.Debug("connect stage complete", s.logFields().With(LogFieldState, next.String()))

	ctx, conn, attempt := s.attemptCtx, ev.conn, s.attempt
	switch next {
	case StateProxyConnectInProgress:
		prx, target := s.proxy, s.endpoint.address
		go r.runStage(ctx, s, attempt, next, func(ctx context.Context) (net.Conn, error) {
			return prx.tunnel(ctx, conn, target)
		})
	case StateWebSocketInProgress:
		wsURL, header := s.endpoint.url, s.opts.wsHeader
		go r.runStage(ctx, s, attempt, next, func(ctx context.Context) (net.Conn, error) {
			return upgradeWebSocket(ctx, conn, wsURL, header)
		})
	case StateWaitForConnack:
		r.startMQTT(s, conn)
	}
}

// startMQTT puts the transport on conn, starts its reader and sends CONNECT.
func (r *Registry) startMQTT(s *Session, conn net.Conn) {
	tr := newTransport(conn, s.endpoint.websocket, r.mux, s.opts.writeTimeout)
	s.stageConn = nil
	r.attach(s, tr)
	go tr.readLoop(s.opts.maxPacketSize)

	pkt, err := r.buildConnect(s)
	if err != nil {
		r.failAttempt(s, err)
		return
	}

	s.lastReceived = r.now()
	res, err := r.sendPacket(s, pkt)
	if res == writeFailed || res == writeRejected {
		r.failAttempt(s, err)
	}
}

func (r *Registry) buildConnect(s *Session) (*ConnectPacket, error) {
	o := s.opts
	pkt := &ConnectPacket{
		Version:    s.version,
		ClientID:   s.clientID,
		CleanStart: o.cleanStart,
		KeepAlive:  o.keepAlive,
		Username:   o.username,
		Password:   o.password,
	}

	if o.will != nil {
		o.will.apply(pkt, s.version)
	}

	if s.version != ProtocolV50 {
		return pkt, nil
	}

	if o.sessionExpiryInterval > 0 {
		pkt.Props.Set(PropSessionExpiryInterval, o.sessionExpiryInterval)
	}
	if o.receiveMaximum > 0 {
		pkt.Props.Set(PropReceiveMaximum, o.receiveMaximum)
	}
	if o.maxPacketSize > 0 {
		pkt.Props.Set(PropMaximumPacketSize, o.maxPacketSize)
	}
	if o.topicAliasMaximum > 0 {
		pkt.Props.Set(PropTopicAliasMaximum, o.topicAliasMaximum)
	}
	for _, up := range o.userProperties {
		pkt.Props.Add(PropUserProperty, up)
	}

	if o.authenticator != nil {
		ex, data, err := r.startAuth(s, s.attemptCtx)
		if err != nil {
			return nil, err
		}
		s.auth = ex
		pkt.Props.Set(PropAuthenticationMethod, ex.method)
		if len(data) > 0 {
			pkt.Props.Set(PropAuthenticationData, data)
		}
	}
	return pkt, nil
}

func (r *Registry) handleConnack(s *Session, p *ConnackPacket) {
	if p.ReasonCode != ReasonSuccess {
		props := p.Props.Clone()
		r.failAttempt(s, NewConnectError(p.ReasonCode, &props))
		return
	}

	if s.version == ProtocolV50 {
		if err := r.finishAuth(s, p.Props.GetBinary(PropAuthenticationData)); err != nil {
			r.sendPacket(s, &DisconnectPacket{ReasonCode: ReasonNotAuthorized})
			r.failAttempt(s, err)
			return
		}
		if id := p.Props.GetString(PropAssignedClientIdentifier); id != "" {
			s.clientID = id
		}
		if p.Props.Has(PropServerKeepAlive) {
			s.keepAlive = time.Duration(p.Props.GetUint16(PropServerKeepAlive)) * time.Second
		}
		s.maxPacketSize = p.Props.GetUint32(PropMaximumPacketSize)
	}

	s.connack = p
	s.sessionPresent = p.SessionPresent

	// Without a session on the server the peer will not send PUBREL for
	// messages it already sent.
	if !p.SessionPresent && s.version != ProtocolV31 {
		s.inbound.drain(func(m *inflight) {
			m.release()
			r.unpersistInbound(s, m.id)
		})
	}

	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.attemptCtx = nil
	r.settle(s)
	s.connected = true
	s.good = true
	s.epoch++

	now := r.now()
	s.lastReceived = now
	s.pingOutstanding = false
	s.pingDue = false

	if s.reconnecting {
		r.reconnected(s, p.SessionPresent)
	}

	r.metrics.connected(ReasonSuccess, now.Sub(s.attemptStart))
	r.logger.Info("connected", s.logFields().
		With("session_present", p.SessionPresent).
		With(LogFieldDuration, now.Sub(s.attemptStart).String()))

	if s.outbound.len() > 0 {
		s.resumePending = true
		r.retry(s, now, true)
	}
	s.signal()
}

// failAttempt aborts the running connect attempt with err.
func (r *Registry) failAttempt(s *Session, err error) {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.attemptCtx = nil
	if s.stageConn != nil {
		_ = s.stageConn.Close()
		s.stageConn = nil
	}
	r.detach(s)

	s.connErr = err
	s.auth = nil
	s.ackQueue = nil
	s.flushPending = false
	s.aliases.reset()
	r.settle(s)

	rc := ReasonUnspecifiedError
	var ce *ConnectError
	if errors.As(err, &ce) {
		rc = ce.ReasonCode
	}
	r.metrics.connected(rc, r.now().Sub(s.attemptStart))
	r.logger.Warn("connect failed", s.logFields().With(LogFieldError, err.Error()))
	s.signal()

	if s.reconnecting {
		r.scheduleReconnect(s, err)
	}
}

// awaitConnect waits for the outcome of attempt.
func (r *Registry) awaitConnect(s *Session, attempt uint64, timeout time.Duration) error {
	err := r.waitFor(s, timeout, func() (bool, error) {
		switch {
		case s.closed:
			return true, ErrClientClosed
		case s.attempt != attempt:
			return true, ErrConnectInProgress
		case s.state.InProgress():
			return false, nil
		case s.connected:
			return true, nil
		case s.connErr != nil:
			return true, s.connErr
		}
		return true, ErrNotConnected
	})

	if errors.Is(err, ErrTimeout) {
		r.mu.Lock()
		if s.attempt == attempt && s.state.InProgress() {
			r.failAttempt(s, ErrTimeout)
		}
		r.unlockAndNotify()
	}
	return err
}

// disconnect drains in-flight flows for up to timeout, sends DISCONNECT
// and closes the connection.
func (r *Registry) disconnect(s *Session, timeout time.Duration) error {
	r.mu.Lock()
	r.stopReconnect(s)
	switch {
	case s.closed:
		r.mu.Unlock()
		return ErrClientClosed
	case s.state.InProgress():
		r.failAttempt(s, ErrNotConnected)
		r.unlockAndNotify()
		return nil
	case !s.connected:
		r.mu.Unlock()
		return ErrNotConnected
	}
	if err := s.setState(StateDisconnecting); err != nil {
		r.mu.Unlock()
		return err
	}
	r.mu.Unlock()

	if timeout > 0 {
		_ = r.waitFor(s, timeout, func() (bool, error) {
			return !s.connected || (s.outbound.len() == 0 && s.inbound.len() == 0), nil
		})
	}

	r.mu.Lock()
	if s.connected {
		r.sendPacket(s, &DisconnectPacket{ReasonCode: ReasonSuccess})
	}
	r.logger.Info("disconnected", s.logFields())
	r.closeSession(s, nil)
	r.unlockAndNotify()
	return nil
}
