package mqtt

import (
	"fmt"
)

func (r *Registry) handleEvent(ev event) {
	switch ev.kind {
	case evStage:
		r.handleStage(ev)
		return
	case evReconnect:
		r.handleReconnect(ev)
		return
	}

	s := r.conns[ev.tr]
	if s == nil {
		return
	}

	switch ev.kind {
	case evFrame:
		r.handleFrame(s, ev.header, ev.body)
	case evReadError, evWriteError:
		if s.state.InProgress() {
			r.failAttempt(s, ev.err)
			return
		}
		r.closeSession(s, ev.err)
	case evWritable:
		r.handleWritable(s)
	}
}

// handleFrame decodes one frame and routes the packet. A malformed packet
// is dropped unless the handshake is still waiting for CONNACK.
func (r *Registry) handleFrame(s *Session, header FixedHeader, body []byte) {
	s.lastReceived = r.now()
	r.metrics.packetReceived(header.PacketType)

	pkt, err := DecodePacket(header, body, s.version)
	if err != nil {
		r.metrics.malformed()
		if s.state == StateWaitForConnack {
			r.failAttempt(s, err)
			return
		}
		r.logger.Warn("dropping malformed packet", s.logFields().
			With(LogFieldPacketType, header.PacketType.String()).
			With(LogFieldError, err.Error()))
		return
	}

	r.logger.Debug("packet received", s.logFields().With(LogFieldPacketType, pkt.Type().String()))

	if s.state == StateWaitForConnack {
		switch p := pkt.(type) {
		case *ConnackPacket:
			r.handleConnack(s, p)
		case *AuthPacket:
			r.handleAuth(s, p)
		default:
			r.failAttempt(s, fmt.Errorf("%w: %s before CONNACK", ErrProtocolError, pkt.Type()))
		}
		return
	}

	if !s.connected {
		return
	}
	r.route(s, pkt)
}

func (r *Registry) route(s *Session, pkt Packet) {
	switch p := pkt.(type) {
	case *PublishPacket:
		r.handlePublish(s, p)
	case *PubackPacket:
		r.handlePuback(s, p)
	case *PubrecPacket:
		r.handlePubrec(s, p)
	case *PubrelPacket:
		r.handlePubrel(s, p)
	case *PubcompPacket:
		r.handlePubcomp(s, p)
	case *SubackPacket:
		r.handleSuback(s, p)
	case *UnsubackPacket:
		r.handleUnsuback(s, p)
	case *PingrespPacket:
		s.pingOutstanding = false
	case *DisconnectPacket:
		r.handleDisconnect(s, p)
	case *AuthPacket:
		r.handleAuth(s, p)
	case *ConnackPacket:
		r.logger.Warn("unexpected CONNACK on established connection", s.logFields())
	case *ConnectPacket, *SubscribePacket, *UnsubscribePacket, *PingreqPacket:
		r.logger.Warn("dropping server-bound packet sent by server", s.logFields().
			With(LogFieldPacketType, pkt.Type().String()))
	default:
		r.logger.Warn("dropping unknown packet", s.logFields())
	}
}

func (r *Registry) handleDisconnect(s *Session, p *DisconnectPacket) {
	r.logger.Info("server sent DISCONNECT", s.logFields().With(LogFieldReasonCode, p.ReasonCode.String()))
	props := p.Props.Clone()
	r.closeSession(s, NewDisconnectError(p.ReasonCode, &props))
}

// handleWritable sends the oldest deferred control packet. While more
// remain, the session is marked for another flush on the next loop
// iteration. Once the queue is empty, work postponed by the busy
// transport resumes.
func (r *Registry) handleWritable(s *Session) {
	s.flushPending = false
	if len(s.ackQueue) > 0 {
		res, err := r.sendPacket(s, s.ackQueue[0])
		switch res {
		case writeBusy:
			return
		case writeFailed:
			r.closeSession(s, err)
			return
		case writeRejected:
			r.logger.Error("dropping deferred packet", s.logFields().With(LogFieldError, err.Error()))
		}

		s.ackQueue[0] = nil
		s.ackQueue = s.ackQueue[1:]
		if res == writePartial {
			return
		}
		if len(s.ackQueue) > 0 {
			s.flushPending = true
			return
		}
	}

	now := r.now()
	if s.pingDue {
		r.ping(s, now)
	}
	if s.connected && s.resumePending {
		r.retry(s, now, true)
	}
	s.signal()
}

// sendPacket encodes pkt and writes it to the session's transport.
func (r *Registry) sendPacket(s *Session, pkt Packet) (writeResult, error) {
	if s.tr == nil {
		return writeFailed, ErrNotConnected
	}

	buf := getBuffer()
	defer putBuffer(buf)

	if _, err := pkt.Encode(buf, s.version); err != nil {
		return writeRejected, err
	}
	if s.maxPacketSize > 0 && uint32(buf.Len()) > s.maxPacketSize {
		return writeRejected, ErrPacketTooLarge
	}

	res, err := s.tr.write(nil, buf.Bytes())
	if res == writeComplete || res == writePartial {
		s.lastSent = r.now()
		r.metrics.packetSent(pkt.Type(), buf.Len())
	}
	return res, err
}

// sendAck writes an ack or other control packet, deferring it behind
// earlier deferred packets while the transport is busy. It reports
// whether the session is still up.
func (r *Registry) sendAck(s *Session, pkt Packet) bool {
	if len(s.ackQueue) > 0 || s.busy() {
		s.ackQueue = append(s.ackQueue, pkt)
		return true
	}

	res, err := r.sendPacket(s, pkt)
	switch res {
	case writeBusy:
		s.ackQueue = append(s.ackQueue, pkt)
	case writeFailed:
		r.closeSession(s, err)
		return false
	case writeRejected:
		r.logger.Error("cannot send packet", s.logFields().
			With(LogFieldPacketType, pkt.Type().String()).
			With(LogFieldError, err.Error()))
	}
	return true
}

// flush gives every session marked by handleWritable its next writable
// call.
func (r *Registry) flush() {
	for s := range r.sessions {
		if s.flushPending {
			r.handleWritable(s)
		}
	}
}

func (r *Registry) hasFlushes() bool {
	for s := range r.sessions {
		if s.flushPending {
			return true
		}
	}
	return false
}

func (r *Registry) enqueue(s *Session, msg *Message) {
	s.delivery = append(s.delivery, msg)
	s.signal()
}

func (r *Registry) hasDeliveries() bool {
	for s := range r.sessions {
		if len(s.delivery) > 0 && s.onMessage != nil && !s.delivering {
			return true
		}
	}
	return false
}

// deliver hands the oldest queued message of each session to its
// handler. A message the handler rejects stays at the head of the queue
// and is offered again on a later iteration.
func (r *Registry) deliver() {
	type handoff struct {
		s       *Session
		msg     *Message
		handler MessageHandler
	}

	r.mu.Lock()
	var batch []handoff
	for s := range r.sessions {
		if s.delivering || len(s.delivery) == 0 || s.onMessage == nil {
			continue
		}
		s.delivering = true
		batch = append(batch, handoff{s: s, msg: s.delivery[0], handler: s.onMessage})
	}
	r.mu.Unlock()

	for _, h := range batch {
		accepted := h.handler(h.msg)

		r.mu.Lock()
		h.s.delivering = false
		if accepted && len(h.s.delivery) > 0 && h.s.delivery[0] == h.msg {
			h.s.delivery[0] = nil
			h.s.delivery = h.s.delivery[1:]
			r.metrics.delivered()
			h.s.signal()
		}
		r.mu.Unlock()
	}
}
