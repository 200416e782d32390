package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// QoS levels.
const (
	QoS0 byte = 0
	QoS1 byte = 1
	QoS2 byte = 2
)

// ErrMaxInflight is reported with ErrTimeout when a publish gave up
// waiting for a free in-flight slot.
var ErrMaxInflight = errors.New("max in-flight messages reached")

// publishable reports why s cannot accept a publish right now.
func publishable(s *Session) error {
	switch {
	case s.closed:
		return ErrClientClosed
	case !s.connected, s.state == StateDisconnecting:
		return ErrNotConnected
	}
	return nil
}

// publish sends msg on s. While the outbound list is at its limit or the
// transport is draining a partial write, the caller polls until space
// frees, the session drops, or timeout elapses.
func (r *Registry) publish(s *Session, msg *Message, timeout time.Duration) (uint16, error) {
	if msg.QoS > QoS2 {
		return 0, ErrInvalidQoS
	}
	if err := ValidateTopicName(msg.Topic); err != nil {
		return 0, err
	}

	deadline := time.Now().Add(timeout)

	if s.limiter != nil {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		err := s.limiter.Wait(ctx)
		cancel()
		if err != nil {
			return 0, fmt.Errorf("%w: %w", ErrTimeout, err)
		}
	}

	for {
		r.mu.Lock()
		if err := publishable(s); err != nil {
			r.mu.Unlock()
			return 0, err
		}
		full := msg.QoS > QoS0 && s.outbound.len() >= s.inflightLimit()
		if !full && !s.busy() {
			break
		}
		r.mu.Unlock()

		if !time.Now().Before(deadline) {
			if full {
				return 0, fmt.Errorf("%w: %w", ErrTimeout, ErrMaxInflight)
			}
			return 0, ErrTimeout
		}
		r.pause()
	}

	id, err := r.startPublish(s, msg)
	r.unlockAndNotify()
	return id, err
}

// startPublish allocates the id, records and persists a QoS>0 message and
// writes the PUBLISH. Any failure before the write leaves no state behind.
// A transport failure closes the session but keeps the record for the
// next connect.
func (r *Registry) startPublish(s *Session, msg *Message) (uint16, error) {
	pub := newPublication(msg.Topic, msg.Payload)
	pkt := &PublishPacket{
		Topic:   msg.Topic,
		Payload: msg.Payload,
		QoS:     msg.QoS,
		Retain:  msg.Retain,
	}
	if s.version == ProtocolV50 {
		pkt.Props = msg.ToProperties()
	}

	if msg.QoS > QoS0 {
		id, err := s.nextMsgID()
		if err != nil {
			pub.Release()
			return 0, err
		}
		pkt.PacketID = id
	}

	header, err := pkt.encodeHeader(s.version)
	if err != nil {
		pub.Release()
		return 0, err
	}
	if s.maxPacketSize > 0 && uint32(len(header)+len(pkt.Payload)) > s.maxPacketSize {
		pub.Release()
		return 0, ErrPacketTooLarge
	}

	now := r.now()
	if msg.QoS > QoS0 {
		m := &inflight{
			id:          pkt.PacketID,
			qos:         msg.QoS,
			retain:      msg.Retain,
			version:     s.version,
			pub:         pub,
			next:        PacketPUBACK,
			touched:     now,
			props:       pkt.Props,
			resentEpoch: s.epoch,
		}
		if msg.QoS == QoS2 {
			m.next = PacketPUBREC
		}
		if err := r.persistOutbound(s, m.id, header, pkt.Payload); err != nil {
			pub.Release()
			return 0, err
		}
		s.outbound.add(m)
		r.metrics.inflight(1)
	}

	r.metrics.published(msg.QoS)
	res, err := r.writePublish(s, pub, header, pkt.Payload)
	if msg.QoS == QoS0 {
		pub.Release()
	}

	switch res {
	case writeFailed:
		r.closeSession(s, err)
		if msg.QoS == QoS0 {
			return 0, NewConnectionLostError(err)
		}
	case writeBusy:
		if msg.QoS == QoS0 {
			return 0, ErrTimeout
		}
	}

	r.logger.Debug("publish sent", s.logFields().
		With(LogFieldTopic, msg.Topic).
		With(LogFieldQoS, msg.QoS).
		With(LogFieldPacketID, pkt.PacketID))

	return pkt.PacketID, nil
}

// dropOutbound releases every outbound record without an ack. Waiters on
// those ids get err.
func (r *Registry) dropOutbound(s *Session, err error) {
	released := 0
	s.outbound.drain(func(m *inflight) {
		m.release()
		s.failures[m.id] = err
		released++
	})
	if released > 0 {
		r.metrics.inflight(-float64(released))
		s.signal()
	}
}

// writePublish writes a PUBLISH split into header and payload. The
// publication stays referenced while a partial write drains.
func (r *Registry) writePublish(s *Session, pub *Publication, header, payload []byte) (writeResult, error) {
	if s.tr == nil {
		return writeFailed, ErrNotConnected
	}

	res, err := s.tr.write(pub, header, payload)
	if res == writeComplete || res == writePartial {
		s.lastSent = r.now()
		r.metrics.packetSent(PacketPUBLISH, len(header)+len(payload))
	}
	return res, err
}

func (m *inflight) publishPacket(dup bool) *PublishPacket {
	return &PublishPacket{
		Topic:    m.pub.Topic,
		Payload:  m.pub.Payload,
		QoS:      m.qos,
		Retain:   m.retain,
		DUP:      dup,
		PacketID: m.id,
		Props:    m.props,
	}
}

// completeOutbound ends an outbound flow. An error reason code from the
// server is kept for WaitForCompletion instead of firing delivery-complete.
func (r *Registry) completeOutbound(s *Session, m *inflight, rc ReasonCode) {
	s.outbound.remove(m.id)
	topic := ""
	if m.pub != nil {
		topic = m.pub.Topic
	}
	m.release()
	r.metrics.inflight(-1)
	r.unpersistOutbound(s, m.id)
	s.signal()

	id := m.id
	if rc.IsError() {
		err := NewPublishError(topic, id, rc)
		s.failures[id] = err
		r.logger.Warn("publish refused", s.logFields().
			With(LogFieldPacketID, id).
			With(LogFieldReasonCode, rc.String()))
		return
	}

	if handler := s.onDeliveryComplete; handler != nil {
		r.note(func() { handler(id) })
	}
}

func (r *Registry) handlePuback(s *Session, p *PubackPacket) {
	m := s.outbound.get(p.PacketID)
	if m == nil {
		r.logger.Debug("PUBACK for unknown packet id", s.logFields().With(LogFieldPacketID, p.PacketID))
		return
	}
	if m.qos != QoS1 || m.next != PacketPUBACK {
		r.logger.Warn("ignoring unexpected PUBACK", s.logFields().
			With(LogFieldPacketID, p.PacketID).
			With(LogFieldQoS, m.qos))
		return
	}
	r.completeOutbound(s, m, p.ReasonCode)
}

func (r *Registry) handlePubrec(s *Session, p *PubrecPacket) {
	m := s.outbound.get(p.PacketID)
	if m == nil {
		r.logger.Debug("PUBREC for unknown packet id", s.logFields().With(LogFieldPacketID, p.PacketID))
		return
	}
	if m.qos != QoS2 || m.next != PacketPUBREC {
		r.logger.Warn("ignoring unexpected PUBREC", s.logFields().
			With(LogFieldPacketID, p.PacketID).
			With(LogFieldState, m.next.String()))
		return
	}

	if s.version == ProtocolV50 && p.ReasonCode.IsError() {
		r.completeOutbound(s, m, p.ReasonCode)
		return
	}

	m.next = PacketPUBCOMP
	m.touched = r.now()
	r.persistPubrel(s, m.id)
	r.sendAck(s, newPubrel(m.id, ReasonSuccess))
}

func (r *Registry) handlePubcomp(s *Session, p *PubcompPacket) {
	m := s.outbound.get(p.PacketID)
	if m == nil {
		r.logger.Debug("PUBCOMP for unknown packet id", s.logFields().With(LogFieldPacketID, p.PacketID))
		return
	}
	if m.qos != QoS2 || m.next != PacketPUBCOMP {
		r.logger.Warn("ignoring unexpected PUBCOMP", s.logFields().
			With(LogFieldPacketID, p.PacketID).
			With(LogFieldState, m.next.String()))
		return
	}
	r.completeOutbound(s, m, p.ReasonCode)
}

func (r *Registry) handlePublish(s *Session, p *PublishPacket) {
	topic, ok := r.resolveTopic(s, p)
	if !ok {
		return
	}

	msg := p.ToMessage()
	msg.Topic = topic

	switch p.QoS {
	case QoS0:
		r.enqueue(s, msg)
	case QoS1:
		r.enqueue(s, msg)
		r.sendAck(s, newPuback(p.PacketID, ReasonSuccess))
	case QoS2:
		pub := newPublication(topic, p.Payload)
		if m := s.inbound.get(p.PacketID); m != nil {
			// Retransmission before PUBREL: keep one record, newest payload.
			m.release()
			m.pub = pub
			m.msg = msg
			m.retain = p.Retain
			m.props = p.Props
			m.touched = r.now()
		} else {
			if s.receiveQuotaExceeded() {
				r.logger.Warn("server exceeded receive maximum", s.logFields().With(LogFieldPacketID, p.PacketID))
				pub.Release()
				r.sendPacket(s, &DisconnectPacket{ReasonCode: ReasonReceiveMaxExceeded})
				r.closeSession(s, fmt.Errorf("%w: receive maximum exceeded", ErrProtocolError))
				return
			}
			s.inbound.add(&inflight{
				id:      p.PacketID,
				qos:     QoS2,
				retain:  p.Retain,
				version: s.version,
				pub:     pub,
				next:    PacketPUBREL,
				touched: r.now(),
				props:   p.Props,
				msg:     msg,
			})
		}
		r.persistInbound(s, p)
		r.sendAck(s, newPubrec(p.PacketID, ReasonSuccess))
	}
}

// receiveQuotaExceeded reports whether one more unreleased QoS 2 message
// would exceed the Receive Maximum announced in CONNECT.
func (s *Session) receiveQuotaExceeded() bool {
	limit := s.opts.receiveMaximum
	return s.version == ProtocolV50 && limit > 0 && s.inbound.len() >= int(limit)
}

func (r *Registry) handlePubrel(s *Session, p *PubrelPacket) {
	m := s.inbound.get(p.PacketID)
	if m == nil {
		rc := ReasonSuccess
		if s.version == ProtocolV50 {
			rc = ReasonPacketIDNotFound
		}
		r.sendAck(s, newPubcomp(p.PacketID, rc))
		return
	}
	if m.next != PacketPUBREL {
		r.logger.Warn("ignoring unexpected PUBREL", s.logFields().With(LogFieldPacketID, p.PacketID))
		return
	}

	s.inbound.remove(m.id)
	r.enqueue(s, m.msg)
	m.release()
	r.unpersistInbound(s, m.id)
	r.sendAck(s, newPubcomp(m.id, ReasonSuccess))
}

// waitForCompletion blocks until the outbound flow for id ends. It
// returns the PublishError when the server refused the message.
func (r *Registry) waitForCompletion(s *Session, id uint16, timeout time.Duration) error {
	return r.waitFor(s, timeout, func() (bool, error) {
		if s.outbound.get(id) != nil {
			if s.closed {
				return false, ErrClientClosed
			}
			return false, nil
		}
		if err, ok := s.failures[id]; ok {
			delete(s.failures, id)
			return true, err
		}
		if s.closed {
			return true, ErrClientClosed
		}
		return true, nil
	})
}
