package mqtt

import (
	"fmt"
	"time"
)

// request sends a SUBSCRIBE or UNSUBSCRIBE registered under its packet id
// and waits for the matching ack.
func (r *Registry) request(s *Session, kind PacketType, build func(id uint16) Packet, timeout time.Duration) (*pendingOp, error) {
	r.mu.Lock()
	if err := publishable(s); err != nil {
		r.mu.Unlock()
		return nil, err
	}

	id, err := s.nextMsgID()
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	pkt := build(id)
	data, err := EncodePacket(pkt, s.version)
	if err == nil && s.maxPacketSize > 0 && uint32(len(data)) > s.maxPacketSize {
		err = ErrPacketTooLarge
	}
	if err != nil {
		r.mu.Unlock()
		return nil, err
	}

	op := &pendingOp{kind: kind}
	s.pending[id] = op
	r.sendAck(s, pkt)
	r.unlockAndNotify()

	err = r.waitFor(s, timeout, func() (bool, error) {
		if op.done {
			return true, op.err
		}
		if s.closed {
			return true, ErrClientClosed
		}
		return false, nil
	})
	if err != nil {
		r.mu.Lock()
		if s.pending[id] == op {
			delete(s.pending, id)
		}
		r.mu.Unlock()
		return nil, err
	}
	return op, nil
}

// subscribe sends SUBSCRIBE and returns the granted QoS or reason code per
// filter. A refused filter is reported as a SubscribeError along with the
// codes.
func (r *Registry) subscribe(s *Session, subs []Subscription, props *Properties, timeout time.Duration) ([]ReasonCode, Properties, error) {
	if len(subs) == 0 {
		return nil, Properties{}, ErrNoSubscriptions
	}
	for _, sub := range subs {
		if sub.QoS > QoS2 {
			return nil, Properties{}, ErrInvalidQoS
		}
		if err := ValidateTopicFilter(sub.TopicFilter); err != nil {
			return nil, Properties{}, err
		}
	}

	build := func(id uint16) Packet {
		pkt := &SubscribePacket{PacketID: id, Subscriptions: subs}
		if props != nil && s.version == ProtocolV50 {
			pkt.Props = props.Clone()
		}
		return pkt
	}

	op, err := r.request(s, PacketSUBACK, build, timeout)
	if err != nil {
		return nil, Properties{}, err
	}

	if len(op.codes) != len(subs) {
		return op.codes, op.props, fmt.Errorf("%w: SUBACK has %d codes for %d filters", ErrProtocolError, len(op.codes), len(subs))
	}

	r.mu.Lock()
	s.trackSubscriptions(subs, op.codes)
	r.mu.Unlock()
	for i, rc := range op.codes {
		if rc.IsError() {
			return op.codes, op.props, NewSubscribeError(subs[i].TopicFilter, rc)
		}
	}
	return op.codes, op.props, nil
}

// unsubscribe sends UNSUBSCRIBE. MQTT 3.x acks carry no reason codes.
func (r *Registry) unsubscribe(s *Session, filters []string, props *Properties, timeout time.Duration) ([]ReasonCode, Properties, error) {
	if len(filters) == 0 {
		return nil, Properties{}, ErrNoSubscriptions
	}
	for _, f := range filters {
		if err := ValidateTopicFilter(f); err != nil {
			return nil, Properties{}, err
		}
	}

	build := func(id uint16) Packet {
		pkt := &UnsubscribePacket{PacketID: id, TopicFilters: filters}
		if props != nil && s.version == ProtocolV50 {
			pkt.Props = props.Clone()
		}
		return pkt
	}

	op, err := r.request(s, PacketUNSUBACK, build, timeout)
	if err != nil {
		return nil, Properties{}, err
	}

	r.mu.Lock()
	s.untrackSubscriptions(filters, op.codes)
	r.mu.Unlock()

	for i, rc := range op.codes {
		if rc.IsError() && i < len(filters) {
			return op.codes, op.props, fmt.Errorf("%w: %s: %s", ErrUnsubscribeFailed, filters[i], rc)
		}
	}
	return op.codes, op.props, nil
}

func (r *Registry) completeRequest(s *Session, kind PacketType, id uint16, codes []ReasonCode, props Properties) {
	op := s.pending[id]
	if op == nil || op.kind != kind {
		r.logger.Debug("ack for unknown request", s.logFields().
			With(LogFieldPacketType, kind.String()).
			With(LogFieldPacketID, id))
		return
	}
	delete(s.pending, id)
	op.codes = codes
	op.props = props
	op.done = true

	for i, rc := range codes {
		if i < len(op.restore) && rc.IsError() {
			delete(s.subscriptions, op.restore[i].TopicFilter)
			r.logger.Warn("subscription not restored", s.logFields().
				With(LogFieldTopic, op.restore[i].TopicFilter).
				With(LogFieldReasonCode, rc.String()))
		}
	}
	s.signal()
}

func (r *Registry) handleSuback(s *Session, p *SubackPacket) {
	r.completeRequest(s, PacketSUBACK, p.PacketID, p.ReasonCodes, p.Props)
}

func (r *Registry) handleUnsuback(s *Session, p *UnsubackPacket) {
	r.completeRequest(s, PacketUNSUBACK, p.PacketID, p.ReasonCodes, p.Props)
}
