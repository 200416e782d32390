package mqtt

import (
	"errors"
	"io"
)

var ErrNoSubscriptions = errors.New("subscribe requires at least one topic filter")

// Subscription is one topic filter entry of a SUBSCRIBE packet. The
// option bits other than QoS are only encoded for MQTT 5.
type Subscription struct {
	TopicFilter       string
	QoS               byte
	NoLocal           bool
	RetainAsPublished bool
	RetainHandling    byte
}

func (s *Subscription) options(v ProtocolVersion) byte {
	opts := s.QoS & 0x03
	if v != ProtocolV50 {
		return opts
	}
	if s.NoLocal {
		opts |= 0x04
	}
	if s.RetainAsPublished {
		opts |= 0x08
	}
	opts |= (s.RetainHandling & 0x03) << 4
	return opts
}

func (s *Subscription) setOptions(opts byte, v ProtocolVersion) {
	s.QoS = opts & 0x03
	if v == ProtocolV50 {
		s.NoLocal = opts&0x04 != 0
		s.RetainAsPublished = opts&0x08 != 0
		s.RetainHandling = (opts >> 4) & 0x03
	}
}

// SubscribePacket is the SUBSCRIBE packet.
type SubscribePacket struct {
	PacketID      uint16
	Subscriptions []Subscription
	Props         Properties
}

func (p *SubscribePacket) Type() PacketType { return PacketSUBSCRIBE }

func (p *SubscribePacket) Encode(w io.Writer, v ProtocolVersion) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var e encoder
	e.uint16(p.PacketID)
	e.props(&p.Props, v)
	for i := range p.Subscriptions {
		e.string(p.Subscriptions[i].TopicFilter)
		e.byte(p.Subscriptions[i].options(v))
	}

	return e.flush(w, PacketSUBSCRIBE, 0x02)
}

func (p *SubscribePacket) Decode(r io.Reader, header FixedHeader, v ProtocolVersion) (int, error) {
	d := decoder{r: r}
	p.PacketID = d.uint16()
	d.props(&p.Props, v)

	for d.more(header.RemainingLength) {
		var sub Subscription
		sub.TopicFilter = d.string()
		sub.setOptions(d.byte(), v)
		if d.err == nil {
			p.Subscriptions = append(p.Subscriptions, sub)
		}
	}

	return d.result()
}

func (p *SubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrPacketIDRequired
	}
	if len(p.Subscriptions) == 0 {
		return ErrNoSubscriptions
	}
	for i := range p.Subscriptions {
		if p.Subscriptions[i].QoS > 2 {
			return ErrInvalidQoS
		}
		if err := ValidateTopicFilter(p.Subscriptions[i].TopicFilter); err != nil {
			return err
		}
	}
	return nil
}

// SubackPacket is the SUBACK packet. MQTT 3.x return codes (0, 1, 2, 0x80)
// share their values with the corresponding reason codes.
type SubackPacket struct {
	PacketID    uint16
	ReasonCodes []ReasonCode
	Props       Properties
}

func (p *SubackPacket) Type() PacketType { return PacketSUBACK }

func (p *SubackPacket) Encode(w io.Writer, v ProtocolVersion) (int, error) {
	var e encoder
	e.uint16(p.PacketID)
	e.props(&p.Props, v)
	for _, rc := range p.ReasonCodes {
		e.byte(byte(rc))
	}
	return e.flush(w, PacketSUBACK, 0x00)
}

func (p *SubackPacket) Decode(r io.Reader, header FixedHeader, v ProtocolVersion) (int, error) {
	d := decoder{r: r}
	p.PacketID = d.uint16()
	d.props(&p.Props, v)
	for d.more(header.RemainingLength) {
		rc := ReasonCode(d.byte())
		if d.err == nil {
			p.ReasonCodes = append(p.ReasonCodes, rc)
		}
	}
	return d.result()
}

func (p *SubackPacket) Validate() error { return nil }

// UnsubscribePacket is the UNSUBSCRIBE packet.
type UnsubscribePacket struct {
	PacketID     uint16
	TopicFilters []string
	Props        Properties
}

func (p *UnsubscribePacket) Type() PacketType { return PacketUNSUBSCRIBE }

func (p *UnsubscribePacket) Encode(w io.Writer, v ProtocolVersion) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var e encoder
	e.uint16(p.PacketID)
	e.props(&p.Props, v)
	for _, f := range p.TopicFilters {
		e.string(f)
	}
	return e.flush(w, PacketUNSUBSCRIBE, 0x02)
}

func (p *UnsubscribePacket) Decode(r io.Reader, header FixedHeader, v ProtocolVersion) (int, error) {
	d := decoder{r: r}
	p.PacketID = d.uint16()
	d.props(&p.Props, v)
	for d.more(header.RemainingLength) {
		f := d.string()
		if d.err == nil {
			p.TopicFilters = append(p.TopicFilters, f)
		}
	}
	return d.result()
}

func (p *UnsubscribePacket) Validate() error {
	if p.PacketID == 0 {
		return ErrPacketIDRequired
	}
	if len(p.TopicFilters) == 0 {
		return ErrNoSubscriptions
	}
	for _, f := range p.TopicFilters {
		if err := ValidateTopicFilter(f); err != nil {
			return err
		}
	}
	return nil
}

// UnsubackPacket is the UNSUBACK packet. MQTT 3.x carries no reason codes.
type UnsubackPacket struct {
	PacketID    uint16
	ReasonCodes []ReasonCode
	Props       Properties
}

func (p *UnsubackPacket) Type() PacketType { return PacketUNSUBACK }

func (p *UnsubackPacket) Encode(w io.Writer, v ProtocolVersion) (int, error) {
	var e encoder
	e.uint16(p.PacketID)
	if v == ProtocolV50 {
		e.props(&p.Props, v)
		for _, rc := range p.ReasonCodes {
			e.byte(byte(rc))
		}
	}
	return e.flush(w, PacketUNSUBACK, 0x00)
}

func (p *UnsubackPacket) Decode(r io.Reader, header FixedHeader, v ProtocolVersion) (int, error) {
	d := decoder{r: r}
	p.PacketID = d.uint16()
	if v == ProtocolV50 {
		d.props(&p.Props, v)
		for d.more(header.RemainingLength) {
			rc := ReasonCode(d.byte())
			if d.err == nil {
				p.ReasonCodes = append(p.ReasonCodes, rc)
			}
		}
	}
	return d.result()
}

func (p *UnsubackPacket) Validate() error { return nil }
