package mqtt

import "io"

// ackFields is the body shared by PUBACK, PUBREC, PUBREL and PUBCOMP.
type ackFields struct {
	PacketID   uint16
	ReasonCode ReasonCode
	Props      Properties
}

func (a *ackFields) encode(w io.Writer, pt PacketType, flags byte, v ProtocolVersion) (int, error) {
	if a.PacketID == 0 {
		return 0, ErrPacketIDRequired
	}

	var e encoder
	e.uint16(a.PacketID)

	// MQTT 5 allows omitting a success code with no properties.
	if v == ProtocolV50 && (a.ReasonCode != ReasonSuccess || a.Props.Len() > 0) {
		e.byte(byte(a.ReasonCode))
		if a.Props.Len() > 0 {
			e.props(&a.Props, v)
		}
	}

	return e.flush(w, pt, flags)
}

func (a *ackFields) decode(r io.Reader, header FixedHeader, v ProtocolVersion) (int, error) {
	d := decoder{r: r}
	a.PacketID = d.uint16()
	a.ReasonCode = ReasonSuccess

	if v == ProtocolV50 && d.more(header.RemainingLength) {
		a.ReasonCode = ReasonCode(d.byte())
		if d.more(header.RemainingLength) {
			d.props(&a.Props, v)
		}
	}

	if d.err == nil && a.PacketID == 0 {
		return d.n, ErrPacketIDRequired
	}
	return d.result()
}

func (a *ackFields) validate(pt PacketType) error {
	if !a.ReasonCode.ValidFor(pt) {
		return ErrInvalidReasonCode
	}
	return nil
}

// PubackPacket acknowledges a QoS 1 PUBLISH.
type PubackPacket struct{ ackFields }

func (p *PubackPacket) Type() PacketType { return PacketPUBACK }

func (p *PubackPacket) Encode(w io.Writer, v ProtocolVersion) (int, error) {
	return p.encode(w, PacketPUBACK, 0x00, v)
}

func (p *PubackPacket) Decode(r io.Reader, header FixedHeader, v ProtocolVersion) (int, error) {
	return p.decode(r, header, v)
}

func (p *PubackPacket) Validate() error { return p.validate(PacketPUBACK) }

// PubrecPacket is the first acknowledgment of a QoS 2 PUBLISH.
type PubrecPacket struct{ ackFields }

func (p *PubrecPacket) Type() PacketType { return PacketPUBREC }

func (p *PubrecPacket) Encode(w io.Writer, v ProtocolVersion) (int, error) {
	return p.encode(w, PacketPUBREC, 0x00, v)
}

func (p *PubrecPacket) Decode(r io.Reader, header FixedHeader, v ProtocolVersion) (int, error) {
	return p.decode(r, header, v)
}

func (p *PubrecPacket) Validate() error { return p.validate(PacketPUBREC) }

// PubrelPacket releases a QoS 2 message. Its fixed header flags are 0x02.
type PubrelPacket struct{ ackFields }

func (p *PubrelPacket) Type() PacketType { return PacketPUBREL }

func (p *PubrelPacket) Encode(w io.Writer, v ProtocolVersion) (int, error) {
	return p.encode(w, PacketPUBREL, 0x02, v)
}

func (p *PubrelPacket) Decode(r io.Reader, header FixedHeader, v ProtocolVersion) (int, error) {
	return p.decode(r, header, v)
}

func (p *PubrelPacket) Validate() error { return p.validate(PacketPUBREL) }

// PubcompPacket completes a QoS 2 exchange.
type PubcompPacket struct{ ackFields }

func (p *PubcompPacket) Type() PacketType { return PacketPUBCOMP }

func (p *PubcompPacket) Encode(w io.Writer, v ProtocolVersion) (int, error) {
	return p.encode(w, PacketPUBCOMP, 0x00, v)
}

func (p *PubcompPacket) Decode(r io.Reader, header FixedHeader, v ProtocolVersion) (int, error) {
	return p.decode(r, header, v)
}

func (p *PubcompPacket) Validate() error { return p.validate(PacketPUBCOMP) }

func newPuback(id uint16, rc ReasonCode) *PubackPacket {
	return &PubackPacket{ackFields{PacketID: id, ReasonCode: rc}}
}

func newPubrec(id uint16, rc ReasonCode) *PubrecPacket {
	return &PubrecPacket{ackFields{PacketID: id, ReasonCode: rc}}
}

func newPubrel(id uint16, rc ReasonCode) *PubrelPacket {
	return &PubrelPacket{ackFields{PacketID: id, ReasonCode: rc}}
}

func newPubcomp(id uint16, rc ReasonCode) *PubcompPacket {
	return &PubcompPacket{ackFields{PacketID: id, ReasonCode: rc}}
}
