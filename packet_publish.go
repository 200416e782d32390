package mqtt

import (
	"bytes"
	"errors"
	"io"
)

var (
	ErrInvalidQoS       = errors.New("invalid QoS level")
	ErrPacketIDRequired = errors.New("packet identifier required for QoS > 0")
)

// PublishPacket is the PUBLISH packet.
type PublishPacket struct {
	Topic    string
	Payload  []byte
	QoS      byte
	Retain   bool
	DUP      bool
	PacketID uint16
	Props    Properties
}

func (p *PublishPacket) Type() PacketType { return PacketPUBLISH }

func (p *PublishPacket) Encode(w io.Writer, v ProtocolVersion) (int, error) {
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var e encoder
	e.string(p.Topic)
	if p.QoS > 0 {
		e.uint16(p.PacketID)
	}
	e.props(&p.Props, v)
	e.raw(p.Payload)

	return e.flush(w, PacketPUBLISH, publishFlags(p.DUP, p.QoS, p.Retain))
}

// encodeHeader returns the fixed header and variable header of the
// packet. The payload is not copied: the caller writes it after the
// returned bytes.
func (p *PublishPacket) encodeHeader(v ProtocolVersion) ([]byte, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}

	var e encoder
	e.string(p.Topic)
	if p.QoS > 0 {
		e.uint16(p.PacketID)
	}
	e.props(&p.Props, v)
	if e.err != nil {
		return nil, e.err
	}

	remaining := e.buf.Len() + len(p.Payload)
	if remaining > maxVarint {
		return nil, ErrPacketTooLarge
	}

	header := FixedHeader{
		PacketType:      PacketPUBLISH,
		Flags:           publishFlags(p.DUP, p.QoS, p.Retain),
		RemainingLength: uint32(remaining),
	}
	out := bytes.NewBuffer(make([]byte, 0, header.Size()+e.buf.Len()))
	if _, err := header.Encode(out); err != nil {
		return nil, err
	}
	out.Write(e.buf.Bytes())
	return out.Bytes(), nil
}

func (p *PublishPacket) Decode(r io.Reader, header FixedHeader, v ProtocolVersion) (int, error) {
	p.DUP = header.DUP()
	p.QoS = header.QoS()
	p.Retain = header.Retain()
	if p.QoS > 2 {
		return 0, ErrInvalidQoS
	}

	d := decoder{r: r}
	p.Topic = d.string()
	if p.QoS > 0 {
		p.PacketID = d.uint16()
	}
	d.props(&p.Props, v)
	p.Payload = d.rest(header.RemainingLength)

	if d.err == nil && p.QoS > 0 && p.PacketID == 0 {
		return d.n, ErrPacketIDRequired
	}
	return d.result()
}

func (p *PublishPacket) Validate() error {
	if p.QoS > 2 {
		return ErrInvalidQoS
	}
	if p.QoS == 0 && p.DUP {
		return ErrInvalidPacketFlags
	}
	if p.QoS > 0 && p.PacketID == 0 {
		return ErrPacketIDRequired
	}
	return nil
}

// ToMessage converts the packet to an application Message.
func (p *PublishPacket) ToMessage() *Message {
	m := &Message{
		Topic:     p.Topic,
		Payload:   p.Payload,
		QoS:       p.QoS,
		Retain:    p.Retain,
		Duplicate: p.DUP,
		PacketID:  p.PacketID,
	}
	m.FromProperties(&p.Props)
	return m
}
