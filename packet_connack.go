package mqtt

import "io"

// ConnackPacket is the CONNACK packet. Under MQTT 3.x the return code is
// translated to and from ReasonCode.
type ConnackPacket struct {
	SessionPresent bool
	ReasonCode     ReasonCode
	Props          Properties
}

func (p *ConnackPacket) Type() PacketType { return PacketCONNACK }

func (p *ConnackPacket) Encode(w io.Writer, v ProtocolVersion) (int, error) {
	var e encoder

	var ackFlags byte
	if p.SessionPresent && v != ProtocolV31 {
		ackFlags = 0x01
	}
	e.byte(ackFlags)

	if v == ProtocolV50 {
		e.byte(byte(p.ReasonCode))
		e.props(&p.Props, v)
	} else {
		e.byte(v3ConnackReturnCode(p.ReasonCode))
	}

	return e.flush(w, PacketCONNACK, 0x00)
}

func (p *ConnackPacket) Decode(r io.Reader, _ FixedHeader, v ProtocolVersion) (int, error) {
	d := decoder{r: r}

	ackFlags := d.byte()
	code := d.byte()
	if d.err != nil {
		return d.result()
	}
	if ackFlags&0xFE != 0 {
		return d.n, ErrMalformedPacket
	}

	p.SessionPresent = ackFlags&0x01 != 0
	if v == ProtocolV50 {
		p.ReasonCode = ReasonCode(code)
		d.props(&p.Props, v)
	} else {
		p.ReasonCode = reasonFromV3Connack(code)
	}

	return d.result()
}

func (p *ConnackPacket) Validate() error { return nil }
