package mqtt

import "io"

// DisconnectPacket is the DISCONNECT packet. Under MQTT 3.x it has no body.
type DisconnectPacket struct {
	ReasonCode ReasonCode
	Props      Properties
}

func (p *DisconnectPacket) Type() PacketType { return PacketDISCONNECT }

func (p *DisconnectPacket) Encode(w io.Writer, v ProtocolVersion) (int, error) {
	var e encoder
	if v == ProtocolV50 && (p.ReasonCode != ReasonSuccess || p.Props.Len() > 0) {
		e.byte(byte(p.ReasonCode))
		e.props(&p.Props, v)
	}
	return e.flush(w, PacketDISCONNECT, 0x00)
}

func (p *DisconnectPacket) Decode(r io.Reader, header FixedHeader, v ProtocolVersion) (int, error) {
	d := decoder{r: r}
	p.ReasonCode = ReasonSuccess
	if v == ProtocolV50 && d.more(header.RemainingLength) {
		p.ReasonCode = ReasonCode(d.byte())
		if d.more(header.RemainingLength) {
			d.props(&p.Props, v)
		}
	}
	return d.result()
}

func (p *DisconnectPacket) Validate() error { return nil }
