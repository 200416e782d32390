package mqtt

import "io"

// AuthPacket is the MQTT 5 AUTH packet used for enhanced authentication.
type AuthPacket struct {
	ReasonCode ReasonCode
	Props      Properties
}

func (p *AuthPacket) Type() PacketType { return PacketAUTH }

func (p *AuthPacket) Encode(w io.Writer, v ProtocolVersion) (int, error) {
	if v != ProtocolV50 {
		return 0, ErrInvalidPacketType
	}
	if err := p.Validate(); err != nil {
		return 0, err
	}

	var e encoder
	if p.ReasonCode != ReasonSuccess || p.Props.Len() > 0 {
		e.byte(byte(p.ReasonCode))
		e.props(&p.Props, v)
	}
	return e.flush(w, PacketAUTH, 0x00)
}

func (p *AuthPacket) Decode(r io.Reader, header FixedHeader, v ProtocolVersion) (int, error) {
	if v != ProtocolV50 {
		return 0, ErrInvalidPacketType
	}

	d := decoder{r: r}
	p.ReasonCode = ReasonSuccess
	if d.more(header.RemainingLength) {
		p.ReasonCode = ReasonCode(d.byte())
		if d.more(header.RemainingLength) {
			d.props(&p.Props, v)
		}
	}
	return d.result()
}

func (p *AuthPacket) Validate() error {
	if !p.ReasonCode.ValidFor(PacketAUTH) {
		return ErrInvalidReasonCode
	}
	return nil
}

// Method returns the authentication method property.
func (p *AuthPacket) Method() string { return p.Props.GetString(PropAuthenticationMethod) }

// Data returns the authentication data property.
func (p *AuthPacket) Data() []byte { return p.Props.GetBinary(PropAuthenticationData) }
