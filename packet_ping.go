package mqtt

import "io"

// PingreqPacket is the PINGREQ packet. It has no body.
type PingreqPacket struct{}

func (p *PingreqPacket) Type() PacketType { return PacketPINGREQ }

func (p *PingreqPacket) Encode(w io.Writer, _ ProtocolVersion) (int, error) {
	return w.Write([]byte{byte(PacketPINGREQ) << 4, 0x00})
}

func (p *PingreqPacket) Decode(_ io.Reader, header FixedHeader, _ ProtocolVersion) (int, error) {
	if header.RemainingLength != 0 {
		return 0, ErrMalformedPacket
	}
	return 0, nil
}

func (p *PingreqPacket) Validate() error { return nil }

// PingrespPacket is the PINGRESP packet. It has no body.
type PingrespPacket struct{}

func (p *PingrespPacket) Type() PacketType { return PacketPINGRESP }

func (p *PingrespPacket) Encode(w io.Writer, _ ProtocolVersion) (int, error) {
	return w.Write([]byte{byte(PacketPINGRESP) << 4, 0x00})
}

func (p *PingrespPacket) Decode(_ io.Reader, header FixedHeader, _ ProtocolVersion) (int, error) {
	if header.RemainingLength != 0 {
		return 0, ErrMalformedPacket
	}
	return 0, nil
}

func (p *PingrespPacket) Validate() error { return nil }
