package mqtt

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

var (
	ErrMalformedPacket   = errors.New("malformed packet")
	ErrUnknownPacketType = errors.New("unknown packet type")
	ErrInvalidReasonCode = errors.New("invalid reason code for packet type")
)

func newPacket(pt PacketType) (Packet, error) {
	switch pt {
	case PacketCONNECT:
		return &ConnectPacket{}, nil
	case PacketCONNACK:
		return &ConnackPacket{}, nil
	case PacketPUBLISH:
		return &PublishPacket{}, nil
	case PacketPUBACK:
		return &PubackPacket{}, nil
	case PacketPUBREC:
		return &PubrecPacket{}, nil
	case PacketPUBREL:
		return &PubrelPacket{}, nil
	case PacketPUBCOMP:
		return &PubcompPacket{}, nil
	case PacketSUBSCRIBE:
		return &SubscribePacket{}, nil
	case PacketSUBACK:
		return &SubackPacket{}, nil
	case PacketUNSUBSCRIBE:
		return &UnsubscribePacket{}, nil
	case PacketUNSUBACK:
		return &UnsubackPacket{}, nil
	case PacketPINGREQ:
		return &PingreqPacket{}, nil
	case PacketPINGRESP:
		return &PingrespPacket{}, nil
	case PacketDISCONNECT:
		return &DisconnectPacket{}, nil
	case PacketAUTH:
		return &AuthPacket{}, nil
	default:
		return nil, ErrUnknownPacketType
	}
}

// readFrame reads one fixed header and its body. Errors from here leave the
// stream position undefined, so callers treat them as fatal to the
// connection.
func readFrame(r io.Reader, maxSize uint32) (FixedHeader, []byte, error) {
	var header FixedHeader
	if _, err := header.Decode(r); err != nil {
		return header, nil, err
	}

	if maxSize > 0 && uint32(header.Size())+header.RemainingLength > maxSize {
		return header, nil, ErrPacketTooLarge
	}

	body := make([]byte, header.RemainingLength)
	if _, err := io.ReadFull(r, body); err != nil {
		return header, nil, err
	}

	return header, body, nil
}

// DecodePacket decodes a packet body already split off the stream. Every
// failure is reported as ErrMalformedPacket (wrapping the cause); the
// surrounding stream is unaffected, so the caller may drop the packet and
// keep reading.
func DecodePacket(header FixedHeader, body []byte, v ProtocolVersion) (Packet, error) {
	if !header.PacketType.ValidFor(v) {
		return nil, fmt.Errorf("%w: %s under MQTT %s: %w", ErrMalformedPacket, header.PacketType, v, ErrUnknownPacketType)
	}
	if err := header.ValidateFlags(); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedPacket, header.PacketType, err)
	}

	pkt, err := newPacket(header.PacketType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPacket, err)
	}

	r := bytes.NewReader(body)
	if _, err := pkt.Decode(r, header, v); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedPacket, header.PacketType, err)
	}
	if r.Len() != 0 {
		return nil, fmt.Errorf("%w: %s: %d trailing bytes", ErrMalformedPacket, header.PacketType, r.Len())
	}

	return pkt, nil
}

// ReadPacket reads and decodes one packet from r. If maxSize is greater
// than 0, larger packets return ErrPacketTooLarge.
func ReadPacket(r io.Reader, v ProtocolVersion, maxSize uint32) (Packet, error) {
	header, body, err := readFrame(r, maxSize)
	if err != nil {
		return nil, err
	}
	return DecodePacket(header, body, v)
}

// EncodePacket returns the wire form of pkt.
func EncodePacket(pkt Packet, v ProtocolVersion) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := pkt.Encode(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WritePacket encodes pkt and writes it to w. If maxSize is greater than
// 0, packets larger than maxSize return ErrPacketTooLarge and nothing is
// written.
func WritePacket(w io.Writer, pkt Packet, v ProtocolVersion, maxSize uint32) (int, error) {
	data, err := EncodePacket(pkt, v)
	if err != nil {
		return 0, err
	}
	if maxSize > 0 && uint32(len(data)) > maxSize {
		return 0, ErrPacketTooLarge
	}
	return w.Write(data)
}
