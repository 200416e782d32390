package mqtt

import (
	"errors"
	"io"
)

// ProtocolVersion is the MQTT protocol level carried in CONNECT.
type ProtocolVersion byte

const (
	ProtocolV31  ProtocolVersion = 3
	ProtocolV311 ProtocolVersion = 4
	ProtocolV50  ProtocolVersion = 5
)

func (v ProtocolVersion) String() string {
	switch v {
	case ProtocolV31:
		return "3.1"
	case ProtocolV311:
		return "3.1.1"
	case ProtocolV50:
		return "5.0"
	default:
		return "unknown"
	}
}

// Valid reports whether v is one of the supported protocol levels.
func (v ProtocolVersion) Valid() bool {
	return v == ProtocolV31 || v == ProtocolV311 || v == ProtocolV50
}

// protocolName returns the protocol name written in CONNECT.
func (v ProtocolVersion) protocolName() string {
	if v == ProtocolV31 {
		return "MQIsdp"
	}
	return "MQTT"
}

// PacketType represents an MQTT control packet type.
type PacketType byte

const (
	PacketCONNECT     PacketType = 1
	PacketCONNACK     PacketType = 2
	PacketPUBLISH     PacketType = 3
	PacketPUBACK      PacketType = 4
	PacketPUBREC      PacketType = 5
	PacketPUBREL      PacketType = 6
	PacketPUBCOMP     PacketType = 7
	PacketSUBSCRIBE   PacketType = 8
	PacketSUBACK      PacketType = 9
	PacketUNSUBSCRIBE PacketType = 10
	PacketUNSUBACK    PacketType = 11
	PacketPINGREQ     PacketType = 12
	PacketPINGRESP    PacketType = 13
	PacketDISCONNECT  PacketType = 14
	PacketAUTH        PacketType = 15
)

var packetTypeNames = [...]string{
	PacketCONNECT:     "CONNECT",
	PacketCONNACK:     "CONNACK",
	PacketPUBLISH:     "PUBLISH",
	PacketPUBACK:      "PUBACK",
	PacketPUBREC:      "PUBREC",
	PacketPUBREL:      "PUBREL",
	PacketPUBCOMP:     "PUBCOMP",
	PacketSUBSCRIBE:   "SUBSCRIBE",
	PacketSUBACK:      "SUBACK",
	PacketUNSUBSCRIBE: "UNSUBSCRIBE",
	PacketUNSUBACK:    "UNSUBACK",
	PacketPINGREQ:     "PINGREQ",
	PacketPINGRESP:    "PINGRESP",
	PacketDISCONNECT:  "DISCONNECT",
	PacketAUTH:        "AUTH",
}

func (p PacketType) String() string {
	if p.Valid() {
		return packetTypeNames[p]
	}
	return "UNKNOWN"
}

// Valid returns true if the packet type is within 1..15.
func (p PacketType) Valid() bool {
	return p >= PacketCONNECT && p <= PacketAUTH
}

// ValidFor reports whether the packet type exists in protocol version v.
// AUTH was introduced in MQTT 5.
func (p PacketType) ValidFor(v ProtocolVersion) bool {
	if p == PacketAUTH {
		return v == ProtocolV50
	}
	return p.Valid()
}

// Fixed header errors.
var (
	ErrInvalidPacketType  = errors.New("invalid packet type")
	ErrInvalidPacketFlags = errors.New("invalid packet flags")
)

// FixedHeader represents the fixed header of an MQTT control packet.
type FixedHeader struct {
	PacketType      PacketType
	Flags           byte
	RemainingLength uint32
}

// Encode writes the fixed header to the writer.
func (h *FixedHeader) Encode(w io.Writer) (int, error) {
	if !h.PacketType.Valid() {
		return 0, ErrInvalidPacketType
	}

	var scratch [1 + maxVarintBytes]byte
	buf := append(scratch[:0], byte(h.PacketType)<<4|(h.Flags&0x0F))

	buf, err := appendVarint(buf, h.RemainingLength)
	if err != nil {
		return 0, err
	}

	return w.Write(buf)
}

// Decode reads the fixed header from the reader.
func (h *FixedHeader) Decode(r io.Reader) (int, error) {
	first, n, err := readByte(r)
	if err != nil {
		return n, err
	}

	h.PacketType = PacketType(first >> 4)
	h.Flags = first & 0x0F

	if !h.PacketType.Valid() {
		return n, ErrInvalidPacketType
	}

	length, n2, err := decodeVarint(r)
	n += n2
	if err != nil {
		return n, err
	}

	h.RemainingLength = length
	return n, nil
}

// Size returns the encoded size of the fixed header in bytes.
func (h *FixedHeader) Size() int {
	return 1 + varintSize(h.RemainingLength)
}

// ValidateFlags checks the reserved flag bits for the packet type.
func (h *FixedHeader) ValidateFlags() error {
	switch h.PacketType {
	case PacketPUBLISH:
		if h.QoS() > 2 {
			return ErrInvalidPacketFlags
		}
		return nil

	case PacketPUBREL, PacketSUBSCRIBE, PacketUNSUBSCRIBE:
		if h.Flags != 0x02 {
			return ErrInvalidPacketFlags
		}
		return nil

	case PacketCONNECT, PacketCONNACK, PacketPUBACK, PacketPUBREC,
		PacketPUBCOMP, PacketSUBACK, PacketUNSUBACK, PacketPINGREQ,
		PacketPINGRESP, PacketDISCONNECT, PacketAUTH:
		if h.Flags != 0x00 {
			return ErrInvalidPacketFlags
		}
		return nil

	default:
		return ErrInvalidPacketType
	}
}

// DUP returns the DUP flag of a PUBLISH header.
func (h *FixedHeader) DUP() bool {
	return h.Flags&0x08 != 0
}

// QoS returns the QoS bits of a PUBLISH header.
func (h *FixedHeader) QoS() byte {
	return (h.Flags >> 1) & 0x03
}

// Retain returns the RETAIN flag of a PUBLISH header.
func (h *FixedHeader) Retain() bool {
	return h.Flags&0x01 != 0
}

func publishFlags(dup bool, qos byte, retain bool) byte {
	var flags byte
	if dup {
		flags |= 0x08
	}
	flags |= (qos & 0x03) << 1
	if retain {
		flags |= 0x01
	}
	return flags
}
