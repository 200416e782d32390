package mqtt

import (
	"bytes"
	"errors"
	"io"
)

// Packet is implemented by the fifteen MQTT control packets. Encoding and
// decoding depend on the negotiated protocol version: properties and
// reason codes only exist on the wire for MQTT 5.
type Packet interface {
	Type() PacketType
	Encode(w io.Writer, v ProtocolVersion) (int, error)
	// Decode reads the packet body. The fixed header is already consumed.
	Decode(r io.Reader, header FixedHeader, v ProtocolVersion) (int, error)
	Validate() error
}

// ErrPacketTooLarge is returned when an encoded packet exceeds the maximum
// remaining length or the negotiated maximum packet size.
var ErrPacketTooLarge = errors.New("packet exceeds maximum size")

// encoder accumulates a packet body. The first error sticks and every later
// write becomes a no-op.
type encoder struct {
	buf bytes.Buffer
	err error
}

func (e *encoder) byte(b byte) {
	if e.err == nil {
		e.buf.WriteByte(b)
	}
}

func (e *encoder) uint16(v uint16) {
	if e.err == nil {
		_, e.err = writeUint16(&e.buf, v)
	}
}

func (e *encoder) string(s string) {
	if e.err == nil {
		_, e.err = encodeString(&e.buf, s)
	}
}

func (e *encoder) binary(b []byte) {
	if e.err == nil {
		_, e.err = encodeBinary(&e.buf, b)
	}
}

func (e *encoder) raw(b []byte) {
	if e.err == nil {
		e.buf.Write(b)
	}
}

func (e *encoder) props(p *Properties, v ProtocolVersion) {
	if e.err == nil && v == ProtocolV50 {
		_, e.err = p.Encode(&e.buf)
	}
}

// flush writes the fixed header and the accumulated body to w.
func (e *encoder) flush(w io.Writer, pt PacketType, flags byte) (int, error) {
	if e.err != nil {
		return 0, e.err
	}
	if e.buf.Len() > maxVarint {
		return 0, ErrPacketTooLarge
	}

	header := FixedHeader{PacketType: pt, Flags: flags, RemainingLength: uint32(e.buf.Len())}
	n, err := header.Encode(w)
	if err != nil {
		return n, err
	}

	n2, err := w.Write(e.buf.Bytes())
	return n + n2, err
}

// decoder reads packet fields with a sticky error and a running byte count.
type decoder struct {
	r   io.Reader
	n   int
	err error
}

func (d *decoder) byte() byte {
	if d.err != nil {
		return 0
	}
	b, n, err := readByte(d.r)
	d.n += n
	d.err = err
	return b
}

func (d *decoder) uint16() uint16 {
	if d.err != nil {
		return 0
	}
	v, n, err := readUint16(d.r)
	d.n += n
	d.err = err
	return v
}

func (d *decoder) string() string {
	if d.err != nil {
		return ""
	}
	s, n, err := decodeString(d.r)
	d.n += n
	d.err = err
	return s
}

func (d *decoder) binary() []byte {
	if d.err != nil {
		return nil
	}
	b, n, err := decodeBinary(d.r)
	d.n += n
	d.err = err
	return b
}

func (d *decoder) props(p *Properties, v ProtocolVersion) {
	if d.err != nil || v != ProtocolV50 {
		return
	}
	n, err := p.Decode(d.r)
	d.n += n
	d.err = err
}

// rest reads everything up to the end of a body of length total.
func (d *decoder) rest(total uint32) []byte {
	if d.err != nil {
		return nil
	}
	remaining := int(total) - d.n
	if remaining < 0 {
		d.err = ErrMalformedPacket
		return nil
	}
	if remaining == 0 {
		return nil
	}
	buf := make([]byte, remaining)
	n, err := io.ReadFull(d.r, buf)
	d.n += n
	d.err = err
	return buf
}

// more reports whether unread bytes remain in a body of length total.
func (d *decoder) more(total uint32) bool {
	return d.err == nil && d.n < int(total)
}

func (d *decoder) result() (int, error) {
	return d.n, d.err
}

// Message is an application message as handed to and received from the
// client API.
type Message struct {
	Topic   string
	Payload []byte
	QoS     byte
	Retain  bool

	// Duplicate and PacketID are set on received messages.
	Duplicate bool
	PacketID  uint16

	// MQTT 5 publish properties.
	PayloadFormat           byte
	MessageExpiry           uint32
	ContentType             string
	ResponseTopic           string
	CorrelationData         []byte
	UserProperties          []StringPair
	SubscriptionIdentifiers []uint32
}

// ToProperties converts the message metadata to PUBLISH properties.
func (m *Message) ToProperties() Properties {
	var p Properties

	if m.PayloadFormat != 0 {
		p.Set(PropPayloadFormatIndicator, m.PayloadFormat)
	}
	if m.MessageExpiry != 0 {
		p.Set(PropMessageExpiryInterval, m.MessageExpiry)
	}
	if m.ContentType != "" {
		p.Set(PropContentType, m.ContentType)
	}
	if m.ResponseTopic != "" {
		p.Set(PropResponseTopic, m.ResponseTopic)
	}
	if len(m.CorrelationData) > 0 {
		p.Set(PropCorrelationData, m.CorrelationData)
	}
	for _, up := range m.UserProperties {
		p.Add(PropUserProperty, up)
	}

	return p
}

// FromProperties fills the message metadata from PUBLISH properties.
func (m *Message) FromProperties(p *Properties) {
	if p == nil {
		return
	}

	m.PayloadFormat = p.GetByte(PropPayloadFormatIndicator)
	m.MessageExpiry = p.GetUint32(PropMessageExpiryInterval)
	m.ContentType = p.GetString(PropContentType)
	m.ResponseTopic = p.GetString(PropResponseTopic)
	m.CorrelationData = p.GetBinary(PropCorrelationData)
	m.UserProperties = p.GetStringPairs(PropUserProperty)
	m.SubscriptionIdentifiers = p.GetVarInts(PropSubscriptionIdentifier)
}
