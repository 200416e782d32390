package mqtt

import (
	"bytes"
	"errors"
	"io"
)

// PropertyID is an MQTT 5 property identifier.
type PropertyID byte

const (
	PropPayloadFormatIndicator   PropertyID = 0x01
	PropMessageExpiryInterval    PropertyID = 0x02
	PropContentType              PropertyID = 0x03
	PropResponseTopic            PropertyID = 0x08
	PropCorrelationData          PropertyID = 0x09
	PropSubscriptionIdentifier   PropertyID = 0x0B
	PropSessionExpiryInterval    PropertyID = 0x11
	PropAssignedClientIdentifier PropertyID = 0x12
	PropServerKeepAlive          PropertyID = 0x13
	PropAuthenticationMethod     PropertyID = 0x15
	PropAuthenticationData       PropertyID = 0x16
	PropRequestProblemInfo       PropertyID = 0x17
	PropWillDelayInterval        PropertyID = 0x18
	PropRequestResponseInfo      PropertyID = 0x19
	PropResponseInformation      PropertyID = 0x1A
	PropServerReference          PropertyID = 0x1C
	PropReasonString             PropertyID = 0x1F
	PropReceiveMaximum           PropertyID = 0x21
	PropTopicAliasMaximum        PropertyID = 0x22
	PropTopicAlias               PropertyID = 0x23
	PropMaximumQoS               PropertyID = 0x24
	PropRetainAvailable          PropertyID = 0x25
	PropUserProperty             PropertyID = 0x26
	PropMaximumPacketSize        PropertyID = 0x27
	PropWildcardSubAvailable     PropertyID = 0x28
	PropSubscriptionIDAvailable  PropertyID = 0x29
	PropSharedSubAvailable       PropertyID = 0x2A
)

// PropertyType is the wire type of a property value.
type PropertyType byte

const (
	PropTypeByte        PropertyType = 0
	PropTypeTwoByteInt  PropertyType = 1
	PropTypeFourByteInt PropertyType = 2
	PropTypeVarInt      PropertyType = 3
	PropTypeString      PropertyType = 4
	PropTypeBinary      PropertyType = 5
	PropTypeStringPair  PropertyType = 6
)

var propertyTypes = map[PropertyID]PropertyType{
	PropPayloadFormatIndicator:   PropTypeByte,
	PropMessageExpiryInterval:    PropTypeFourByteInt,
	PropContentType:              PropTypeString,
	PropResponseTopic:            PropTypeString,
	PropCorrelationData:          PropTypeBinary,
	PropSubscriptionIdentifier:   PropTypeVarInt,
	PropSessionExpiryInterval:    PropTypeFourByteInt,
	PropAssignedClientIdentifier: PropTypeString,
	PropServerKeepAlive:          PropTypeTwoByteInt,
	PropAuthenticationMethod:     PropTypeString,
	PropAuthenticationData:       PropTypeBinary,
	PropRequestProblemInfo:       PropTypeByte,
	PropWillDelayInterval:        PropTypeFourByteInt,
	PropRequestResponseInfo:      PropTypeByte,
	PropResponseInformation:      PropTypeString,
	PropServerReference:          PropTypeString,
	PropReasonString:             PropTypeString,
	PropReceiveMaximum:           PropTypeTwoByteInt,
	PropTopicAliasMaximum:        PropTypeTwoByteInt,
	PropTopicAlias:               PropTypeTwoByteInt,
	PropMaximumQoS:               PropTypeByte,
	PropRetainAvailable:          PropTypeByte,
	PropUserProperty:             PropTypeStringPair,
	PropMaximumPacketSize:        PropTypeFourByteInt,
	PropWildcardSubAvailable:     PropTypeByte,
	PropSubscriptionIDAvailable:  PropTypeByte,
	PropSharedSubAvailable:       PropTypeByte,
}

// Type returns the wire type for the property and whether the id is known.
func (p PropertyID) Type() (PropertyType, bool) {
	t, ok := propertyTypes[p]
	return t, ok
}

// Property errors.
var (
	ErrInvalidPropertyID    = errors.New("invalid property identifier")
	ErrInvalidPropertyValue = errors.New("property value does not match its type")
	ErrPropertiesOverrun    = errors.New("property list overruns its declared length")
)

// Properties is an ordered MQTT 5 property list. The zero value is empty and
// ready to use. Values are stored as byte, uint16, uint32, string, []byte or
// StringPair according to the property type.
type Properties struct {
	props []property
}

type property struct {
	id    PropertyID
	value any
}

// Len returns the number of properties.
func (p *Properties) Len() int {
	if p == nil {
		return 0
	}
	return len(p.props)
}

// Has returns true if the property is present.
func (p *Properties) Has(id PropertyID) bool {
	if p == nil {
		return false
	}
	for i := range p.props {
		if p.props[i].id == id {
			return true
		}
	}
	return false
}

// Get returns the first value of the property, or nil.
func (p *Properties) Get(id PropertyID) any {
	if p == nil {
		return nil
	}
	for i := range p.props {
		if p.props[i].id == id {
			return p.props[i].value
		}
	}
	return nil
}

// GetAll returns every value for a repeatable property.
func (p *Properties) GetAll(id PropertyID) []any {
	if p == nil {
		return nil
	}
	var result []any
	for i := range p.props {
		if p.props[i].id == id {
			result = append(result, p.props[i].value)
		}
	}
	return result
}

// Set replaces the value of a single-valued property.
func (p *Properties) Set(id PropertyID, value any) {
	for i := range p.props {
		if p.props[i].id == id {
			p.props[i].value = value
			return
		}
	}
	p.props = append(p.props, property{id: id, value: value})
}

// Add appends a value for a repeatable property such as PropUserProperty.
func (p *Properties) Add(id PropertyID, value any) {
	p.props = append(p.props, property{id: id, value: value})
}

// Delete removes every value of the property.
func (p *Properties) Delete(id PropertyID) {
	if p == nil {
		return
	}
	n := 0
	for i := range p.props {
		if p.props[i].id != id {
			p.props[n] = p.props[i]
			n++
		}
	}
	p.props = p.props[:n]
}

// Clone returns a copy that shares no slices with p.
func (p *Properties) Clone() Properties {
	if p == nil || len(p.props) == 0 {
		return Properties{}
	}
	out := Properties{props: make([]property, len(p.props))}
	for i, prop := range p.props {
		if b, ok := prop.value.([]byte); ok {
			prop.value = bytes.Clone(b)
		}
		out.props[i] = prop
	}
	return out
}

func (p *Properties) GetByte(id PropertyID) byte {
	v, _ := p.Get(id).(byte)
	return v
}

func (p *Properties) GetUint16(id PropertyID) uint16 {
	v, _ := p.Get(id).(uint16)
	return v
}

func (p *Properties) GetUint32(id PropertyID) uint32 {
	v, _ := p.Get(id).(uint32)
	return v
}

func (p *Properties) GetString(id PropertyID) string {
	v, _ := p.Get(id).(string)
	return v
}

func (p *Properties) GetBinary(id PropertyID) []byte {
	v, _ := p.Get(id).([]byte)
	return v
}

// GetStringPairs returns every string pair stored under id.
func (p *Properties) GetStringPairs(id PropertyID) []StringPair {
	var result []StringPair
	for _, v := range p.GetAll(id) {
		if sp, ok := v.(StringPair); ok {
			result = append(result, sp)
		}
	}
	return result
}

// GetVarInts returns every variable byte integer stored under id.
func (p *Properties) GetVarInts(id PropertyID) []uint32 {
	var result []uint32
	for _, v := range p.GetAll(id) {
		if u, ok := v.(uint32); ok {
			result = append(result, u)
		}
	}
	return result
}

// Encode writes the property length followed by each property.
func (p *Properties) Encode(w io.Writer) (int, error) {
	if p.Len() == 0 {
		return encodeVarint(w, 0)
	}

	var body bytes.Buffer
	for i := range p.props {
		if err := encodeProperty(&body, &p.props[i]); err != nil {
			return 0, err
		}
	}

	n, err := encodeVarint(w, uint32(body.Len()))
	if err != nil {
		return n, err
	}
	n2, err := w.Write(body.Bytes())
	return n + n2, err
}

func encodeProperty(w io.Writer, prop *property) error {
	propType, ok := prop.id.Type()
	if !ok {
		return ErrInvalidPropertyID
	}

	if _, err := writeByte(w, byte(prop.id)); err != nil {
		return err
	}

	var err error
	switch propType {
	case PropTypeByte:
		v, ok := prop.value.(byte)
		if !ok {
			return ErrInvalidPropertyValue
		}
		_, err = writeByte(w, v)
	case PropTypeTwoByteInt:
		v, ok := prop.value.(uint16)
		if !ok {
			return ErrInvalidPropertyValue
		}
		_, err = writeUint16(w, v)
	case PropTypeFourByteInt:
		v, ok := prop.value.(uint32)
		if !ok {
			return ErrInvalidPropertyValue
		}
		_, err = writeUint32(w, v)
	case PropTypeVarInt:
		v, ok := prop.value.(uint32)
		if !ok {
			return ErrInvalidPropertyValue
		}
		_, err = encodeVarint(w, v)
	case PropTypeString:
		v, ok := prop.value.(string)
		if !ok {
			return ErrInvalidPropertyValue
		}
		_, err = encodeString(w, v)
	case PropTypeBinary:
		v, ok := prop.value.([]byte)
		if !ok {
			return ErrInvalidPropertyValue
		}
		_, err = encodeBinary(w, v)
	case PropTypeStringPair:
		v, ok := prop.value.(StringPair)
		if !ok {
			return ErrInvalidPropertyValue
		}
		_, err = encodeStringPair(w, v)
	}
	return err
}

// Decode reads a property list. An unknown identifier yields
// ErrInvalidPropertyID.
func (p *Properties) Decode(r io.Reader) (int, error) {
	length, n, err := decodeVarint(r)
	if err != nil {
		return n, err
	}

	remaining := int(length)
	for remaining > 0 {
		id, n2, err := readByte(r)
		n += n2
		remaining -= n2
		if err != nil {
			return n, err
		}

		propType, ok := PropertyID(id).Type()
		if !ok {
			return n, ErrInvalidPropertyID
		}

		value, n3, err := decodePropertyValue(r, propType)
		n += n3
		remaining -= n3
		if err != nil {
			return n, err
		}

		p.props = append(p.props, property{id: PropertyID(id), value: value})
	}

	if remaining < 0 {
		return n, ErrPropertiesOverrun
	}

	return n, nil
}

func decodePropertyValue(r io.Reader, t PropertyType) (any, int, error) {
	switch t {
	case PropTypeByte:
		return readByte(r)
	case PropTypeTwoByteInt:
		return readUint16(r)
	case PropTypeFourByteInt:
		return readUint32(r)
	case PropTypeVarInt:
		return decodeVarint(r)
	case PropTypeString:
		return decodeString(r)
	case PropTypeBinary:
		b, n, err := decodeBinary(r)
		if b == nil && err == nil {
			b = []byte{}
		}
		return b, n, err
	case PropTypeStringPair:
		return decodeStringPair(r)
	}
	return nil, 0, ErrInvalidPropertyValue
}
