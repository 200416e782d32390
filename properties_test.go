package mqtt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPropertyIDType(t *testing.T) {
	tests := []struct {
		id   PropertyID
		want PropertyType
	}{
		{PropPayloadFormatIndicator, PropTypeByte},
		{PropReceiveMaximum, PropTypeTwoByteInt},
		{PropSessionExpiryInterval, PropTypeFourByteInt},
		{PropSubscriptionIdentifier, PropTypeVarInt},
		{PropContentType, PropTypeString},
		{PropCorrelationData, PropTypeBinary},
		{PropUserProperty, PropTypeStringPair},
	}

	for _, tt := range tests {
		got, ok := tt.id.Type()
		assert.True(t, ok)
		assert.Equal(t, tt.want, got)
	}

	_, ok := PropertyID(0x7F).Type()
	assert.False(t, ok)
}

func TestPropertiesAllTypesRoundTrip(t *testing.T) {
	var props Properties
	props.Set(PropPayloadFormatIndicator, byte(1))
	props.Set(PropReceiveMaximum, uint16(20))
	props.Set(PropMessageExpiryInterval, uint32(3600))
	props.Add(PropSubscriptionIdentifier, uint32(268435455))
	props.Set(PropContentType, "application/json")
	props.Set(PropCorrelationData, []byte{0x01, 0x02, 0x03})
	props.Add(PropUserProperty, StringPair{Key: "a", Value: "1"})
	props.Add(PropUserProperty, StringPair{Key: "b", Value: "2"})

	var buf bytes.Buffer
	n, err := props.Encode(&buf)
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)

	var decoded Properties
	n2, err := decoded.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, n, n2)

	assert.Equal(t, props.Len(), decoded.Len())
	assert.Equal(t, byte(1), decoded.GetByte(PropPayloadFormatIndicator))
	assert.Equal(t, uint16(20), decoded.GetUint16(PropReceiveMaximum))
	assert.Equal(t, uint32(3600), decoded.GetUint32(PropMessageExpiryInterval))
	assert.Equal(t, []uint32{268435455}, decoded.GetVarInts(PropSubscriptionIdentifier))
	assert.Equal(t, "application/json", decoded.GetString(PropContentType))
	assert.Equal(t, []byte{0x01, 0x02, 0x03}, decoded.GetBinary(PropCorrelationData))
	assert.Equal(t, []StringPair{{"a", "1"}, {"b", "2"}}, decoded.GetStringPairs(PropUserProperty))
}

func TestPropertiesEmpty(t *testing.T) {
	var props Properties
	var buf bytes.Buffer

	n, err := props.Encode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, []byte{0x00}, buf.Bytes())

	var decoded Properties
	_, err = decoded.Decode(&buf)
	require.NoError(t, err)
	assert.Zero(t, decoded.Len())
}

func TestPropertiesDecodeInvalidID(t *testing.T) {
	var props Properties
	_, err := props.Decode(bytes.NewReader([]byte{0x02, 0x7F, 0x00}))
	assert.ErrorIs(t, err, ErrInvalidPropertyID)
}

func TestPropertiesDecodeOverrun(t *testing.T) {
	// declared length 2, but the four-byte integer needs 5 bytes
	var props Properties
	_, err := props.Decode(bytes.NewReader([]byte{0x02, 0x02, 0x00, 0x00, 0x00, 0x10}))
	assert.ErrorIs(t, err, ErrPropertiesOverrun)
}

func TestPropertiesEncodeWrongValueType(t *testing.T) {
	var props Properties
	props.Set(PropReceiveMaximum, 10)

	_, err := props.Encode(&bytes.Buffer{})
	assert.ErrorIs(t, err, ErrInvalidPropertyValue)
}

func TestPropertiesSetAddDelete(t *testing.T) {
	var props Properties
	props.Set(PropContentType, "text/plain")
	props.Set(PropContentType, "text/html")
	assert.Equal(t, 1, props.Len())
	assert.Equal(t, "text/html", props.GetString(PropContentType))

	props.Add(PropUserProperty, StringPair{Key: "k", Value: "v"})
	props.Add(PropUserProperty, StringPair{Key: "k", Value: "w"})
	assert.Len(t, props.GetAll(PropUserProperty), 2)

	props.Delete(PropUserProperty)
	assert.False(t, props.Has(PropUserProperty))
	assert.True(t, props.Has(PropContentType))
}

func TestPropertiesClone(t *testing.T) {
	var props Properties
	props.Set(PropCorrelationData, []byte{0x01})

	clone := props.Clone()
	props.GetBinary(PropCorrelationData)[0] = 0xFF

	assert.Equal(t, []byte{0x01}, clone.GetBinary(PropCorrelationData))
}

func TestPropertiesNilReceiver(t *testing.T) {
	var props *Properties
	assert.Zero(t, props.Len())
	assert.False(t, props.Has(PropContentType))
	assert.Nil(t, props.Get(PropContentType))
	assert.Empty(t, props.GetString(PropContentType))
	clone := props.Clone()
	assert.Zero(t, clone.Len())
}

func FuzzPropertiesDecode(f *testing.F) {
	f.Add([]byte{0x00})
	f.Add([]byte{0x05, 0x03, 0x00, 0x02, 'h', 'i'})
	f.Add([]byte{0x02, 0x7F, 0x00})

	f.Fuzz(func(_ *testing.T, data []byte) {
		var props Properties
		_, _ = props.Decode(bytes.NewReader(data))
	})
}
