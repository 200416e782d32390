package mqtt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProtocolVersion(t *testing.T) {
	tests := []struct {
		version ProtocolVersion
		name    string
		proto   string
		valid   bool
	}{
		{ProtocolV31, "3.1", "MQIsdp", true},
		{ProtocolV311, "3.1.1", "MQTT", true},
		{ProtocolV50, "5.0", "MQTT", true},
		{ProtocolVersion(6), "unknown", "MQTT", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.name, tt.version.String())
			assert.Equal(t, tt.proto, tt.version.protocolName())
			assert.Equal(t, tt.valid, tt.version.Valid())
		})
	}
}

func TestPacketTypeString(t *testing.T) {
	assert.Equal(t, "CONNECT", PacketCONNECT.String())
	assert.Equal(t, "PUBCOMP", PacketPUBCOMP.String())
	assert.Equal(t, "AUTH", PacketAUTH.String())
	assert.Equal(t, "UNKNOWN", PacketType(0).String())
}

func TestPacketTypeValidFor(t *testing.T) {
	assert.True(t, PacketAUTH.ValidFor(ProtocolV50))
	assert.False(t, PacketAUTH.ValidFor(ProtocolV311))
	assert.False(t, PacketAUTH.ValidFor(ProtocolV31))
	assert.True(t, PacketPUBLISH.ValidFor(ProtocolV31))
	assert.False(t, PacketType(0).ValidFor(ProtocolV50))
}

func TestFixedHeaderEncodeDecode(t *testing.T) {
	tests := []struct {
		name   string
		header FixedHeader
		want   []byte
	}{
		{
			name:   "pingreq",
			header: FixedHeader{PacketType: PacketPINGREQ},
			want:   []byte{0xC0, 0x00},
		},
		{
			name:   "publish qos1 retain",
			header: FixedHeader{PacketType: PacketPUBLISH, Flags: publishFlags(false, 1, true), RemainingLength: 200},
			want:   []byte{0x33, 0xC8, 0x01},
		},
		{
			name:   "pubrel",
			header: FixedHeader{PacketType: PacketPUBREL, Flags: 0x02, RemainingLength: 2},
			want:   []byte{0x62, 0x02},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			n, err := tt.header.Encode(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.want, buf.Bytes())
			assert.Equal(t, tt.header.Size(), n)

			var decoded FixedHeader
			_, err = decoded.Decode(&buf)
			require.NoError(t, err)
			assert.Equal(t, tt.header, decoded)
			assert.NoError(t, decoded.ValidateFlags())
		})
	}
}

func TestFixedHeaderInvalidType(t *testing.T) {
	var buf bytes.Buffer
	h := FixedHeader{PacketType: 0}
	_, err := h.Encode(&buf)
	assert.ErrorIs(t, err, ErrInvalidPacketType)

	var decoded FixedHeader
	_, err = decoded.Decode(bytes.NewReader([]byte{0x00, 0x00}))
	assert.ErrorIs(t, err, ErrInvalidPacketType)
}

func TestFixedHeaderValidateFlags(t *testing.T) {
	tests := []struct {
		name    string
		header  FixedHeader
		wantErr bool
	}{
		{"publish qos3", FixedHeader{PacketType: PacketPUBLISH, Flags: 0x06}, true},
		{"publish dup qos2", FixedHeader{PacketType: PacketPUBLISH, Flags: 0x0C}, false},
		{"subscribe without reserved bit", FixedHeader{PacketType: PacketSUBSCRIBE}, true},
		{"connack with flags", FixedHeader{PacketType: PacketCONNACK, Flags: 0x01}, true},
		{"puback", FixedHeader{PacketType: PacketPUBACK}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.header.ValidateFlags()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPublishFlagAccessors(t *testing.T) {
	h := FixedHeader{PacketType: PacketPUBLISH, Flags: publishFlags(true, 2, true)}
	assert.True(t, h.DUP())
	assert.Equal(t, byte(2), h.QoS())
	assert.True(t, h.Retain())

	h.Flags = publishFlags(false, 0, false)
	assert.False(t, h.DUP())
	assert.Zero(t, h.QoS())
	assert.False(t, h.Retain())
}
