package mqtt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConnectPacketFlags(t *testing.T) {
	tests := []struct {
		name string
		pkt  ConnectPacket
		want byte
	}{
		{"none", ConnectPacket{}, 0x00},
		{"clean start", ConnectPacket{CleanStart: true}, 0x02},
		{"will qos 1", ConnectPacket{WillFlag: true, WillQoS: 1, WillTopic: "w"}, 0x0C},
		{"will qos 2 retained", ConnectPacket{WillFlag: true, WillQoS: 2, WillRetain: true, WillTopic: "w"}, 0x34},
		{"username only", ConnectPacket{Username: "u"}, 0x80},
		{"empty password", ConnectPacket{Password: []byte{}}, 0x40},
		{"everything", ConnectPacket{CleanStart: true, Username: "u", Password: []byte("p"), WillFlag: true, WillTopic: "w"}, 0xC6},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.pkt.flags())
		})
	}
}

func TestConnectPacketSetFlagsRejects(t *testing.T) {
	for _, flags := range []byte{0x01, 0x18, 0x08, 0x20} {
		var p ConnectPacket
		assert.ErrorIs(t, p.setFlags(flags), ErrInvalidConnectFlags, "flags %#x", flags)
	}
}

func TestConnectPacketEmptyPasswordSurvives(t *testing.T) {
	var buf bytes.Buffer
	_, err := WritePacket(&buf, &ConnectPacket{ClientID: "c", Password: []byte{}}, ProtocolV311, 0)
	require.NoError(t, err)

	pkt, err := ReadPacket(&buf, ProtocolV311, 0)
	require.NoError(t, err)
	got := pkt.(*ConnectPacket)
	assert.NotNil(t, got.Password)
	assert.Empty(t, got.Password)
}

func TestConnectPacketEncodeRejects(t *testing.T) {
	var buf bytes.Buffer

	_, err := (&ConnectPacket{ClientID: "abcdefghijklmnopqrstuvwxyz"}).Encode(&buf, ProtocolV31)
	assert.ErrorIs(t, err, ErrClientIDTooLong)

	_, err = (&ConnectPacket{ClientID: "abcdefghijklmnopqrstuvwxyz"}).Encode(&buf, ProtocolV311)
	assert.NoError(t, err)

	_, err = (&ConnectPacket{}).Encode(&buf, ProtocolVersion(6))
	assert.ErrorIs(t, err, ErrInvalidProtocolVersion)

	_, err = (&ConnectPacket{WillFlag: true, WillTopic: "a/+"}).Encode(&buf, ProtocolV311)
	assert.Error(t, err)
}

func TestConnectPacketWillPropsV5Only(t *testing.T) {
	will := &Will{Topic: "status", Payload: []byte("gone"), QoS: 1, DelayInterval: 30, ContentType: "text/plain"}

	for _, v := range []ProtocolVersion{ProtocolV311, ProtocolV50} {
		t.Run(v.String(), func(t *testing.T) {
			pkt := &ConnectPacket{ClientID: "c"}
			will.apply(pkt, v)

			var buf bytes.Buffer
			_, err := WritePacket(&buf, pkt, v, 0)
			require.NoError(t, err)

			decoded, err := ReadPacket(&buf, v, 0)
			require.NoError(t, err)
			got := decoded.(*ConnectPacket)

			assert.True(t, got.WillFlag)
			assert.Equal(t, "status", got.WillTopic)
			assert.Equal(t, []byte("gone"), got.WillPayload)
			assert.Equal(t, byte(1), got.WillQoS)
			if v == ProtocolV50 {
				assert.Equal(t, uint32(30), got.WillProps.GetUint32(PropWillDelayInterval))
				assert.Equal(t, "text/plain", got.WillProps.GetString(PropContentType))
			} else {
				assert.Equal(t, 0, got.WillProps.Len())
			}
		})
	}
}
