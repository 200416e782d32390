package mqtt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAckEncodingV5ShortForm(t *testing.T) {
	t.Run("success without properties omits reason code", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := newPuback(10, ReasonSuccess).Encode(&buf, ProtocolV50)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x40, 0x02, 0x00, 0x0A}, buf.Bytes())
	})

	t.Run("error code is written", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := newPubrec(10, ReasonQuotaExceeded).Encode(&buf, ProtocolV50)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x50, 0x03, 0x00, 0x0A, byte(ReasonQuotaExceeded)}, buf.Bytes())
	})

	t.Run("v3 never writes a reason code", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := newPubcomp(10, ReasonPacketIDNotFound).Encode(&buf, ProtocolV311)
		require.NoError(t, err)
		assert.Equal(t, []byte{0x70, 0x02, 0x00, 0x0A}, buf.Bytes())
	})

	t.Run("pubrel carries flags 0x02", func(t *testing.T) {
		var buf bytes.Buffer
		_, err := newPubrel(1, ReasonSuccess).Encode(&buf, ProtocolV311)
		require.NoError(t, err)
		assert.Equal(t, byte(0x62), buf.Bytes()[0])
	})
}

func TestAckDecodeShortFormIsSuccess(t *testing.T) {
	pkt, err := ReadPacket(bytes.NewReader([]byte{0x40, 0x02, 0x00, 0x05}), ProtocolV50, 0)
	require.NoError(t, err)
	ack := pkt.(*PubackPacket)
	assert.Equal(t, uint16(5), ack.PacketID)
	assert.Equal(t, ReasonSuccess, ack.ReasonCode)
}

func TestAckRejectsZeroPacketID(t *testing.T) {
	var buf bytes.Buffer
	_, err := newPuback(0, ReasonSuccess).Encode(&buf, ProtocolV311)
	assert.ErrorIs(t, err, ErrPacketIDRequired)

	_, err = ReadPacket(bytes.NewReader([]byte{0x40, 0x02, 0x00, 0x00}), ProtocolV311, 0)
	assert.ErrorIs(t, err, ErrPacketIDRequired)
}

func TestAckValidateReasonCode(t *testing.T) {
	assert.NoError(t, newPuback(1, ReasonNoMatchingSubscribers).Validate())
	assert.ErrorIs(t, newPubrel(1, ReasonNoMatchingSubscribers).Validate(), ErrInvalidReasonCode)
	assert.NoError(t, newPubrel(1, ReasonPacketIDNotFound).Validate())
}
