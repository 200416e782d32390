package mqtt

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestReasonCodeString(t *testing.T) {
	tests := []struct {
		code ReasonCode
		want string
	}{
		{ReasonSuccess, "Success"},
		{ReasonGrantedQoS1, "Granted QoS 1"},
		{ReasonGrantedQoS2, "Granted QoS 2"},
		{ReasonDisconnectWithWill, "Disconnect with Will Message"},
		{ReasonNoMatchingSubscribers, "No matching subscribers"},
		{ReasonUnspecifiedError, "Unspecified error"},
		{ReasonMalformedPacket, "Malformed Packet"},
		{ReasonProtocolError, "Protocol Error"},
		{ReasonNotAuthorized, "Not authorized"},
		{ReasonServerBusy, "Server busy"},
		{ReasonPacketTooLarge, "Packet too large"},
		{ReasonCode(0xFF), "Unknown reason code"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.code.String())
		})
	}
}

func TestReasonCodeIsError(t *testing.T) {
	for _, rc := range []ReasonCode{ReasonSuccess, ReasonGrantedQoS2, ReasonNoMatchingSubscribers, ReasonContinueAuth, ReasonReAuth} {
		assert.False(t, rc.IsError(), rc.String())
	}
	for _, rc := range []ReasonCode{ReasonUnspecifiedError, ReasonNotAuthorized, ReasonQuotaExceeded, ReasonWildcardSubsNotSupported} {
		assert.True(t, rc.IsError(), rc.String())
	}
}

func TestReasonCodeValidFor(t *testing.T) {
	tests := []struct {
		pt    PacketType
		code  ReasonCode
		valid bool
	}{
		{PacketPUBACK, ReasonSuccess, true},
		{PacketPUBACK, ReasonQuotaExceeded, true},
		{PacketPUBACK, ReasonPacketIDNotFound, false},
		{PacketPUBREC, ReasonPayloadFormatInvalid, true},
		{PacketPUBREC, ReasonServerBusy, false},
		{PacketPUBREL, ReasonPacketIDNotFound, true},
		{PacketPUBREL, ReasonNotAuthorized, false},
		{PacketPUBCOMP, ReasonSuccess, true},
		{PacketAUTH, ReasonContinueAuth, true},
		{PacketAUTH, ReasonBadAuthMethod, false},
		// No table: anything goes.
		{PacketDISCONNECT, ReasonSessionTakenOver, true},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.valid, tt.code.ValidFor(tt.pt), "%s %s", tt.pt, tt.code)
	}
}

func TestV3ConnackReturnCodes(t *testing.T) {
	tests := []struct {
		rc   byte
		want ReasonCode
	}{
		{0, ReasonSuccess},
		{1, ReasonUnsupportedProtocolVersion},
		{2, ReasonClientIDNotValid},
		{3, ReasonServerUnavailable},
		{4, ReasonBadUserNameOrPassword},
		{5, ReasonNotAuthorized},
		{6, ReasonUnspecifiedError},
	}

	for _, tt := range tests {
		got := reasonFromV3Connack(tt.rc)
		assert.Equal(t, tt.want, got)
		if tt.rc <= 5 {
			assert.Equal(t, tt.rc, v3ConnackReturnCode(got))
		}
	}

	// Codes with no 3.x equivalent are reported as server unavailable.
	assert.Equal(t, byte(3), v3ConnackReturnCode(ReasonQuotaExceeded))
}
