package mqtt

// ReasonCode is an MQTT 5 reason code. MQTT 3.x CONNACK return codes are
// translated into this space on decode so callers handle one type.
type ReasonCode byte

const (
	ReasonSuccess                    ReasonCode = 0x00
	ReasonGrantedQoS1                ReasonCode = 0x01
	ReasonGrantedQoS2                ReasonCode = 0x02
	ReasonDisconnectWithWill         ReasonCode = 0x04
	ReasonNoMatchingSubscribers      ReasonCode = 0x10
	ReasonNoSubscriptionExisted      ReasonCode = 0x11
	ReasonContinueAuth               ReasonCode = 0x18
	ReasonReAuth                     ReasonCode = 0x19
	ReasonUnspecifiedError           ReasonCode = 0x80
	ReasonMalformedPacket            ReasonCode = 0x81
	ReasonProtocolError              ReasonCode = 0x82
	ReasonImplSpecificError          ReasonCode = 0x83
	ReasonUnsupportedProtocolVersion ReasonCode = 0x84
	ReasonClientIDNotValid           ReasonCode = 0x85
	ReasonBadUserNameOrPassword      ReasonCode = 0x86
	ReasonNotAuthorized              ReasonCode = 0x87
	ReasonServerUnavailable          ReasonCode = 0x88
	ReasonServerBusy                 ReasonCode = 0x89
	ReasonBanned                     ReasonCode = 0x8A
	ReasonServerShuttingDown         ReasonCode = 0x8B
	ReasonBadAuthMethod              ReasonCode = 0x8C
	ReasonKeepAliveTimeout           ReasonCode = 0x8D
	ReasonSessionTakenOver           ReasonCode = 0x8E
	ReasonTopicFilterInvalid         ReasonCode = 0x8F
	ReasonTopicNameInvalid           ReasonCode = 0x90
	ReasonPacketIDInUse              ReasonCode = 0x91
	ReasonPacketIDNotFound           ReasonCode = 0x92
	ReasonReceiveMaxExceeded         ReasonCode = 0x93
	ReasonTopicAliasInvalid          ReasonCode = 0x94
	ReasonPacketTooLarge             ReasonCode = 0x95
	ReasonMessageRateTooHigh         ReasonCode = 0x96
	ReasonQuotaExceeded              ReasonCode = 0x97
	ReasonAdminAction                ReasonCode = 0x98
	ReasonPayloadFormatInvalid       ReasonCode = 0x99
	ReasonRetainNotSupported         ReasonCode = 0x9A
	ReasonQoSNotSupported            ReasonCode = 0x9B
	ReasonUseAnotherServer           ReasonCode = 0x9C
	ReasonServerMoved                ReasonCode = 0x9D
	ReasonSharedSubsNotSupported     ReasonCode = 0x9E
	ReasonConnectionRateExceeded     ReasonCode = 0x9F
	ReasonMaxConnectTime             ReasonCode = 0xA0
	ReasonSubIDsNotSupported         ReasonCode = 0xA1
	ReasonWildcardSubsNotSupported   ReasonCode = 0xA2
)

// ReasonGrantedQoS0 shares its value with ReasonSuccess.
const ReasonGrantedQoS0 = ReasonSuccess

var reasonCodeStrings = map[ReasonCode]string{
	ReasonSuccess:                    "Success",
	ReasonGrantedQoS1:                "Granted QoS 1",
	ReasonGrantedQoS2:                "Granted QoS 2",
	ReasonDisconnectWithWill:         "Disconnect with Will Message",
	ReasonNoMatchingSubscribers:      "No matching subscribers",
	ReasonNoSubscriptionExisted:      "No subscription existed",
	ReasonContinueAuth:               "Continue authentication",
	ReasonReAuth:                     "Re-authenticate",
	ReasonUnspecifiedError:           "Unspecified error",
	ReasonMalformedPacket:            "Malformed Packet",
	ReasonProtocolError:              "Protocol Error",
	ReasonImplSpecificError:          "Implementation specific error",
	ReasonUnsupportedProtocolVersion: "Unsupported Protocol Version",
	ReasonClientIDNotValid:           "Client Identifier not valid",
	ReasonBadUserNameOrPassword:      "Bad User Name or Password",
	ReasonNotAuthorized:              "Not authorized",
	ReasonServerUnavailable:          "Server unavailable",
	ReasonServerBusy:                 "Server busy",
	ReasonBanned:                     "Banned",
	ReasonServerShuttingDown:         "Server shutting down",
	ReasonBadAuthMethod:              "Bad authentication method",
	ReasonKeepAliveTimeout:           "Keep Alive timeout",
	ReasonSessionTakenOver:           "Session taken over",
	ReasonTopicFilterInvalid:         "Topic Filter invalid",
	ReasonTopicNameInvalid:           "Topic Name invalid",
	ReasonPacketIDInUse:              "Packet Identifier in use",
	ReasonPacketIDNotFound:           "Packet Identifier not found",
	ReasonReceiveMaxExceeded:         "Receive Maximum exceeded",
	ReasonTopicAliasInvalid:          "Topic Alias invalid",
	ReasonPacketTooLarge:             "Packet too large",
	ReasonMessageRateTooHigh:         "Message rate too high",
	ReasonQuotaExceeded:              "Quota exceeded",
	ReasonAdminAction:                "Administrative action",
	ReasonPayloadFormatInvalid:       "Payload format invalid",
	ReasonRetainNotSupported:         "Retain not supported",
	ReasonQoSNotSupported:            "QoS not supported",
	ReasonUseAnotherServer:           "Use another server",
	ReasonServerMoved:                "Server moved",
	ReasonSharedSubsNotSupported:     "Shared Subscriptions not supported",
	ReasonConnectionRateExceeded:     "Connection rate exceeded",
	ReasonMaxConnectTime:             "Maximum connect time",
	ReasonSubIDsNotSupported:         "Subscription Identifiers not supported",
	ReasonWildcardSubsNotSupported:   "Wildcard Subscriptions not supported",
}

func (r ReasonCode) String() string {
	if s, ok := reasonCodeStrings[r]; ok {
		return s
	}
	return "Unknown reason code"
}

// IsError returns true for codes 0x80 and above.
func (r ReasonCode) IsError() bool {
	return r >= 0x80
}

// MQTT 3.x CONNACK return codes.
var connackV3ReturnCodes = [...]ReasonCode{
	0: ReasonSuccess,
	1: ReasonUnsupportedProtocolVersion,
	2: ReasonClientIDNotValid,
	3: ReasonServerUnavailable,
	4: ReasonBadUserNameOrPassword,
	5: ReasonNotAuthorized,
}

// reasonFromV3Connack maps a 3.x CONNACK return code. Unknown codes are
// reported as ReasonUnspecifiedError.
func reasonFromV3Connack(rc byte) ReasonCode {
	if int(rc) < len(connackV3ReturnCodes) {
		return connackV3ReturnCodes[rc]
	}
	return ReasonUnspecifiedError
}

// v3ConnackReturnCode is the inverse of reasonFromV3Connack.
func v3ConnackReturnCode(r ReasonCode) byte {
	for i, code := range connackV3ReturnCodes {
		if code == r {
			return byte(i)
		}
	}
	return byte(3)
}

var ackReasonCodes = map[PacketType]map[ReasonCode]bool{
	PacketPUBACK: {
		ReasonSuccess: true, ReasonNoMatchingSubscribers: true, ReasonUnspecifiedError: true,
		ReasonImplSpecificError: true, ReasonNotAuthorized: true, ReasonTopicNameInvalid: true,
		ReasonPacketIDInUse: true, ReasonQuotaExceeded: true, ReasonPayloadFormatInvalid: true,
	},
	PacketPUBREC: {
		ReasonSuccess: true, ReasonNoMatchingSubscribers: true, ReasonUnspecifiedError: true,
		ReasonImplSpecificError: true, ReasonNotAuthorized: true, ReasonTopicNameInvalid: true,
		ReasonPacketIDInUse: true, ReasonQuotaExceeded: true, ReasonPayloadFormatInvalid: true,
	},
	PacketPUBREL:  {ReasonSuccess: true, ReasonPacketIDNotFound: true},
	PacketPUBCOMP: {ReasonSuccess: true, ReasonPacketIDNotFound: true},
	PacketAUTH:    {ReasonSuccess: true, ReasonContinueAuth: true, ReasonReAuth: true},
}

// ValidFor reports whether r may appear in a packet of type pt. Packet
// types without a table accept any code.
func (r ReasonCode) ValidFor(pt PacketType) bool {
	codes, ok := ackReasonCodes[pt]
	if !ok {
		return true
	}
	return codes[r]
}
