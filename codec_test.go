package mqtt

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var allVersions = []ProtocolVersion{ProtocolV31, ProtocolV311, ProtocolV50}

func roundTrip(t *testing.T, pkt Packet, v ProtocolVersion) Packet {
	t.Helper()

	var buf bytes.Buffer
	n, err := WritePacket(&buf, pkt, v, 0)
	require.NoError(t, err)
	assert.Equal(t, buf.Len(), n)

	decoded, err := ReadPacket(&buf, v, 0)
	require.NoError(t, err)
	require.Equal(t, pkt.Type(), decoded.Type())
	assert.Zero(t, buf.Len())
	return decoded
}

func v5Props() Properties {
	var p Properties
	p.Set(PropPayloadFormatIndicator, byte(1))
	p.Set(PropTopicAlias, uint16(4))
	p.Set(PropMessageExpiryInterval, uint32(60))
	p.Add(PropSubscriptionIdentifier, uint32(7))
	p.Set(PropContentType, "text/plain")
	p.Set(PropCorrelationData, []byte("corr"))
	p.Add(PropUserProperty, StringPair{Key: "k", Value: "v"})
	return p
}

func TestPacketRoundTrip(t *testing.T) {
	for _, v := range allVersions {
		t.Run(v.String(), func(t *testing.T) {
			var props Properties
			if v == ProtocolV50 {
				props = v5Props()
			}

			t.Run("connect", func(t *testing.T) {
				pkt := &ConnectPacket{
					ClientID:    "client-1",
					CleanStart:  true,
					KeepAlive:   30,
					Username:    "user",
					Password:    []byte("secret"),
					WillFlag:    true,
					WillQoS:     1,
					WillRetain:  true,
					WillTopic:   "status/client-1",
					WillPayload: []byte("offline"),
				}
				got := roundTrip(t, pkt, v).(*ConnectPacket)
				assert.Equal(t, v, got.Version)
				assert.Equal(t, pkt.ClientID, got.ClientID)
				assert.True(t, got.CleanStart)
				assert.Equal(t, uint16(30), got.KeepAlive)
				assert.Equal(t, "user", got.Username)
				assert.Equal(t, []byte("secret"), got.Password)
				assert.Equal(t, byte(1), got.WillQoS)
				assert.True(t, got.WillRetain)
				assert.Equal(t, "status/client-1", got.WillTopic)
				assert.Equal(t, []byte("offline"), got.WillPayload)
			})

			t.Run("connack", func(t *testing.T) {
				pkt := &ConnackPacket{SessionPresent: v != ProtocolV31, ReasonCode: ReasonNotAuthorized, Props: props}
				got := roundTrip(t, pkt, v).(*ConnackPacket)
				assert.Equal(t, pkt.SessionPresent, got.SessionPresent)
				assert.Equal(t, ReasonNotAuthorized, got.ReasonCode)
				assert.Equal(t, props.Len(), got.Props.Len())
			})

			t.Run("publish", func(t *testing.T) {
				for qos := byte(0); qos <= 2; qos++ {
					pkt := &PublishPacket{Topic: "a/b", Payload: []byte("hello"), QoS: qos, Retain: true, Props: props}
					if qos > 0 {
						pkt.PacketID = 42
						pkt.DUP = true
					}
					got := roundTrip(t, pkt, v).(*PublishPacket)
					assert.Equal(t, pkt.Topic, got.Topic)
					assert.Equal(t, pkt.Payload, got.Payload)
					assert.Equal(t, qos, got.QoS)
					assert.Equal(t, pkt.DUP, got.DUP)
					assert.True(t, got.Retain)
					assert.Equal(t, pkt.PacketID, got.PacketID)
					assert.Equal(t, props.Len(), got.Props.Len())
				}
			})

			t.Run("acks", func(t *testing.T) {
				rc := ReasonSuccess
				if v == ProtocolV50 {
					rc = ReasonPacketIDNotFound
				}
				acks := []Packet{newPuback(1, ReasonSuccess), newPubrec(2, ReasonSuccess), newPubrel(3, rc), newPubcomp(4, rc)}
				for i, ack := range acks {
					got := roundTrip(t, ack, v)
					switch p := got.(type) {
					case *PubackPacket:
						assert.Equal(t, uint16(i+1), p.PacketID)
					case *PubrecPacket:
						assert.Equal(t, uint16(i+1), p.PacketID)
					case *PubrelPacket:
						assert.Equal(t, uint16(i+1), p.PacketID)
						assert.Equal(t, rc, p.ReasonCode)
					case *PubcompPacket:
						assert.Equal(t, uint16(i+1), p.PacketID)
						assert.Equal(t, rc, p.ReasonCode)
					}
				}
			})

			t.Run("subscribe", func(t *testing.T) {
				pkt := &SubscribePacket{
					PacketID: 9,
					Subscriptions: []Subscription{
						{TopicFilter: "a/+", QoS: 1},
						{TopicFilter: "b/#", QoS: 2},
					},
				}
				got := roundTrip(t, pkt, v).(*SubscribePacket)
				assert.Equal(t, pkt.PacketID, got.PacketID)
				assert.Equal(t, pkt.Subscriptions, got.Subscriptions)
			})

			t.Run("suback", func(t *testing.T) {
				pkt := &SubackPacket{PacketID: 9, ReasonCodes: []ReasonCode{ReasonGrantedQoS1, ReasonUnspecifiedError}}
				got := roundTrip(t, pkt, v).(*SubackPacket)
				assert.Equal(t, pkt.ReasonCodes, got.ReasonCodes)
			})

			t.Run("unsubscribe", func(t *testing.T) {
				pkt := &UnsubscribePacket{PacketID: 10, TopicFilters: []string{"a/+", "b"}}
				got := roundTrip(t, pkt, v).(*UnsubscribePacket)
				assert.Equal(t, pkt.TopicFilters, got.TopicFilters)
			})

			t.Run("unsuback", func(t *testing.T) {
				pkt := &UnsubackPacket{PacketID: 10}
				if v == ProtocolV50 {
					pkt.ReasonCodes = []ReasonCode{ReasonSuccess, ReasonNoSubscriptionExisted}
				}
				got := roundTrip(t, pkt, v).(*UnsubackPacket)
				assert.Equal(t, uint16(10), got.PacketID)
				assert.Equal(t, pkt.ReasonCodes, got.ReasonCodes)
			})

			t.Run("ping and disconnect", func(t *testing.T) {
				roundTrip(t, &PingreqPacket{}, v)
				roundTrip(t, &PingrespPacket{}, v)
				roundTrip(t, &DisconnectPacket{}, v)
			})
		})
	}
}

func TestSubscribeOptionsV5(t *testing.T) {
	pkt := &SubscribePacket{
		PacketID: 3,
		Subscriptions: []Subscription{
			{TopicFilter: "x", QoS: 2, NoLocal: true, RetainAsPublished: true, RetainHandling: 2},
		},
	}
	got := roundTrip(t, pkt, ProtocolV50).(*SubscribePacket)
	assert.Equal(t, pkt.Subscriptions, got.Subscriptions)

	got = roundTrip(t, pkt, ProtocolV311).(*SubscribePacket)
	assert.Equal(t, []Subscription{{TopicFilter: "x", QoS: 2}}, got.Subscriptions)
}

func TestAuthRoundTripV5(t *testing.T) {
	pkt := &AuthPacket{ReasonCode: ReasonContinueAuth}
	pkt.Props.Set(PropAuthenticationMethod, "SCRAM-SHA-256")
	pkt.Props.Set(PropAuthenticationData, []byte("n,,n=user,r=abc"))

	got := roundTrip(t, pkt, ProtocolV50).(*AuthPacket)
	assert.Equal(t, ReasonContinueAuth, got.ReasonCode)
	assert.Equal(t, "SCRAM-SHA-256", got.Method())
	assert.Equal(t, []byte("n,,n=user,r=abc"), got.Data())
}

func TestAuthRejectedBeforeV5(t *testing.T) {
	_, err := DecodePacket(FixedHeader{PacketType: PacketAUTH}, nil, ProtocolV311)
	assert.ErrorIs(t, err, ErrMalformedPacket)
	assert.ErrorIs(t, err, ErrUnknownPacketType)

	_, err = EncodePacket(&AuthPacket{}, ProtocolV311)
	assert.ErrorIs(t, err, ErrInvalidPacketType)
}

func TestConnackV3ReturnCodes(t *testing.T) {
	tests := []struct {
		code byte
		want ReasonCode
	}{
		{0, ReasonSuccess},
		{1, ReasonUnsupportedProtocolVersion},
		{2, ReasonClientIDNotValid},
		{3, ReasonServerUnavailable},
		{4, ReasonBadUserNameOrPassword},
		{5, ReasonNotAuthorized},
		{9, ReasonUnspecifiedError},
	}

	for _, tt := range tests {
		pkt, err := DecodePacket(FixedHeader{PacketType: PacketCONNACK, RemainingLength: 2}, []byte{0x00, tt.code}, ProtocolV311)
		require.NoError(t, err)
		assert.Equal(t, tt.want, pkt.(*ConnackPacket).ReasonCode)
	}
}

func TestConnectProtocolNames(t *testing.T) {
	data, err := EncodePacket(&ConnectPacket{ClientID: "c"}, ProtocolV31)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x06, 'M', 'Q', 'I', 's', 'd', 'p', 0x03}, data[2:11])

	data, err = EncodePacket(&ConnectPacket{ClientID: "c"}, ProtocolV311)
	require.NoError(t, err)
	assert.Equal(t, []byte{0x00, 0x04, 'M', 'Q', 'T', 'T', 0x04}, data[2:9])

	_, err = EncodePacket(&ConnectPacket{ClientID: "a-client-id-that-is-too-long"}, ProtocolV31)
	assert.ErrorIs(t, err, ErrClientIDTooLong)
}

func TestDecodePacketMalformed(t *testing.T) {
	tests := []struct {
		name   string
		header FixedHeader
		body   []byte
		v      ProtocolVersion
	}{
		{"puback truncated", FixedHeader{PacketType: PacketPUBACK, RemainingLength: 1}, []byte{0x01}, ProtocolV311},
		{"puback zero id", FixedHeader{PacketType: PacketPUBACK, RemainingLength: 2}, []byte{0x00, 0x00}, ProtocolV311},
		{"puback trailing bytes v3", FixedHeader{PacketType: PacketPUBACK, RemainingLength: 3}, []byte{0x00, 0x01, 0x00}, ProtocolV311},
		{"pubrel wrong flags", FixedHeader{PacketType: PacketPUBREL, RemainingLength: 2}, []byte{0x00, 0x01}, ProtocolV311},
		{"publish bad property", FixedHeader{PacketType: PacketPUBLISH, Flags: 0x02, RemainingLength: 8}, []byte{0x00, 0x01, 't', 0x00, 0x01, 0x02, 0x7F, 0x00}, ProtocolV50},
		{"pingresp with body", FixedHeader{PacketType: PacketPINGRESP, RemainingLength: 1}, []byte{0x00}, ProtocolV50},
		{"connack bad flags", FixedHeader{PacketType: PacketCONNACK, RemainingLength: 2}, []byte{0x02, 0x00}, ProtocolV311},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodePacket(tt.header, tt.body, tt.v)
			assert.ErrorIs(t, err, ErrMalformedPacket)
		})
	}
}

func TestPublishInvalidPropertyID(t *testing.T) {
	body := []byte{0x00, 0x01, 't', 0x00, 0x01, 0x02, 0x7F, 0x00}
	_, err := DecodePacket(FixedHeader{PacketType: PacketPUBLISH, Flags: 0x02, RemainingLength: uint32(len(body))}, body, ProtocolV50)
	assert.ErrorIs(t, err, ErrInvalidPropertyID)
}

func TestReadPacketMaxSize(t *testing.T) {
	data, err := EncodePacket(&PublishPacket{Topic: "t", Payload: make([]byte, 100)}, ProtocolV311)
	require.NoError(t, err)

	_, err = ReadPacket(bytes.NewReader(data), ProtocolV311, 50)
	assert.ErrorIs(t, err, ErrPacketTooLarge)

	_, err = WritePacket(&bytes.Buffer{}, &PublishPacket{Topic: "t", Payload: make([]byte, 100)}, ProtocolV311, 50)
	assert.ErrorIs(t, err, ErrPacketTooLarge)
}

func TestReadFrameMalformedLength(t *testing.T) {
	_, _, err := readFrame(bytes.NewReader([]byte{0x30, 0xFF, 0xFF, 0xFF, 0xFF, 0x01}), 0)
	assert.ErrorIs(t, err, ErrVarintMalformed)
}

func FuzzDecodePacket(f *testing.F) {
	f.Add(byte(0x30), []byte{0x00, 0x01, 't', 'x'}, byte(5))
	f.Add(byte(0x40), []byte{0x00, 0x01}, byte(4))
	f.Add(byte(0xF0), []byte{0x18, 0x00}, byte(5))

	f.Fuzz(func(_ *testing.T, first byte, body []byte, version byte) {
		header := FixedHeader{PacketType: PacketType(first >> 4), Flags: first & 0x0F, RemainingLength: uint32(len(body))}
		if !header.PacketType.Valid() {
			return
		}
		_, _ = DecodePacket(header, body, ProtocolVersion(version%3+3))
	})
}
