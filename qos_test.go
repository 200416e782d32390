package mqtt

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func publishLocked(t *testing.T, r *Registry, s *Session, msg *Message) uint16 {
	t.Helper()
	var (
		id  uint16
		err error
	)
	locked(r, func() { id, err = r.startPublish(s, msg) })
	require.NoError(t, err)
	return id
}

func TestOutboundQoS1(t *testing.T) {
	var completed []uint16
	r, s, p := pipeSession(t, ProtocolV311, OnDeliveryComplete(func(id uint16) { completed = append(completed, id) }))

	id := publishLocked(t, r, s, &Message{Topic: "t", Payload: []byte("hello"), QoS: QoS1})
	require.NotZero(t, id)

	pub := p.expect(t).(*PublishPacket)
	assert.Equal(t, id, pub.PacketID)
	assert.Equal(t, []byte("hello"), pub.Payload)
	assert.False(t, pub.DUP)

	m := s.outbound.get(id)
	require.NotNil(t, m)
	assert.Equal(t, PacketPUBACK, m.next)

	// Acks of the wrong kind are ignored.
	locked(r, func() {
		r.handlePubrec(s, newPubrec(id, ReasonSuccess))
		r.handlePubcomp(s, newPubcomp(id, ReasonSuccess))
	})
	assert.Equal(t, 1, s.outbound.len())
	assert.Equal(t, PacketPUBACK, m.next)

	locked(r, func() { r.handlePuback(s, newPuback(id, ReasonSuccess)) })
	assert.Equal(t, 0, s.outbound.len())
	assert.Equal(t, []uint16{id}, completed)

	// A repeated PUBACK is a no-op.
	locked(r, func() { r.handlePuback(s, newPuback(id, ReasonSuccess)) })
	assert.Equal(t, []uint16{id}, completed)
}

func TestOutboundQoS2(t *testing.T) {
	var completed []uint16
	r, s, p := pipeSession(t, ProtocolV311, OnDeliveryComplete(func(id uint16) { completed = append(completed, id) }))

	id := publishLocked(t, r, s, &Message{Topic: "t", Payload: []byte("x"), QoS: QoS2})
	p.expect(t)

	// PUBCOMP before PUBREC does not move the flow.
	locked(r, func() { r.handlePubcomp(s, newPubcomp(id, ReasonSuccess)) })
	assert.Equal(t, PacketPUBREC, s.outbound.get(id).next)

	locked(r, func() { r.handlePubrec(s, newPubrec(id, ReasonSuccess)) })
	rel := p.expect(t).(*PubrelPacket)
	assert.Equal(t, id, rel.PacketID)
	assert.Equal(t, PacketPUBCOMP, s.outbound.get(id).next)

	// A second PUBREC is ignored, no second PUBREL.
	locked(r, func() { r.handlePubrec(s, newPubrec(id, ReasonSuccess)) })
	p.expectNone(t, 50*time.Millisecond)

	// PUBACK never moves a QoS 2 flow.
	locked(r, func() { r.handlePuback(s, newPuback(id, ReasonSuccess)) })
	assert.Equal(t, 1, s.outbound.len())

	locked(r, func() { r.handlePubcomp(s, newPubcomp(id, ReasonSuccess)) })
	assert.Equal(t, 0, s.outbound.len())
	assert.Equal(t, []uint16{id}, completed)
}

func TestOutboundQoS0(t *testing.T) {
	r, s, p := pipeSession(t, ProtocolV311)

	id := publishLocked(t, r, s, &Message{Topic: "t", Payload: []byte("x")})
	assert.Zero(t, id)
	assert.Equal(t, 0, s.outbound.len())

	pub := p.expect(t).(*PublishPacket)
	assert.Equal(t, QoS0, pub.QoS)
}

func TestOutboundRefusedV5(t *testing.T) {
	var completed []uint16
	r, s, p := pipeSession(t, ProtocolV50, OnDeliveryComplete(func(id uint16) { completed = append(completed, id) }))

	t.Run("puback error", func(t *testing.T) {
		id := publishLocked(t, r, s, &Message{Topic: "t", QoS: QoS1})
		p.expect(t)

		locked(r, func() { r.handlePuback(s, newPuback(id, ReasonNotAuthorized)) })
		assert.Equal(t, 0, s.outbound.len())

		err := r.waitForCompletion(s, id, time.Second)
		var pe *PublishError
		require.ErrorAs(t, err, &pe)
		assert.Equal(t, ReasonNotAuthorized, pe.ReasonCode)
		assert.Equal(t, id, pe.PacketID)

		// The failure is reported once.
		assert.NoError(t, r.waitForCompletion(s, id, time.Second))
	})

	t.Run("pubrec error ends the flow", func(t *testing.T) {
		id := publishLocked(t, r, s, &Message{Topic: "t", QoS: QoS2})
		p.expect(t)

		locked(r, func() { r.handlePubrec(s, newPubrec(id, ReasonQuotaExceeded)) })
		assert.Equal(t, 0, s.outbound.len())
		p.expectNone(t, 50*time.Millisecond)

		err := r.waitForCompletion(s, id, time.Second)
		assert.ErrorIs(t, err, ErrPublishFailed)
	})

	assert.Empty(t, completed)
}

func TestInboundQoS1(t *testing.T) {
	r, s, p := pipeSession(t, ProtocolV311)

	locked(r, func() {
		r.handlePublish(s, &PublishPacket{Topic: "a/b", Payload: []byte("1"), QoS: QoS1, PacketID: 7})
	})

	ack := p.expect(t).(*PubackPacket)
	assert.Equal(t, uint16(7), ack.PacketID)
	require.Len(t, s.delivery, 1)
	assert.Equal(t, "a/b", s.delivery[0].Topic)
}

func TestInboundQoS2Dedupe(t *testing.T) {
	r, s, p := pipeSession(t, ProtocolV50)

	locked(r, func() {
		r.handlePublish(s, &PublishPacket{Topic: "a", Payload: []byte("first"), QoS: QoS2, PacketID: 9})
	})
	assert.IsType(t, &PubrecPacket{}, p.expect(t))

	locked(r, func() {
		r.handlePublish(s, &PublishPacket{Topic: "a", Payload: []byte("second"), QoS: QoS2, PacketID: 9, DUP: true})
	})
	assert.IsType(t, &PubrecPacket{}, p.expect(t))

	assert.Equal(t, 1, s.inbound.len())
	assert.Empty(t, s.delivery, "nothing is delivered before PUBREL")

	locked(r, func() { r.handlePubrel(s, newPubrel(9, ReasonSuccess)) })
	comp := p.expect(t).(*PubcompPacket)
	assert.Equal(t, ReasonSuccess, comp.ReasonCode)
	require.Len(t, s.delivery, 1)
	assert.Equal(t, []byte("second"), s.delivery[0].Payload)
	assert.Equal(t, 0, s.inbound.len())

	// A repeated PUBREL is answered but delivers nothing.
	locked(r, func() { r.handlePubrel(s, newPubrel(9, ReasonSuccess)) })
	comp = p.expect(t).(*PubcompPacket)
	assert.Equal(t, ReasonPacketIDNotFound, comp.ReasonCode)
	assert.Len(t, s.delivery, 1)
}

func TestInboundReceiveMaximum(t *testing.T) {
	r, s, p := pipeSession(t, ProtocolV50, WithReceiveMaximum(1))

	locked(r, func() {
		r.handlePublish(s, &PublishPacket{Topic: "a", QoS: QoS2, PacketID: 1})
	})
	p.expect(t)

	locked(r, func() {
		r.handlePublish(s, &PublishPacket{Topic: "a", QoS: QoS2, PacketID: 2})
	})
	d := p.expect(t).(*DisconnectPacket)
	assert.Equal(t, ReasonReceiveMaxExceeded, d.ReasonCode)
	assert.False(t, s.connected)
}

func TestPublishValidation(t *testing.T) {
	r, s, _ := pipeSession(t, ProtocolV311)

	_, err := r.publish(s, &Message{Topic: "t", QoS: 3}, time.Second)
	assert.ErrorIs(t, err, ErrInvalidQoS)

	_, err = r.publish(s, &Message{Topic: "a/#"}, time.Second)
	assert.ErrorIs(t, err, ErrInvalidTopicName)

	_, err = r.publish(s, &Message{Topic: ""}, time.Second)
	assert.ErrorIs(t, err, ErrEmptyTopic)
}

func TestPublishTooLarge(t *testing.T) {
	r, s, p := pipeSession(t, ProtocolV50)
	s.maxPacketSize = 64

	var err error
	locked(r, func() {
		_, err = r.startPublish(s, &Message{Topic: "t", Payload: make([]byte, 100), QoS: QoS1})
	})
	assert.ErrorIs(t, err, ErrPacketTooLarge)
	assert.Equal(t, 0, s.outbound.len(), "a rejected publish leaves no record")
	p.expectNone(t, 50*time.Millisecond)
}

func TestPublishBlocksAtMaxInflight(t *testing.T) {
	r, s, p := pipeSession(t, ProtocolV311, WithMaxInflight(1))

	first := publishLocked(t, r, s, &Message{Topic: "t", QoS: QoS1})
	p.expect(t)

	_, err := r.publish(s, &Message{Topic: "t", QoS: QoS1}, 50*time.Millisecond)
	assert.ErrorIs(t, err, ErrTimeout)
	assert.ErrorIs(t, err, ErrMaxInflight)
	assert.Equal(t, 1, s.outbound.len())

	go func() {
		time.Sleep(50 * time.Millisecond)
		locked(r, func() { r.handlePuback(s, newPuback(first, ReasonSuccess)) })
	}()

	id, err := r.publish(s, &Message{Topic: "t", QoS: QoS1}, 2*time.Second)
	require.NoError(t, err)
	assert.NotEqual(t, first, id)
	p.expect(t)
}

func TestPublishNotConnected(t *testing.T) {
	r, s, _ := pipeSession(t, ProtocolV311)
	locked(r, func() { r.closeSession(s, nil) })

	_, err := r.publish(s, &Message{Topic: "t"}, time.Second)
	assert.ErrorIs(t, err, ErrNotConnected)
}
