package mqtt

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// clockedSession is a piped session whose registry reads clock.
func clockedSession(t *testing.T, clock *fakeClock, opts ...Option) (*Registry, *Session, *peer) {
	t.Helper()
	r, s, p := pipeSession(t, ProtocolV311, opts...)
	r.mu.Lock()
	r.now = clock.Now
	s.lastSent = clock.Now()
	s.lastReceived = clock.Now()
	r.mu.Unlock()
	return r, s, p
}

func TestKeepalivePing(t *testing.T) {
	clock := newFakeClock()
	r, s, p := clockedSession(t, clock, WithKeepAlive(10))

	locked(r, func() { assert.True(t, r.keepalive(s, clock.Now())) })
	p.expectNone(t, 30*time.Millisecond)

	clock.Advance(10 * time.Second)
	locked(r, func() { assert.True(t, r.keepalive(s, clock.Now())) })
	assert.IsType(t, &PingreqPacket{}, p.expect(t))
	assert.True(t, s.pingOutstanding)

	// Only one ping while it is outstanding.
	clock.Advance(5 * time.Second)
	locked(r, func() { assert.True(t, r.keepalive(s, clock.Now())) })
	p.expectNone(t, 30*time.Millisecond)

	// PINGRESP clears it.
	locked(r, func() {
		s.lastReceived = clock.Now()
		r.route(s, &PingrespPacket{})
	})
	assert.False(t, s.pingOutstanding)
}

func TestKeepaliveTimeout(t *testing.T) {
	clock := newFakeClock()
	var lost []error
	r, s, p := clockedSession(t, clock, WithKeepAlive(10), OnConnectionLost(func(err error) { lost = append(lost, err) }))

	clock.Advance(10 * time.Second)
	locked(r, func() { r.keepalive(s, clock.Now()) })
	p.expect(t)

	clock.Advance(10 * time.Second)
	var alive bool
	locked(r, func() { alive = r.keepalive(s, clock.Now()) })
	assert.False(t, alive)
	assert.False(t, s.connected)

	require.Len(t, lost, 1)
	assert.ErrorIs(t, lost[0], ErrKeepAliveTimeout)
}

func TestKeepaliveIdleReceiveTriggersPing(t *testing.T) {
	clock := newFakeClock()
	r, s, p := clockedSession(t, clock, WithKeepAlive(10))

	// Publishing keeps lastSent fresh but nothing is received.
	clock.Advance(10 * time.Second)
	locked(r, func() { s.lastSent = clock.Now() })
	locked(r, func() { r.keepalive(s, clock.Now()) })
	assert.IsType(t, &PingreqPacket{}, p.expect(t))
}

func TestKeepaliveDisabled(t *testing.T) {
	clock := newFakeClock()
	r, s, p := clockedSession(t, clock, WithKeepAlive(0))

	clock.Advance(time.Hour)
	locked(r, func() { assert.True(t, r.keepalive(s, clock.Now())) })
	p.expectNone(t, 30*time.Millisecond)
}

func TestKeepalivePostponedWhileAcksQueued(t *testing.T) {
	clock := newFakeClock()
	r, s, p := clockedSession(t, clock, WithKeepAlive(10))

	locked(r, func() { s.ackQueue = append(s.ackQueue, newPuback(1, ReasonSuccess)) })

	clock.Advance(10 * time.Second)
	locked(r, func() { r.keepalive(s, clock.Now()) })
	assert.True(t, s.pingDue)
	assert.False(t, s.pingOutstanding)

	// The writable event flushes the queue and then pings.
	locked(r, func() { r.handleWritable(s) })
	assert.IsType(t, &PubackPacket{}, p.expect(t))
	assert.IsType(t, &PingreqPacket{}, p.expect(t))
	assert.True(t, s.pingOutstanding)
	assert.False(t, s.pingDue)
}

func TestKeepaliveDueTooLongCloses(t *testing.T) {
	clock := newFakeClock()
	r, s, _ := clockedSession(t, clock, WithKeepAlive(10))

	locked(r, func() { s.ackQueue = append(s.ackQueue, newPuback(1, ReasonSuccess)) })
	clock.Advance(10 * time.Second)
	locked(r, func() { r.keepalive(s, clock.Now()) })

	clock.Advance(10 * time.Second)
	locked(r, func() { assert.False(t, r.keepalive(s, clock.Now())) })
	assert.False(t, s.connected)
}

func TestSweepInterval(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, maxSweepInterval, r.sweepInterval())

	ep, _ := parseServerURI("127.0.0.1")
	for _, tt := range []struct {
		ka   time.Duration
		want time.Duration
	}{
		{time.Second, minSweepInterval},
		{10 * time.Second, time.Second},
		{5 * time.Minute, maxSweepInterval},
	} {
		s := newSession("c", "127.0.0.1", ep, applyOptions())
		s.keepAlive = tt.ka
		s.connected = true
		r.sessions = map[*Session]struct{}{s: {}}
		assert.Equal(t, tt.want, r.sweepInterval(), tt.ka.String())
	}
}
