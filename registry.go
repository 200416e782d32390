package mqtt

import (
	"sync"
	"sync/atomic"
	"time"
)

const (
	// pollInterval bounds busy-wait sleeps and single-threaded spins.
	pollInterval = 10 * time.Millisecond

	// loopTimeout is how long the background loop waits for one event.
	loopTimeout = 100 * time.Millisecond

	minSweepInterval = 100 * time.Millisecond
	maxSweepInterval = 5 * time.Second

	eventQueueDepth = 256
)

// Registry owns every live session and the dispatch loop that serves
// them. Sessions of many clients may share one registry. All session
// state is guarded by a single lock; the readiness multiplexer has its own.
type Registry struct {
	mu       sync.Mutex
	sessions map[*Session]struct{}
	conns    map[*transport]*Session
	// notes run after mu is released: application callbacks never run
	// under the session-table lock.
	notes []func()

	mux       *mux
	logger    Logger
	metrics   *clientMetrics
	now       func() time.Time
	lastSweep time.Time

	loopMu  sync.Mutex
	running atomic.Bool
	// inCallback is set while the background loop runs application
	// callbacks.
	inCallback atomic.Bool
	stop       chan struct{}
	done       chan struct{}
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used by the dispatch loop.
func WithRegistryLogger(logger Logger) RegistryOption {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// WithRegistryMetrics sets the metrics backend.
func WithRegistryMetrics(m Metrics) RegistryOption {
	return func(r *Registry) {
		r.metrics = newClientMetrics(m)
	}
}

// withClock replaces the time source used by keepalive and retry.
func withClock(now func() time.Time) RegistryOption {
	return func(r *Registry) {
		r.now = now
	}
}

// NewRegistry creates an empty registry. The dispatch loop is not
// started: call Start, or let blocking calls drive it with RunOnce.
func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{
		sessions: make(map[*Session]struct{}),
		conns:    make(map[*transport]*Session),
		mux:      newMux(eventQueueDepth),
		logger:   NewNoOpLogger(),
		metrics:  newClientMetrics(nil),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	r.lastSweep = r.now()
	return r
}

// Start runs the dispatch loop in a background goroutine until Stop.
func (r *Registry) Start() {
	if !r.running.CompareAndSwap(false, true) {
		return
	}
	stop, done := make(chan struct{}), make(chan struct{})
	r.stop, r.done = stop, done

	go func() {
		defer close(done)
		for {
			select {
			case <-stop:
				return
			default:
			}
			r.runOnce(loopTimeout, true)
		}
	}()
}

// Stop ends the background loop started by Start. Sessions stay open and
// blocking calls go back to driving the loop themselves. Called from a
// callback on the loop goroutine, Stop returns at once and the loop exits
// after the callback.
func (r *Registry) Stop() {
	if !r.running.CompareAndSwap(true, false) {
		return
	}
	close(r.stop)
	if !r.inCallback.Load() {
		<-r.done
	}
}

// Running reports whether the background loop is active.
func (r *Registry) Running() bool {
	return r.running.Load()
}

// Shutdown stops the loop and closes every session.
func (r *Registry) Shutdown() {
	r.Stop()

	r.mu.Lock()
	for s := range r.sessions {
		r.destroy(s)
	}
	r.unlockAndNotify()

	r.mux.shutdown()
}

// RunOnce performs one dispatch iteration: wait up to timeout for one
// event, handle it, run the retry and keepalive sweep when due, then hand
// the oldest queued message of each session to its handler.
func (r *Registry) RunOnce(timeout time.Duration) {
	r.runOnce(timeout, false)
}

func (r *Registry) runOnce(timeout time.Duration, background bool) {
	r.loopMu.Lock()

	r.mu.Lock()
	r.flush()
	if r.hasFlushes() {
		timeout = 0
	}
	if r.hasDeliveries() && timeout > pollInterval {
		timeout = pollInterval
	}
	if untilSweep := r.sweepInterval() - r.now().Sub(r.lastSweep); untilSweep < timeout {
		timeout = max(untilSweep, 0)
	}
	r.mu.Unlock()

	ev, ok := r.mux.wait(timeout)

	r.mu.Lock()
	if ok {
		r.handleEvent(ev)
	}
	if now := r.now(); now.Sub(r.lastSweep) >= r.sweepInterval() {
		r.lastSweep = now
		r.sweep(now)
	}
	notes := r.notes
	r.notes = nil
	r.mu.Unlock()
	r.loopMu.Unlock()

	// Handlers may call back into the client, which may drive RunOnce.
	if background {
		r.inCallback.Store(true)
		defer r.inCallback.Store(false)
	}
	for _, fn := range notes {
		fn()
	}
	r.deliver()
}

func (r *Registry) note(fn func()) {
	r.notes = append(r.notes, fn)
}

// unlockAndNotify releases mu and then runs the queued notifications.
func (r *Registry) unlockAndNotify() {
	notes := r.notes
	r.notes = nil
	r.mu.Unlock()

	for _, fn := range notes {
		fn()
	}
}

func (r *Registry) add(s *Session) {
	r.mu.Lock()
	r.sessions[s] = struct{}{}
	r.mu.Unlock()
}

// attach binds an established transport to s.
func (r *Registry) attach(s *Session, tr *transport) {
	s.tr = tr
	r.conns[tr] = s
	r.mux.register(tr)
}

// detach unbinds and closes the session's transport. Events it already
// posted are discarded by the multiplexer.
func (r *Registry) detach(s *Session) {
	if s.tr == nil {
		return
	}
	r.mux.unregister(s.tr)
	delete(r.conns, s.tr)
	_ = s.tr.close()
	s.tr = nil
}

// closeSession tears the connection down. In-flight records are kept for
// a resumed session. The connection-lost handler fires only when a
// connected session drops for a reason other than an explicit disconnect.
func (r *Registry) closeSession(s *Session, cause error) {
	wasConnected := s.connected
	disconnecting := s.state == StateDisconnecting

	s.connected = false
	s.good = false
	r.detach(s)
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	s.ackQueue = nil
	s.flushPending = false
	s.pingOutstanding = false
	s.pingDue = false
	s.resumePending = false
	s.aliases.reset()
	s.auth = nil

	for id, op := range s.pending {
		op.err = ErrConnectionLost
		op.done = true
		delete(s.pending, id)
	}

	r.settle(s)
	s.signal()

	if wasConnected && !disconnecting && cause != nil {
		r.metrics.connectionLost()
		r.logger.Warn("connection lost", s.logFields().With(LogFieldError, cause.Error()))

		if handler := s.onConnectionLost; handler != nil {
			lost := NewConnectionLostError(cause)
			r.note(func() { handler(lost) })
		}
		r.scheduleReconnect(s, cause)
	}
}

// destroy closes s and releases both message lists. Used when a client is
// closed for good.
func (r *Registry) destroy(s *Session) {
	r.stopReconnect(s)
	if s.connected || s.state != StateNotInProgress {
		r.closeSession(s, nil)
	}

	r.dropOutbound(s, ErrClientClosed)
	s.inbound.drain(func(m *inflight) { m.release() })
	s.delivery = nil

	if s.store != nil {
		if err := s.store.Close(); err != nil {
			r.logger.Warn("closing store failed", s.logFields().With(LogFieldError, err.Error()))
		}
	}

	s.closed = true
	delete(r.sessions, s)
	s.signal()
}

// sweepInterval is clamp(keepAlive*100ms, 100ms, 5s) for the smallest
// keepalive among connected sessions.
func (r *Registry) sweepInterval() time.Duration {
	var smallest time.Duration
	for s := range r.sessions {
		if s.connected && s.keepAlive > 0 && (smallest == 0 || s.keepAlive < smallest) {
			smallest = s.keepAlive
		}
	}
	if smallest == 0 {
		return maxSweepInterval
	}

	return min(max(smallest/10, minSweepInterval), maxSweepInterval)
}

func (r *Registry) sweep(now time.Time) {
	for s := range r.sessions {
		if !s.connected {
			continue
		}
		if !r.keepalive(s, now) {
			continue
		}
		if s.resumePending {
			r.retry(s, now, true)
		}
		if s.connected {
			r.retry(s, now, false)
		}
	}
}

// waitFor blocks until cond holds for s or timeout elapses. Without a
// background loop it drives RunOnce itself.
func (r *Registry) waitFor(s *Session, timeout time.Duration, cond func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	for {
		r.mu.Lock()
		ok, err := cond()
		changed := s.changed
		r.mu.Unlock()

		if ok || err != nil {
			return err
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return ErrTimeout
		}

		if !r.running.Load() {
			r.RunOnce(min(remaining, loopTimeout))
			continue
		}

		timer := time.NewTimer(remaining)
		select {
		case <-changed:
		case <-timer.C:
		}
		timer.Stop()
	}
}

// pause yields while a caller polls for space. Without a background loop
// it runs one dispatch iteration instead of sleeping.
func (r *Registry) pause() {
	if r.running.Load() {
		time.Sleep(pollInterval)
		return
	}
	r.RunOnce(pollInterval)
}
