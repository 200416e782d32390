package mqtt

import (
	"net"
	"sync"
	"time"
)

type eventKind int

const (
	evFrame eventKind = iota
	evReadError
	evWritable
	evWriteError
	evStage
	evReconnect
)

func (k eventKind) String() string {
	switch k {
	case evFrame:
		return "frame"
	case evReadError:
		return "read_error"
	case evWritable:
		return "writable"
	case evWriteError:
		return "write_error"
	case evStage:
		return "stage"
	case evReconnect:
		return "reconnect"
	default:
		return "unknown"
	}
}

// event is one readiness notification for the dispatch loop.
type event struct {
	kind eventKind
	tr   *transport

	header FixedHeader
	body   []byte
	err    error

	// Stage results and reconnect timers.
	sess    *Session
	attempt uint64
	stage   ConnectState
	conn    net.Conn
}

// mux is the readiness set of every registered transport. Reader and
// drain goroutines post events; the dispatch loop waits for them.
type mux struct {
	mu         sync.Mutex
	transports map[*transport]struct{}
	events     chan event
	stop       chan struct{}
	stopOnce   sync.Once
}

func newMux(depth int) *mux {
	return &mux{
		transports: make(map[*transport]struct{}),
		events:     make(chan event, depth),
		stop:       make(chan struct{}),
	}
}

func (m *mux) register(t *transport) {
	m.mu.Lock()
	m.transports[t] = struct{}{}
	m.mu.Unlock()
}

func (m *mux) unregister(t *transport) {
	m.mu.Lock()
	delete(m.transports, t)
	m.mu.Unlock()
}

func (m *mux) registered(t *transport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.transports[t]
	return ok
}

func (m *mux) size() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.transports)
}

// post queues ev. It gives up when the transport is closed or the mux is
// shut down, and reports whether the event was queued.
func (m *mux) post(ev event) bool {
	var done <-chan struct{}
	if ev.tr != nil {
		done = ev.tr.done
	}
	select {
	case m.events <- ev:
		return true
	case <-done:
		return false
	case <-m.stop:
		return false
	}
}

// wait returns the next event for a registered transport, or false once
// timeout elapses. Events from transports that were unregistered after
// posting are dropped.
func (m *mux) wait(timeout time.Duration) (event, bool) {
	if timeout <= 0 {
		for {
			select {
			case ev := <-m.events:
				if m.live(ev) {
					return ev, true
				}
			default:
				return event{}, false
			}
		}
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	for {
		select {
		case ev := <-m.events:
			if m.live(ev) {
				return ev, true
			}
		case <-timer.C:
			return event{}, false
		case <-m.stop:
			return event{}, false
		}
	}
}

func (m *mux) live(ev event) bool {
	if ev.tr == nil {
		return true
	}
	return m.registered(ev.tr)
}

func (m *mux) shutdown() {
	m.stopOnce.Do(func() { close(m.stop) })
}
