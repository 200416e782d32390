package mqtt

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// scheduleReconnect arms the timer for the next automatic reconnect
// attempt. It is called when a connection drops and again after every
// failed attempt, with the error that ended it. Caller holds r.mu.
func (r *Registry) scheduleReconnect(s *Session, cause error) {
	o := s.opts
	if !o.autoReconnect || s.closed {
		return
	}

	if !s.reconnecting {
		s.reconnecting = true
		s.reconnectAttempt = 0
		s.reconnectDelay = o.reconnectBackoff
	} else {
		attempt := s.reconnectAttempt
		if o.maxReconnects > 0 && attempt >= o.maxReconnects {
			err := fmt.Errorf("%w after %d attempts: %w", ErrReconnectFailed, attempt, cause)
			r.stopReconnect(s)
			s.connErr = err
			r.logger.Error("giving up reconnecting", s.logFields().With(LogFieldError, err.Error()))
			r.notifyReconnect(s, attempt, err)
			s.signal()
			return
		}
		r.notifyReconnect(s, attempt, cause)
		s.reconnectDelay = nextBackoff(o, attempt, s.reconnectDelay, cause)
	}

	s.reconnectSeq++
	seq, delay := s.reconnectSeq, s.reconnectDelay
	r.logger.Info("reconnect scheduled", s.logFields().
		With("attempt", s.reconnectAttempt+1).
		With(LogFieldDuration, delay.String()))

	s.reconnectTimer = time.AfterFunc(delay, func() {
		r.mux.post(event{kind: evReconnect, sess: s, attempt: seq})
	})
}

// nextBackoff doubles the delay unless a strategy is configured, bounded
// by the maximum backoff.
func nextBackoff(o *clientOptions, attempt int, current time.Duration, err error) time.Duration {
	next := current * 2
	if o.backoffStrategy != nil {
		next = o.backoffStrategy(attempt, current, err)
	}
	return min(max(next, 0), o.maxBackoff)
}

// handleReconnect starts the attempt a reconnect timer fired for.
func (r *Registry) handleReconnect(ev event) {
	s := ev.sess
	if _, live := r.sessions[s]; !live || !s.reconnecting || ev.attempt != s.reconnectSeq {
		return
	}
	s.reconnectTimer = nil

	// An attempt started by Connect reports back through failAttempt or
	// handleConnack.
	if s.connected || s.state != StateNotInProgress {
		return
	}

	s.reconnectAttempt++
	r.metrics.reconnecting()
	r.nextServer(s)

	if _, err := r.connect(s); err != nil {
		r.scheduleReconnect(s, err)
	}
}

// reconnected ends the reconnect cycle after a successful CONNACK.
func (r *Registry) reconnected(s *Session, sessionPresent bool) {
	attempt := s.reconnectAttempt
	r.stopReconnect(s)
	r.notifyReconnect(s, attempt, nil)

	if !sessionPresent {
		r.restoreSubscriptions(s)
	}
}

// stopReconnect cancels a pending reconnect timer and leaves the cycle.
func (r *Registry) stopReconnect(s *Session) {
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.reconnectSeq++
	s.reconnecting = false
	s.reconnectAttempt = 0
}

func (r *Registry) notifyReconnect(s *Session, attempt int, err error) {
	if handler := s.onReconnect; handler != nil {
		r.note(func() { handler(attempt, err) })
	}
}

// nextServer moves s to the next server URI in round-robin order.
func (r *Registry) nextServer(s *Session) {
	if len(s.servers) < 2 {
		return
	}
	s.serverIndex = (s.serverIndex + 1) % len(s.servers)
	srv := s.servers[s.serverIndex]
	s.serverURI, s.endpoint = srv.uri, srv.ep
}

// restoreSubscriptions sends one SUBSCRIBE with every filter granted
// before the connection dropped. Nobody waits for the SUBACK; refused
// filters are logged and forgotten.
func (r *Registry) restoreSubscriptions(s *Session) {
	if len(s.subscriptions) == 0 {
		return
	}

	subs := make([]Subscription, 0, len(s.subscriptions))
	for _, sub := range s.subscriptions {
		subs = append(subs, sub)
	}
	slices.SortFunc(subs, func(a, b Subscription) int {
		return strings.Compare(a.TopicFilter, b.TopicFilter)
	})

	id, err := s.nextMsgID()
	if err != nil {
		r.logger.Warn("cannot restore subscriptions", s.logFields().With(LogFieldError, err.Error()))
		return
	}

	s.pending[id] = &pendingOp{kind: PacketSUBACK, restore: subs}
	r.logger.Info("restoring subscriptions", s.logFields().
		With(LogFieldPacketID, id).
		With("filters", len(subs)))
	r.sendAck(s, &SubscribePacket{PacketID: id, Subscriptions: subs})
}

// trackSubscriptions records the filters the server granted.
func (s *Session) trackSubscriptions(subs []Subscription, codes []ReasonCode) {
	for i, rc := range codes {
		if i < len(subs) && !rc.IsError() {
			s.subscriptions[subs[i].TopicFilter] = subs[i]
		}
	}
}

// untrackSubscriptions forgets filters the server unsubscribed. MQTT 3.x
// acks carry no codes and remove every filter.
func (s *Session) untrackSubscriptions(filters []string, codes []ReasonCode) {
	for i, f := range filters {
		if i < len(codes) && codes[i].IsError() {
			continue
		}
		delete(s.subscriptions, f)
	}
}
