package mqtt

import "time"

// minRetryInterval is the floor applied to the configured retry interval.
const minRetryInterval = 10 * time.Second

// retry resends outbound records. In timed mode a record is resent once it
// has waited max(retryInterval, 10s) for its next ack; a zero retry
// interval disables timed retries. In regardless mode, run after a
// (re)connect, every record is resent once per connection epoch. A record
// awaiting PUBCOMP is resent as PUBREL, any other as PUBLISH with DUP set.
// The sweep stops at a busy transport and is resumed on the next writable
// event; a transport failure closes the session.
func (r *Registry) retry(s *Session, now time.Time, regardless bool) {
	if !s.connected {
		return
	}
	if !regardless && s.retryInterval <= 0 {
		return
	}
	if s.busy() {
		return
	}

	interval := max(s.retryInterval, minRetryInterval)
	finished := true

	s.outbound.each(func(m *inflight) bool {
		if regardless {
			if m.resentEpoch == s.epoch {
				return true
			}
		} else if now.Sub(m.touched) < interval {
			return true
		}

		res, err := r.resend(s, m, now)
		switch res {
		case writeFailed:
			r.closeSession(s, err)
			finished = false
			return false
		case writeBusy:
			finished = false
			return false
		case writeRejected:
			r.logger.Error("cannot resend message", s.logFields().
				With(LogFieldPacketID, m.id).
				With(LogFieldError, err.Error()))
		}

		m.resentEpoch = s.epoch
		if res == writePartial {
			finished = false
			return false
		}
		return true
	})

	if regardless && finished {
		s.resumePending = false
	}
}

func (r *Registry) resend(s *Session, m *inflight, now time.Time) (writeResult, error) {
	m.touched = now
	r.metrics.retried()

	r.logger.Debug("resending", s.logFields().
		With(LogFieldPacketID, m.id).
		With(LogFieldPacketType, m.next.String()))

	if m.next == PacketPUBCOMP {
		return r.sendPacket(s, newPubrel(m.id, ReasonSuccess))
	}

	pkt := m.publishPacket(true)
	header, err := pkt.encodeHeader(s.version)
	if err != nil {
		return writeRejected, err
	}
	return r.writePublish(s, m.pub, header, pkt.Payload)
}
