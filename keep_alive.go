package mqtt

import "time"

// keepalive applies the ping rules to a connected session and reports
// whether it is still connected.
//
// A PINGREQ is sent when nothing was sent or received for one keepalive
// interval. If the transport is draining a partial write the ping is
// marked due instead. A ping left unanswered, or due, for a whole interval
// closes the session.
func (r *Registry) keepalive(s *Session, now time.Time) bool {
	ka := s.keepAlive
	if ka <= 0 {
		return true
	}

	if s.pingOutstanding {
		if now.Sub(s.pingSent) >= ka {
			r.logger.Warn("no PINGRESP within keepalive", s.logFields().With(LogFieldDuration, ka.String()))
			r.closeSession(s, ErrKeepAliveTimeout)
			return false
		}
		return true
	}

	if s.pingDue && now.Sub(s.pingDueSince) >= ka {
		r.logger.Warn("ping postponed past keepalive", s.logFields().With(LogFieldDuration, ka.String()))
		r.closeSession(s, ErrKeepAliveTimeout)
		return false
	}

	if now.Sub(s.lastSent) >= ka || now.Sub(s.lastReceived) >= ka {
		return r.ping(s, now)
	}
	return true
}

// ping sends PINGREQ, or marks it due while the transport is busy.
func (r *Registry) ping(s *Session, now time.Time) bool {
	if s.busy() || len(s.ackQueue) > 0 {
		r.postponePing(s, now)
		return true
	}

	res, err := r.sendPacket(s, &PingreqPacket{})
	switch res {
	case writeFailed:
		r.closeSession(s, err)
		return false
	case writeBusy:
		r.postponePing(s, now)
		return true
	case writeRejected:
		r.logger.Error("cannot send PINGREQ", s.logFields().With(LogFieldError, err.Error()))
		return true
	}

	s.pingOutstanding = true
	s.pingSent = now
	s.pingDue = false
	r.metrics.pinged()
	return true
}

func (r *Registry) postponePing(s *Session, now time.Time) {
	if !s.pingDue {
		s.pingDue = true
		s.pingDueSince = now
	}
}
