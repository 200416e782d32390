package mqtt

import (
	"context"
	"fmt"
)

// EnhancedAuthContext is passed to an authenticator when the server
// continues an MQTT 5 enhanced authentication exchange.
type EnhancedAuthContext struct {
	// AuthMethod is the authentication method echoed by the server.
	AuthMethod string

	// AuthData is the authentication data from the AUTH or CONNACK packet.
	AuthData []byte

	// ReasonCode is the reason code of the server's packet.
	ReasonCode ReasonCode

	// State is the value the authenticator returned from its previous step.
	State any
}

// EnhancedAuthResult is one step of an enhanced authentication exchange.
type EnhancedAuthResult struct {
	// Done reports that the authenticator expects no further challenge.
	Done bool

	// AuthData is sent to the server in the next CONNECT or AUTH packet.
	AuthData []byte

	// State is handed back on the next AuthContinue call.
	State any
}

// EnhancedAuthenticator drives the client side of MQTT 5 enhanced
// authentication. Calls are made from the dispatch loop and should not
// block for long.
type EnhancedAuthenticator interface {
	// AuthMethod returns the method name sent in CONNECT, e.g. "SCRAM-SHA-256".
	AuthMethod() string

	// AuthStart produces the initial data for CONNECT or a re-authentication.
	AuthStart(ctx context.Context) (*EnhancedAuthResult, error)

	// AuthContinue answers a server challenge. With ReasonSuccess it is the
	// final server message and the authenticator verifies it.
	AuthContinue(ctx context.Context, authCtx *EnhancedAuthContext) (*EnhancedAuthResult, error)
}

// authExchange is the in-progress enhanced authentication of one session.
type authExchange struct {
	method string
	state  any
}

// startAuth runs AuthStart and returns the CONNECT authentication properties.
func (r *Registry) startAuth(s *Session, ctx context.Context) (*authExchange, []byte, error) {
	a := s.opts.authenticator
	res, err := a.AuthStart(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	return &authExchange{method: a.AuthMethod(), state: res.State}, res.AuthData, nil
}

// finishAuth hands the server's final authentication data to the
// authenticator for verification.
func (r *Registry) finishAuth(s *Session, data []byte) error {
	a := s.opts.authenticator
	if a == nil || s.auth == nil {
		return nil
	}
	_, err := a.AuthContinue(r.authContext(s), &EnhancedAuthContext{
		AuthMethod: s.auth.method,
		AuthData:   data,
		ReasonCode: ReasonSuccess,
		State:      s.auth.state,
	})
	s.auth = nil
	if err != nil {
		return fmt.Errorf("%w: %w", ErrAuthFailed, err)
	}
	return nil
}

func (r *Registry) authContext(s *Session) context.Context {
	if s.attemptCtx != nil {
		return s.attemptCtx
	}
	return context.Background()
}

// handleAuth processes an AUTH packet during the handshake or a
// server-initiated re-authentication.
func (r *Registry) handleAuth(s *Session, p *AuthPacket) {
	a := s.opts.authenticator
	handshake := s.state == StateWaitForConnack

	fail := func(err error) {
		r.logger.Warn("enhanced authentication failed", s.logFields().With(LogFieldError, err.Error()))
		if handshake {
			r.failAttempt(s, err)
			return
		}
		r.sendPacket(s, &DisconnectPacket{ReasonCode: ReasonNotAuthorized})
		r.closeSession(s, err)
	}

	if a == nil {
		fail(fmt.Errorf("%w: AUTH without an authenticator", ErrProtocolError))
		return
	}

	switch p.ReasonCode {
	case ReasonReAuth:
		ex, data, err := r.startAuth(s, r.authContext(s))
		if err != nil {
			fail(err)
			return
		}
		s.auth = ex
		r.sendAuth(s, ReasonReAuth, data)

	case ReasonContinueAuth:
		if s.auth == nil {
			s.auth = &authExchange{method: a.AuthMethod()}
		}
		if method := p.Method(); method != "" && method != s.auth.method {
			fail(fmt.Errorf("%w: server switched auth method to %q", ErrProtocolError, method))
			return
		}
		res, err := a.AuthContinue(r.authContext(s), &EnhancedAuthContext{
			AuthMethod: s.auth.method,
			AuthData:   p.Data(),
			ReasonCode: p.ReasonCode,
			State:      s.auth.state,
		})
		if err != nil {
			fail(fmt.Errorf("%w: %w", ErrAuthFailed, err))
			return
		}
		s.auth.state = res.State
		r.sendAuth(s, ReasonContinueAuth, res.AuthData)

	case ReasonSuccess:
		if handshake {
			// Success during the handshake comes with CONNACK.
			fail(fmt.Errorf("%w: AUTH success before CONNACK", ErrProtocolError))
			return
		}
		if err := r.finishAuth(s, p.Data()); err != nil {
			fail(err)
		}

	default:
		fail(fmt.Errorf("%w: %s", ErrAuthFailed, p.ReasonCode))
	}
}

func (r *Registry) sendAuth(s *Session, rc ReasonCode, data []byte) {
	pkt := &AuthPacket{ReasonCode: rc}
	pkt.Props.Set(PropAuthenticationMethod, s.auth.method)
	if len(data) > 0 {
		pkt.Props.Set(PropAuthenticationData, data)
	}
	r.sendAck(s, pkt)
}
