package mqtt

import (
	"errors"
	"fmt"
)

// Connection lifecycle errors - check with errors.Is().
var (
	// ErrConnectionLost wraps every transport failure that ends a connected session.
	ErrConnectionLost = errors.New("connection lost")

	// ErrKeepAliveTimeout is the cause when no PINGRESP arrived in time.
	ErrKeepAliveTimeout = errors.New("keep-alive timeout")

	// ErrServerDisconnect is the cause when the server sent DISCONNECT.
	ErrServerDisconnect = errors.New("server disconnect")

	ErrConnectInProgress = errors.New("connect already in progress")
	ErrAlreadyConnected  = errors.New("already connected")
	ErrNotConnected      = errors.New("not connected")
	ErrClientClosed      = errors.New("client closed")
	ErrRegistryStopped   = errors.New("registry stopped")

	// ErrReconnectFailed is reported once automatic reconnects gave up.
	ErrReconnectFailed = errors.New("reconnect failed")

	// ErrTLSNotSupported is returned for ssl, mqtts and wss URIs.
	ErrTLSNotSupported = errors.New("TLS is not supported")
	ErrInvalidURI      = errors.New("invalid server URI")
)

// Protocol errors.
var (
	ErrProtocolError     = errors.New("protocol error")
	ErrAuthFailed        = errors.New("authentication failed")
	ErrInvalidTransition = errors.New("invalid connect state transition")
)

// Resource and operation errors. None of them leave partial state behind.
var (
	// ErrTimeout is returned when a bounded wait elapses.
	ErrTimeout = errors.New("timed out")

	// ErrNoMoreMsgIDs is returned when all 65535 message ids are in flight.
	ErrNoMoreMsgIDs = errors.New("no more message ids available")

	// ErrMessageDiscarded is reported for an unacknowledged message
	// dropped by a clean start.
	ErrMessageDiscarded = errors.New("message discarded before completion")

	ErrPublishFailed     = errors.New("publish failed")
	ErrSubscribeFailed   = errors.New("subscribe failed")
	ErrUnsubscribeFailed = errors.New("unsubscribe failed")
)

// ConnectError describes a refused or failed connection attempt.
// Extract with errors.As().
type ConnectError struct {
	err        error
	ReasonCode ReasonCode
	Properties *Properties
}

func (e *ConnectError) Error() string {
	return "connect failed: " + e.ReasonCode.String()
}

func (e *ConnectError) Unwrap() error { return e.err }

// NewConnectError creates a ConnectError from a CONNACK reason code.
func NewConnectError(reason ReasonCode, props *Properties) *ConnectError {
	baseErr := ErrProtocolError
	switch reason {
	case ReasonBadUserNameOrPassword, ReasonNotAuthorized, ReasonBadAuthMethod:
		baseErr = ErrAuthFailed
	}
	return &ConnectError{
		err:        baseErr,
		ReasonCode: reason,
		Properties: props,
	}
}

// PublishError is reported when the server answers a publish with an error
// reason code (MQTT 5 only).
type PublishError struct {
	err        error
	Topic      string
	PacketID   uint16
	ReasonCode ReasonCode
}

func (e *PublishError) Error() string {
	return fmt.Sprintf("publish %d failed: %s", e.PacketID, e.ReasonCode)
}

func (e *PublishError) Unwrap() error { return e.err }

func NewPublishError(topic string, packetID uint16, reason ReasonCode) *PublishError {
	return &PublishError{
		err:        ErrPublishFailed,
		Topic:      topic,
		PacketID:   packetID,
		ReasonCode: reason,
	}
}

// SubscribeError is reported when a SUBACK refuses a topic filter.
type SubscribeError struct {
	err        error
	Topic      string
	ReasonCode ReasonCode
}

func (e *SubscribeError) Error() string {
	return "subscribe " + e.Topic + " failed: " + e.ReasonCode.String()
}

func (e *SubscribeError) Unwrap() error { return e.err }

func NewSubscribeError(topic string, reason ReasonCode) *SubscribeError {
	return &SubscribeError{
		err:        ErrSubscribeFailed,
		Topic:      topic,
		ReasonCode: reason,
	}
}

// ConnectionLostError is passed to the connection-lost handler.
type ConnectionLostError struct {
	err   error
	Cause error
}

func (e *ConnectionLostError) Error() string {
	if e.Cause != nil {
		return "connection lost: " + e.Cause.Error()
	}
	return "connection lost"
}

func (e *ConnectionLostError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.err}
	}
	return []error{e.err, e.Cause}
}

func NewConnectionLostError(cause error) *ConnectionLostError {
	return &ConnectionLostError{
		err:   ErrConnectionLost,
		Cause: cause,
	}
}

// DisconnectError describes a DISCONNECT received from the server.
type DisconnectError struct {
	err        error
	ReasonCode ReasonCode
	Properties *Properties
}

func (e *DisconnectError) Error() string {
	return "server disconnect: " + e.ReasonCode.String()
}

func (e *DisconnectError) Unwrap() error { return e.err }

func NewDisconnectError(reason ReasonCode, props *Properties) *DisconnectError {
	return &DisconnectError{
		err:        ErrServerDisconnect,
		ReasonCode: reason,
		Properties: props,
	}
}
