package mqtt

import "fmt"

// ConnectState is the handshake stage of a session.
type ConnectState int

const (
	// StateNotInProgress means no handshake is running. The session is
	// either connected or idle.
	StateNotInProgress ConnectState = iota
	StateTCPInProgress
	StateProxyConnectInProgress
	StateWebSocketInProgress
	StateWaitForConnack
	// StateDisconnecting drains in-flight acks before the transport is closed.
	StateDisconnecting
)

var connectStateNames = map[ConnectState]string{
	StateNotInProgress:          "not_in_progress",
	StateTCPInProgress:          "tcp_in_progress",
	StateProxyConnectInProgress: "proxy_connect_in_progress",
	StateWebSocketInProgress:    "websocket_in_progress",
	StateWaitForConnack:         "wait_for_connack",
	StateDisconnecting:          "disconnecting",
}

func (s ConnectState) String() string {
	if name, ok := connectStateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("ConnectState(%d)", int(s))
}

// InProgress reports whether a handshake stage is running.
func (s ConnectState) InProgress() bool {
	switch s {
	case StateTCPInProgress, StateProxyConnectInProgress, StateWebSocketInProgress, StateWaitForConnack:
		return true
	default:
		return false
	}
}

var connectTransitions = map[ConnectState][]ConnectState{
	StateNotInProgress: {StateTCPInProgress, StateDisconnecting},
	StateTCPInProgress: {
		StateProxyConnectInProgress,
		StateWebSocketInProgress,
		StateWaitForConnack,
		StateNotInProgress,
	},
	StateProxyConnectInProgress: {StateWebSocketInProgress, StateWaitForConnack, StateNotInProgress},
	StateWebSocketInProgress:    {StateWaitForConnack, StateNotInProgress},
	StateWaitForConnack:         {StateNotInProgress},
	StateDisconnecting:          {StateNotInProgress},
}

// CanTransition reports whether the state machine allows moving to next.
func (s ConnectState) CanTransition(next ConnectState) bool {
	for _, allowed := range connectTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// afterStage returns the state that follows a completed stage. The order
// is TCP, then proxy tunnel, then WebSocket upgrade, then CONNACK.
func afterStage(done ConnectState, proxied, websocket bool) ConnectState {
	switch done {
	case StateTCPInProgress:
		if proxied {
			return StateProxyConnectInProgress
		}
		if websocket {
			return StateWebSocketInProgress
		}
	case StateProxyConnectInProgress:
		if websocket {
			return StateWebSocketInProgress
		}
	}
	return StateWaitForConnack
}
