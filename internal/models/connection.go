package models

import "time"

// Connection is created the moment a tunnel is verified to carry traffic
// and discarded on disconnect. It is immutable.
type Connection struct {
	ProfileID  string
	Protocol   Protocol
	ServerAddr string
	StartedAt  time.Time
}

// Phase enumerates the connection state machine positions.
type Phase int

const (
	PhaseDisconnected Phase = iota
	PhaseConnecting
	PhaseConnected
	PhaseReconnecting
	PhaseError
)

func (p Phase) String() string {
	switch p {
	case PhaseDisconnected:
		return "disconnected"
	case PhaseConnecting:
		return "connecting"
	case PhaseConnected:
		return "connected"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseError:
		return "error"
	default:
		return "unknown"
	}
}

// ConnectionState is the current value of the manager's observable cell.
// Connection is non-nil iff Phase is PhaseConnected; Err is non-nil iff
// Phase is PhaseError.
type ConnectionState struct {
	Phase      Phase
	Connection *Connection
	Err        error
}

func Disconnected() ConnectionState {
	return ConnectionState{Phase: PhaseDisconnected}
}

func Connecting() ConnectionState {
	return ConnectionState{Phase: PhaseConnecting}
}

func Connected(conn *Connection) ConnectionState {
	return ConnectionState{Phase: PhaseConnected, Connection: conn}
}

func Reconnecting() ConnectionState {
	return ConnectionState{Phase: PhaseReconnecting}
}

func Errored(err error) ConnectionState {
	return ConnectionState{Phase: PhaseError, Err: err}
}
