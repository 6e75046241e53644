// Package database owns the single connection to the backing document store
// and supervises its lifecycle: connect with bounded retries, ambient state
// tracking from driver events, health probing and clean shutdown.
package database

import (
	"context"
	"errors"
	"fmt"

	svcerrors "github.com/R3E-Network/user_service/internal/errors"
)

// State is the connection state. Only the Manager moves between states.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

var stateNames = [...]string{
	StateDisconnected:  "disconnected",
	StateConnecting:    "connecting",
	StateConnected:     "connected",
	StateDisconnecting: "disconnecting",
}

func (s State) String() string {
	if int(s) < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// StateNames lists every state name, in declaration order.
func StateNames() []string {
	return stateNames[:]
}

// Status is a read-only snapshot of the connection.
type Status struct {
	State       State  `json:"-"`
	StateName   string `json:"state"`
	Host        string `json:"host"`
	Port        int    `json:"port"`
	Database    string `json:"database"`
	IsConnected bool   `json:"isConnected"`
}

// EventKind classifies an ambient driver notification.
type EventKind int

const (
	EventConnected EventKind = iota
	EventDisconnected
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventConnected:
		return "connected"
	case EventDisconnected:
		return "disconnected"
	case EventError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is an asynchronous state notification emitted by a Driver.
type Event struct {
	Kind EventKind
	Err  error
}

// Driver is the set of primitives the Manager needs from a store driver.
type Driver interface {
	// Connect opens the connection and verifies it with a round trip.
	Connect(ctx context.Context) error
	// Disconnect closes the connection.
	Disconnect(ctx context.Context) error
	// Ping issues a lightweight round trip.
	Ping(ctx context.Context) error
	// Subscribe installs the handler receiving ambient events. A later call
	// replaces the previous handler.
	Subscribe(handler func(Event))
}

// IndexInitializer performs schema-level setup once the store is reachable.
type IndexInitializer func(ctx context.Context) error

var (
	// ErrNotConnected is returned when an operation needs a live connection.
	ErrNotConnected = fmt.Errorf("database: not connected: %w", svcerrors.ErrUnavailable)
	// ErrRetriesExhausted is returned once every connection attempt failed.
	ErrRetriesExhausted = errors.New("database: connection retries exhausted")
	// ErrDisconnect wraps failures while closing the connection.
	ErrDisconnect = errors.New("database: disconnect failed")
)
