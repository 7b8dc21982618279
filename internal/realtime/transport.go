package realtime

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNotConnected returned by Conn.Emit while the transport has no live link
var ErrNotConnected = errors.New("realtime: transport not connected")

// Conn a live transport session. It survives transport-level reconnects:
// the transport reports each drop and each re-established link through the
// Handler it was dialed with.
type Conn interface {
	// Emit sends a control message carrying a sensor id upstream
	Emit(ctx context.Context, event string, sensorID string) error
	// Close tears the session down; no handler callbacks follow
	Close() error
}

// Handler receives transport callbacks. Calls for one Conn are sequential.
type Handler interface {
	OnConnected(conn Conn)
	OnDisconnected(conn Conn, err error)
	OnFrame(conn Conn, event string, data json.RawMessage)
}

// Provider opens transport sessions. Reconnection after an unexpected drop
// is the provider's own policy.
type Provider interface {
	Dial(ctx context.Context, h Handler) (Conn, error)
}
