// Package room implements the per-room supervisor and its satellites: the
// broadcast fan-out, the speaker watchdog, and the hub that owns all live
// rooms.
//
// Each room is serviced by one worker goroutine that owns every piece of
// mutable room state. Public methods post closures onto the worker's channel;
// external I/O completions (translations, synthesised audio, watchdog ticks)
// re-enter the room the same way, so no locks guard room state.
package room

import (
	"github.com/babelroom/babelroom/pkg/types"
)

// WebSocket close codes used by the room.
const (
	// CloseGoingAway is sent when the room shuts down.
	CloseGoingAway = 1001

	// CloseInternalError is sent when a write to the subscriber failed.
	CloseInternalError = 1011
)

// Control message types delivered through [Conn.SendControl].
const (
	ControlReset    = "reset"
	ControlWatchdog = "watchdog"
)

// Conn is the transport half of a subscriber, implemented by the websocket
// edge. Send methods are expected to enqueue onto a bounded outbound buffer
// and fail fast; any error causes the room to drop the subscriber.
type Conn interface {
	SendPatch(p types.EgressPatch) error
	SendAudio(rec types.AudioRecord) error
	SendControl(typ string, payload any) error
	Close(code int, reason string)
}

// Subscriber is one connection's room-side state. The room worker is the only
// goroutine that touches it after registration.
type Subscriber struct {
	ID       string
	Role     types.Role
	Lang     string
	WantsTTS bool

	conn Conn

	// lastSeen maps unitId to the highest version already sent, enforcing
	// at-most-once delivery per revision.
	lastSeen map[string]int64
}

// NewSubscriber creates a Subscriber over the given connection.
func NewSubscriber(id string, role types.Role, lang string, wantsTTS bool, conn Conn) *Subscriber {
	return &Subscriber{
		ID:       id,
		Role:     role,
		Lang:     lang,
		WantsTTS: wantsTTS,
		conn:     conn,
		lastSeen: make(map[string]int64),
	}
}

// MarkSeen raises the subscriber's watermark for a unit. Versions at or below
// the current watermark are ignored.
func (s *Subscriber) MarkSeen(unitID string, version int64) {
	if version > s.lastSeen[unitID] {
		s.lastSeen[unitID] = version
	}
}
