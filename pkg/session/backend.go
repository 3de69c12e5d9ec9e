// Package session is the client-side transport for relay-hosted multiplayer
// games. One player hosts the authoritative game logic (the backend) inside
// their own client; everyone else joins as a thin remote. The transport hides
// that difference from the frontend: both roles submit RPCs and poll view
// updates through the same surface, driven by a per-frame Tick.
package session

// Backend is the contract between the transport and game-specific logic.
// A backend is a purely event-driven state machine: it receives events
// (joins, RPCs, timer callbacks) and queues Commands for the transport to
// collect via DrainCommands. It only ever exists on the hosting client.
//
// Implementations must keep the view state consistent with every delta they
// emit; joining players are synchronized from ViewState alone.
type Backend[R, D, V any] interface {
	// PlayerArrival is called when a player connects, including the local
	// host player (id 0) right after the handshake.
	PlayerArrival(player uint16)

	// PlayerDeparture is called when a player disconnects, intentionally
	// or not. Emit TerminateRoom if the game cannot continue without them.
	PlayerDeparture(player uint16)

	// InformRPC delivers a game action. Validate it here; invalid actions
	// may be ignored or answered with a kick.
	InformRPC(player uint16, payload R)

	// TimerTriggered is called when a timer set via SetTimer runs out.
	TimerTriggered(timerID uint16)

	// ViewState returns the complete current state for synchronizing a
	// client. It must reflect every delta emitted so far.
	ViewState() V

	// DrainCommands returns and clears the commands queued since the last
	// drain. Called once per host tick.
	DrainCommands() []Command
}

// BackendFactory constructs the game backend once the handshake reports the
// rule variation the room was created with.
type BackendFactory[R, D, V any] func(ruleVariation uint16) Backend[R, D, V]

// Command is one instruction from the backend to the transport. The concrete
// types below are the only implementations.
type Command interface {
	isCommand()
}

// Delta is an incremental state change, broadcast to all clients and queued
// locally for the host's own frontend. Keep deltas minimal; complex
// transitions may be split into several, they are coalesced into one network
// message per tick.
type Delta[D any] struct {
	Payload D
}

// ResetViewState discards every client's view and replaces it with a fresh
// full state. Deltas queued in the same tick are dropped; the reset state
// already contains their effect.
type ResetViewState struct{}

// KickPlayer forcibly removes one player from the session.
type KickPlayer struct {
	Player uint16
}

// SetTimer schedules a TimerTriggered callback after Duration seconds.
// Setting an id that is already pending replaces the previous timer.
type SetTimer struct {
	TimerID  uint16
	Duration float64
}

// CancelTimer removes a pending timer. No-op if it already fired.
type CancelTimer struct {
	TimerID uint16
}

// TerminateRoom shuts the room down and disconnects everyone. Terminal; no
// further commands are processed.
type TerminateRoom struct{}

func (Delta[D]) isCommand()       {}
func (ResetViewState) isCommand() {}
func (KickPlayer) isCommand()     {}
func (SetTimer) isCommand()       {}
func (CancelTimer) isCommand()    {}
func (TerminateRoom) isCommand()  {}
