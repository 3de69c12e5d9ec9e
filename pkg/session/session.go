package session

import (
	"errors"
	"fmt"

	"github.com/boardgamehub/relay/internal/v1/protocol"
	"github.com/boardgamehub/relay/internal/v1/types"
)

// State is the connection lifecycle position of a Transport.
//
//	Disconnected -> AwaitingHandshake -> ExecutingHandshake -> Connected
//	     ^                                                        |
//	     +----------------- (on error or disconnect) -------------+
type State int

const (
	// StateDisconnected means no room is joined. Status.Err carries the
	// reason if this state was reached through an error.
	StateDisconnected State = iota
	// StateAwaitingHandshake means the socket is up but the join request
	// has not been sent yet.
	StateAwaitingHandshake
	// StateExecutingHandshake means the join request is out and the
	// transport waits for the relay's response.
	StateExecutingHandshake
	// StateConnected means gameplay is running.
	StateConnected
)

// Status is a snapshot of the transport's connection state. PlayerID and
// RuleSet are meaningful only while connected; the host is always player 0.
type Status struct {
	State    State
	IsHost   bool
	PlayerID uint16
	RuleSet  uint16
	Err      string
}

// Update is one view change for the frontend. Exactly one field is set:
// a Full state should be applied immediately without animation, a Delta is
// meant to drive a transition.
type Update[D, V any] struct {
	Full  *V
	Delta *D
}

// hostContext exists only while this client hosts the game.
type hostContext[R, D, V any] struct {
	backend       Backend[R, D, V]
	timers        *TimerWheel
	remotePlayers uint16
}

// Transport drives one relay session from a frame-based game loop. Call
// Tick once per frame; between ticks, submit RPCs and poll updates. The
// transport is not safe for concurrent use, it belongs to the frame loop.
type Transport[R, D, V any] struct {
	url      string
	gameName string
	codec    Codec[R, D, V]
	factory  BackendFactory[R, D, V]
	dial     dialFunc

	conn    netConn
	status  Status
	pending []byte // encoded join request, sent during AwaitingHandshake

	updates  []Update[D, V]
	rpcQueue []R

	srv *hostContext[R, D, V]
}

// New creates a disconnected transport. url is the relay's WebSocket
// endpoint, gameName must match an entry of the relay's game catalog.
func New[R, D, V any](url, gameName string, codec Codec[R, D, V], factory BackendFactory[R, D, V]) *Transport[R, D, V] {
	return &Transport[R, D, V]{
		url:      url,
		gameName: gameName,
		codec:    codec,
		factory:  factory,
		dial:     dialRelay,
	}
}

// StartHost opens a new room and runs the game backend locally. Allowed
// only while disconnected.
func (t *Transport[R, D, V]) StartHost(roomID string, ruleVariation uint16) error {
	return t.start(roomID, ruleVariation, true)
}

// StartClient joins an existing room as a remote player. Allowed only while
// disconnected.
func (t *Transport[R, D, V]) StartClient(roomID string) error {
	return t.start(roomID, 0, false)
}

func (t *Transport[R, D, V]) start(roomID string, ruleVariation uint16, isHost bool) error {
	if t.status.State != StateDisconnected {
		return errors.New("connecting is only allowed while disconnected")
	}

	conn, err := t.dial(t.url)
	if err != nil {
		t.markError(err.Error())
		return nil
	}

	t.pending = protocol.EncodeJoinRequest(protocol.JoinRequest{
		GameID:        types.GameID(t.gameName),
		RoomID:        types.RoomID(roomID),
		RuleVariation: types.RuleVariation(ruleVariation),
		CreateRoom:    isHost,
	})
	t.conn = conn
	t.status = Status{State: StateAwaitingHandshake, IsHost: isHost}
	return nil
}

// Disconnect leaves the current game gracefully, telling the relay so the
// other players see the departure. No-op unless connected.
func (t *Transport[R, D, V]) Disconnect() {
	if t.status.State != StateConnected || t.conn == nil {
		return
	}
	if t.status.IsHost {
		_ = t.conn.Send(protocol.ServerDisconnectFrame())
	} else {
		_ = t.conn.Send(protocol.ClientDisconnectSelfFrame())
	}
	t.markError("Disconnected from server")
	t.srv = nil
}

// SubmitRPC queues a game action. It is processed on the next Tick: the
// host hands it to the local backend as player 0, a remote client sends it
// to the host over the network.
func (t *Transport[R, D, V]) SubmitRPC(payload R) {
	t.rpcQueue = append(t.rpcQueue, payload)
}

// PollUpdate returns the next pending view update, if any. Updates arrive
// in order; poll one per frame to pace animations.
func (t *Transport[R, D, V]) PollUpdate() (Update[D, V], bool) {
	if len(t.updates) == 0 {
		return Update[D, V]{}, false
	}
	update := t.updates[0]
	t.updates = t.updates[1:]
	return update, true
}

// Status returns the current connection snapshot.
func (t *Transport[R, D, V]) Status() Status {
	return t.status
}

// Tick advances the transport by one frame. deltaSeconds feeds the host's
// timer wheel; remote clients ignore it.
func (t *Transport[R, D, V]) Tick(deltaSeconds float64) {
	switch t.status.State {
	case StateDisconnected:
		// Nothing to do until the next Start call.
	case StateAwaitingHandshake:
		t.tickAwaiting()
	case StateExecutingHandshake:
		t.tickHandshake()
	case StateConnected:
		if t.status.IsHost {
			t.tickHost(deltaSeconds)
		} else {
			t.tickClient()
		}
	}
}

// markError drops the connection and records the reason.
func (t *Transport[R, D, V]) markError(reason string) {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.status = Status{State: StateDisconnected, Err: reason}
}

func (t *Transport[R, D, V]) tickAwaiting() {
	if err := t.conn.Send(t.pending); err != nil {
		t.markError(err.Error())
		return
	}
	t.pending = nil
	t.status.State = StateExecutingHandshake
}

func (t *Transport[R, D, V]) tickHandshake() {
	frame, err := t.conn.TryRecv()
	if err != nil {
		t.markError(err.Error())
		return
	}
	if len(frame) == 0 {
		return // Still waiting.
	}

	switch frame[0] {
	case protocol.TagServerError:
		t.markError(string(frame[1:]))
	case protocol.TagHandshakeResponse:
		playerID, rule, err := protocol.ParseHandshakeResponse(frame)
		if err != nil {
			t.markError(err.Error())
			return
		}
		t.status.State = StateConnected
		t.status.PlayerID = uint16(playerID)
		t.status.RuleSet = uint16(rule)
		if t.status.IsHost {
			t.becomeHost(uint16(rule))
		}
	default:
		t.markError(fmt.Sprintf("Unknown message received in handshake: %d", frame[0]))
	}
}

// becomeHost constructs the backend and seeds the local frontend with the
// initial full state. The host itself arrives as player 0.
func (t *Transport[R, D, V]) becomeHost(ruleVariation uint16) {
	srv := &hostContext[R, D, V]{
		backend: t.factory(ruleVariation),
		timers:  NewTimerWheel(),
	}
	srv.backend.PlayerArrival(0)
	view := srv.backend.ViewState()
	t.updates = append(t.updates, Update[D, V]{Full: &view})
	t.srv = srv
}

// tickHost runs one authoritative frame. The order matters: timers fire
// first, then local input, then network input, then the backend's command
// queue is translated into broadcasts. The full sync for a freshly joined
// client goes out last so it reflects everything that happened this tick.
func (t *Transport[R, D, V]) tickHost(deltaSeconds float64) {
	srv := t.srv

	// 1. Timer run-outs.
	for _, timerID := range srv.timers.Tick(deltaSeconds) {
		srv.backend.TimerTriggered(timerID)
	}

	// 2. Local input; on the host the local player is always player 0.
	for _, rpc := range t.rpcQueue {
		srv.backend.InformRPC(0, rpc)
	}
	t.rpcQueue = t.rpcQueue[:0]

	// 3. Network input.
	clientJoined := false
	for {
		frame, err := t.conn.TryRecv()
		if err != nil {
			t.markError(err.Error())
			t.srv = nil
			return
		}
		if len(frame) == 0 {
			break
		}

		switch frame[0] {
		case protocol.TagServerError:
			t.markError(string(frame[1:]))
			t.srv = nil
			return
		case protocol.TagNewClient:
			playerID, err := protocol.PlayerIDOf(frame)
			if err != nil {
				t.markError(err.Error())
				t.srv = nil
				return
			}
			clientJoined = true
			srv.backend.PlayerArrival(uint16(playerID))
			srv.remotePlayers++
		case protocol.TagClientDisconnects:
			playerID, err := protocol.PlayerIDOf(frame)
			if err != nil {
				t.markError(err.Error())
				t.srv = nil
				return
			}
			srv.backend.PlayerDeparture(uint16(playerID))
			if srv.remotePlayers > 0 {
				srv.remotePlayers--
			}
		case protocol.TagServerRPC:
			if len(frame) < protocol.PlayerIDFrameSize {
				t.markError("Failed to deserialize server rpc payload")
				t.srv = nil
				return
			}
			playerID, _ := protocol.PlayerIDOf(frame)
			payload, err := t.codec.DecodeRPC(frame[protocol.PlayerIDFrameSize:])
			if err != nil {
				t.markError("Failed to deserialize server rpc payload")
				t.srv = nil
				return
			}
			srv.backend.InformRPC(uint16(playerID), payload)
		default:
			t.markError(fmt.Sprintf("Unknown message received: %d", frame[0]))
			t.srv = nil
			return
		}
	}

	// 4+5. Drain the backend and act on the control commands.
	hasReset := false
	var deltas []D
	for _, cmd := range srv.backend.DrainCommands() {
		switch c := cmd.(type) {
		case TerminateRoom:
			_ = t.conn.Send(protocol.ServerDisconnectFrame())
			t.markError("Critical player left.")
			t.srv = nil
			return
		case SetTimer:
			srv.timers.Set(c.TimerID, c.Duration)
		case CancelTimer:
			srv.timers.Cancel(c.TimerID)
		case KickPlayer:
			// Safeguard for the case that the player already left.
			if srv.remotePlayers > 0 {
				_ = t.conn.Send(protocol.KickFrame(types.PlayerID(c.Player)))
			}
		case ResetViewState:
			hasReset = true
		case Delta[D]:
			deltas = append(deltas, c.Payload)
		}
	}

	// 6. A reset supersedes every delta of this tick; the view state
	// already is the situation right after all of them.
	if hasReset {
		view := srv.backend.ViewState()
		if srv.remotePlayers > 0 {
			if payload, err := t.codec.EncodeView(view); err == nil {
				_ = t.conn.Send(protocol.ResetFrame(payload))
			}
		}
		t.updates = append(t.updates, Update[D, V]{Full: &view})
		return
	}

	// 7. Queue the deltas locally and broadcast them in one frame.
	for i := range deltas {
		delta := deltas[i]
		t.updates = append(t.updates, Update[D, V]{Delta: &delta})
	}

	if srv.remotePlayers == 0 {
		return
	}

	if len(deltas) > 0 {
		var payload []byte
		for _, delta := range deltas {
			encoded, err := t.codec.EncodeDelta(delta)
			if err != nil {
				t.markError("Could not serialize delta information.")
				t.srv = nil
				return
			}
			payload = append(payload, encoded...)
		}
		_ = t.conn.Send(protocol.DeltaFrame(payload))
	}

	// The full sync happens at the very end: the view state is the final
	// state the backend left behind, so the joiner catches up completely.
	if clientJoined {
		if payload, err := t.codec.EncodeView(srv.backend.ViewState()); err == nil {
			_ = t.conn.Send(protocol.FullFrame(payload))
		}
	}
}

// tickClient sends queued RPCs and turns incoming broadcasts into view
// updates.
func (t *Transport[R, D, V]) tickClient() {
	for _, rpc := range t.rpcQueue {
		payload, err := t.codec.EncodeRPC(rpc)
		if err != nil {
			t.markError("Failed to serialize server rpc payload")
			return
		}
		_ = t.conn.Send(protocol.RPCFrame(payload))
	}
	t.rpcQueue = t.rpcQueue[:0]

	for {
		frame, err := t.conn.TryRecv()
		if err != nil {
			t.markError(err.Error())
			return
		}
		if len(frame) == 0 {
			return
		}

		switch frame[0] {
		case protocol.TagServerError:
			t.markError(string(frame[1:]))
			return
		case protocol.TagDeltaUpdate:
			rest := frame[1:]
			for len(rest) > 0 {
				delta, remainder, err := t.codec.DecodeDelta(rest)
				if err != nil {
					t.markError("Failed to decode delta payload")
					return
				}
				rest = remainder
				t.updates = append(t.updates, Update[D, V]{Delta: &delta})
			}
		case protocol.TagFullUpdate, protocol.TagReset:
			view, err := t.codec.DecodeView(frame[1:])
			if err != nil {
				t.markError("Failed to decode full payload")
				return
			}
			t.updates = append(t.updates, Update[D, V]{Full: &view})
		default:
			t.markError(fmt.Sprintf("Unknown message received: %d", frame[0]))
			return
		}
	}
}
