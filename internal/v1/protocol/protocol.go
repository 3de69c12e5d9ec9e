// Package protocol defines the one-byte tag framing the relay imposes on
// WebSocket binary messages, together with the handshake wire format.
//
// Two independent tag spaces exist, scoped by direction. Multi-byte integers
// are big-endian. The relay never looks past the fields described here; game
// payloads are opaque byte strings.
package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/boardgamehub/relay/internal/v1/types"
)

// Tags travelling client -> relay -> host.
const (
	// TagNewClient announces a joined player to the host, followed by the
	// u16 player id (injected by the relay).
	TagNewClient byte = 0
	// TagClientDisconnects announces a departed player to the host,
	// followed by the u16 player id (injected by the relay).
	TagClientDisconnects byte = 1
	// TagServerRPC carries a game action. On the client->relay leg the body
	// is the opaque payload; the relay inserts the u16 player id between
	// tag and payload before forwarding to the host.
	TagServerRPC byte = 2
	// TagClientDisconnectsSelf is the client's intentional-leave marker.
	// It is consumed by the relay and translated to TagClientDisconnects.
	TagClientDisconnectsSelf byte = 3
)

// Tags travelling host -> relay -> client.
const (
	// TagServerDisconnects closes the room. Consumed by the relay.
	TagServerDisconnects byte = 0
	// TagClientGetsKicked targets one player, followed by the u16 player id.
	TagClientGetsKicked byte = 1
	// TagDeltaUpdate carries a concatenation of encoded delta items.
	TagDeltaUpdate byte = 2
	// TagFullUpdate carries one encoded view state.
	TagFullUpdate byte = 3
	// TagReset carries one encoded view state and clears client sync state.
	TagReset byte = 4
	// TagServerError carries a UTF-8 reason text.
	TagServerError byte = 5
	// TagHandshakeResponse carries u16 player id and u16 rule variation.
	TagHandshakeResponse byte = 6
)

// Frame and field sizes.
const (
	// PlayerIDSize is the width of an encoded player id.
	PlayerIDSize = 2
	// PlayerIDFrameSize is tag + player id, the full size of NEW_CLIENT,
	// CLIENT_DISCONNECTS and CLIENT_GETS_KICKED frames.
	PlayerIDFrameSize = 3
	// HandshakeResponseSize is tag + player id + rule variation.
	HandshakeResponseSize = 5
)

// DefaultChannelBufferSize is the bound on the per-room channels. A client
// that falls behind by more than this many broadcast frames is disconnected.
const DefaultChannelBufferSize = 256

var (
	// ErrShortFrame flags a frame too small for its tag.
	ErrShortFrame = errors.New("frame too short for message type")
	// ErrTruncated flags handshake data ending mid-field.
	ErrTruncated = errors.New("truncated handshake request")
)

// JoinRequest is the first binary frame every peer sends after connecting.
type JoinRequest struct {
	GameID        types.GameID
	RoomID        types.RoomID
	RuleVariation types.RuleVariation
	CreateRoom    bool
}

// --- Frame builders (client -> host direction) ---

// NewClientFrame announces player id to the host.
func NewClientFrame(id types.PlayerID) []byte {
	return playerIDFrame(TagNewClient, id)
}

// ClientDisconnectFrame announces a departed player to the host.
func ClientDisconnectFrame(id types.PlayerID) []byte {
	return playerIDFrame(TagClientDisconnects, id)
}

// ClientDisconnectSelfFrame is the single-byte intentional-leave marker.
func ClientDisconnectSelfFrame() []byte {
	return []byte{TagClientDisconnectsSelf}
}

// RPCFrame wraps an opaque payload as sent by a client. The relay injects
// the player id before the host sees it.
func RPCFrame(payload []byte) []byte {
	frame := make([]byte, 1+len(payload))
	frame[0] = TagServerRPC
	copy(frame[1:], payload)
	return frame
}

// InjectPlayerID rewrites an RPC frame to [tag][id hi][id lo][payload...].
// This is the point at which the host learns which peer produced the RPC.
func InjectPlayerID(frame []byte, id types.PlayerID) []byte {
	out := make([]byte, len(frame)+PlayerIDSize)
	out[0] = frame[0]
	binary.BigEndian.PutUint16(out[1:], uint16(id))
	copy(out[1+PlayerIDSize:], frame[1:])
	return out
}

// --- Frame builders (host -> client direction) ---

// ServerDisconnectFrame is the single-byte room-close marker.
func ServerDisconnectFrame() []byte {
	return []byte{TagServerDisconnects}
}

// KickFrame targets a single player for removal.
func KickFrame(id types.PlayerID) []byte {
	return playerIDFrame(TagClientGetsKicked, id)
}

// DeltaFrame wraps a concatenation of encoded delta items.
func DeltaFrame(payload []byte) []byte {
	return taggedFrame(TagDeltaUpdate, payload)
}

// FullFrame wraps an encoded view state for initial synchronization.
func FullFrame(payload []byte) []byte {
	return taggedFrame(TagFullUpdate, payload)
}

// ResetFrame wraps an encoded view state that also resets client sync state.
func ResetFrame(payload []byte) []byte {
	return taggedFrame(TagReset, payload)
}

// ErrorFrame wraps a terminal reason string.
func ErrorFrame(reason string) []byte {
	return taggedFrame(TagServerError, []byte(reason))
}

// HandshakeResponseFrame carries the assigned player id and the room's rule
// variation back to the connecting peer.
func HandshakeResponseFrame(id types.PlayerID, rule types.RuleVariation) []byte {
	frame := make([]byte, HandshakeResponseSize)
	frame[0] = TagHandshakeResponse
	binary.BigEndian.PutUint16(frame[1:], uint16(id))
	binary.BigEndian.PutUint16(frame[3:], uint16(rule))
	return frame
}

// --- Parsers ---

// PlayerIDOf extracts the u16 player id following the tag byte.
func PlayerIDOf(frame []byte) (types.PlayerID, error) {
	if len(frame) < PlayerIDFrameSize {
		return 0, ErrShortFrame
	}
	return types.PlayerID(binary.BigEndian.Uint16(frame[1:])), nil
}

// ParseHandshakeResponse splits a HAND_SHAKE_RESPONSE body.
func ParseHandshakeResponse(frame []byte) (types.PlayerID, types.RuleVariation, error) {
	if len(frame) < HandshakeResponseSize {
		return 0, 0, ErrShortFrame
	}
	id := types.PlayerID(binary.BigEndian.Uint16(frame[1:]))
	rule := types.RuleVariation(binary.BigEndian.Uint16(frame[3:]))
	return id, rule, nil
}

// --- Handshake request codec ---
//
// The join request is self-delimiting: strings are u16-length-prefixed
// UTF-8, followed by the u16 rule variation and a one-byte bool. Both the
// relay and the client transport use this codec, keeping the two ends
// bit-compatible.

// EncodeJoinRequest serializes a join request.
func EncodeJoinRequest(req JoinRequest) []byte {
	game := []byte(req.GameID)
	room := []byte(req.RoomID)
	buf := make([]byte, 0, 2+len(game)+2+len(room)+3)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(game)))
	buf = append(buf, game...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(len(room)))
	buf = append(buf, room...)
	buf = binary.BigEndian.AppendUint16(buf, uint16(req.RuleVariation))
	if req.CreateRoom {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	return buf
}

// DecodeJoinRequest parses a join request, rejecting trailing garbage.
func DecodeJoinRequest(data []byte) (JoinRequest, error) {
	var req JoinRequest
	game, rest, err := takeString(data)
	if err != nil {
		return req, err
	}
	room, rest, err := takeString(rest)
	if err != nil {
		return req, err
	}
	if len(rest) != 3 {
		return req, fmt.Errorf("%w: %d trailing bytes", ErrTruncated, len(rest))
	}
	req.GameID = types.GameID(game)
	req.RoomID = types.RoomID(room)
	req.RuleVariation = types.RuleVariation(binary.BigEndian.Uint16(rest))
	req.CreateRoom = rest[2] != 0
	return req, nil
}

func takeString(data []byte) (string, []byte, error) {
	if len(data) < 2 {
		return "", nil, ErrTruncated
	}
	n := int(binary.BigEndian.Uint16(data))
	if len(data) < 2+n {
		return "", nil, ErrTruncated
	}
	return string(data[2 : 2+n]), data[2+n:], nil
}

func playerIDFrame(tag byte, id types.PlayerID) []byte {
	frame := make([]byte, PlayerIDFrameSize)
	frame[0] = tag
	binary.BigEndian.PutUint16(frame[1:], uint16(id))
	return frame
}

func taggedFrame(tag byte, payload []byte) []byte {
	frame := make([]byte, 1+len(payload))
	frame[0] = tag
	copy(frame[1:], payload)
	return frame
}
