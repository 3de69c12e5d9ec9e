package types

import "fmt"

// --- Core Domain Types ---

// GameID identifies a game title from the catalog (e.g. "Ternio").
type GameID string

// RoomID is the host-chosen room name, unique per game.
type RoomID string

// PlayerID identifies a participant within a room. The host is always 0;
// remote players get strictly increasing ids starting at 1.
type PlayerID uint16

// RuleVariation is an opaque game-mode selector chosen by the host at room
// creation and reported verbatim to every joining client.
type RuleVariation uint16

// RoomKey is the composite lobby key for one active session.
type RoomKey string

// HostID is the fixed player id of the room host.
const HostID PlayerID = 0

// MaxPlayerID is the safety limit for id assignment within a room. A room
// that reaches it stops accepting joiners.
const MaxPlayerID PlayerID = 32700

// NewRoomKey builds the composite key "{room}#{game}" used by the lobby.
func NewRoomKey(room RoomID, game GameID) RoomKey {
	return RoomKey(fmt.Sprintf("%s#%s", room, game))
}

// GameEntry is one record of the external game catalog (GameConfig.json).
type GameEntry struct {
	Name       string `json:"name"`
	MaxPlayers uint16 `json:"max_players"`
}

// RoomInfo is a read-only snapshot of one lobby entry, used by /enlist.
type RoomInfo struct {
	Key           RoomKey
	RuleVariation RuleVariation
	PlayerCount   uint16
	Alive         bool
}
