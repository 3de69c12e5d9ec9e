// Package lobby holds the process-wide registry of active rooms and the
// game-configuration catalog. A room exists only while its host connection
// is live; all mutations of room bookkeeping happen inside a single critical
// section so no lobby operation ever blocks on network I/O while holding
// the lock.
package lobby

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/boardgamehub/relay/internal/v1/logging"
	"github.com/boardgamehub/relay/internal/v1/metrics"
	"github.com/boardgamehub/relay/internal/v1/types"
)

var (
	// ErrRoomExists is returned when creating a room whose key is taken.
	ErrRoomExists = errors.New("room already exists")
	// ErrRoomMissing is returned when joining or leaving an unknown room.
	ErrRoomMissing = errors.New("room does not exist")
	// ErrRoomFull is returned when a room reached its player quota.
	ErrRoomFull = errors.New("room exceeded max amount of players")
	// ErrIDsExhausted is returned when a room ran out of client ids.
	ErrIDsExhausted = errors.New("room run out of client ids")
)

// Room is one active session. Counter fields are guarded by the owning
// Lobby's mutex; the channel endpoints are safe to clone and use without it.
type Room struct {
	nextClientID  types.PlayerID
	playerCount   uint16
	ruleVariation types.RuleVariation

	hostInbox chan []byte
	broadcast *Broadcaster

	done     chan struct{}
	doneOnce sync.Once
}

// HostInbox is the point-to-point channel into the host's inbound queue.
func (r *Room) HostInbox() chan []byte {
	return r.hostInbox
}

// Broadcast is the host-to-client fan-out channel.
func (r *Room) Broadcast() *Broadcaster {
	return r.broadcast
}

// RuleVariation reports the host-chosen game mode.
func (r *Room) RuleVariation() types.RuleVariation {
	return r.ruleVariation
}

// MarkHostGone flags the room as dead. Called when the host's router exits;
// idempotent.
func (r *Room) MarkHostGone() {
	r.doneOnce.Do(func() { close(r.done) })
}

// Alive reports whether the host connection still services this room.
func (r *Room) Alive() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Done is closed when the host connection is gone. Senders into the host
// inbox select on it so a vanished host never blocks them forever.
func (r *Room) Done() <-chan struct{} {
	return r.done
}

// Lobby is the process-wide application state. There is exactly one.
type Lobby struct {
	mu    sync.Mutex
	rooms map[types.RoomKey]*Room

	gamesMu sync.RWMutex
	games   map[types.GameID]uint16

	bufferSize int
}

// New creates an empty lobby. bufferSize bounds the per-room channels.
func New(bufferSize int) *Lobby {
	return &Lobby{
		rooms:      make(map[types.RoomKey]*Room),
		games:      make(map[types.GameID]uint16),
		bufferSize: bufferSize,
	}
}

// CreateRoom atomically inserts a new room if the key is absent. The host
// counts as the first player; remote ids start at 1.
func (l *Lobby) CreateRoom(key types.RoomKey, rule types.RuleVariation) (*Room, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, ok := l.rooms[key]; ok {
		return nil, ErrRoomExists
	}

	room := &Room{
		nextClientID:  1,
		playerCount:   1,
		ruleVariation: rule,
		hostInbox:     make(chan []byte, l.bufferSize),
		broadcast:     NewBroadcaster(l.bufferSize),
		done:          make(chan struct{}),
	}
	l.rooms[key] = room

	metrics.ActiveRooms.Inc()
	metrics.RoomPlayers.WithLabelValues(string(key)).Set(1)
	return room, nil
}

// JoinResult carries everything a joining connection needs from the lobby.
type JoinResult struct {
	PlayerID      types.PlayerID
	RuleVariation types.RuleVariation
	Room          *Room
	Subscription  *Subscription
}

// JoinRoom atomically assigns the next player id, increments the player
// count and subscribes to the room broadcast. maxPlayers == 0 means
// unlimited.
func (l *Lobby) JoinRoom(key types.RoomKey, maxPlayers uint16) (JoinResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	room, ok := l.rooms[key]
	if !ok {
		return JoinResult{}, ErrRoomMissing
	}
	// >= so an already inconsistent count still refuses.
	if maxPlayers != 0 && room.playerCount >= maxPlayers {
		return JoinResult{}, ErrRoomFull
	}
	if room.nextClientID > types.MaxPlayerID {
		return JoinResult{}, ErrIDsExhausted
	}

	playerID := room.nextClientID
	room.nextClientID++
	room.playerCount++

	metrics.RoomPlayers.WithLabelValues(string(key)).Set(float64(room.playerCount))

	return JoinResult{
		PlayerID:      playerID,
		RuleVariation: room.ruleVariation,
		Room:          room,
		Subscription:  room.broadcast.Subscribe(),
	}, nil
}

// LeaveRoom decrements the player count; no-op if the room is already gone.
// Also used to roll back a join whose NEW_CLIENT delivery failed.
func (l *Lobby) LeaveRoom(key types.RoomKey) {
	l.mu.Lock()
	defer l.mu.Unlock()

	room, ok := l.rooms[key]
	if !ok {
		return
	}
	if room.playerCount > 0 {
		room.playerCount--
	}
	metrics.RoomPlayers.WithLabelValues(string(key)).Set(float64(room.playerCount))
}

// DestroyRoom removes the entry and tears down its broadcast channel.
// No-op if the room is already gone.
func (l *Lobby) DestroyRoom(key types.RoomKey) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.destroyLocked(key)
}

func (l *Lobby) destroyLocked(key types.RoomKey) {
	room, ok := l.rooms[key]
	if !ok {
		return
	}
	room.MarkHostGone()
	room.broadcast.Close()
	delete(l.rooms, key)

	metrics.ActiveRooms.Dec()
	metrics.RoomPlayers.DeleteLabelValues(string(key))
}

// SweepDeadRooms removes rooms whose host is gone but whose teardown never
// ran. This is a fallback; departures are normally handled by the router.
func (l *Lobby) SweepDeadRooms() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	var dead []types.RoomKey
	for key, room := range l.rooms {
		if !room.Alive() {
			dead = append(dead, key)
		}
	}
	for _, key := range dead {
		logging.Info(context.Background(), "Removing dead room", zap.String("room_key", string(key)))
		l.destroyLocked(key)
	}
	return len(dead)
}

// Snapshot lists the current rooms for /enlist.
func (l *Lobby) Snapshot() []types.RoomInfo {
	l.mu.Lock()
	defer l.mu.Unlock()

	infos := make([]types.RoomInfo, 0, len(l.rooms))
	for key, room := range l.rooms {
		infos = append(infos, types.RoomInfo{
			Key:           key,
			RuleVariation: room.ruleVariation,
			PlayerCount:   room.playerCount,
			Alive:         room.Alive(),
		})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Key < infos[j].Key })
	return infos
}

// RoomCount reports the number of registered rooms.
func (l *Lobby) RoomCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.rooms)
}

// MaxPlayersFor looks up the player quota for a game. The second return is
// false for games not in the catalog.
func (l *Lobby) MaxPlayersFor(game types.GameID) (uint16, bool) {
	l.gamesMu.RLock()
	defer l.gamesMu.RUnlock()
	max, ok := l.games[game]
	return max, ok
}

// ReloadCatalog re-parses the external game catalog and replaces the games
// map wholesale. On failure the prior catalog remains in force and existing
// rooms are unaffected.
func (l *Lobby) ReloadCatalog(path string) error {
	content, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("Failed to read file: %w", err)
	}
	var entries []types.GameEntry
	if err := json.Unmarshal(content, &entries); err != nil {
		return fmt.Errorf("Failed to parse JSON: %w", err)
	}

	games := make(map[types.GameID]uint16, len(entries))
	for _, entry := range entries {
		games[types.GameID(entry.Name)] = entry.MaxPlayers
	}

	l.gamesMu.Lock()
	l.games = games
	l.gamesMu.Unlock()
	return nil
}

// CatalogSnapshot lists the loaded games sorted by name, for /reload output.
func (l *Lobby) CatalogSnapshot() []types.GameEntry {
	l.gamesMu.RLock()
	defer l.gamesMu.RUnlock()

	entries := make([]types.GameEntry, 0, len(l.games))
	for name, max := range l.games {
		entries = append(entries, types.GameEntry{Name: string(name), MaxPlayers: max})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries
}
