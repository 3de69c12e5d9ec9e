package relay

import (
	"context"
	"errors"
	"fmt"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/boardgamehub/relay/internal/v1/lobby"
	"github.com/boardgamehub/relay/internal/v1/logging"
	"github.com/boardgamehub/relay/internal/v1/metrics"
	"github.com/boardgamehub/relay/internal/v1/protocol"
	"github.com/boardgamehub/relay/internal/v1/types"
)

// session carries everything the router needs after a successful handshake.
type session struct {
	isHost   bool
	playerID types.PlayerID
	key      types.RoomKey
	rule     types.RuleVariation
	room     *lobby.Room
	sub      *lobby.Subscription
}

// handshake reads the join request and registers the connection with the
// lobby. On refusal it returns a nil session and the reason text to send
// before closing; the caller owns delivery.
func (h *Hub) handshake(ctx context.Context, conn wsConnection) (*session, string) {
	// The join request is the first binary frame. Ping, pong and text
	// frames before it are ignored.
	var data []byte
	for data == nil {
		mt, payload, err := conn.ReadMessage()
		if err != nil {
			logging.Warn(ctx, "WebSocket closed before handshake completed", zap.Error(err))
			metrics.HandshakeFailures.WithLabelValues("read_error").Inc()
			return nil, "Initial error during handshake."
		}
		if mt == websocket.BinaryMessage {
			data = payload
		}
	}

	req, err := protocol.DecodeJoinRequest(data)
	if err != nil {
		logging.Error(ctx, "Failed to parse join request", zap.Error(err))
		metrics.HandshakeFailures.WithLabelValues("parse_error").Inc()
		return nil, "Failed to parse join request."
	}

	maxPlayers, ok := h.lobby.MaxPlayersFor(req.GameID)
	if !ok {
		logging.Error(ctx, "Requested illegal game", zap.String("game", string(req.GameID)))
		metrics.HandshakeFailures.WithLabelValues("unknown_game").Inc()
		return nil, fmt.Sprintf("Unknown game %s.", req.GameID)
	}

	key := types.NewRoomKey(req.RoomID, req.GameID)
	if req.CreateRoom {
		return h.handshakeHost(ctx, req, key)
	}
	return h.handshakeClient(ctx, req, key, maxPlayers)
}

// handshakeHost opens a new room. The host is player 0 and counts as the
// first player.
func (h *Hub) handshakeHost(ctx context.Context, req protocol.JoinRequest, key types.RoomKey) (*session, string) {
	room, err := h.lobby.CreateRoom(key, req.RuleVariation)
	if err != nil {
		// User error, no need for error-level tracing.
		metrics.HandshakeFailures.WithLabelValues("room_exists").Inc()
		return nil, fmt.Sprintf("Room %s already exists for game %s.", req.RoomID, req.GameID)
	}

	logging.Info(ctx, "Room created",
		zap.String("room_key", string(key)),
		zap.Uint16("rule_variation", uint16(req.RuleVariation)))

	return &session{
		isHost:   true,
		playerID: types.HostID,
		key:      key,
		rule:     req.RuleVariation,
		room:     room,
	}, ""
}

// handshakeClient joins an existing room, announces the new player to the
// host and rolls the join back if the host vanished in between.
func (h *Hub) handshakeClient(ctx context.Context, req protocol.JoinRequest, key types.RoomKey, maxPlayers uint16) (*session, string) {
	res, err := h.lobby.JoinRoom(key, maxPlayers)
	if err != nil {
		switch {
		case errors.Is(err, lobby.ErrRoomMissing):
			metrics.HandshakeFailures.WithLabelValues("room_missing").Inc()
			return nil, fmt.Sprintf("Room %s does not exist for game %s.", req.RoomID, req.GameID)
		case errors.Is(err, lobby.ErrRoomFull):
			metrics.HandshakeFailures.WithLabelValues("room_full").Inc()
			// The doubled space is part of the established client contract.
			return nil, fmt.Sprintf("Room  %s exceeded max amount of players %d.", req.RoomID, maxPlayers)
		default:
			logging.Error(ctx, "Server run out of client ids.", zap.String("room_key", string(key)))
			metrics.HandshakeFailures.WithLabelValues("ids_exhausted").Inc()
			return nil, fmt.Sprintf("Room %s run out of client ids.", req.RoomID)
		}
	}

	select {
	case res.Room.HostInbox() <- protocol.NewClientFrame(res.PlayerID):
	case <-res.Room.Done():
		// The join must not survive a host that never learned about it.
		h.lobby.LeaveRoom(key)
		res.Subscription.Cancel()
		logging.Error(ctx, "Server unexpectedly left during handshake", zap.String("room_key", string(key)))
		metrics.HandshakeFailures.WithLabelValues("host_gone").Inc()
		return nil, "Server unexpectedly left during handshake"
	}

	logging.Info(ctx, "Client joined",
		zap.String("room_key", string(key)),
		zap.Uint16("player_id", uint16(res.PlayerID)))

	return &session{
		isHost:   false,
		playerID: res.PlayerID,
		key:      key,
		rule:     res.RuleVariation,
		room:     res.Room,
		sub:      res.Subscription,
	}, ""
}
