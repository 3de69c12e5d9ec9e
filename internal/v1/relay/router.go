package relay

import (
	"context"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/boardgamehub/relay/internal/v1/lobby"
	"github.com/boardgamehub/relay/internal/v1/logging"
	"github.com/boardgamehub/relay/internal/v1/metrics"
	"github.com/boardgamehub/relay/internal/v1/protocol"
)

// handleConnection drives one upgraded socket from handshake to teardown.
func (h *Hub) handleConnection(ctx context.Context, conn wsConnection) {
	metrics.IncConnection()
	defer metrics.DecConnection()
	defer func() { _ = conn.Close() }()

	sess, refusal := h.handshake(ctx, conn)
	if sess == nil {
		sendClosing(conn, refusal)
		return
	}

	ctx = context.WithValue(ctx, logging.RoomKeyKey, string(sess.key))
	ctx = context.WithValue(ctx, logging.PlayerIDKey, uint16(sess.playerID))

	reason := "Connection to server lost"
	drain := func() {}
	if err := writeBinary(conn, protocol.HandshakeResponseFrame(sess.playerID, sess.rule)); err == nil {
		if sess.isHost {
			reason, drain = runPumps(ctx,
				func(ctx context.Context) string { return h.hostReadLoop(ctx, conn, sess.room) },
				func(ctx context.Context) string { return h.hostWriteLoop(ctx, conn, sess.room) })
		} else {
			reason, drain = runPumps(ctx,
				func(ctx context.Context) string { return h.clientReadLoop(ctx, conn, sess) },
				func(ctx context.Context) string { return h.clientWriteLoop(ctx, conn, sess) })
		}
	}

	h.teardown(ctx, conn, sess, reason)
	_ = conn.Close()
	drain()
}

// runPumps runs the two relay directions of one connection. The first loop
// to finish decides the terminal reason and cancels its peer. The returned
// drain must be called after the socket is closed; it joins a reader that
// may still be blocked on the socket. Until drain returns from the writer
// branch, the write half belongs to the caller alone.
func runPumps(ctx context.Context, read, write func(context.Context) string) (string, func()) {
	ctx, cancel := context.WithCancel(ctx)

	readerCh := make(chan string, 1)
	writerCh := make(chan string, 1)
	go func() {
		readerCh <- read(ctx)
		cancel()
	}()
	go func() {
		writerCh <- write(ctx)
	}()

	select {
	case reason := <-readerCh:
		cancel()
		<-writerCh
		return reason, func() {}
	case reason := <-writerCh:
		cancel()
		return reason, func() { <-readerCh }
	}
}

// hostReadLoop forwards host frames to the room broadcast. Only the four
// host-to-client tags may travel here; SERVER_DISCONNECTS ends the room.
func (h *Hub) hostReadLoop(ctx context.Context, conn wsConnection, room *lobby.Room) string {
	for {
		mt, frame, err := conn.ReadMessage()
		if err != nil {
			return "Connection lost."
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if len(frame) == 0 {
			logging.Error(ctx, "Illegal empty message in host receive logic")
			return "Illegal empty message received."
		}

		switch frame[0] {
		case protocol.TagServerDisconnects:
			// Clients get informed during teardown anyway.
			return "Server disconnected intentionally"
		case protocol.TagClientGetsKicked, protocol.TagDeltaUpdate,
			protocol.TagFullUpdate, protocol.TagReset:
			if room.Broadcast().Send(frame) == 0 {
				// A host should not send before it knows of any client,
				// but it is unclear if that is strictly avoidable.
				logging.Warn(ctx, "Sending to no clients.")
			} else {
				metrics.RelayedFrames.WithLabelValues(metrics.DirectionBroadcast).Inc()
			}
		default:
			logging.Error(ctx, "Illegal message type Server->Client",
				zap.Uint8("message_type", frame[0]))
			metrics.ProtocolViolations.WithLabelValues("host").Inc()
			return "Illegal Server -> Client command."
		}
	}
}

// hostWriteLoop drains the host inbox onto the socket. The relay itself is
// the only producer of these frames, so an unknown tag here is a bug, not
// peer input.
func (h *Hub) hostWriteLoop(ctx context.Context, conn wsConnection, room *lobby.Room) string {
	for {
		select {
		case <-ctx.Done():
			return "Connection lost."
		case frame := <-room.HostInbox():
			if len(frame) == 0 {
				logging.Error(ctx, "Illegal internal empty message in host send logic")
				return "Illegal empty message received."
			}
			switch frame[0] {
			case protocol.TagNewClient, protocol.TagClientDisconnects, protocol.TagServerRPC:
			default:
				logging.Error(ctx, "Unknown internal Client->Server command",
					zap.Uint8("message_type", frame[0]))
				return "Unknown internal Client->Server command"
			}
			if err := writeBinary(conn, frame); err != nil {
				logging.Error(ctx, "Error in communication with server endpoint.", zap.Error(err))
				return "Error in communication with server endpoint."
			}
			metrics.RelayedFrames.WithLabelValues(metrics.DirectionToHost).Inc()
		}
	}
}

// clientReadLoop forwards client RPCs to the host inbox, injecting the
// player id so the host learns who acted.
func (h *Hub) clientReadLoop(ctx context.Context, conn wsConnection, sess *session) string {
	for {
		mt, frame, err := conn.ReadMessage()
		if err != nil {
			return "Connection lost."
		}
		if mt != websocket.BinaryMessage {
			continue
		}
		if len(frame) == 0 {
			logging.Error(ctx, "Illegal empty message in client receive logic")
			return "Illegal empty message received."
		}

		switch frame[0] {
		case protocol.TagServerRPC:
			select {
			case sess.room.HostInbox() <- protocol.InjectPlayerID(frame, sess.playerID):
			case <-sess.room.Done():
				logging.Error(ctx, "Error in internal broadcast.")
				return "Error in internal broadcast."
			case <-ctx.Done():
				return "Connection lost."
			}
		case protocol.TagClientDisconnectsSelf:
			return "Client disconnected intentionally"
		default:
			logging.Error(ctx, "Illegal command from client", zap.Uint8("command", frame[0]))
			metrics.ProtocolViolations.WithLabelValues("client").Inc()
			return "Illegal Command from client"
		}
	}
}

// clientWriteLoop forwards room broadcasts to one client, enforcing the
// synchronization gate: no deltas before the first full or reset state, no
// redundant full states afterwards.
func (h *Hub) clientWriteLoop(ctx context.Context, conn wsConnection, sess *session) string {
	isSynced := false
	for {
		var frame []byte
		var ok bool
		select {
		case <-ctx.Done():
			return "Connection lost."
		case frame, ok = <-sess.sub.C:
		}
		if !ok {
			if sess.sub.Lagged() {
				logging.Warn(ctx, "Lagging started on internal channel.")
				return "Lagging on internal channel - Computer too slow."
			}
			logging.Error(ctx, "Internal channel closed.")
			return "Internal channel closed."
		}
		if len(frame) == 0 {
			logging.Error(ctx, "Illegal empty message received.")
			return "Illegal empty message received."
		}

		switch frame[0] {
		case protocol.TagServerDisconnects:
			return "Server has left the game."

		case protocol.TagClientGetsKicked:
			target, err := protocol.PlayerIDOf(frame)
			if err != nil {
				logging.Error(ctx, "Malformed CLIENT_GETS_KICKED message")
				return "Malformed message received."
			}
			if target == sess.playerID {
				return "We got rejected by server."
			}
			// Kicks aimed at someone else are not our business.

		case protocol.TagDeltaUpdate:
			// Deltas against a state this client never saw are useless.
			if !isSynced {
				continue
			}
			if err := writeBinary(conn, frame); err != nil {
				logging.Error(ctx, "Error in communication with client endpoint.", zap.Error(err))
				return "Error in communication with client endpoint."
			}

		case protocol.TagFullUpdate:
			// The full state is only needed once; afterwards deltas carry
			// the session.
			if isSynced {
				continue
			}
			isSynced = true
			if err := writeBinary(conn, frame); err != nil {
				logging.Error(ctx, "Error in communication with client endpoint.", zap.Error(err))
				return "Error in communication with client endpoint."
			}

		case protocol.TagReset:
			isSynced = true
			if err := writeBinary(conn, frame); err != nil {
				logging.Error(ctx, "Error in communication with client endpoint.", zap.Error(err))
				return "Error in communication with client endpoint."
			}

		default:
			logging.Error(ctx, "Illegal message on client side received.",
				zap.Uint8("message", frame[0]))
			return "Illegal message on client side received."
		}
	}
}

// teardown runs the role-specific cleanup and delivers the terminal reason.
// The writer pump has exited by the time this runs, so the write half of
// the socket belongs to the supervisor again.
func (h *Hub) teardown(ctx context.Context, conn wsConnection, sess *session, reason string) {
	if sess.isHost {
		// Inform clients first, then kill the room.
		sess.room.Broadcast().Send(protocol.ServerDisconnectFrame())
		h.lobby.DestroyRoom(sess.key)
	} else {
		// Inform the host first, then give the seat back.
		select {
		case sess.room.HostInbox() <- protocol.ClientDisconnectFrame(sess.playerID):
		case <-sess.room.Done():
		}
		h.lobby.LeaveRoom(sess.key)
		sess.sub.Cancel()
	}

	logging.Info(ctx, "Connection closed", zap.String("reason", reason))
	sendClosing(conn, reason)
}
