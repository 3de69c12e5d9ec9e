package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/boardgamehub/relay/internal/v1/config"
	"github.com/boardgamehub/relay/internal/v1/lobby"
	"github.com/boardgamehub/relay/internal/v1/protocol"
	"github.com/boardgamehub/relay/internal/v1/types"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const testCatalog = `[
	{"name":"Ternio","max_players":4},
	{"name":"duo","max_players":2},
	{"name":"open","max_players":0}
]`

func newTestHub(t *testing.T) *Hub {
	t.Helper()
	path := filepath.Join(t.TempDir(), "GameConfig.json")
	require.NoError(t, os.WriteFile(path, []byte(testCatalog), 0o600))

	l := lobby.New(16)
	require.NoError(t, l.ReloadCatalog(path))

	return NewHub(l, &config.Config{GameConfigPath: path}, nil)
}

// liveConn couples a mock socket with its running connection handler.
type liveConn struct {
	conn *mockConn
	done chan struct{}
}

// connect starts a connection handler and sends the join request.
func connect(t *testing.T, h *Hub, req protocol.JoinRequest) *liveConn {
	t.Helper()
	lc := &liveConn{conn: newMockConn(), done: make(chan struct{})}
	go func() {
		h.handleConnection(context.Background(), lc.conn)
		close(lc.done)
	}()
	lc.conn.send(protocol.EncodeJoinRequest(req))
	return lc
}

func (lc *liveConn) awaitHandshake(t *testing.T) (types.PlayerID, types.RuleVariation) {
	t.Helper()
	frame := lc.conn.nextBinary(t)
	require.Equal(t, protocol.TagHandshakeResponse, frame[0], "expected handshake response, got %v", frame)
	id, rule, err := protocol.ParseHandshakeResponse(frame)
	require.NoError(t, err)
	return id, rule
}

// awaitError waits for the terminal SERVER_ERROR frame and returns its text.
func (lc *liveConn) awaitError(t *testing.T) string {
	t.Helper()
	for {
		frame := lc.conn.nextBinary(t)
		if frame[0] == protocol.TagServerError {
			return string(frame[1:])
		}
	}
}

// stop closes the socket from the peer side and joins the handler.
func (lc *liveConn) stop(t *testing.T) {
	t.Helper()
	_ = lc.conn.Close()
	lc.awaitExit(t)
}

func (lc *liveConn) awaitExit(t *testing.T) {
	t.Helper()
	select {
	case <-lc.done:
	case <-time.After(2 * time.Second):
		t.Fatal("connection handler did not exit")
	}
}

func hostReq(room string) protocol.JoinRequest {
	return protocol.JoinRequest{GameID: "Ternio", RoomID: types.RoomID(room), RuleVariation: 7, CreateRoom: true}
}

func clientReq(room string) protocol.JoinRequest {
	return protocol.JoinRequest{GameID: "Ternio", RoomID: types.RoomID(room), CreateRoom: false}
}

// --- Handshake ---

func TestHandshake_HostCreatesRoom(t *testing.T) {
	h := newTestHub(t)

	host := connect(t, h, hostReq("r1"))
	id, rule := host.awaitHandshake(t)
	assert.Equal(t, types.HostID, id)
	assert.Equal(t, types.RuleVariation(7), rule)
	assert.Equal(t, 1, h.lobby.RoomCount())

	host.stop(t)
	assert.Equal(t, 0, h.lobby.RoomCount(), "host departure must destroy the room")
}

func TestHandshake_IgnoresNonBinaryFrames(t *testing.T) {
	h := newTestHub(t)

	lc := &liveConn{conn: newMockConn(), done: make(chan struct{})}
	go func() {
		h.handleConnection(context.Background(), lc.conn)
		close(lc.done)
	}()
	lc.conn.sendText("ping, effectively")
	lc.conn.send(protocol.EncodeJoinRequest(hostReq("r1")))

	id, _ := lc.awaitHandshake(t)
	assert.Equal(t, types.HostID, id)
	lc.stop(t)
}

func TestHandshake_UnknownGame(t *testing.T) {
	h := newTestHub(t)

	lc := connect(t, h, protocol.JoinRequest{GameID: "nope", RoomID: "r1", CreateRoom: true})
	assert.Equal(t, "Unknown game nope.", lc.awaitError(t))
	lc.awaitExit(t)
	assert.Equal(t, 0, h.lobby.RoomCount())
}

func TestHandshake_ParseError(t *testing.T) {
	h := newTestHub(t)

	lc := &liveConn{conn: newMockConn(), done: make(chan struct{})}
	go func() {
		h.handleConnection(context.Background(), lc.conn)
		close(lc.done)
	}()
	lc.conn.send([]byte{0xFF, 0xFF, 0x01})

	assert.Equal(t, "Failed to parse join request.", lc.awaitError(t))
	lc.awaitExit(t)
}

func TestHandshake_DuplicateRoom(t *testing.T) {
	h := newTestHub(t)

	host := connect(t, h, hostReq("r1"))
	host.awaitHandshake(t)

	second := connect(t, h, hostReq("r1"))
	assert.Equal(t, "Room r1 already exists for game Ternio.", second.awaitError(t))
	second.awaitExit(t)

	host.stop(t)
}

func TestHandshake_RoomMissing(t *testing.T) {
	h := newTestHub(t)

	lc := connect(t, h, clientReq("ghost"))
	assert.Equal(t, "Room ghost does not exist for game Ternio.", lc.awaitError(t))
	lc.awaitExit(t)
}

func TestHandshake_RoomFull(t *testing.T) {
	h := newTestHub(t)
	req := protocol.JoinRequest{GameID: "duo", RoomID: "r1", CreateRoom: true}

	host := connect(t, h, req)
	host.awaitHandshake(t)

	req.CreateRoom = false
	first := connect(t, h, req)
	first.awaitHandshake(t)

	second := connect(t, h, req)
	assert.Equal(t, "Room  r1 exceeded max amount of players 2.", second.awaitError(t))
	second.awaitExit(t)

	first.stop(t)
	host.stop(t)
}

// --- Routing ---

func TestRelay_NewClientAnnouncement(t *testing.T) {
	h := newTestHub(t)

	host := connect(t, h, hostReq("r1"))
	host.awaitHandshake(t)

	client := connect(t, h, clientReq("r1"))
	id, rule := client.awaitHandshake(t)
	assert.Equal(t, types.PlayerID(1), id)
	assert.Equal(t, types.RuleVariation(7), rule, "clients inherit the host's rule variation")

	assert.Equal(t, protocol.NewClientFrame(1), host.conn.nextBinary(t))

	client.stop(t)
	host.stop(t)
}

func TestRelay_RPCInjection(t *testing.T) {
	h := newTestHub(t)

	host := connect(t, h, hostReq("r1"))
	host.awaitHandshake(t)
	client := connect(t, h, clientReq("r1"))
	client.awaitHandshake(t)
	require.Equal(t, protocol.NewClientFrame(1), host.conn.nextBinary(t))

	client.conn.send(protocol.RPCFrame([]byte{0xAA, 0xBB}))

	assert.Equal(t, []byte{protocol.TagServerRPC, 0x00, 0x01, 0xAA, 0xBB}, host.conn.nextBinary(t))

	client.stop(t)
	host.stop(t)
}

func TestRelay_SyncGate(t *testing.T) {
	h := newTestHub(t)

	host := connect(t, h, hostReq("r1"))
	host.awaitHandshake(t)
	client := connect(t, h, clientReq("r1"))
	client.awaitHandshake(t)
	require.Equal(t, protocol.NewClientFrame(1), host.conn.nextBinary(t))

	// A delta before the first full state must be swallowed.
	host.conn.send(protocol.DeltaFrame([]byte{0x01}))
	host.conn.send(protocol.FullFrame([]byte{0x10}))
	assert.Equal(t, protocol.FullFrame([]byte{0x10}), client.conn.nextBinary(t))

	// Once synced, deltas pass and redundant fulls are dropped.
	host.conn.send(protocol.FullFrame([]byte{0x20}))
	host.conn.send(protocol.DeltaFrame([]byte{0x02}))
	assert.Equal(t, protocol.DeltaFrame([]byte{0x02}), client.conn.nextBinary(t))

	// Resets always pass and re-arm nothing; the client stays synced.
	host.conn.send(protocol.ResetFrame([]byte{0x30}))
	assert.Equal(t, protocol.ResetFrame([]byte{0x30}), client.conn.nextBinary(t))

	client.stop(t)
	host.stop(t)
}

func TestRelay_LateJoinerSyncsIndependently(t *testing.T) {
	h := newTestHub(t)

	host := connect(t, h, hostReq("r1"))
	host.awaitHandshake(t)
	early := connect(t, h, clientReq("r1"))
	early.awaitHandshake(t)
	require.Equal(t, protocol.NewClientFrame(1), host.conn.nextBinary(t))

	host.conn.send(protocol.FullFrame([]byte{0x10}))
	require.Equal(t, protocol.FullFrame([]byte{0x10}), early.conn.nextBinary(t))

	late := connect(t, h, clientReq("r1"))
	late.awaitHandshake(t)
	require.Equal(t, protocol.NewClientFrame(2), host.conn.nextBinary(t))

	// The late joiner missed the first full; deltas stay gated for it only.
	host.conn.send(protocol.DeltaFrame([]byte{0x02}))
	assert.Equal(t, protocol.DeltaFrame([]byte{0x02}), early.conn.nextBinary(t))
	late.conn.expectSilence(t, 100*time.Millisecond)

	host.conn.send(protocol.FullFrame([]byte{0x20}))
	assert.Equal(t, protocol.FullFrame([]byte{0x20}), late.conn.nextBinary(t))

	late.stop(t)
	early.stop(t)
	host.stop(t)
}

func TestRelay_KickTargetsOnlyTheNamedPlayer(t *testing.T) {
	h := newTestHub(t)

	host := connect(t, h, hostReq("r1"))
	host.awaitHandshake(t)
	victim := connect(t, h, clientReq("r1"))
	victim.awaitHandshake(t)
	require.Equal(t, protocol.NewClientFrame(1), host.conn.nextBinary(t))
	bystander := connect(t, h, clientReq("r1"))
	bystander.awaitHandshake(t)
	require.Equal(t, protocol.NewClientFrame(2), host.conn.nextBinary(t))

	host.conn.send(protocol.KickFrame(1))

	assert.Equal(t, "We got rejected by server.", victim.awaitError(t))
	victim.awaitExit(t)
	// The victim's departure is announced like any other disconnect.
	assert.Equal(t, protocol.ClientDisconnectFrame(1), host.conn.nextBinary(t))
	bystander.conn.expectSilence(t, 100*time.Millisecond)

	bystander.stop(t)
	host.stop(t)
}

func TestRelay_ClientDisconnectSelf(t *testing.T) {
	h := newTestHub(t)

	host := connect(t, h, hostReq("r1"))
	host.awaitHandshake(t)
	client := connect(t, h, clientReq("r1"))
	client.awaitHandshake(t)
	require.Equal(t, protocol.NewClientFrame(1), host.conn.nextBinary(t))

	client.conn.send(protocol.ClientDisconnectSelfFrame())

	assert.Equal(t, "Client disconnected intentionally", client.awaitError(t))
	client.awaitExit(t)
	assert.Equal(t, protocol.ClientDisconnectFrame(1), host.conn.nextBinary(t))

	infos := h.lobby.Snapshot()
	require.Len(t, infos, 1)
	assert.Equal(t, uint16(1), infos[0].PlayerCount)

	host.stop(t)
}

func TestRelay_HostDepartureEndsClients(t *testing.T) {
	h := newTestHub(t)

	host := connect(t, h, hostReq("r1"))
	host.awaitHandshake(t)
	client := connect(t, h, clientReq("r1"))
	client.awaitHandshake(t)

	host.conn.send(protocol.ServerDisconnectFrame())
	assert.Equal(t, "Server disconnected intentionally", host.awaitError(t))
	host.awaitExit(t)

	assert.Equal(t, "Server has left the game.", client.awaitError(t))
	client.awaitExit(t)
	assert.Equal(t, 0, h.lobby.RoomCount())
}

func TestRelay_IllegalHostCommand(t *testing.T) {
	h := newTestHub(t)

	host := connect(t, h, hostReq("r1"))
	host.awaitHandshake(t)

	host.conn.send([]byte{protocol.TagHandshakeResponse})
	assert.Equal(t, "Illegal Server -> Client command.", host.awaitError(t))
	host.awaitExit(t)
}

func TestRelay_IllegalClientCommand(t *testing.T) {
	h := newTestHub(t)

	host := connect(t, h, hostReq("r1"))
	host.awaitHandshake(t)
	client := connect(t, h, clientReq("r1"))
	client.awaitHandshake(t)

	client.conn.send([]byte{0x42})
	assert.Equal(t, "Illegal Command from client", client.awaitError(t))
	client.awaitExit(t)

	host.stop(t)
}

func TestRelay_EmptyFrameIsFatal(t *testing.T) {
	h := newTestHub(t)

	host := connect(t, h, hostReq("r1"))
	host.awaitHandshake(t)

	host.conn.send([]byte{})
	assert.Equal(t, "Illegal empty message received.", host.awaitError(t))
	host.awaitExit(t)
}

// --- HTTP handlers ---

func TestEnlist(t *testing.T) {
	h := newTestHub(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/enlist", h.Enlist)

	host := connect(t, h, hostReq("r1"))
	host.awaitHandshake(t)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/enlist", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	expected := fmt.Sprintf("Room: %-30s  Variation: %03d Players: %03d is alive: %t",
		"r1#Ternio", 7, 1, true)
	assert.Equal(t, expected, w.Body.String())

	host.stop(t)
}

func TestReload(t *testing.T) {
	h := newTestHub(t)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/reload", h.Reload)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/reload", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Game: Ternio")
	assert.Contains(t, w.Body.String(), "Maximum Amount of Players: 4")
}

func TestReload_BadFile(t *testing.T) {
	l := lobby.New(16)
	h := NewHub(l, &config.Config{GameConfigPath: "/does/not/exist.json"}, nil)
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/reload", h.Reload)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/reload", nil)
	req = req.WithContext(context.Background())
	r.ServeHTTP(w, req)

	assert.Contains(t, w.Body.String(), "Config reload failed:")
}
