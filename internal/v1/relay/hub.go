// Package relay is the WebSocket entry point of the service. It upgrades
// connections, negotiates the join handshake and runs the per-connection
// router pumps that shuttle frames between a room host and its clients.
package relay

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/boardgamehub/relay/internal/v1/config"
	"github.com/boardgamehub/relay/internal/v1/lobby"
	"github.com/boardgamehub/relay/internal/v1/logging"
	"github.com/boardgamehub/relay/internal/v1/protocol"
	"github.com/boardgamehub/relay/internal/v1/ratelimit"
)

// writeTimeout bounds every socket write so a stalled peer cannot park a
// pump forever.
const writeTimeout = 10 * time.Second

// wsConnection abstracts the gorilla connection so the router can be tested
// against an in-memory fake.
type wsConnection interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Hub wires the HTTP surface to the lobby.
type Hub struct {
	lobby          *lobby.Lobby
	limiter        *ratelimit.RateLimiter
	allowedOrigins []string
	devMode        bool
	gameConfigPath string
}

// NewHub creates the hub. limiter may be nil, in which case no connection
// rate limiting is applied.
func NewHub(l *lobby.Lobby, cfg *config.Config, limiter *ratelimit.RateLimiter) *Hub {
	var origins []string
	if cfg.AllowedOrigins != "" {
		origins = strings.Split(cfg.AllowedOrigins, ",")
	}
	return &Hub{
		lobby:          l,
		limiter:        limiter,
		allowedOrigins: origins,
		devMode:        cfg.DevelopmentMode,
		gameConfigPath: cfg.GameConfigPath,
	}
}

// AllowedOrigins returns the configured origin whitelist. A nil slice means
// no restriction was configured.
func (h *Hub) AllowedOrigins() []string {
	return h.allowedOrigins
}

// ServeWs handles GET /ws. It upgrades the request and services the
// connection until either side disconnects; the handler blocks for the
// lifetime of the socket.
func (h *Hub) ServeWs(c *gin.Context) {
	if h.limiter != nil && !h.limiter.CheckWebSocket(c) {
		return
	}

	conn, err := h.upgradeWebSocket(c)
	if err != nil {
		// Upgrade already wrote the HTTP error response.
		return
	}

	// The request context dies with the handler; the connection context
	// carries only the request-scoped log fields.
	ctx := context.WithValue(context.Background(),
		logging.CorrelationIDKey, c.GetString(string(logging.CorrelationIDKey)))

	h.handleConnection(ctx, conn)
}

// Enlist handles GET /enlist, listing the current rooms as plain text.
func (h *Hub) Enlist(c *gin.Context) {
	infos := h.lobby.Snapshot()
	lines := make([]string, 0, len(infos))
	for _, info := range infos {
		lines = append(lines, fmt.Sprintf(
			"Room: %-30s  Variation: %03d Players: %03d is alive: %t",
			info.Key, info.RuleVariation, info.PlayerCount, info.Alive))
	}
	c.String(http.StatusOK, strings.Join(lines, "\n"))
}

// Reload handles GET /reload. It re-reads the game catalog so new games can
// be added without a restart, and lists the catalog on success.
func (h *Hub) Reload(c *gin.Context) {
	if err := h.lobby.ReloadCatalog(h.gameConfigPath); err != nil {
		logging.Error(c.Request.Context(), "Config reload failed", zap.Error(err))
		c.String(http.StatusOK, fmt.Sprintf("Config reload failed: %v", err))
		return
	}

	entries := h.lobby.CatalogSnapshot()
	lines := make([]string, 0, len(entries))
	for _, entry := range entries {
		lines = append(lines, fmt.Sprintf(
			"Game: %-40s Maximum Amount of Players: %d", entry.Name, entry.MaxPlayers))
	}
	c.String(http.StatusOK, strings.Join(lines, "\n"))
}

func (h *Hub) upgradeWebSocket(c *gin.Context) (wsConnection, error) {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			if h.devMode {
				return true
			}
			return validateOrigin(r, h.allowedOrigins) == nil
		},
		WriteBufferPool: &sync.Pool{
			New: func() any {
				return make([]byte, 4096)
			},
		},
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		logging.Error(c.Request.Context(), "Failed to upgrade connection", zap.Error(err))
		return nil, err
	}
	return conn, nil
}

func validateOrigin(r *http.Request, allowedOrigins []string) error {
	origin := r.Header.Get("Origin")
	if origin == "" {
		logging.GetLogger().Debug("No origin header - allowing non-browser client")
		return nil // Allow non-browser clients (e.g., for testing)
	}

	originURL, err := url.Parse(origin)
	if err != nil {
		logging.Warn(context.Background(), "Invalid origin URL", zap.String("origin", origin), zap.Error(err))
		return fmt.Errorf("invalid origin URL: %w", err)
	}

	for _, allowed := range allowedOrigins {
		allowedURL, err := url.Parse(allowed)
		if err != nil {
			continue
		}
		if originURL.Scheme == allowedURL.Scheme && originURL.Host == allowedURL.Host {
			return nil
		}
	}

	logging.Warn(context.Background(), "Origin not in allowed list",
		zap.String("origin", origin), zap.Strings("allowedOrigins", allowedOrigins))
	return fmt.Errorf("origin not allowed: %s", origin)
}

// sendClosing sends the terminal reason as a SERVER_ERROR binary frame plus
// a close frame. Browser-side sockets cannot read close reasons, so the
// reason travels as a regular message. Best effort on both writes.
func sendClosing(conn wsConnection, reason string) {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	_ = conn.WriteMessage(websocket.BinaryMessage, protocol.ErrorFrame(reason))
	_ = conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
}

func writeBinary(conn wsConnection, frame []byte) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return conn.WriteMessage(websocket.BinaryMessage, frame)
}
