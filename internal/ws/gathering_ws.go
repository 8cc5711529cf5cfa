package ws

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"gathering-service/internal/directory"
	"gathering-service/internal/gathering"
	"gathering-service/internal/middleware"
	"gathering-service/internal/observability"
)

// TokenVerifier checks access tokens presented on the handshake.
type TokenVerifier interface {
	Verify(token string) (middleware.Claims, error)
}

// GatheringWebSocketHandler serves the gathering socket namespace.
type GatheringWebSocketHandler struct {
	hub      *Hub
	commands Commands
	verifier TokenVerifier
	names    *directory.Cache
}

// NewGatheringWebSocketHandler constructs a GatheringWebSocketHandler. names may be nil.
func NewGatheringWebSocketHandler(hub *Hub, commands Commands, verifier TokenVerifier, names *directory.Cache) *GatheringWebSocketHandler {
	return &GatheringWebSocketHandler{hub: hub, commands: commands, verifier: verifier, names: names}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle authenticates, upgrades and runs one connection.
func (h *GatheringWebSocketHandler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("gathering-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := c.Query("token")
	if token == "" {
		token, _ = middleware.BearerToken(c.GetHeader("Authorization"))
	}
	claims, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if raw := c.Query("userId"); raw != "" {
		if id, err := strconv.Atoi(raw); err != nil || id != claims.UserID {
			c.JSON(http.StatusForbidden, gin.H{"error": "userId does not match token"})
			return
		}
	}
	if h.names != nil {
		h.names.Remember(claims.UserID, claims.Nickname)
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	meta := observability.MetaFromRequest(c.Request)
	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      claims.UserID,
		Nickname:    claims.Nickname,
		DeviceID:    meta.DeviceID,
		IP:          meta.IP,
		RequestID:   meta.RequestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	actor := gathering.Actor{
		UserID:     claims.UserID,
		Nickname:   claims.Nickname,
		Role:       claims.Role,
		University: claims.University,
	}
	client := NewClient(h.hub, conn, info, actor)
	h.hub.Register(client)

	observability.IncWSActive(wsKind)
	publishWSEvent(ctx, info, "ws_connect", "")

	// The request context ends when Handle returns; the connection outlives it.
	connCtx := context.WithoutCancel(ctx)
	go client.writePump()
	go func() {
		reason := client.readPump(connCtx, h.commands)
		h.hub.Unregister(client)
		observability.DecWSActive(wsKind)
		publishWSEvent(connCtx, info, "ws_disconnect", reason)
	}()
}
