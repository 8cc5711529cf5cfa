package handlers

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"gathering-service/internal/middleware"
	"gathering-service/internal/telemetry"
)

type roomCounter interface {
	RoomSize(gatheringID int) int
}

// RegisterDebugRoutes wires debug-only endpoints.
func RegisterDebugRoutes(router *gin.Engine, emitter *telemetry.AuditEmitter, rooms roomCounter, enabled bool) {
	if !enabled {
		return
	}

	router.GET("/debug/audit-test", func(c *gin.Context) {
		if emitter == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "audit emitter not configured"})
			return
		}
		emitter.Emit(c.Request.Context(), telemetry.AuditRecord{
			Operation: "debug",
			Text:      "audit test",
			RequestID: requestIDFromContext(c),
			UserID:    c.GetInt(middleware.UserIDKey),
		})
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	router.GET("/debug/rooms/:id", func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid gathering id"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"gathering_id": id, "subscribers": rooms.RoomSize(id)})
	})
}
