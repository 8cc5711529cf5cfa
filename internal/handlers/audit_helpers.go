package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"gathering-service/internal/gathering"
	"gathering-service/internal/middleware"
)

func requestIDFromContext(c *gin.Context) string {
	if val, ok := c.Get(middleware.RequestIDKey); ok {
		if id, ok := val.(string); ok && id != "" {
			return id
		}
	}

	requestID := c.GetHeader("X-Request-ID")
	if requestID == "" {
		requestID = uuid.NewString()
	}
	c.Set(middleware.RequestIDKey, requestID)
	return requestID
}

func actorFromContext(c *gin.Context) gathering.Actor {
	return gathering.Actor{
		UserID:     c.GetInt(middleware.UserIDKey),
		Nickname:   c.GetString(middleware.NicknameKey),
		Role:       c.GetString(middleware.RoleKey),
		University: c.GetString(middleware.UniversityKey),
	}
}
