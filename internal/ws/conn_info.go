package ws

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"gathering-service/internal/models"
)

// ConnInfo identifies one websocket connection in logs and ws events.
type ConnInfo struct {
	ConnID      string
	UserID      int
	Nickname    string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}

func newConnID() string {
	return uuid.NewString()
}

func frameJSON(frame models.Frame) ([]byte, error) {
	return json.Marshal(frame)
}
