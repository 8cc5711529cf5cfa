package observability

import "time"

type EventEnvelope struct {
	EventType string      `json:"event_type"`
	EventName string      `json:"event_name"`
	Payload   interface{} `json:"payload"`
}

// WSEvent describes one websocket lifecycle event for the ws_events stream.
type WSEvent struct {
	Kind        string
	Event       string
	ConnID      string
	UserID      int
	DeviceID    string
	IP          string
	ConnectedAt time.Time
	Reason      string
}

// Envelope renders e in the ws_events wire shape.
func (e WSEvent) Envelope() EventEnvelope {
	var duration int64
	if !e.ConnectedAt.IsZero() {
		duration = time.Since(e.ConnectedAt).Milliseconds()
	}
	return EventEnvelope{
		EventType: "ws_events",
		EventName: e.Event,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        e.Kind,
				"event":       e.Event,
				"conn_id":     e.ConnID,
				"duration_ms": duration,
				"reason":      e.Reason,
			},
			"identity": map[string]interface{}{
				"user_id":   e.UserID,
				"device_id": e.DeviceID,
				"ip":        e.IP,
			},
		},
	}
}

func BuildHeaders(requestID, traceID string) map[string]string {
	headers := map[string]string{}
	if requestID != "" {
		headers["x-request-id"] = requestID
	}
	if traceID != "" {
		headers["trace_id"] = traceID
	}
	return headers
}
