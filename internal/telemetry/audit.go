package telemetry

import (
	"context"
	"log"
	"time"
)

// Publisher is the transport both emitters write to.
type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Audit levels.
const (
	LevelInfo  = "INFO"
	LevelError = "ERROR"
)

// AuditRecord is one user-facing action worth keeping for moderation review.
type AuditRecord struct {
	Level       string
	Operation   string
	Text        string
	RequestID   string
	UserID      int
	GatheringID int
}

type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *int64       `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level       string `json:"level"`
	Operation   string `json:"operation,omitempty"`
	GatheringID int    `json:"gathering_id,omitempty"`
	Text        string `json:"text"`
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
	}
}

// Emit publishes rec. A zero UserID is rendered as an anonymous caller.
func (e *AuditEmitter) Emit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}
	if rec.Level == "" {
		rec.Level = LevelInfo
	}

	var userID *int64
	if rec.UserID != 0 {
		id := int64(rec.UserID)
		userID = &id
	}
	log.Printf("audit emit: level=%s op=%s request_id=%s user_id=%d gathering_id=%d text=%q",
		rec.Level, rec.Operation, rec.RequestID, rec.UserID, rec.GatheringID, rec.Text)

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    time.Now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		UserID:        userID,
		Payload: AuditPayload{
			Level:       rec.Level,
			Operation:   rec.Operation,
			GatheringID: rec.GatheringID,
			Text:        rec.Text,
		},
	}
	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		log.Printf("audit publish failed: op=%s err=%v", rec.Operation, err)
	}
}
