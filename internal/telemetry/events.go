package telemetry

import (
	"context"
	"log"
	"time"
)

// Lifecycle event names; each is also the routing key.
const (
	EventGatheringCreated = "gathering.created"
	EventGatheringJoined  = "gathering.joined"
	EventGatheringLeft    = "gathering.left"
	EventGatheringKicked  = "gathering.kicked"
	EventGatheringDeleted = "gathering.deleted"
	EventGatheringExpired = "gathering.expired"
)

// DomainEvent describes a committed membership change for downstream consumers.
type DomainEvent struct {
	SchemaVersion int    `json:"schema_version"`
	EventName     string `json:"event_name"`
	OccurredAt    string `json:"occurred_at"`
	Service       string `json:"service"`
	GatheringID   int    `json:"gathering_id"`
	ActorID       int    `json:"actor_id,omitempty"`
	TargetID      int    `json:"target_id,omitempty"`
	Detail        string `json:"detail,omitempty"`
}

// EventEmitter publishes DomainEvents after the change they describe has committed.
type EventEmitter struct {
	publisher Publisher
	service   string
}

func NewEventEmitter(publisher Publisher, service string) *EventEmitter {
	return &EventEmitter{publisher: publisher, service: service}
}

// Emit is best effort: publish failures are logged and never surface to callers.
func (e *EventEmitter) Emit(ctx context.Context, event DomainEvent) {
	if e == nil || e.publisher == nil {
		return
	}
	event.SchemaVersion = 1
	event.Service = e.service
	if event.OccurredAt == "" {
		event.OccurredAt = time.Now().UTC().Format(time.RFC3339Nano)
	}
	if err := e.publisher.Publish(ctx, event.EventName, event); err != nil {
		log.Printf("domain event publish failed: event=%s gathering_id=%d err=%v", event.EventName, event.GatheringID, err)
	}
}
