// Package gathering applies membership and chat operations to gatherings and
// announces the committed results.
package gathering

import (
	"context"
	"errors"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"gathering-service/internal/apperr"
	"gathering-service/internal/clock"
	"gathering-service/internal/directory"
	"gathering-service/internal/models"
	"gathering-service/internal/observability"
	"gathering-service/internal/repositories"
	"gathering-service/internal/telemetry"
)

const (
	MinParticipants  = 2
	MaxParticipants  = 20
	MaxTitleLength   = 100
	MaxMessageLength = 1000
)

const fallbackNickname = "participant"

// Notifier fans committed changes out to connected clients.
type Notifier interface {
	PublishRoom(gatheringID int, event string, payload any)
	PublishUser(userID int, event string, payload any)
}

type noopNotifier struct{}

func (noopNotifier) PublishRoom(int, string, any) {}
func (noopNotifier) PublishUser(int, string, any) {}

// Actor is the verified caller of an operation.
type Actor struct {
	UserID     int
	Nickname   string
	Role       string
	University string
}

// IsAdmin reports whether the actor may moderate gatherings they do not own.
func (a Actor) IsAdmin() bool {
	return a.Role == "sub_admin" || a.Role == "super_admin"
}

// Coordinator serializes mutations per gathering through the repository and
// publishes only after the step has committed.
type Coordinator struct {
	repo     repositories.GatheringRepository
	messages repositories.GatheringMessageRepository
	dir      directory.Directory
	notifier Notifier
	events   *telemetry.EventEmitter
	clock    clock.Clock
	tracer   trace.Tracer
}

// NewCoordinator wires a Coordinator. dir, notifier and events may be nil.
func NewCoordinator(repo repositories.GatheringRepository, messages repositories.GatheringMessageRepository, dir directory.Directory, notifier Notifier, events *telemetry.EventEmitter, clk clock.Clock) *Coordinator {
	if notifier == nil {
		notifier = noopNotifier{}
	}
	if clk == nil {
		clk = clock.System{}
	}
	return &Coordinator{
		repo:     repo,
		messages: messages,
		dir:      dir,
		notifier: notifier,
		events:   events,
		clock:    clk,
		tracer:   otel.Tracer("gathering-service/internal/gathering"),
	}
}

// begin opens a span for op and detaches ctx from cancellation: once started,
// a step runs to commit or explicit failure.
func (c *Coordinator) begin(ctx context.Context, op string, gatheringID, userID int) (context.Context, func(*error)) {
	ctx, span := c.tracer.Start(ctx, "gathering."+op, trace.WithAttributes(
		attribute.Int("gathering.id", gatheringID),
		attribute.Int("user.id", userID),
	))
	return context.WithoutCancel(ctx), func(errp *error) {
		err := *errp
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		observability.ObserveMembership(op, outcome(err))
		span.End()
	}
}

func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if e, ok := apperr.As(err); ok {
		return string(e.Code)
	}
	return "error"
}

func mapNotFound(err error) error {
	if errors.Is(err, repositories.ErrGatheringNotFound) {
		return apperr.ErrNotFound
	}
	return err
}

// checkActive rejects mutations on gatherings that are no longer active at now.
func checkActive(g models.Gathering, now time.Time) error {
	switch clock.Status(g, now) {
	case models.StatusActive:
		return nil
	case models.StatusDeletedByAdmin:
		return apperr.ErrDeleted
	default:
		return apperr.ErrExpired
	}
}

// nickname resolves a display name, preferring the one carried by the token.
func (c *Coordinator) nickname(ctx context.Context, userID int, known string) string {
	if known != "" {
		return known
	}
	if c.dir == nil {
		return fallbackNickname
	}
	names, err := c.dir.Nicknames(ctx, []int{userID})
	if err != nil {
		log.Printf("nickname lookup failed: user_id=%d err=%v", userID, err)
	}
	if nick, ok := names[userID]; ok && nick != "" {
		return nick
	}
	return fallbackNickname
}

func (c *Coordinator) emit(ctx context.Context, name string, g models.Gathering, actorID, targetID int, detail string) {
	c.events.Emit(ctx, telemetry.DomainEvent{
		EventName:   name,
		GatheringID: g.ID,
		ActorID:     actorID,
		TargetID:    targetID,
		Detail:      detail,
	})
}

// present returns g with its effective status at the current time.
func (c *Coordinator) present(g models.Gathering) models.Gathering {
	g.Status = clock.Status(g, c.clock.Now())
	return g
}
