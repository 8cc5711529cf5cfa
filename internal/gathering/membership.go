package gathering

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"gathering-service/internal/apperr"
	"gathering-service/internal/clock"
	"gathering-service/internal/models"
	"gathering-service/internal/repositories"
	"gathering-service/internal/telemetry"
)

// CreateInput carries the caller-supplied fields of a new gathering.
type CreateInput struct {
	Type            models.GatheringType
	Title           string
	Datetime        time.Time
	MaxParticipants int
	Meeting         *models.MeetingDetails
	Carpool         *models.CarpoolDetails
	Tags            []string
	Purpose         string
	Description     string
}

func (in CreateInput) build(actor Actor, now time.Time) (models.Gathering, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return models.Gathering{}, apperr.Validation("title is required")
	}
	if utf8.RuneCountInString(title) > MaxTitleLength {
		return models.Gathering{}, apperr.Validation("title is too long")
	}
	if !in.Type.Valid() {
		return models.Gathering{}, apperr.Validation("type must be meeting or carpool")
	}
	if !in.Datetime.After(now) {
		return models.Gathering{}, apperr.Validation("datetime must be in the future")
	}
	if in.MaxParticipants < MinParticipants || in.MaxParticipants > MaxParticipants {
		return models.Gathering{}, apperr.Validation("maxParticipants must be between 2 and 20")
	}

	g := models.Gathering{
		Type:            in.Type,
		CreatorID:       actor.UserID,
		Title:           title,
		University:      actor.University,
		Datetime:        in.Datetime.UTC(),
		MaxParticipants: in.MaxParticipants,
		ParticipantIDs:  []int{},
		KickedUserIDs:   []int{},
		Status:          models.StatusActive,
		Tags:            normalizeTags(in.Tags),
		Purpose:         strings.TrimSpace(in.Purpose),
		Description:     strings.TrimSpace(in.Description),
		CreatedAt:       now,
	}
	switch in.Type {
	case models.TypeMeeting:
		if in.Meeting != nil {
			g.Meeting = &models.MeetingDetails{Location: strings.TrimSpace(in.Meeting.Location)}
		}
		if in.Carpool != nil {
			g.Carpool = in.Carpool
		}
	case models.TypeCarpool:
		if in.Carpool != nil {
			g.Carpool = &models.CarpoolDetails{
				Departure: strings.TrimSpace(in.Carpool.Departure),
				Arrival:   strings.TrimSpace(in.Carpool.Arrival),
			}
		}
		if in.Meeting != nil {
			g.Meeting = in.Meeting
		}
	}
	if err := g.ValidateDetails(); err != nil {
		return models.Gathering{}, apperr.Wrap(apperr.CodeInvalidInput, err.Error(), err)
	}
	g.AddParticipant(actor.UserID, now)
	return g, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}

// Create stores a new gathering with the actor as its only participant.
func (c *Coordinator) Create(ctx context.Context, actor Actor, in CreateInput) (g models.Gathering, err error) {
	ctx, done := c.begin(ctx, "create", 0, actor.UserID)
	defer done(&err)

	now := c.clock.Now()
	g, err = in.build(actor, now)
	if err != nil {
		return models.Gathering{}, err
	}
	g, err = c.repo.CreateGathering(ctx, g, func(ctx context.Context, tx repositories.GatheringTx) error {
		other, err := tx.ActiveMembership(ctx, actor.UserID, g.Type, now)
		if err != nil {
			return err
		}
		if other != 0 {
			return apperr.ErrDuplicateTypeMembership
		}
		return nil
	})
	if err != nil {
		return models.Gathering{}, err
	}
	c.emit(ctx, telemetry.EventGatheringCreated, g, actor.UserID, 0, string(g.Type))
	return g, nil
}

// Join admits the actor. Checks run in order inside one serialized step:
// expiry, kick record, existing membership, capacity, then membership of
// another gathering of the same type.
func (c *Coordinator) Join(ctx context.Context, gatheringID int, actor Actor) (g models.Gathering, err error) {
	ctx, done := c.begin(ctx, "join", gatheringID, actor.UserID)
	defer done(&err)

	nick := c.nickname(ctx, actor.UserID, actor.Nickname)
	var notice models.Message
	g, err = c.repo.Mutate(ctx, gatheringID, func(ctx context.Context, tx repositories.GatheringTx, g *models.Gathering) error {
		now := c.clock.Now()
		if err := checkActive(*g, now); err != nil {
			return err
		}
		if g.IsKicked(actor.UserID) {
			return apperr.ErrKicked
		}
		if g.IsParticipant(actor.UserID) {
			return apperr.ErrAlreadyMember
		}
		if g.ParticipantCount() >= g.MaxParticipants {
			return apperr.ErrCapacityFull
		}
		other, err := tx.ActiveMembership(ctx, actor.UserID, g.Type, now)
		if err != nil {
			return err
		}
		if other != 0 && other != g.ID {
			return apperr.ErrDuplicateTypeMembership
		}

		g.AddParticipant(actor.UserID, now)
		notice, err = tx.AppendMessage(ctx, models.SystemMessage(g.ID, "**"+nick+"** joined", now))
		return err
	})
	if err != nil {
		return models.Gathering{}, mapNotFound(err)
	}

	c.notifier.PublishRoom(g.ID, models.EventNewMessage, notice)
	c.notifier.PublishRoom(g.ID, models.EventUpdateGathering, g)
	c.emit(ctx, telemetry.EventGatheringJoined, g, actor.UserID, 0, "")
	return g, nil
}

// Leave removes the actor. Leaving a gathering the actor is not part of
// succeeds without change so that leave and kick commute. Once a gathering
// has ended, anyone including the creator may leave and nothing is announced.
func (c *Coordinator) Leave(ctx context.Context, gatheringID int, actor Actor) (g models.Gathering, err error) {
	ctx, done := c.begin(ctx, "leave", gatheringID, actor.UserID)
	defer done(&err)

	nick := c.nickname(ctx, actor.UserID, actor.Nickname)
	var (
		notice    models.Message
		announced bool
	)
	g, err = c.repo.Mutate(ctx, gatheringID, func(ctx context.Context, tx repositories.GatheringTx, g *models.Gathering) error {
		if !g.IsParticipant(actor.UserID) {
			return nil
		}
		now := c.clock.Now()
		if clock.Status(*g, now) != models.StatusActive {
			g.RemoveParticipant(actor.UserID)
			return nil
		}
		if g.CreatorID == actor.UserID {
			return apperr.ErrCreatorCannotLeave
		}

		g.RemoveParticipant(actor.UserID)
		var err error
		notice, err = tx.AppendMessage(ctx, models.SystemMessage(g.ID, "**"+nick+"** left", now))
		announced = err == nil
		return err
	})
	if err != nil {
		return models.Gathering{}, mapNotFound(err)
	}
	if !announced {
		return c.present(g), nil
	}

	c.notifier.PublishRoom(g.ID, models.EventNewMessage, notice)
	c.notifier.PublishRoom(g.ID, models.EventUpdateGathering, g)
	c.notifier.PublishUser(actor.UserID, models.EventLeftMeeting, models.LeftNotice{GatheringID: g.ID})
	c.emit(ctx, telemetry.EventGatheringLeft, g, actor.UserID, 0, "")
	return g, nil
}

// Kick permanently removes targetID. The requester is checked against the
// stored creator. A target that is not a participant is left untouched.
func (c *Coordinator) Kick(ctx context.Context, gatheringID int, requester Actor, targetID int) (g models.Gathering, err error) {
	ctx, done := c.begin(ctx, "kick", gatheringID, requester.UserID)
	defer done(&err)

	nick := c.nickname(ctx, targetID, "")
	var (
		notice models.Message
		kicked bool
	)
	g, err = c.repo.Mutate(ctx, gatheringID, func(ctx context.Context, tx repositories.GatheringTx, g *models.Gathering) error {
		now := c.clock.Now()
		if err := checkActive(*g, now); err != nil {
			return err
		}
		if g.CreatorID != requester.UserID {
			return apperr.ErrNotCreator
		}
		if targetID == requester.UserID {
			return apperr.ErrCannotKickSelf
		}
		if !g.RemoveParticipant(targetID) {
			return nil
		}
		g.MarkKicked(targetID)

		var err error
		notice, err = tx.AppendMessage(ctx, models.SystemMessage(g.ID, "**"+nick+"** was removed", now))
		kicked = err == nil
		return err
	})
	if err != nil {
		return models.Gathering{}, mapNotFound(err)
	}
	if !kicked {
		return g, nil
	}

	c.notifier.PublishRoom(g.ID, models.EventNewMessage, notice)
	c.notifier.PublishRoom(g.ID, models.EventUpdateGathering, g)
	c.notifier.PublishUser(targetID, models.EventKicked, models.KickedNotice{GatheringID: g.ID, Title: g.Title})
	c.emit(ctx, telemetry.EventGatheringKicked, g, requester.UserID, targetID, "")
	return g, nil
}

// Delete removes the gathering. The creator hard-deletes it with its messages;
// an administrator marks someone else's gathering deleted_by_admin. It returns
// the delete mode applied.
func (c *Coordinator) Delete(ctx context.Context, gatheringID int, actor Actor) (mode string, err error) {
	ctx, done := c.begin(ctx, "delete", gatheringID, actor.UserID)
	defer done(&err)

	current, err := c.repo.GetGathering(ctx, gatheringID)
	if err != nil {
		return "", mapNotFound(err)
	}

	var g models.Gathering
	switch {
	case current.CreatorID == actor.UserID:
		mode = models.DeleteModeHard
		err = c.repo.Remove(ctx, gatheringID, func(_ context.Context, _ repositories.GatheringTx, locked models.Gathering) error {
			g = locked
			return nil
		})
	case actor.IsAdmin():
		mode = models.DeleteModeAdmin
		var already bool
		g, err = c.repo.Mutate(ctx, gatheringID, func(_ context.Context, _ repositories.GatheringTx, g *models.Gathering) error {
			switch clock.Status(*g, c.clock.Now()) {
			case models.StatusDeletedByAdmin:
				already = true
				return nil
			case models.StatusExpired:
				return apperr.ErrExpired
			}
			g.Status = models.StatusDeletedByAdmin
			return nil
		})
		if err == nil && already {
			return mode, nil
		}
	default:
		return "", apperr.ErrNotCreator
	}
	if err != nil {
		return "", mapNotFound(err)
	}

	c.notifier.PublishRoom(g.ID, models.EventGatheringDeleted, models.DeletedNotice{GatheringID: g.ID, Title: g.Title, Mode: mode})
	c.emit(ctx, telemetry.EventGatheringDeleted, g, actor.UserID, 0, mode)
	return mode, nil
}

// AcknowledgeKick records that the user has seen their removal. It never
// changes the kicked set.
func (c *Coordinator) AcknowledgeKick(ctx context.Context, gatheringID, userID int) (err error) {
	ctx, done := c.begin(ctx, "acknowledge_kick", gatheringID, userID)
	defer done(&err)

	g, err := c.repo.GetGathering(ctx, gatheringID)
	if err != nil {
		return mapNotFound(err)
	}
	if !g.IsKicked(userID) {
		return apperr.ErrNoKickRecord
	}
	return c.repo.Acknowledge(ctx, gatheringID, userID, models.AckKick, c.clock.Now())
}

// AcknowledgeDelete records that a participant has seen an administrator delete.
func (c *Coordinator) AcknowledgeDelete(ctx context.Context, gatheringID, userID int) (err error) {
	ctx, done := c.begin(ctx, "acknowledge_delete", gatheringID, userID)
	defer done(&err)

	g, err := c.repo.GetGathering(ctx, gatheringID)
	if err != nil {
		return mapNotFound(err)
	}
	if g.Status != models.StatusDeletedByAdmin || !g.IsParticipant(userID) {
		return apperr.ErrNoDeleteRecord
	}
	return c.repo.Acknowledge(ctx, gatheringID, userID, models.AckDelete, c.clock.Now())
}
