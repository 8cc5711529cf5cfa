package gathering

import (
	"context"
	"strings"
	"unicode/utf8"

	"gathering-service/internal/apperr"
	"gathering-service/internal/models"
	"gathering-service/internal/repositories"
)

// Append posts a chat message from a current participant of an active gathering.
func (c *Coordinator) Append(ctx context.Context, gatheringID, senderID int, text string) (msg models.Message, err error) {
	ctx, done := c.begin(ctx, "append", gatheringID, senderID)
	defer done(&err)

	text = strings.TrimSpace(text)
	if text == "" {
		return models.Message{}, apperr.Validation("text is required")
	}
	if utf8.RuneCountInString(text) > MaxMessageLength {
		return models.Message{}, apperr.Validation("text is too long")
	}

	err = c.repo.Inspect(ctx, gatheringID, func(ctx context.Context, tx repositories.GatheringTx, g models.Gathering) error {
		now := c.clock.Now()
		if err := checkActive(g, now); err != nil {
			return err
		}
		if !g.IsParticipant(senderID) {
			return apperr.ErrNotParticipant
		}
		var err error
		msg, err = tx.AppendMessage(ctx, models.Message{
			GatheringID: g.ID,
			SenderID:    senderID,
			Text:        text,
			CreatedAt:   now,
		})
		return err
	})
	if err != nil {
		return models.Message{}, mapNotFound(err)
	}

	c.notifier.PublishRoom(gatheringID, models.EventNewMessage, msg)
	return msg, nil
}

// Read returns the messages the requester may see: those created at or after
// their latest join, oldest first.
func (c *Coordinator) Read(ctx context.Context, gatheringID, requesterID int) ([]models.Message, error) {
	g, err := c.repo.GetGathering(ctx, gatheringID)
	if err != nil {
		return nil, mapNotFound(err)
	}
	joinedAt, ok := g.JoinedAt(requesterID)
	if !ok {
		return nil, apperr.ErrNotParticipant
	}
	return c.messages.ListMessagesSince(ctx, gatheringID, joinedAt)
}

// Participant reports whether userID currently belongs to the gathering.
func (c *Coordinator) Participant(ctx context.Context, gatheringID, userID int) (bool, error) {
	g, err := c.repo.GetGathering(ctx, gatheringID)
	if err != nil {
		return false, mapNotFound(err)
	}
	return g.IsParticipant(userID), nil
}
