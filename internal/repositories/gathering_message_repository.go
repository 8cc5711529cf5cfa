package repositories

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"gathering-service/internal/models"
)

// GatheringMessageRepository reads the append-only message log. Appends happen
// through GatheringTx so they commit with the step that produced them.
type GatheringMessageRepository interface {
	ListMessagesSince(ctx context.Context, gatheringID int, since time.Time) ([]models.Message, error)
}

// GatheringMessageRepo is a sqlx-backed implementation.
type GatheringMessageRepo struct {
	db *sqlx.DB
}

// NewGatheringMessageRepo constructs a GatheringMessageRepo.
func NewGatheringMessageRepo(db *sqlx.DB) *GatheringMessageRepo {
	return &GatheringMessageRepo{db: db}
}

// ListMessagesSince returns messages created at or after since, oldest first.
func (r *GatheringMessageRepo) ListMessagesSince(ctx context.Context, gatheringID int, since time.Time) ([]models.Message, error) {
	msgs := []models.Message{}
	err := r.db.SelectContext(ctx, &msgs, `SELECT id, gathering_id, sender_id, text, is_system_message, created_at
		FROM gathering_messages
		WHERE gathering_id=$1 AND created_at >= $2
		ORDER BY created_at ASC, id ASC`, gatheringID, since)
	return msgs, err
}
