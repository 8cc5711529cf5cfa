package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jinzhu/copier"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"gathering-service/internal/models"
)

var ErrGatheringNotFound = errors.New("gathering not found")

// GatheringTx is the view a callback gets while its gathering is locked.
type GatheringTx interface {
	// ActiveMembership returns the id of a gathering of kind in which userID is an
	// active participant at now, or 0. It serializes with every other admission
	// check for the same user and kind until the surrounding step ends.
	ActiveMembership(ctx context.Context, userID int, kind models.GatheringType, now time.Time) (int, error)
	// AppendMessage persists msg as part of the surrounding step.
	AppendMessage(ctx context.Context, msg models.Message) (models.Message, error)
}

// MutateFunc changes g in place; returning an error discards every change.
type MutateFunc func(ctx context.Context, tx GatheringTx, g *models.Gathering) error

// InspectFunc observes g without changing the record.
type InspectFunc func(ctx context.Context, tx GatheringTx, g models.Gathering) error

// CreateFunc vets a new gathering before it is stored.
type CreateFunc func(ctx context.Context, tx GatheringTx) error

// GatheringRepository abstracts gathering persistence. Mutate, Inspect and Remove
// are serialized per gathering.
type GatheringRepository interface {
	CreateGathering(ctx context.Context, g models.Gathering, admit CreateFunc) (models.Gathering, error)
	GetGathering(ctx context.Context, id int) (models.Gathering, error)
	ListBrowsable(ctx context.Context, kind models.GatheringType, university string, now time.Time) ([]models.Gathering, error)
	ListForUser(ctx context.Context, userID int, now time.Time) ([]models.Gathering, error)
	Mutate(ctx context.Context, id int, fn MutateFunc) (models.Gathering, error)
	Inspect(ctx context.Context, id int, fn InspectFunc) error
	Remove(ctx context.Context, id int, fn InspectFunc) error
	Acknowledge(ctx context.Context, gatheringID, userID int, kind models.AckKind, at time.Time) error
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// GatheringRepo is a sqlx implementation of GatheringRepository.
type GatheringRepo struct {
	db *sqlx.DB
}

// NewGatheringRepo constructs a GatheringRepo.
func NewGatheringRepo(db *sqlx.DB) *GatheringRepo {
	return &GatheringRepo{db: db}
}

type gatheringRow struct {
	ID              int            `db:"id"`
	Type            string         `db:"type"`
	CreatorID       int            `db:"creator_id"`
	Title           string         `db:"title"`
	University      string         `db:"university"`
	Datetime        time.Time      `db:"datetime"`
	MaxParticipants int            `db:"max_participants"`
	Status          string         `db:"status"`
	Location        sql.NullString `db:"location"`
	Departure       sql.NullString `db:"departure"`
	Arrival         sql.NullString `db:"arrival"`
	KickedIDs       pq.Int64Array  `db:"kicked_user_ids"`
	Tags            pq.StringArray `db:"tags"`
	Purpose         string         `db:"purpose"`
	Description     string         `db:"description"`
	CreatedAt       time.Time      `db:"created_at"`
}

type participantRow struct {
	GatheringID int       `db:"gathering_id"`
	UserID      int       `db:"user_id"`
	JoinedAt    time.Time `db:"joined_at"`
}

const gatheringColumns = `id, type, creator_id, title, university, datetime, max_participants, status,
	location, departure, arrival, kicked_user_ids, tags, purpose, description, created_at`

func (row gatheringRow) toModel() (models.Gathering, error) {
	var g models.Gathering
	if err := copier.Copy(&g, &row); err != nil {
		return models.Gathering{}, err
	}
	g.KickedUserIDs = make([]int, 0, len(row.KickedIDs))
	for _, id := range row.KickedIDs {
		g.KickedUserIDs = append(g.KickedUserIDs, int(id))
	}
	if g.Tags == nil {
		g.Tags = []string{}
	}
	g.ParticipantIDs = []int{}
	g.ParticipantInfo = map[int]models.Participant{}

	switch g.Type {
	case models.TypeMeeting:
		g.Meeting = &models.MeetingDetails{Location: row.Location.String}
	case models.TypeCarpool:
		g.Carpool = &models.CarpoolDetails{Departure: row.Departure.String, Arrival: row.Arrival.String}
	default:
		return models.Gathering{}, fmt.Errorf("gathering %d: %w", row.ID, models.ErrUnknownType)
	}
	return g, nil
}

func venueColumns(g models.Gathering) (location, departure, arrival sql.NullString, err error) {
	switch g.Type {
	case models.TypeMeeting:
		location = sql.NullString{String: g.Meeting.Location, Valid: true}
	case models.TypeCarpool:
		departure = sql.NullString{String: g.Carpool.Departure, Valid: true}
		arrival = sql.NullString{String: g.Carpool.Arrival, Valid: true}
	default:
		err = models.ErrUnknownType
	}
	return
}

func kickedArray(ids []int) pq.Int64Array {
	out := make(pq.Int64Array, 0, len(ids))
	for _, id := range ids {
		out = append(out, int64(id))
	}
	return out
}

// CreateGathering stores g and its initial participants in one transaction.
func (r *GatheringRepo) CreateGathering(ctx context.Context, g models.Gathering, admit CreateFunc) (models.Gathering, error) {
	location, departure, arrival, err := venueColumns(g)
	if err != nil {
		return models.Gathering{}, err
	}

	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Gathering{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if admit != nil {
		if err = admit(ctx, &pgTx{tx: tx}); err != nil {
			return models.Gathering{}, err
		}
	}

	if err = tx.QueryRowxContext(ctx, `INSERT INTO gatherings
		(type, creator_id, title, university, datetime, max_participants, status, location, departure, arrival, kicked_user_ids, tags, purpose, description, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		RETURNING id`,
		string(g.Type), g.CreatorID, g.Title, g.University, g.Datetime, g.MaxParticipants, string(g.Status),
		location, departure, arrival, kickedArray(g.KickedUserIDs), pq.StringArray(g.Tags), g.Purpose, g.Description, g.CreatedAt,
	).Scan(&g.ID); err != nil {
		return models.Gathering{}, err
	}

	for _, userID := range g.ParticipantIDs {
		if _, err = tx.ExecContext(ctx, `INSERT INTO gathering_participants (gathering_id, user_id, joined_at) VALUES ($1, $2, $3)`,
			g.ID, userID, g.ParticipantInfo[userID].JoinedAt); err != nil {
			return models.Gathering{}, err
		}
	}

	if err = tx.Commit(); err != nil {
		return models.Gathering{}, err
	}
	return g, nil
}

// GetGathering fetches a single gathering with its participants.
func (r *GatheringRepo) GetGathering(ctx context.Context, id int) (models.Gathering, error) {
	return loadGathering(ctx, r.db, id, "")
}

// ListBrowsable returns open gatherings of kind in a university, soonest first.
func (r *GatheringRepo) ListBrowsable(ctx context.Context, kind models.GatheringType, university string, now time.Time) ([]models.Gathering, error) {
	var rows []gatheringRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+gatheringColumns+` FROM gatherings
		WHERE type=$1 AND university=$2 AND status='active' AND datetime > $3
		ORDER BY datetime ASC, id ASC`, string(kind), university, now)
	if err != nil {
		return nil, err
	}
	return hydrate(ctx, r.db, rows)
}

// ListForUser returns the gatherings that belong in the user's own listing.
func (r *GatheringRepo) ListForUser(ctx context.Context, userID int, now time.Time) ([]models.Gathering, error) {
	var rows []gatheringRow
	err := r.db.SelectContext(ctx, &rows, `SELECT `+gatheringColumns+` FROM gatherings g
		WHERE (
			EXISTS (SELECT 1 FROM gathering_participants p WHERE p.gathering_id = g.id AND p.user_id = $1)
			AND (
				(g.status = 'active' AND g.datetime > $2)
				OR (g.status = 'deleted_by_admin' AND NOT EXISTS (
					SELECT 1 FROM gathering_acknowledgements a WHERE a.gathering_id = g.id AND a.user_id = $1 AND a.kind = 'delete'))
			)
		) OR (
			$1 = ANY(g.kicked_user_ids) AND NOT EXISTS (
				SELECT 1 FROM gathering_acknowledgements a WHERE a.gathering_id = g.id AND a.user_id = $1 AND a.kind = 'kick')
		)
		ORDER BY g.datetime ASC, g.id ASC`, userID, now)
	if err != nil {
		return nil, err
	}
	return hydrate(ctx, r.db, rows)
}

// Mutate locks the gathering row, applies fn and persists the difference.
func (r *GatheringRepo) Mutate(ctx context.Context, id int, fn MutateFunc) (models.Gathering, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return models.Gathering{}, err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var before models.Gathering
	before, err = loadGathering(ctx, tx, id, "FOR UPDATE")
	if err != nil {
		return models.Gathering{}, err
	}
	after := before.Clone()
	if err = fn(ctx, &pgTx{tx: tx}, &after); err != nil {
		return models.Gathering{}, err
	}
	if err = persistDiff(ctx, tx, before, after); err != nil {
		return models.Gathering{}, err
	}
	if err = tx.Commit(); err != nil {
		return models.Gathering{}, err
	}
	return after, nil
}

// Inspect share-locks the gathering row so membership cannot change while fn runs.
func (r *GatheringRepo) Inspect(ctx context.Context, id int, fn InspectFunc) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var g models.Gathering
	g, err = loadGathering(ctx, tx, id, "FOR SHARE")
	if err != nil {
		return err
	}
	if err = fn(ctx, &pgTx{tx: tx}, g); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// Remove hard-deletes the gathering if fn approves; messages cascade.
func (r *GatheringRepo) Remove(ctx context.Context, id int, fn InspectFunc) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	var g models.Gathering
	g, err = loadGathering(ctx, tx, id, "FOR UPDATE")
	if err != nil {
		return err
	}
	if err = fn(ctx, &pgTx{tx: tx}, g); err != nil {
		return err
	}
	if _, err = tx.ExecContext(ctx, `DELETE FROM gatherings WHERE id=$1`, id); err != nil {
		return err
	}
	err = tx.Commit()
	return err
}

// Acknowledge records that the user has seen a kick or admin delete.
func (r *GatheringRepo) Acknowledge(ctx context.Context, gatheringID, userID int, kind models.AckKind, at time.Time) error {
	_, err := r.db.ExecContext(ctx, `INSERT INTO gathering_acknowledgements (gathering_id, user_id, kind, acknowledged_at)
		VALUES ($1, $2, $3, $4) ON CONFLICT (gathering_id, user_id, kind) DO NOTHING`, gatheringID, userID, string(kind), at)
	return err
}

// MarkExpired persists the expired status for active gatherings past their deadline.
func (r *GatheringRepo) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `UPDATE gatherings SET status='expired' WHERE status='active' AND datetime <= $1`, now)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// PurgeCreatedBefore hard-deletes gatherings created before cutoff.
func (r *GatheringRepo) PurgeCreatedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM gatherings WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func loadGathering(ctx context.Context, q sqlx.QueryerContext, id int, lock string) (models.Gathering, error) {
	var row gatheringRow
	err := sqlx.GetContext(ctx, q, &row, `SELECT `+gatheringColumns+` FROM gatherings WHERE id=$1 `+lock, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Gathering{}, ErrGatheringNotFound
	}
	if err != nil {
		return models.Gathering{}, err
	}
	list, err := hydrate(ctx, q, []gatheringRow{row})
	if err != nil {
		return models.Gathering{}, err
	}
	return list[0], nil
}

func hydrate(ctx context.Context, q sqlx.QueryerContext, rows []gatheringRow) ([]models.Gathering, error) {
	out := make([]models.Gathering, 0, len(rows))
	if len(rows) == 0 {
		return out, nil
	}

	ids := make(pq.Int64Array, 0, len(rows))
	byID := make(map[int]int, len(rows))
	for _, row := range rows {
		g, err := row.toModel()
		if err != nil {
			return nil, err
		}
		byID[g.ID] = len(out)
		out = append(out, g)
		ids = append(ids, int64(g.ID))
	}

	var participants []participantRow
	if err := sqlx.SelectContext(ctx, q, &participants, `SELECT gathering_id, user_id, joined_at FROM gathering_participants
		WHERE gathering_id = ANY($1) ORDER BY joined_at ASC, user_id ASC`, ids); err != nil {
		return nil, err
	}
	for _, p := range participants {
		idx, ok := byID[p.GatheringID]
		if !ok {
			continue
		}
		out[idx].AddParticipant(p.UserID, p.JoinedAt)
	}
	return out, nil
}

func persistDiff(ctx context.Context, tx *sqlx.Tx, before, after models.Gathering) error {
	if _, err := tx.ExecContext(ctx, `UPDATE gatherings SET status=$2, kicked_user_ids=$3 WHERE id=$1`,
		after.ID, string(after.Status), kickedArray(after.KickedUserIDs)); err != nil {
		return err
	}
	for _, userID := range before.ParticipantIDs {
		if after.IsParticipant(userID) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM gathering_participants WHERE gathering_id=$1 AND user_id=$2`, after.ID, userID); err != nil {
			return err
		}
	}
	for _, userID := range after.ParticipantIDs {
		joinedAt, _ := after.JoinedAt(userID)
		if prev, ok := before.JoinedAt(userID); ok && prev.Equal(joinedAt) {
			continue
		}
		if _, err := tx.ExecContext(ctx, `INSERT INTO gathering_participants (gathering_id, user_id, joined_at) VALUES ($1, $2, $3)
			ON CONFLICT (gathering_id, user_id) DO UPDATE SET joined_at = EXCLUDED.joined_at`, after.ID, userID, joinedAt); err != nil {
			return err
		}
	}
	return nil
}

type pgTx struct {
	tx *sqlx.Tx
}

// advisory lock namespaces, one per gathering type
func typeLockKey(kind models.GatheringType) (int, error) {
	switch kind {
	case models.TypeMeeting:
		return 1, nil
	case models.TypeCarpool:
		return 2, nil
	default:
		return 0, models.ErrUnknownType
	}
}

func (t *pgTx) ActiveMembership(ctx context.Context, userID int, kind models.GatheringType, now time.Time) (int, error) {
	key, err := typeLockKey(kind)
	if err != nil {
		return 0, err
	}
	if _, err := t.tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1, $2)`, key, userID); err != nil {
		return 0, err
	}

	var id int
	err = t.tx.GetContext(ctx, &id, `SELECT g.id FROM gatherings g
		INNER JOIN gathering_participants p ON p.gathering_id = g.id
		WHERE p.user_id=$1 AND g.type=$2 AND g.status='active' AND g.datetime > $3
		ORDER BY g.id LIMIT 1`, userID, string(kind), now)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return id, err
}

func (t *pgTx) AppendMessage(ctx context.Context, msg models.Message) (models.Message, error) {
	err := t.tx.QueryRowxContext(ctx, `INSERT INTO gathering_messages (gathering_id, sender_id, text, is_system_message, created_at)
		VALUES ($1, $2, $3, $4, $5) RETURNING id`, msg.GatheringID, msg.SenderID, msg.Text, msg.IsSystemMessage, msg.CreatedAt).
		Scan(&msg.ID)
	return msg, err
}
