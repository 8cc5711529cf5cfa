package repositories

import (
	"context"
	"sort"
	"sync"
	"time"

	"gathering-service/internal/models"
)

type ackKey struct {
	gatheringID int
	userID      int
	kind        models.AckKind
}

// MemoryStore keeps gatherings and messages in process. A single lock
// serializes every mutation, which also makes admission checks atomic across
// gatherings.
type MemoryStore struct {
	mu            sync.RWMutex
	nextGathering int
	nextMessage   int
	gatherings    map[int]models.Gathering
	messages      map[int][]models.Message
	acks          map[ackKey]time.Time
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		gatherings: make(map[int]models.Gathering),
		messages:   make(map[int][]models.Message),
		acks:       make(map[ackKey]time.Time),
	}
}

var (
	_ GatheringRepository        = (*MemoryStore)(nil)
	_ GatheringMessageRepository = (*MemoryStore)(nil)
	_ GatheringRepository        = (*GatheringRepo)(nil)
	_ GatheringMessageRepository = (*GatheringMessageRepo)(nil)
)

type memTx struct {
	s       *MemoryStore
	pending []models.Message
}

func (t *memTx) ActiveMembership(_ context.Context, userID int, kind models.GatheringType, now time.Time) (int, error) {
	ids := make([]int, 0, len(t.s.gatherings))
	for id := range t.s.gatherings {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	for _, id := range ids {
		g := t.s.gatherings[id]
		if g.Type == kind && g.Status == models.StatusActive && g.Datetime.After(now) && g.IsParticipant(userID) {
			return id, nil
		}
	}
	return 0, nil
}

func (t *memTx) AppendMessage(_ context.Context, msg models.Message) (models.Message, error) {
	t.s.nextMessage++
	msg.ID = t.s.nextMessage
	t.pending = append(t.pending, msg)
	return msg, nil
}

func (t *memTx) commit() {
	for _, msg := range t.pending {
		t.s.messages[msg.GatheringID] = append(t.s.messages[msg.GatheringID], msg)
	}
	t.pending = nil
}

func (s *MemoryStore) CreateGathering(ctx context.Context, g models.Gathering, admit CreateFunc) (models.Gathering, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &memTx{s: s}
	if admit != nil {
		if err := admit(ctx, tx); err != nil {
			return models.Gathering{}, err
		}
	}
	s.nextGathering++
	g.ID = s.nextGathering
	s.gatherings[g.ID] = g.Clone()
	tx.commit()
	return g.Clone(), nil
}

func (s *MemoryStore) GetGathering(_ context.Context, id int) (models.Gathering, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	g, ok := s.gatherings[id]
	if !ok {
		return models.Gathering{}, ErrGatheringNotFound
	}
	return g.Clone(), nil
}

func (s *MemoryStore) ListBrowsable(_ context.Context, kind models.GatheringType, university string, now time.Time) ([]models.Gathering, error) {
	return s.filter(func(g models.Gathering) bool {
		return g.Type == kind && g.University == university && g.Status == models.StatusActive && g.Datetime.After(now)
	}), nil
}

func (s *MemoryStore) ListForUser(_ context.Context, userID int, now time.Time) ([]models.Gathering, error) {
	s.mu.RLock()
	acks := make(map[ackKey]bool, len(s.acks))
	for k := range s.acks {
		acks[k] = true
	}
	s.mu.RUnlock()

	return s.filter(func(g models.Gathering) bool {
		if g.IsParticipant(userID) {
			if g.Status == models.StatusActive && g.Datetime.After(now) {
				return true
			}
			if g.Status == models.StatusDeletedByAdmin && !acks[ackKey{g.ID, userID, models.AckDelete}] {
				return true
			}
		}
		return g.IsKicked(userID) && !acks[ackKey{g.ID, userID, models.AckKick}]
	}), nil
}

func (s *MemoryStore) filter(keep func(models.Gathering) bool) []models.Gathering {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Gathering{}
	for _, g := range s.gatherings {
		if keep(g) {
			out = append(out, g.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Datetime.Equal(out[j].Datetime) {
			return out[i].ID < out[j].ID
		}
		return out[i].Datetime.Before(out[j].Datetime)
	})
	return out
}

func (s *MemoryStore) Mutate(ctx context.Context, id int, fn MutateFunc) (models.Gathering, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.gatherings[id]
	if !ok {
		return models.Gathering{}, ErrGatheringNotFound
	}
	next := g.Clone()
	tx := &memTx{s: s}
	if err := fn(ctx, tx, &next); err != nil {
		return models.Gathering{}, err
	}
	s.gatherings[id] = next.Clone()
	tx.commit()
	return next, nil
}

func (s *MemoryStore) Inspect(ctx context.Context, id int, fn InspectFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.gatherings[id]
	if !ok {
		return ErrGatheringNotFound
	}
	tx := &memTx{s: s}
	if err := fn(ctx, tx, g.Clone()); err != nil {
		return err
	}
	tx.commit()
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, id int, fn InspectFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	g, ok := s.gatherings[id]
	if !ok {
		return ErrGatheringNotFound
	}
	if err := fn(ctx, &memTx{s: s}, g.Clone()); err != nil {
		return err
	}
	s.removeLocked(id)
	return nil
}

func (s *MemoryStore) removeLocked(id int) {
	delete(s.gatherings, id)
	delete(s.messages, id)
	for k := range s.acks {
		if k.gatheringID == id {
			delete(s.acks, k)
		}
	}
}

func (s *MemoryStore) Acknowledge(_ context.Context, gatheringID, userID int, kind models.AckKind, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	k := ackKey{gatheringID, userID, kind}
	if _, ok := s.acks[k]; !ok {
		s.acks[k] = at
	}
	return nil
}

func (s *MemoryStore) MarkExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, g := range s.gatherings {
		if g.Status == models.StatusActive && !now.Before(g.Datetime) {
			g.Status = models.StatusExpired
			s.gatherings[id] = g
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) PurgeCreatedBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for id, g := range s.gatherings {
		if g.CreatedAt.Before(cutoff) {
			s.removeLocked(id)
			n++
		}
	}
	return n, nil
}

func (s *MemoryStore) ListMessagesSince(_ context.Context, gatheringID int, since time.Time) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []models.Message{}
	for _, msg := range s.messages[gatheringID] {
		if !msg.CreatedAt.Before(since) {
			out = append(out, msg)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}
