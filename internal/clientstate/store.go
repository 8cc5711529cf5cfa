// Package clientstate keeps a client's view of gatherings consistent with
// pushed events. Every gathering lives once in a normalized table; the browse
// and mine lists are sets of ids over that table, derived on read.
package clientstate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"gathering-service/internal/clock"
	"gathering-service/internal/models"
)

// KeyMine is the cache key of the user's own gatherings.
const KeyMine = "mine"

// BrowseKey is the cache key of the browse list for kind.
func BrowseKey(kind models.GatheringType) string {
	return "browse:" + string(kind)
}

// Fetcher loads authoritative lists from the server.
type Fetcher interface {
	Browse(ctx context.Context, kind models.GatheringType) ([]models.Gathering, error)
	Mine(ctx context.Context) ([]models.Gathering, error)
}

const eventLoaded = "loaded"

// Event is one input of the reducer: a pushed socket event or a completed fetch.
type Event struct {
	Name        string
	GatheringID int
	Gathering   *models.Gathering
	Key         string
	List        []models.Gathering
}

// EventFromFrame decodes a socket frame. Frames the synchronizer does not
// track decode to an event Apply ignores.
func EventFromFrame(frame models.Frame) (Event, error) {
	ev := Event{Name: frame.Event}
	switch frame.Event {
	case models.EventUpdateGathering:
		var g models.Gathering
		if err := json.Unmarshal(frame.Data, &g); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", frame.Event, err)
		}
		ev.Gathering = &g
		ev.GatheringID = g.ID
	case models.EventKicked, models.EventLeftMeeting, models.EventGatheringDeleted:
		var ref struct {
			GatheringID int `json:"gatheringId"`
		}
		if err := json.Unmarshal(frame.Data, &ref); err != nil {
			return Event{}, fmt.Errorf("decode %s: %w", frame.Event, err)
		}
		ev.GatheringID = ref.GatheringID
	}
	return ev, nil
}

// Store is the client cache. All state changes go through Apply.
type Store struct {
	userID  int
	fetcher Fetcher
	clock   clock.Clock
	group   singleflight.Group

	mu       sync.Mutex
	entities map[int]models.Gathering
	views    map[string]map[int]struct{}
	stale    map[string]bool
	gen      map[string]uint64
}

// New returns an empty store for userID tracking the mine view and the browse
// view of every gathering type.
func New(userID int, fetcher Fetcher, clk clock.Clock) *Store {
	if clk == nil {
		clk = clock.System{}
	}
	s := &Store{
		userID:   userID,
		fetcher:  fetcher,
		clock:    clk,
		entities: make(map[int]models.Gathering),
		views:    make(map[string]map[int]struct{}),
		stale:    make(map[string]bool),
		gen:      make(map[string]uint64),
	}
	for _, key := range Keys() {
		s.views[key] = make(map[int]struct{})
		s.stale[key] = true
	}
	return s
}

// Keys lists every cache key.
func Keys() []string {
	return []string{BrowseKey(models.TypeMeeting), BrowseKey(models.TypeCarpool), KeyMine}
}

// Apply runs the reducer and returns the keys the event invalidated.
func (s *Store) Apply(ev Event) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch ev.Name {
	case eventLoaded:
		s.loadLocked(ev.Key, ev.List)
		return nil
	case models.EventUpdateGathering:
		if ev.Gathering != nil {
			s.patchLocked(*ev.Gathering)
		}
		return nil
	case models.EventKicked, models.EventLeftMeeting, models.EventGatheringDeleted:
		return s.invalidateLocked(ev.GatheringID)
	default:
		return nil
	}
}

func (s *Store) loadLocked(key string, list []models.Gathering) {
	ids := make(map[int]struct{}, len(list))
	for _, g := range list {
		s.entities[g.ID] = g.Clone()
		ids[g.ID] = struct{}{}
	}
	s.views[key] = ids
	s.pruneLocked()
}

// patchLocked replaces the entity and recomputes its membership in every view.
func (s *Store) patchLocked(g models.Gathering) {
	s.entities[g.ID] = g.Clone()
	for key, ids := range s.views {
		if s.belongs(key, g) {
			ids[g.ID] = struct{}{}
		} else {
			delete(ids, g.ID)
		}
	}
	s.pruneLocked()
}

// invalidateLocked marks stale the views an ambiguous event may have changed.
// Payload fields are not trusted; the next fetch decides.
func (s *Store) invalidateLocked(gatheringID int) []string {
	keys := []string{KeyMine}
	if g, ok := s.entities[gatheringID]; ok {
		keys = append(keys, BrowseKey(g.Type))
	} else {
		keys = append(keys, BrowseKey(models.TypeMeeting), BrowseKey(models.TypeCarpool))
	}
	for _, key := range keys {
		s.stale[key] = true
		s.gen[key]++
	}
	return keys
}

func (s *Store) pruneLocked() {
	for id := range s.entities {
		referenced := false
		for _, ids := range s.views {
			if _, ok := ids[id]; ok {
				referenced = true
				break
			}
		}
		if !referenced {
			delete(s.entities, id)
		}
	}
}

func (s *Store) belongs(key string, g models.Gathering) bool {
	now := s.clock.Now()
	if key == KeyMine {
		if !g.IsParticipant(s.userID) {
			return false
		}
		return clock.Browsable(g, now) || g.Status == models.StatusDeletedByAdmin
	}
	kind := models.GatheringType(strings.TrimPrefix(key, "browse:"))
	return g.Type == kind && clock.Browsable(g, now)
}

// View returns the gatherings of key sorted by datetime. Entries whose
// deadline passed since they were cached are left out.
func (s *Store) View(key string) []models.Gathering {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	out := []models.Gathering{}
	for id := range s.views[key] {
		g := s.entities[id]
		if g.Status == models.StatusActive && !clock.IsActive(g, now) {
			continue
		}
		out = append(out, g.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Datetime.Equal(out[j].Datetime) {
			return out[i].ID < out[j].ID
		}
		return out[i].Datetime.Before(out[j].Datetime)
	})
	return out
}

// Gathering returns the cached entity with id.
func (s *Store) Gathering(id int) (models.Gathering, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.entities[id]
	return g.Clone(), ok
}

// Stale reports whether key needs a fetch before it can be trusted.
func (s *Store) Stale(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stale[key]
}

// Refresh fetches key. Concurrent refreshes of the same key share one request.
// A view invalidated again while the fetch was in flight stays stale.
func (s *Store) Refresh(ctx context.Context, key string) error {
	s.mu.Lock()
	started := s.gen[key]
	s.mu.Unlock()

	v, err, _ := s.group.Do(key, func() (any, error) {
		if key == KeyMine {
			return s.fetcher.Mine(ctx)
		}
		kind := models.GatheringType(strings.TrimPrefix(key, "browse:"))
		if !kind.Valid() {
			return nil, fmt.Errorf("unknown cache key %q", key)
		}
		return s.fetcher.Browse(ctx, kind)
	})
	if err != nil {
		return err
	}

	s.Apply(Event{Name: eventLoaded, Key: key, List: v.([]models.Gathering)})
	s.mu.Lock()
	s.stale[key] = s.gen[key] != started
	s.mu.Unlock()
	return nil
}

// RefreshAll fetches every key, as required after every (re)connect.
func (s *Store) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, key := range Keys() {
		if err := s.Refresh(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}

// Handle applies ev and refetches whatever it invalidated.
func (s *Store) Handle(ctx context.Context, ev Event) error {
	var errs []error
	for _, key := range s.Apply(ev) {
		if err := s.Refresh(ctx, key); err != nil {
			errs = append(errs, fmt.Errorf("refresh %s: %w", key, err))
		}
	}
	return errors.Join(errs...)
}
