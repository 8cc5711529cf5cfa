package clientstate

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gathering-service/internal/clock"
	"gathering-service/internal/models"
)

var now = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeFetcher struct {
	mu      sync.Mutex
	browse  map[models.GatheringType][]models.Gathering
	mine    []models.Gathering
	calls   map[string]int
	entered chan struct{}
	release chan struct{}
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{browse: map[models.GatheringType][]models.Gathering{}, calls: map[string]int{}}
}

func (f *fakeFetcher) wait() {
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.release != nil {
		<-f.release
	}
}

func (f *fakeFetcher) Browse(_ context.Context, kind models.GatheringType) ([]models.Gathering, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[BrowseKey(kind)]++
	return f.browse[kind], nil
}

func (f *fakeFetcher) Mine(context.Context) ([]models.Gathering, error) {
	f.wait()
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls[KeyMine]++
	return f.mine, nil
}

func (f *fakeFetcher) count(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[key]
}

func meeting(id int, participants ...int) models.Gathering {
	g := models.Gathering{
		ID:              id,
		Type:            models.TypeMeeting,
		Title:           "Study group",
		Datetime:        now.Add(time.Duration(id) * time.Hour),
		MaxParticipants: 4,
		Status:          models.StatusActive,
		Meeting:         &models.MeetingDetails{Location: "Library"},
	}
	for _, p := range participants {
		g.AddParticipant(p, now)
	}
	return g
}

func ids(list []models.Gathering) []int {
	out := make([]int, 0, len(list))
	for _, g := range list {
		out = append(out, g.ID)
	}
	return out
}

func TestUpdatePatchesBothViewsFromOneEntity(t *testing.T) {
	s := New(7, newFakeFetcher(), clock.NewManual(now))

	g := meeting(2, 1, 7)
	s.Apply(Event{Name: models.EventUpdateGathering, Gathering: &g})
	s.Apply(Event{Name: models.EventUpdateGathering, Gathering: ptr(meeting(1, 1))})

	assert.Equal(t, []int{1, 2}, ids(s.View(BrowseKey(models.TypeMeeting))))
	assert.Equal(t, []int{2}, ids(s.View(KeyMine)))
	assert.Empty(t, s.View(BrowseKey(models.TypeCarpool)))

	g.Title = "Renamed"
	s.Apply(Event{Name: models.EventUpdateGathering, Gathering: &g})
	assert.Equal(t, "Renamed", s.View(KeyMine)[0].Title)
	assert.Equal(t, "Renamed", s.View(BrowseKey(models.TypeMeeting))[1].Title)
}

func TestUpdatePrunesWhenPredicateStopsHolding(t *testing.T) {
	s := New(7, newFakeFetcher(), clock.NewManual(now))
	g := meeting(2, 1, 7)
	s.Apply(Event{Name: models.EventUpdateGathering, Gathering: &g})

	g.RemoveParticipant(7)
	s.Apply(Event{Name: models.EventUpdateGathering, Gathering: &g})
	assert.Empty(t, s.View(KeyMine))
	assert.Equal(t, []int{2}, ids(s.View(BrowseKey(models.TypeMeeting))))

	g.Status = models.StatusDeletedByAdmin
	s.Apply(Event{Name: models.EventUpdateGathering, Gathering: &g})
	assert.Empty(t, s.View(BrowseKey(models.TypeMeeting)))
	_, cached := s.Gathering(2)
	assert.False(t, cached)
}

func TestViewsDropGatheringsPastDeadline(t *testing.T) {
	clk := clock.NewManual(now)
	s := New(7, newFakeFetcher(), clk)
	s.Apply(Event{Name: models.EventUpdateGathering, Gathering: ptr(meeting(1, 7))})
	require.Len(t, s.View(KeyMine), 1)

	clk.Advance(2 * time.Hour)
	assert.Empty(t, s.View(KeyMine))
	assert.Empty(t, s.View(BrowseKey(models.TypeMeeting)))
}

func TestKickedInvalidatesAndRefetches(t *testing.T) {
	fetcher := newFakeFetcher()
	s := New(7, fetcher, clock.NewManual(now))
	require.NoError(t, s.RefreshAll(context.Background()))
	s.Apply(Event{Name: models.EventUpdateGathering, Gathering: ptr(meeting(3, 1, 7))})

	kicked := meeting(3, 1)
	kicked.MarkKicked(7)
	fetcher.mine = []models.Gathering{kicked}
	fetcher.browse[models.TypeMeeting] = []models.Gathering{kicked}

	ev, err := EventFromFrame(mustFrame(t, models.EventKicked, models.KickedNotice{GatheringID: 3, Title: "Study group"}))
	require.NoError(t, err)
	require.NoError(t, s.Handle(context.Background(), ev))

	assert.Equal(t, 2, fetcher.count(KeyMine))
	assert.Equal(t, 2, fetcher.count(BrowseKey(models.TypeMeeting)))
	assert.Equal(t, 1, fetcher.count(BrowseKey(models.TypeCarpool)))
	assert.False(t, s.Stale(KeyMine))

	mine := s.View(KeyMine)
	require.Len(t, mine, 1)
	assert.True(t, mine[0].IsKicked(7))
}

func TestLeftMeetingAndDeleteAreInvalidations(t *testing.T) {
	s := New(7, newFakeFetcher(), clock.NewManual(now))
	for _, event := range []string{models.EventLeftMeeting, models.EventGatheringDeleted} {
		keys := s.Apply(Event{Name: event, GatheringID: 99})
		assert.ElementsMatch(t, Keys(), keys, event)
	}
	assert.Nil(t, s.Apply(Event{Name: models.EventNewMessage}))
}

func TestInvalidationDuringFetchKeepsViewStale(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.entered = make(chan struct{})
	fetcher.release = make(chan struct{})
	s := New(7, fetcher, clock.NewManual(now))

	done := make(chan error, 1)
	go func() { done <- s.Refresh(context.Background(), KeyMine) }()
	<-fetcher.entered
	s.Apply(Event{Name: models.EventLeftMeeting, GatheringID: 4})
	close(fetcher.release)

	require.NoError(t, <-done)
	assert.True(t, s.Stale(KeyMine))
}

func TestConcurrentRefreshesShareOneFetch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.entered = make(chan struct{}, 8)
	fetcher.release = make(chan struct{})
	s := New(7, fetcher, clock.NewManual(now))

	var wg sync.WaitGroup
	var failures atomic.Int32
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := s.Refresh(context.Background(), KeyMine); err != nil {
				failures.Add(1)
			}
		}()
	}
	<-fetcher.entered
	time.Sleep(50 * time.Millisecond)
	close(fetcher.release)
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, 1, fetcher.count(KeyMine))
}

func TestEventFromFrameRejectsMalformedPayload(t *testing.T) {
	_, err := EventFromFrame(models.Frame{Event: models.EventUpdateGathering, Data: []byte(`"oops"`)})
	assert.Error(t, err)

	ev, err := EventFromFrame(mustFrame(t, models.EventUpdateGathering, meeting(5, 1)))
	require.NoError(t, err)
	assert.Equal(t, 5, ev.GatheringID)
	require.NotNil(t, ev.Gathering)
	assert.Equal(t, "Library", ev.Gathering.Meeting.Location)
}

func ptr(g models.Gathering) *models.Gathering { return &g }

func mustFrame(t *testing.T, event string, payload any) models.Frame {
	t.Helper()
	f, err := models.NewFrame(event, payload)
	require.NoError(t, err)
	return f
}
