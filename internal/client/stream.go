package client

import (
	"context"
	"log"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	"gathering-service/internal/clientstate"
	"gathering-service/internal/models"
)

// Stream keeps a socket open and applies pushed events to a store. After every
// (re)connect it refetches all views before trusting further pushes, since the
// server does not replay missed events.
type Stream struct {
	wsURL  string
	token  string
	userID int
	store  *clientstate.Store
	dialer *websocket.Dialer

	// Connected is called with the live connection to send commands; it may be nil.
	Connected func(conn *websocket.Conn)
}

func NewStream(wsURL, token string, userID int, store *clientstate.Store) *Stream {
	return &Stream{wsURL: wsURL, token: token, userID: userID, store: store, dialer: websocket.DefaultDialer}
}

func (s *Stream) endpoint() (string, error) {
	u, err := url.Parse(s.wsURL)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("token", s.token)
	q.Set("userId", strconv.Itoa(s.userID))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Run connects and consumes events until ctx ends, reconnecting with backoff.
func (s *Stream) Run(ctx context.Context) error {
	endpoint, err := s.endpoint()
	if err != nil {
		return err
	}
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 0
	retry := backoff.WithContext(b, ctx)

	for {
		err := s.session(ctx, endpoint, retry.Reset)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		wait := retry.NextBackOff()
		log.Printf("gathering stream disconnected: user_id=%d retry_in=%s err=%v", s.userID, wait, err)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

func (s *Stream) session(ctx context.Context, endpoint string, connected func()) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conn, _, err := s.dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return err
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	if err := s.store.RefreshAll(ctx); err != nil {
		log.Printf("gathering stream refetch failed: user_id=%d err=%v", s.userID, err)
	}
	connected()
	if s.Connected != nil {
		s.Connected(conn)
	}

	for {
		var frame models.Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return err
		}
		if frame.Event == models.EventError {
			log.Printf("gathering command rejected: user_id=%d data=%s", s.userID, frame.Data)
			continue
		}
		ev, err := clientstate.EventFromFrame(frame)
		if err != nil {
			log.Printf("gathering stream decode failed: user_id=%d err=%v", s.userID, err)
			continue
		}
		if err := s.store.Handle(ctx, ev); err != nil {
			log.Printf("gathering stream refetch failed: user_id=%d err=%v", s.userID, err)
		}
	}
}
