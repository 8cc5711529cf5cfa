package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"gathering-service/internal/apperr"
	"gathering-service/internal/gathering"
	"gathering-service/internal/middleware"
	"gathering-service/internal/mocks"
	"gathering-service/internal/models"
	"gathering-service/internal/telemetry"
)

var caller = gathering.Actor{UserID: 1, Nickname: "me", University: "kaist"}

func setupGatheringRouter(handler *GatheringHandler) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(func(c *gin.Context) {
		middleware.SetClaims(c, middleware.Claims{UserID: 1, Nickname: "me", University: "kaist"})
		c.Next()
	})
	r.POST("/gatherings", handler.CreateGathering)
	r.GET("/gatherings", handler.ListGatherings)
	r.GET("/gatherings/:id", handler.GetGathering)
	r.POST("/gatherings/:id/join", handler.JoinGathering)
	r.POST("/gatherings/:id/leave", handler.LeaveGathering)
	r.POST("/gatherings/:id/kick", handler.KickParticipant)
	r.DELETE("/gatherings/:id", handler.DeleteGathering)
	r.POST("/gatherings/:id/acknowledge-kick", handler.AcknowledgeKick)
	r.POST("/gatherings/:id/acknowledge-delete", handler.AcknowledgeDelete)
	r.GET("/gatherings/:id/messages", handler.GetMessages)
	r.POST("/gatherings/:id/messages", handler.PostMessage)
	return r
}

func serve(r *gin.Engine, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestCreateGatheringSuccess(t *testing.T) {
	service := new(mocks.GatheringServiceMock)
	router := setupGatheringRouter(NewGatheringHandler(service, nil, nil))

	when := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	service.On("Create", mock.Anything, caller, mock.MatchedBy(func(in gathering.CreateInput) bool {
		return in.Type == models.TypeCarpool && in.Carpool != nil && in.Carpool.Arrival == "Station" && in.Meeting == nil && in.Datetime.Equal(when)
	})).Return(models.Gathering{ID: 5, Type: models.TypeCarpool, Title: "Ride"}, nil).Once()

	rec := serve(router, http.MethodPost, "/gatherings",
		`{"type":"carpool","title":"Ride","datetime":"2026-05-01T12:00:00Z","maxParticipants":3,"departure":"Gate","arrival":"Station"}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	var got models.Gathering
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, 5, got.ID)
	service.AssertExpectations(t)
}

func TestCreateGatheringInvalidBody(t *testing.T) {
	service := new(mocks.GatheringServiceMock)
	router := setupGatheringRouter(NewGatheringHandler(service, nil, nil))

	rec := serve(router, http.MethodPost, "/gatherings", `{"title":5}`)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	service.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
}

func TestDomainErrorsAreRenderedWithCode(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{apperr.ErrCapacityFull, http.StatusConflict, "CAPACITY_FULL"},
		{apperr.ErrKicked, http.StatusForbidden, "KICKED"},
		{apperr.ErrNotFound, http.StatusNotFound, "NOT_FOUND"},
		{apperr.ErrExpired, http.StatusGone, "EXPIRED"},
		{apperr.ErrDuplicateTypeMembership, http.StatusConflict, "DUPLICATE_TYPE_MEMBERSHIP"},
	}
	for _, tc := range cases {
		t.Run(tc.code, func(t *testing.T) {
			service := new(mocks.GatheringServiceMock)
			router := setupGatheringRouter(NewGatheringHandler(service, nil, nil))
			service.On("Join", mock.Anything, 9, caller).Return(nil, tc.err).Once()

			rec := serve(router, http.MethodPost, "/gatherings/9/join", "")

			require.Equal(t, tc.status, rec.Code)
			var body map[string]any
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tc.code, body["code"])
		})
	}
}

func TestInfrastructureErrorIsRetryable(t *testing.T) {
	service := new(mocks.GatheringServiceMock)
	router := setupGatheringRouter(NewGatheringHandler(service, nil, nil))
	service.On("Leave", mock.Anything, 9, caller).Return(nil, errors.New("pq: connection refused")).Once()

	rec := serve(router, http.MethodPost, "/gatherings/9/leave", "")

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.JSONEq(t, `{"error":"temporarily unavailable, please retry","code":"UNAVAILABLE","retryable":true}`, rec.Body.String())
}

func TestListGatherings(t *testing.T) {
	service := new(mocks.GatheringServiceMock)
	router := setupGatheringRouter(NewGatheringHandler(service, nil, nil))

	service.On("ListBrowse", mock.Anything, models.TypeMeeting, "kaist").Return([]models.Gathering{{ID: 1}}, nil).Once()
	service.On("ListMine", mock.Anything, 1).Return([]models.Gathering{{ID: 2}, {ID: 3}}, nil).Once()

	rec := serve(router, http.MethodGet, "/gatherings?type=meeting", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Gatherings []models.Gathering `json:"gatherings"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Gatherings, 1)

	rec = serve(router, http.MethodGet, "/gatherings?type=myMeetings", "")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.Gatherings, 2)

	rec = serve(router, http.MethodGet, "/gatherings", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	service.AssertExpectations(t)
}

func TestKickParticipant(t *testing.T) {
	service := new(mocks.GatheringServiceMock)
	router := setupGatheringRouter(NewGatheringHandler(service, nil, nil))
	service.On("Kick", mock.Anything, 9, caller, 4).Return(models.Gathering{ID: 9, KickedUserIDs: []int{4}}, nil).Once()

	rec := serve(router, http.MethodPost, "/gatherings/9/kick", `{"userId":4}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = serve(router, http.MethodPost, "/gatherings/9/kick", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	service.AssertExpectations(t)
}

func TestDeleteAndAcknowledge(t *testing.T) {
	service := new(mocks.GatheringServiceMock)
	router := setupGatheringRouter(NewGatheringHandler(service, nil, nil))
	service.On("Delete", mock.Anything, 9, caller).Return(models.DeleteModeHard, nil).Once()
	service.On("AcknowledgeKick", mock.Anything, 9, 1).Return(nil).Once()
	service.On("AcknowledgeDelete", mock.Anything, 9, 1).Return(apperr.ErrNoDeleteRecord).Once()

	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodDelete, "/gatherings/9", "").Code)
	assert.Equal(t, http.StatusNoContent, serve(router, http.MethodPost, "/gatherings/9/acknowledge-kick", "").Code)
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodPost, "/gatherings/9/acknowledge-delete", "").Code)
	service.AssertExpectations(t)
}

func TestGetMessagesResolvesSenders(t *testing.T) {
	service := new(mocks.GatheringServiceMock)
	names := new(mocks.DirectoryMock)
	router := setupGatheringRouter(NewGatheringHandler(service, names, nil))

	at := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	service.On("Read", mock.Anything, 9, 1).Return([]models.Message{
		models.SystemMessage(9, "**bob** joined", at),
		{ID: 2, GatheringID: 9, SenderID: 3, Text: "hi", CreatedAt: at},
	}, nil).Once()
	names.On("Nicknames", mock.Anything, []int{3}).Return(map[int]string{3: "bob"}, nil).Once()

	rec := serve(router, http.MethodGet, "/gatherings/9/messages", "")

	require.Equal(t, http.StatusOK, rec.Code)
	var body struct {
		Messages []map[string]any `json:"messages"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Messages, 2)
	assert.Nil(t, body.Messages[0]["senderId"])
	assert.Equal(t, true, body.Messages[0]["isSystemMessage"])
	assert.Equal(t, float64(3), body.Messages[1]["senderId"])
	assert.Equal(t, "bob", body.Messages[1]["senderNickname"])
	service.AssertExpectations(t)
	names.AssertExpectations(t)
}

func TestPostMessageUsesCaller(t *testing.T) {
	service := new(mocks.GatheringServiceMock)
	router := setupGatheringRouter(NewGatheringHandler(service, nil, nil))
	service.On("Append", mock.Anything, 9, 1, "hello").Return(models.Message{ID: 8, GatheringID: 9, SenderID: 1, Text: "hello"}, nil).Once()

	rec := serve(router, http.MethodPost, "/gatherings/9/messages", `{"text":"hello","senderId":42}`)

	require.Equal(t, http.StatusCreated, rec.Code)
	service.AssertExpectations(t)
}

func TestInvalidGatheringID(t *testing.T) {
	router := setupGatheringRouter(NewGatheringHandler(new(mocks.GatheringServiceMock), nil, nil))
	assert.Equal(t, http.StatusBadRequest, serve(router, http.MethodGet, "/gatherings/abc", "").Code)
}

func TestAuditEmittedOnJoin(t *testing.T) {
	service := new(mocks.GatheringServiceMock)
	publisher := new(mocks.PublisherMock)
	audit := telemetry.NewAuditEmitter(publisher, "audit.gathering", "gathering-service", "test")
	router := setupGatheringRouter(NewGatheringHandler(service, nil, audit))

	service.On("Join", mock.Anything, 9, caller).Return(models.Gathering{ID: 9}, nil).Once()
	publisher.On("Publish", mock.Anything, "audit.gathering", mock.MatchedBy(func(env telemetry.AuditEnvelope) bool {
		return env.Payload.Text == "Gathering joined" && env.Payload.Operation == "join" &&
			env.Payload.GatheringID == 9 && env.UserID != nil && *env.UserID == 1
	})).Return(nil).Once()

	rec := serve(router, http.MethodPost, "/gatherings/9/join", "")

	require.Equal(t, http.StatusOK, rec.Code)
	publisher.AssertExpectations(t)
	assert.Len(t, publisher.Published("audit.gathering"), 1)
}
