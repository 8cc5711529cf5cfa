package handlers

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"gathering-service/internal/apperr"
	"gathering-service/internal/directory"
	"gathering-service/internal/gathering"
	"gathering-service/internal/middleware"
	"gathering-service/internal/models"
	"gathering-service/internal/telemetry"
)

// GatheringService is the coordinator surface the HTTP layer needs.
type GatheringService interface {
	Create(ctx context.Context, actor gathering.Actor, in gathering.CreateInput) (models.Gathering, error)
	Get(ctx context.Context, gatheringID int) (models.Gathering, error)
	ListBrowse(ctx context.Context, kind models.GatheringType, university string) ([]models.Gathering, error)
	ListMine(ctx context.Context, userID int) ([]models.Gathering, error)
	Join(ctx context.Context, gatheringID int, actor gathering.Actor) (models.Gathering, error)
	Leave(ctx context.Context, gatheringID int, actor gathering.Actor) (models.Gathering, error)
	Kick(ctx context.Context, gatheringID int, requester gathering.Actor, targetID int) (models.Gathering, error)
	Delete(ctx context.Context, gatheringID int, actor gathering.Actor) (string, error)
	AcknowledgeKick(ctx context.Context, gatheringID, userID int) error
	AcknowledgeDelete(ctx context.Context, gatheringID, userID int) error
	Read(ctx context.Context, gatheringID, requesterID int) ([]models.Message, error)
	Append(ctx context.Context, gatheringID, senderID int, text string) (models.Message, error)
}

// GatheringHandler manages gathering endpoints.
type GatheringHandler struct {
	service GatheringService
	names   directory.Directory
	audit   *telemetry.AuditEmitter
}

// NewGatheringHandler constructs a GatheringHandler. names and audit may be nil.
func NewGatheringHandler(service GatheringService, names directory.Directory, audit *telemetry.AuditEmitter) *GatheringHandler {
	return &GatheringHandler{service: service, names: names, audit: audit}
}

type createGatheringRequest struct {
	Type            string    `json:"type" binding:"required"`
	Title           string    `json:"title" binding:"required"`
	Datetime        time.Time `json:"datetime" binding:"required"`
	MaxParticipants int       `json:"maxParticipants" binding:"required"`
	Location        string    `json:"location"`
	Departure       string    `json:"departure"`
	Arrival         string    `json:"arrival"`
	Tags            []string  `json:"tags"`
	Purpose         string    `json:"purpose"`
	Description     string    `json:"description"`
}

func (r createGatheringRequest) input() gathering.CreateInput {
	in := gathering.CreateInput{
		Type:            models.GatheringType(r.Type),
		Title:           r.Title,
		Datetime:        r.Datetime,
		MaxParticipants: r.MaxParticipants,
		Tags:            r.Tags,
		Purpose:         r.Purpose,
		Description:     r.Description,
	}
	if r.Location != "" || in.Type == models.TypeMeeting {
		in.Meeting = &models.MeetingDetails{Location: r.Location}
	}
	if r.Departure != "" || r.Arrival != "" || in.Type == models.TypeCarpool {
		in.Carpool = &models.CarpoolDetails{Departure: r.Departure, Arrival: r.Arrival}
	}
	return in
}

// CreateGathering handles POST /gatherings.
func (h *GatheringHandler) CreateGathering(c *gin.Context) {
	var req createGatheringRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.emitAudit(c, telemetry.AuditRecord{Level: telemetry.LevelError, Operation: "create", Text: "invalid request payload"})
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperr.CodeInvalidInput})
		return
	}

	g, err := h.service.Create(c.Request.Context(), actorFromContext(c), req.input())
	if err != nil {
		h.fail(c, "create gathering", err)
		return
	}

	h.emitAudit(c, telemetry.AuditRecord{Operation: "create", GatheringID: g.ID, Text: "Gathering created"})
	c.JSON(http.StatusCreated, g)
}

// ListGatherings handles GET /gatherings?type=meeting|carpool|myMeetings.
func (h *GatheringHandler) ListGatherings(c *gin.Context) {
	var (
		list []models.Gathering
		err  error
	)
	switch kind := c.Query("type"); kind {
	case "myMeetings":
		list, err = h.service.ListMine(c.Request.Context(), c.GetInt(middleware.UserIDKey))
	case "":
		c.JSON(http.StatusBadRequest, gin.H{"error": "type is required", "code": apperr.CodeInvalidInput})
		return
	default:
		list, err = h.service.ListBrowse(c.Request.Context(), models.GatheringType(kind), c.GetString(middleware.UniversityKey))
	}
	if err != nil {
		h.fail(c, "list gatherings", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"gatherings": list})
}

// GetGathering handles GET /gatherings/:id.
func (h *GatheringHandler) GetGathering(c *gin.Context) {
	id, ok := parseGatheringID(c)
	if !ok {
		return
	}
	g, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		h.fail(c, "get gathering", err)
		return
	}
	c.JSON(http.StatusOK, g)
}

// JoinGathering handles POST /gatherings/:id/join.
func (h *GatheringHandler) JoinGathering(c *gin.Context) {
	id, ok := parseGatheringID(c)
	if !ok {
		return
	}
	g, err := h.service.Join(c.Request.Context(), id, actorFromContext(c))
	if err != nil {
		h.fail(c, "join gathering", err)
		return
	}
	h.emitAudit(c, telemetry.AuditRecord{Operation: "join", Text: "Gathering joined"})
	c.JSON(http.StatusOK, g)
}

// LeaveGathering handles POST /gatherings/:id/leave.
func (h *GatheringHandler) LeaveGathering(c *gin.Context) {
	id, ok := parseGatheringID(c)
	if !ok {
		return
	}
	g, err := h.service.Leave(c.Request.Context(), id, actorFromContext(c))
	if err != nil {
		h.fail(c, "leave gathering", err)
		return
	}
	h.emitAudit(c, telemetry.AuditRecord{Operation: "leave", Text: "Gathering left"})
	c.JSON(http.StatusOK, g)
}

// KickParticipant handles POST /gatherings/:id/kick.
func (h *GatheringHandler) KickParticipant(c *gin.Context) {
	id, ok := parseGatheringID(c)
	if !ok {
		return
	}
	var req struct {
		UserID int `json:"userId" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperr.CodeInvalidInput})
		return
	}
	g, err := h.service.Kick(c.Request.Context(), id, actorFromContext(c), req.UserID)
	if err != nil {
		h.fail(c, "kick participant", err)
		return
	}
	h.emitAudit(c, telemetry.AuditRecord{Operation: "kick", Text: fmt.Sprintf("Participant %d kicked", req.UserID)})
	c.JSON(http.StatusOK, g)
}

// DeleteGathering handles DELETE /gatherings/:id.
func (h *GatheringHandler) DeleteGathering(c *gin.Context) {
	id, ok := parseGatheringID(c)
	if !ok {
		return
	}
	mode, err := h.service.Delete(c.Request.Context(), id, actorFromContext(c))
	if err != nil {
		h.fail(c, "delete gathering", err)
		return
	}
	h.emitAudit(c, telemetry.AuditRecord{Operation: "delete", Text: "Gathering deleted: " + mode})
	c.Status(http.StatusNoContent)
}

// AcknowledgeKick handles POST /gatherings/:id/acknowledge-kick.
func (h *GatheringHandler) AcknowledgeKick(c *gin.Context) {
	id, ok := parseGatheringID(c)
	if !ok {
		return
	}
	if err := h.service.AcknowledgeKick(c.Request.Context(), id, c.GetInt(middleware.UserIDKey)); err != nil {
		h.fail(c, "acknowledge kick", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// AcknowledgeDelete handles POST /gatherings/:id/acknowledge-delete.
func (h *GatheringHandler) AcknowledgeDelete(c *gin.Context) {
	id, ok := parseGatheringID(c)
	if !ok {
		return
	}
	if err := h.service.AcknowledgeDelete(c.Request.Context(), id, c.GetInt(middleware.UserIDKey)); err != nil {
		h.fail(c, "acknowledge delete", err)
		return
	}
	c.Status(http.StatusNoContent)
}

type messageResponse struct {
	ID              int       `json:"id"`
	GatheringID     int       `json:"gatheringId"`
	SenderID        *int      `json:"senderId"`
	SenderNickname  string    `json:"senderNickname,omitempty"`
	Text            string    `json:"text"`
	IsSystemMessage bool      `json:"isSystemMessage"`
	CreatedAt       time.Time `json:"createdAt"`
}

// GetMessages handles GET /gatherings/:id/messages.
func (h *GatheringHandler) GetMessages(c *gin.Context) {
	id, ok := parseGatheringID(c)
	if !ok {
		return
	}
	msgs, err := h.service.Read(c.Request.Context(), id, c.GetInt(middleware.UserIDKey))
	if err != nil {
		h.fail(c, "read messages", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": h.withNicknames(c.Request.Context(), msgs)})
}

// PostMessage handles POST /gatherings/:id/messages.
func (h *GatheringHandler) PostMessage(c *gin.Context) {
	id, ok := parseGatheringID(c)
	if !ok {
		return
	}
	var req struct {
		Text string `json:"text" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error(), "code": apperr.CodeInvalidInput})
		return
	}
	msg, err := h.service.Append(c.Request.Context(), id, c.GetInt(middleware.UserIDKey), req.Text)
	if err != nil {
		h.fail(c, "post message", err)
		return
	}
	c.JSON(http.StatusCreated, h.withNicknames(c.Request.Context(), []models.Message{msg})[0])
}

// withNicknames resolves sender names; a lookup failure only loses the names.
func (h *GatheringHandler) withNicknames(ctx context.Context, msgs []models.Message) []messageResponse {
	senderIDs := make([]int, 0, len(msgs))
	seen := map[int]struct{}{}
	for _, m := range msgs {
		if m.IsSystemMessage {
			continue
		}
		if _, ok := seen[m.SenderID]; !ok {
			seen[m.SenderID] = struct{}{}
			senderIDs = append(senderIDs, m.SenderID)
		}
	}

	nicknameByID := map[int]string{}
	if len(senderIDs) > 0 && h.names != nil {
		found, err := h.names.Nicknames(ctx, senderIDs)
		if err != nil {
			log.Printf("sender lookup failed: err=%v", err)
		}
		for id, nick := range found {
			nicknameByID[id] = nick
		}
	}

	resp := make([]messageResponse, 0, len(msgs))
	for _, m := range msgs {
		r := messageResponse{
			ID:              m.ID,
			GatheringID:     m.GatheringID,
			Text:            m.Text,
			IsSystemMessage: m.IsSystemMessage,
			CreatedAt:       m.CreatedAt,
		}
		if !m.IsSystemMessage {
			sender := m.SenderID
			r.SenderID = &sender
			r.SenderNickname = nicknameByID[sender]
		}
		resp = append(resp, r)
	}
	return resp
}

// fail renders err. Domain errors are shown as is; anything else is logged and
// reported as a retryable outage.
func (h *GatheringHandler) fail(c *gin.Context, op string, err error) {
	if e, ok := apperr.As(err); ok {
		h.emitAudit(c, telemetry.AuditRecord{Level: telemetry.LevelError, Operation: op, Text: string(e.Code)})
		c.JSON(e.Kind().HTTPStatus(), gin.H{"error": e.Message, "code": e.Code})
		return
	}
	log.Printf("%s failed: request_id=%s err=%v", op, requestIDFromContext(c), err)
	h.emitAudit(c, telemetry.AuditRecord{Level: telemetry.LevelError, Operation: op, Text: "internal error"})
	c.JSON(http.StatusServiceUnavailable, gin.H{
		"error":     "temporarily unavailable, please retry",
		"code":      "UNAVAILABLE",
		"retryable": true,
	})
}

// emitAudit fills the caller and the gathering from the request.
func (h *GatheringHandler) emitAudit(c *gin.Context, rec telemetry.AuditRecord) {
	if h.audit == nil {
		return
	}
	rec.RequestID = requestIDFromContext(c)
	rec.UserID = c.GetInt(middleware.UserIDKey)
	if rec.GatheringID == 0 {
		rec.GatheringID, _ = strconv.Atoi(c.Param("id"))
	}
	h.audit.Emit(c.Request.Context(), rec)
}

func parseGatheringID(c *gin.Context) (int, bool) {
	id, err := strconv.Atoi(strings.TrimSpace(c.Param("id")))
	if err != nil || id <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid gathering id", "code": apperr.CodeInvalidInput})
		return 0, false
	}
	return id, true
}
