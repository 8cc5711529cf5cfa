package ws

import (
	"context"
	"encoding/json"
	"log"
	"time"

	"github.com/gorilla/websocket"

	"gathering-service/internal/apperr"
	"gathering-service/internal/gathering"
	"gathering-service/internal/models"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 8192
)

// Commands is the part of the coordinator reachable from a socket.
type Commands interface {
	Participant(ctx context.Context, gatheringID, userID int) (bool, error)
	Append(ctx context.Context, gatheringID, senderID int, text string) (models.Message, error)
	Kick(ctx context.Context, gatheringID int, requester gathering.Actor, targetID int) (models.Gathering, error)
}

// Client is one authenticated websocket connection. rooms and closed are
// guarded by the hub lock.
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	info   ConnInfo
	actor  gathering.Actor
	rooms  map[int]struct{}
	closed bool
}

// NewClient builds a client for conn; conn may be nil in tests.
func NewClient(hub *Hub, conn *websocket.Conn, info ConnInfo, actor gathering.Actor) *Client {
	return &Client{
		hub:   hub,
		conn:  conn,
		send:  make(chan []byte, sendQueueSize),
		info:  info,
		actor: actor,
		rooms: make(map[int]struct{}),
	}
}

// readPump decodes client frames until the connection fails.
func (c *Client) readPump(ctx context.Context, commands Commands) string {
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error { return c.conn.SetReadDeadline(time.Now().Add(pongWait)) })
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(ctx, c.info, "ws_error", err.Error())
			}
			return err.Error()
		}
		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			c.fail("", apperr.Validation("malformed frame"))
			continue
		}
		c.handle(ctx, commands, frame)
	}
}

// writePump is the only writer of conn.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

type roomCommand struct {
	GatheringID int `json:"gatheringId"`
}

func (c *Client) handle(ctx context.Context, commands Commands, frame models.Frame) {
	switch frame.Event {
	case models.CommandJoinRoom:
		var cmd roomCommand
		if err := json.Unmarshal(frame.Data, &cmd); err != nil || cmd.GatheringID <= 0 {
			c.fail(frame.Event, apperr.Validation("gatheringId is required"))
			return
		}
		ok, err := commands.Participant(ctx, cmd.GatheringID, c.actor.UserID)
		if err != nil {
			c.fail(frame.Event, err)
			return
		}
		if !ok {
			c.fail(frame.Event, apperr.ErrNotParticipant)
			return
		}
		c.hub.JoinRoom(c, cmd.GatheringID)

	case models.CommandLeaveRoom:
		var cmd roomCommand
		if err := json.Unmarshal(frame.Data, &cmd); err != nil {
			c.fail(frame.Event, apperr.Validation("gatheringId is required"))
			return
		}
		c.hub.LeaveRoom(c, cmd.GatheringID)

	case models.CommandSendMessage:
		var cmd models.SendMessageCommand
		if err := json.Unmarshal(frame.Data, &cmd); err != nil {
			c.fail(frame.Event, apperr.Validation("malformed sendMessage payload"))
			return
		}
		if _, err := commands.Append(ctx, cmd.GatheringID, c.actor.UserID, cmd.Text); err != nil {
			c.fail(frame.Event, err)
		}

	case models.CommandKickUser:
		var cmd models.KickUserCommand
		if err := json.Unmarshal(frame.Data, &cmd); err != nil {
			c.fail(frame.Event, apperr.Validation("malformed kickUser payload"))
			return
		}
		if _, err := commands.Kick(ctx, cmd.GatheringID, c.actor, cmd.TargetUserID); err != nil {
			c.fail(frame.Event, err)
		}

	default:
		c.fail(frame.Event, apperr.Validation("unknown command"))
	}
}

// fail answers the failed command on this connection only.
func (c *Client) fail(command string, err error) {
	notice := models.ErrorNotice{Command: command, Code: "UNAVAILABLE", Message: "temporarily unavailable, please retry"}
	if e, ok := apperr.As(err); ok {
		notice.Code = string(e.Code)
		notice.Message = e.Message
	} else {
		log.Printf("websocket command failed: command=%s conn_id=%s user_id=%d err=%v", command, c.info.ConnID, c.info.UserID, err)
	}
	c.hub.reply(c, models.EventError, notice)
}
