package models

import "encoding/json"

// Socket event names, server to client.
const (
	EventNewMessage       = "newMessage"
	EventUpdateGathering  = "updateGathering"
	EventKicked           = "kicked"
	EventLeftMeeting      = "leftMeeting"
	EventGatheringDeleted = "gatheringDeleted"
	EventError            = "error"
)

// Socket command names, client to server.
const (
	CommandJoinRoom    = "joinRoom"
	CommandLeaveRoom   = "leaveRoom"
	CommandSendMessage = "sendMessage"
	CommandKickUser    = "kickUser"
)

// Frame is the envelope of every websocket message in both directions.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// NewFrame marshals payload into a frame.
func NewFrame(event string, payload any) (Frame, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Frame{}, err
	}
	return Frame{Event: event, Data: data}, nil
}

// KickedNotice is delivered to a kicked user's own channel.
type KickedNotice struct {
	GatheringID int    `json:"gatheringId"`
	Title       string `json:"title"`
}

// LeftNotice is delivered to the leaving user's other sessions.
type LeftNotice struct {
	GatheringID int `json:"gatheringId"`
}

// Delete modes carried by DeletedNotice.
const (
	DeleteModeHard  = "hard"
	DeleteModeAdmin = "deleted_by_admin"
)

// DeletedNotice tells room subscribers the gathering is gone.
type DeletedNotice struct {
	GatheringID int    `json:"gatheringId"`
	Title       string `json:"title"`
	Mode        string `json:"mode"`
}

// ErrorNotice answers a failed socket command.
type ErrorNotice struct {
	Command string `json:"command"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SendMessageCommand is the payload of sendMessage. SenderID is informational only.
type SendMessageCommand struct {
	GatheringID int    `json:"gatheringId"`
	Text        string `json:"text"`
	SenderID    int    `json:"senderId"`
}

// KickUserCommand is the payload of kickUser. CreatorID is never trusted.
type KickUserCommand struct {
	GatheringID  int `json:"gatheringId"`
	TargetUserID int `json:"targetUserId"`
	CreatorID    int `json:"creatorId"`
}
