package models

import (
	"encoding/json"
	"time"
)

// SystemSenderID is the sender id stored for messages not authored by a participant.
const SystemSenderID = 0

// Message is an append-only chat entry of a gathering.
type Message struct {
	ID              int       `db:"id" json:"id"`
	GatheringID     int       `db:"gathering_id" json:"gatheringId"`
	SenderID        int       `db:"sender_id" json:"senderId"`
	Text            string    `db:"text" json:"text"`
	IsSystemMessage bool      `db:"is_system_message" json:"isSystemMessage"`
	CreatedAt       time.Time `db:"created_at" json:"createdAt"`
}

// SystemMessage builds a message recording a moderation or membership action.
func SystemMessage(gatheringID int, text string, at time.Time) Message {
	return Message{
		GatheringID:     gatheringID,
		SenderID:        SystemSenderID,
		Text:            text,
		IsSystemMessage: true,
		CreatedAt:       at,
	}
}

// MarshalJSON renders the system sender as null.
func (m Message) MarshalJSON() ([]byte, error) {
	type plain Message
	out := struct {
		plain
		SenderID *int `json:"senderId"`
	}{plain: plain(m)}
	if !m.IsSystemMessage {
		id := m.SenderID
		out.SenderID = &id
	}
	return json.Marshal(out)
}
