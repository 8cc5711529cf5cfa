package models

import (
	"errors"
	"fmt"
	"time"
)

// GatheringType selects which detail variant a gathering carries.
type GatheringType string

const (
	TypeMeeting GatheringType = "meeting"
	TypeCarpool GatheringType = "carpool"
)

// Valid reports whether t is a known gathering type.
func (t GatheringType) Valid() bool {
	switch t {
	case TypeMeeting, TypeCarpool:
		return true
	default:
		return false
	}
}

// Status is the persisted lifecycle state of a gathering.
type Status string

const (
	StatusActive         Status = "active"
	StatusExpired        Status = "expired"
	StatusDeletedByAdmin Status = "deleted_by_admin"
)

// Terminal reports whether no further transition is possible from s.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusDeletedByAdmin
}

// MeetingDetails holds the fields only meetings have.
type MeetingDetails struct {
	Location string `json:"location"`
}

// CarpoolDetails holds the fields only carpools have.
type CarpoolDetails struct {
	Departure string `json:"departure"`
	Arrival   string `json:"arrival"`
}

// Participant is the per-member bookkeeping of a gathering.
type Participant struct {
	JoinedAt time.Time `json:"joinedAt"`
}

// Gathering is an ad hoc, capacity-limited group with a deadline and a chat room.
// Exactly one of Meeting or Carpool is set, matching Type.
type Gathering struct {
	ID              int                 `json:"id"`
	Type            GatheringType       `json:"type"`
	CreatorID       int                 `json:"creatorId"`
	Title           string              `json:"title"`
	University      string              `json:"university"`
	Datetime        time.Time           `json:"datetime"`
	MaxParticipants int                 `json:"maxParticipants"`
	ParticipantIDs  []int               `json:"participantIds"`
	ParticipantInfo map[int]Participant `json:"participantInfo"`
	KickedUserIDs   []int               `json:"kickedUserIds"`
	Status          Status              `json:"status"`
	Meeting         *MeetingDetails     `json:"meeting,omitempty"`
	Carpool         *CarpoolDetails     `json:"carpool,omitempty"`
	Tags            []string            `json:"tags"`
	Purpose         string              `json:"purpose,omitempty"`
	Description     string              `json:"description,omitempty"`
	CreatedAt       time.Time           `json:"createdAt"`
}

var (
	ErrUnknownType     = errors.New("unknown gathering type")
	ErrMismatchedVenue = errors.New("details do not match gathering type")
)

// ValidateDetails checks that the detail variant matches Type.
func (g Gathering) ValidateDetails() error {
	switch g.Type {
	case TypeMeeting:
		if g.Meeting == nil || g.Carpool != nil {
			return ErrMismatchedVenue
		}
		if g.Meeting.Location == "" {
			return fmt.Errorf("meeting: location is required")
		}
	case TypeCarpool:
		if g.Carpool == nil || g.Meeting != nil {
			return ErrMismatchedVenue
		}
		if g.Carpool.Departure == "" || g.Carpool.Arrival == "" {
			return fmt.Errorf("carpool: departure and arrival are required")
		}
	default:
		return ErrUnknownType
	}
	return nil
}

// ParticipantCount returns the number of current participants.
func (g Gathering) ParticipantCount() int {
	return len(g.ParticipantIDs)
}

// IsParticipant reports whether userID is a current participant.
func (g Gathering) IsParticipant(userID int) bool {
	for _, id := range g.ParticipantIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// IsKicked reports whether userID was ever kicked from the gathering.
func (g Gathering) IsKicked(userID int) bool {
	for _, id := range g.KickedUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

// JoinedAt returns the start of userID's visibility window.
func (g Gathering) JoinedAt(userID int) (time.Time, bool) {
	p, ok := g.ParticipantInfo[userID]
	return p.JoinedAt, ok
}

// AddParticipant records userID as joined at the given time.
func (g *Gathering) AddParticipant(userID int, at time.Time) {
	if g.ParticipantInfo == nil {
		g.ParticipantInfo = make(map[int]Participant)
	}
	if !g.IsParticipant(userID) {
		g.ParticipantIDs = append(g.ParticipantIDs, userID)
	}
	g.ParticipantInfo[userID] = Participant{JoinedAt: at}
}

// RemoveParticipant drops userID and reports whether it was present.
func (g *Gathering) RemoveParticipant(userID int) bool {
	for i, id := range g.ParticipantIDs {
		if id == userID {
			g.ParticipantIDs = append(g.ParticipantIDs[:i:i], g.ParticipantIDs[i+1:]...)
			delete(g.ParticipantInfo, userID)
			return true
		}
	}
	return false
}

// MarkKicked adds userID to the kicked set. The set only grows.
func (g *Gathering) MarkKicked(userID int) {
	if !g.IsKicked(userID) {
		g.KickedUserIDs = append(g.KickedUserIDs, userID)
	}
}

// AckKind distinguishes acknowledgements a user can record.
type AckKind string

const (
	AckKick   AckKind = "kick"
	AckDelete AckKind = "delete"
)

// Clone returns a copy that shares no mutable state with g.
func (g Gathering) Clone() Gathering {
	c := g
	c.ParticipantIDs = append(make([]int, 0, len(g.ParticipantIDs)), g.ParticipantIDs...)
	c.KickedUserIDs = append(make([]int, 0, len(g.KickedUserIDs)), g.KickedUserIDs...)
	c.Tags = append(make([]string, 0, len(g.Tags)), g.Tags...)
	c.ParticipantInfo = make(map[int]Participant, len(g.ParticipantInfo))
	for id, p := range g.ParticipantInfo {
		c.ParticipantInfo[id] = p
	}
	if g.Meeting != nil {
		m := *g.Meeting
		c.Meeting = &m
	}
	if g.Carpool != nil {
		cp := *g.Carpool
		c.Carpool = &cp
	}
	return c
}
