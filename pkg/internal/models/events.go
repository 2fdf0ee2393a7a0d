package models

import (
	"gorm.io/datatypes"
)

const (
	EventCallStart    = "calls.start"
	EventCallAccepted = "calls.accepted"
	EventCallEnded    = "calls.ended"
	EventCallRejected = "calls.rejected"
	EventCallMissed   = "calls.missed"
)

type Event struct {
	BaseModel

	Uuid    string            `json:"uuid"`
	Body    datatypes.JSONMap `json:"body"`
	Type    string            `json:"type" gorm:"index:idx_events_call_type,unique"`
	Channel Channel           `json:"channel"`
	Sender  ChannelMember     `json:"sender"`

	// CallID ties call transcript entries to their session. The unique
	// (call_id, type) index makes the database the arbiter: racing writers
	// can both attempt an insert, only one row ever lands.
	CallID *uint `json:"call_id,omitempty" gorm:"index:idx_events_call_type,unique"`

	ChannelID uint `json:"channel_id"`
	SenderID  uint `json:"sender_id"`
}

// Event payloads

type EventCallBody struct {
	CallID   string   `json:"call_id"`
	CallType CallType `json:"call_type"`
	Status   string   `json:"status,omitempty"`
	Duration *int64   `json:"duration,omitempty"`
}
