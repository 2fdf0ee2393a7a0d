package models

import (
	"time"

	"github.com/livekit/protocol/livekit"

	"github.com/resonance-im/resonance/pkg/internal/callstate"
)

type CallType = uint8

const (
	CallTypeVoice = CallType(iota)
	CallTypeVideo
)

type Call struct {
	BaseModel

	// ExternalID is the opaque session identifier handed to clients; the
	// relay channel name is derived from it and stays stable for the
	// session's whole lifetime.
	ExternalID  string           `json:"external_id" gorm:"uniqueIndex"`
	ChannelName string           `json:"channel_name"`
	Type        CallType         `json:"type"`
	Status      callstate.Status `json:"status"`

	StartedAt *time.Time `json:"started_at"`
	EndedAt   *time.Time `json:"ended_at"`

	FounderID uint          `json:"founder_id"`
	ChannelID uint          `json:"channel_id"`
	Founder   ChannelMember `json:"founder"`
	Channel   Channel       `json:"channel"`

	Participants []*livekit.ParticipantInfo `json:"participants" gorm:"-"`
}

func (v Call) StateRecord() callstate.Record {
	return callstate.Record{
		Status:    v.Status,
		StartedAt: v.StartedAt,
		EndedAt:   v.EndedAt,
	}
}

// Duration reports the connected time in whole seconds.
func (v Call) Duration() int64 {
	return int64(callstate.Duration(v.StateRecord()).Seconds())
}
