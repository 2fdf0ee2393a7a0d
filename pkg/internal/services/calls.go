package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/livekit/protocol/livekit"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/resonance-im/resonance/pkg/internal/callstate"
	"github.com/resonance-im/resonance/pkg/internal/database"
	"github.com/resonance-im/resonance/pkg/internal/models"
)

func ListCall(channel models.Channel, take, offset int) ([]models.Call, error) {
	var calls []models.Call
	if err := database.C.
		Where(models.Call{ChannelID: channel.ID}).
		Limit(take).
		Offset(offset).
		Preload("Founder").
		Preload("Channel").
		Order("created_at DESC").
		Find(&calls).Error; err != nil {
		return calls, err
	}
	return calls, nil
}

func GetCall(channel models.Channel, id uint) (models.Call, error) {
	var call models.Call
	if err := database.C.
		Where(models.Call{
			BaseModel: models.BaseModel{ID: id},
			ChannelID: channel.ID,
		}).
		Preload("Founder").
		Preload("Channel").
		First(&call).Error; err != nil {
		return call, err
	}
	return call, nil
}

func GetCallWithExternalID(externalId string) (models.Call, error) {
	var call models.Call
	if err := database.C.
		Where(models.Call{ExternalID: externalId}).
		Preload("Founder").
		Preload("Channel").
		First(&call).Error; err != nil {
		return call, err
	}
	return call, nil
}

// GetOngoingCall returns the session still in a non-terminal state. The
// single-live-session invariant means there is at most one.
func GetOngoingCall(channel models.Channel) (models.Call, error) {
	var call models.Call
	if err := database.C.
		Where(models.Call{ChannelID: channel.ID}).
		Where("status IN ?", []string{
			string(callstate.StatusRinging),
			string(callstate.StatusAccepted),
		}).
		Preload("Founder").
		Preload("Channel").
		Order("created_at DESC").
		First(&call).Error; err != nil {
		return call, err
	}
	return call, nil
}

// ListRecentCalls is the discovery feed for participants without an active
// session: recent sessions across every channel the account belongs to,
// newest first, so a client can spot an incoming ringing call.
func ListRecentCalls(user models.Account, take int) ([]models.Call, error) {
	if take <= 0 || take > 20 {
		take = 10
	}

	window := viper.GetDuration("calling.recent_window")
	if window <= 0 {
		window = 5 * time.Minute
	}

	var calls []models.Call
	if err := database.C.
		Joins("JOIN channel_members cm ON cm.channel_id = calls.channel_id AND cm.account_id = ? AND cm.deleted_at IS NULL", user.ID).
		Where("calls.created_at >= ?", time.Now().Add(-window)).
		Limit(take).
		Preload("Founder").
		Preload("Channel").
		Order("calls.created_at DESC").
		Find(&calls).Error; err != nil {
		return calls, err
	}
	return calls, nil
}

func GetCallParticipants(call models.Call) ([]*livekit.ParticipantInfo, error) {
	res, err := Lk.ListParticipants(context.Background(), &livekit.ListParticipantsRequest{
		Room: call.ChannelName,
	})
	if err != nil {
		return nil, err
	}
	return res.Participants, nil
}

// NewCall opens a ringing session in the channel and provisions the relay
// room behind it. A channel can only hold one live session at a time.
func NewCall(channel models.Channel, founder models.ChannelMember, callType models.CallType) (models.Call, error) {
	externalId := uuid.NewString()
	call := models.Call{
		ExternalID:  externalId,
		ChannelName: fmt.Sprintf("call-%s", externalId),
		Type:        callType,
		Status:      callstate.StatusRinging,
		FounderID:   founder.ID,
		ChannelID:   channel.ID,
		Founder:     founder,
		Channel:     channel,
	}

	if _, err := GetOngoingCall(channel); err == nil {
		return call, fmt.Errorf("this channel already has an ongoing call")
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		return call, fmt.Errorf("unable to check for an ongoing call: %w", err)
	}

	_, err := Lk.CreateRoom(context.Background(), &livekit.CreateRoomRequest{
		Name:            call.ChannelName,
		EmptyTimeout:    viper.GetUint32("calling.empty_timeout_duration"),
		MaxParticipants: viper.GetUint32("calling.max_participants"),
	})
	if err != nil {
		return call, fmt.Errorf("remote livekit error: %v", err)
	}

	if err := database.C.Save(&call).Error; err != nil {
		return call, err
	}

	call, _ = GetCall(channel, call.ID)
	_, _ = AppendCallEvent(call, models.EventCallStart, nil)

	members, err := ListChannelMembers(call.ChannelID)
	if err == nil {
		for _, member := range members {
			if member.ID == call.FounderID {
				continue
			}
			NotifyAccount(member.AccountID, map[string]any{
				"topic":      "calls.incoming",
				"title":      fmt.Sprintf("Call in (%s)", channel.DisplayText()),
				"body":       fmt.Sprintf("%s is calling", call.Founder.Name),
				"call_id":    call.ExternalID,
				"channel_id": call.ChannelID,
				"call_type":  call.Type,
			})
		}
	}

	return call, nil
}

// SetCallStatus drives the session through the state machine and fires the
// server-side effects of the transition exactly once. Status writes are
// last-writer-wins at the row level; a redundant terminal write is rejected
// by the state machine before it can repeat any side effect.
func SetCallStatus(call models.Call, to callstate.Status) (models.Call, error) {
	// Re-read so near-simultaneous terminal attempts race on fresh state.
	call, err := GetCallWithExternalID(call.ExternalID)
	if err != nil {
		return call, err
	}

	rec, err := callstate.Transition(call.StateRecord(), to, time.Now())
	if err != nil {
		return call, err
	}
	if rec.Status == call.Status {
		// Idempotent re-application, nothing to do.
		return call, nil
	}

	call.Status = rec.Status
	call.StartedAt = rec.StartedAt
	call.EndedAt = rec.EndedAt
	if err := database.C.Model(&models.Call{}).
		Where("id = ?", call.ID).
		Updates(map[string]any{
			"status":     string(rec.Status),
			"started_at": rec.StartedAt,
			"ended_at":   rec.EndedAt,
		}).Error; err != nil {
		return call, err
	}

	fireCallTransitionEffects(call)
	return call, nil
}

func fireCallTransitionEffects(call models.Call) {
	if call.Status.Terminal() {
		if _, err := Lk.DeleteRoom(context.Background(), &livekit.DeleteRoomRequest{
			Room: call.ChannelName,
		}); err != nil {
			log.Error().Err(err).Msg("Unable to delete room at livekit side")
		}
	}

	switch call.Status {
	case callstate.StatusAccepted:
		_, _ = AppendCallEvent(call, models.EventCallAccepted, nil)
	case callstate.StatusRejected:
		_, _ = AppendCallEvent(call, models.EventCallRejected, nil)
		notifyCallParty(call, call.Founder.AccountID, "calls.rejected", "Call declined")
	case callstate.StatusEnded:
		duration := call.Duration()
		_, _ = AppendCallEvent(call, models.EventCallEnded, &duration)
		notifyCallMembers(call, "calls.ended", "Call ended")
	case callstate.StatusMissed:
		_, _ = AppendCallEvent(call, models.EventCallMissed, nil)
		notifyCallMembersExcept(call, call.Founder.AccountID, "calls.missed", "Missed call")
	}
}

func notifyCallMembers(call models.Call, topic, title string) {
	notifyCallMembersExcept(call, 0, topic, title)
}

func notifyCallMembersExcept(call models.Call, exceptAccountId uint, topic, title string) {
	channel, err := GetChannel(call.ChannelID)
	if err != nil {
		return
	}
	members := lo.Filter(channel.Members, func(member models.ChannelMember, _ int) bool {
		return member.AccountID != exceptAccountId
	})
	for _, member := range members {
		notifyCallParty(call, member.AccountID, topic, title)
	}
}

func notifyCallParty(call models.Call, accountId uint, topic, title string) {
	NotifyAccount(accountId, map[string]any{
		"topic":      topic,
		"title":      title,
		"call_id":    call.ExternalID,
		"channel_id": call.ChannelID,
		"duration":   call.Duration(),
	})
}

// HangupCall ends a session on behalf of a member. An accepted call ends
// normally; the founder abandoning an unanswered call marks it missed; a
// callee hanging up an unanswered call declines it.
func HangupCall(call models.Call, member models.ChannelMember) (models.Call, error) {
	switch {
	case call.Status == callstate.StatusAccepted:
		return SetCallStatus(call, callstate.StatusEnded)
	case call.Status == callstate.StatusRinging && member.ID == call.FounderID:
		return SetCallStatus(call, callstate.StatusMissed)
	case call.Status == callstate.StatusRinging:
		return SetCallStatus(call, callstate.StatusRejected)
	default:
		return call, fmt.Errorf("%w: %s is terminal", callstate.ErrInvalidTransition, call.Status)
	}
}

func AcceptCall(call models.Call) (models.Call, error) {
	return SetCallStatus(call, callstate.StatusAccepted)
}

func RejectCall(call models.Call) (models.Call, error) {
	return SetCallStatus(call, callstate.StatusRejected)
}

func KickParticipantInCall(call models.Call, username string) error {
	_, err := Lk.RemoveParticipant(context.Background(), &livekit.RoomParticipantIdentity{
		Room:     call.ChannelName,
		Identity: username,
	})
	return err
}
