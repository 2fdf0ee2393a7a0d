package api

import (
	"sync"

	"github.com/gofiber/fiber/v2"

	"github.com/resonance-im/resonance/pkg/internal/http/exts"
	"github.com/resonance-im/resonance/pkg/internal/models"
	"github.com/resonance-im/resonance/pkg/internal/services"
	"github.com/resonance-im/resonance/pkg/internal/token"
)

var callLocks sync.Map

func listCall(c *fiber.Ctx) error {
	take := c.QueryInt("take", 10)
	offset := c.QueryInt("offset", 0)

	channel, err := services.GetChannelWithAlias(c.Params("channel"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	if calls, err := services.ListCall(channel, take, offset); err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	} else {
		return c.JSON(calls)
	}
}

func getOngoingCall(c *fiber.Ctx) error {
	channel, err := services.GetChannelWithAlias(c.Params("channel"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	if call, err := services.GetOngoingCall(channel); err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	} else if res, err := services.GetCallParticipants(call); err != nil {
		return c.JSON(call)
	} else {
		call.Participants = res
		return c.JSON(call)
	}
}

func getCall(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	call, err := services.GetCallWithExternalID(c.Params("callId"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	if _, err := services.GetChannelMember(call.Channel, user.ID); err != nil {
		return fiber.NewError(fiber.StatusForbidden, "you are not a member of this channel")
	}

	return c.JSON(call)
}

func startCall(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	var data struct {
		Type models.CallType `json:"type"`
	}
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}
	if data.Type != models.CallTypeVoice && data.Type != models.CallTypeVideo {
		return fiber.NewError(fiber.StatusBadRequest, "unknown call type")
	}

	channel, err := services.GetChannelWithAlias(c.Params("channel"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	membership, err := services.GetChannelMember(channel, user.ID)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	} else if membership.PowerLevel < 0 {
		return fiber.NewError(fiber.StatusForbidden, "you have not enough permission to create a call")
	}

	if _, ok := callLocks.Load(channel.ID); ok {
		return fiber.NewError(fiber.StatusLocked, "there is already a call in creation progress for this channel")
	} else {
		callLocks.Store(channel.ID, true)
	}
	defer callLocks.Delete(channel.ID)

	call, err := services.NewCall(channel, membership, data.Type)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return c.JSON(call)
}

func acceptCall(c *fiber.Ctx) error {
	call, membership, err := resolveOngoingCall(c)
	if err != nil {
		return err
	}
	if membership.ID == call.FounderID {
		return fiber.NewError(fiber.StatusBadRequest, "the caller cannot accept its own call")
	}

	if call, err := services.AcceptCall(call); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	} else {
		return c.JSON(call)
	}
}

func rejectCall(c *fiber.Ctx) error {
	call, membership, err := resolveOngoingCall(c)
	if err != nil {
		return err
	}
	if membership.ID == call.FounderID {
		return fiber.NewError(fiber.StatusBadRequest, "the caller cannot reject its own call")
	}

	if call, err := services.RejectCall(call); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	} else {
		return c.JSON(call)
	}
}

func endCall(c *fiber.Ctx) error {
	call, membership, err := resolveOngoingCall(c)
	if err != nil {
		return err
	}

	if call, err := services.HangupCall(call, membership); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	} else {
		return c.JSON(call)
	}
}

func kickParticipantInCall(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	var data struct {
		Username string `json:"username" validate:"required"`
	}
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	call, membership, err := resolveOngoingCall(c)
	if err != nil {
		return err
	}
	if call.Founder.AccountID != user.ID && membership.PowerLevel < 50 {
		return fiber.NewError(fiber.StatusBadRequest, "only call founder or channel moderator can kick participant in this call")
	}

	target, err := services.GetAccountWithName(data.Username)
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, "no such user")
	}

	if err = services.KickParticipantInCall(call, target.Name); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.SendStatus(fiber.StatusOK)
}

func exchangeCallToken(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	var data struct {
		Role string `json:"role"`
	}
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}
	role := token.RolePublisher
	if data.Role == "subscriber" {
		role = token.RoleSubscriber
	}

	call, _, err := resolveOngoingCall(c)
	if err != nil {
		return err
	}

	cred, err := services.ExchangeCallCredential(user, call, role)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(fiber.Map{
		"app_id":      cred.AppID,
		"token":       cred.Token,
		"channel":     cred.Channel,
		"subject_uid": cred.SubjectUID,
		"expires_at":  cred.ExpiresAt,
		"endpoint":    services.RelayEndpoint(),
	})
}

// resolveOngoingCall loads the channel from the route, checks the caller's
// membership and returns the live session.
func resolveOngoingCall(c *fiber.Ctx) (models.Call, models.ChannelMember, error) {
	var call models.Call
	var membership models.ChannelMember

	user, err := requireUser(c)
	if err != nil {
		return call, membership, err
	}

	channel, err := services.GetChannelWithAlias(c.Params("channel"))
	if err != nil {
		return call, membership, fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	membership, err = services.GetChannelMember(channel, user.ID)
	if err != nil {
		return call, membership, fiber.NewError(fiber.StatusForbidden, "you are not a member of this channel")
	}

	call, err = services.GetOngoingCall(channel)
	if err != nil {
		return call, membership, fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return call, membership, nil
}
