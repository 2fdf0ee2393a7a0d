package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/resonance-im/resonance/pkg/internal/http/exts"
	"github.com/resonance-im/resonance/pkg/internal/services"
)

func subscribeNotifications(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}

	var data struct {
		Endpoint string `json:"endpoint" validate:"required"`
		Keys     struct {
			P256DH string `json:"p256dh" validate:"required"`
			Auth   string `json:"auth" validate:"required"`
		} `json:"keys"`
	}
	if err := exts.BindAndValidate(c, &data); err != nil {
		return err
	}

	sub, err := services.SaveSubscription(user.ID, data.Endpoint, data.Keys.P256DH, data.Keys.Auth)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}
	return c.JSON(sub)
}
