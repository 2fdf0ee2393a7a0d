package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/resonance-im/resonance/pkg/internal/services"
)

func getChannel(c *fiber.Ctx) error {
	channel, err := services.GetChannelWithAlias(c.Params("channel"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}
	return c.JSON(channel)
}

func listChannelMembers(c *fiber.Ctx) error {
	channel, err := services.GetChannelWithAlias(c.Params("channel"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	if members, err := services.ListChannelMembers(channel.ID); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	} else {
		return c.JSON(members)
	}
}

func listEvent(c *fiber.Ctx) error {
	take := c.QueryInt("take", 10)
	offset := c.QueryInt("offset", 0)

	channel, err := services.GetChannelWithAlias(c.Params("channel"))
	if err != nil {
		return fiber.NewError(fiber.StatusNotFound, err.Error())
	}

	count := services.CountEvent(channel)
	events, err := services.ListEvent(channel, take, offset)
	if err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	}

	return c.JSON(fiber.Map{
		"count": count,
		"data":  events,
	})
}
