package api

import (
	"github.com/gofiber/fiber/v2"

	"github.com/resonance-im/resonance/pkg/internal/services"
)

func getUserinfo(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	return c.JSON(user)
}

// listRecentCalls is the poll feed a detached client uses to discover a new
// incoming ringing session addressed to it.
func listRecentCalls(c *fiber.Ctx) error {
	user, err := requireUser(c)
	if err != nil {
		return err
	}
	take := c.QueryInt("take", 10)

	if calls, err := services.ListRecentCalls(user, take); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, err.Error())
	} else {
		return c.JSON(calls)
	}
}
