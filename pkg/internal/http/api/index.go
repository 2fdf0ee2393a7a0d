package api

import (
	"github.com/gofiber/fiber/v2"
)

func MapAPIs(app *fiber.App, baseURL string) {
	api := app.Group(baseURL).Name("API")
	{
		api.Get("/users/me", authMiddleware, getUserinfo)
		api.Get("/users/me/calls/recent", authMiddleware, listRecentCalls)

		api.Post("/notifications/subscribe", authMiddleware, subscribeNotifications)

		api.Get("/calls/:callId", authMiddleware, getCall)

		channels := api.Group("/channels").Name("Channels API")
		{
			channels.Get("/:channel", getChannel)
			channels.Get("/:channel/members", listChannelMembers)
			channels.Get("/:channel/events", listEvent)

			channels.Get("/:channel/calls", listCall)
			channels.Get("/:channel/calls/ongoing", getOngoingCall)
			channels.Post("/:channel/calls", authMiddleware, startCall)
			channels.Post("/:channel/calls/ongoing/accept", authMiddleware, acceptCall)
			channels.Post("/:channel/calls/ongoing/reject", authMiddleware, rejectCall)
			channels.Delete("/:channel/calls/ongoing", authMiddleware, endCall)
			channels.Delete("/:channel/calls/ongoing/participant", authMiddleware, kickParticipantInCall)
			channels.Post("/:channel/calls/ongoing/token", authMiddleware, exchangeCallToken)
		}
	}
}
