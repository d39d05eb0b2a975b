// handlers/game.go
package handlers

import (
	"pong-arena/middleware"
	"pong-arena/services"

	"github.com/gofiber/fiber/v2"
)

func SetupGameRoutes(api fiber.Router, gameService *services.GameService, directory *services.PlayerDirectory) {
	// Public
	api.Get("/game/leaderboard", gameService.GetLeaderboard)
	api.Get("/users/search", directory.SearchPlayers)

	// Per-route user context so public routes registered later stay public.
	user := middleware.UserContextMiddleware()

	api.Post("/game/create", user, gameService.CreateGame)
	api.Get("/game/restore", user, gameService.RestoreSession)

	api.Get("/user/game-stats", user, gameService.GetGameStats)
	api.Get("/user/match-history", user, gameService.GetMatchHistory)
	api.Get("/user/elo-history", user, gameService.GetEloHistory)
}
