// handlers/tournament.go
package handlers

import (
	"pong-arena/middleware"
	"pong-arena/services"

	"github.com/gofiber/fiber/v2"
)

const adminRole = "admin"

func SetupTournamentRoutes(api fiber.Router, brackets *services.BracketService) {
	user := middleware.UserContextMiddleware()

	// Registered before /tournaments/:id so "matches" is not taken as an id.
	api.Post("/tournaments/matches/:id/join", user, brackets.JoinTournamentMatch)

	// Public
	api.Get("/tournaments", brackets.GetTournaments)
	api.Get("/tournaments/:id", brackets.GetTournamentDetails)

	api.Post("/tournaments/:id/register", user, brackets.RegisterForTournament)
	api.Get("/user/tournaments", user, brackets.GetUserTournaments)

	admin := api.Group("/admin", user, middleware.RequireRole(adminRole))
	admin.Post("/tournaments", brackets.CreateTournamentHandler)
	admin.Post("/tournaments/:id/start", brackets.StartTournamentHandler)
}
