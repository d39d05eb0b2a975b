// services/game_service.go
package services

import (
	"strconv"

	"pong-arena/game"

	"github.com/decred/slog"
	"github.com/gofiber/fiber/v2"
)

// GameService is the HTTP side of casual games and player records.
type GameService struct {
	Registry *game.Registry
	Stats    *StatsService
	log      slog.Logger
}

func NewGameService(reg *game.Registry, stats *StatsService, log slog.Logger) *GameService {
	return &GameService{Registry: reg, Stats: stats, log: log}
}

// CreateGame opens a casual session. Body: {"mode": "local"|"remote"}.
func (s *GameService) CreateGame(c *fiber.Ctx) error {
	var req struct {
		Mode string `json:"mode"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid request body"})
	}
	mode := game.Mode(req.Mode)
	if !mode.Valid() {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "Invalid game mode"})
	}

	gameID, err := s.Registry.Create(mode, false)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "failed to create game", "cause": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "gameId": gameID, "mode": mode})
}

// RestoreSession tells a reloading client which game it still belongs to.
func (s *GameService) RestoreSession(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	summary, ok := s.Registry.ActiveSessionFor(userID)
	if !ok {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"success": false, "error": "No active game session found"})
	}
	return c.JSON(fiber.Map{
		"success":           true,
		"gameId":            summary.GameID,
		"gameMode":          summary.GameMode,
		"state":             summary.State,
		"isCreator":         summary.IsCreator,
		"isTournamentMatch": summary.IsTournamentMatch,
	})
}

func (s *GameService) GetGameStats(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	stats, err := s.Stats.Stats(c.UserContext(), userID)
	if err != nil {
		s.log.Errorf("Fetching stats for %s failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "failed to fetch stats", "cause": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "stats": stats, "winRate": stats.WinRate()})
}

func (s *GameService) GetLeaderboard(c *fiber.Ctx) error {
	board, err := s.Stats.Leaderboard(c.UserContext())
	if err != nil {
		s.log.Errorf("Fetching leaderboard failed: %v", err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "failed to fetch leaderboard", "cause": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "leaderboard": board})
}

func (s *GameService) GetMatchHistory(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit <= 0 || limit > 200 {
		limit = 50
	}
	history, err := s.Stats.MatchHistory(c.UserContext(), userID, limit)
	if err != nil {
		s.log.Errorf("Fetching match history for %s failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "failed to fetch match history", "cause": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "matches": history})
}

func (s *GameService) GetEloHistory(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	history, err := s.Stats.EloHistory(c.UserContext(), userID)
	if err != nil {
		s.log.Errorf("Fetching ELO history for %s failed: %v", userID, err)
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"success": false, "error": "failed to fetch ELO history", "cause": err.Error()})
	}
	return c.JSON(fiber.Map{"success": true, "history": history})
}
