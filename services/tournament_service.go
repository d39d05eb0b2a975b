// services/tournament_service.go
package services

import (
	"errors"

	"github.com/gofiber/fiber/v2"
)

// currentUser returns the caller id set by the user context middleware.
func currentUser(c *fiber.Ctx) (string, bool) {
	id, _ := c.Locals("user_id").(string)
	return id, id != ""
}

func unauthorized(c *fiber.Ctx) error {
	return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "missing X-User-ID"})
}

// bracketStatus maps bracket errors onto HTTP statuses.
func bracketStatus(err error) int {
	switch {
	case errors.Is(err, ErrTournamentNotFound), errors.Is(err, ErrMatchNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, ErrAlreadyRegistered), errors.Is(err, ErrAliasTaken), errors.Is(err, ErrTournamentFull),
		errors.Is(err, ErrMatchNotReady):
		return fiber.StatusConflict
	case errors.Is(err, ErrTournamentClosed), errors.Is(err, ErrInvalidAlias),
		errors.Is(err, ErrInvalidTournamentName), errors.Is(err, ErrWrongParticipantCount):
		return fiber.StatusBadRequest
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *BracketService) fail(c *fiber.Ctx, action string, err error) error {
	status := bracketStatus(err)
	if status == fiber.StatusInternalServerError {
		s.log.Errorf("%s failed: %v", action, err)
		return c.Status(status).JSON(fiber.Map{"success": false, "error": "failed to " + action, "cause": err.Error()})
	}
	return c.Status(status).JSON(fiber.Map{"success": false, "error": err.Error()})
}

// GetTournaments lists open tournaments, optionally filtered by ?q=.
func (s *BracketService) GetTournaments(c *fiber.Ctx) error {
	ts, err := s.ListOpen(c.UserContext(), c.Query("q"))
	if err != nil {
		return s.fail(c, "fetch tournaments", err)
	}
	return c.JSON(fiber.Map{"success": true, "tournaments": ts})
}

func (s *BracketService) GetTournamentDetails(c *fiber.Ctx) error {
	d, err := s.Details(c.UserContext(), c.Params("id"))
	if err != nil {
		return s.fail(c, "fetch tournament details", err)
	}
	return c.JSON(fiber.Map{
		"success":      true,
		"tournament":   d.Tournament,
		"matches":      d.Matches,
		"participants": d.Participants,
	})
}

func (s *BracketService) RegisterForTournament(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	var req struct {
		Alias string `json:"alias"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid request body"})
	}

	started, err := s.Register(c.UserContext(), c.Params("id"), userID, req.Alias)
	if err != nil {
		return s.fail(c, "register for tournament", err)
	}
	return c.JSON(fiber.Map{
		"success":            true,
		"message":            "Successfully registered for tournament",
		"tournament_started": started,
	})
}

func (s *BracketService) GetUserTournaments(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	ts, err := s.UserTournaments(c.UserContext(), userID)
	if err != nil {
		return s.fail(c, "fetch your tournaments", err)
	}
	return c.JSON(fiber.Map{"success": true, "tournaments": ts})
}

// JoinTournamentMatch returns the game id a bracket player should connect to.
func (s *BracketService) JoinTournamentMatch(c *fiber.Ctx) error {
	userID, ok := currentUser(c)
	if !ok {
		return unauthorized(c)
	}
	gameID, err := s.JoinMatch(c.UserContext(), c.Params("id"), userID)
	if err != nil {
		return s.fail(c, "join match", err)
	}
	return c.JSON(fiber.Map{"success": true, "gameId": gameID})
}

func (s *BracketService) CreateTournamentHandler(c *fiber.Ctx) error {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"success": false, "error": "invalid request body"})
	}
	t, err := s.CreateTournament(c.UserContext(), req.Name, req.Description)
	if err != nil {
		return s.fail(c, "create tournament", err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"success":      true,
		"tournamentId": t.ID,
		"tournament":   t,
		"message":      "Tournament created successfully",
	})
}

func (s *BracketService) StartTournamentHandler(c *fiber.Ctx) error {
	if err := s.StartTournament(c.UserContext(), c.Params("id")); err != nil {
		return s.fail(c, "start tournament", err)
	}
	return c.JSON(fiber.Map{"success": true, "message": "Tournament started successfully"})
}
