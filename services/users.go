// services/users.go
package services

import (
	"context"
	"errors"
	"strconv"
	"strings"

	"pong-arena/models"

	"github.com/decred/slog"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"
)

// PlayerDirectory resolves user ids to the names mirrored from the profile
// service.
type PlayerDirectory struct {
	DB  *gorm.DB
	log slog.Logger
}

func NewPlayerDirectory(db *gorm.DB, log slog.Logger) *PlayerDirectory {
	return &PlayerDirectory{DB: db, log: log}
}

// DisplayName returns the player's username, or a generic label when the
// directory has not seen them yet.
func (d *PlayerDirectory) DisplayName(ctx context.Context, userID string) string {
	var p models.Player
	err := d.DB.WithContext(ctx).Select("username").Where("external_user_id = ?", userID).First(&p).Error
	if err == nil && p.Username != "" {
		return p.Username
	}
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		d.log.Warnf("Lookup of %s failed: %v", userID, err)
	}
	return fallbackName(userID)
}

func fallbackName(userID string) string {
	if len(userID) > 8 {
		userID = userID[:8]
	}
	return "Player " + userID
}

// usernames maps external user ids to usernames for the ids the directory knows.
func usernames(db *gorm.DB, ids []string) (map[string]string, error) {
	out := make(map[string]string, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	var players []models.Player
	if err := db.Select("external_user_id", "username").Where("external_user_id IN ?", ids).Find(&players).Error; err != nil {
		return nil, err
	}
	for _, p := range players {
		out[p.ExternalUserID] = p.Username
	}
	return out, nil
}

// SearchPlayers searches the local player directory by username.
func (d *PlayerDirectory) SearchPlayers(c *fiber.Ctx) error {
	query := c.Query("q", "")
	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 50
	}

	db := d.DB.Model(&models.Player{}).Where("is_banned = ?", false).Limit(limit)
	if query != "" {
		db = db.Where("LOWER(username) LIKE ?", "%"+strings.ToLower(strings.TrimSpace(query))+"%")
	}

	var players []models.Player
	if err := db.Order("username").Find(&players).Error; err != nil {
		return c.Status(500).JSON(fiber.Map{"error": "search failed", "cause": err.Error()})
	}

	type PlayerSummary struct {
		ID       string  `json:"id"`
		Username string  `json:"username"`
		Avatar   *string `json:"profile_picture_url,omitempty"`
	}
	res := make([]PlayerSummary, len(players))
	for i, p := range players {
		res[i] = PlayerSummary{ID: p.ExternalUserID, Username: p.Username, Avatar: p.ProfilePictureURL}
	}
	return c.JSON(res)
}

// AliasLookup finds a player's tournament alias for a bracket-linked game.
type AliasLookup interface {
	AliasForGame(ctx context.Context, gameID, userID string) (string, error)
}

// RoomNames picks the name shown above a paddle: the tournament alias for
// bracket games, the directory username otherwise.
type RoomNames struct {
	Directory *PlayerDirectory
	Aliases   AliasLookup
}

func (n *RoomNames) DisplayName(ctx context.Context, gameID, userID string, tournament bool) string {
	if tournament && n.Aliases != nil {
		if alias, err := n.Aliases.AliasForGame(ctx, gameID, userID); err == nil && alias != "" {
			return alias
		}
	}
	if n.Directory == nil {
		return fallbackName(userID)
	}
	return n.Directory.DisplayName(ctx, userID)
}
