package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// DefaultElo is the rating of a player with no ranked games.
const DefaultElo = 1200

// PlayerStats is the denormalised ranked record of one player.
type PlayerStats struct {
	UserID           string    `json:"user_id" gorm:"primaryKey"`
	EloRating        int       `json:"elo_rating" gorm:"not null;index"`
	GamesPlayed      int       `json:"games_played" gorm:"not null;default:0"`
	GamesWon         int       `json:"games_won" gorm:"not null;default:0"`
	GamesLost        int       `json:"games_lost" gorm:"not null;default:0"`
	CurrentWinStreak int       `json:"current_win_streak" gorm:"not null;default:0"`
	MaxWinStreak     int       `json:"max_win_streak" gorm:"not null;default:0"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// WinRate is the share of games won, in percent.
func (p PlayerStats) WinRate() float64 {
	if p.GamesPlayed == 0 {
		return 0
	}
	return float64(p.GamesWon) / float64(p.GamesPlayed) * 100
}

// MatchHistory is one recorded match.
type MatchHistory struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	GameID       string    `json:"game_id" gorm:"uniqueIndex;not null"`
	GameMode     string    `json:"game_mode" gorm:"type:varchar(16);not null"`
	Player1ID    string    `json:"player1_id" gorm:"not null;index"`
	Player2ID    *string   `json:"player2_id" gorm:"index"`
	WinnerID     *string   `json:"winner_id"`
	Player1Score int       `json:"player1_score"`
	Player2Score int       `json:"player2_score"`
	Tournament   bool      `json:"is_tournament"`
	PlayedAt     time.Time `json:"played_at" gorm:"index"`
}

func (m *MatchHistory) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// EloHistory is one rating change caused by a ranked match.
type EloHistory struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	UserID     string    `json:"user_id" gorm:"not null;index"`
	GameID     string    `json:"game_id" gorm:"not null;index"`
	EloBefore  int       `json:"elo_before"`
	EloAfter   int       `json:"elo_after"`
	EloChange  int       `json:"elo_change"`
	RecordedAt time.Time `json:"recorded_at" gorm:"index"`
}

func (e *EloHistory) BeforeCreate(tx *gorm.DB) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return nil
}

// LeaderboardEntry is one row of the ELO leaderboard.
type LeaderboardEntry struct {
	Rank        int     `json:"rank"`
	UserID      string  `json:"user_id"`
	Username    string  `json:"username"`
	EloRating   int     `json:"elo_rating"`
	GamesPlayed int     `json:"games_played"`
	GamesWon    int     `json:"games_won"`
	WinRate     float64 `json:"win_rate"`
}

// MatchHistoryEntry is a recorded match from one player's point of view.
type MatchHistoryEntry struct {
	MatchHistory
	OpponentID       string `json:"opponent_id,omitempty"`
	OpponentUsername string `json:"opponent_username,omitempty"`
	Result           string `json:"result"`
}
