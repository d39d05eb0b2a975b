// services/stats_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"pong-arena/game"
	"pong-arena/models"

	"github.com/decred/slog"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// K-factor bands: provisional players move fastest.
func kFactor(gamesPlayed int) float64 {
	switch {
	case gamesPlayed < 10:
		return 40
	case gamesPlayed < 30:
		return 32
	default:
		return 24
	}
}

// nextElo returns the rating after one game. actual is 1 for a win, 0 for a loss.
func nextElo(rating, opponent, gamesPlayed int, actual float64) int {
	expected := 1 / (1 + math.Pow(10, float64(opponent-rating)/400))
	return int(math.Round(float64(rating) + kFactor(gamesPlayed)*(actual-expected)))
}

const leaderboardSize = 10

type StatsService struct {
	DB  *gorm.DB
	log slog.Logger
	now func() time.Time
}

func NewStatsService(db *gorm.DB, log slog.Logger) *StatsService {
	return &StatsService{DB: db, log: log, now: time.Now}
}

// RecordResult stores a finished ranked match: the history row, and for remote
// games both players' counters, streaks and ELO. Both ratings are computed from
// the pre-match values. A local game only moves the left player's counters and
// streak. A game id already recorded is ignored.
func (s *StatsService) RecordResult(ctx context.Context, res game.MatchResult) error {
	if res.LeftID == "" {
		return errors.New("result has no left player")
	}
	now := s.now().UTC()

	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		history := models.MatchHistory{
			GameID:       res.GameID,
			GameMode:     string(res.Mode),
			Player1ID:    res.LeftID,
			Player2ID:    optional(res.RightID),
			WinnerID:     optional(res.WinnerID),
			Player1Score: res.ScoreLeft,
			Player2Score: res.ScoreRight,
			Tournament:   res.Tournament,
			PlayedAt:     now,
		}
		created := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}},
			DoNothing: true,
		}).Create(&history)
		if created.Error != nil {
			return fmt.Errorf("insert match history: %w", created.Error)
		}
		if created.RowsAffected == 0 {
			s.log.Warnf("Game %s already recorded, skipping", res.GameID)
			return nil
		}

		if res.Mode == game.ModeLocal {
			return s.recordLocal(tx, res, now)
		}
		if res.RightID == "" || res.WinnerID == "" {
			return nil
		}

		left, err := s.loadOrInit(tx, res.LeftID, now)
		if err != nil {
			return err
		}
		right, err := s.loadOrInit(tx, res.RightID, now)
		if err != nil {
			return err
		}

		leftBefore, rightBefore := left.EloRating, right.EloRating
		leftWon := res.WinnerID == res.LeftID
		applyResult(&left, rightBefore, leftWon)
		applyResult(&right, leftBefore, !leftWon)

		for _, p := range []struct {
			stats  *models.PlayerStats
			before int
		}{{&left, leftBefore}, {&right, rightBefore}} {
			p.stats.UpdatedAt = now
			if err := tx.Save(p.stats).Error; err != nil {
				return fmt.Errorf("save stats for %s: %w", p.stats.UserID, err)
			}
			entry := models.EloHistory{
				UserID:     p.stats.UserID,
				GameID:     res.GameID,
				EloBefore:  p.before,
				EloAfter:   p.stats.EloRating,
				EloChange:  p.stats.EloRating - p.before,
				RecordedAt: now,
			}
			if err := tx.Create(&entry).Error; err != nil {
				return fmt.Errorf("insert elo history for %s: %w", p.stats.UserID, err)
			}
		}

		s.log.Infof("Recorded %s: %s %d (%+d) vs %s %d (%+d)", res.GameID,
			left.UserID, left.EloRating, left.EloRating-leftBefore,
			right.UserID, right.EloRating, right.EloRating-rightBefore)
		return nil
	})
}

// recordLocal counts a local game for its owner, who wins when the left side
// wins. There is no opponent to rate against.
func (s *StatsService) recordLocal(tx *gorm.DB, res game.MatchResult, now time.Time) error {
	owner, err := s.loadOrInit(tx, res.LeftID, now)
	if err != nil {
		return err
	}
	applyOutcome(&owner, res.WinnerID == res.LeftID)
	owner.UpdatedAt = now
	if err := tx.Save(&owner).Error; err != nil {
		return fmt.Errorf("save stats for %s: %w", owner.UserID, err)
	}
	s.log.Infof("Recorded local %s for %s: %d-%d", res.GameID, owner.UserID, res.ScoreLeft, res.ScoreRight)
	return nil
}

func applyResult(p *models.PlayerStats, opponentBefore int, won bool) {
	actual := 0.0
	if won {
		actual = 1
	}
	p.EloRating = nextElo(p.EloRating, opponentBefore, p.GamesPlayed, actual)
	applyOutcome(p, won)
}

func applyOutcome(p *models.PlayerStats, won bool) {
	p.GamesPlayed++
	if won {
		p.GamesWon++
		p.CurrentWinStreak++
		p.MaxWinStreak = max(p.MaxWinStreak, p.CurrentWinStreak)
	} else {
		p.GamesLost++
		p.CurrentWinStreak = 0
	}
}

func (s *StatsService) loadOrInit(tx *gorm.DB, userID string, now time.Time) (models.PlayerStats, error) {
	var stats models.PlayerStats
	err := lockForUpdate(tx).Where("user_id = ?", userID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PlayerStats{UserID: userID, EloRating: models.DefaultElo, CreatedAt: now}, nil
	}
	if err != nil {
		return stats, fmt.Errorf("load stats for %s: %w", userID, err)
	}
	return stats, nil
}

// Ratings returns the current ELO of each user that has a stats row. Users
// without one are absent from the map.
func (s *StatsService) Ratings(tx *gorm.DB, userIDs ...string) (map[string]int, error) {
	if tx == nil {
		tx = s.DB
	}
	var rows []models.PlayerStats
	if err := tx.Where("user_id IN ?", userIDs).Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[string]int, len(rows))
	for _, r := range rows {
		out[r.UserID] = r.EloRating
	}
	return out, nil
}

// Stats returns a player's record, defaulted when they have none yet.
func (s *StatsService) Stats(ctx context.Context, userID string) (models.PlayerStats, error) {
	var stats models.PlayerStats
	err := s.DB.WithContext(ctx).Where("user_id = ?", userID).First(&stats).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.PlayerStats{UserID: userID, EloRating: models.DefaultElo}, nil
	}
	return stats, err
}

// Leaderboard lists the top players by rating among those who have played.
func (s *StatsService) Leaderboard(ctx context.Context) ([]models.LeaderboardEntry, error) {
	var rows []models.PlayerStats
	err := s.DB.WithContext(ctx).
		Where("games_played > 0").
		Order("elo_rating DESC").Order("games_won DESC").Order("user_id").
		Limit(leaderboardSize).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(rows))
	for i, r := range rows {
		ids[i] = r.UserID
	}
	names, err := usernames(s.DB.WithContext(ctx), ids)
	if err != nil {
		return nil, err
	}

	out := make([]models.LeaderboardEntry, len(rows))
	for i, r := range rows {
		out[i] = models.LeaderboardEntry{
			Rank:        i + 1,
			UserID:      r.UserID,
			Username:    names[r.UserID],
			EloRating:   r.EloRating,
			GamesPlayed: r.GamesPlayed,
			GamesWon:    r.GamesWon,
			WinRate:     r.WinRate(),
		}
	}
	return out, nil
}

// MatchHistory returns a player's recorded matches, newest first.
func (s *StatsService) MatchHistory(ctx context.Context, userID string, limit int) ([]models.MatchHistoryEntry, error) {
	var rows []models.MatchHistory
	q := s.DB.WithContext(ctx).
		Where("player1_id = ? OR player2_id = ?", userID, userID).
		Order("played_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}

	var opponents []string
	for _, r := range rows {
		if opp := opponentOf(r, userID); opp != "" {
			opponents = append(opponents, opp)
		}
	}
	names, err := usernames(s.DB.WithContext(ctx), opponents)
	if err != nil {
		return nil, err
	}

	out := make([]models.MatchHistoryEntry, len(rows))
	for i, r := range rows {
		entry := models.MatchHistoryEntry{MatchHistory: r, OpponentID: opponentOf(r, userID), Result: "loss"}
		entry.OpponentUsername = names[entry.OpponentID]
		if r.WinnerID != nil && *r.WinnerID == userID {
			entry.Result = "win"
		}
		out[i] = entry
	}
	return out, nil
}

// EloHistory returns a player's rating changes, oldest first.
func (s *StatsService) EloHistory(ctx context.Context, userID string) ([]models.EloHistory, error) {
	var rows []models.EloHistory
	err := s.DB.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("recorded_at ASC").
		Find(&rows).Error
	return rows, err
}

func opponentOf(m models.MatchHistory, userID string) string {
	if m.Player1ID == userID {
		if m.Player2ID != nil {
			return *m.Player2ID
		}
		return ""
	}
	return m.Player1ID
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
