package services

import (
	"context"
	"testing"
	"time"

	"pong-arena/game"
	"pong-arena/models"

	"github.com/decred/slog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStats(t *testing.T) *StatsService {
	t.Helper()
	s := NewStatsService(newTestDB(t), slog.Disabled)
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	calls := 0
	s.now = func() time.Time {
		calls++
		return base.Add(time.Duration(calls) * time.Minute)
	}
	return s
}

func remoteResult(gameID, left, right, winner string) game.MatchResult {
	res := game.MatchResult{GameID: gameID, Mode: game.ModeRemote, LeftID: left, RightID: right, WinnerID: winner}
	if winner == left {
		res.ScoreLeft, res.ScoreRight = game.WinScore, 2
	} else {
		res.ScoreLeft, res.ScoreRight = 2, game.WinScore
	}
	return res
}

func TestNextElo(t *testing.T) {
	tests := []struct {
		name     string
		rating   int
		opponent int
		games    int
		actual   float64
		want     int
	}{
		{"new player win", 1200, 1200, 0, 1, 1220},
		{"new player loss", 1200, 1200, 0, 0, 1180},
		{"established win", 1200, 1200, 10, 1, 1216},
		{"veteran win", 1200, 1200, 30, 1, 1212},
		{"upset win", 1200, 1400, 0, 1, 1230},
		{"expected loss", 1200, 1400, 0, 0, 1190},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, nextElo(tt.rating, tt.opponent, tt.games, tt.actual))
		})
	}
}

func TestRecordResult_RemoteUpdatesBothPlayers(t *testing.T) {
	s := newTestStats(t)
	ctx := context.Background()

	require.NoError(t, s.RecordResult(ctx, remoteResult("g1", "alice", "bob", "alice")))

	alice, err := s.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1220, alice.EloRating)
	assert.Equal(t, 1, alice.GamesPlayed)
	assert.Equal(t, 1, alice.GamesWon)
	assert.Equal(t, 1, alice.CurrentWinStreak)

	bob, err := s.Stats(ctx, "bob")
	require.NoError(t, err)
	assert.Equal(t, 1180, bob.EloRating)
	assert.Equal(t, 1, bob.GamesLost)
	assert.Zero(t, bob.CurrentWinStreak)

	history, err := s.EloHistory(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, 1200, history[0].EloBefore)
	assert.Equal(t, 20, history[0].EloChange)
}

func TestRecordResult_UsesPreMatchRatings(t *testing.T) {
	s := newTestStats(t)
	ctx := context.Background()
	seedRating(t, s.DB, "alice", 1300, 5)
	seedRating(t, s.DB, "bob", 1100, 40)

	require.NoError(t, s.RecordResult(ctx, remoteResult("g1", "alice", "bob", "bob")))

	ratings, err := s.Ratings(nil, "alice", "bob")
	require.NoError(t, err)
	assert.Equal(t, 1270, ratings["alice"])
	assert.Equal(t, 1118, ratings["bob"])
}

func TestRecordResult_IgnoresDuplicateGame(t *testing.T) {
	s := newTestStats(t)
	ctx := context.Background()

	res := remoteResult("g1", "alice", "bob", "alice")
	require.NoError(t, s.RecordResult(ctx, res))
	require.NoError(t, s.RecordResult(ctx, res))

	alice, err := s.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 1, alice.GamesPlayed)

	var count int64
	require.NoError(t, s.DB.Model(&models.MatchHistory{}).Count(&count).Error)
	assert.EqualValues(t, 1, count)
}

func TestRecordResult_WinStreaks(t *testing.T) {
	s := newTestStats(t)
	ctx := context.Background()

	for _, id := range []string{"g1", "g2", "g3"} {
		require.NoError(t, s.RecordResult(ctx, remoteResult(id, "alice", "bob", "alice")))
	}
	require.NoError(t, s.RecordResult(ctx, remoteResult("g4", "alice", "bob", "bob")))

	alice, err := s.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, 4, alice.GamesPlayed)
	assert.Equal(t, 3, alice.GamesWon)
	assert.Zero(t, alice.CurrentWinStreak)
	assert.Equal(t, 3, alice.MaxWinStreak)
	assert.InDelta(t, 75.0, alice.WinRate(), 0.001)
}

func TestRecordResult_LocalGameCountsWithoutElo(t *testing.T) {
	s := newTestStats(t)
	ctx := context.Background()

	won := game.MatchResult{GameID: "g1", Mode: game.ModeLocal, LeftID: "alice", WinnerID: "alice", ScoreLeft: 5, ScoreRight: 1}
	require.NoError(t, s.RecordResult(ctx, won))
	won.GameID = "g2"
	require.NoError(t, s.RecordResult(ctx, won))
	lost := game.MatchResult{GameID: "g3", Mode: game.ModeLocal, LeftID: "alice", ScoreLeft: 2, ScoreRight: 5}
	require.NoError(t, s.RecordResult(ctx, lost))

	alice, err := s.Stats(ctx, "alice")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultElo, alice.EloRating)
	assert.Equal(t, 3, alice.GamesPlayed)
	assert.Equal(t, 2, alice.GamesWon)
	assert.Equal(t, 1, alice.GamesLost)
	assert.Equal(t, 0, alice.CurrentWinStreak)
	assert.Equal(t, 2, alice.MaxWinStreak)

	var elo int64
	require.NoError(t, s.DB.Model(&models.EloHistory{}).Count(&elo).Error)
	assert.Zero(t, elo)

	history, err := s.MatchHistory(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "local", history[0].GameMode)
	assert.Empty(t, history[0].OpponentID)
}

func TestRecordResult_RequiresLeftPlayer(t *testing.T) {
	s := newTestStats(t)
	err := s.RecordResult(context.Background(), game.MatchResult{GameID: "g1", Mode: game.ModeRemote})
	assert.Error(t, err)
}

func TestStats_DefaultsForUnknownPlayer(t *testing.T) {
	s := newTestStats(t)
	stats, err := s.Stats(context.Background(), "nobody")
	require.NoError(t, err)
	assert.Equal(t, models.DefaultElo, stats.EloRating)
	assert.Zero(t, stats.GamesPlayed)
}

func TestLeaderboard(t *testing.T) {
	s := newTestStats(t)
	ctx := context.Background()
	seedPlayer(t, s.DB, "alice", "Alice")
	seedPlayer(t, s.DB, "bob", "Bob")
	seedRating(t, s.DB, "idle", 1500, 0)

	require.NoError(t, s.RecordResult(ctx, remoteResult("g1", "alice", "bob", "alice")))
	require.NoError(t, s.RecordResult(ctx, remoteResult("g2", "carol", "bob", "carol")))

	board, err := s.Leaderboard(ctx)
	require.NoError(t, err)
	require.Len(t, board, 3)

	assert.Equal(t, 1, board[0].Rank)
	assert.Equal(t, "alice", board[0].UserID)
	assert.Equal(t, "Alice", board[0].Username)
	assert.Equal(t, "carol", board[1].UserID)
	assert.Empty(t, board[1].Username)
	assert.Equal(t, "bob", board[2].UserID)
	for _, e := range board {
		assert.NotEqual(t, "idle", e.UserID)
	}
}

func TestMatchHistory_FromPlayersPointOfView(t *testing.T) {
	s := newTestStats(t)
	ctx := context.Background()
	seedPlayer(t, s.DB, "bob", "Bob")
	seedPlayer(t, s.DB, "alice", "Alice")

	require.NoError(t, s.RecordResult(ctx, remoteResult("g1", "alice", "bob", "alice")))
	require.NoError(t, s.RecordResult(ctx, remoteResult("g2", "bob", "alice", "bob")))

	history, err := s.MatchHistory(ctx, "alice", 10)
	require.NoError(t, err)
	require.Len(t, history, 2)

	// newest first
	assert.Equal(t, "g2", history[0].GameID)
	assert.Equal(t, "loss", history[0].Result)
	assert.Equal(t, "bob", history[0].OpponentID)
	assert.Equal(t, "Bob", history[0].OpponentUsername)
	assert.Equal(t, "g1", history[1].GameID)
	assert.Equal(t, "win", history[1].Result)

	limited, err := s.MatchHistory(ctx, "alice", 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}
