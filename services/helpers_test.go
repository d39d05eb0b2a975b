package services

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"pong-arena/game"
	"pong-arena/models"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// newTestDB opens a private in-memory database with the full schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", name)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })

	require.NoError(t, db.AutoMigrate(
		&models.Player{},
		&models.PlayerStats{},
		&models.MatchHistory{},
		&models.EloHistory{},
		&models.Tournament{},
		&models.TournamentParticipant{},
		&models.TournamentMatch{},
	))
	return db
}

func seedPlayer(t *testing.T, db *gorm.DB, userID, username string) {
	t.Helper()
	require.NoError(t, db.Create(&models.Player{ExternalUserID: userID, Username: username}).Error)
}

func seedRating(t *testing.T, db *gorm.DB, userID string, elo, games int) {
	t.Helper()
	require.NoError(t, db.Create(&models.PlayerStats{UserID: userID, EloRating: elo, GamesPlayed: games}).Error)
}

// recordingConn collects everything sent to it.
type recordingConn struct {
	mu     sync.Mutex
	msgs   []game.Outbound
	closed bool
}

func (c *recordingConn) Send(msg game.Outbound) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *recordingConn) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
}

func (c *recordingConn) types() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Type
	}
	return out
}

func (c *recordingConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// fakeEvents is an in-memory BracketEvents with a fixed set of online users.
type fakeEvents struct {
	mu     sync.Mutex
	online map[string]bool
	sent   map[string][]game.Outbound
}

func newFakeEvents(online ...string) *fakeEvents {
	f := &fakeEvents{online: make(map[string]bool), sent: make(map[string][]game.Outbound)}
	for _, id := range online {
		f.online[id] = true
	}
	return f
}

func (f *fakeEvents) SendToUser(userID string, msg game.Outbound) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.online[userID] {
		return false
	}
	f.sent[userID] = append(f.sent[userID], msg)
	return true
}

func (f *fakeEvents) IsOnline(userID string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online[userID]
}

func (f *fakeEvents) OnlineUsers() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]string, 0, len(f.online))
	for id := range f.online {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (f *fakeEvents) received(userID, kind string) []game.Outbound {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []game.Outbound
	for _, m := range f.sent[userID] {
		if m.Type == kind {
			out = append(out, m)
		}
	}
	return out
}
