// game/registry.go
package game

import (
	"errors"
	"sync"
	"time"

	"github.com/decred/slog"
	"github.com/google/uuid"
)

var (
	ErrSessionNotFound = errors.New("game session not found")
	ErrAlreadyInMatch  = errors.New("Player cannot join more than one match at once")
	ErrInvalidMode     = errors.New("game mode must be local or remote")
)

// DefaultIdleTimeout is how long a session may go without a simulation update
// before the sweeper removes it.
const DefaultIdleTimeout = 3 * time.Hour

// SessionSummary describes the session a player currently belongs to, enough
// for a client to restore it after a reload.
type SessionSummary struct {
	GameID            string `json:"gameId"`
	GameMode          Mode   `json:"gameMode"`
	State             State  `json:"state"`
	IsCreator         bool   `json:"isCreator"`
	IsTournamentMatch bool   `json:"isTournamentMatch"`
}

// Registry owns every live Room and the player-to-game index. A player is
// mapped to at most one game at a time; the mapping is reserved under the
// registry lock together with the room admission so two concurrent joins
// cannot both succeed.
//
// Lock order is registry then room. Rooms never call back into the registry
// while holding their own lock.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Room
	players  map[string]string

	cfg RoomConfig
	log slog.Logger
}

func NewRegistry(cfg RoomConfig) *Registry {
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	g := &Registry{
		sessions: make(map[string]*Room),
		players:  make(map[string]string),
		log:      cfg.Log,
	}
	cfg.OnTeardown = func(id string) { g.Destroy(id) }
	g.cfg = cfg
	return g
}

// SetAdvancer wires bracket advancement for rooms created from now on.
func (g *Registry) SetAdvancer(a BracketAdvancer) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.cfg.Advancer = a
}

func (g *Registry) Create(mode Mode, tournament bool) (string, error) {
	if !mode.Valid() {
		return "", ErrInvalidMode
	}
	id := uuid.NewString()

	g.mu.Lock()
	defer g.mu.Unlock()
	g.sessions[id] = NewRoom(id, mode, tournament, g.cfg)
	g.log.Infof("Created %s game %s (tournament=%v)", mode, id, tournament)
	return id, nil
}

func (g *Registry) Get(gameID string) (*Room, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	room, ok := g.sessions[gameID]
	return room, ok
}

// Join admits playerID to gameID over conn. Rejoining the game the player is
// already mapped to is a reconnect.
func (g *Registry) Join(gameID, playerID string, conn Conn, displayName string) (*Room, Side, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	room, ok := g.sessions[gameID]
	if !ok {
		return nil, "", ErrSessionNotFound
	}
	if current, ok := g.players[playerID]; ok && current != gameID {
		return nil, "", ErrAlreadyInMatch
	}

	side, err := room.Join(playerID, conn, displayName)
	if err != nil {
		return nil, "", err
	}
	g.players[playerID] = gameID
	return room, side, nil
}

// JoinCLI attaches a terminal observer for a player who already holds a side.
func (g *Registry) JoinCLI(gameID, playerID string, conn Conn) (*Room, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	room, ok := g.sessions[gameID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := room.Watch(playerID, conn); err != nil {
		return nil, err
	}
	return room, nil
}

// Leave unbinds a socket from its room without removing the player.
func (g *Registry) Leave(gameID string, conn Conn) {
	if room, ok := g.Get(gameID); ok {
		room.Disconnect(conn)
	}
}

// Destroy removes a session, frees its players and stops its loop. It reports
// whether the session existed.
func (g *Registry) Destroy(gameID string) bool {
	g.mu.Lock()
	room, ok := g.sessions[gameID]
	if ok {
		delete(g.sessions, gameID)
		for player, game := range g.players {
			if game == gameID {
				delete(g.players, player)
			}
		}
	}
	g.mu.Unlock()

	if !ok {
		return false
	}
	room.Stop()
	g.log.Infof("Destroyed game %s", gameID)
	return true
}

// SweepIdle destroys every session whose last update is older than maxIdle.
func (g *Registry) SweepIdle(now time.Time, maxIdle time.Duration) int {
	g.mu.RLock()
	var idle []string
	for id, room := range g.sessions {
		if now.Sub(room.LastUpdate()) > maxIdle {
			idle = append(idle, id)
		}
	}
	g.mu.RUnlock()

	n := 0
	for _, id := range idle {
		if g.Destroy(id) {
			n++
		}
	}
	if n > 0 {
		g.log.Infof("Swept %d idle game(s)", n)
	}
	return n
}

func (g *Registry) ActiveSessionFor(playerID string) (SessionSummary, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	gameID, ok := g.players[playerID]
	if !ok {
		return SessionSummary{}, false
	}
	room, ok := g.sessions[gameID]
	if !ok {
		return SessionSummary{}, false
	}
	return SessionSummary{
		GameID:            gameID,
		GameMode:          room.Mode(),
		State:             room.Snapshot(),
		IsCreator:         room.IsCreator(playerID),
		IsTournamentMatch: room.IsTournament(),
	}, true
}

// GameFor returns the game a player is mapped to.
func (g *Registry) GameFor(playerID string) (string, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	id, ok := g.players[playerID]
	return id, ok
}

func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}
