// game/room.go
package game

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/decred/slog"
)

type Mode string

const (
	ModeLocal  Mode = "local"
	ModeRemote Mode = "remote"
)

func (m Mode) Valid() bool {
	return m == ModeLocal || m == ModeRemote
}

var (
	ErrRoomFull      = errors.New("game is full")
	ErrLocalOccupied = errors.New("local game already has a player")
	ErrRoomClosed    = errors.New("game has ended")
	ErrNotInRoom     = errors.New("player is not part of this game")
)

const (
	DefaultTeardownDelay = time.Second
	completionTimeout    = 15 * time.Second
)

// MatchResult is what a finished match hands to result recording.
type MatchResult struct {
	GameID     string
	Mode       Mode
	Tournament bool
	LeftID     string
	RightID    string
	WinnerID   string
	ScoreLeft  int
	ScoreRight int
}

// ResultRecorder persists ranked results (match history, ELO, streaks).
type ResultRecorder interface {
	RecordResult(ctx context.Context, res MatchResult) error
}

// BracketAdvancer moves a tournament bracket forward once a linked game ends.
type BracketAdvancer interface {
	AdvanceByGame(ctx context.Context, gameID, winnerID string) error
}

// RoomConfig carries a room's collaborators. Zero values fall back to the
// production tick and grace delay.
type RoomConfig struct {
	Recorder      ResultRecorder
	Advancer      BracketAdvancer
	OnTeardown    func(gameID string)
	TickInterval  time.Duration
	TeardownDelay time.Duration
	Clock         func() time.Time
	Log           slog.Logger
}

type slot struct {
	playerID string
	conn     Conn
}

// Room is one live match: a Simulation plus the sockets bound to its two
// sides. Every mutation happens under mu, so input, ticks, pause and reset are
// applied (and broadcast) in a single order.
type Room struct {
	mu sync.Mutex

	id         string
	mode       Mode
	tournament bool
	cfg        RoomConfig
	log        slog.Logger

	sim       *Simulation
	left      *slot
	right     *slot
	localConn Conn
	watchers  map[Conn]string
	leftName  string
	rightName string

	cancel   context.CancelFunc
	closed   bool
	stopOnce sync.Once
}

func NewRoom(id string, mode Mode, tournament bool, cfg RoomConfig) *Room {
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = TickInterval
	}
	if cfg.TeardownDelay <= 0 {
		cfg.TeardownDelay = DefaultTeardownDelay
	}
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.Log == nil {
		cfg.Log = slog.Disabled
	}
	return &Room{
		id:         id,
		mode:       mode,
		tournament: tournament,
		cfg:        cfg,
		log:        cfg.Log,
		sim:        NewSimulation(id, cfg.Clock(), nil),
		watchers:   make(map[Conn]string),
	}
}

func (r *Room) ID() string         { return r.id }
func (r *Room) Mode() Mode         { return r.mode }
func (r *Room) IsTournament() bool { return r.tournament }

func (r *Room) Snapshot() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sim.Snapshot()
}

func (r *Room) LastUpdate() time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sim.LastUpdate()
}

// PlayerIDs lists slot occupants, left first.
func (r *Room) PlayerIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	var ids []string
	if r.left != nil {
		ids = append(ids, r.left.playerID)
	}
	if r.right != nil {
		ids = append(ids, r.right.playerID)
	}
	return ids
}

func (r *Room) IsCreator(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.left != nil && r.left.playerID == playerID
}

func (r *Room) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.readyLocked()
}

func (r *Room) HasPlayer(playerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.sideOfLocked(playerID)
	return ok
}

// Join admits a player or, when the player already holds a side, rebinds
// that side to the new connection without touching the simulation.
func (r *Room) Join(playerID string, conn Conn, displayName string) (Side, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return "", ErrRoomClosed
	}

	if side, ok := r.sideOfLocked(playerID); ok {
		r.log.Infof("Player %s reconnecting to %s side of %s", playerID, side, r.id)
		r.slotLocked(side).conn = conn
		if r.mode == ModeLocal {
			r.localConn = conn
		}
		r.setNameLocked(side, displayName)
		r.announceLocked(side)
		return side, nil
	}

	var side Side
	switch r.mode {
	case ModeLocal:
		if r.left != nil || r.localConn != nil {
			return "", rejectAdmission(conn, ErrLocalOccupied)
		}
		r.left = &slot{playerID: playerID, conn: conn}
		r.localConn = conn
		side = SideLeft
	default:
		switch {
		case r.left == nil:
			r.left = &slot{playerID: playerID, conn: conn}
			side = SideLeft
		case r.right == nil:
			r.right = &slot{playerID: playerID, conn: conn}
			side = SideRight
		default:
			return "", rejectAdmission(conn, ErrRoomFull)
		}
	}

	r.log.Infof("Player %s joined %s side of %s", playerID, side, r.id)
	r.setNameLocked(side, displayName)
	r.announceLocked(side)
	return side, nil
}

// rejectAdmission tells a turned-away socket why and closes it.
func rejectAdmission(conn Conn, err error) error {
	if conn != nil {
		conn.Send(ErrorEvent(err.Error()))
		conn.Close()
	}
	return err
}

// IsRejectedAdmission reports whether err means the room turned the socket
// away and already closed it.
func IsRejectedAdmission(err error) bool {
	return errors.Is(err, ErrRoomFull) || errors.Is(err, ErrLocalOccupied)
}

// Watch attaches an extra observer socket (the terminal client) for a player
// who already holds a side in this room.
func (r *Room) Watch(playerID string, conn Conn) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRoomClosed
	}
	if _, ok := r.sideOfLocked(playerID); !ok {
		return ErrNotInRoom
	}
	r.watchers[conn] = playerID
	conn.Send(PlayerJoinedEvent(PlayerJoined{
		Message:  "Joined game!",
		GameMode: r.mode,
		Ready:    r.readyLocked(),
		State:    r.sim.Snapshot(),
	}))
	return nil
}

// Handle dispatches one room-control message from a joined socket.
func (r *Room) Handle(conn Conn, playerID string, msg Inbound) {
	switch msg.Kind {
	case InboundInput:
		r.Input(conn, playerID, msg.Side, msg.Input)
	case InboundStart:
		r.Start(conn)
	case InboundPause:
		r.Pause()
	case InboundReset:
		r.Reset()
	case InboundJoin:
		conn.Send(ErrorEvent("Already joined this game."))
	default:
		conn.Send(ErrorEvent(fmt.Sprintf("Unknown message type: %s", msg.RawType)))
	}
}

// Input applies held keys. Remote sides come from the sender's slot; local
// games carry an explicit side on every input.
func (r *Room) Input(conn Conn, playerID string, side Side, in Input) {
	r.mu.Lock()
	defer r.mu.Unlock()

	owned, ok := r.sideOfLocked(playerID)
	if !ok {
		conn.Send(ErrorEvent("Unrecognized player."))
		return
	}
	if r.mode == ModeLocal {
		if !side.Valid() {
			conn.Send(ErrorEvent("Missing player side in input."))
			return
		}
		owned = side
	}
	r.sim.SetInput(owned, in)
	r.broadcastLocked(UpdateEvent(r.sim.Snapshot()))
}

// Start begins play once both sides are taken. Only a waiting match starts.
func (r *Room) Start(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return
	}
	if !r.readyLocked() {
		if conn != nil {
			conn.Send(ErrorEvent("Not enough players to start the game."))
		}
		return
	}
	if !r.sim.Start() {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	go r.run(ctx)

	r.log.Infof("Game %s started", r.id)
	r.broadcastLocked(StartEvent(r.sim.Snapshot()))
}

func (r *Room) Pause() {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.sim.TogglePause() {
	case StatusPlaying, StatusPaused:
		r.broadcastLocked(UpdateEvent(r.sim.Snapshot()))
	}
}

// Reset ends the match now. It goes through the normal completion path, which
// skips ranked recording unless a side had already reached the win score.
func (r *Room) Reset() {
	r.mu.Lock()
	if r.closed || !r.sim.Reset(r.cfg.Clock()) {
		r.mu.Unlock()
		return
	}
	r.broadcastLocked(UpdateEvent(r.sim.Snapshot()))
	c := r.completionLocked()
	r.mu.Unlock()

	go r.complete(c)
}

// Disconnect unbinds a socket. The player keeps their side and the match
// keeps running so they can reconnect.
func (r *Room) Disconnect(conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.left != nil && r.left.conn == conn {
		r.left.conn = nil
	}
	if r.right != nil && r.right.conn == conn {
		r.right.conn = nil
	}
	if r.localConn == conn {
		r.localConn = nil
	}
	delete(r.watchers, conn)
}

// Stop cancels the tick loop. Safe to call more than once.
func (r *Room) Stop() {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.closed = true
		if r.cancel != nil {
			r.cancel()
		}
	})
}

func (r *Room) run(ctx context.Context) {
	ticker := time.NewTicker(r.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if r.tick(now) {
				return
			}
		}
	}
}

// tick advances the simulation once. It reports true when the loop is done.
func (r *Room) tick(now time.Time) bool {
	r.mu.Lock()
	if r.closed || r.sim.Status() == StatusFinished {
		r.mu.Unlock()
		return true
	}
	if r.sim.Status() != StatusPlaying {
		r.mu.Unlock()
		return false
	}
	finished := r.sim.Step(now)
	r.broadcastLocked(UpdateEvent(r.sim.Snapshot()))
	if !finished {
		r.mu.Unlock()
		return false
	}
	c := r.completionLocked()
	r.mu.Unlock()

	r.complete(c)
	return true
}

type completion struct {
	result MatchResult
	ranked bool
}

func (r *Room) completionLocked() completion {
	st := r.sim.Snapshot()
	res := MatchResult{
		GameID:     r.id,
		Mode:       r.mode,
		Tournament: r.tournament,
		ScoreLeft:  st.ScoreLeft,
		ScoreRight: st.ScoreRight,
	}
	if r.left != nil {
		res.LeftID = r.left.playerID
	}
	if r.right != nil {
		res.RightID = r.right.playerID
	}

	winScore := st.ScoreRight
	res.WinnerID = res.RightID
	if st.Winner == SideLeft {
		winScore = st.ScoreLeft
		res.WinnerID = res.LeftID
	}

	ranked := winScore == WinScore &&
		((res.LeftID != "" && res.RightID != "" && res.WinnerID != "") ||
			(res.LeftID != "" && r.mode == ModeLocal))
	return completion{result: res, ranked: ranked}
}

// complete records the outcome and schedules teardown. It runs outside the
// room lock because recording touches the database.
func (r *Room) complete(c completion) {
	ctx, cancel := context.WithTimeout(context.Background(), completionTimeout)
	defer cancel()

	res := c.result
	if !c.ranked {
		r.log.Infof("Game %s ended at %d-%d before reaching %d; result not recorded",
			r.id, res.ScoreLeft, res.ScoreRight, WinScore)
	} else {
		if r.cfg.Recorder != nil {
			if err := r.cfg.Recorder.RecordResult(ctx, res); err != nil {
				r.log.Errorf("Failed to record result of %s: %v", r.id, err)
			}
		}
		if r.tournament && r.cfg.Advancer != nil && res.WinnerID != "" {
			if err := r.cfg.Advancer.AdvanceByGame(ctx, r.id, res.WinnerID); err != nil {
				r.log.Errorf("Failed to advance bracket for %s: %v", r.id, err)
			}
		}
	}

	time.AfterFunc(r.cfg.TeardownDelay, func() {
		if r.cfg.OnTeardown != nil {
			r.cfg.OnTeardown(r.id)
			return
		}
		r.Stop()
	})
}

func (r *Room) readyLocked() bool {
	if r.mode == ModeLocal {
		return r.left != nil
	}
	return r.left != nil && r.right != nil
}

func (r *Room) sideOfLocked(playerID string) (Side, bool) {
	if r.left != nil && r.left.playerID == playerID {
		return SideLeft, true
	}
	if r.right != nil && r.right.playerID == playerID {
		return SideRight, true
	}
	return "", false
}

func (r *Room) slotLocked(side Side) *slot {
	if side == SideLeft {
		return r.left
	}
	return r.right
}

func (r *Room) setNameLocked(side Side, name string) {
	if side == SideLeft {
		r.leftName = name
	} else {
		r.rightName = name
	}
}

func (r *Room) announceLocked(side Side) {
	r.broadcastLocked(PlayerJoinedEvent(PlayerJoined{
		Message:       fmt.Sprintf("Player joined side: %s!", side),
		Side:          side,
		Ready:         r.readyLocked(),
		State:         r.sim.Snapshot(),
		LeftUserName:  r.leftName,
		RightUserName: r.rightName,
	}))
}

func (r *Room) broadcastLocked(msg Outbound) {
	if r.mode == ModeLocal {
		if r.localConn != nil {
			r.localConn.Send(msg)
		}
	} else {
		if r.left != nil && r.left.conn != nil {
			r.left.conn.Send(msg)
		}
		if r.right != nil && r.right.conn != nil {
			r.right.conn.Send(msg)
		}
	}
	for conn := range r.watchers {
		conn.Send(msg)
	}
}
