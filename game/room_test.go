package game

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConn struct {
	mu     sync.Mutex
	msgs   []Outbound
	closed bool
}

func (f *fakeConn) Send(msg Outbound) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, msg)
}

func (f *fakeConn) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeConn) count(typ string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, m := range f.msgs {
		if m.Type == typ {
			n++
		}
	}
	return n
}

func (f *fakeConn) last(typ string) (Outbound, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.msgs) - 1; i >= 0; i-- {
		if f.msgs[i].Type == typ {
			return f.msgs[i], true
		}
	}
	return Outbound{}, false
}

func (f *fakeConn) lastError() string {
	msg, ok := f.last(EventError)
	if !ok {
		return ""
	}
	return msg.Data.(ErrorData).Message
}

type fakeRecorder struct {
	results chan MatchResult
}

func (f *fakeRecorder) RecordResult(_ context.Context, res MatchResult) error {
	f.results <- res
	return nil
}

type fakeAdvancer struct {
	mu    sync.Mutex
	calls map[string]string
}

func (f *fakeAdvancer) AdvanceByGame(_ context.Context, gameID, winnerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.calls == nil {
		f.calls = make(map[string]string)
	}
	f.calls[gameID] = winnerID
	return nil
}

func (f *fakeAdvancer) winnerOf(gameID string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[gameID]
}

func testRoomConfig() RoomConfig {
	return RoomConfig{
		TickInterval:  time.Millisecond,
		TeardownDelay: 5 * time.Millisecond,
	}
}

func TestRoom_RemoteJoinFillsSides(t *testing.T) {
	r := NewRoom("g1", ModeRemote, false, testRoomConfig())
	a, b, c := &fakeConn{}, &fakeConn{}, &fakeConn{}

	side, err := r.Join("alice", a, "Alice")
	require.NoError(t, err)
	assert.Equal(t, SideLeft, side)
	assert.False(t, r.Ready())

	side, err = r.Join("bob", b, "Bob")
	require.NoError(t, err)
	assert.Equal(t, SideRight, side)
	assert.True(t, r.Ready())

	_, err = r.Join("carol", c, "Carol")
	assert.ErrorIs(t, err, ErrRoomFull)
	assert.True(t, IsRejectedAdmission(err))
	assert.Equal(t, "game is full", c.lastError())
	assert.True(t, c.closed, "a third player's socket is closed")

	msg, ok := a.last(EventPlayerJoined)
	require.True(t, ok)
	joined := msg.Data.(PlayerJoined)
	assert.Equal(t, SideRight, joined.Side)
	assert.True(t, joined.Ready)
	assert.Equal(t, "Alice", joined.LeftUserName)
	assert.Equal(t, "Bob", joined.RightUserName)
	assert.Zero(t, c.count(EventPlayerJoined))
	assert.Equal(t, []string{"alice", "bob"}, r.PlayerIDs())
	assert.True(t, r.IsCreator("alice"))
	assert.False(t, r.IsCreator("bob"))
}

func TestRoom_ReconnectRebindsSocket(t *testing.T) {
	r := NewRoom("g1", ModeRemote, false, testRoomConfig())
	old, fresh, other := &fakeConn{}, &fakeConn{}, &fakeConn{}

	_, err := r.Join("alice", old, "Alice")
	require.NoError(t, err)
	_, err = r.Join("bob", other, "Bob")
	require.NoError(t, err)

	side, err := r.Join("alice", fresh, "Alice")
	require.NoError(t, err)
	assert.Equal(t, SideLeft, side)
	assert.Equal(t, StatusWaiting, r.Snapshot().Status)

	before := old.count(EventUpdate)
	r.Input(other, "bob", "", Input{PaddleUp: true})
	assert.Equal(t, before, old.count(EventUpdate))
	assert.Equal(t, 1, fresh.count(EventUpdate))
}

func TestRoom_LocalJoin(t *testing.T) {
	r := NewRoom("g1", ModeLocal, false, testRoomConfig())
	a, b := &fakeConn{}, &fakeConn{}

	side, err := r.Join("alice", a, "Alice")
	require.NoError(t, err)
	assert.Equal(t, SideLeft, side)
	assert.True(t, r.Ready())

	_, err = r.Join("bob", b, "Bob")
	assert.ErrorIs(t, err, ErrLocalOccupied)
	assert.True(t, IsRejectedAdmission(err))
	assert.True(t, b.closed)

	// The owner may reconnect.
	fresh := &fakeConn{}
	_, err = r.Join("alice", fresh, "Alice")
	assert.NoError(t, err)
	assert.False(t, fresh.closed)
	assert.False(t, a.closed)
}

func TestRoom_StartNeedsBothPlayers(t *testing.T) {
	r := NewRoom("g1", ModeRemote, false, testRoomConfig())
	defer r.Stop()
	a, b := &fakeConn{}, &fakeConn{}

	_, err := r.Join("alice", a, "")
	require.NoError(t, err)
	r.Start(a)
	assert.Equal(t, "Not enough players to start the game.", a.lastError())
	assert.Equal(t, StatusWaiting, r.Snapshot().Status)

	_, err = r.Join("bob", b, "")
	require.NoError(t, err)
	r.Start(b)
	assert.Equal(t, 1, a.count(EventStart))
	assert.Equal(t, 1, b.count(EventStart))

	require.Eventually(t, func() bool {
		return a.count(EventUpdate) > 3 && b.count(EventUpdate) > 3
	}, time.Second, time.Millisecond)

	// A second start is ignored.
	r.Start(a)
	assert.Equal(t, 1, a.count(EventStart))
}

func TestRoom_InputValidation(t *testing.T) {
	t.Run("remote stranger", func(t *testing.T) {
		r := NewRoom("g1", ModeRemote, false, testRoomConfig())
		a, s := &fakeConn{}, &fakeConn{}
		_, err := r.Join("alice", a, "")
		require.NoError(t, err)

		r.Input(s, "mallory", "", Input{PaddleUp: true})
		assert.Equal(t, "Unrecognized player.", s.lastError())
	})

	t.Run("local without side", func(t *testing.T) {
		r := NewRoom("g1", ModeLocal, false, testRoomConfig())
		a := &fakeConn{}
		_, err := r.Join("alice", a, "")
		require.NoError(t, err)

		r.Input(a, "alice", "", Input{PaddleUp: true})
		assert.Equal(t, "Missing player side in input.", a.lastError())

		r.Input(a, "alice", SideRight, Input{PaddleUp: true})
		assert.Equal(t, 1, a.count(EventUpdate))
	})
}

func TestRoom_HandleUnknownMessage(t *testing.T) {
	r := NewRoom("g1", ModeRemote, false, testRoomConfig())
	a := &fakeConn{}
	_, err := r.Join("alice", a, "")
	require.NoError(t, err)

	r.Handle(a, "alice", Inbound{Kind: InboundUnknown, RawType: "dance"})
	assert.Equal(t, "Unknown message type: dance", a.lastError())
}

func TestRoom_PauseBroadcasts(t *testing.T) {
	r := NewRoom("g1", ModeRemote, false, testRoomConfig())
	defer r.Stop()
	a, b := &fakeConn{}, &fakeConn{}
	_, _ = r.Join("alice", a, "")
	_, _ = r.Join("bob", b, "")

	r.Pause()
	assert.Zero(t, a.count(EventUpdate), "waiting match has nothing to pause")

	r.Start(a)
	r.Pause()
	assert.Equal(t, StatusPaused, r.Snapshot().Status)
	r.Pause()
	assert.Equal(t, StatusPlaying, r.Snapshot().Status)
}

func TestRoom_CompletionRecordsAndAdvances(t *testing.T) {
	rec := &fakeRecorder{results: make(chan MatchResult, 1)}
	adv := &fakeAdvancer{}
	torn := make(chan string, 1)

	cfg := testRoomConfig()
	cfg.Recorder = rec
	cfg.Advancer = adv
	cfg.OnTeardown = func(id string) { torn <- id }

	r := NewRoom("g1", ModeRemote, true, cfg)
	defer r.Stop()
	a, b := &fakeConn{}, &fakeConn{}
	_, _ = r.Join("alice", a, "")
	_, _ = r.Join("bob", b, "")

	// Put the ball one tick from giving right the deciding point.
	r.mu.Lock()
	r.sim.state.ScoreRight = WinScore - 1
	r.sim.state.BallX = 2
	r.sim.state.BallY = 50
	r.sim.ballVX = -5
	r.sim.ballVY = 0
	r.mu.Unlock()

	r.Start(a)

	select {
	case res := <-rec.results:
		assert.Equal(t, "g1", res.GameID)
		assert.Equal(t, "alice", res.LeftID)
		assert.Equal(t, "bob", res.RightID)
		assert.Equal(t, "bob", res.WinnerID)
		assert.Equal(t, WinScore, res.ScoreRight)
		assert.True(t, res.Tournament)
	case <-time.After(time.Second):
		t.Fatal("result was not recorded")
	}

	select {
	case id := <-torn:
		assert.Equal(t, "g1", id)
	case <-time.After(time.Second):
		t.Fatal("room was not torn down")
	}
	assert.Equal(t, "bob", adv.winnerOf("g1"))

	final, ok := a.last(EventUpdate)
	require.True(t, ok)
	assert.Equal(t, StatusFinished, final.Data.(State).Status)
	assert.Equal(t, SideRight, final.Data.(State).Winner)
}

func TestRoom_ResetBeforeWinScoreIsNotRecorded(t *testing.T) {
	rec := &fakeRecorder{results: make(chan MatchResult, 1)}
	torn := make(chan string, 1)

	cfg := testRoomConfig()
	cfg.Recorder = rec
	cfg.OnTeardown = func(id string) { torn <- id }

	r := NewRoom("g1", ModeRemote, false, cfg)
	defer r.Stop()
	a, b := &fakeConn{}, &fakeConn{}
	_, _ = r.Join("alice", a, "")
	_, _ = r.Join("bob", b, "")
	r.Start(a)

	r.Reset()
	assert.Equal(t, StatusFinished, r.Snapshot().Status)

	select {
	case <-torn:
	case <-time.After(time.Second):
		t.Fatal("room was not torn down")
	}
	assert.Empty(t, rec.results)

	// Reset on a finished match does nothing.
	updates := a.count(EventUpdate)
	r.Reset()
	assert.Equal(t, updates, a.count(EventUpdate))
}

func TestRoom_DisconnectKeepsSide(t *testing.T) {
	r := NewRoom("g1", ModeRemote, false, testRoomConfig())
	a, b := &fakeConn{}, &fakeConn{}
	_, _ = r.Join("alice", a, "")
	_, _ = r.Join("bob", b, "")

	r.Disconnect(a)
	assert.True(t, r.HasPlayer("alice"))
	assert.True(t, r.Ready())

	r.Input(b, "bob", "", Input{PaddleDown: true})
	assert.Zero(t, a.count(EventUpdate))
	assert.Equal(t, 1, b.count(EventUpdate))
}

func TestRoom_WatchRequiresParticipant(t *testing.T) {
	r := NewRoom("g1", ModeRemote, false, testRoomConfig())
	a, cli, stranger := &fakeConn{}, &fakeConn{}, &fakeConn{}
	_, _ = r.Join("alice", a, "")

	assert.ErrorIs(t, r.Watch("mallory", stranger), ErrNotInRoom)
	require.NoError(t, r.Watch("alice", cli))
	assert.Equal(t, 1, cli.count(EventPlayerJoined))

	_, _ = r.Join("bob", &fakeConn{}, "")
	assert.Equal(t, 2, cli.count(EventPlayerJoined))
}

func TestRoom_StopIsIdempotent(t *testing.T) {
	r := NewRoom("g1", ModeRemote, false, testRoomConfig())
	a, b := &fakeConn{}, &fakeConn{}
	_, _ = r.Join("alice", a, "")
	_, _ = r.Join("bob", b, "")
	r.Start(a)

	r.Stop()
	r.Stop()

	_, err := r.Join("carol", &fakeConn{}, "")
	assert.ErrorIs(t, err, ErrRoomClosed)

	// Let any in-flight tick drain, then confirm the loop is gone.
	time.Sleep(10 * time.Millisecond)
	n := a.count(EventUpdate)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, n, a.count(EventUpdate))
}

func TestRoom_ReconnectMidMatchKeepsState(t *testing.T) {
	r := NewRoom("g1", ModeRemote, false, testRoomConfig())
	defer r.Stop()
	a, b := &fakeConn{}, &fakeConn{}
	_, _ = r.Join("alice", a, "Alice")
	_, _ = r.Join("bob", b, "Bob")
	r.Start(a)
	r.Pause()

	r.mu.Lock()
	r.sim.state.ScoreLeft = 3
	r.sim.state.ScoreRight = 2
	r.sim.state.PaddleLeftY = 120
	r.sim.state.PaddleRightY = 410
	r.sim.state.BallX = 640
	r.sim.state.BallY = 90
	r.mu.Unlock()
	before := r.Snapshot()

	r.Disconnect(a)
	fresh := &fakeConn{}
	side, err := r.Join("alice", fresh, "Alice")
	require.NoError(t, err)
	assert.Equal(t, SideLeft, side)

	assert.Equal(t, before, r.Snapshot())
	msg, ok := fresh.last(EventPlayerJoined)
	require.True(t, ok)
	assert.Equal(t, before, msg.Data.(PlayerJoined).State)

	// Play resumes from where it was.
	r.Pause()
	assert.Equal(t, StatusPlaying, r.Snapshot().Status)
	assert.Equal(t, 3, r.Snapshot().ScoreLeft)
	assert.Equal(t, 2, r.Snapshot().ScoreRight)
}

func TestRoom_ResetMidMatchIsNotRecorded(t *testing.T) {
	rec := &fakeRecorder{results: make(chan MatchResult, 1)}
	torn := make(chan string, 1)

	cfg := testRoomConfig()
	cfg.Recorder = rec
	cfg.OnTeardown = func(id string) { torn <- id }

	r := NewRoom("g1", ModeRemote, false, cfg)
	defer r.Stop()
	a, b := &fakeConn{}, &fakeConn{}
	_, _ = r.Join("alice", a, "")
	_, _ = r.Join("bob", b, "")
	r.Start(a)
	r.Pause()

	r.mu.Lock()
	r.sim.state.ScoreLeft = 3
	r.sim.state.ScoreRight = 2
	r.mu.Unlock()

	r.Reset()
	st := r.Snapshot()
	assert.Equal(t, StatusFinished, st.Status)
	assert.Equal(t, SideLeft, st.Winner)

	select {
	case <-torn:
	case <-time.After(time.Second):
		t.Fatal("room was not torn down")
	}
	assert.Empty(t, rec.results)
}

func TestRoom_ResetAfterFinishRecordsOnce(t *testing.T) {
	rec := &fakeRecorder{results: make(chan MatchResult, 2)}
	torn := make(chan string, 1)

	cfg := testRoomConfig()
	cfg.Recorder = rec
	cfg.OnTeardown = func(id string) { torn <- id }

	r := NewRoom("g1", ModeRemote, false, cfg)
	defer r.Stop()
	a, b := &fakeConn{}, &fakeConn{}
	_, _ = r.Join("alice", a, "")
	_, _ = r.Join("bob", b, "")

	// Left is one point from winning 5-2.
	r.mu.Lock()
	r.sim.state.ScoreLeft = WinScore - 1
	r.sim.state.ScoreRight = 2
	r.sim.state.BallX = Width - 2
	r.sim.state.BallY = 50
	r.sim.ballVX = 5
	r.sim.ballVY = 0
	r.mu.Unlock()

	r.Start(a)

	select {
	case res := <-rec.results:
		assert.Equal(t, "alice", res.WinnerID)
		assert.Equal(t, WinScore, res.ScoreLeft)
		assert.Equal(t, 2, res.ScoreRight)
	case <-time.After(time.Second):
		t.Fatal("result was not recorded")
	}

	r.Reset()

	select {
	case <-torn:
	case <-time.After(time.Second):
		t.Fatal("room was not torn down")
	}
	assert.Empty(t, rec.results, "reset after the end records nothing more")
	assert.Equal(t, WinScore, r.Snapshot().ScoreLeft)
}
