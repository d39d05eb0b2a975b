// game/simulation.go
package game

import (
	"math/rand"
	"time"
)

// Playfield geometry and match rules.
const (
	Width        = 800
	Height       = 600
	PaddleHeight = 100
	PaddleWidth  = 10
	BallSize     = 30
	WinScore     = 5

	TickInterval = 16 * time.Millisecond

	maxPaddleSpeed = 10
	serveSpeedX    = 3
	serveSpeedY    = 5
)

type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusPlaying  Status = "playing"
	StatusPaused   Status = "paused"
	StatusFinished Status = "finished"
)

type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

func (s Side) Valid() bool {
	return s == SideLeft || s == SideRight
}

// Input is the held-key state for one paddle.
type Input struct {
	PaddleUp   bool `json:"paddleUp"`
	PaddleDown bool `json:"paddleDown"`
}

// State is the client-visible snapshot of a match.
type State struct {
	ID             string  `json:"id"`
	Status         Status  `json:"status"`
	PaddleLeftY    float64 `json:"paddleLeftY"`
	PaddleRightY   float64 `json:"paddleRightY"`
	BallX          float64 `json:"ballX"`
	BallY          float64 `json:"ballY"`
	ScoreLeft      int     `json:"scoreLeft"`
	ScoreRight     int     `json:"scoreRight"`
	Winner         Side    `json:"winner,omitempty"`
	LastUpdateTime int64   `json:"lastUpdateTime"`
}

// Simulation is the physics and scoring state machine of one match. It owns no
// timers and performs no I/O; the owning Room drives Step on its tick.
type Simulation struct {
	state      State
	lastUpdate time.Time

	ballVX, ballVY  float64
	leftSpeed       float64
	rightSpeed      float64
	leftIn, rightIn Input
	rng             *rand.Rand
}

func NewSimulation(id string, now time.Time, rng *rand.Rand) *Simulation {
	if rng == nil {
		rng = rand.New(rand.NewSource(now.UnixNano()))
	}
	s := &Simulation{
		state: State{
			ID:           id,
			Status:       StatusWaiting,
			PaddleLeftY:  250,
			PaddleRightY: 250,
			BallX:        400,
			BallY:        300,
		},
		ballVX:     5,
		ballVY:     3,
		leftSpeed:  5,
		rightSpeed: 5,
		rng:        rng,
	}
	s.touch(now)
	return s
}

// Start moves a waiting match to playing. Any other status is left alone.
func (s *Simulation) Start() bool {
	if s.state.Status != StatusWaiting {
		return false
	}
	s.state.Status = StatusPlaying
	return true
}

// Step advances one tick. It reports true when this tick ended the match.
func (s *Simulation) Step(now time.Time) bool {
	if s.state.Status != StatusPlaying {
		return false
	}
	finished := s.moveBall()
	s.movePaddles()
	s.touch(now)
	return finished
}

// SetInput records held keys for a side. Inputs are only taken while a match
// is in play or paused.
func (s *Simulation) SetInput(side Side, in Input) bool {
	if s.state.Status != StatusPlaying && s.state.Status != StatusPaused {
		return false
	}
	switch side {
	case SideLeft:
		s.leftIn = in
	case SideRight:
		s.rightIn = in
	default:
		return false
	}
	return true
}

// TogglePause flips playing and paused and returns the resulting status.
func (s *Simulation) TogglePause() Status {
	switch s.state.Status {
	case StatusPlaying:
		s.state.Status = StatusPaused
	case StatusPaused:
		s.state.Status = StatusPlaying
	}
	return s.state.Status
}

// Reset ends the match early. The side ahead on score wins; a tie goes right.
// A match that already finished is not reset again.
func (s *Simulation) Reset(now time.Time) bool {
	if s.state.Status == StatusFinished {
		return false
	}
	winner := SideRight
	if s.state.ScoreLeft > s.state.ScoreRight {
		winner = SideLeft
	}
	s.finish(winner)
	s.touch(now)
	return true
}

func (s *Simulation) Status() Status {
	return s.state.Status
}

func (s *Simulation) LastUpdate() time.Time {
	return s.lastUpdate
}

func (s *Simulation) Snapshot() State {
	return s.state
}

func (s *Simulation) touch(now time.Time) {
	s.lastUpdate = now
	s.state.LastUpdateTime = now.UnixMilli()
}

func (s *Simulation) moveBall() bool {
	st := &s.state
	st.BallX += s.ballVX
	st.BallY += s.ballVY

	// Left is checked first, so a tick touching both paddles resolves left.
	if st.BallX <= PaddleWidth && s.overlapsPaddle(st.PaddleLeftY) {
		s.ballVX = abs(s.ballVX)
		return false
	}
	if st.BallX >= Width-PaddleWidth-BallSize && s.overlapsPaddle(st.PaddleRightY) {
		s.ballVX = -abs(s.ballVX)
		return false
	}

	if st.BallY <= 0 || st.BallY >= Height-BallSize {
		s.ballVY = -s.ballVY
	}

	if st.BallX <= 0 || st.BallX >= Width {
		rightScored := st.BallX <= 0
		side, score := SideLeft, 0
		if rightScored {
			st.ScoreRight++
			side, score = SideRight, st.ScoreRight
		} else {
			st.ScoreLeft++
			score = st.ScoreLeft
		}
		if score >= WinScore {
			s.finish(side)
			return true
		}
		s.serve()
	}
	return false
}

func (s *Simulation) overlapsPaddle(paddleY float64) bool {
	y := s.state.BallY
	return y+BallSize >= paddleY && y <= paddleY+PaddleHeight
}

func (s *Simulation) movePaddles() {
	s.leftSpeed = accelerate(s.leftSpeed, s.leftIn)
	s.rightSpeed = accelerate(s.rightSpeed, s.rightIn)
	s.state.PaddleLeftY = clamp(s.state.PaddleLeftY+s.leftSpeed, 0, Height-PaddleHeight)
	s.state.PaddleRightY = clamp(s.state.PaddleRightY+s.rightSpeed, 0, Height-PaddleHeight)
}

// accelerate ramps paddle speed by one unit per tick toward the held direction
// and decays it by one unit per tick toward zero when nothing (or both) is held.
func accelerate(speed float64, in Input) float64 {
	switch {
	case in.PaddleUp && !in.PaddleDown:
		return max(speed-1, -maxPaddleSpeed)
	case in.PaddleDown && !in.PaddleUp:
		return min(speed+1, maxPaddleSpeed)
	case speed > 0:
		return max(speed-1, 0)
	default:
		return min(speed+1, 0)
	}
}

func (s *Simulation) serve() {
	s.state.BallX = Width/2 - BallSize/2
	s.state.BallY = Height/2 - BallSize/2
	s.ballVX = serveSpeedX
	if s.rng.Float64() <= 0.5 {
		s.ballVX = -serveSpeedX
	}
	s.ballVY = serveSpeedY
	if s.rng.Float64() <= 0.5 {
		s.ballVY = -serveSpeedY
	}
}

func (s *Simulation) finish(winner Side) {
	s.state.Status = StatusFinished
	s.state.Winner = winner
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clamp(v, lo, hi float64) float64 {
	return max(lo, min(v, hi))
}
