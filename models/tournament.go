package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Tournament lifecycle.
const (
	TournamentPending   = "pending"
	TournamentActive    = "active"
	TournamentCompleted = "completed"
	TournamentCancelled = "cancelled"
)

// Participant lifecycle.
const (
	ParticipantActive     = "active"
	ParticipantEliminated = "eliminated"
	ParticipantWinner     = "winner"
)

// Bracket match lifecycle. The final is scheduled from the start and stays
// unplayable until both semifinal winners fill its slots.
const (
	MatchScheduled  = "scheduled"
	MatchInProgress = "in_progress"
	MatchCompleted  = "completed"
	MatchCancelled  = "cancelled"
)

// BracketSize is the number of players in a bracket.
const BracketSize = 4

// Tournament is a 4-player single-elimination bracket.
type Tournament struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	Slug        string     `json:"slug" gorm:"uniqueIndex;not null"`
	Name        string     `json:"name" gorm:"not null"`
	Description string     `json:"description"`
	Status      string     `json:"status" gorm:"type:varchar(16);not null;index"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`

	// Calculated fields (not stored in DB)
	CurrentParticipants int64 `json:"current_participants" gorm:"-"`
}

func (t *Tournament) BeforeCreate(tx *gorm.DB) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	return nil
}

// TournamentParticipant is one registered player. Position is the 1-based
// registration order, used to break seeding ties.
type TournamentParticipant struct {
	ID           string    `json:"id" gorm:"primaryKey"`
	TournamentID string    `json:"tournament_id" gorm:"not null;uniqueIndex:idx_participant_user;uniqueIndex:idx_participant_alias"`
	UserID       string    `json:"user_id" gorm:"not null;uniqueIndex:idx_participant_user;index"`
	Alias        string    `json:"alias" gorm:"not null;uniqueIndex:idx_participant_alias"`
	Status       string    `json:"status" gorm:"type:varchar(16);not null"`
	Position     int       `json:"position"`
	Seed         int       `json:"seed"`
	JoinedAt     time.Time `json:"joined_at"`
}

func (p *TournamentParticipant) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	return nil
}

// TournamentMatch is one bracket slot: round 1 holds matches 1 and 2, round 2
// holds the final.
type TournamentMatch struct {
	ID           string     `json:"id" gorm:"primaryKey"`
	TournamentID string     `json:"tournament_id" gorm:"not null;uniqueIndex:idx_bracket_slot"`
	Round        int        `json:"round" gorm:"not null;uniqueIndex:idx_bracket_slot"`
	MatchNumber  int        `json:"match_number" gorm:"not null;uniqueIndex:idx_bracket_slot"`
	Player1ID    *string    `json:"player1_id"`
	Player2ID    *string    `json:"player2_id"`
	WinnerID     *string    `json:"winner_id"`
	GameID       *string    `json:"game_id" gorm:"index"`
	Status       string     `json:"status" gorm:"type:varchar(16);not null"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

func (m *TournamentMatch) BeforeCreate(tx *gorm.DB) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	return nil
}

// Open reports whether the match can still be played or decided.
func (m *TournamentMatch) Open() bool {
	return m.Status == MatchScheduled || m.Status == MatchInProgress
}

// HasPlayer reports whether userID occupies either slot.
func (m *TournamentMatch) HasPlayer(userID string) bool {
	return (m.Player1ID != nil && *m.Player1ID == userID) ||
		(m.Player2ID != nil && *m.Player2ID == userID)
}

// MatchView is a bracket match with the names clients render.
type MatchView struct {
	TournamentMatch
	Player1Alias    string `json:"player1_alias,omitempty"`
	Player2Alias    string `json:"player2_alias,omitempty"`
	Player1Username string `json:"player1_username,omitempty"`
	Player2Username string `json:"player2_username,omitempty"`
}

// ParticipantView is a participant with their current rating.
type ParticipantView struct {
	UserID   string `json:"id"`
	Username string `json:"username"`
	Alias    string `json:"alias"`
	Status   string `json:"status"`
	Seed     int    `json:"seed"`
	Elo      *int   `json:"elo"`
}

// UserTournament is a tournament as seen by one of its participants.
type UserTournament struct {
	Tournament
	ParticipantStatus string `json:"participant_status"`
	Alias             string `json:"alias"`
}

// TournamentDetails is the full bracket of a tournament.
type TournamentDetails struct {
	Tournament   Tournament        `json:"tournament"`
	Matches      []MatchView       `json:"matches"`
	Participants []ParticipantView `json:"participants"`
}
