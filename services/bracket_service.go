// services/bracket_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"pong-arena/game"
	"pong-arena/models"

	"github.com/decred/slog"
	"github.com/google/uuid"
	"github.com/gosimple/slug"
	"github.com/lithammer/fuzzysearch/fuzzy"
	"golang.org/x/text/unicode/norm"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	ErrTournamentNotFound    = errors.New("tournament not found")
	ErrTournamentClosed      = errors.New("tournament not found or registration closed")
	ErrAlreadyRegistered     = errors.New("you are already registered for this tournament")
	ErrAliasTaken            = errors.New("this alias is already taken in this tournament")
	ErrTournamentFull        = errors.New("tournament is full")
	ErrInvalidAlias          = errors.New("a valid alias between 3 and 20 characters is required")
	ErrInvalidTournamentName = errors.New("tournament name is required")
	ErrWrongParticipantCount = errors.New("tournament must have exactly 4 participants to start")
	ErrMatchNotFound         = errors.New("match not found or you are not a participant")
	ErrMatchNotReady         = errors.New("match does not have both players yet")
	ErrWinnerNotInMatch      = errors.New("winner is not a player of this match")
	ErrBracketUndecided      = errors.New("bracket could not be decided")
)

const (
	aliasMinLen = 3
	aliasMaxLen = 20

	// AbandonAfter is how long a tournament may wait for its 4th player.
	AbandonAfter = 7 * 24 * time.Hour
	// StuckAfter is how long a bracket may stay active before it is decided
	// on ratings.
	StuckAfter = 3 * 24 * time.Hour
)

// SessionCreator is the slice of the session registry the bracket needs.
type SessionCreator interface {
	Create(mode game.Mode, tournament bool) (string, error)
	Get(gameID string) (*game.Room, bool)
	Destroy(gameID string) bool
}

// RatingSource reads current ratings inside the caller's transaction.
type RatingSource interface {
	Ratings(tx *gorm.DB, userIDs ...string) (map[string]int, error)
}

// BracketEvents delivers pushed events to online users.
type BracketEvents interface {
	SendToUser(userID string, msg game.Outbound) bool
	IsOnline(userID string) bool
	OnlineUsers() []string
}

// BracketArchiver stores a finished bracket outside the database.
type BracketArchiver interface {
	PutJSON(ctx context.Context, key string, v any) (string, error)
}

type BracketDeps struct {
	Sessions SessionCreator
	Ratings  RatingSource
	Events   BracketEvents
	Archive  BracketArchiver
	Log      slog.Logger
}

// BracketService runs the 4-player single-elimination tournaments: registration,
// seeding, match to game binding, advancement and the stalled-bracket sweep.
// Every bracket mutation is one transaction; events are pushed only after it
// commits.
type BracketService struct {
	DB       *gorm.DB
	sessions SessionCreator
	ratings  RatingSource
	events   BracketEvents
	archive  BracketArchiver
	log      slog.Logger
	now      func() time.Time
}

func NewBracketService(db *gorm.DB, deps BracketDeps) *BracketService {
	if deps.Log == nil {
		deps.Log = slog.Disabled
	}
	return &BracketService{
		DB:       db,
		sessions: deps.Sessions,
		ratings:  deps.Ratings,
		events:   deps.Events,
		archive:  deps.Archive,
		log:      deps.Log,
		now:      time.Now,
	}
}

func (s *BracketService) clock() time.Time {
	return s.now().UTC()
}

// CreateTournament opens a new pending tournament.
func (s *BracketService) CreateTournament(ctx context.Context, name, description string) (models.Tournament, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return models.Tournament{}, ErrInvalidTournamentName
	}
	id := uuid.NewString()
	t := models.Tournament{
		ID:          id,
		Slug:        slug.Make(name) + "-" + id[:8],
		Name:        name,
		Description: strings.TrimSpace(description),
		Status:      models.TournamentPending,
		CreatedAt:   s.clock(),
	}
	if err := s.DB.WithContext(ctx).Create(&t).Error; err != nil {
		return models.Tournament{}, fmt.Errorf("create tournament: %w", err)
	}
	s.log.Infof("Created tournament %s (%s)", t.Name, t.ID)
	s.flush(ctx, []bracketEvent{{kind: game.EventTournamentUpdate, message: "A new tournament was created"}})
	return t, nil
}

// normalizeAlias trims and NFC-normalises an alias so visually identical
// aliases collide on the unique index.
func normalizeAlias(alias string) (string, error) {
	alias = norm.NFC.String(strings.TrimSpace(alias))
	if n := utf8.RuneCountInString(alias); n < aliasMinLen || n > aliasMaxLen {
		return "", ErrInvalidAlias
	}
	return alias, nil
}

// Register adds userID to a pending tournament under alias. The 4th
// registration seeds the bracket and starts the tournament in the same
// transaction. It reports whether the tournament started.
func (s *BracketService) Register(ctx context.Context, tournamentID, userID, alias string) (bool, error) {
	alias, err := normalizeAlias(alias)
	if err != nil {
		return false, err
	}

	var started bool
	var events []bracketEvent
	err = s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Tournament
		if err := lockForUpdate(tx).Where("id = ?", tournamentID).First(&t).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTournamentClosed
			}
			return err
		}
		if t.Status != models.TournamentPending {
			return ErrTournamentClosed
		}

		var existing []models.TournamentParticipant
		if err := tx.Where("tournament_id = ?", t.ID).Find(&existing).Error; err != nil {
			return err
		}
		for _, p := range existing {
			if p.UserID == userID {
				return ErrAlreadyRegistered
			}
		}
		for _, p := range existing {
			if p.Alias == alias {
				return ErrAliasTaken
			}
		}
		if len(existing) >= models.BracketSize {
			return ErrTournamentFull
		}

		p := models.TournamentParticipant{
			TournamentID: t.ID,
			UserID:       userID,
			Alias:        alias,
			Status:       models.ParticipantActive,
			Position:     len(existing) + 1,
			JoinedAt:     s.clock(),
		}
		if err := tx.Create(&p).Error; err != nil {
			return fmt.Errorf("add participant: %w", err)
		}
		events = append(events, bracketEvent{
			kind:         game.EventParticipantJoined,
			tournamentID: t.ID,
			userID:       userID,
			message:      fmt.Sprintf("%s has joined the tournament!", alias),
		})

		if p.Position == models.BracketSize {
			if err := s.start(tx, &t); err != nil {
				return err
			}
			started = true
			events = append(events, bracketEvent{
				kind:         game.EventTournamentStarted,
				tournamentID: t.ID,
				message:      "The tournament has started! The bracket is now available.",
			})
		}
		return nil
	})
	if err != nil {
		return false, err
	}

	s.log.Infof("User %s registered for %s as %q (started=%v)", userID, tournamentID, alias, started)
	events = append(events, bracketEvent{
		kind:    game.EventTournamentUpdate,
		message: "A new participant joined a tournament!",
	})
	s.flush(ctx, events)
	return started, nil
}

// StartTournament seeds and starts a pending tournament that has exactly 4
// participants.
func (s *BracketService) StartTournament(ctx context.Context, tournamentID string) error {
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Tournament
		if err := lockForUpdate(tx).Where("id = ?", tournamentID).First(&t).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrTournamentNotFound
			}
			return err
		}
		if t.Status != models.TournamentPending {
			return ErrTournamentClosed
		}
		return s.start(tx, &t)
	})
	if err != nil {
		return err
	}
	s.flush(ctx, []bracketEvent{
		{kind: game.EventTournamentStarted, tournamentID: tournamentID, message: "The tournament has started! The bracket is now available."},
		{kind: game.EventTournamentUpdate, message: "A tournament has started"},
	})
	return nil
}

// start seeds the bracket: #1 v #4 and #2 v #3 in round one, and an empty final.
func (s *BracketService) start(tx *gorm.DB, t *models.Tournament) error {
	var participants []models.TournamentParticipant
	if err := tx.Where("tournament_id = ?", t.ID).Order("position").Find(&participants).Error; err != nil {
		return err
	}
	if len(participants) != models.BracketSize {
		return ErrWrongParticipantCount
	}

	ids := make([]string, len(participants))
	for i, p := range participants {
		ids[i] = p.UserID
	}
	ratings, err := s.ratings.Ratings(tx, ids...)
	if err != nil {
		return fmt.Errorf("load ratings: %w", err)
	}
	seeded := seedOrder(participants, ratings)

	for i, p := range seeded {
		err := tx.Model(&models.TournamentParticipant{}).Where("id = ?", p.ID).
			Update("seed", i+1).Error
		if err != nil {
			return fmt.Errorf("seed participant: %w", err)
		}
	}

	matches := []models.TournamentMatch{
		{TournamentID: t.ID, Round: 1, MatchNumber: 1, Player1ID: &seeded[0].UserID, Player2ID: &seeded[3].UserID, Status: models.MatchScheduled},
		{TournamentID: t.ID, Round: 1, MatchNumber: 2, Player1ID: &seeded[1].UserID, Player2ID: &seeded[2].UserID, Status: models.MatchScheduled},
		{TournamentID: t.ID, Round: 2, MatchNumber: 1, Status: models.MatchScheduled},
	}
	if err := tx.Create(&matches).Error; err != nil {
		return fmt.Errorf("create bracket: %w", err)
	}

	now := s.clock()
	if err := tx.Model(&models.Tournament{}).Where("id = ?", t.ID).
		Updates(map[string]any{"status": models.TournamentActive, "started_at": now}).Error; err != nil {
		return fmt.Errorf("activate tournament: %w", err)
	}
	t.Status = models.TournamentActive
	t.StartedAt = &now
	s.log.Infof("Tournament %s started: %s v %s, %s v %s", t.ID,
		seeded[0].Alias, seeded[3].Alias, seeded[1].Alias, seeded[2].Alias)
	return nil
}

// seedOrder sorts by rating descending. Players without a rating go last and
// ties keep registration order.
func seedOrder(ps []models.TournamentParticipant, ratings map[string]int) []models.TournamentParticipant {
	out := append([]models.TournamentParticipant(nil), ps...)
	sort.SliceStable(out, func(i, j int) bool {
		ri, okI := ratings[out[i].UserID]
		rj, okJ := ratings[out[j].UserID]
		if okI && okJ {
			return ri > rj
		}
		return okI && !okJ
	})
	return out
}

// JoinMatch returns the game session for a bracket match, creating it on first
// use. Only the match's players may join, and only while it is playable.
func (s *BracketService) JoinMatch(ctx context.Context, matchID, userID string) (string, error) {
	var gameID, tournamentID string
	var created string
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.TournamentMatch
		if err := lockForUpdate(tx).Where("id = ?", matchID).First(&m).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrMatchNotFound
			}
			return err
		}
		if !m.HasPlayer(userID) || !m.Open() {
			return ErrMatchNotFound
		}
		if m.Player1ID == nil || m.Player2ID == nil {
			return ErrMatchNotReady
		}
		tournamentID = m.TournamentID

		if m.GameID != nil {
			if _, live := s.sessions.Get(*m.GameID); live {
				gameID = *m.GameID
				return nil
			}
			s.log.Warnf("Session %s for match %s is gone, creating a new one", *m.GameID, m.ID)
		}

		id, err := s.sessions.Create(game.ModeRemote, true)
		if err != nil {
			return err
		}
		created = id
		if err := tx.Model(&models.TournamentMatch{}).Where("id = ?", m.ID).
			Updates(map[string]any{"game_id": id, "status": models.MatchInProgress}).Error; err != nil {
			return fmt.Errorf("bind match to game: %w", err)
		}
		gameID = id
		return nil
	})
	if err != nil {
		if created != "" {
			s.sessions.Destroy(created)
		}
		return "", err
	}

	if created != "" {
		s.log.Infof("Match %s bound to game %s", matchID, created)
		s.flush(ctx, []bracketEvent{{
			kind:         game.EventMatchUpdated,
			tournamentID: tournamentID,
			matchID:      matchID,
		}})
	}
	return gameID, nil
}

// AdvanceByGame records the winner of the bracket match linked to gameID.
// Games that are not linked to a bracket are ignored.
func (s *BracketService) AdvanceByGame(ctx context.Context, gameID, winnerID string) error {
	var events []bracketEvent
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var m models.TournamentMatch
		err := lockForUpdate(tx).Where("game_id = ?", gameID).First(&m).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return s.advance(tx, &m, winnerID, &events)
	})
	if err != nil {
		return fmt.Errorf("advance bracket for game %s: %w", gameID, err)
	}
	s.flush(ctx, events)
	return nil
}

// advance decides one open match and applies its consequences: the loser is
// eliminated, a semifinal winner fills their final slot, and the final
// completes the tournament. A match that is no longer open is left as is, so
// organic completion and the reconciler can race safely.
func (s *BracketService) advance(tx *gorm.DB, m *models.TournamentMatch, winnerID string, events *[]bracketEvent) error {
	if !m.Open() {
		return nil
	}
	if m.Player1ID == nil || m.Player2ID == nil {
		return ErrMatchNotReady
	}
	if !m.HasPlayer(winnerID) {
		return ErrWinnerNotInMatch
	}
	loserID := *m.Player1ID
	if loserID == winnerID {
		loserID = *m.Player2ID
	}

	now := s.clock()
	res := tx.Model(&models.TournamentMatch{}).
		Where("id = ? AND status IN ?", m.ID, []string{models.MatchScheduled, models.MatchInProgress}).
		Updates(map[string]any{"winner_id": winnerID, "status": models.MatchCompleted, "completed_at": now})
	if res.Error != nil {
		return fmt.Errorf("complete match: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil
	}
	m.WinnerID = &winnerID
	m.Status = models.MatchCompleted
	m.CompletedAt = &now

	if err := s.setParticipantStatus(tx, m.TournamentID, loserID, models.ParticipantEliminated); err != nil {
		return err
	}
	*events = append(*events, bracketEvent{
		kind:         game.EventMatchUpdated,
		tournamentID: m.TournamentID,
		matchID:      m.ID,
	})

	if m.Round == 1 {
		return s.promote(tx, m, winnerID, events)
	}
	return s.complete(tx, m.TournamentID, winnerID, events)
}

// promote writes a semifinal winner into the final: match 1 feeds player1,
// match 2 feeds player2.
func (s *BracketService) promote(tx *gorm.DB, semi *models.TournamentMatch, winnerID string, events *[]bracketEvent) error {
	var final models.TournamentMatch
	if err := tx.Where("tournament_id = ? AND round = ? AND match_number = ?", semi.TournamentID, 2, 1).
		First(&final).Error; err != nil {
		return fmt.Errorf("load final: %w", err)
	}

	field := "player1_id"
	if semi.MatchNumber == 2 {
		field = "player2_id"
	}
	if err := tx.Model(&models.TournamentMatch{}).Where("id = ?", final.ID).Update(field, winnerID).Error; err != nil {
		return fmt.Errorf("promote winner: %w", err)
	}
	if field == "player1_id" {
		final.Player1ID = &winnerID
	} else {
		final.Player2ID = &winnerID
	}

	if final.Player1ID != nil && final.Player2ID != nil {
		*events = append(*events, bracketEvent{
			kind:         game.EventMatchUpdated,
			tournamentID: semi.TournamentID,
			matchID:      final.ID,
		})
	}
	return nil
}

func (s *BracketService) complete(tx *gorm.DB, tournamentID, winnerID string, events *[]bracketEvent) error {
	now := s.clock()
	if err := tx.Model(&models.Tournament{}).Where("id = ?", tournamentID).
		Updates(map[string]any{"status": models.TournamentCompleted, "completed_at": now}).Error; err != nil {
		return fmt.Errorf("complete tournament: %w", err)
	}
	if err := s.setParticipantStatus(tx, tournamentID, winnerID, models.ParticipantWinner); err != nil {
		return err
	}
	if err := tx.Model(&models.TournamentParticipant{}).
		Where("tournament_id = ? AND user_id <> ?", tournamentID, winnerID).
		Update("status", models.ParticipantEliminated).Error; err != nil {
		return fmt.Errorf("eliminate participants: %w", err)
	}
	*events = append(*events, bracketEvent{
		kind:         game.EventTournamentCompleted,
		tournamentID: tournamentID,
		userID:       winnerID,
	})
	s.log.Infof("Tournament %s completed, champion %s", tournamentID, winnerID)
	return nil
}

func (s *BracketService) setParticipantStatus(tx *gorm.DB, tournamentID, userID, status string) error {
	err := tx.Model(&models.TournamentParticipant{}).
		Where("tournament_id = ? AND user_id = ?", tournamentID, userID).
		Update("status", status).Error
	if err != nil {
		return fmt.Errorf("set participant %s %s: %w", userID, status, err)
	}
	return nil
}

// ReconcileReport counts what one sweep changed.
type ReconcileReport struct {
	Cancelled int
	Completed int
}

// Reconcile cancels tournaments that never filled and force-completes
// brackets that stalled, deciding each open match for the player with the
// higher current rating (player1 on ties).
func (s *BracketService) Reconcile(ctx context.Context) (ReconcileReport, error) {
	var report ReconcileReport
	now := s.clock()

	var abandoned []models.Tournament
	if err := s.DB.WithContext(ctx).
		Where("status = ? AND created_at < ?", models.TournamentPending, now.Add(-AbandonAfter)).
		Find(&abandoned).Error; err != nil {
		return report, fmt.Errorf("find abandoned tournaments: %w", err)
	}
	for _, t := range abandoned {
		ok, err := s.cancelAbandoned(ctx, t.ID)
		if err != nil {
			s.log.Errorf("Failed to cancel tournament %s: %v", t.ID, err)
			continue
		}
		if ok {
			report.Cancelled++
		}
	}

	var stuck []models.Tournament
	if err := s.DB.WithContext(ctx).
		Where("status = ? AND COALESCE(started_at, created_at) < ?", models.TournamentActive, now.Add(-StuckAfter)).
		Find(&stuck).Error; err != nil {
		return report, fmt.Errorf("find stuck tournaments: %w", err)
	}
	for _, t := range stuck {
		ok, err := s.forceComplete(ctx, t.ID)
		if err != nil {
			s.log.Errorf("Failed to force-complete tournament %s: %v", t.ID, err)
			continue
		}
		if ok {
			report.Completed++
		}
	}

	if report.Cancelled > 0 || report.Completed > 0 {
		s.log.Infof("Reconciled tournaments: %d cancelled, %d force-completed", report.Cancelled, report.Completed)
	}
	return report, nil
}

func (s *BracketService) cancelAbandoned(ctx context.Context, tournamentID string) (bool, error) {
	var cancelled bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Tournament
		if err := lockForUpdate(tx).Where("id = ?", tournamentID).First(&t).Error; err != nil {
			return err
		}
		if t.Status != models.TournamentPending {
			return nil
		}
		var count int64
		if err := tx.Model(&models.TournamentParticipant{}).Where("tournament_id = ?", t.ID).Count(&count).Error; err != nil {
			return err
		}
		if count >= models.BracketSize {
			return nil
		}
		cancelled = true
		return tx.Model(&models.Tournament{}).Where("id = ?", t.ID).Update("status", models.TournamentCancelled).Error
	})
	if err == nil && cancelled {
		s.log.Infof("Cancelled abandoned tournament %s", tournamentID)
		s.flush(ctx, []bracketEvent{{kind: game.EventTournamentUpdate, message: "A tournament was cancelled"}})
	}
	return cancelled, err
}

func (s *BracketService) forceComplete(ctx context.Context, tournamentID string) (bool, error) {
	var events []bracketEvent
	var completed bool
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var t models.Tournament
		if err := lockForUpdate(tx).Where("id = ?", tournamentID).First(&t).Error; err != nil {
			return err
		}
		if t.Status != models.TournamentActive {
			return nil
		}

		var slots []models.TournamentMatch
		if err := tx.Select("id").Where("tournament_id = ?", t.ID).
			Order("round").Order("match_number").Find(&slots).Error; err != nil {
			return err
		}
		for _, slot := range slots {
			// Reload: deciding a semifinal fills the final.
			var m models.TournamentMatch
			if err := tx.Where("id = ?", slot.ID).First(&m).Error; err != nil {
				return err
			}
			if !m.Open() || m.Player1ID == nil || m.Player2ID == nil {
				continue
			}
			winner, err := s.higherRated(tx, *m.Player1ID, *m.Player2ID)
			if err != nil {
				return err
			}
			s.log.Infof("Force-deciding match %s (round %d) for %s", m.ID, m.Round, winner)
			if err := s.advance(tx, &m, winner, &events); err != nil {
				return err
			}
		}

		if err := tx.Where("id = ?", t.ID).First(&t).Error; err != nil {
			return err
		}
		if t.Status != models.TournamentCompleted {
			return ErrBracketUndecided
		}
		completed = true
		events = append(events, bracketEvent{kind: game.EventTournamentUpdate, message: "A tournament has been completed"})
		return nil
	})
	if err != nil {
		return false, err
	}
	s.flush(ctx, events)
	return completed, nil
}

func (s *BracketService) higherRated(tx *gorm.DB, p1, p2 string) (string, error) {
	ratings, err := s.ratings.Ratings(tx, p1, p2)
	if err != nil {
		return "", fmt.Errorf("load ratings: %w", err)
	}
	r1, ok := ratings[p1]
	if !ok {
		r1 = models.DefaultElo
	}
	r2, ok := ratings[p2]
	if !ok {
		r2 = models.DefaultElo
	}
	if r2 > r1 {
		return p2, nil
	}
	return p1, nil
}

// ListOpen returns pending tournaments, newest first. A non-empty query keeps
// only names that fuzzily match it, best match first.
func (s *BracketService) ListOpen(ctx context.Context, query string) ([]models.Tournament, error) {
	var ts []models.Tournament
	if err := s.DB.WithContext(ctx).Where("status = ?", models.TournamentPending).
		Order("created_at DESC").Find(&ts).Error; err != nil {
		return nil, err
	}
	if err := s.fillCounts(s.DB.WithContext(ctx), ts); err != nil {
		return nil, err
	}

	query = strings.TrimSpace(query)
	if query == "" {
		return ts, nil
	}
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = t.Name
	}
	ranks := fuzzy.RankFindNormalizedFold(query, names)
	sort.Stable(ranks)
	out := make([]models.Tournament, 0, len(ranks))
	for _, r := range ranks {
		out = append(out, ts[r.OriginalIndex])
	}
	return out, nil
}

// Details returns a tournament with its bracket and participants.
func (s *BracketService) Details(ctx context.Context, tournamentID string) (models.TournamentDetails, error) {
	db := s.DB.WithContext(ctx)
	var t models.Tournament
	if err := db.Where("id = ?", tournamentID).First(&t).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return models.TournamentDetails{}, ErrTournamentNotFound
		}
		return models.TournamentDetails{}, err
	}
	one := []models.Tournament{t}
	if err := s.fillCounts(db, one); err != nil {
		return models.TournamentDetails{}, err
	}
	matches, err := s.matchViews(db, t.ID)
	if err != nil {
		return models.TournamentDetails{}, err
	}
	participants, err := s.participantViews(db, t.ID)
	if err != nil {
		return models.TournamentDetails{}, err
	}
	return models.TournamentDetails{Tournament: one[0], Matches: matches, Participants: participants}, nil
}

// UserTournaments lists every tournament userID registered for, newest first.
func (s *BracketService) UserTournaments(ctx context.Context, userID string) ([]models.UserTournament, error) {
	db := s.DB.WithContext(ctx)
	var regs []models.TournamentParticipant
	if err := db.Where("user_id = ?", userID).Find(&regs).Error; err != nil {
		return nil, err
	}
	if len(regs) == 0 {
		return []models.UserTournament{}, nil
	}
	byTournament := make(map[string]models.TournamentParticipant, len(regs))
	ids := make([]string, len(regs))
	for i, r := range regs {
		byTournament[r.TournamentID] = r
		ids[i] = r.TournamentID
	}

	var ts []models.Tournament
	if err := db.Where("id IN ?", ids).Order("created_at DESC").Find(&ts).Error; err != nil {
		return nil, err
	}
	if err := s.fillCounts(db, ts); err != nil {
		return nil, err
	}
	out := make([]models.UserTournament, len(ts))
	for i, t := range ts {
		reg := byTournament[t.ID]
		out[i] = models.UserTournament{Tournament: t, ParticipantStatus: reg.Status, Alias: reg.Alias}
	}
	return out, nil
}

// AliasForGame returns userID's alias in the tournament whose match is bound
// to gameID.
func (s *BracketService) AliasForGame(ctx context.Context, gameID, userID string) (string, error) {
	var m models.TournamentMatch
	db := s.DB.WithContext(ctx)
	if err := db.Select("tournament_id").Where("game_id = ?", gameID).First(&m).Error; err != nil {
		return "", err
	}
	var p models.TournamentParticipant
	if err := db.Select("alias").Where("tournament_id = ? AND user_id = ?", m.TournamentID, userID).First(&p).Error; err != nil {
		return "", err
	}
	return p.Alias, nil
}

func (s *BracketService) fillCounts(db *gorm.DB, ts []models.Tournament) error {
	if len(ts) == 0 {
		return nil
	}
	ids := make([]string, len(ts))
	for i, t := range ts {
		ids[i] = t.ID
	}
	var counts []struct {
		TournamentID string
		Count        int64
	}
	if err := db.Model(&models.TournamentParticipant{}).
		Select("tournament_id, COUNT(*) AS count").
		Where("tournament_id IN ?", ids).
		Group("tournament_id").
		Scan(&counts).Error; err != nil {
		return err
	}
	byID := make(map[string]int64, len(counts))
	for _, c := range counts {
		byID[c.TournamentID] = c.Count
	}
	for i := range ts {
		ts[i].CurrentParticipants = byID[ts[i].ID]
	}
	return nil
}

func (s *BracketService) matchViews(db *gorm.DB, tournamentID string) ([]models.MatchView, error) {
	var matches []models.TournamentMatch
	if err := db.Where("tournament_id = ?", tournamentID).
		Order("round").Order("match_number").Find(&matches).Error; err != nil {
		return nil, err
	}
	aliases, names, err := s.participantNames(db, tournamentID)
	if err != nil {
		return nil, err
	}
	out := make([]models.MatchView, len(matches))
	for i, m := range matches {
		v := models.MatchView{TournamentMatch: m}
		if m.Player1ID != nil {
			v.Player1Alias = aliases[*m.Player1ID]
			v.Player1Username = names[*m.Player1ID]
		}
		if m.Player2ID != nil {
			v.Player2Alias = aliases[*m.Player2ID]
			v.Player2Username = names[*m.Player2ID]
		}
		out[i] = v
	}
	return out, nil
}

func (s *BracketService) matchView(db *gorm.DB, matchID string) (models.MatchView, error) {
	var m models.TournamentMatch
	if err := db.Where("id = ?", matchID).First(&m).Error; err != nil {
		return models.MatchView{}, err
	}
	views, err := s.matchViews(db, m.TournamentID)
	if err != nil {
		return models.MatchView{}, err
	}
	for _, v := range views {
		if v.ID == matchID {
			return v, nil
		}
	}
	return models.MatchView{TournamentMatch: m}, nil
}

func (s *BracketService) participantNames(db *gorm.DB, tournamentID string) (aliases, names map[string]string, err error) {
	var ps []models.TournamentParticipant
	if err := db.Where("tournament_id = ?", tournamentID).Find(&ps).Error; err != nil {
		return nil, nil, err
	}
	aliases = make(map[string]string, len(ps))
	ids := make([]string, len(ps))
	for i, p := range ps {
		aliases[p.UserID] = p.Alias
		ids[i] = p.UserID
	}
	names, err = usernames(db, ids)
	return aliases, names, err
}

// participantViews orders participants by rating, highest first.
func (s *BracketService) participantViews(db *gorm.DB, tournamentID string) ([]models.ParticipantView, error) {
	var ps []models.TournamentParticipant
	if err := db.Where("tournament_id = ?", tournamentID).Order("position").Find(&ps).Error; err != nil {
		return nil, err
	}
	ids := make([]string, len(ps))
	for i, p := range ps {
		ids[i] = p.UserID
	}
	ratings, err := s.ratings.Ratings(db, ids...)
	if err != nil {
		return nil, err
	}
	names, err := usernames(db, ids)
	if err != nil {
		return nil, err
	}

	out := make([]models.ParticipantView, 0, len(ps))
	for _, p := range seedOrder(ps, ratings) {
		v := models.ParticipantView{
			UserID:   p.UserID,
			Username: names[p.UserID],
			Alias:    p.Alias,
			Status:   p.Status,
			Seed:     p.Seed,
		}
		if r, ok := ratings[p.UserID]; ok {
			v.Elo = &r
		}
		out = append(out, v)
	}
	return out, nil
}

// lockForUpdate adds SELECT ... FOR UPDATE where the dialect supports it.
// SQLite serialises writers on its own.
func lockForUpdate(tx *gorm.DB) *gorm.DB {
	if tx.Dialector != nil && tx.Dialector.Name() == "postgres" {
		return tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	return tx
}
