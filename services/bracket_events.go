// services/bracket_events.go
package services

import (
	"context"
	"fmt"

	"pong-arena/game"
	"pong-arena/models"

	"gorm.io/gorm"
)

// bracketEvent is a notification decided inside a transaction and delivered
// after it commits, built from committed state.
type bracketEvent struct {
	kind         string
	tournamentID string
	matchID      string
	userID       string
	message      string
}

// BracketEventData is the payload of every pushed bracket event. Each recipient
// gets their own UserTournaments.
type BracketEventData struct {
	TournamentID    string                   `json:"tournamentId,omitempty"`
	Tournament      *models.Tournament       `json:"tournament,omitempty"`
	Match           *models.MatchView        `json:"match,omitempty"`
	Matches         []models.MatchView       `json:"matches,omitempty"`
	Participant     *models.ParticipantView  `json:"participant,omitempty"`
	Participants    []models.ParticipantView `json:"participants,omitempty"`
	Winner          *models.ParticipantView  `json:"winner,omitempty"`
	AllTournaments  []models.Tournament      `json:"allTournaments,omitempty"`
	UserTournaments []models.UserTournament  `json:"userTournaments"`
	Message         string                   `json:"message"`
}

func (s *BracketService) flush(ctx context.Context, events []bracketEvent) {
	for _, ev := range events {
		if err := s.deliver(ctx, ev); err != nil {
			s.log.Warnf("Failed to push %s for tournament %s: %v", ev.kind, ev.tournamentID, err)
		}
	}
}

func (s *BracketService) deliver(ctx context.Context, ev bracketEvent) error {
	db := s.DB.WithContext(ctx)

	switch ev.kind {
	case game.EventTournamentUpdate:
		return s.broadcastUpdate(ctx, ev.message)

	case game.EventParticipantJoined:
		views, err := s.participantViews(db, ev.tournamentID)
		if err != nil {
			return err
		}
		data := BracketEventData{TournamentID: ev.tournamentID, Message: ev.message}
		for i := range views {
			if views[i].UserID == ev.userID {
				data.Participant = &views[i]
			}
		}
		return s.toParticipants(ctx, db, ev.tournamentID, ev.userID, ev.kind, data)

	case game.EventTournamentStarted:
		d, err := s.Details(ctx, ev.tournamentID)
		if err != nil {
			return err
		}
		return s.toParticipants(ctx, db, ev.tournamentID, "", ev.kind, BracketEventData{
			TournamentID: ev.tournamentID,
			Tournament:   &d.Tournament,
			Matches:      d.Matches,
			Message:      ev.message,
		})

	case game.EventMatchUpdated:
		mv, err := s.matchView(db, ev.matchID)
		if err != nil {
			return err
		}
		return s.toParticipants(ctx, db, ev.tournamentID, "", ev.kind, BracketEventData{
			TournamentID: ev.tournamentID,
			Match:        &mv,
			Message:      fmt.Sprintf("Match #%d has been updated", mv.MatchNumber),
		})

	case game.EventTournamentCompleted:
		d, err := s.Details(ctx, ev.tournamentID)
		if err != nil {
			return err
		}
		s.archiveBracket(ctx, d)

		data := BracketEventData{
			TournamentID: ev.tournamentID,
			Tournament:   &d.Tournament,
			Matches:      d.Matches,
			Participants: d.Participants,
		}
		champion := "Someone"
		for i := range d.Participants {
			if d.Participants[i].UserID == ev.userID {
				data.Winner = &d.Participants[i]
				champion = d.Participants[i].Alias
			}
		}
		data.Message = fmt.Sprintf("The tournament has been completed! %s is the champion!", champion)
		if err := s.toParticipants(ctx, db, ev.tournamentID, "", ev.kind, data); err != nil {
			return err
		}
		return s.toParticipants(ctx, db, ev.tournamentID, "", game.EventTournamentUpdate, data)
	}
	return fmt.Errorf("unknown bracket event %q", ev.kind)
}

func (s *BracketService) toParticipants(ctx context.Context, db *gorm.DB, tournamentID, skip, kind string, data BracketEventData) error {
	if s.events == nil {
		return nil
	}
	var ps []models.TournamentParticipant
	if err := db.Select("user_id").Where("tournament_id = ?", tournamentID).Find(&ps).Error; err != nil {
		return err
	}
	for _, p := range ps {
		if p.UserID == skip || !s.events.IsOnline(p.UserID) {
			continue
		}
		mine, err := s.UserTournaments(ctx, p.UserID)
		if err != nil {
			return err
		}
		d := data
		d.UserTournaments = mine
		s.events.SendToUser(p.UserID, game.Outbound{Type: kind, Data: d})
	}
	return nil
}

// broadcastUpdate pushes the open tournament list to every online user.
func (s *BracketService) broadcastUpdate(ctx context.Context, message string) error {
	if s.events == nil {
		return nil
	}
	online := s.events.OnlineUsers()
	if len(online) == 0 {
		return nil
	}
	open, err := s.ListOpen(ctx, "")
	if err != nil {
		return err
	}
	for _, userID := range online {
		mine, err := s.UserTournaments(ctx, userID)
		if err != nil {
			return err
		}
		s.events.SendToUser(userID, game.Outbound{
			Type: game.EventTournamentUpdate,
			Data: BracketEventData{AllTournaments: open, UserTournaments: mine, Message: message},
		})
	}
	return nil
}

func (s *BracketService) archiveBracket(ctx context.Context, d models.TournamentDetails) {
	if s.archive == nil {
		return
	}
	url, err := s.archive.PutJSON(ctx, "brackets/"+d.Tournament.Slug+".json", d)
	if err != nil {
		s.log.Errorf("Failed to archive bracket %s: %v", d.Tournament.ID, err)
		return
	}
	s.log.Infof("Archived bracket %s to %s", d.Tournament.ID, url)
}
