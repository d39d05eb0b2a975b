// game/messages.go
package game

import (
	"encoding/json"
	"fmt"
)

// envelope is the frame shape on every game and notification socket.
type envelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type InboundKind int

const (
	InboundUnknown InboundKind = iota
	InboundJoin
	InboundInput
	InboundStart
	InboundPause
	InboundReset
)

func (k InboundKind) String() string {
	switch k {
	case InboundJoin:
		return "join"
	case InboundInput:
		return "input"
	case InboundStart:
		return "start"
	case InboundPause:
		return "pause"
	case InboundReset:
		return "reset"
	default:
		return "unknown"
	}
}

// Inbound is a decoded room-control message. Kind selects which fields are
// meaningful; RawType keeps the original tag for unknown messages.
type Inbound struct {
	Kind     InboundKind
	RawType  string
	GameID   string
	PlayerID string
	Side     Side
	Input    Input
}

type inboundData struct {
	GameID   string `json:"gameId"`
	PlayerID string `json:"playerId"`
	Side     Side   `json:"side"`
	Input    Input  `json:"input"`
}

// DecodeInbound parses a client frame. Frames with an unrecognised type decode
// successfully as InboundUnknown; only malformed JSON is an error.
func DecodeInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("malformed message: %w", err)
	}

	msg := Inbound{RawType: env.Type}
	switch env.Type {
	case "join":
		msg.Kind = InboundJoin
	case "input":
		msg.Kind = InboundInput
	case "start":
		msg.Kind = InboundStart
	case "pause":
		msg.Kind = InboundPause
	case "reset":
		msg.Kind = InboundReset
	default:
		return msg, nil
	}

	if len(env.Data) > 0 && string(env.Data) != "null" {
		var data inboundData
		if err := json.Unmarshal(env.Data, &data); err != nil {
			return Inbound{}, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
		msg.GameID = data.GameID
		msg.PlayerID = data.PlayerID
		msg.Side = data.Side
		msg.Input = data.Input
	}
	return msg, nil
}

// Outbound event types.
const (
	EventPlayerJoined        = "player-joined"
	EventStart               = "start"
	EventUpdate              = "update"
	EventError               = "error"
	EventOnlineStatus        = "online-status"
	EventParticipantJoined   = "participant-joined"
	EventTournamentStarted   = "tournament-started"
	EventMatchUpdated        = "match-updated"
	EventTournamentCompleted = "tournament-completed"
	EventTournamentUpdate    = "tournament-update"
)

// Outbound is a server-to-client event.
type Outbound struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

type PlayerJoined struct {
	Message       string `json:"message"`
	Side          Side   `json:"side,omitempty"`
	GameMode      Mode   `json:"gameMode,omitempty"`
	Ready         bool   `json:"ready"`
	State         State  `json:"state"`
	LeftUserName  string `json:"leftUserName,omitempty"`
	RightUserName string `json:"rightUserName,omitempty"`
}

type ErrorData struct {
	Message string `json:"message"`
}

func PlayerJoinedEvent(data PlayerJoined) Outbound {
	return Outbound{Type: EventPlayerJoined, Data: data}
}

func StartEvent(state State) Outbound {
	return Outbound{Type: EventStart, Data: state}
}

func UpdateEvent(state State) Outbound {
	return Outbound{Type: EventUpdate, Data: state}
}

func ErrorEvent(message string) Outbound {
	return Outbound{Type: EventError, Data: ErrorData{Message: message}}
}
