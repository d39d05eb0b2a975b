// handlers/ws.go
package handlers

import (
	"context"
	"math"

	"pong-arena/game"
	"pong-arena/middleware"
	"pong-arena/services"

	"github.com/decred/slog"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"golang.org/x/time/rate"
)

// WSHandler serves the game and notification sockets.
type WSHandler struct {
	Registry  *game.Registry
	Notifier  *services.Notifier
	Names     *services.RoomNames
	InputRate float64
	Log       slog.Logger
}

func SetupWebSocketRoutes(app *fiber.App, h *WSHandler) {
	ws := app.Group("/ws", func(c *fiber.Ctx) error {
		if !websocket.IsWebSocketUpgrade(c) {
			return fiber.ErrUpgradeRequired
		}
		return c.Next()
	}, middleware.UserContextMiddleware())

	ws.Get("/pong/cli/:gameId", websocket.New(h.serveCLI))
	ws.Get("/pong/:gameId", websocket.New(h.serveGame))
	ws.Get("/", websocket.New(h.serveNotifications))
}

func (h *WSHandler) limiter() *rate.Limiter {
	burst := int(math.Ceil(h.InputRate))
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(h.InputRate), burst)
}

// session is the per-socket state shared by the game and CLI endpoints.
type session struct {
	h       *WSHandler
	conn    *websocket.Conn
	client  *game.Client
	userID  string
	gameID  string
	room    *game.Room
	limiter *rate.Limiter
}

func (h *WSHandler) newSession(c *websocket.Conn) *session {
	userID, _ := c.Locals("user_id").(string)
	return &session{
		h:       h,
		conn:    c,
		client:  game.NewClient(userID, c, h.Log),
		userID:  userID,
		gameID:  c.Params("gameId"),
		limiter: h.limiter(),
	}
}

// close unbinds the socket and waits for queued frames to flush.
func (s *session) close() {
	if s.room != nil {
		s.h.Registry.Leave(s.gameID, s.client)
	}
	s.client.Close()
	s.client.Wait()
}

// serve reads frames until the socket closes. join handles the first join
// frame; every later frame goes to the room unless filter rejects it.
func (s *session) serve(join func(game.Inbound) error, filter func(game.Inbound) string) {
	defer s.close()

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.h.Log.Debugf("Socket for %s on %s closed: %v", s.userID, s.gameID, err)
			return
		}
		if !s.limiter.Allow() {
			continue
		}

		msg, err := game.DecodeInbound(raw)
		if err != nil {
			s.client.Send(game.ErrorEvent("Invalid message format."))
			continue
		}

		if s.room == nil {
			if msg.Kind != game.InboundJoin {
				s.client.Send(game.ErrorEvent("Must join a game first."))
				continue
			}
			if msg.GameID != "" && msg.GameID != s.gameID {
				s.client.Send(game.ErrorEvent("Game id does not match this connection."))
				continue
			}
			if err := join(msg); err != nil {
				if game.IsRejectedAdmission(err) {
					s.h.Log.Infof("Turned %s away from %s: %v", s.userID, s.gameID, err)
					return
				}
				s.client.Send(game.ErrorEvent(err.Error()))
			}
			continue
		}

		if filter != nil {
			if reason := filter(msg); reason != "" {
				s.client.Send(game.ErrorEvent(reason))
				continue
			}
		}
		s.room.Handle(s.client, s.userID, msg)
	}
}

// serveGame is the browser game socket. The authenticated user always plays
// as themselves regardless of the playerId in the frame.
func (h *WSHandler) serveGame(c *websocket.Conn) {
	s := h.newSession(c)
	s.serve(func(msg game.Inbound) error {
		room, ok := h.Registry.Get(s.gameID)
		if !ok {
			return game.ErrSessionNotFound
		}
		name := h.Names.DisplayName(context.Background(), s.gameID, s.userID, room.IsTournament())
		room, side, err := h.Registry.Join(s.gameID, s.userID, s.client, name)
		if err != nil {
			return err
		}
		s.room = room
		h.Log.Infof("%s joined %s as %s", s.userID, s.gameID, side)
		return nil
	}, nil)
}

// serveCLI attaches a terminal client to a game its user already plays in.
func (h *WSHandler) serveCLI(c *websocket.Conn) {
	s := h.newSession(c)
	s.serve(func(msg game.Inbound) error {
		room, err := h.Registry.JoinCLI(s.gameID, s.userID, s.client)
		if err != nil {
			return err
		}
		s.room = room
		h.Log.Infof("%s attached a CLI client to %s", s.userID, s.gameID)
		return nil
	}, func(msg game.Inbound) string {
		if msg.Kind == game.InboundReset {
			return "Reset is not available from the CLI."
		}
		return ""
	})
}

// serveNotifications keeps the user registered as online until the socket
// closes. Inbound frames are ignored.
func (h *WSHandler) serveNotifications(c *websocket.Conn) {
	userID, _ := c.Locals("user_id").(string)
	client := game.NewClient(userID, c, h.Log)
	h.Notifier.Register(userID, client)
	defer func() {
		h.Notifier.Unregister(userID, client)
		client.Close()
		client.Wait()
	}()

	for {
		if _, _, err := c.ReadMessage(); err != nil {
			return
		}
	}
}
