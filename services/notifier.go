// services/notifier.go
package services

import (
	"sort"
	"sync"

	"pong-arena/game"

	"github.com/decred/slog"
)

// OnlineStatus is pushed to every online user when someone connects or leaves.
type OnlineStatus struct {
	UserID string `json:"userId"`
	Online bool   `json:"online"`
}

// Notifier keeps one notification socket per online user and pushes bracket
// and presence events to them. A newer socket for the same user replaces the
// older one.
type Notifier struct {
	mu     sync.RWMutex
	online map[string]game.Conn
	log    slog.Logger
}

func NewNotifier(log slog.Logger) *Notifier {
	return &Notifier{online: make(map[string]game.Conn), log: log}
}

func (n *Notifier) Register(userID string, conn game.Conn) {
	n.mu.Lock()
	prev, had := n.online[userID]
	n.online[userID] = conn
	n.mu.Unlock()

	if had && prev != conn {
		prev.Close()
	}
	n.log.Debugf("User %s online", userID)
	n.broadcastExcept(userID, game.Outbound{
		Type: game.EventOnlineStatus,
		Data: OnlineStatus{UserID: userID, Online: true},
	})
}

// Unregister removes conn if it is still the user's current socket.
func (n *Notifier) Unregister(userID string, conn game.Conn) {
	n.mu.Lock()
	cur, ok := n.online[userID]
	if !ok || cur != conn {
		n.mu.Unlock()
		return
	}
	delete(n.online, userID)
	n.mu.Unlock()

	n.log.Debugf("User %s offline", userID)
	n.broadcastExcept(userID, game.Outbound{
		Type: game.EventOnlineStatus,
		Data: OnlineStatus{UserID: userID, Online: false},
	})
}

func (n *Notifier) IsOnline(userID string) bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	_, ok := n.online[userID]
	return ok
}

// OnlineUsers lists connected user ids in a stable order.
func (n *Notifier) OnlineUsers() []string {
	n.mu.RLock()
	ids := make([]string, 0, len(n.online))
	for id := range n.online {
		ids = append(ids, id)
	}
	n.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// SendToUser reports whether the user had a socket to send to.
func (n *Notifier) SendToUser(userID string, msg game.Outbound) bool {
	n.mu.RLock()
	conn, ok := n.online[userID]
	n.mu.RUnlock()
	if !ok {
		return false
	}
	conn.Send(msg)
	return true
}

func (n *Notifier) Broadcast(msg game.Outbound) {
	n.broadcastExcept("", msg)
}

func (n *Notifier) broadcastExcept(skip string, msg game.Outbound) {
	n.mu.RLock()
	conns := make([]game.Conn, 0, len(n.online))
	for id, conn := range n.online {
		if id != skip {
			conns = append(conns, conn)
		}
	}
	n.mu.RUnlock()

	for _, conn := range conns {
		conn.Send(msg)
	}
}
