// game/client.go
package game

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/decred/slog"
)

const (
	textMessage  = 1
	sendBuffer   = 256
	writeTimeout = 10 * time.Second
)

// Conn is the outbound side of one live socket as seen by rooms and the
// notifier. Send never blocks the caller.
type Conn interface {
	Send(msg Outbound)
	Close()
}

// MessageWriter is the subset of a websocket connection the write pump needs.
type MessageWriter interface {
	WriteMessage(messageType int, data []byte) error
	SetWriteDeadline(t time.Time) error
	Close() error
}

// Client owns one websocket's outbound queue. Messages are written in the order
// they were sent by a single pump goroutine, so a slow socket only ever delays
// itself: when its buffer fills the client is dropped instead of blocking the
// sender.
type Client struct {
	UserID string

	w       MessageWriter
	send    chan []byte
	done    chan struct{}
	stopped chan struct{}
	once    sync.Once
	log     slog.Logger
}

func NewClient(userID string, w MessageWriter, log slog.Logger) *Client {
	if log == nil {
		log = slog.Disabled
	}
	c := &Client{
		UserID:  userID,
		w:       w,
		send:    make(chan []byte, sendBuffer),
		done:    make(chan struct{}),
		stopped: make(chan struct{}),
		log:     log,
	}
	go c.writePump()
	return c
}

func (c *Client) Send(msg Outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.log.Errorf("Failed to marshal %s for %s: %v", msg.Type, c.UserID, err)
		return
	}
	select {
	case <-c.done:
		return
	default:
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		c.log.Warnf("Send buffer full for %s, dropping connection", c.UserID)
		c.Close()
	}
}

// Close stops the pump after it flushes whatever is already queued.
func (c *Client) Close() {
	c.once.Do(func() { close(c.done) })
}

// Done is closed once Close has been called.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Wait blocks until the write pump has exited and released the socket.
func (c *Client) Wait() {
	<-c.stopped
}

func (c *Client) writePump() {
	defer close(c.stopped)
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				c.log.Debugf("Write to %s failed: %v", c.UserID, err)
				c.Close()
				_ = c.w.Close()
				return
			}
		case <-c.done:
			for {
				select {
				case data := <-c.send:
					if err := c.write(data); err != nil {
						_ = c.w.Close()
						return
					}
				default:
					_ = c.w.Close()
					return
				}
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	_ = c.w.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.w.WriteMessage(textMessage, data)
}
