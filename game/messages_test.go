package game

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Inbound
	}{
		{
			name: "join",
			raw:  `{"type":"join","data":{"gameId":"g1","playerId":"p1"}}`,
			want: Inbound{Kind: InboundJoin, RawType: "join", GameID: "g1", PlayerID: "p1"},
		},
		{
			name: "input with side",
			raw:  `{"type":"input","data":{"side":"right","input":{"paddleUp":true,"paddleDown":false}}}`,
			want: Inbound{Kind: InboundInput, RawType: "input", Side: SideRight, Input: Input{PaddleUp: true}},
		},
		{
			name: "start without data",
			raw:  `{"type":"start"}`,
			want: Inbound{Kind: InboundStart, RawType: "start"},
		},
		{
			name: "pause with null data",
			raw:  `{"type":"pause","data":null}`,
			want: Inbound{Kind: InboundPause, RawType: "pause"},
		},
		{
			name: "unknown type is not an error",
			raw:  `{"type":"dance","data":{"x":1}}`,
			want: Inbound{Kind: InboundUnknown, RawType: "dance"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeInbound([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeInbound_Malformed(t *testing.T) {
	_, err := DecodeInbound([]byte(`{"type":`))
	assert.Error(t, err)

	_, err = DecodeInbound([]byte(`{"type":"input","data":"oops"}`))
	assert.Error(t, err)
}

func TestOutboundShape(t *testing.T) {
	raw, err := json.Marshal(ErrorEvent("nope"))
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","data":{"message":"nope"}}`, string(raw))

	raw, err = json.Marshal(PlayerJoinedEvent(PlayerJoined{
		Message: "Player joined side: left!",
		Side:    SideLeft,
		State:   State{ID: "g1", Status: StatusWaiting},
	}))
	require.NoError(t, err)

	var decoded struct {
		Type string         `json:"type"`
		Data map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, EventPlayerJoined, decoded.Type)
	assert.Equal(t, "left", decoded.Data["side"])
	assert.Equal(t, false, decoded.Data["ready"])
	assert.NotContains(t, decoded.Data, "leftUserName")
}

type recordingWriter struct {
	mu      sync.Mutex
	frames  []string
	closed  bool
	release chan struct{}
}

func (w *recordingWriter) WriteMessage(_ int, data []byte) error {
	if w.release != nil {
		<-w.release
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.frames = append(w.frames, string(data))
	return nil
}

func (w *recordingWriter) SetWriteDeadline(time.Time) error { return nil }

func (w *recordingWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.closed = true
	return nil
}

func TestClient_FlushesInOrderOnClose(t *testing.T) {
	w := &recordingWriter{}
	c := NewClient("alice", w, nil)

	c.Send(ErrorEvent("one"))
	c.Send(ErrorEvent("two"))
	c.Close()
	c.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	require.Len(t, w.frames, 2)
	assert.Contains(t, w.frames[0], "one")
	assert.Contains(t, w.frames[1], "two")
	assert.True(t, w.closed)
}

func TestClient_DropsSlowConsumer(t *testing.T) {
	w := &recordingWriter{release: make(chan struct{})}
	c := NewClient("slow", w, nil)

	for range sendBuffer + 10 {
		c.Send(UpdateEvent(State{ID: "g1"}))
	}

	select {
	case <-c.Done():
	default:
		t.Fatal("client should be closed once its buffer overflows")
	}

	close(w.release)
	c.Wait()
	w.mu.Lock()
	defer w.mu.Unlock()
	assert.True(t, w.closed)
}
