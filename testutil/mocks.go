// Package testutil provides shared test doubles: a scripted chat gateway
// speaking IRC over WebSocket.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// Frame is one scripted server-to-client message, optionally delayed.
type Frame struct {
	Data  string
	Delay time.Duration
}

// MockChatServer is a WebSocket server that accepts the IRC join sequence,
// plays back scripted frames, and records everything the client sends.
type MockChatServer struct {
	*httptest.Server
	WSURL string

	mu       sync.Mutex
	received []string
	frames   []Frame
}

// NewMockChatServer starts a scripted chat gateway. After the three-line
// join sequence it sends each frame in order, then keeps the connection open
// and keeps recording client lines until the client disconnects.
func NewMockChatServer(t *testing.T, frames ...Frame) *MockChatServer {
	t.Helper()
	m := &MockChatServer{frames: frames}
	upgrader := websocket.Upgrader{}

	m.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer func() { _ = ws.Close() }()

		// PASS, NICK, JOIN
		for i := 0; i < 3; i++ {
			_, data, err := ws.ReadMessage()
			if err != nil {
				return
			}
			m.record(string(data))
		}

		done := make(chan struct{})
		go func() {
			defer close(done)
			for {
				_, data, err := ws.ReadMessage()
				if err != nil {
					return
				}
				m.record(string(data))
			}
		}()

		for _, f := range m.frames {
			if f.Delay > 0 {
				time.Sleep(f.Delay)
			}
			if err := ws.WriteMessage(websocket.TextMessage, []byte(f.Data)); err != nil {
				return
			}
		}
		<-done
	}))
	t.Cleanup(m.Close)

	m.WSURL = "ws" + strings.TrimPrefix(m.Server.URL, "http")
	return m
}

func (m *MockChatServer) record(line string) {
	m.mu.Lock()
	m.received = append(m.received, line)
	m.mu.Unlock()
}

// Received returns a copy of every line the client sent.
func (m *MockChatServer) Received() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.received))
	copy(out, m.received)
	return out
}

// PrivMsg formats a chat line from a viewer in the given channel.
func PrivMsg(channel, user, text string) string {
	return ":" + user + "!" + user + "@" + user + ".tmi.twitch.tv PRIVMSG #" + channel + " :" + text + "\r\n"
}
