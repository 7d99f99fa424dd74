// Package chat connects to Twitch IRC over WebSocket and exposes a raw-line API.
//
// The connection speaks the anonymous IRC handshake (PASS/NICK/JOIN) and leaves
// protocol-level PING handling to the consumer, which answers with
// "PONG :tmi.twitch.tv". WebSocket-level keepalive pings run independently.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	pingInterval     = 30 * time.Second
	pongWait         = 10 * time.Second
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Conn is a live chat connection to a single channel.
type Conn struct {
	ws      *websocket.Conn
	channel string

	writeMu sync.Mutex
	done    chan struct{}
	once    sync.Once
}

// Connect dials the chat endpoint, performs the IRC handshake, and joins the channel.
// The channel name is lowercased before joining.
func Connect(ctx context.Context, endpoint, nick, pass, channel string) (*Conn, error) {
	channel = strings.ToLower(strings.TrimPrefix(channel, "#"))

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	ws, resp, err := dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial chat endpoint %s: %w", endpoint, err)
	}
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}

	c := &Conn{ws: ws, channel: channel, done: make(chan struct{})}

	for _, line := range []string{
		"PASS " + pass,
		"NICK " + nick,
		"JOIN #" + channel,
	} {
		if err := c.WriteLine(line); err != nil {
			_ = c.Close()
			return nil, fmt.Errorf("irc handshake: %w", err)
		}
	}

	ws.SetPongHandler(func(string) error { return nil })
	go c.keepalive()

	slog.Info("chat connected", "channel", channel, "endpoint", endpoint)
	return c, nil
}

// keepalive sends WebSocket-level pings until the connection closes.
func (c *Conn) keepalive() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(pongWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

// ReadLine blocks for the next raw IRC line. Multi-line frames are split by the
// caller via Lines; this returns a whole frame.
func (c *Conn) ReadLine() (string, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return "", fmt.Errorf("read chat frame: %w", err)
	}
	return string(data), nil
}

// WriteLine sends one raw IRC line.
func (c *Conn) WriteLine(line string) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.ws.WriteMessage(websocket.TextMessage, []byte(line)); err != nil {
		return fmt.Errorf("write chat line: %w", err)
	}
	return nil
}

// Channel returns the joined channel name (lowercase, without '#').
func (c *Conn) Channel() string { return c.channel }

// Close shuts the connection down. Safe to call more than once.
func (c *Conn) Close() error {
	var err error
	c.once.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		err = c.ws.Close()
	})
	return err
}

// Lines splits a raw frame into individual IRC lines, dropping empties.
func Lines(frame string) []string {
	parts := strings.Split(frame, "\r\n")
	out := parts[:0]
	for _, p := range parts {
		p = strings.TrimRight(p, "\r\n")
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// IsPing reports whether a raw line is a server PING.
func IsPing(line string) bool {
	return strings.HasPrefix(line, "PING")
}

// PongLine is the reply the consumer sends for a server PING.
const PongLine = "PONG :tmi.twitch.tv"

// ParsePrivMsg extracts the sender and message text from a PRIVMSG line.
// It returns ok=false for any other command or malformed line.
func ParsePrivMsg(line string) (user, text string, ok bool) {
	if !strings.Contains(line, "PRIVMSG") {
		return "", "", false
	}
	if !strings.HasPrefix(line, ":") {
		return "", "", false
	}
	bang := strings.Index(line, "!")
	if bang <= 1 {
		return "", "", false
	}
	user = line[1:bang]

	rest := line[bang:]
	sep := strings.Index(rest, " :")
	if sep < 0 {
		return "", "", false
	}
	text = rest[sep+2:]
	return user, text, true
}
