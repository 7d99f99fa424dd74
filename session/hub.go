package session

import "sync"

// Event is the envelope broadcast to live subscribers.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// UpdateData is the payload of a session_update event.
type UpdateData struct {
	SessionID      string  `json:"session_id"`
	ChatSpeed      int     `json:"chat_speed"`
	ViralScore     float64 `json:"viral_score"`
	ClipsGenerated int     `json:"clips_generated"`
	Revenue        float64 `json:"revenue"`
}

// ClipData is the payload of a clip_generated event.
type ClipData struct {
	SessionID string `json:"session_id"`
	Clip      Clip   `json:"clip"`
}

// UpdateEvent builds a session_update event from a snapshot.
func UpdateEvent(snap Snapshot) Event {
	return Event{Type: "session_update", Data: UpdateData{
		SessionID:      snap.SessionID,
		ChatSpeed:      snap.ChatSpeed,
		ViralScore:     snap.ViralScore,
		ClipsGenerated: snap.ClipsGenerated,
		Revenue:        snap.Revenue,
	}}
}

// ClipEvent builds a clip_generated event.
func ClipEvent(sessionID string, c Clip) Event {
	return Event{Type: "clip_generated", Data: ClipData{SessionID: sessionID, Clip: c}}
}

// Subscriber receives events for one session. Send must be safe for
// concurrent use; an error drops the subscriber.
type Subscriber interface {
	Send(ev Event) error
}

// Hub fans session events out to live subscribers.
type Hub struct {
	mu   sync.Mutex
	subs map[string]map[Subscriber]struct{}
}

// NewHub builds an empty hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[string]map[Subscriber]struct{})}
}

// Subscribe registers a subscriber for a session's events.
func (h *Hub) Subscribe(sessionID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.subs[sessionID]
	if !ok {
		set = make(map[Subscriber]struct{})
		h.subs[sessionID] = set
	}
	set[sub] = struct{}{}
}

// Unsubscribe removes a subscriber.
func (h *Hub) Unsubscribe(sessionID string, sub Subscriber) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if set, ok := h.subs[sessionID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sessionID)
		}
	}
}

// SubscriberCount returns the number of live subscribers for a session.
func (h *Hub) SubscriberCount(sessionID string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[sessionID])
}

// Publish delivers an event to every subscriber of a session. Subscribers
// whose Send fails are removed so a dead connection cannot block the stream.
func (h *Hub) Publish(sessionID string, ev Event) {
	h.mu.Lock()
	set := h.subs[sessionID]
	targets := make([]Subscriber, 0, len(set))
	for sub := range set {
		targets = append(targets, sub)
	}
	h.mu.Unlock()

	for _, sub := range targets {
		if err := sub.Send(ev); err != nil {
			h.Unsubscribe(sessionID, sub)
		}
	}
}
