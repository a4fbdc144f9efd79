// hub/hub.go
package hub

import (
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/wfunc/escapehub/logger"
	"github.com/wfunc/escapehub/models"
	"github.com/wfunc/escapehub/network"
)

// Subscriber is one connected client, a member of its session scope and its
// session+room scope. Ephemeral: created on Join, gone on Leave.
type Subscriber struct {
	ID          string
	SessionID   int64
	Room        string
	DisplayName string
	conn        network.Connection
}

// Send writes one framed message to the subscriber's connection.
func (s *Subscriber) Send(msgID uint16, data []byte) error {
	return s.conn.Send(msgID, data)
}

type roomScope struct {
	sessionID int64
	room      string
}

// Hub 会话范围的事件广播器
//
// Delivery is fire-and-forget: no acknowledgment, no retry, no per-client
// queue. A client that suspects it missed events must pull current state
// explicitly; the hub only optimizes the common low-latency path.
type Hub struct {
	mutex       sync.RWMutex
	subscribers map[string]*Subscriber
	sessions    map[int64]map[string]*Subscriber
	rooms       map[roomScope]map[string]*Subscriber
}

func NewHub() *Hub {
	return &Hub{
		subscribers: make(map[string]*Subscriber),
		sessions:    make(map[int64]map[string]*Subscriber),
		rooms:       make(map[roomScope]map[string]*Subscriber),
	}
}

// Join registers a connection in the session and session+room scopes and
// announces the new player to the rest of the session.
func (h *Hub) Join(sessionID int64, room, displayName string, conn network.Connection) *Subscriber {
	sub := &Subscriber{
		ID:          uuid.New().String(),
		SessionID:   sessionID,
		Room:        room,
		DisplayName: displayName,
		conn:        conn,
	}

	h.mutex.Lock()
	h.subscribers[sub.ID] = sub
	if h.sessions[sessionID] == nil {
		h.sessions[sessionID] = make(map[string]*Subscriber)
	}
	h.sessions[sessionID][sub.ID] = sub

	scope := roomScope{sessionID: sessionID, room: room}
	if h.rooms[scope] == nil {
		h.rooms[scope] = make(map[string]*Subscriber)
	}
	h.rooms[scope][sub.ID] = sub
	h.mutex.Unlock()

	h.PublishEvent(sessionID, sub.ID, network.MsgTypePlayerJoined, models.PresenceEvent{
		PlayerName: displayName,
		Room:       room,
	})
	logger.Log.Infof("player %s joined session %d (room %s)", displayName, sessionID, room)
	return sub
}

// Leave removes the subscriber from all scopes and announces its departure.
func (h *Hub) Leave(subscriberID string) {
	h.mutex.Lock()
	sub, exists := h.subscribers[subscriberID]
	if !exists {
		h.mutex.Unlock()
		return
	}
	h.remove(sub)
	h.mutex.Unlock()

	h.PublishEvent(sub.SessionID, "", network.MsgTypePlayerLeft, models.PresenceEvent{
		PlayerName: sub.DisplayName,
		Room:       sub.Room,
	})
	logger.Log.Infof("player %s left session %d (room %s)", sub.DisplayName, sub.SessionID, sub.Room)
}

// remove must be called with the hub mutex held.
func (h *Hub) remove(sub *Subscriber) {
	delete(h.subscribers, sub.ID)
	if members := h.sessions[sub.SessionID]; members != nil {
		delete(members, sub.ID)
		if len(members) == 0 {
			delete(h.sessions, sub.SessionID)
		}
	}
	scope := roomScope{sessionID: sub.SessionID, room: sub.Room}
	if members := h.rooms[scope]; members != nil {
		delete(members, sub.ID)
		if len(members) == 0 {
			delete(h.rooms, scope)
		}
	}
}

// Publish fans out to every member of the session scope. skipID may name a
// subscriber to exclude (usually the actor itself).
func (h *Hub) Publish(sessionID int64, skipID string, msgID uint16, data []byte) {
	h.mutex.RLock()
	targets := collect(h.sessions[sessionID], skipID)
	h.mutex.RUnlock()
	h.send(targets, msgID, data)
}

// PublishRoom fans out to the session+room scope.
func (h *Hub) PublishRoom(sessionID int64, room, skipID string, msgID uint16, data []byte) {
	h.mutex.RLock()
	targets := collect(h.rooms[roomScope{sessionID: sessionID, room: room}], skipID)
	h.mutex.RUnlock()
	h.send(targets, msgID, data)
}

// PublishGlobal reaches every connection regardless of session. Reserved
// for installation-wide resets.
func (h *Hub) PublishGlobal(msgID uint16, data []byte) {
	h.mutex.RLock()
	targets := collect(h.subscribers, "")
	h.mutex.RUnlock()
	h.send(targets, msgID, data)
}

// PublishEvent marshals v and publishes it to the session scope.
func (h *Hub) PublishEvent(sessionID int64, skipID string, msgID uint16, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Errorf("marshal event %d failed: %v", msgID, err)
		return
	}
	h.Publish(sessionID, skipID, msgID, data)
}

// PublishRoomEvent marshals v and publishes it to the session+room scope.
func (h *Hub) PublishRoomEvent(sessionID int64, room, skipID string, msgID uint16, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Errorf("marshal event %d failed: %v", msgID, err)
		return
	}
	h.PublishRoom(sessionID, room, skipID, msgID, data)
}

// PublishGlobalEvent marshals v and publishes it to every connection.
func (h *Hub) PublishGlobalEvent(msgID uint16, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Log.Errorf("marshal event %d failed: %v", msgID, err)
		return
	}
	h.PublishGlobal(msgID, data)
}

func collect(members map[string]*Subscriber, skipID string) []*Subscriber {
	targets := make([]*Subscriber, 0, len(members))
	for id, sub := range members {
		if id == skipID {
			continue
		}
		targets = append(targets, sub)
	}
	return targets
}

// send delivers best-effort. A failed write means a dead or stuck client;
// it is dropped from all scopes rather than retried.
func (h *Hub) send(targets []*Subscriber, msgID uint16, data []byte) {
	var failed []*Subscriber
	for _, sub := range targets {
		if err := sub.conn.Send(msgID, data); err != nil {
			logger.Log.Infof("dropping subscriber %s after send error: %v", sub.ID, err)
			failed = append(failed, sub)
		}
	}

	if len(failed) == 0 {
		return
	}
	h.mutex.Lock()
	for _, sub := range failed {
		if _, exists := h.subscribers[sub.ID]; exists {
			h.remove(sub)
		}
	}
	h.mutex.Unlock()
}

// Reset drops every subscriber from every scope without presence events.
// Connections stay open; clients are expected to rejoin after the
// installation-wide reset they were just sent.
func (h *Hub) Reset() {
	h.mutex.Lock()
	defer h.mutex.Unlock()
	h.subscribers = make(map[string]*Subscriber)
	h.sessions = make(map[int64]map[string]*Subscriber)
	h.rooms = make(map[roomScope]map[string]*Subscriber)
}

// SessionMembers returns presence info for the session scope.
func (h *Hub) SessionMembers(sessionID int64) []models.PresenceEvent {
	h.mutex.RLock()
	defer h.mutex.RUnlock()

	members := make([]models.PresenceEvent, 0, len(h.sessions[sessionID]))
	for _, sub := range h.sessions[sessionID] {
		members = append(members, models.PresenceEvent{
			PlayerName: sub.DisplayName,
			Room:       sub.Room,
		})
	}
	return members
}

// Count returns the number of connected subscribers.
func (h *Hub) Count() int {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	return len(h.subscribers)
}
