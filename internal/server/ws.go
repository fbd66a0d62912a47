package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/azcoigreach/nagatha-assistant-sub002/internal/events"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/logging"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/session"
	"github.com/azcoigreach/nagatha-assistant-sub002/internal/tools"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 32768 // 32KB

	// Outbound event buffer per client. Slow readers lose events rather
	// than backing the bus up.
	sendBuffer = 64
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// The admin surface binds to localhost by default; header auth
		// covers the rest.
		return true
	},
}

// wsFrame is every message the server sends: bus events, invoke results,
// and errors.
type wsFrame struct {
	Type    string        `json:"type"` // event | result | error
	ID      string        `json:"id,omitempty"`
	Topic   string        `json:"topic,omitempty"`
	Time    time.Time     `json:"time,omitempty"`
	Payload any           `json:"payload,omitempty"`
	Result  *tools.Result `json:"result,omitempty"`
	Error   string        `json:"error,omitempty"`
}

// wsInvoke is the one message clients send.
type wsInvoke struct {
	ID      string         `json:"id"`
	Command string         `json:"command"`
	Args    map[string]any `json:"args"`
}

// handleWebsocket attaches the connection to a session as an interface and
// streams bus events to it. Clients can also invoke tools over the socket.
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	sess, err := s.assistant.Sessions().GetOrCreate(r.URL.Query().Get("session"), r.URL.Query().Get("user"))
	if err != nil {
		http.Error(w, "assistant is shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logging.Errorf("websocket upgrade: %v", err)
		return
	}

	iface := "ws-" + uuid.New().String()[:8]
	meta := session.Metadata{"remote": r.RemoteAddr}
	if ua := r.UserAgent(); ua != "" {
		meta["user_agent"] = ua
	}
	if err := s.assistant.Sessions().AddInterface(sess.ID, iface, meta); err != nil {
		conn.Close()
		return
	}
	logging.Infof("websocket %s attached to session %s", iface, sess.ID)

	send := make(chan wsFrame, sendBuffer)

	// Forward every bus topic to this client. Drop frames for slow
	// readers; the publisher must never block on a websocket.
	subs := make([]events.Subscription, 0, len(events.AllTopics()))
	for _, topic := range events.AllTopics() {
		sub := s.assistant.Bus().SubscribeRaw(topic, func(ctx context.Context, evt events.Event) error {
			frame := wsFrame{Type: "event", Topic: evt.Topic, Time: evt.Time, Payload: evt.Payload}
			select {
			case send <- frame:
			default:
				logging.Debugf("websocket %s dropping event %s", iface, evt.Topic)
			}
			return nil
		})
		subs = append(subs, sub)
	}

	done := make(chan struct{})
	go s.writeLoop(conn, send, done)
	s.readLoop(r.Context(), conn, sess.ID, send)

	// Reader returned: tear the connection down.
	for _, sub := range subs {
		sub.Unsubscribe()
	}
	close(done)
	if err := s.assistant.Sessions().RemoveInterface(sess.ID, iface); err != nil {
		logging.Debugf("detach %s: %v", iface, err)
	}
	conn.Close()
	logging.Infof("websocket %s detached from session %s", iface, sess.ID)
}

// writeLoop serializes all writes to the peer and keeps it alive with pings.
func (s *Server) writeLoop(conn *websocket.Conn, send <-chan wsFrame, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		case frame := <-send:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(frame); err != nil {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readLoop handles inbound invoke frames until the peer goes away.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, sessionID string, send chan<- wsFrame) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var req wsInvoke
		if err := json.Unmarshal(data, &req); err != nil || req.Command == "" {
			s.reply(send, wsFrame{Type: "error", ID: req.ID, Error: "expected {id, command, args}"})
			continue
		}

		result, err := s.assistant.Invoke(ctx, sessionID, req.Command, req.Args)
		if err != nil {
			s.reply(send, wsFrame{Type: "error", ID: req.ID, Error: err.Error()})
			continue
		}
		s.reply(send, wsFrame{Type: "result", ID: req.ID, Result: result})
	}
}

func (s *Server) reply(send chan<- wsFrame, frame wsFrame) {
	select {
	case send <- frame:
	case <-time.After(writeWait):
		logging.Warnf("websocket reply dropped: send buffer full")
	}
}
