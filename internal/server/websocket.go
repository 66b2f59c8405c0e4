package server

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/muurk/discovery/internal/discovery"
	"github.com/muurk/discovery/internal/logging"
	"github.com/muurk/discovery/internal/ssdp"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer; clients only send control frames
	maxMessageSize = 512
)

// Feed message types
const (
	MessageSnapshot = "snapshot"
	MessageService  = "service"
	MessageError    = "error"
)

// Message is one JSON frame on the event feed.
// The first frame of every connection is a snapshot of the current session.
type Message struct {
	Type     string               `json:"type"`
	Session  string               `json:"session"`
	Services []ssdp.ServiceRecord `json:"services,omitempty"`
	Service  *ssdp.ServiceRecord  `json:"service,omitempty"`
	Error    string               `json:"error,omitempty"`
}

func eventMessage(ev discovery.Event) Message {
	if ev.Err != nil {
		return Message{Type: MessageError, Session: ev.Session, Error: ev.Err.Error()}
	}
	rec := ev.Record
	return Message{Type: MessageService, Session: ev.Session, Service: &rec}
}

// handleEvents upgrades to a websocket and streams engine events until the
// client goes away or the server shuts down.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written an error response
		logging.Warn("WebSocket upgrade failed",
			zap.String("remote_addr", r.RemoteAddr),
			zap.Error(err),
		)
		return
	}

	remoteAddr := r.RemoteAddr
	if !s.track(remoteAddr, conn) {
		_ = conn.Close()
		return
	}
	defer s.untrack(remoteAddr)

	logging.LogConnection(remoteAddr, "websocket_upgraded")
	defer func() {
		_ = conn.Close()
		logging.LogConnection(remoteAddr, "websocket_closed")
	}()

	// Subscribe before taking the snapshot so nothing falls in between;
	// events already covered by the snapshot are skipped below.
	sub := s.engine.Subscribe()
	defer sub.Close()

	session := s.engine.Session()
	snapshot := s.engine.Snapshot()
	inSnapshot := make(map[string]bool, len(snapshot))
	for _, rec := range snapshot {
		inSnapshot[rec.USN] = true
	}

	if err := writeMessage(conn, remoteAddr, Message{
		Type:     MessageSnapshot,
		Session:  session,
		Services: snapshot,
	}); err != nil {
		return
	}

	closed := make(chan struct{})
	go readPump(conn, remoteAddr, closed)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				// Engine stopped
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "discovery stopped"),
					time.Now().Add(writeWait))
				return
			}
			if ev.Err == nil && ev.Session == session && inSnapshot[ev.Record.USN] {
				continue
			}
			if err := writeMessage(conn, remoteAddr, eventMessage(ev)); err != nil {
				return
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				logging.Debug("Ping failed", zap.String("remote_addr", remoteAddr), zap.Error(err))
				return
			}

		case <-closed:
			return
		}
	}
}

func writeMessage(conn *websocket.Conn, remoteAddr string, msg Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		logging.Error("Failed to encode feed message", zap.Error(err))
		return err
	}

	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		logging.Debug("Failed to write feed message",
			zap.String("remote_addr", remoteAddr),
			zap.Error(err),
		)
		return err
	}

	logging.LogWebSocketMessage(remoteAddr, msg.Type, data)
	return nil
}

// readPump consumes control frames so pongs and close frames are processed.
// It closes done when the connection can no longer be read.
func readPump(conn *websocket.Conn, remoteAddr string, done chan<- struct{}) {
	defer close(done)

	conn.SetReadLimit(maxMessageSize)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				logging.Debug("Feed client read error",
					zap.String("remote_addr", remoteAddr),
					zap.Error(err),
				)
			}
			return
		}
	}
}
