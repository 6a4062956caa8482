package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"rdpgate/internal/bridge"
	"rdpgate/internal/constants"
	"rdpgate/internal/security"
	"rdpgate/internal/session"
)

type HealthResponse struct {
	Status         string `json:"status"`
	ActiveSessions int    `json:"activeSessions"`
	MaxSessions    int    `json:"maxSessions"`
	UptimeSeconds  int64  `json:"uptimeSeconds"`
	Backend        string `json:"backend"`
	Version        string `json:"version"`
}

type StatsResponse struct {
	ActiveSessions int              `json:"activeSessions"`
	MaxSessions    int              `json:"maxSessions"`
	Totals         session.Counters `json:"totals"`
	Sessions       []session.Stats  `json:"sessions,omitempty"`
	Records        []session.Record `json:"records,omitempty"`
	Session        *session.Stats   `json:"session,omitempty"`
}

func (s *Server) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	clientIP := security.ClientIP(r)

	if !s.Origins.Allows(r) {
		log.Printf("🚫 Origin %q rejected for %s", r.Header.Get("Origin"), clientIP)
		s.AuditLogger.LogOriginRejected(clientIP, r.Header.Get("Origin"))
		http.Error(w, constants.MsgOriginRejected, http.StatusForbidden)
		return
	}

	release, ok := s.ConnLimiter.Acquire(clientIP)
	if !ok {
		log.Printf("🚫 Connection limit reached for %s", clientIP)
		s.AuditLogger.LogConnectionLimit(clientIP)
		http.Error(w, constants.MsgConnLimit, http.StatusTooManyRequests)
		return
	}
	defer release()

	upgradeToken := security.BearerToken(r)
	if upgradeToken == "" {
		upgradeToken = r.URL.Query().Get("token")
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  constants.WSBufferSize,
		WriteBufferSize: constants.WSBufferSize,
		CheckOrigin:     s.Origins.Allows,
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("❌ WebSocket upgrade failed for %s: %v", clientIP, err)
		return
	}
	defer conn.Close()

	conn.SetReadLimit(constants.MaxWSMessageSize)
	pongWait := 2 * s.cfg.HeartbeatInterval
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	t := newTransport(conn, s.cfg.HeartbeatInterval)
	go t.writePump()
	defer t.stop()

	b := bridge.New(s.bridgeConfig, t, clientIP, upgradeToken)
	s.track(b)
	defer s.untrack(b)

	if err := readLoop(conn, b); err != nil {
		var panicErr *readPanic
		if errors.As(err, &panicErr) {
			b.Abort(err)
			return
		}
		b.TransportClosed(err)
		return
	}
	b.TransportClosed(nil)
}

type readPanic struct{ value any }

func (p *readPanic) Error() string { return fmt.Sprintf("panic: %v", p.value) }

// readLoop feeds text frames to the bridge in arrival order until the
// connection ends. A clean close returns nil.
func readLoop(conn *websocket.Conn, b *bridge.Bridge) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("🔥 PANIC RECOVERED in read loop: %v", r)
			err = &readPanic{value: r}
		}
	}()

	for {
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
				return nil
			}
			return err
		}
		if msgType != websocket.TextMessage {
			continue
		}
		b.HandleMessage(data)
	}
}

func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:         "ok",
		ActiveSessions: s.Registry.Count(),
		MaxSessions:    s.Registry.Max(),
		UptimeSeconds:  int64(time.Since(s.startTime).Seconds()),
		Backend:        s.Resolver.Name(),
		Version:        constants.Version,
	})
}

// HandleStats reports registry counters and live sessions. scope=cluster
// lists the mirrored records of every gateway sharing the store.
func (s *Server) HandleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, constants.MsgMethodNotAllowed, http.StatusMethodNotAllowed)
		return
	}
	if s.cfg.AdminToken != "" && !security.BearerMatches(r, s.cfg.AdminToken) {
		http.Error(w, constants.MsgUnauthorized, http.StatusUnauthorized)
		return
	}

	resp := StatsResponse{
		ActiveSessions: s.Registry.Count(),
		MaxSessions:    s.Registry.Max(),
		Totals:         s.Registry.Counters(),
	}

	query := r.URL.Query()
	switch {
	case query.Get("session") != "":
		id, ok := security.ParseSessionID(query.Get("session"))
		if !ok {
			http.Error(w, constants.MsgInvalidSessionID, http.StatusBadRequest)
			return
		}
		sess, ok := s.Registry.Lookup(id)
		if !ok {
			http.Error(w, constants.MsgSessionNotFound, http.StatusNotFound)
			return
		}
		stats := sess.Stats()
		resp.Session = &stats
	case query.Get("scope") == "cluster":
		records, err := s.Registry.Store().List()
		if err != nil {
			log.Printf("⚠️  Listing session records: %v", err)
			http.Error(w, constants.MsgStoreUnavailable, http.StatusServiceUnavailable)
			return
		}
		resp.Records = records
	default:
		resp.Sessions = s.Registry.Snapshot()
	}

	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("⚠️  Writing response: %v", err)
	}
}
