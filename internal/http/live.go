package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"semaphore/badging/internal/kpi"
	"semaphore/badging/internal/model"
)

const (
	socketWriteWait  = 10 * time.Second
	socketPongWait   = 60 * time.Second
	socketPingPeriod = socketPongWait * 9 / 10
)

func (s *Server) handleLiveUsers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.liveUsers(r))
}

func (s *Server) liveUsers(r *http.Request) []model.User {
	q := r.URL.Query()
	filter := kpi.Filter{
		Service: strings.TrimSpace(q.Get("service")),
		Role:    strings.TrimSpace(q.Get("role")),
		Search:  strings.TrimSpace(q.Get("search")),
	}
	users := make([]model.User, 0)
	for _, u := range s.live.Snapshot() {
		if filter.Match(u) {
			users = append(users, u)
		}
	}
	return users
}

// handleLiveSocket pushes the whole filtered roster on connect and again
// after every applied change.
func (s *Server) handleLiveSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	updates, unsubscribe := s.live.Subscribe()
	defer unsubscribe()

	closed := make(chan struct{})
	conn.SetReadLimit(512)
	_ = conn.SetReadDeadline(time.Now().Add(socketPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(socketPongWait))
	})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	send := func() bool {
		_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
		return conn.WriteJSON(s.liveUsers(r)) == nil
	}
	if !send() {
		return
	}

	ping := time.NewTicker(socketPingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-r.Context().Done():
			return
		case <-closed:
			return
		case <-updates:
			if !send() {
				return
			}
		case <-ping.C:
			_ = conn.SetWriteDeadline(time.Now().Add(socketWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
