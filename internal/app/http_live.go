package app

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"teamsync/api/internal/live"
)

const liveWriteTimeout = 10 * time.Second

// liveFrame is one message sent on /api/live.
type liveFrame struct {
	Type  string        `json:"type"`
	Views *live.ViewSet `json:"views,omitempty"`
	Error string        `json:"error,omitempty"`
}

// liveCommand is a message received on /api/live.
type liveCommand struct {
	Type string `json:"type"`
}

// handleLive streams the viewer's ViewSet over a websocket. Browsers cannot
// set headers on the upgrade request, so the token may come as ?token=.
func (s *HTTPServer) handleLive(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		token = strings.TrimSpace(r.URL.Query().Get("token"))
	}
	session, ok := s.requireSession(w, r, token)
	if !ok {
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("live: upgrade for %s: %v", session.UserID, err)
		return
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Time{})

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	// Each connection owns its manager so two tabs of one user do not
	// replace each other's listeners.
	manager := s.service.NewLiveManager()
	defer manager.Close()

	// Only the newest ViewSet matters; an unsent older one is dropped.
	frames := make(chan live.ViewSet, 1)
	unsubscribe, err := manager.Sync(ctx, session.Viewer, func(vs live.ViewSet) {
		select {
		case <-frames:
		default:
		}
		frames <- vs
	})
	if err != nil {
		_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
		_ = conn.WriteJSON(liveFrame{Type: "error", Error: err.Error()})
		return
	}
	defer unsubscribe()

	if err := s.service.Heartbeat(ctx, session); err != nil {
		log.Printf("live: heartbeat %s: %v", session.UserID, err)
	}
	defer func() {
		if err := s.service.Leave(context.WithoutCancel(ctx), session); err != nil {
			log.Printf("live: leave %s: %v", session.UserID, err)
		}
	}()

	var wg sync.WaitGroup
	errCh := make(chan error, 2)

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- pumpViewsToWS(ctx, frames, conn)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		errCh <- s.pumpWSCommands(ctx, conn, session)
	}()

	select {
	case <-ctx.Done():
	case <-errCh:
	}
	cancel()
	_ = conn.Close()
	wg.Wait()
}

func pumpViewsToWS(ctx context.Context, frames <-chan live.ViewSet, conn *websocket.Conn) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case vs := <-frames:
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(liveFrame{Type: "views", Views: &vs}); err != nil {
				return err
			}
		}
	}
}

// pumpWSCommands reads client messages. {"type":"heartbeat"} keeps the user
// online; anything else is ignored.
func (s *HTTPServer) pumpWSCommands(ctx context.Context, conn *websocket.Conn, session Session) error {
	for {
		mt, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if mt != websocket.TextMessage || len(data) == 0 {
			continue
		}
		var cmd liveCommand
		if jerr := json.Unmarshal(data, &cmd); jerr != nil {
			continue
		}
		if strings.EqualFold(strings.TrimSpace(cmd.Type), "heartbeat") {
			if err := s.service.Heartbeat(ctx, session); err != nil {
				log.Printf("live: heartbeat %s: %v", session.UserID, err)
			}
		}
	}
}
