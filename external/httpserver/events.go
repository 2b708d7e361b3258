package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/foxseedlab/sanctuary/internal/fanout"
	"github.com/foxseedlab/sanctuary/internal/repository"
	"github.com/foxseedlab/sanctuary/internal/session"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	wsMaxPayloadBytes = 4096
	wsPingInterval    = 15 * time.Second
	wsPongWait        = 45 * time.Second
	wsWriteWait       = 10 * time.Second

	// closeLagged tells a client it was evicted and must resync from a
	// fresh snapshot.
	closeLagged = 4001
)

type streamFrame struct {
	Type  string        `json:"type"`
	View  *session.View `json:"view,omitempty"`
	Event *fanout.Event `json:"event,omitempty"`
}

// handleEvents streams a snapshot followed by every event published after
// it. The session is looked up before subscribing so unknown ids never reach
// the hub. The subscription is then opened before the snapshot is taken, and
// events already reflected in the snapshot are skipped by sequence number.
// Streams of ended sessions get the snapshot and a normal close.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	caller := r.Header.Get(participantHeader)
	if caller == "" {
		caller = r.URL.Query().Get("participant_id")
	}
	name := caller
	if name == "" {
		name = "anonymous"
	}
	name += "/" + uuid.NewString()[:8]

	view, err := s.sessions.Get(r.Context(), sessionID)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var sub *fanout.Subscription
	if view.Session.Status != repository.SessionStatusEnded {
		sub, err = s.hub.Subscribe(sessionID, name)
		switch {
		case errors.Is(err, fanout.ErrSessionClosed):
			sub = nil
		case err != nil:
			writeError(w, r, err)
			return
		}
	}
	if sub != nil {
		view, err = s.sessions.Get(r.Context(), sessionID)
		if err != nil {
			sub.Close()
			writeError(w, r, err)
			return
		}
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if sub != nil {
			sub.Close()
		}
		slog.Warn("websocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	slog.Debug("event stream opened", "session_id", sessionID, "subscriber", name, "seq", view.Seq)

	ctx, cancel := context.WithCancel(context.WithoutCancel(r.Context()))
	defer func() {
		cancel()
		if sub != nil {
			sub.Close()
		}
		_ = conn.Close()
		slog.Debug("event stream closed", "session_id", sessionID, "subscriber", name)
	}()
	go readUntilClosed(conn, cancel)

	if err := writeFrame(conn, streamFrame{Type: "snapshot", View: &view}); err != nil {
		return
	}
	if sub == nil || view.Session.Status == repository.SessionStatusEnded {
		closeStream(conn, fanout.ErrSessionClosed)
		return
	}

	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()
	events := make(chan fanout.Event)
	errc := make(chan error, 1)
	go func() {
		for {
			ev, err := sub.Next(ctx)
			if err != nil {
				errc <- err
				return
			}
			select {
			case events <- ev:
			case <-ctx.Done():
				errc <- ctx.Err()
				return
			}
		}
	}()

	for {
		select {
		case ev := <-events:
			if ev.Seq <= view.Seq {
				continue
			}
			if err := writeFrame(conn, streamFrame{Type: "event", Event: &ev}); err != nil {
				return
			}
			// relayed ends never close the local topic
			if endsSession(ev) {
				closeStream(conn, fanout.ErrSessionClosed)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		case err := <-errc:
			closeStream(conn, err)
			return
		}
	}
}

func endsSession(ev fanout.Event) bool {
	if ev.Type != fanout.EventSessionStatus {
		return false
	}
	var p session.StatusPayload
	if err := json.Unmarshal(ev.Payload, &p); err != nil {
		return false
	}
	return p.Status == repository.SessionStatusEnded
}

func writeFrame(conn *websocket.Conn, frame streamFrame) error {
	b, err := json.Marshal(frame)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
	return conn.WriteMessage(websocket.TextMessage, b)
}

func closeStream(conn *websocket.Conn, err error) {
	code, reason := websocket.CloseNormalClosure, "session closed"
	switch {
	case errors.Is(err, fanout.ErrLagged):
		code, reason = closeLagged, "lagged"
	case errors.Is(err, context.Canceled):
		return
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(wsWriteWait))
}

// readUntilClosed drains client frames so control messages are processed and
// cancels the stream when the peer goes away.
func readUntilClosed(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(wsMaxPayloadBytes)
	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(wsPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
