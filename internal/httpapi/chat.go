package httpapi

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"github.com/google/uuid"

	"github.com/hausruf/hausruf/internal/supervisor"
)

// chatMessage is the wire format in both directions. Clients send type
// "user"; the server sends "assistant" turns and a terminal "end".
type chatMessage struct {
	Type  string `json:"type"`
	Text  string `json:"text,omitempty"`
	JobID string `json:"job_id,omitempty"`
}

// handleChat upgrades to WebSocket and binds the connection to a chat
// session. The supervisor owns turn and lifetime limits; this handler only
// shuttles messages.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	tenant := tenantID(r)
	sessionID := uuid.NewString()

	sess, err := s.sup.Open(supervisor.Descriptor{
		SessionID:  sessionID,
		TenantID:   tenant,
		Channel:    supervisor.ChannelChat,
		OutOfHours: !s.cfg.BusinessHours.OpenAt(time.Now()),
	})
	if err != nil {
		writeError(w, err)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		s.sup.Close(context.Background(), sessionID, "upgrade failed")
		s.log.Warn("chat upgrade failed", "error", err)
		return
	}

	log := s.log.With("session_id", sessionID, "tenant_id", tenant)
	log.Info("chat session opened")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go s.chatReadLoop(ctx, cancel, conn, sess, log)
	s.chatWriteLoop(ctx, conn, sess, log)

	s.sup.Close(context.Background(), sessionID, "chat closed")
	conn.Close(websocket.StatusNormalClosure, "session ended")
	log.Info("chat session closed")
}

// chatReadLoop forwards user messages into the session. Chat text is typed,
// so confidence is always 1.
func (s *Server) chatReadLoop(ctx context.Context, cancel context.CancelFunc,
	conn *websocket.Conn, sess *supervisor.Session, log *slog.Logger) {
	defer cancel()
	for {
		readCtx, done := context.WithTimeout(ctx, s.cfg.ChatIdleTimeout)
		var msg chatMessage
		err := wsjson.Read(readCtx, conn, &msg)
		done()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, context.DeadlineExceeded) {
				log.Warn("chat read failed", "error", err)
			}
			return
		}
		if msg.Type != "user" || msg.Text == "" {
			continue
		}
		sess.Push(supervisor.Inbound{Text: msg.Text, Confidence: 1})
	}
}

// chatWriteLoop streams assistant turns to the client until the session ends
// or the connection drops.
func (s *Server) chatWriteLoop(ctx context.Context, conn *websocket.Conn,
	sess *supervisor.Session, log *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			return
		case out := <-sess.Out:
			if out.Text != "" {
				if err := wsjson.Write(ctx, conn, chatMessage{Type: "assistant", Text: out.Text}); err != nil {
					log.Warn("chat write failed", "error", err)
					return
				}
			}
			if out.End {
				if err := wsjson.Write(ctx, conn, chatMessage{Type: "end", JobID: out.JobNumber}); err != nil {
					log.Warn("chat end write failed", "error", err)
				}
				return
			}
		}
	}
}
