// Package server exposes the HTTP surface: the WebSocket session endpoint and
// the health check.
package server

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/parley-chat/parley/internal/auth"
)

// Handshake rejection reasons, sent as the policy-violation close reason. The
// client learns only that the connection was refused, not which gate failed
// beyond this short text.
const (
	reasonCredentialMissing     = "missing or malformed credential"
	reasonCredentialInvalid     = "invalid credential"
	reasonUnknownUser           = "unknown or inactive user"
	reasonUnknownConversation   = "unknown conversation"
	reasonNotConversationMember = "not a conversation member"
)

// handleHealth reports liveness.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprint(w, "ok")
}

// handleSocket upgrades the connection and runs the session state machine:
// Connecting (four handshake gates), Active (frame loop), Closed. Any gate
// failure refuses the session with a policy-violation close before the
// registry is touched.
func (s *Server) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error response.
		s.log.Debug().Err(err).Str("remote", r.RemoteAddr).Msg("websocket upgrade failed")
		return
	}

	userID, convID, reason := s.authorize(r)
	if reason != "" {
		s.log.Info().
			Str("remote", r.RemoteAddr).
			Str("reason", reason).
			Msg("websocket handshake refused")
		s.refuse(conn, reason)
		return
	}

	newSession(conn, userID, convID, s).run(r.Context())
}

// authorize runs the four handshake gates in order. Each is a hard gate: the
// first failure returns its rejection reason and no session state is created.
func (s *Server) authorize(r *http.Request) (userID, convID uuid.UUID, reason string) {
	ctx := r.Context()

	token, ok := auth.BearerToken(r)
	if !ok {
		return uuid.Nil, uuid.Nil, reasonCredentialMissing
	}

	userID, err := s.verifier.Verify(token)
	if err != nil {
		return uuid.Nil, uuid.Nil, reasonCredentialInvalid
	}

	active, err := s.directory.UserActive(ctx, userID)
	if err != nil || !active {
		return uuid.Nil, uuid.Nil, reasonUnknownUser
	}

	convID, err = uuid.Parse(chi.URLParam(r, "conversationID"))
	if err != nil {
		return uuid.Nil, uuid.Nil, reasonUnknownConversation
	}
	exists, err := s.directory.ConversationExists(ctx, convID)
	if err != nil || !exists {
		return uuid.Nil, uuid.Nil, reasonUnknownConversation
	}

	member, err := s.directory.IsMember(ctx, convID, userID)
	if err != nil || !member {
		return uuid.Nil, uuid.Nil, reasonNotConversationMember
	}

	return userID, convID, ""
}

// refuse closes a just-upgraded connection with a policy-violation status.
func (s *Server) refuse(conn *websocket.Conn, reason string) {
	msg := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, reason)
	deadline := time.Now().Add(writeWait)
	if err := conn.WriteControl(websocket.CloseMessage, msg, deadline); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("error writing refusal close frame")
	}
	if err := conn.Close(); err != nil && !isExpectedCloseError(err) {
		s.log.Debug().Err(err).Msg("error closing refused connection")
	}
}

// isExpectedCloseError checks if an error is expected during connection
// closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe")
}
