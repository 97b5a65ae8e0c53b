// Package server manages individual WebSocket sessions, handling read/write
// pumps, frame processing, and lifecycle control for each connection.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/parley-chat/parley/internal/broker"
	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/registry"
)

const (
	sendBufferSize = 256
	pongWait       = 60 * time.Second
	pingInterval   = 54 * time.Second
	writeWait      = 10 * time.Second
)

// Error details surfaced to the sending client for recoverable failures.
const (
	detailPersistFailed   = "Failed to save message."
	detailBroadcastFailed = "Message saved but broadcast failed."
	detailRateLimited     = "Rate limit exceeded."
)

var (
	errSessionClosed  = errors.New("session closed")
	errSendBufferFull = errors.New("session send buffer full")
)

// session is the per-connection state machine. After the handshake gates have
// passed it registers itself with the registry, reads frames in arrival
// order, persists each accepted message, and publishes the canonical event to
// the conversation topic. Teardown unregisters the socket exactly once on
// every exit path.
type session struct {
	conn *websocket.Conn
	send chan []byte

	userID uuid.UUID
	convID uuid.UUID
	topic  string

	registry *registry.Registry
	broker   broker.Broker
	store    chat.MessageStore
	limiter  *rateLimiter

	maxMessageSize int64
	log            zerolog.Logger

	closing   chan struct{}
	closeOnce sync.Once
}

func newSession(conn *websocket.Conn, userID, convID uuid.UUID, s *Server) *session {
	topic := chat.Topic(convID)
	return &session{
		conn:           conn,
		send:           make(chan []byte, sendBufferSize),
		userID:         userID,
		convID:         convID,
		topic:          topic,
		registry:       s.registry,
		broker:         s.broker,
		store:          s.store,
		limiter:        newRateLimiter(s.cfg.RateLimit),
		maxMessageSize: s.cfg.MaxMessageSize,
		log: s.baseLog.With().
			Str("component", "session").
			Str("topic", topic).
			Str("user_id", userID.String()).
			Logger(),
		closing: make(chan struct{}),
	}
}

// Send queues payload for delivery to this client. It never blocks: a closed
// session or a full buffer returns an error, which tells the registry to drop
// the socket.
func (s *session) Send(payload []byte) error {
	select {
	case <-s.closing:
		return errSessionClosed
	default:
	}

	select {
	case s.send <- payload:
		return nil
	case <-s.closing:
		return errSessionClosed
	default:
		return errSendBufferFull
	}
}

// run is the Active state. It registers the socket, starts the write pump,
// and blocks reading frames until the connection ends.
func (s *session) run(ctx context.Context) {
	s.registry.Register(s.topic, s)
	s.log.Info().Msg("session active")

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.writePump()
	}()

	s.readLoop(ctx)
	s.shutdown()
	wg.Wait()

	s.log.Info().Msg("session closed")
}

// shutdown moves the session to Closed. Safe to call from any goroutine, any
// number of times; the registry unregister happens exactly once.
func (s *session) shutdown() {
	s.closeOnce.Do(func() {
		s.registry.Unregister(s.topic, s)
		close(s.closing)
		if err := s.conn.Close(); err != nil && !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("error closing connection")
		}
	})
}

// Close tears the session down, delivering a going-away close frame first.
// The registry calls this during server shutdown.
func (s *session) Close() error {
	s.writeClose(websocket.CloseGoingAway, "server shutting down")
	s.shutdown()
	return nil
}

// readLoop handles inbound frames strictly in arrival order. Frame-level
// failures are reported to the sender and the loop continues; only transport
// errors end it.
func (s *session) readLoop(ctx context.Context) {
	s.conn.SetReadLimit(s.maxMessageSize)
	if err := s.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		s.log.Debug().Err(err).Msg("error setting initial read deadline")
	}
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := s.conn.ReadMessage()
		if err != nil {
			s.logReadError(err)
			return
		}

		if !s.limiter.allow() {
			s.log.Warn().Msg("rate limit exceeded; discarding frame")
			s.replyError(detailRateLimited)
			continue
		}

		s.handleFrame(ctx, raw)
	}
}

// handleFrame validates one inbound frame, persists the message, and
// publishes the canonical event to the conversation topic. Persistence and
// publish happen sequentially within the session; the frame is never
// broadcast unless it was saved first.
func (s *session) handleFrame(ctx context.Context, raw []byte) {
	var frame chat.InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		s.replyError("invalid frame: " + err.Error())
		return
	}
	if err := frame.Validate(); err != nil {
		s.replyError("invalid frame: " + err.Error())
		return
	}

	msg, err := s.store.Persist(ctx, s.convID, s.userID, frame.Content)
	if err != nil {
		s.log.Error().Err(err).Msg("message persist failed")
		s.replyError(detailPersistFailed)
		return
	}

	payload, err := json.Marshal(chat.NewMessageEvent(msg))
	if err != nil {
		s.log.Error().Err(err).Str("message_id", msg.ID.String()).Msg("event encode failed")
		s.replyError(detailBroadcastFailed)
		return
	}

	if err := s.broker.Publish(ctx, s.topic, payload); err != nil {
		s.log.Warn().Err(err).Str("message_id", msg.ID.String()).Msg("broker publish failed")
		s.replyError(detailBroadcastFailed)
	}
}

// replyError sends an error frame to this session only. Best effort: if the
// session is already going away the reply is dropped.
func (s *session) replyError(detail string) {
	payload, err := json.Marshal(chat.NewErrorFrame(detail))
	if err != nil {
		s.log.Error().Err(err).Msg("error frame encode failed")
		return
	}
	if err := s.Send(payload); err != nil {
		s.log.Debug().Err(err).Msg("error reply dropped")
	}
}

// writePump serializes all writes to the connection: queued payloads and
// keepalive pings. It exits when the session is closing or a write fails,
// closing the connection either way so the read loop unblocks.
func (s *session) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		s.shutdown()
	}()

	for {
		select {
		case <-s.closing:
			s.writeClose(websocket.CloseNormalClosure, "")
			return

		case payload := <-s.send:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				if !isExpectedCloseError(err) {
					s.log.Debug().Err(err).Msg("write failed")
				}
				return
			}

		case <-ticker.C:
			if err := s.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
				return
			}
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// writeClose sends a close frame with the given code, tolerating failures on
// already-dead connections.
func (s *session) writeClose(code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	if err := s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		if !isExpectedCloseError(err) {
			s.log.Debug().Err(err).Msg("error writing close frame")
		}
	}
}

func (s *session) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		s.log.Warn().Int64("limit", s.maxMessageSize).Msg("frame exceeded maximum size")
	case websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure):
		s.log.Debug().Err(err).Msg("client disconnected")
	case errors.Is(err, io.EOF), isExpectedCloseError(err):
		s.log.Debug().Err(err).Msg("connection closed")
	default:
		s.log.Warn().Err(err).Msg("websocket read error")
	}
}
