// Package lan implements C5: LanServer and LanClient, a direct WebSocket
// link between devices on the same network, grounded on the teacher's
// pkg/agent/transport/websocket package.
package lan

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hypo-app/hypo-core/internal/codec"
	"github.com/hypo-app/hypo-core/internal/logger"
	"github.com/hypo-app/hypo-core/internal/model"
)

// FrameHandler dispatches one inbound binary frame to the IncomingHandler.
type FrameHandler func(ctx context.Context, peer model.DeviceId, frame []byte)

// Server accepts peer WebSocket connections and enforces one active
// connection per peer device id, per spec §4.5: a newer successful
// handshake supersedes an older one with a graceful close on the old.
type Server struct {
	handler  FrameHandler
	log      logger.Logger
	upgrader websocket.Upgrader

	readTimeout time.Duration

	mu    sync.Mutex
	conns map[model.DeviceId]*websocket.Conn
}

// NewServer constructs a Server. handler is invoked for every received frame.
func NewServer(handler FrameHandler, log logger.Logger) *Server {
	if log == nil {
		log = logger.GetDefaultLogger()
	}
	return &Server{
		handler: handler,
		log:     log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		readTimeout: 30 * time.Second,
		conns:       make(map[model.DeviceId]*websocket.Conn),
	}
}

// Handler returns the HTTP handler that upgrades and serves the LAN socket.
// The peer's device id is expected as the X-Device-Id header, matching the
// identification convention used on the cloud relay connection (spec §6.2).
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		peerID := model.DeviceId(r.Header.Get("X-Device-Id")).Canonical()
		if peerID == "" {
			http.Error(w, "X-Device-Id header required", http.StatusBadRequest)
			return
		}

		conn, err := s.upgrader.Upgrade(w, r, nil)
		if err != nil {
			s.log.Warn("lan: upgrade failed", logger.Error(err))
			return
		}

		s.supersede(peerID, conn)
		defer s.removeIfCurrent(peerID, conn)

		s.serveConn(r.Context(), peerID, conn)
	})
}

// supersede replaces any existing connection for peerID with conn, closing
// the old one gracefully.
func (s *Server) supersede(peerID model.DeviceId, conn *websocket.Conn) {
	s.mu.Lock()
	old, ok := s.conns[peerID]
	s.conns[peerID] = conn
	s.mu.Unlock()

	if ok && old != nil {
		_ = old.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, "superseded"))
		_ = old.Close()
	}
}

func (s *Server) removeIfCurrent(peerID model.DeviceId, conn *websocket.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[peerID] == conn {
		delete(s.conns, peerID)
	}
}

func (s *Server) serveConn(ctx context.Context, peerID model.DeviceId, conn *websocket.Conn) {
	defer conn.Close()

	for {
		if err := conn.SetReadDeadline(time.Now().Add(s.readTimeout)); err != nil {
			return
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		if msgType != websocket.BinaryMessage {
			continue
		}

		frame, err := codec.ReadFrame(bytes.NewReader(data))
		if err != nil {
			s.log.Warn("lan: dropping malformed frame", logger.String("peer", string(peerID)), logger.Error(err))
			continue
		}

		s.handler(ctx, peerID, frame)
	}
}

// Send writes frame to the currently active connection for peerID, if any.
func (s *Server) Send(peerID model.DeviceId, frame []byte) error {
	s.mu.Lock()
	conn, ok := s.conns[peerID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("lan: no active connection for peer %s", peerID)
	}

	var buf bytes.Buffer
	if err := codec.WriteFrame(&buf, frame); err != nil {
		return err
	}

	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return conn.WriteMessage(websocket.BinaryMessage, buf.Bytes())
}

// Connected reports whether peerID currently has an active connection.
func (s *Server) Connected(peerID model.DeviceId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[peerID]
	return ok
}

// Close shuts down every active connection.
func (s *Server) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, conn := range s.conns {
		_ = conn.Close()
		delete(s.conns, id)
	}
}
