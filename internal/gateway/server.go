package gateway

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nextlevelbuilder/agentgateway/internal/bus"
	"github.com/nextlevelbuilder/agentgateway/pkg/protocol"
)

// outboundQueueSize bounds how many frames (responses or pushed events) a
// single slow connection can have buffered. Once it is full, pushed events
// for that connection are dropped and responses wait for space.
const outboundQueueSize = 64

// Server is a thin WebSocket frontend over a Dispatcher: one connection
// reads RequestFrame JSON messages and writes back ResponseFrame JSON
// messages. It also subscribes each connection to an optional event bus so
// unsolicited EventFrame pushes (job executions, delivery outcomes) reach
// every connected client. The method surface itself lives entirely in the
// Dispatcher; this type only owns the transport.
type Server struct {
	dispatcher *Dispatcher
	events     *bus.Bus
	upgrader   websocket.Upgrader
}

// NewServer returns a Server dispatching through d. events may be nil, in
// which case no unsolicited pushes are sent.
func NewServer(d *Dispatcher, events *bus.Bus) *Server {
	return &Server{
		dispatcher: d,
		events:     events,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Handler returns the http.Handler to mount at a WebSocket endpoint.
func (s *Server) Handler() http.Handler {
	return http.HandlerFunc(s.handleWebSocket)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("gateway: websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	s.serveConn(r.Context(), conn)
}

func (s *Server) serveConn(ctx context.Context, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	outbound := make(chan any, outboundQueueSize)

	if s.events != nil {
		subID := uuid.NewString()
		s.events.Subscribe(subID, func(evt protocol.EventFrame) {
			select {
			case outbound <- evt:
			default:
				slog.Warn("gateway: dropping event for slow connection", "event", evt.Event)
			}
		})
		defer s.events.Unsubscribe(subID)
	}

	go s.writeLoop(ctx, conn, outbound)
	s.readLoop(ctx, conn, outbound)
}

func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, outbound chan<- any) {
	for {
		var req protocol.RequestFrame
		if err := conn.ReadJSON(&req); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				slog.Debug("gateway: websocket read error", "error", err)
			}
			return
		}

		callCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		result, err := s.dispatcher.Dispatch(callCtx, req.Method, req.Params)
		cancel()

		if req.ID == "" {
			continue // notification: no response expected
		}

		resp := protocol.ResponseFrame{ID: req.ID}
		if err != nil {
			resp.Error = toResponseError(err)
		} else {
			resp.Result = result
		}
		select {
		case outbound <- resp:
		case <-ctx.Done():
			return
		}
	}
}

func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, outbound <-chan any) {
	for {
		select {
		case <-ctx.Done():
			return
		case frame := <-outbound:
			if err := conn.WriteJSON(frame); err != nil {
				slog.Debug("gateway: websocket write error", "error", err)
				return
			}
		}
	}
}

func toResponseError(err error) *protocol.ResponseError {
	if me, ok := err.(*MethodError); ok {
		return &protocol.ResponseError{Code: me.Code, Message: me.Message}
	}
	return &protocol.ResponseError{Code: "internal_error", Message: err.Error()}
}
