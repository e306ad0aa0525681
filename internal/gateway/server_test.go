package gateway

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/nextlevelbuilder/agentgateway/internal/bus"
	"github.com/nextlevelbuilder/agentgateway/pkg/protocol"
)

func dialServer(t *testing.T, srv *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func TestServerDispatchesRequestAndReturnsResponse(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	d.Register("echo", func(ctx context.Context, params map[string]any) (any, error) {
		return params["text"], nil
	})

	httpSrv := httptest.NewServer(NewServer(d, nil).Handler())
	defer httpSrv.Close()

	conn := dialServer(t, httpSrv)
	require.NoError(t, conn.WriteJSON(protocol.RequestFrame{
		ID: "1", Method: "echo", Params: map[string]any{"text": "hello"},
	}))

	var resp protocol.ResponseFrame
	require.NoError(t, conn.ReadJSON(&resp))
	require.Nil(t, resp.Error)
	require.Equal(t, "hello", resp.Result)
}

func TestServerNotificationGetsNoResponse(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	called := make(chan struct{}, 1)
	d.Register("ping", func(ctx context.Context, params map[string]any) (any, error) {
		called <- struct{}{}
		return nil, nil
	})

	httpSrv := httptest.NewServer(NewServer(d, nil).Handler())
	defer httpSrv.Close()

	conn := dialServer(t, httpSrv)
	require.NoError(t, conn.WriteJSON(protocol.RequestFrame{Method: "ping"}))

	select {
	case <-called:
	case <-time.After(2 * time.Second):
		t.Fatal("handler was never invoked")
	}

	// Confirm no response follows by sending a real request afterward and
	// checking it's the first frame read back.
	require.NoError(t, conn.WriteJSON(protocol.RequestFrame{ID: "2", Method: "ping"}))
	var resp protocol.ResponseFrame
	require.NoError(t, conn.ReadJSON(&resp))
	require.Equal(t, "2", resp.ID)
}

func TestServerUnknownMethodReturnsMethodNotFoundError(t *testing.T) {
	t.Parallel()
	d := NewDispatcher()
	httpSrv := httptest.NewServer(NewServer(d, nil).Handler())
	defer httpSrv.Close()

	conn := dialServer(t, httpSrv)
	require.NoError(t, conn.WriteJSON(protocol.RequestFrame{ID: "1", Method: "nope"}))

	var resp protocol.ResponseFrame
	require.NoError(t, conn.ReadJSON(&resp))
	require.NotNil(t, resp.Error)
	require.Equal(t, "method_not_found", resp.Error.Code)
}

func TestServerBroadcastsEventToConnectedClient(t *testing.T) {
	t.Parallel()
	events := bus.New()
	httpSrv := httptest.NewServer(NewServer(NewDispatcher(), events).Handler())
	defer httpSrv.Close()

	conn := dialServer(t, httpSrv)

	// give the server goroutine a moment to subscribe before broadcasting.
	time.Sleep(50 * time.Millisecond)
	events.Broadcast(protocol.EventFrame{Event: bus.EventJobExecuted, Payload: "job-1"})

	var evt protocol.EventFrame
	require.NoError(t, conn.ReadJSON(&evt))
	require.Equal(t, bus.EventJobExecuted, evt.Event)
}
