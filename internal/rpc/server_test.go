package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wonny/quantk/pkg/config"
	"github.com/wonny/quantk/pkg/logger"
)

func newTestServer(t *testing.T) (*Server, net.Conn, func()) {
	t.Helper()

	cfg := config.BridgeConfig{
		Port:        0,
		WorkerPool:  2,
		IdleTimeout: 200 * time.Millisecond,
	}
	s := NewServer(cfg, logger.NewNop())
	s.portOut = io.Discard

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	select {
	case <-s.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("server did not become ready")
	}

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	require.NoError(t, err)

	cleanup := func() {
		_ = conn.Close()
		cancel()
		select {
		case <-done:
		case <-time.After(2 * time.Second):
			t.Error("server did not stop")
		}
	}
	return s, conn, cleanup
}

func roundTrip(t *testing.T, conn net.Conn, line string) map[string]interface{} {
	t.Helper()

	_, err := conn.Write([]byte(line + "\n"))
	require.NoError(t, err)

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	raw, err := bufio.NewReader(conn).ReadBytes('\n')
	require.NoError(t, err)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &resp))
	return resp
}

func errorCode(t *testing.T, resp map[string]interface{}) int {
	t.Helper()
	errObj, ok := resp["error"].(map[string]interface{})
	require.True(t, ok, "expected error envelope, got %v", resp)
	return int(errObj["code"].(float64))
}

func TestPing(t *testing.T) {
	_, conn, cleanup := newTestServer(t)
	defer cleanup()

	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":1,"method":"ping","params":{}}`)

	assert.Equal(t, "2.0", resp["jsonrpc"])
	assert.Equal(t, float64(1), resp["id"])

	result, ok := resp["result"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, true, result["pong"])

	methods, ok := result["methods"].([]interface{})
	require.True(t, ok)
	assert.Contains(t, methods, "ping")
	assert.Contains(t, methods, "shutdown")
}

func TestParseError(t *testing.T) {
	_, conn, cleanup := newTestServer(t)
	defer cleanup()

	resp := roundTrip(t, conn, `{not json`)
	assert.Equal(t, CodeParseError, errorCode(t, resp))
	assert.Nil(t, resp["id"])
}

func TestInvalidRequest(t *testing.T) {
	_, conn, cleanup := newTestServer(t)
	defer cleanup()

	tests := []struct {
		name string
		line string
	}{
		{"wrong version", `{"jsonrpc":"1.0","id":7,"method":"ping"}`},
		{"missing jsonrpc", `{"id":7,"method":"ping"}`},
		{"missing method", `{"jsonrpc":"2.0","id":7}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := roundTrip(t, conn, tt.line)
			assert.Equal(t, CodeInvalidRequest, errorCode(t, resp))
			assert.Equal(t, float64(7), resp["id"])
		})
	}
}

func TestMethodNotFound(t *testing.T) {
	_, conn, cleanup := newTestServer(t)
	defer cleanup()

	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":"abc","method":"no_such_method","params":{}}`)
	assert.Equal(t, CodeMethodNotFound, errorCode(t, resp))
	assert.Equal(t, "abc", resp["id"])
}

func TestNullIDEcho(t *testing.T) {
	_, conn, cleanup := newTestServer(t)
	defer cleanup()

	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":null,"method":"ping","params":{}}`)
	assert.Nil(t, resp["id"])
	assert.NotNil(t, resp["result"])
}

func TestTypedErrorPassthrough(t *testing.T) {
	s, conn, cleanup := newTestServer(t)
	defer cleanup()

	s.Register("boom", func(_ context.Context, _ json.RawMessage) (interface{}, error) {
		return nil, NewErrorWithData(CodeInvalidMarket, map[string]string{"market": "NYSE"}, "Invalid market: NYSE")
	})

	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":2,"method":"boom","params":{}}`)

	errObj := resp["error"].(map[string]interface{})
	assert.Equal(t, float64(CodeInvalidMarket), errObj["code"])
	assert.Equal(t, "Invalid market: NYSE", errObj["message"])
	assert.NotNil(t, errObj["data"])
}

func TestInternalErrorConversion(t *testing.T) {
	s, conn, cleanup := newTestServer(t)
	defer cleanup()

	s.Register("fail", func(_ context.Context, _ json.RawMessage) (interface{}, error) {
		return nil, errors.New("disk on fire")
	})
	s.Register("panic", func(_ context.Context, _ json.RawMessage) (interface{}, error) {
		panic("boom")
	})

	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":3,"method":"fail","params":{}}`)
	assert.Equal(t, CodeInternalError, errorCode(t, resp))
	assert.Contains(t, resp["error"].(map[string]interface{})["message"], "disk on fire")

	// The connection survives the failed handler
	resp = roundTrip(t, conn, `{"jsonrpc":"2.0","id":4,"method":"panic","params":{}}`)
	assert.Equal(t, CodeInternalError, errorCode(t, resp))

	resp = roundTrip(t, conn, `{"jsonrpc":"2.0","id":5,"method":"ping","params":{}}`)
	assert.NotNil(t, resp["result"])
}

func TestPerConnectionOrdering(t *testing.T) {
	s, conn, cleanup := newTestServer(t)
	defer cleanup()

	s.Register("slow", func(_ context.Context, _ json.RawMessage) (interface{}, error) {
		time.Sleep(50 * time.Millisecond)
		return map[string]string{"which": "slow"}, nil
	}, Blocking())

	// Two pipelined requests: the slow one first, responses must come back
	// in request order on the same connection.
	_, err := conn.Write([]byte(
		`{"jsonrpc":"2.0","id":10,"method":"slow","params":{}}` + "\n" +
			`{"jsonrpc":"2.0","id":11,"method":"ping","params":{}}` + "\n"))
	require.NoError(t, err)

	reader := bufio.NewReader(conn)
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var ids []float64
	for i := 0; i < 2; i++ {
		raw, err := reader.ReadBytes('\n')
		require.NoError(t, err)
		var resp map[string]interface{}
		require.NoError(t, json.Unmarshal(raw, &resp))
		ids = append(ids, resp["id"].(float64))
	}

	assert.Equal(t, []float64{10, 11}, ids)
}

func TestSlowHandlerDoesNotStallOtherConnections(t *testing.T) {
	s, conn, cleanup := newTestServer(t)
	defer cleanup()

	release := make(chan struct{})
	s.Register("block", func(_ context.Context, _ json.RawMessage) (interface{}, error) {
		<-release
		return map[string]bool{"ok": true}, nil
	}, Blocking())
	defer close(release)

	// First connection stuck in a blocking handler
	_, err := conn.Write([]byte(`{"jsonrpc":"2.0","id":1,"method":"block","params":{}}` + "\n"))
	require.NoError(t, err)

	// A second connection still gets served
	conn2, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	require.NoError(t, err)
	defer conn2.Close()

	resp := roundTrip(t, conn2, `{"jsonrpc":"2.0","id":2,"method":"ping","params":{}}`)
	assert.NotNil(t, resp["result"])
}

func TestIdleTimeoutKeepsConnectionAlive(t *testing.T) {
	_, conn, cleanup := newTestServer(t)
	defer cleanup()

	// Wait well past the 200ms idle read timeout, then the connection
	// must still answer.
	time.Sleep(500 * time.Millisecond)

	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":9,"method":"ping","params":{}}`)
	assert.NotNil(t, resp["result"])
}

func TestShutdownMethod(t *testing.T) {
	cfg := config.BridgeConfig{Port: 0, WorkerPool: 2, IdleTimeout: 100 * time.Millisecond}
	s := NewServer(cfg, logger.NewNop())
	s.portOut = io.Discard

	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()
	<-s.Ready()

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", s.Port()))
	require.NoError(t, err)
	defer conn.Close()

	resp := roundTrip(t, conn, `{"jsonrpc":"2.0","id":1,"method":"shutdown","params":{}}`)
	result := resp["result"].(map[string]interface{})
	assert.Equal(t, true, result["shutting_down"])

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("server did not stop after shutdown RPC")
	}
}

func TestBridgePortMarker(t *testing.T) {
	cfg := config.BridgeConfig{Port: 0, WorkerPool: 1, IdleTimeout: 100 * time.Millisecond}
	s := NewServer(cfg, logger.NewNop())

	var buf strings.Builder
	s.portOut = &syncWriter{b: &buf}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	<-s.Ready()

	cancel()
	<-done

	marker := strings.TrimSpace(buf.String())
	assert.Equal(t, fmt.Sprintf("BRIDGE_PORT:%d", s.Port()), marker)
}

type syncWriter struct {
	mu sync.Mutex
	b  *strings.Builder
}

func (w *syncWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.b.Write(p)
}
