package lifecycle

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wgs4/mmcp/internal/jsonrpc"
	"github.com/wgs4/mmcp/sessionstore"
	"github.com/wgs4/mmcp/sessionstore/filestore"
)

func newTestGate(t *testing.T) *Gate {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	return New(store, "test-server", "0.0.1", 0, 0)
}

func initRequest(version string) *jsonrpc.Request {
	params, _ := json.Marshal(map[string]any{
		"protocolVersion": version,
		"clientInfo":      map[string]any{"name": "x", "version": "0"},
	})
	return &jsonrpc.Request{
		JSONRPCVersion: "2.0",
		Method:         "initialize",
		Params:         params,
		ID:             jsonrpc.NewRequestID(int64(1)),
	}
}

func TestHandleInitialize_Success(t *testing.T) {
	gate := newTestGate(t)
	outcome := gate.HandleInitialize(context.Background(), initRequest("2025-06-18"), false)
	require.Nil(t, outcome.Err)
	require.NotEmpty(t, outcome.SessionID)
	assert.Len(t, outcome.SessionID, 32)
	assert.Equal(t, "2025-06-18", outcome.Result.ProtocolVersion)
	assert.Equal(t, "test-server", outcome.Result.ServerInfo.Name)
}

func TestHandleInitialize_RejectsPresentSessionHeader(t *testing.T) {
	gate := newTestGate(t)
	outcome := gate.HandleInitialize(context.Background(), initRequest("2025-06-18"), true)
	require.NotNil(t, outcome.Err)
	assert.Equal(t, jsonrpc.ErrorCodeInvalidRequest, outcome.Err.Code)
}

func TestHandleInitialize_UnsupportedVersion(t *testing.T) {
	gate := newTestGate(t)
	outcome := gate.HandleInitialize(context.Background(), initRequest("2024-11-05"), false)
	require.NotNil(t, outcome.Err)
	assert.Equal(t, jsonrpc.ErrorCodeInvalidParams, outcome.Err.Code)
	data, ok := outcome.Err.Data.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "2024-11-05", data["requested"])
}

func TestHandleInitialize_InvalidVersion(t *testing.T) {
	gate := newTestGate(t)
	outcome := gate.HandleInitialize(context.Background(), initRequest("1.0.0"), false)
	require.NotNil(t, outcome.Err)
	assert.Equal(t, jsonrpc.ErrorCodeInvalidParams, outcome.Err.Code)
}

func TestGateRequest_OutOfOrderBeforeInitialized(t *testing.T) {
	gate := newTestGate(t)
	outcome := gate.HandleInitialize(context.Background(), initRequest("2025-06-18"), false)
	require.Nil(t, outcome.Err)

	result := gate.GateRequest(context.Background(), outcome.SessionID, "tools/list", TransportHTTP, "2025-06-18", true)
	require.NotNil(t, result.Err)
	assert.Equal(t, jsonrpc.ErrorCodeInvalidRequest, result.Err.Code)
}

func TestGateRequest_InitializedTransitionsToOpen(t *testing.T) {
	gate := newTestGate(t)
	outcome := gate.HandleInitialize(context.Background(), initRequest("2025-06-18"), false)
	require.Nil(t, outcome.Err)

	result := gate.GateRequest(context.Background(), outcome.SessionID, "notifications/initialized", TransportHTTP, "2025-06-18", true)
	require.Nil(t, result.Err)
	assert.True(t, result.Transitioned)
	assert.Equal(t, sessionstore.StatusOpen, result.Record.Status)

	second := gate.GateRequest(context.Background(), outcome.SessionID, "tools/list", TransportHTTP, "2025-06-18", true)
	require.Nil(t, second.Err)
	assert.False(t, second.Transitioned)
}

func TestGateRequest_RequiresProtocolVersionHeaderForLatest(t *testing.T) {
	gate := newTestGate(t)
	outcome := gate.HandleInitialize(context.Background(), initRequest("2025-06-18"), false)
	require.Nil(t, outcome.Err)
	_ = gate.GateRequest(context.Background(), outcome.SessionID, "notifications/initialized", TransportHTTP, "2025-06-18", true)

	result := gate.GateRequest(context.Background(), outcome.SessionID, "tools/list", TransportHTTP, "", false)
	require.NotNil(t, result.Err)
	assert.Equal(t, jsonrpc.ErrorCodeInvalidRequest, result.Err.Code)
}

func TestGateRequest_STDIOSkipsProtocolVersionHeaderForLatest(t *testing.T) {
	gate := newTestGate(t)
	outcome := gate.HandleInitialize(context.Background(), initRequest("2025-06-18"), false)
	require.Nil(t, outcome.Err)
	_ = gate.GateRequest(context.Background(), outcome.SessionID, "notifications/initialized", TransportSTDIO, "", false)

	result := gate.GateRequest(context.Background(), outcome.SessionID, "tools/list", TransportSTDIO, "", false)
	require.Nil(t, result.Err)
	assert.Equal(t, sessionstore.StatusOpen, result.Record.Status)
}

func TestGateRequest_UnknownSession(t *testing.T) {
	gate := newTestGate(t)
	result := gate.GateRequest(context.Background(), "nonexistent", "tools/list", TransportHTTP, "2025-06-18", true)
	require.NotNil(t, result.Err)
}

func TestGateRequest_ClosedSessionRejected(t *testing.T) {
	gate := newTestGate(t)
	outcome := gate.HandleInitialize(context.Background(), initRequest("2025-03-26"), false)
	require.Nil(t, outcome.Err)
	_ = gate.GateRequest(context.Background(), outcome.SessionID, "notifications/initialized", TransportHTTP, "", false)

	closed, err := gate.Close(context.Background(), outcome.SessionID)
	require.NoError(t, err)
	require.True(t, closed)

	result := gate.GateRequest(context.Background(), outcome.SessionID, "tools/list", TransportHTTP, "", false)
	require.NotNil(t, result.Err)
}

func TestReap_DelegatesToStore(t *testing.T) {
	gate := newTestGate(t)
	gate.MaxUptime = time.Hour
	gate.InitTimeout = time.Minute
	require.NoError(t, gate.Reap(context.Background()))
}
