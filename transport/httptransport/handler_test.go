package httptransport

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wgs4/mmcp/internal/jsonrpc"
	"github.com/wgs4/mmcp/lifecycle"
	"github.com/wgs4/mmcp/protocol"
	"github.com/wgs4/mmcp/registry"
	"github.com/wgs4/mmcp/sessionstore/filestore"
)

func newTestHandler(t *testing.T) *Handler {
	t.Helper()
	store, err := filestore.New(t.TempDir())
	require.NoError(t, err)
	gate := lifecycle.New(store, "test-server", "0.0.1", 0, 0)
	reg := registry.New()

	desc, invoke := registry.NewTool("echo", "echoes input", func(ctx context.Context, args struct {
		Message string `json:"message"`
	}) (*protocol.CallToolResult, error) {
		return &protocol.CallToolResult{Content: []protocol.ContentPart{protocol.TextContent(args.Message)}}, nil
	})
	reg.RegisterTool(desc, invoke)

	return NewHandler(Config{
		EndpointPath: "/",
		Gate:         gate,
		Engine:       protocol.New(reg),
		Registry:     reg,
	})
}

func doPost(h *Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestInitialize_Success(t *testing.T) {
	h := newTestHandler(t)
	rec := doPost(h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"x","version":"0"}}}`, nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(sessionIDHeader))
	assert.Equal(t, "2025-06-18", rec.Header().Get(protocolVersionHdr))

	var resp jsonrpc.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Nil(t, resp.Error)
}

func TestInitialize_UnsupportedVersion(t *testing.T) {
	h := newTestHandler(t)
	rec := doPost(h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2024-11-05","clientInfo":{"name":"x","version":"0"}}}`, nil)

	var resp jsonrpc.Response
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ErrorCodeInvalidParams, resp.Error.Code)
}

func TestFullHandshake_ThenToolsList(t *testing.T) {
	h := newTestHandler(t)
	initRec := doPost(h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"x","version":"0"}}}`, nil)
	sessionID := initRec.Header().Get(sessionIDHeader)
	require.NotEmpty(t, sessionID)

	initializedRec := doPost(h, `{"jsonrpc":"2.0","method":"notifications/initialized"}`, map[string]string{
		sessionIDHeader:    sessionID,
		protocolVersionHdr: "2025-06-18",
	})
	assert.Equal(t, http.StatusAccepted, initializedRec.Code)

	listRec := doPost(h, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, map[string]string{
		sessionIDHeader:    sessionID,
		protocolVersionHdr: "2025-06-18",
	})
	assert.Equal(t, http.StatusOK, listRec.Code)

	var resp jsonrpc.Response
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &resp))
	require.Nil(t, resp.Error)

	var result struct {
		Tools []protocol.Tool `json:"tools"`
	}
	require.NoError(t, json.Unmarshal(resp.Result, &result))
	require.Len(t, result.Tools, 1)
	assert.Equal(t, "echo", result.Tools[0].Name)
}

func TestOutOfOrder_ToolsListBeforeInitialized(t *testing.T) {
	h := newTestHandler(t)
	initRec := doPost(h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"x","version":"0"}}}`, nil)
	sessionID := initRec.Header().Get(sessionIDHeader)

	listRec := doPost(h, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, map[string]string{
		sessionIDHeader:    sessionID,
		protocolVersionHdr: "2025-06-18",
	})

	var resp jsonrpc.Response
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
	assert.Equal(t, jsonrpc.ErrorCodeInvalidRequest, resp.Error.Code)
}

func TestDelete_ClosesSession(t *testing.T) {
	h := newTestHandler(t)
	initRec := doPost(h, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-06-18","clientInfo":{"name":"x","version":"0"}}}`, nil)
	sessionID := initRec.Header().Get(sessionIDHeader)

	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	req.Header.Set(sessionIDHeader, sessionID)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "closed", body["status"])
	assert.Equal(t, sessionID, body["session"])

	listRec := doPost(h, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`, map[string]string{sessionIDHeader: sessionID})
	var resp jsonrpc.Response
	require.NoError(t, json.Unmarshal(listRec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Error)
}

func TestDelete_MissingHeaderIs400(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodDelete, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestEmptyBody_Is400(t *testing.T) {
	h := newTestHandler(t)
	rec := doPost(h, "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWrongMethod_Is405(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
	assert.Equal(t, "POST, DELETE", rec.Header().Get("Allow"))
}

func TestOptions_Preflight(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestUnknownPath_Is404(t *testing.T) {
	h := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/nowhere", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
