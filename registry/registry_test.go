package registry

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wgs4/mmcp/protocol"
)

type echoArgs struct {
	Message string `json:"message"`
}

type echoResult struct {
	Echoed string `json:"echoed"`
}

func TestRegisterTool_ListAndInvoke(t *testing.T) {
	r := New()
	desc, invoke := NewTypedTool("echo", "echoes its input", func(ctx context.Context, args echoArgs) (echoResult, string, error) {
		return echoResult{Echoed: args.Message}, "echoed: " + args.Message, nil
	})
	r.RegisterTool(desc, invoke)

	assert.True(t, r.HasTool("echo"))
	tools := r.ListTools()
	require.Len(t, tools, 1)
	assert.Equal(t, "echo", tools[0].Name)
	require.NotNil(t, tools[0].OutputSchema)

	result, err := r.Invoke(context.Background(), "echo", []byte(`{"message":"hi"}`))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	require.Len(t, result.Content, 1)
	assert.Equal(t, "echoed: hi", result.Content[0].Text)
	assert.NotEmpty(t, result.StructuredContent)
}

func TestRegisterTool_DuplicateNameReplaces(t *testing.T) {
	r := New()
	desc1, invoke1 := NewTool("x", "first", func(ctx context.Context, args struct{}) (*protocol.CallToolResult, error) {
		return &protocol.CallToolResult{Content: []protocol.ContentPart{protocol.TextContent("first")}}, nil
	})
	r.RegisterTool(desc1, invoke1)

	desc2, invoke2 := NewTool("x", "second", func(ctx context.Context, args struct{}) (*protocol.CallToolResult, error) {
		return &protocol.CallToolResult{Content: []protocol.ContentPart{protocol.TextContent("second")}}, nil
	})
	r.RegisterTool(desc2, invoke2)

	assert.Len(t, r.ListTools(), 1)
	result, err := r.Invoke(context.Background(), "x", nil)
	require.NoError(t, err)
	assert.Equal(t, "second", result.Content[0].Text)
}

func TestInvoke_UnknownToolErrors(t *testing.T) {
	r := New()
	_, err := r.Invoke(context.Background(), "missing", nil)
	assert.Error(t, err)
}

func TestInvoke_ArgumentErrorIsToolResult(t *testing.T) {
	r := New()
	desc, invoke := NewTool("strict", "rejects unknown fields", func(ctx context.Context, args echoArgs) (*protocol.CallToolResult, error) {
		return &protocol.CallToolResult{Content: []protocol.ContentPart{protocol.TextContent(args.Message)}}, nil
	})
	r.RegisterTool(desc, invoke)

	result, err := r.Invoke(context.Background(), "strict", []byte(`{"message":"x","bogus":1}`))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRegisterEndpoint_ListsPathHandlerMap(t *testing.T) {
	r := New()
	handler := http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {})
	r.RegisterEndpoint("/healthz", handler)

	endpoints := r.ListCustomEndpoints()
	require.Contains(t, endpoints, "/healthz")
}

func TestMaxToolTiming_ReturnsLargest(t *testing.T) {
	r := New()
	assert.Equal(t, 0, r.MaxToolTiming())
	r.RegisterTiming("slow", 5)
	r.RegisterTiming("slower", 30)
	assert.Equal(t, 30, r.MaxToolTiming())
}
