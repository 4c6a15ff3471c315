package protocol_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wgs4/mmcp/internal/jsonrpc"
	"github.com/wgs4/mmcp/protocol"
)

func TestValidate_Unparseable(t *testing.T) {
	result := protocol.Validate([]byte("not json"))
	assert.Equal(t, protocol.Unparseable, result.Classification)
}

func TestValidate_NotAnObject(t *testing.T) {
	result := protocol.Validate([]byte(`[1,2,3]`))
	assert.Equal(t, protocol.Malformed, result.Classification)
	assert.Equal(t, jsonrpc.ErrorCodeInvalidRequest, result.Code)
}

func TestValidate_WrongJSONRPCVersion(t *testing.T) {
	result := protocol.Validate([]byte(`{"jsonrpc":"1.0","method":"ping","id":1}`))
	assert.Equal(t, protocol.Malformed, result.Classification)
	require.NotNil(t, result.ID)
	assert.Equal(t, float64(1), result.ID.Value())
}

func TestValidate_MissingMethod(t *testing.T) {
	result := protocol.Validate([]byte(`{"jsonrpc":"2.0","id":1}`))
	assert.Equal(t, protocol.Malformed, result.Classification)
}

func TestValidate_ParamsNotObject(t *testing.T) {
	result := protocol.Validate([]byte(`{"jsonrpc":"2.0","method":"ping","params":[1,2]}`))
	assert.Equal(t, protocol.Malformed, result.Classification)
}

func TestValidate_WellFormedRequest(t *testing.T) {
	result := protocol.Validate([]byte(`{"jsonrpc":"2.0","method":"ping","id":"abc"}`))
	require.Equal(t, protocol.WellFormed, result.Classification)
	require.NotNil(t, result.Request)
	assert.Equal(t, "ping", result.Request.Method)
	assert.Equal(t, "abc", result.ID.Value())
}

func TestValidate_WellFormedNotification(t *testing.T) {
	result := protocol.Validate([]byte(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	require.Equal(t, protocol.WellFormed, result.Classification)
	assert.True(t, result.Request.IsNotification())
}
