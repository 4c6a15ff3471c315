package protocol

import (
	"encoding/json"

	"github.com/wgs4/mmcp/internal/jsonrpc"
)

// Classification is the outcome of validating a single JSON-RPC message.
type Classification int

const (
	// Unparseable means the body is not valid JSON at all.
	Unparseable Classification = iota
	// Malformed means the body is valid JSON but violates JSON-RPC 2.0
	// request shape.
	Malformed
	// WellFormed means the body decodes into a usable jsonrpc.Request.
	WellFormed
)

// ValidationResult is the outcome of Validate.
type ValidationResult struct {
	Classification Classification
	Code           jsonrpc.ErrorCode // zero unless Classification == Malformed
	Request        *jsonrpc.Request  // non-nil when WellFormed
	ID             *jsonrpc.RequestID // best-effort id, for building error responses
}

// Validate parses a single JSON-RPC 2.0 message and classifies it per
// spec: unparseable (not JSON), malformed (code -32600: not an object,
// jsonrpc != "2.0", method missing/empty, or params present but not an
// object), or well-formed. It does not interpret id, params, or method
// semantics beyond presence and type.
func Validate(body []byte) ValidationResult {
	var generic any
	if err := json.Unmarshal(body, &generic); err != nil {
		return ValidationResult{Classification: Unparseable}
	}

	obj, ok := generic.(map[string]any)
	if !ok {
		return ValidationResult{Classification: Malformed, Code: jsonrpc.ErrorCodeInvalidRequest}
	}

	id := extractID(obj)

	version, _ := obj["jsonrpc"].(string)
	if version != jsonrpc.ProtocolVersion {
		return ValidationResult{Classification: Malformed, Code: jsonrpc.ErrorCodeInvalidRequest, ID: id}
	}

	method, hasMethod := obj["method"].(string)
	if !hasMethod || method == "" {
		return ValidationResult{Classification: Malformed, Code: jsonrpc.ErrorCodeInvalidRequest, ID: id}
	}

	if params, present := obj["params"]; present {
		if _, isObject := params.(map[string]any); !isObject {
			return ValidationResult{Classification: Malformed, Code: jsonrpc.ErrorCodeInvalidRequest, ID: id}
		}
	}

	var req jsonrpc.Request
	if err := json.Unmarshal(body, &req); err != nil {
		return ValidationResult{Classification: Malformed, Code: jsonrpc.ErrorCodeInvalidRequest, ID: id}
	}

	return ValidationResult{Classification: WellFormed, Request: &req, ID: req.ID}
}

// extractID pulls the "id" member out of a loosely decoded message body
// without requiring the rest of the message to be well-formed, so error
// responses can still echo the client's id.
func extractID(obj map[string]any) *jsonrpc.RequestID {
	raw, ok := obj["id"]
	if !ok {
		return nil
	}
	switch v := raw.(type) {
	case string:
		return jsonrpc.NewRequestID(v)
	case float64:
		return jsonrpc.NewRequestID(v)
	default:
		return nil
	}
}
