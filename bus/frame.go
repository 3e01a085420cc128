package bus

import (
	"encoding/json"
	"fmt"
)

// Wire format is JSON-RPC 2.0: requests carry a correlation id, push
// events are notifications without one.

// Standard JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
)

// Request is a JSON-RPC 2.0 request frame.
type Request struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// Response is a JSON-RPC 2.0 response frame.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      uint64          `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// Notification is a JSON-RPC 2.0 notification frame (no id).
type Notification struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// RPCError is a JSON-RPC 2.0 error object. Data carries the structured
// error JSON when the failure originated as a structured error.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// Error implements the error interface.
func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// frame is the union of everything that can arrive on the wire.
type frame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// frameKind classifies a parsed frame.
type frameKind int

const (
	kindInvalid frameKind = iota
	kindRequest
	kindNotification
	kindResponse
)

// parseFrame decodes and classifies one wire frame.
func parseFrame(data json.RawMessage) (*frame, frameKind, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, kindInvalid, err
	}
	if f.JSONRPC != "2.0" {
		return nil, kindInvalid, fmt.Errorf("jsonrpc must be 2.0")
	}

	switch {
	case f.Method != "" && f.ID != nil:
		return &f, kindRequest, nil
	case f.Method != "":
		return &f, kindNotification, nil
	case f.ID != nil:
		return &f, kindResponse, nil
	default:
		return nil, kindInvalid, fmt.Errorf("frame has neither method nor id")
	}
}

// marshalFrame serializes any frame struct for the transport.
func marshalFrame(v interface{}) (json.RawMessage, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return json.RawMessage(data), nil
}
