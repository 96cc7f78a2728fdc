// protocol.go: JSON-RPC 2.0 frames exchanged with the engine
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"encoding/json"
	"fmt"
)

const jsonRPCVersion = "2.0"

// Request methods implemented by the engine.
const (
	MethodGetParameter     = "getParameter"
	MethodSetParameter     = "setParameter"
	MethodGetAllParameters = "getAllParameters"
	MethodPing             = "ping"
)

// Notification events emitted by the engine.
const (
	// EventParameterChanged carries {id, value} for one externally changed parameter.
	EventParameterChanged = "parameterChanged"
	// EventParametersChanged signals a topology change; clients must refetch everything.
	EventParametersChanged = "parametersChanged"
)

// RequestFrame is an outgoing request.
type RequestFrame struct {
	JSONRPC string `json:"jsonrpc"`
	ID      uint64 `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// RPCError is the error object of a failed response.
type RPCError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// inboundFrame is the union of responses and notifications. ID is a pointer so that
// a missing id can be told apart from id 0.
type inboundFrame struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *uint64         `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// ResponseFrame is what an engine writes back for a request.
type ResponseFrame struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      uint64    `json:"id"`
	Result  any       `json:"result,omitempty"`
	Error   *RPCError `json:"error,omitempty"`
}

// NotificationFrame is an engine-initiated event.
type NotificationFrame struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// Request and result payloads.

type getParameterParams struct {
	ID ParameterID `json:"id"`
}

type setParameterParams struct {
	ID    ParameterID `json:"id"`
	Value float64     `json:"value"`
}

type getAllParametersResult struct {
	Parameters []ParameterInfo `json:"parameters"`
}

type pingResult struct {
	Pong bool `json:"pong"`
}

func encodeRequest(id uint64, method string, params any) (string, error) {
	data, err := json.Marshal(RequestFrame{
		JSONRPC: jsonRPCVersion,
		ID:      id,
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return "", NewProtocolError("failed to encode request", err)
	}
	return string(data), nil
}

// EncodeNotification renders a notification frame. Engines and test doubles use it.
func EncodeNotification(method string, params any) (string, error) {
	data, err := json.Marshal(NotificationFrame{JSONRPC: jsonRPCVersion, Method: method, Params: params})
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// EncodeResponse renders a response frame. Engines and test doubles use it.
func EncodeResponse(id uint64, result any, rpcErr *RPCError) (string, error) {
	frame := ResponseFrame{JSONRPC: jsonRPCVersion, ID: id, Error: rpcErr}
	if rpcErr == nil {
		if result == nil {
			result = struct{}{}
		}
		frame.Result = result
	}
	data, err := json.Marshal(frame)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// DecodeRequest parses an outgoing request frame. Test engines use it to answer.
func DecodeRequest(frame string) (RequestFrame, json.RawMessage, error) {
	var raw struct {
		JSONRPC string          `json:"jsonrpc"`
		ID      uint64          `json:"id"`
		Method  string          `json:"method"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.Unmarshal([]byte(frame), &raw); err != nil {
		return RequestFrame{}, nil, err
	}
	return RequestFrame{JSONRPC: raw.JSONRPC, ID: raw.ID, Method: raw.Method}, raw.Params, nil
}
