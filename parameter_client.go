// parameter_client.go: typed parameter operations over the message bus
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"context"
	"encoding/json"
	stderrors "errors"
)

// ParameterClient maps parameter operations onto bus requests and notifications.
// It performs no range validation; the engine is authoritative.
type ParameterClient struct {
	bus    *MessageBus
	logger Logger
}

// NewParameterClient wraps a bus.
func NewParameterClient(bus *MessageBus, logger Logger) *ParameterClient {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &ParameterClient{bus: bus, logger: logger}
}

// Bus returns the underlying message bus.
func (c *ParameterClient) Bus() *MessageBus {
	return c.bus
}

// GetParameter fetches one parameter. Engines answer with at least {id, value};
// fields they omit stay zero. An unknown id yields a NotFound error.
func (c *ParameterClient) GetParameter(ctx context.Context, id ParameterID) (ParameterInfo, error) {
	var info ParameterInfo
	if err := c.bus.Call(ctx, MethodGetParameter, getParameterParams{ID: id}, &info); err != nil {
		return ParameterInfo{}, c.mapError(MethodGetParameter, id, nil, err)
	}
	if info.ID == "" {
		info.ID = id
	}
	return NormalizeParameter(info), nil
}

// GetAllParameters fetches the full ordered parameter collection.
func (c *ParameterClient) GetAllParameters(ctx context.Context) ([]ParameterInfo, error) {
	var result getAllParametersResult
	if err := c.bus.Call(ctx, MethodGetAllParameters, struct{}{}, &result); err != nil {
		return nil, c.mapError(MethodGetAllParameters, "", nil, err)
	}
	return NormalizeParameters(result.Parameters), nil
}

// SetParameter asks the engine to apply value. Bool values travel as 0/1.
func (c *ParameterClient) SetParameter(ctx context.Context, id ParameterID, value any) error {
	wire, err := WireValue(value)
	if err != nil {
		return NewProtocolError("invalid value for "+string(id), err)
	}
	if err := c.bus.Call(ctx, MethodSetParameter, setParameterParams{ID: id, Value: wire}, nil); err != nil {
		return c.mapError(MethodSetParameter, id, value, err)
	}
	return nil
}

// Ping checks the engine answers requests.
func (c *ParameterClient) Ping(ctx context.Context) error {
	var result pingResult
	if err := c.bus.Call(ctx, MethodPing, struct{}{}, &result); err != nil {
		return c.mapError(MethodPing, "", nil, err)
	}
	if !result.Pong {
		return NewProtocolError("ping answered without pong", nil)
	}
	return nil
}

// OnParameterChanged subscribes to single-value push notifications.
func (c *ParameterClient) OnParameterChanged(listener func(id ParameterID, value float64)) (unsubscribe func()) {
	return c.bus.On(EventParameterChanged, func(params json.RawMessage) {
		var change ParameterValue
		if err := json.Unmarshal(params, &change); err != nil || change.ID == "" {
			c.logger.Warn("Dropping malformed parameter change", "error", err)
			return
		}
		listener(change.ID, change.Value)
	})
}

// OnParametersChanged subscribes to topology-change notifications.
func (c *ParameterClient) OnParametersChanged(listener func()) (unsubscribe func()) {
	return c.bus.On(EventParametersChanged, func(json.RawMessage) {
		listener()
	})
}

// IsConnected reports transport connectivity.
func (c *ParameterClient) IsConnected() bool {
	return c.bus.IsConnected()
}

// mapError turns engine error responses into coded errors. Transport, timeout and
// protocol errors are already coded and pass through.
func (c *ParameterClient) mapError(method string, id ParameterID, value any, err error) error {
	var rpcErr *RPCError
	if !stderrors.As(err, &rpcErr) {
		return err
	}
	switch rpcErr.Code {
	case RPCCodeParamNotFound:
		return NewNotFoundError(id).WithContext("engine_message", rpcErr.Message)
	case RPCCodeParamOutOfRange:
		return NewOutOfRangeError(id, value, rpcErr)
	default:
		return NewEngineRejectedError(method, rpcErr).WithContext("engine_code", rpcErr.Code)
	}
}
