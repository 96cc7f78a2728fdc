// errors_test.go: coverage for coded errors and their predicates
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"fmt"
	"strings"
	"testing"

	"github.com/agilira/go-errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorConstructors_Codes(t *testing.T) {
	cause := &RPCError{Code: RPCCodeInternalError, Message: "boom"}

	tests := []struct {
		name string
		err  *errors.Error
		code string
	}{
		{"NotFound", NewNotFoundError("gain"), ErrCodeNotFound},
		{"OutOfRange", NewOutOfRangeError("gain", 2.0, cause), ErrCodeOutOfRange},
		{"EngineRejected", NewEngineRejectedError(MethodSetParameter, cause), ErrCodeEngineRejected},
		{"Timeout", NewTimeoutError(MethodPing, "5s"), ErrCodeTimeout},
		{"ConnectTimeout", NewConnectTimeoutError("15s"), ErrCodeConnectTimeout},
		{"Disconnected", NewDisconnectedError("send"), ErrCodeDisconnected},
		{"DisconnectedWithCause", NewDisconnectedErrorWithCause("send", cause), ErrCodeDisconnected},
		{"BusClosed", NewBusClosedError(), ErrCodeBusClosed},
		{"Protocol", NewProtocolError("bad frame", nil), ErrCodeProtocol},
		{"FetchExhausted", NewFetchExhaustedError(4, cause), ErrCodeFetchExhausted},
		{"StoreClosed", NewStoreClosedError("set parameter"), ErrCodeStoreClosed},
		{"ConfigInvalid", NewConfigValidationError("bad", nil), ErrCodeConfigInvalid},
		{"ConfigParse", NewConfigParseError("a.json", cause), ErrCodeConfigParse},
		{"ConfigFile", NewConfigFileError("a.json", cause), ErrCodeConfigFile},
		{"ConfigWatcher", NewConfigWatcherError("stop", cause), ErrCodeConfigWatcher},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, errors.ErrorCode(tt.code), tt.err.ErrorCode())
			assert.True(t, HasErrorCode(tt.err, tt.code))
			assert.NotEmpty(t, tt.err.UserMessage())
		})
	}
}

func TestErrorPredicates(t *testing.T) {
	assert.True(t, IsNotFound(NewNotFoundError("x")))
	assert.True(t, IsOutOfRange(NewOutOfRangeError("x", 9, &RPCError{Code: RPCCodeParamOutOfRange})))
	assert.True(t, IsTimeout(NewTimeoutError(MethodPing, "1s")))
	assert.True(t, IsConnectTimeout(NewConnectTimeoutError("15s")))
	assert.True(t, IsDisconnected(NewDisconnectedError("send")))
	assert.True(t, IsFetchExhausted(NewFetchExhaustedError(3, fmt.Errorf("down"))))

	assert.False(t, IsTimeout(NewConnectTimeoutError("15s")), "connect timeout is distinct from request timeout")
	assert.False(t, IsFetchExhausted(NewConnectTimeoutError("15s")))
	assert.False(t, IsNotFound(nil))
	assert.False(t, IsNotFound(fmt.Errorf("plain error")))
}

func TestHasErrorCode_Wrapped(t *testing.T) {
	inner := NewDisconnectedError("send")
	outer := NewFetchExhaustedError(4, inner)

	assert.True(t, IsFetchExhausted(outer))
	assert.True(t, IsDisconnected(outer), "codes of wrapped causes are found")

	wrapped := fmt.Errorf("loading failed: %w", outer)
	assert.True(t, IsFetchExhausted(wrapped))
}

func TestErrorRetryability(t *testing.T) {
	assert.True(t, NewTimeoutError(MethodPing, "1s").IsRetryable())
	assert.True(t, NewDisconnectedError("send").IsRetryable())
	assert.False(t, NewNotFoundError("x").IsRetryable())
	assert.False(t, NewConnectTimeoutError("15s").IsRetryable())
}

func TestConnectTimeoutError_Message(t *testing.T) {
	err := NewConnectTimeoutError("15s")
	assert.True(t, strings.Contains(err.Error(), "dev server"), "message must point at the dev server")
	assert.Contains(t, strings.ToLower(err.UserMessage()), "dev server")
}

func TestEngineErrors_KeepRPCCause(t *testing.T) {
	rpcErr := &RPCError{Code: RPCCodeParamOutOfRange, Message: "gain must be <= 1"}
	err := NewOutOfRangeError("gain", 3.0, rpcErr)

	got, ok := err.Cause.(*RPCError)
	require.True(t, ok, "engine error must be kept as the cause")
	assert.Equal(t, RPCCodeParamOutOfRange, got.Code)
	assert.Equal(t, "gain", err.Context["parameter_id"])
}

func TestRPCError_Error(t *testing.T) {
	err := &RPCError{Code: RPCCodeMethodNotFound, Message: "method not found"}
	assert.Equal(t, "rpc error -32601: method not found", err.Error())
}
