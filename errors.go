// errors.go: structured error definitions for the parameter sync core
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	stderrors "errors"

	"github.com/agilira/go-errors"
)

// Error codes for the parameter sync core
const (
	// Parameter errors (engine-reported)
	ErrCodeNotFound       = "WAVECRAFT_1001"
	ErrCodeOutOfRange     = "WAVECRAFT_1002"
	ErrCodeEngineRejected = "WAVECRAFT_1003"

	// Transport and request errors
	ErrCodeTimeout        = "WAVECRAFT_1101"
	ErrCodeConnectTimeout = "WAVECRAFT_1102"
	ErrCodeDisconnected   = "WAVECRAFT_1103"
	ErrCodeBusClosed      = "WAVECRAFT_1104"
	ErrCodeProtocol       = "WAVECRAFT_1105"

	// Store errors
	ErrCodeFetchExhausted = "WAVECRAFT_1201"
	ErrCodeStoreClosed    = "WAVECRAFT_1202"

	// Configuration errors
	ErrCodeConfigInvalid = "CONFIG_1301"
	ErrCodeConfigParse   = "CONFIG_1302"
	ErrCodeConfigFile    = "CONFIG_1303"
	ErrCodeConfigWatcher = "CONFIG_1304"
)

// JSON-RPC error codes carried in error response frames.
const (
	RPCCodeParseError      = -32700
	RPCCodeInvalidRequest  = -32600
	RPCCodeMethodNotFound  = -32601
	RPCCodeInvalidParams   = -32602
	RPCCodeInternalError   = -32603
	RPCCodeParamNotFound   = -32000
	RPCCodeParamOutOfRange = -32001
)

// Parameter error constructors

func NewNotFoundError(id ParameterID) *errors.Error {
	return errors.New(ErrCodeNotFound, "Parameter not found").
		WithUserMessage("The engine does not expose the requested parameter").
		WithContext("parameter_id", string(id)).
		WithSeverity("error")
}

func NewOutOfRangeError(id ParameterID, value any, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeOutOfRange, "Parameter value out of range").
		WithUserMessage("The engine rejected the value as outside the parameter range").
		WithContext("parameter_id", string(id)).
		WithContext("value", value).
		WithSeverity("warning")
}

func NewEngineRejectedError(method string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeEngineRejected, "Engine rejected request").
		WithUserMessage("The audio engine rejected the request").
		WithContext("method", method).
		WithSeverity("error")
}

// Transport and request error constructors

func NewTimeoutError(method string, timeout any) *errors.Error {
	return errors.New(ErrCodeTimeout, "Request timed out").
		WithUserMessage("The engine did not answer in time").
		WithContext("method", method).
		WithContext("timeout", timeout).
		WithSeverity("warning").
		AsRetryable()
}

func NewConnectTimeoutError(timeout any) *errors.Error {
	return errors.New(ErrCodeConnectTimeout,
		"Could not connect to the audio engine. Is the dev server running? Start it with `wavecraft start`.").
		WithUserMessage("No connection to the dev server or engine was established; make sure the dev server is running").
		WithContext("timeout", timeout).
		WithSeverity("error")
}

func NewDisconnectedError(operation string) *errors.Error {
	return errors.New(ErrCodeDisconnected, "Transport disconnected").
		WithUserMessage("Not connected to the audio engine").
		WithContext("operation", operation).
		WithSeverity("warning").
		AsRetryable()
}

func NewDisconnectedErrorWithCause(operation string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeDisconnected, "Transport disconnected").
		WithUserMessage("Not connected to the audio engine").
		WithContext("operation", operation).
		WithSeverity("warning").
		AsRetryable()
}

func NewBusClosedError() *errors.Error {
	return errors.New(ErrCodeBusClosed, "Message bus closed").
		WithUserMessage("The connection to the engine was shut down").
		WithSeverity("info")
}

func NewProtocolError(message string, cause error) *errors.Error {
	if cause == nil {
		return errors.New(ErrCodeProtocol, "Protocol error: "+message).
			WithUserMessage("Received a malformed message from the engine").
			WithSeverity("error")
	}
	return errors.Wrap(cause, ErrCodeProtocol, "Protocol error: "+message).
		WithUserMessage("Received a malformed message from the engine").
		WithSeverity("error")
}

// Store error constructors

func NewFetchExhaustedError(attempts int, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeFetchExhausted, "Failed to load parameters").
		WithUserMessage("Parameters could not be loaded from the engine after several attempts").
		WithContext("attempts", attempts).
		WithSeverity("error")
}

func NewStoreClosedError(operation string) *errors.Error {
	return errors.New(ErrCodeStoreClosed, "Parameter store is not mounted").
		WithUserMessage("The parameter view has been closed").
		WithContext("operation", operation).
		WithSeverity("info")
}

// Configuration error constructors

func NewConfigValidationError(message string, cause error) *errors.Error {
	if cause != nil {
		return errors.Wrap(cause, ErrCodeConfigInvalid, "Configuration validation error: "+message).
			WithUserMessage("Configuration validation failed").
			WithSeverity("error")
	}
	return errors.New(ErrCodeConfigInvalid, "Configuration validation error: "+message).
		WithUserMessage("Configuration validation failed").
		WithSeverity("error")
}

func NewConfigParseError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigParse, "Configuration parse error").
		WithUserMessage("Failed to parse configuration file").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigFileError(path string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigFile, "Configuration file error").
		WithUserMessage("Configuration file access failed").
		WithContext("config_path", path).
		WithSeverity("error")
}

func NewConfigWatcherError(message string, cause error) *errors.Error {
	return errors.Wrap(cause, ErrCodeConfigWatcher, "Configuration watcher error: "+message).
		WithUserMessage("Configuration monitoring failed").
		WithSeverity("error")
}

// HasErrorCode reports whether err, or any error it wraps, is a coded error with the given code.
func HasErrorCode(err error, code string) bool {
	for err != nil {
		var coded *errors.Error
		if !stderrors.As(err, &coded) {
			return false
		}
		if coded.ErrorCode() == errors.ErrorCode(code) {
			return true
		}
		err = coded.Cause
	}
	return false
}

// IsNotFound reports an unknown parameter id.
func IsNotFound(err error) bool { return HasErrorCode(err, ErrCodeNotFound) }

// IsOutOfRange reports a value the engine refused as out of range.
func IsOutOfRange(err error) bool { return HasErrorCode(err, ErrCodeOutOfRange) }

// IsTimeout reports a request timeout.
func IsTimeout(err error) bool { return HasErrorCode(err, ErrCodeTimeout) }

// IsConnectTimeout reports that no connection was ever established.
func IsConnectTimeout(err error) bool { return HasErrorCode(err, ErrCodeConnectTimeout) }

// IsDisconnected reports an operation attempted while the transport was down.
func IsDisconnected(err error) bool { return HasErrorCode(err, ErrCodeDisconnected) }

// IsFetchExhausted reports that the parameter fetch gave up while connected.
func IsFetchExhausted(err error) bool { return HasErrorCode(err, ErrCodeFetchExhausted) }
