// panic_recovery.go: panic recovery for transport goroutines and listener callbacks
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"runtime"
)

// withStackRecover returns a function that, deferred, logs a recovered panic with its stack.
//
//	go func() {
//	    defer withStackRecover(logger)()
//	    // potentially panicking code
//	}()
func withStackRecover(logger Logger) func() {
	return func() {
		if r := recover(); r != nil {
			buf := make([]byte, 64<<10)
			n := runtime.Stack(buf, false)
			logger.Error("Panic recovered",
				"panic", r,
				"stack", string(buf[:n]))
		}
	}
}

// SafeGo runs fn in a new goroutine, logging instead of crashing on panic.
func SafeGo(logger Logger, fn func()) {
	go func() {
		defer withStackRecover(logger)()
		fn()
	}()
}

// safeCall invokes a user callback and logs any panic it raises.
func safeCall(logger Logger, name string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			buf := make([]byte, 16<<10)
			n := runtime.Stack(buf, false)
			logger.Error("Listener panicked",
				"listener", name,
				"panic", r,
				"stack", string(buf[:n]))
		}
	}()
	fn()
}
