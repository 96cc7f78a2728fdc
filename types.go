// types.go: parameter data model and value normalization
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package wavecraft

import (
	"encoding/json"
	"fmt"
	"math"
)

// ParameterID identifies a parameter within one engine instance.
type ParameterID string

// ParameterType is the engine-declared kind of a parameter.
type ParameterType string

const (
	ParamTypeFloat ParameterType = "float"
	ParamTypeBool  ParameterType = "bool"
	ParamTypeEnum  ParameterType = "enum"
)

// ParameterInfo is one entry of the engine's parameter snapshot.
//
// Value and Default hold either a float64 or, for bool-typed parameters, a bool.
// Use NormalizeParameter before storing an entry that came off the wire.
type ParameterInfo struct {
	ID      ParameterID   `json:"id"`
	Name    string        `json:"name"`
	Type    ParameterType `json:"type"`
	Value   any           `json:"value"`
	Default any           `json:"default"`
	Min     float64       `json:"min"`
	Max     float64       `json:"max"`
	Unit    string        `json:"unit,omitempty"`
	Group   string        `json:"group,omitempty"`
}

// ParameterValue is the wire shape of a single value, as returned by getParameter
// and carried by parameterChanged notifications.
type ParameterValue struct {
	ID    ParameterID `json:"id"`
	Value float64     `json:"value"`
}

// NormalizeValue coerces v to the in-memory representation for a parameter of type t.
// Bool parameters always hold a bool; everything else holds a float64.
func NormalizeValue(t ParameterType, v any) any {
	if t == ParamTypeBool {
		switch x := v.(type) {
		case bool:
			return x
		case nil:
			return false
		default:
			f, ok := toFloat(x)
			return ok && f >= 0.5
		}
	}
	switch x := v.(type) {
	case bool:
		if x {
			return 1.0
		}
		return 0.0
	default:
		f, ok := toFloat(x)
		if !ok {
			return 0.0
		}
		return f
	}
}

// WireValue converts an in-memory value to the number sent to the engine.
func WireValue(v any) (float64, error) {
	if b, ok := v.(bool); ok {
		if b {
			return 1, nil
		}
		return 0, nil
	}
	f, ok := toFloat(v)
	if !ok {
		return 0, fmt.Errorf("unsupported parameter value type %T", v)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("parameter value %v is not a finite number", f)
	}
	return f, nil
}

func toFloat(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int32:
		return float64(x), true
	case int64:
		return float64(x), true
	case uint32:
		return float64(x), true
	case json.Number:
		f, err := x.Float64()
		return f, err == nil
	default:
		return 0, false
	}
}

// NormalizeParameter returns p with Value and Default coerced according to p.Type.
func NormalizeParameter(p ParameterInfo) ParameterInfo {
	p.Value = NormalizeValue(p.Type, p.Value)
	p.Default = NormalizeValue(p.Type, p.Default)
	return p
}

// NormalizeParameters normalizes every entry into a fresh slice.
func NormalizeParameters(params []ParameterInfo) []ParameterInfo {
	out := make([]ParameterInfo, len(params))
	for i, p := range params {
		out[i] = NormalizeParameter(p)
	}
	return out
}

// ValuesEqual compares two normalized values.
func ValuesEqual(a, b any) bool {
	switch x := a.(type) {
	case bool:
		y, ok := b.(bool)
		return ok && x == y
	case float64:
		y, ok := b.(float64)
		return ok && x == y
	default:
		return a == b
	}
}

// ParameterList is an ordered, read-only view of the parameter collection.
type ParameterList []ParameterInfo

// Find returns the parameter with the given id.
func (l ParameterList) Find(id ParameterID) (ParameterInfo, bool) {
	if i := l.index(id); i >= 0 {
		return l[i], true
	}
	return ParameterInfo{}, false
}

func (l ParameterList) index(id ParameterID) int {
	for i := range l {
		if l[i].ID == id {
			return i
		}
	}
	return -1
}

// withValue returns a copy of l where only the value of id is replaced.
// The original slice is returned untouched when the id is unknown or the value is unchanged.
func (l ParameterList) withValue(id ParameterID, value any) (ParameterList, bool) {
	i := l.index(id)
	if i < 0 {
		return l, false
	}
	normalized := NormalizeValue(l[i].Type, value)
	if ValuesEqual(l[i].Value, normalized) {
		return l, false
	}
	next := make(ParameterList, len(l))
	copy(next, l)
	next[i].Value = normalized
	return next, true
}

// ConnectionState is the tri-state connectivity of a transport.
type ConnectionState int32

const (
	StateConnecting ConnectionState = iota
	StateConnected
	StateDisconnected
)

func (s ConnectionState) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// TransportKind names the hosting context a transport serves.
type TransportKind string

const (
	TransportEmbedded TransportKind = "embedded"
	TransportSocket   TransportKind = "socket"
)
