/*
 * Copyright 2023 Treelite Contributors.
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     https://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package model

import (
	"errors"
	"fmt"
)

// ErrorKind classifies the failures surfaced by this library. Every error
// returned from the model, builder, serializer and prediction packages carries
// exactly one kind.
type ErrorKind int

// Known error kinds.
const (
	// BuilderStateError signals an illegal call for the builder's current state.
	BuilderStateError ErrorKind = iota + 1
	// ValidationError signals metadata that contradicts the model constraints.
	ValidationError
	// StructuralError signals a malformed tree (orphans, bad children, cycles).
	StructuralError
	// TypeMismatch signals an illegal threshold/leaf-output type combination.
	TypeMismatch
	// ParseError signals malformed JSON input.
	ParseError
	// SerializationError signals version incompatibility or a broken byte stream.
	SerializationError
	// UnknownIdentifier signals an unrecognized name (post-processor, predict type).
	UnknownIdentifier
)

func (k ErrorKind) String() string {
	switch k {
	case BuilderStateError:
		return "builder state error"
	case ValidationError:
		return "validation error"
	case StructuralError:
		return "structural error"
	case TypeMismatch:
		return "type mismatch"
	case ParseError:
		return "parse error"
	case SerializationError:
		return "serialization error"
	case UnknownIdentifier:
		return "unknown identifier"
	}
	return "unknown error"
}

// Error is the single tagged error type of the library.
type Error struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a tagged error with a formatted message.
func NewError(kind ErrorKind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// WrapError attaches a kind and message to an underlying error.
func WrapError(kind ErrorKind, err error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of an error, or 0 if the error does not originate
// from this library.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}
