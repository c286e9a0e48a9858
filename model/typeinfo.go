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

// FloatType is the set of numeric types usable for thresholds and leaf
// outputs. Thresholds and leaf outputs always use the same float type; the
// uint32 leaf-output variants of the wire format are reserved and rejected at
// model creation.
type FloatType interface {
	~float32 | ~float64
}

// TypeInfo is the runtime tag for a threshold or leaf-output type. The
// numeric values are part of the wire format.
type TypeInfo uint8

// Known type tags.
const (
	TypeInfoInvalid TypeInfo = iota
	TypeInfoUInt32
	TypeInfoFloat32
	TypeInfoFloat64
)

func (t TypeInfo) String() string {
	switch t {
	case TypeInfoUInt32:
		return "uint32"
	case TypeInfoFloat32:
		return "float32"
	case TypeInfoFloat64:
		return "float64"
	}
	return "invalid"
}

// TypeInfoFromString parses the canonical string encoding of a type tag.
func TypeInfoFromString(s string) (TypeInfo, error) {
	switch s {
	case "uint32":
		return TypeInfoUInt32, nil
	case "float32":
		return TypeInfoFloat32, nil
	case "float64":
		return TypeInfoFloat64, nil
	}
	return TypeInfoInvalid, NewError(UnknownIdentifier, "unknown type name %q", s)
}

// TypeInfoOf reifies the type parameter into its runtime tag.
func TypeInfoOf[T FloatType]() TypeInfo {
	var zero T
	switch interface{}(zero).(type) {
	case float32:
		return TypeInfoFloat32
	case float64:
		return TypeInfoFloat64
	}
	return TypeInfoInvalid
}
