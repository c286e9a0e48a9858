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

// Package model holds the in-memory representation of tree-ensemble models:
// typed tree containers, ensemble metadata, the deterministic JSON dump, and
// the versioned binary serializer.
//
// A Model is mutated only while it is being constructed (by the builder
// package or by the deserializer); once handed to the caller it changes only
// through SetTreeLimit and through serialization, which re-stamps the version
// triple and the extension counters. Prediction and JSON dumps only read it
// and may run concurrently.
package model

// Library version, stamped into every model at creation and written into
// every serialized checkpoint.
const (
	VerMajor int32 = 4
	VerMinor int32 = 1
	VerPatch int32 = 2
)

// Version is the library version triple recorded in a model.
type Version struct {
	Major int32
	Minor int32
	Patch int32
}

// ModelPreset is the typed portion of a model: the member trees of one of
// the type specializations.
type ModelPreset[T FloatType] struct {
	Trees []Tree[T]
}

// presetVariant is the runtime dispatch surface over the type
// specializations.
type presetVariant interface {
	thresholdType() TypeInfo
	leafOutputType() TypeInfo
	numTree() int
	setTreeLimit(limit int) error
}

func (p *ModelPreset[T]) thresholdType() TypeInfo {
	return TypeInfoOf[T]()
}

func (p *ModelPreset[T]) leafOutputType() TypeInfo {
	return TypeInfoOf[T]()
}

func (p *ModelPreset[T]) numTree() int {
	return len(p.Trees)
}

func (p *ModelPreset[T]) setTreeLimit(limit int) error {
	if limit < 0 || limit > len(p.Trees) {
		return NewError(ValidationError, "tree limit %d out of range [0, %d]",
			limit, len(p.Trees))
	}
	p.Trees = p.Trees[:limit]
	return nil
}

// Model is a tree-ensemble model: ensemble-wide metadata plus a typed tree
// collection discriminated by the (threshold, leaf output) type pair.
type Model struct {
	// NumFeature is the number of input features. All split indices are in
	// [0, NumFeature).
	NumFeature int32
	// TaskType is the learning task.
	TaskType TaskType
	// AverageTreeOutput requests averaging (instead of summing) of tree
	// outputs at prediction time.
	AverageTreeOutput bool

	// NumTarget is the number of output dimensions; NumClass has one entry
	// per target.
	NumTarget uint32
	NumClass  []uint32
	// LeafVectorShape is the common shape of all leaf vectors:
	// {1 or NumTarget, 1 or max(NumClass)}.
	LeafVectorShape [2]uint32

	// TargetID and ClassID route each tree's output; -1 means "spans the
	// whole axis".
	TargetID []int32
	ClassID  []int32

	// Postprocessor is the name of the function applied to accumulated
	// outputs; SigmoidAlpha and RatioC parameterize two of them.
	Postprocessor string
	SigmoidAlpha  float32
	RatioC        float32
	// BaseScores is laid out row-major [NumTarget][max(NumClass)] and added
	// to the accumulated tree output.
	BaseScores []float64
	// Attributes is a free-form JSON document, opaque to the library.
	Attributes string

	variant presetVariant

	majorVer int32
	minorVer int32
	patchVer int32

	// Extension slot counter, re-computed at serialization time.
	numOptFieldPerModel int32
}

// NewModel creates an empty model of the requested type specialization. Only
// float32/float32 and float64/float64 are accepted; the uint32 leaf-output
// tags of the wire format are reserved.
func NewModel(thresholdType, leafOutputType TypeInfo) (*Model, error) {
	if thresholdType != TypeInfoFloat32 && thresholdType != TypeInfoFloat64 {
		return nil, NewError(TypeMismatch, "invalid threshold type %v", thresholdType)
	}
	if leafOutputType != thresholdType {
		return nil, NewError(TypeMismatch,
			"unsupported combination of threshold type %v and leaf output type %v",
			thresholdType, leafOutputType)
	}
	m := &Model{
		SigmoidAlpha: 1.0,
		RatioC:       1.0,
		Attributes:   "{}",
		majorVer:     VerMajor,
		minorVer:     VerMinor,
		patchVer:     VerPatch,
	}
	if thresholdType == TypeInfoFloat32 {
		m.variant = &ModelPreset[float32]{}
	} else {
		m.variant = &ModelPreset[float64]{}
	}
	return m, nil
}

// Preset returns the typed tree collection of the model, or false if the
// model holds the other type specialization.
func Preset[T FloatType](m *Model) (*ModelPreset[T], bool) {
	preset, ok := m.variant.(*ModelPreset[T])
	return preset, ok
}

// ThresholdType returns the runtime tag of the threshold type.
func (m *Model) ThresholdType() TypeInfo {
	return m.variant.thresholdType()
}

// LeafOutputType returns the runtime tag of the leaf output type.
func (m *Model) LeafOutputType() TypeInfo {
	return m.variant.leafOutputType()
}

// NumTree returns the number of member trees.
func (m *Model) NumTree() int {
	return m.variant.numTree()
}

// SetTreeLimit truncates the ensemble, in place, to the first limit trees.
func (m *Model) SetTreeLimit(limit int) error {
	if err := m.variant.setTreeLimit(limit); err != nil {
		return err
	}
	m.TargetID = m.TargetID[:limit]
	m.ClassID = m.ClassID[:limit]
	return nil
}

// Version returns the library version that produced this model.
func (m *Model) Version() Version {
	return Version{Major: m.majorVer, Minor: m.minorVer, Patch: m.patchVer}
}

// MaxNumClass returns the largest per-target class count.
func (m *Model) MaxNumClass() uint32 {
	max := uint32(1)
	for _, c := range m.NumClass {
		if c > max {
			max = c
		}
	}
	return max
}
