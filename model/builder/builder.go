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

// Package builder constructs Model objects incrementally. The builder is a
// strict state machine: every call is checked against the current state and
// an illegal sequence fails at the earliest offending call.
//
// A builder instance must be driven by a single goroutine. To build
// ensembles in parallel, construct independent models and combine them with
// model.Concatenate.
package builder

import (
	"math"

	"github.com/dmlc/treelite-go/model"
)

// Builder drives the construction of a single model.
//
// The call protocol is:
//
//	StartTree
//	  StartNode(key)
//	    one of: NumericalTest / CategoricalTest / LeafScalar / LeafVector*
//	    any of: Gain / DataCount / SumHess
//	  EndNode
//	  ... more nodes ...
//	EndTree
//	... more trees ...
//	CommitModel
//
// Node keys are chosen by the caller and may be arbitrary non-negative
// integers; they are remapped to dense internal IDs when the tree ends.
type Builder interface {
	StartTree() error
	EndTree() error
	StartNode(nodeKey int) error
	EndNode() error
	NumericalTest(splitIndex int32, threshold float64, defaultLeft bool,
		op model.Operator, leftChildKey, rightChildKey int) error
	CategoricalTest(splitIndex int32, defaultLeft bool, categoryList []uint32,
		categoryListRightChild bool, leftChildKey, rightChildKey int) error
	LeafScalar(leafValue float64) error
	LeafVectorFloat32(leafVector []float32) error
	LeafVectorFloat64(leafVector []float64) error
	Gain(gain float64) error
	DataCount(dataCount uint64) error
	SumHess(sumHess float64) error
	CommitModel() (*model.Model, error)
}

type builderState int8

const (
	stateExpectTree builderState = iota
	stateExpectNode
	stateExpectDetail
	stateNodeComplete
	stateModelComplete
)

func (s builderState) String() string {
	switch s {
	case stateExpectTree:
		return "expect-tree"
	case stateExpectNode:
		return "expect-node"
	case stateExpectDetail:
		return "expect-detail"
	case stateNodeComplete:
		return "node-complete"
	case stateModelComplete:
		return "model-complete"
	}
	return "invalid"
}

// New creates a builder for a model with the given type pair and metadata.
// All metadata is validated here, before any tree construction: tree
// annotations must be in range and base_scores must cover every
// (target, class) cell.
func New(thresholdType, leafOutputType model.TypeInfo, metadata *Metadata,
	annotation *TreeAnnotation, postproc PostProcessorFunc, baseScores []float64,
	attributes string) (Builder, error) {
	if thresholdType != model.TypeInfoFloat32 && thresholdType != model.TypeInfoFloat64 {
		return nil, model.NewError(model.TypeMismatch,
			"threshold type must be float32 or float64, got %v", thresholdType)
	}
	if leafOutputType != thresholdType {
		return nil, model.NewError(model.TypeMismatch,
			"leaf output type %v does not match threshold type %v",
			leafOutputType, thresholdType)
	}

	m, err := model.NewModel(thresholdType, leafOutputType)
	if err != nil {
		return nil, err
	}
	m.NumFeature = metadata.NumFeature
	m.TaskType = metadata.TaskType
	m.AverageTreeOutput = metadata.AverageTreeOutput
	m.NumTarget = metadata.NumTarget
	m.NumClass = append([]uint32(nil), metadata.NumClass...)
	m.LeafVectorShape = metadata.LeafVectorShape

	for i := uint32(0); i < annotation.NumTree; i++ {
		targetID := annotation.TargetID[i]
		if targetID < -1 || targetID >= int32(metadata.NumTarget) {
			return nil, model.NewError(model.ValidationError,
				"tree %d has target_id %d, legal range is {-1} ∪ [0, %d)",
				i, targetID, metadata.NumTarget)
		}
		classID := annotation.ClassID[i]
		if classID < -1 {
			return nil, model.NewError(model.ValidationError,
				"tree %d has class_id %d, legal range is {-1} ∪ [0, num_class)", i, classID)
		}
		if targetID >= 0 && classID >= 0 && classID >= int32(metadata.NumClass[targetID]) {
			return nil, model.NewError(model.ValidationError,
				"tree %d has class_id %d, but target %d only has %d classes",
				i, classID, targetID, metadata.NumClass[targetID])
		}
	}
	m.TargetID = append([]int32(nil), annotation.TargetID...)
	m.ClassID = append([]int32(nil), annotation.ClassID...)

	if err := configurePostProcessor(m, postproc); err != nil {
		return nil, err
	}

	expectedLen := int(metadata.NumTarget) * int(metadata.MaxNumClass())
	if len(baseScores) != expectedLen {
		return nil, model.NewError(model.ValidationError,
			"base_scores must have length num_target * max(num_class) = %d, got %d",
			expectedLen, len(baseScores))
	}
	m.BaseScores = append([]float64(nil), baseScores...)
	if attributes != "" {
		m.Attributes = attributes
	}

	if thresholdType == model.TypeInfoFloat32 {
		return &builderImpl[float32]{expectedNumTree: annotation.NumTree, model: m}, nil
	}
	return &builderImpl[float64]{expectedNumTree: annotation.NumTree, model: m}, nil
}

type builderImpl[T model.FloatType] struct {
	expectedNumTree uint32
	model           *model.Model
	state           builderState

	tree          model.Tree[T]
	nodeKeyMap    map[int]int // user-chosen key -> internal node ID
	currentKey    int
	currentNodeID int
}

func (b *builderImpl[T]) stateError(call string) error {
	return model.NewError(model.BuilderStateError,
		"unexpected call to %s in state %v", call, b.state)
}

func (b *builderImpl[T]) StartTree() error {
	if b.state != stateExpectTree {
		return b.stateError("StartTree()")
	}
	b.tree = model.Tree[T]{}
	b.nodeKeyMap = make(map[int]int)
	b.state = stateExpectNode
	return nil
}

func (b *builderImpl[T]) EndTree() error {
	if b.state != stateExpectNode {
		return b.stateError("EndTree()")
	}
	if b.tree.NumNodes == 0 {
		return model.NewError(model.StructuralError, "tree has no nodes")
	}

	// Child links currently hold user-chosen keys; rewrite them to internal
	// IDs.
	for nid := 0; nid < int(b.tree.NumNodes); nid++ {
		if b.tree.IsLeaf(nid) {
			continue
		}
		left, hasLeft := b.nodeKeyMap[b.tree.LeftChild(nid)]
		if !hasLeft {
			return model.NewError(model.StructuralError,
				"node %d references unknown node key %d", nid, b.tree.LeftChild(nid))
		}
		right, hasRight := b.nodeKeyMap[b.tree.RightChild(nid)]
		if !hasRight {
			return model.NewError(model.StructuralError,
				"node %d references unknown node key %d", nid, b.tree.RightChild(nid))
		}
		b.tree.SetChildren(nid, left, right)
	}
	if err := b.tree.Validate(); err != nil {
		return err
	}

	preset, _ := model.Preset[T](b.model)
	preset.Trees = append(preset.Trees, b.tree)
	b.tree = model.Tree[T]{}
	b.nodeKeyMap = nil
	b.state = stateExpectTree
	return nil
}

func (b *builderImpl[T]) StartNode(nodeKey int) error {
	if b.state != stateExpectNode {
		return b.stateError("StartNode()")
	}
	if nodeKey < 0 || nodeKey > math.MaxInt32 {
		return model.NewError(model.ValidationError, "invalid node key %d", nodeKey)
	}
	if _, taken := b.nodeKeyMap[nodeKey]; taken {
		return model.NewError(model.ValidationError,
			"node key %d was already used in this tree", nodeKey)
	}
	b.currentNodeID = b.tree.AllocNode()
	b.currentKey = nodeKey
	b.nodeKeyMap[nodeKey] = b.currentNodeID
	b.state = stateExpectDetail
	return nil
}

func (b *builderImpl[T]) EndNode() error {
	if b.state != stateNodeComplete {
		return b.stateError("EndNode()")
	}
	b.state = stateExpectNode
	return nil
}

func (b *builderImpl[T]) checkChildKeys(leftChildKey, rightChildKey int) error {
	if leftChildKey < 0 || rightChildKey < 0 {
		return model.NewError(model.ValidationError,
			"child node keys must not be negative, got (%d, %d)",
			leftChildKey, rightChildKey)
	}
	if leftChildKey == rightChildKey {
		return model.NewError(model.ValidationError,
			"left and right child keys must differ, got %d twice", leftChildKey)
	}
	if leftChildKey == b.currentKey || rightChildKey == b.currentKey {
		return model.NewError(model.ValidationError,
			"node key %d must not be its own child", b.currentKey)
	}
	return nil
}

func (b *builderImpl[T]) NumericalTest(splitIndex int32, threshold float64, defaultLeft bool,
	op model.Operator, leftChildKey, rightChildKey int) error {
	if b.state != stateExpectDetail {
		return b.stateError("NumericalTest()")
	}
	if err := b.checkChildKeys(leftChildKey, rightChildKey); err != nil {
		return err
	}
	if op != model.OpEQ && op != model.OpLT && op != model.OpLE &&
		op != model.OpGT && op != model.OpGE {
		return model.NewError(model.ValidationError, "invalid comparison operator %v", op)
	}
	if err := b.tree.SetNumericalTestNode(
		b.currentNodeID, splitIndex, T(threshold), defaultLeft, op); err != nil {
		return err
	}
	// Children hold user keys until EndTree translates them.
	b.tree.SetChildren(b.currentNodeID, leftChildKey, rightChildKey)
	b.state = stateNodeComplete
	return nil
}

func (b *builderImpl[T]) CategoricalTest(splitIndex int32, defaultLeft bool,
	categoryList []uint32, categoryListRightChild bool,
	leftChildKey, rightChildKey int) error {
	if b.state != stateExpectDetail {
		return b.stateError("CategoricalTest()")
	}
	if err := b.checkChildKeys(leftChildKey, rightChildKey); err != nil {
		return err
	}
	if err := b.tree.SetCategoricalTestNode(b.currentNodeID, splitIndex, defaultLeft,
		categoryList, categoryListRightChild); err != nil {
		return err
	}
	b.tree.SetChildren(b.currentNodeID, leftChildKey, rightChildKey)
	b.state = stateNodeComplete
	return nil
}

func (b *builderImpl[T]) LeafScalar(leafValue float64) error {
	if b.state != stateExpectDetail {
		return b.stateError("LeafScalar()")
	}
	if b.model.LeafVectorShape != [2]uint32{1, 1} {
		return model.NewError(model.ValidationError,
			"scalar leaf is not compatible with leaf_vector_shape [%d, %d]",
			b.model.LeafVectorShape[0], b.model.LeafVectorShape[1])
	}
	b.tree.SetLeafNode(b.currentNodeID, T(leafValue))
	b.state = stateNodeComplete
	return nil
}

func (b *builderImpl[T]) LeafVectorFloat32(leafVector []float32) error {
	if b.state != stateExpectDetail {
		return b.stateError("LeafVector()")
	}
	if model.TypeInfoOf[T]() != model.TypeInfoFloat32 {
		return model.NewError(model.TypeMismatch,
			"mismatched leaf vector type: expected float64, got float32")
	}
	return b.setLeafVector(toLeafOutput[T](leafVector))
}

func (b *builderImpl[T]) LeafVectorFloat64(leafVector []float64) error {
	if b.state != stateExpectDetail {
		return b.stateError("LeafVector()")
	}
	if model.TypeInfoOf[T]() != model.TypeInfoFloat64 {
		return model.NewError(model.TypeMismatch,
			"mismatched leaf vector type: expected float32, got float64")
	}
	return b.setLeafVector(toLeafOutput[T](leafVector))
}

func (b *builderImpl[T]) setLeafVector(leafVector []T) error {
	expectedLen := int(b.model.LeafVectorShape[0]) * int(b.model.LeafVectorShape[1])
	if len(leafVector) != expectedLen {
		return model.NewError(model.ValidationError,
			"leaf vector must have length leaf_vector_shape[0] * leaf_vector_shape[1]"+
				" = %d, got %d", expectedLen, len(leafVector))
	}
	b.tree.SetLeafVectorNode(b.currentNodeID, leafVector)
	b.state = stateNodeComplete
	return nil
}

func (b *builderImpl[T]) Gain(gain float64) error {
	if b.state != stateExpectDetail && b.state != stateNodeComplete {
		return b.stateError("Gain()")
	}
	b.tree.SetGain(b.currentNodeID, gain)
	return nil
}

func (b *builderImpl[T]) DataCount(dataCount uint64) error {
	if b.state != stateExpectDetail && b.state != stateNodeComplete {
		return b.stateError("DataCount()")
	}
	b.tree.SetDataCount(b.currentNodeID, dataCount)
	return nil
}

func (b *builderImpl[T]) SumHess(sumHess float64) error {
	if b.state != stateExpectDetail && b.state != stateNodeComplete {
		return b.stateError("SumHess()")
	}
	b.tree.SetSumHess(b.currentNodeID, sumHess)
	return nil
}

func (b *builderImpl[T]) CommitModel() (*model.Model, error) {
	if b.state != stateExpectTree {
		return nil, b.stateError("CommitModel()")
	}
	if uint32(b.model.NumTree()) != b.expectedNumTree {
		return nil, model.NewError(model.ValidationError,
			"expected %d trees but got %d trees instead",
			b.expectedNumTree, b.model.NumTree())
	}
	b.state = stateModelComplete
	committed := b.model
	b.model = nil
	return committed, nil
}

func toLeafOutput[T model.FloatType, S model.FloatType](values []S) []T {
	out := make([]T, len(values))
	for i, v := range values {
		out[i] = T(v)
	}
	return out
}
