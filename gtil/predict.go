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

package gtil

import (
	"math"
	"sync"

	"github.com/dmlc/treelite-go/model"
)

// GetOutputShape returns the shape of the output buffer that a Predict call
// with the same configuration will fill, as a list of dimension extents.
func GetOutputShape(m *model.Model, numRow uint64, config *Configuration) []uint64 {
	numTree := uint64(m.NumTree())
	maxNumClass := uint64(m.MaxNumClass())
	switch config.PredType {
	case PredictDefault, PredictRaw:
		if m.NumTarget > 1 {
			return []uint64{uint64(m.NumTarget), numRow, maxNumClass}
		}
		return []uint64{numRow, maxNumClass}
	case PredictLeafID:
		return []uint64{numRow, numTree}
	case PredictPerTree:
		return []uint64{numRow, numTree,
			uint64(m.LeafVectorShape[0]) * uint64(m.LeafVectorShape[1])}
	}
	return nil
}

// outputSize is the element count of the output buffer.
func outputSize(m *model.Model, numRow uint64, config *Configuration) uint64 {
	size := uint64(1)
	for _, dim := range GetOutputShape(m, numRow, config) {
		size *= dim
	}
	return size
}

// Predict evaluates the ensemble over a row-major input matrix of
// numRow x NumFeature values and writes the result into output, whose length
// must cover GetOutputShape. The input element type must equal the model's
// leaf output type.
//
// Rows are partitioned statically over the configured number of workers;
// within a row, trees are evaluated sequentially and no allocation takes
// place.
func Predict[T model.FloatType](m *model.Model, input []T, numRow uint64, output []T,
	config *Configuration) error {
	preset, ok := model.Preset[T](m)
	if !ok {
		return model.NewError(model.TypeMismatch,
			"incorrect input type passed to Predict: expected %v, got %v",
			m.LeafOutputType(), model.TypeInfoOf[T]())
	}
	if uint64(len(input)) < numRow*uint64(m.NumFeature) {
		return model.NewError(model.ValidationError,
			"input buffer holds %d values; %d rows of %d features need %d",
			len(input), numRow, m.NumFeature, numRow*uint64(m.NumFeature))
	}
	if uint64(len(output)) < outputSize(m, numRow, config) {
		return model.NewError(model.ValidationError,
			"output buffer holds %d values, need %d",
			len(output), outputSize(m, numRow, config))
	}
	if err := validateEnsemble(m, preset); err != nil {
		return err
	}

	numWorkers := resolveNumWorkers(config.NThread)
	switch config.PredType {
	case PredictRaw:
		return predictRaw(m, preset, input, numRow, output, numWorkers)
	case PredictDefault:
		if err := predictRaw(m, preset, input, numRow, output, numWorkers); err != nil {
			return err
		}
		return postProcess(m, numRow, output, numWorkers)
	case PredictLeafID:
		return predictLeafID(m, preset, input, numRow, output, numWorkers)
	case PredictPerTree:
		return predictPerTree(m, preset, input, numRow, output, numWorkers)
	}
	return model.NewError(model.UnknownIdentifier, "unknown prediction kind %d",
		config.PredType)
}

// validateEnsemble checks the per-node properties the traversal relies on:
// split indices in range and known comparison operators.
func validateEnsemble[T model.FloatType](m *model.Model, preset *model.ModelPreset[T]) error {
	for treeID := range preset.Trees {
		tree := &preset.Trees[treeID]
		for nid := 0; nid < int(tree.NumNodes); nid++ {
			if tree.IsLeaf(nid) {
				continue
			}
			if tree.SplitIndex(nid) >= m.NumFeature {
				return model.NewError(model.ValidationError,
					"tree %d node %d tests feature %d, but the model only has %d features",
					treeID, nid, tree.SplitIndex(nid), m.NumFeature)
			}
			if tree.NodeType(nid) == model.NumericalTestNode {
				switch tree.ComparisonOp(nid) {
				case model.OpEQ, model.OpLT, model.OpLE, model.OpGT, model.OpGE:
				default:
					return model.NewError(model.ValidationError,
						"tree %d node %d carries unrecognized comparison operator %d",
						treeID, nid, tree.ComparisonOp(nid))
				}
			}
		}
	}
	return nil
}

// nextNode resolves a numerical test.
func nextNode[T model.FloatType](fvalue, threshold T, op model.Operator,
	leftChild, rightChild int) int {
	var cond bool
	switch op {
	case model.OpEQ:
		cond = fvalue == threshold
	case model.OpLT:
		cond = fvalue < threshold
	case model.OpLE:
		cond = fvalue <= threshold
	case model.OpGT:
		cond = fvalue > threshold
	case model.OpGE:
		cond = fvalue >= threshold
	}
	if cond {
		return leftChild
	}
	return rightChild
}

// maxRepresentableCategory is the largest float value accepted as an integer
// category: it must fit in a uint32 and be exactly representable in T.
func maxRepresentableCategory[T model.FloatType]() T {
	if model.TypeInfoOf[T]() == model.TypeInfoFloat32 {
		return T(1 << 24)
	}
	return T(math.MaxUint32)
}

// nextNodeCategorical resolves a categorical test. A valid integer category
// must be non-negative, integral, representable in T and fit in a uint32;
// anything else never matches the category list.
func nextNodeCategorical[T model.FloatType](fvalue T, categoryList []uint32,
	categoryListRightChild bool, leftChild, rightChild int) int {
	matched := false
	if fvalue >= 0 && fvalue <= maxRepresentableCategory[T]() &&
		float64(fvalue) == math.Trunc(float64(fvalue)) {
		category := uint32(fvalue)
		for _, c := range categoryList {
			if c == category {
				matched = true
				break
			}
		}
	}
	if categoryListRightChild {
		if matched {
			return rightChild
		}
		return leftChild
	}
	if matched {
		return leftChild
	}
	return rightChild
}

// evaluateTree walks one row down a tree and returns the leaf node ID. The
// walk is capped at NumNodes steps; exceeding the cap means the child links
// form a cycle.
func evaluateTree[T model.FloatType](tree *model.Tree[T], row []T) (int, error) {
	nid := 0
	for step := int32(0); step <= tree.NumNodes; step++ {
		if tree.IsLeaf(nid) {
			return nid, nil
		}
		fvalue := row[tree.SplitIndex(nid)]
		if math.IsNaN(float64(fvalue)) {
			nid = tree.DefaultChild(nid)
		} else if tree.NodeType(nid) == model.CategoricalTestNode {
			nid = nextNodeCategorical(fvalue, tree.CategoryList(nid),
				tree.CategoryListRightChild(nid), tree.LeftChild(nid), tree.RightChild(nid))
		} else {
			nid = nextNode(fvalue, tree.Threshold(nid), tree.ComparisonOp(nid),
				tree.LeftChild(nid), tree.RightChild(nid))
		}
	}
	return 0, model.NewError(model.StructuralError,
		"tree traversal did not terminate after %d steps; the node links form a cycle",
		tree.NumNodes)
}

// outputLeaf routes one leaf's contribution into the raw output view
// (laid out [num_target][num_row][max_num_class]).
func outputLeaf[T model.FloatType](m *model.Model, tree *model.Tree[T], treeID, leafID int,
	rowID, numRow uint64, maxNumClass uint32, output []T) error {
	targetID := m.TargetID[treeID]
	classID := m.ClassID[treeID]
	cell := func(target int32, class uint32) *T {
		return &output[(uint64(target)*numRow+rowID)*uint64(maxNumClass)+uint64(class)]
	}
	if !tree.HasLeafVector(leafID) {
		if targetID < 0 || classID < 0 {
			return model.NewError(model.ValidationError,
				"tree %d writes a scalar leaf but has target_id %d and class_id %d",
				treeID, targetID, classID)
		}
		*cell(targetID, uint32(classID)) += tree.LeafValue(leafID)
		return nil
	}

	leafVector := tree.LeafVector(leafID)
	shape := m.LeafVectorShape
	switch {
	case targetID < 0 && classID < 0:
		if shape != [2]uint32{m.NumTarget, maxNumClass} {
			return leafShapeError(m, treeID)
		}
		for target := uint32(0); target < m.NumTarget; target++ {
			for class := uint32(0); class < m.NumClass[target]; class++ {
				*cell(int32(target), class) += leafVector[target*maxNumClass+class]
			}
		}
	case targetID < 0:
		if shape != [2]uint32{m.NumTarget, 1} {
			return leafShapeError(m, treeID)
		}
		for target := uint32(0); target < m.NumTarget; target++ {
			*cell(int32(target), uint32(classID)) += leafVector[target]
		}
	case classID < 0:
		if shape != [2]uint32{1, maxNumClass} {
			return leafShapeError(m, treeID)
		}
		for class := uint32(0); class < m.NumClass[targetID]; class++ {
			*cell(targetID, class) += leafVector[class]
		}
	default:
		if shape != [2]uint32{1, 1} {
			return leafShapeError(m, treeID)
		}
		*cell(targetID, uint32(classID)) += leafVector[0]
	}
	return nil
}

func leafShapeError(m *model.Model, treeID int) error {
	return model.NewError(model.ValidationError,
		"tree %d (target_id %d, class_id %d) is incompatible with leaf_vector_shape [%d, %d]",
		treeID, m.TargetID[treeID], m.ClassID[treeID],
		m.LeafVectorShape[0], m.LeafVectorShape[1])
}

// predictRaw accumulates tree outputs, averages them when the model requests
// it, and adds the base scores.
func predictRaw[T model.FloatType](m *model.Model, preset *model.ModelPreset[T], input []T,
	numRow uint64, output []T, numWorkers int) error {
	maxNumClass := m.MaxNumClass()
	total := uint64(m.NumTarget) * numRow * uint64(maxNumClass)
	for i := uint64(0); i < total; i++ {
		output[i] = 0
	}

	var (
		errOnce sync.Once
		rowErr  error
	)
	numFeature := uint64(m.NumFeature)
	parallelFor(numRow, numWorkers, func(rowID uint64) {
		row := input[rowID*numFeature : (rowID+1)*numFeature]
		for treeID := range preset.Trees {
			tree := &preset.Trees[treeID]
			leafID, err := evaluateTree(tree, row)
			if err == nil {
				err = outputLeaf(m, tree, treeID, leafID, rowID, numRow, maxNumClass, output)
			}
			if err != nil {
				errOnce.Do(func() { rowErr = err })
				return
			}
		}
	})
	if rowErr != nil {
		return rowErr
	}

	if m.AverageTreeOutput {
		averageOutput(m, numRow, maxNumClass, output)
	}

	// Base scores, broadcast over rows. The sum is formed in float64 before
	// narrowing back to the output type.
	for target := uint32(0); target < m.NumTarget; target++ {
		for rowID := uint64(0); rowID < numRow; rowID++ {
			base := (uint64(target)*numRow + rowID) * uint64(maxNumClass)
			for class := uint32(0); class < m.NumClass[target]; class++ {
				idx := base + uint64(class)
				output[idx] = T(float64(output[idx]) + m.BaseScores[target*maxNumClass+class])
			}
		}
	}
	return nil
}

// averageOutput divides each (target, class) accumulator by the number of
// trees that contribute to that cell.
func averageOutput[T model.FloatType](m *model.Model, numRow uint64, maxNumClass uint32,
	output []T) {
	counts := make([]uint64, uint64(m.NumTarget)*uint64(maxNumClass))
	cellCount := func(target, class uint32) *uint64 {
		return &counts[target*maxNumClass+class]
	}
	for treeID := 0; treeID < m.NumTree(); treeID++ {
		targetID := m.TargetID[treeID]
		classID := m.ClassID[treeID]
		switch {
		case targetID >= 0 && classID >= 0:
			*cellCount(uint32(targetID), uint32(classID))++
		case targetID >= 0:
			for class := uint32(0); class < m.NumClass[targetID]; class++ {
				*cellCount(uint32(targetID), class)++
			}
		case classID >= 0:
			for target := uint32(0); target < m.NumTarget; target++ {
				*cellCount(target, uint32(classID))++
			}
		default:
			for target := uint32(0); target < m.NumTarget; target++ {
				for class := uint32(0); class < m.NumClass[target]; class++ {
					*cellCount(target, class)++
				}
			}
		}
	}
	for target := uint32(0); target < m.NumTarget; target++ {
		for class := uint32(0); class < maxNumClass; class++ {
			count := *cellCount(target, class)
			if count == 0 {
				continue
			}
			for rowID := uint64(0); rowID < numRow; rowID++ {
				output[(uint64(target)*numRow+rowID)*uint64(maxNumClass)+uint64(class)] /=
					T(count)
			}
		}
	}
}

// postProcess applies the model's named post-processor row by row across the
// class axis of each target.
func postProcess[T model.FloatType](m *model.Model, numRow uint64, output []T,
	numWorkers int) error {
	transform, err := getPostProcessor[T](m.Postprocessor)
	if err != nil {
		return err
	}
	maxNumClass := uint64(m.MaxNumClass())
	for target := uint32(0); target < m.NumTarget; target++ {
		numClass := uint64(m.NumClass[target])
		parallelFor(numRow, numWorkers, func(rowID uint64) {
			base := (uint64(target)*numRow + rowID) * maxNumClass
			transform(m, output[base:base+numClass])
		})
	}
	return nil
}

// predictLeafID writes the leaf node ID reached in every tree.
func predictLeafID[T model.FloatType](m *model.Model, preset *model.ModelPreset[T], input []T,
	numRow uint64, output []T, numWorkers int) error {
	numTree := uint64(len(preset.Trees))
	numFeature := uint64(m.NumFeature)
	var (
		errOnce sync.Once
		rowErr  error
	)
	parallelFor(numRow, numWorkers, func(rowID uint64) {
		row := input[rowID*numFeature : (rowID+1)*numFeature]
		for treeID := range preset.Trees {
			leafID, err := evaluateTree(&preset.Trees[treeID], row)
			if err != nil {
				errOnce.Do(func() { rowErr = err })
				return
			}
			output[rowID*numTree+uint64(treeID)] = T(leafID)
		}
	})
	return rowErr
}

// predictPerTree writes every tree's unsummed output: the scalar leaf value
// or the whole leaf vector, without base scores or post-processing.
func predictPerTree[T model.FloatType](m *model.Model, preset *model.ModelPreset[T], input []T,
	numRow uint64, output []T, numWorkers int) error {
	numTree := uint64(len(preset.Trees))
	numFeature := uint64(m.NumFeature)
	leafDim := uint64(m.LeafVectorShape[0]) * uint64(m.LeafVectorShape[1])
	total := numRow * numTree * leafDim
	for i := uint64(0); i < total; i++ {
		output[i] = 0
	}
	var (
		errOnce sync.Once
		rowErr  error
	)
	parallelFor(numRow, numWorkers, func(rowID uint64) {
		row := input[rowID*numFeature : (rowID+1)*numFeature]
		for treeID := range preset.Trees {
			tree := &preset.Trees[treeID]
			leafID, err := evaluateTree(tree, row)
			if err != nil {
				errOnce.Do(func() { rowErr = err })
				return
			}
			base := (rowID*numTree + uint64(treeID)) * leafDim
			if tree.HasLeafVector(leafID) {
				copy(output[base:base+leafDim], tree.LeafVector(leafID))
			} else {
				output[base] = tree.LeafValue(leafID)
			}
		}
	})
	return rowErr
}
