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

import "log"

// The serializer walks one logical field sequence, shared by the two
// transports (framed buffers and byte streams). A transport implements
// fieldWriter/fieldReader; this file owns the field order, which is the
// binary compatibility contract. Any format change must go through the three
// extension slots (per model, per tree, per node).

type fieldWriter interface {
	ScalarInt32(v int32) error
	ScalarUint8(v uint8) error
	ScalarUint32(v uint32) error
	ScalarUint64(v uint64) error
	ScalarFloat32(v float32) error
	ScalarBool(v bool) error
	ArrayInt8(v []int8) error
	ArrayInt32(v []int32) error
	ArrayUint32(v []uint32) error
	ArrayUint64(v []uint64) error
	ArrayFloat32(v []float32) error
	ArrayFloat64(v []float64) error
	ArrayBool(v []bool) error
	String(s string) error
}

type fieldReader interface {
	ScalarInt32() (int32, error)
	ScalarUint8() (uint8, error)
	ScalarUint32() (uint32, error)
	ScalarUint64() (uint64, error)
	ScalarFloat32() (float32, error)
	ScalarBool() (bool, error)
	ArrayInt8() ([]int8, error)
	ArrayInt32() ([]int32, error)
	ArrayUint32() ([]uint32, error)
	ArrayUint64() ([]uint64, error)
	ArrayFloat32() ([]float32, error)
	ArrayFloat64() ([]float64, error)
	ArrayBool() ([]bool, error)
	String() (string, error)
	// SkipOptionalField consumes one self-describing extension field.
	SkipOptionalField() error
}

// serializeModel writes the whole model onto a transport. The version triple
// and the extension counters are re-stamped immediately before the write;
// this is the only change serialization makes to the model.
func serializeModel(m *Model, w fieldWriter) error {
	// Header 1
	m.majorVer = VerMajor
	m.minorVer = VerMinor
	m.patchVer = VerPatch
	if err := w.ScalarInt32(m.majorVer); err != nil {
		return err
	}
	if err := w.ScalarInt32(m.minorVer); err != nil {
		return err
	}
	if err := w.ScalarInt32(m.patchVer); err != nil {
		return err
	}
	if err := w.ScalarUint8(uint8(m.ThresholdType())); err != nil {
		return err
	}
	if err := w.ScalarUint8(uint8(m.LeafOutputType())); err != nil {
		return err
	}

	// Number of trees
	if err := w.ScalarUint64(uint64(m.NumTree())); err != nil {
		return err
	}

	// Header 2
	if err := w.ScalarInt32(m.NumFeature); err != nil {
		return err
	}
	if err := w.ScalarUint8(uint8(m.TaskType)); err != nil {
		return err
	}
	if err := w.ScalarBool(m.AverageTreeOutput); err != nil {
		return err
	}
	if err := w.ScalarUint32(m.NumTarget); err != nil {
		return err
	}
	if err := w.ArrayUint32(m.NumClass); err != nil {
		return err
	}
	if err := w.ArrayUint32(m.LeafVectorShape[:]); err != nil {
		return err
	}
	if err := w.ArrayInt32(m.TargetID); err != nil {
		return err
	}
	if err := w.ArrayInt32(m.ClassID); err != nil {
		return err
	}
	if err := w.String(m.Postprocessor); err != nil {
		return err
	}
	if err := w.ScalarFloat32(m.SigmoidAlpha); err != nil {
		return err
	}
	if err := w.ScalarFloat32(m.RatioC); err != nil {
		return err
	}
	if err := w.ArrayFloat64(m.BaseScores); err != nil {
		return err
	}
	if err := w.String(m.Attributes); err != nil {
		return err
	}

	// Extension slot 1: per-model optional fields
	m.numOptFieldPerModel = 0
	if err := w.ScalarInt32(m.numOptFieldPerModel); err != nil {
		return err
	}

	switch preset := m.variant.(type) {
	case *ModelPreset[float32]:
		return serializeTrees(preset.Trees, w)
	case *ModelPreset[float64]:
		return serializeTrees(preset.Trees, w)
	}
	return NewError(TypeMismatch, "model holds an unknown type specialization")
}

func serializeTrees[T FloatType](trees []Tree[T], w fieldWriter) error {
	for i := range trees {
		if err := serializeTree(&trees[i], w); err != nil {
			return err
		}
	}
	return nil
}

func serializeTree[T FloatType](t *Tree[T], w fieldWriter) error {
	if err := w.ScalarInt32(t.NumNodes); err != nil {
		return err
	}
	if err := w.ScalarBool(t.hasCategoricalSplit); err != nil {
		return err
	}
	if err := w.ArrayInt8(nodeTypesToInt8(t.nodeType)); err != nil {
		return err
	}
	if err := w.ArrayInt32(t.cleft); err != nil {
		return err
	}
	if err := w.ArrayInt32(t.cright); err != nil {
		return err
	}
	if err := w.ArrayInt32(t.splitIndex); err != nil {
		return err
	}
	if err := w.ArrayBool(t.defaultLeft); err != nil {
		return err
	}
	if err := writeFloatArray(w, t.leafValue); err != nil {
		return err
	}
	if err := writeFloatArray(w, t.threshold); err != nil {
		return err
	}
	if err := w.ArrayInt8(operatorsToInt8(t.cmp)); err != nil {
		return err
	}
	if err := w.ArrayBool(t.categoryListRightChild); err != nil {
		return err
	}
	if err := writeFloatArray(w, t.leafVector); err != nil {
		return err
	}
	if err := w.ArrayUint64(t.leafVectorBegin); err != nil {
		return err
	}
	if err := w.ArrayUint64(t.leafVectorEnd); err != nil {
		return err
	}
	if err := w.ArrayUint32(t.categoryList); err != nil {
		return err
	}
	if err := w.ArrayUint64(t.categoryListBegin); err != nil {
		return err
	}
	if err := w.ArrayUint64(t.categoryListEnd); err != nil {
		return err
	}

	// Node statistics
	if err := w.ArrayUint64(t.dataCount); err != nil {
		return err
	}
	if err := w.ArrayBool(t.dataCountPresent); err != nil {
		return err
	}
	if err := w.ArrayFloat64(t.sumHess); err != nil {
		return err
	}
	if err := w.ArrayBool(t.sumHessPresent); err != nil {
		return err
	}
	if err := w.ArrayFloat64(t.gain); err != nil {
		return err
	}
	if err := w.ArrayBool(t.gainPresent); err != nil {
		return err
	}

	// Extension slot 2: per-tree optional fields
	t.numOptFieldPerTree = 0
	if err := w.ScalarInt32(t.numOptFieldPerTree); err != nil {
		return err
	}
	// Extension slot 3: per-node optional fields
	t.numOptFieldPerNode = 0
	return w.ScalarInt32(t.numOptFieldPerNode)
}

// deserializeModel reads a model off a transport, enforcing the version
// compatibility matrix.
func deserializeModel(r fieldReader) (*Model, error) {
	majorVer, err := r.ScalarInt32()
	if err != nil {
		return nil, err
	}
	minorVer, err := r.ScalarInt32()
	if err != nil {
		return nil, err
	}
	patchVer, err := r.ScalarInt32()
	if err != nil {
		return nil, err
	}
	if majorVer != VerMajor && !(majorVer == 3 && minorVer == 9) {
		return nil, NewError(SerializationError,
			"cannot load a model from version %d.%d.%d; running version %d.%d.%d "+
				"only reads models from the same major version or from version 3.9",
			majorVer, minorVer, patchVer, VerMajor, VerMinor, VerPatch)
	}
	if majorVer == VerMajor && minorVer > VerMinor {
		log.Printf("treelite: the model being loaded originated from the newer version "+
			"%d.%d.%d (running %d.%d.%d); unknown extension fields will be skipped",
			majorVer, minorVer, patchVer, VerMajor, VerMinor, VerPatch)
	}
	thresholdTypeRaw, err := r.ScalarUint8()
	if err != nil {
		return nil, err
	}
	leafOutputTypeRaw, err := r.ScalarUint8()
	if err != nil {
		return nil, err
	}

	m, err := NewModel(TypeInfo(thresholdTypeRaw), TypeInfo(leafOutputTypeRaw))
	if err != nil {
		return nil, err
	}
	m.majorVer = majorVer
	m.minorVer = minorVer
	m.patchVer = patchVer

	numTree, err := r.ScalarUint64()
	if err != nil {
		return nil, err
	}

	if m.NumFeature, err = r.ScalarInt32(); err != nil {
		return nil, err
	}
	taskTypeRaw, err := r.ScalarUint8()
	if err != nil {
		return nil, err
	}
	m.TaskType = TaskType(taskTypeRaw)
	if m.AverageTreeOutput, err = r.ScalarBool(); err != nil {
		return nil, err
	}
	if m.NumTarget, err = r.ScalarUint32(); err != nil {
		return nil, err
	}
	if m.NumClass, err = r.ArrayUint32(); err != nil {
		return nil, err
	}
	leafVectorShape, err := r.ArrayUint32()
	if err != nil {
		return nil, err
	}
	if len(leafVectorShape) != 2 {
		return nil, NewError(SerializationError,
			"leaf_vector_shape must have 2 elements, got %d", len(leafVectorShape))
	}
	m.LeafVectorShape = [2]uint32{leafVectorShape[0], leafVectorShape[1]}
	if m.TargetID, err = r.ArrayInt32(); err != nil {
		return nil, err
	}
	if m.ClassID, err = r.ArrayInt32(); err != nil {
		return nil, err
	}
	if m.Postprocessor, err = r.String(); err != nil {
		return nil, err
	}
	if m.SigmoidAlpha, err = r.ScalarFloat32(); err != nil {
		return nil, err
	}
	if m.RatioC, err = r.ScalarFloat32(); err != nil {
		return nil, err
	}
	if m.BaseScores, err = r.ArrayFloat64(); err != nil {
		return nil, err
	}
	if m.Attributes, err = r.String(); err != nil {
		return nil, err
	}

	// Extension slot 1: skip fields written by a newer minor version.
	if m.numOptFieldPerModel, err = r.ScalarInt32(); err != nil {
		return nil, err
	}
	for i := int32(0); i < m.numOptFieldPerModel; i++ {
		if err := r.SkipOptionalField(); err != nil {
			return nil, err
		}
	}

	switch preset := m.variant.(type) {
	case *ModelPreset[float32]:
		err = deserializeTrees(preset, numTree, r)
	case *ModelPreset[float64]:
		err = deserializeTrees(preset, numTree, r)
	}
	if err != nil {
		return nil, err
	}
	return m, nil
}

func deserializeTrees[T FloatType](preset *ModelPreset[T], numTree uint64, r fieldReader) error {
	preset.Trees = make([]Tree[T], 0, numTree)
	for i := uint64(0); i < numTree; i++ {
		var tree Tree[T]
		if err := deserializeTree(&tree, r); err != nil {
			return err
		}
		preset.Trees = append(preset.Trees, tree)
	}
	return nil
}

func deserializeTree[T FloatType](t *Tree[T], r fieldReader) error {
	var err error
	if t.NumNodes, err = r.ScalarInt32(); err != nil {
		return err
	}
	if t.hasCategoricalSplit, err = r.ScalarBool(); err != nil {
		return err
	}
	nodeTypes, err := r.ArrayInt8()
	if err != nil {
		return err
	}
	t.nodeType = int8ToNodeTypes(nodeTypes)
	if t.cleft, err = r.ArrayInt32(); err != nil {
		return err
	}
	if t.cright, err = r.ArrayInt32(); err != nil {
		return err
	}
	if t.splitIndex, err = r.ArrayInt32(); err != nil {
		return err
	}
	if t.defaultLeft, err = r.ArrayBool(); err != nil {
		return err
	}
	if t.leafValue, err = readFloatArray[T](r); err != nil {
		return err
	}
	if t.threshold, err = readFloatArray[T](r); err != nil {
		return err
	}
	operators, err := r.ArrayInt8()
	if err != nil {
		return err
	}
	t.cmp = int8ToOperators(operators)
	if t.categoryListRightChild, err = r.ArrayBool(); err != nil {
		return err
	}
	if t.leafVector, err = readFloatArray[T](r); err != nil {
		return err
	}
	if t.leafVectorBegin, err = r.ArrayUint64(); err != nil {
		return err
	}
	if t.leafVectorEnd, err = r.ArrayUint64(); err != nil {
		return err
	}
	if t.categoryList, err = r.ArrayUint32(); err != nil {
		return err
	}
	if t.categoryListBegin, err = r.ArrayUint64(); err != nil {
		return err
	}
	if t.categoryListEnd, err = r.ArrayUint64(); err != nil {
		return err
	}
	if t.dataCount, err = r.ArrayUint64(); err != nil {
		return err
	}
	if t.dataCountPresent, err = r.ArrayBool(); err != nil {
		return err
	}
	if t.sumHess, err = r.ArrayFloat64(); err != nil {
		return err
	}
	if t.sumHessPresent, err = r.ArrayBool(); err != nil {
		return err
	}
	if t.gain, err = r.ArrayFloat64(); err != nil {
		return err
	}
	if t.gainPresent, err = r.ArrayBool(); err != nil {
		return err
	}

	n := int(t.NumNodes)
	for _, length := range []int{
		len(t.nodeType), len(t.cleft), len(t.cright), len(t.splitIndex),
		len(t.defaultLeft), len(t.leafValue), len(t.threshold), len(t.cmp),
		len(t.categoryListRightChild), len(t.leafVectorBegin), len(t.leafVectorEnd),
		len(t.categoryListBegin), len(t.categoryListEnd),
		len(t.dataCount), len(t.dataCountPresent), len(t.sumHess),
		len(t.sumHessPresent), len(t.gain), len(t.gainPresent),
	} {
		if length != n {
			return NewError(SerializationError,
				"node column has %d entries, expected %d", length, n)
		}
	}

	// Extension slots 2 and 3.
	if t.numOptFieldPerTree, err = r.ScalarInt32(); err != nil {
		return err
	}
	for i := int32(0); i < t.numOptFieldPerTree; i++ {
		if err := r.SkipOptionalField(); err != nil {
			return err
		}
	}
	if t.numOptFieldPerNode, err = r.ScalarInt32(); err != nil {
		return err
	}
	for i := int32(0); i < t.numOptFieldPerNode; i++ {
		if err := r.SkipOptionalField(); err != nil {
			return err
		}
	}
	return nil
}

func writeFloatArray[T FloatType](w fieldWriter, values []T) error {
	switch v := interface{}(values).(type) {
	case []float32:
		return w.ArrayFloat32(v)
	case []float64:
		return w.ArrayFloat64(v)
	}
	return NewError(TypeMismatch, "unsupported float array type")
}

func readFloatArray[T FloatType](r fieldReader) ([]T, error) {
	switch TypeInfoOf[T]() {
	case TypeInfoFloat32:
		values, err := r.ArrayFloat32()
		if err != nil {
			return nil, err
		}
		out := make([]T, len(values))
		for i, v := range values {
			out[i] = T(v)
		}
		return out, nil
	case TypeInfoFloat64:
		values, err := r.ArrayFloat64()
		if err != nil {
			return nil, err
		}
		out := make([]T, len(values))
		for i, v := range values {
			out[i] = T(v)
		}
		return out, nil
	}
	return nil, NewError(TypeMismatch, "unsupported float array type")
}

func nodeTypesToInt8(values []TreeNodeType) []int8 {
	out := make([]int8, len(values))
	for i, v := range values {
		out[i] = int8(v)
	}
	return out
}

func int8ToNodeTypes(values []int8) []TreeNodeType {
	out := make([]TreeNodeType, len(values))
	for i, v := range values {
		out[i] = TreeNodeType(v)
	}
	return out
}

func operatorsToInt8(values []Operator) []int8 {
	out := make([]int8, len(values))
	for i, v := range values {
		out[i] = int8(v)
	}
	return out
}

func int8ToOperators(values []int8) []Operator {
	out := make([]Operator, len(values))
	for i, v := range values {
		out[i] = Operator(v)
	}
	return out
}
