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
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// DumpAsJSON renders the model as a deterministic JSON document: field names,
// ordering and the set of keys are stable across runs and platforms, so two
// models are equal exactly when their dumps are equal. The pretty flag
// toggles whitespace only.
func (m *Model) DumpAsJSON(pretty bool) string {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writeKey(&buf, "num_feature")
	buf.WriteString(strconv.FormatInt(int64(m.NumFeature), 10))
	buf.WriteByte(',')
	writeKey(&buf, "task_type")
	writeString(&buf, m.TaskType.String())
	buf.WriteByte(',')
	writeKey(&buf, "average_tree_output")
	buf.WriteString(strconv.FormatBool(m.AverageTreeOutput))
	buf.WriteByte(',')
	writeKey(&buf, "num_target")
	buf.WriteString(strconv.FormatUint(uint64(m.NumTarget), 10))
	buf.WriteByte(',')
	writeKey(&buf, "num_class")
	writeUint32Array(&buf, m.NumClass)
	buf.WriteByte(',')
	writeKey(&buf, "leaf_vector_shape")
	writeUint32Array(&buf, m.LeafVectorShape[:])
	buf.WriteByte(',')
	writeKey(&buf, "target_id")
	writeInt32Array(&buf, m.TargetID)
	buf.WriteByte(',')
	writeKey(&buf, "class_id")
	writeInt32Array(&buf, m.ClassID)
	buf.WriteByte(',')
	writeKey(&buf, "postprocessor")
	writeString(&buf, m.Postprocessor)
	buf.WriteByte(',')
	writeKey(&buf, "sigmoid_alpha")
	buf.WriteString(formatFloat(float64(m.SigmoidAlpha), 32))
	buf.WriteByte(',')
	writeKey(&buf, "ratio_c")
	buf.WriteString(formatFloat(float64(m.RatioC), 32))
	buf.WriteByte(',')
	writeKey(&buf, "base_scores")
	buf.WriteByte('[')
	for i, v := range m.BaseScores {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(formatFloat(v, 64))
	}
	buf.WriteByte(']')
	buf.WriteByte(',')
	writeKey(&buf, "attributes")
	writeString(&buf, m.Attributes)
	buf.WriteByte(',')
	writeKey(&buf, "trees")
	switch preset := m.variant.(type) {
	case *ModelPreset[float32]:
		dumpTrees(&buf, preset.Trees)
	case *ModelPreset[float64]:
		dumpTrees(&buf, preset.Trees)
	}
	buf.WriteByte('}')

	if pretty {
		var indented bytes.Buffer
		if err := json.Indent(&indented, buf.Bytes(), "", "    "); err == nil {
			return indented.String()
		}
	}
	return buf.String()
}

func dumpTrees[T FloatType](buf *bytes.Buffer, trees []Tree[T]) {
	bits := 64
	if TypeInfoOf[T]() == TypeInfoFloat32 {
		bits = 32
	}
	buf.WriteByte('[')
	for i := range trees {
		if i > 0 {
			buf.WriteByte(',')
		}
		dumpTree(buf, &trees[i], bits)
	}
	buf.WriteByte(']')
}

func dumpTree[T FloatType](buf *bytes.Buffer, tree *Tree[T], bits int) {
	buf.WriteByte('{')
	writeKey(buf, "num_nodes")
	buf.WriteString(strconv.FormatInt(int64(tree.NumNodes), 10))
	buf.WriteByte(',')
	writeKey(buf, "has_categorical_split")
	buf.WriteString(strconv.FormatBool(tree.hasCategoricalSplit))
	buf.WriteByte(',')
	writeKey(buf, "nodes")
	buf.WriteByte('[')
	for nid := 0; nid < int(tree.NumNodes); nid++ {
		if nid > 0 {
			buf.WriteByte(',')
		}
		dumpNode(buf, tree, nid, bits)
	}
	buf.WriteByte(']')
	buf.WriteByte('}')
}

func dumpNode[T FloatType](buf *bytes.Buffer, tree *Tree[T], nid int, bits int) {
	buf.WriteByte('{')
	writeKey(buf, "node_id")
	buf.WriteString(strconv.Itoa(nid))
	if tree.IsLeaf(nid) {
		buf.WriteByte(',')
		writeKey(buf, "leaf_value")
		if tree.HasLeafVector(nid) {
			buf.WriteByte('[')
			for i, v := range tree.LeafVector(nid) {
				if i > 0 {
					buf.WriteByte(',')
				}
				buf.WriteString(formatFloat(float64(v), bits))
			}
			buf.WriteByte(']')
		} else {
			buf.WriteString(formatFloat(float64(tree.LeafValue(nid)), bits))
		}
	} else {
		buf.WriteByte(',')
		writeKey(buf, "split_feature_id")
		buf.WriteString(strconv.FormatInt(int64(tree.SplitIndex(nid)), 10))
		buf.WriteByte(',')
		writeKey(buf, "default_left")
		buf.WriteString(strconv.FormatBool(tree.DefaultLeft(nid)))
		buf.WriteByte(',')
		writeKey(buf, "node_type")
		writeString(buf, tree.NodeType(nid).String())
		if tree.NodeType(nid) == CategoricalTestNode {
			buf.WriteByte(',')
			writeKey(buf, "category_list")
			writeUint32Array(buf, tree.CategoryList(nid))
			buf.WriteByte(',')
			writeKey(buf, "category_list_right_child")
			buf.WriteString(strconv.FormatBool(tree.CategoryListRightChild(nid)))
		} else {
			buf.WriteByte(',')
			writeKey(buf, "comparison_op")
			writeString(buf, tree.ComparisonOp(nid).String())
			buf.WriteByte(',')
			writeKey(buf, "threshold")
			buf.WriteString(formatFloat(float64(tree.Threshold(nid)), bits))
		}
		buf.WriteByte(',')
		writeKey(buf, "left_child")
		buf.WriteString(strconv.Itoa(tree.LeftChild(nid)))
		buf.WriteByte(',')
		writeKey(buf, "right_child")
		buf.WriteString(strconv.Itoa(tree.RightChild(nid)))
	}
	if tree.HasDataCount(nid) {
		buf.WriteByte(',')
		writeKey(buf, "data_count")
		buf.WriteString(strconv.FormatUint(tree.DataCount(nid), 10))
	}
	if tree.HasSumHess(nid) {
		buf.WriteByte(',')
		writeKey(buf, "sum_hess")
		buf.WriteString(formatFloat(tree.SumHess(nid), 64))
	}
	if tree.HasGain(nid) {
		buf.WriteByte(',')
		writeKey(buf, "gain")
		buf.WriteString(formatFloat(tree.Gain(nid), 64))
	}
	buf.WriteByte('}')
}

func writeKey(buf *bytes.Buffer, key string) {
	buf.WriteByte('"')
	buf.WriteString(key)
	buf.WriteString(`":`)
}

func writeString(buf *bytes.Buffer, s string) {
	encoded, err := json.Marshal(s)
	if err != nil {
		// Strings holding model metadata are always encodable.
		panic(fmt.Sprintf("cannot encode string %q: %v", s, err))
	}
	buf.Write(encoded)
}

func writeUint32Array(buf *bytes.Buffer, values []uint32) {
	buf.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.FormatUint(uint64(v), 10))
	}
	buf.WriteByte(']')
}

func writeInt32Array(buf *bytes.Buffer, values []int32) {
	buf.WriteByte('[')
	for i, v := range values {
		if i > 0 {
			buf.WriteByte(',')
		}
		buf.WriteString(strconv.FormatInt(int64(v), 10))
	}
	buf.WriteByte(']')
}

// formatFloat renders a float with the shortest representation that parses
// back to the same value at the given precision.
func formatFloat(v float64, bits int) string {
	return strconv.FormatFloat(v, 'g', -1, bits)
}
