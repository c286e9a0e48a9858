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

package model_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/dmlc/treelite-go/model"
	"github.com/dmlc/treelite-go/model/builder"
)

// buildTreeStump builds a regressor with a single numerical-test stump:
// node 0 tests "feature 0 < 0", leaves 1 and 2 carry values 1 and 2.
func buildTreeStump(t *testing.T, thresholdType model.TypeInfo) *model.Model {
	t.Helper()
	metadata, err := builder.NewMetadata(2, model.TaskRegressor, false, 1, []uint32{1},
		[2]uint32{1, 1})
	if err != nil {
		t.Fatal(err)
	}
	annotation, err := builder.NewTreeAnnotation(1, []int32{0}, []int32{0})
	if err != nil {
		t.Fatal(err)
	}
	b, err := builder.New(thresholdType, thresholdType, metadata, annotation,
		builder.PostProcessorFunc{Name: "identity"}, []float64{0.0}, "")
	if err != nil {
		t.Fatal(err)
	}
	mustBuild(t,
		b.StartTree(),
		b.StartNode(0),
		b.NumericalTest(0, 0.0, true, model.OpLT, 1, 2),
		b.EndNode(),
		b.StartNode(1),
		b.LeafScalar(1.0),
		b.EndNode(),
		b.StartNode(2),
		b.LeafScalar(2.0),
		b.EndNode(),
		b.EndTree(),
	)
	m, err := b.CommitModel()
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// buildTreeStumpLeafVec builds a 2-class classifier whose stump carries
// vector leaves.
func buildTreeStumpLeafVec(t *testing.T, thresholdType model.TypeInfo) *model.Model {
	t.Helper()
	metadata, err := builder.NewMetadata(2, model.TaskMultiClf, true, 1, []uint32{2},
		[2]uint32{1, 2})
	if err != nil {
		t.Fatal(err)
	}
	annotation, err := builder.NewTreeAnnotation(1, []int32{0}, []int32{-1})
	if err != nil {
		t.Fatal(err)
	}
	b, err := builder.New(thresholdType, thresholdType, metadata, annotation,
		builder.PostProcessorFunc{Name: "identity"}, []float64{0.0, 0.0}, "")
	if err != nil {
		t.Fatal(err)
	}
	mustBuild(t,
		b.StartTree(),
		b.StartNode(0),
		b.NumericalTest(0, 0.0, true, model.OpLT, 1, 2),
		b.EndNode(),
	)
	if thresholdType == model.TypeInfoFloat32 {
		mustBuild(t,
			b.StartNode(1), b.LeafVectorFloat32([]float32{1, 2}), b.EndNode(),
			b.StartNode(2), b.LeafVectorFloat32([]float32{2, 1}), b.EndNode(),
		)
	} else {
		mustBuild(t,
			b.StartNode(1), b.LeafVectorFloat64([]float64{1, 2}), b.EndNode(),
			b.StartNode(2), b.LeafVectorFloat64([]float64{2, 1}), b.EndNode(),
		)
	}
	mustBuild(t, b.EndTree())
	m, err := b.CommitModel()
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// buildCategoricalStump builds a stump testing categories {2, 5, 7} on
// feature 0, with the list describing the right child.
func buildCategoricalStump(t *testing.T, thresholdType model.TypeInfo) *model.Model {
	t.Helper()
	metadata, err := builder.NewMetadata(1, model.TaskBinaryClf, false, 1, []uint32{1},
		[2]uint32{1, 1})
	if err != nil {
		t.Fatal(err)
	}
	annotation, err := builder.NewTreeAnnotation(1, []int32{0}, []int32{0})
	if err != nil {
		t.Fatal(err)
	}
	b, err := builder.New(thresholdType, thresholdType, metadata, annotation,
		builder.PostProcessorFunc{Name: "sigmoid"}, []float64{0.0}, "")
	if err != nil {
		t.Fatal(err)
	}
	mustBuild(t,
		b.StartTree(),
		b.StartNode(0),
		b.CategoricalTest(0, false, []uint32{7, 2, 5, 2}, true, 1, 2),
		b.EndNode(),
		b.StartNode(1),
		b.LeafScalar(-1.0),
		b.EndNode(),
		b.StartNode(2),
		b.LeafScalar(1.0),
		b.EndNode(),
		b.EndTree(),
	)
	m, err := b.CommitModel()
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func mustBuild(t *testing.T, errs ...error) {
	t.Helper()
	for _, err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
}

// testRoundTrip checks that both transports reproduce the model, using the
// JSON dump as the equality oracle.
func testRoundTrip(t *testing.T, m *model.Model) {
	t.Helper()
	for i := 0; i < 2; i++ {
		frames, err := m.GetPyBuffer()
		if err != nil {
			t.Fatal(err)
		}
		received, err := model.FromPyBuffer(frames)
		if err != nil {
			t.Fatal(err)
		}
		if m.DumpAsJSON(false) != received.DumpAsJSON(false) {
			t.Fatalf("frame round trip changed the model dump")
		}
	}

	for i := 0; i < 2; i++ {
		var buf bytes.Buffer
		if err := m.SerializeToStream(&buf); err != nil {
			t.Fatal(err)
		}
		received, err := model.DeserializeFromStream(&buf)
		if err != nil {
			t.Fatal(err)
		}
		if m.DumpAsJSON(false) != received.DumpAsJSON(false) {
			t.Fatalf("stream round trip changed the model dump")
		}
	}
}

func TestRoundTripTreeStump(t *testing.T) {
	for _, thresholdType := range []model.TypeInfo{model.TypeInfoFloat32, model.TypeInfoFloat64} {
		t.Run(thresholdType.String(), func(t *testing.T) {
			m := buildTreeStump(t, thresholdType)
			testRoundTrip(t, m)

			var got, want interface{}
			if err := json.Unmarshal([]byte(m.DumpAsJSON(false)), &got); err != nil {
				t.Fatalf("dump is not valid JSON: %v", err)
			}
			expected := `{
				"num_feature": 2,
				"task_type": "kRegressor",
				"average_tree_output": false,
				"num_target": 1,
				"num_class": [1],
				"leaf_vector_shape": [1, 1],
				"target_id": [0],
				"class_id": [0],
				"postprocessor": "identity",
				"sigmoid_alpha": 1.0,
				"ratio_c": 1.0,
				"base_scores": [0.0],
				"attributes": "{}",
				"trees": [{
					"num_nodes": 3,
					"has_categorical_split": false,
					"nodes": [{
						"node_id": 0,
						"split_feature_id": 0,
						"default_left": true,
						"node_type": "numerical_test_node",
						"comparison_op": "<",
						"threshold": 0.0,
						"left_child": 1,
						"right_child": 2
					}, {
						"node_id": 1,
						"leaf_value": 1.0
					}, {
						"node_id": 2,
						"leaf_value": 2.0
					}]
				}]
			}`
			if err := json.Unmarshal([]byte(expected), &want); err != nil {
				t.Fatal(err)
			}
			if diff := cmp.Diff(want, got); diff != "" {
				t.Errorf("JSON dump mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestRoundTripTreeStumpLeafVec(t *testing.T) {
	for _, thresholdType := range []model.TypeInfo{model.TypeInfoFloat32, model.TypeInfoFloat64} {
		t.Run(thresholdType.String(), func(t *testing.T) {
			m := buildTreeStumpLeafVec(t, thresholdType)
			testRoundTrip(t, m)

			var got interface{}
			if err := json.Unmarshal([]byte(m.DumpAsJSON(true)), &got); err != nil {
				t.Fatalf("pretty dump is not valid JSON: %v", err)
			}
		})
	}
}

func TestRoundTripCategoricalStump(t *testing.T) {
	m := buildCategoricalStump(t, model.TypeInfoFloat32)
	testRoundTrip(t, m)

	// The category list must come out sorted and deduplicated in the dump.
	var doc struct {
		Trees []struct {
			HasCategoricalSplit bool `json:"has_categorical_split"`
			Nodes               []struct {
				CategoryList           []uint32 `json:"category_list"`
				CategoryListRightChild *bool    `json:"category_list_right_child"`
			} `json:"nodes"`
		} `json:"trees"`
	}
	if err := json.Unmarshal([]byte(m.DumpAsJSON(false)), &doc); err != nil {
		t.Fatal(err)
	}
	if !doc.Trees[0].HasCategoricalSplit {
		t.Error("expected has_categorical_split to be true")
	}
	if diff := cmp.Diff([]uint32{2, 5, 7}, doc.Trees[0].Nodes[0].CategoryList); diff != "" {
		t.Errorf("category list mismatch (-want +got):\n%s", diff)
	}
	if doc.Trees[0].Nodes[0].CategoryListRightChild == nil ||
		!*doc.Trees[0].Nodes[0].CategoryListRightChild {
		t.Error("expected category_list_right_child to be true")
	}
}

func TestPrettyDumpTogglesWhitespaceOnly(t *testing.T) {
	m := buildTreeStump(t, model.TypeInfoFloat64)
	var compact, pretty interface{}
	if err := json.Unmarshal([]byte(m.DumpAsJSON(false)), &compact); err != nil {
		t.Fatal(err)
	}
	if err := json.Unmarshal([]byte(m.DumpAsJSON(true)), &pretty); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(compact, pretty); diff != "" {
		t.Errorf("pretty dump changed content (-compact +pretty):\n%s", diff)
	}
}

func TestVersionStampedAndPreserved(t *testing.T) {
	m := buildTreeStump(t, model.TypeInfoFloat32)
	version := m.Version()
	if version.Major != model.VerMajor || version.Minor != model.VerMinor {
		t.Fatalf("model carries version %v, expected %d.%d.%d",
			version, model.VerMajor, model.VerMinor, model.VerPatch)
	}
	var buf bytes.Buffer
	if err := m.SerializeToStream(&buf); err != nil {
		t.Fatal(err)
	}
	received, err := model.DeserializeFromStream(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if received.Version() != version {
		t.Fatalf("round trip changed the version: %v != %v", received.Version(), version)
	}
}

func TestDeserializeRejectsForeignMajorVersion(t *testing.T) {
	m := buildTreeStump(t, model.TypeInfoFloat32)
	var buf bytes.Buffer
	if err := m.SerializeToStream(&buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	raw[0] = byte(model.VerMajor + 1) // bump the major version in place

	_, err := model.DeserializeFromStream(bytes.NewReader(raw))
	if err == nil {
		t.Fatal("expected a version error")
	}
	if model.KindOf(err) != model.SerializationError {
		t.Fatalf("expected SerializationError, got %v", err)
	}
}

func TestDeserializeAcceptsLegacyBridgeVersion(t *testing.T) {
	m := buildTreeStump(t, model.TypeInfoFloat32)
	var buf bytes.Buffer
	if err := m.SerializeToStream(&buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	raw[0] = 3 // major
	raw[4] = 9 // minor

	received, err := model.DeserializeFromStream(bytes.NewReader(raw))
	if err != nil {
		t.Fatal(err)
	}
	version := received.Version()
	if version.Major != 3 || version.Minor != 9 {
		t.Fatalf("expected the 3.9 stamp to be preserved, got %v", version)
	}
}

func TestDeserializeTruncatedStream(t *testing.T) {
	m := buildTreeStump(t, model.TypeInfoFloat32)
	var buf bytes.Buffer
	if err := m.SerializeToStream(&buf); err != nil {
		t.Fatal(err)
	}
	raw := buf.Bytes()
	for _, cut := range []int{1, 16, len(raw) / 2, len(raw) - 1} {
		_, err := model.DeserializeFromStream(bytes.NewReader(raw[:cut]))
		if err == nil {
			t.Fatalf("expected an error for a stream truncated at %d bytes", cut)
		}
	}
}

func TestFrameSequenceTruncated(t *testing.T) {
	m := buildTreeStump(t, model.TypeInfoFloat32)
	frames, err := m.GetPyBuffer()
	if err != nil {
		t.Fatal(err)
	}
	_, err = model.FromPyBuffer(frames[:len(frames)-3])
	if err == nil {
		t.Fatal("expected an error for a truncated frame sequence")
	}
	if model.KindOf(err) != model.SerializationError {
		t.Fatalf("expected SerializationError, got %v", err)
	}
}

func TestSetTreeLimit(t *testing.T) {
	models := make([]*model.Model, 3)
	for i := range models {
		models[i] = buildTreeStump(t, model.TypeInfoFloat32)
	}
	combined, err := model.Concatenate(models)
	if err != nil {
		t.Fatal(err)
	}
	if combined.NumTree() != 3 {
		t.Fatalf("expected 3 trees, got %d", combined.NumTree())
	}
	if err := combined.SetTreeLimit(2); err != nil {
		t.Fatal(err)
	}
	if combined.NumTree() != 2 || len(combined.TargetID) != 2 {
		t.Fatalf("tree limit was not applied")
	}
	if err := combined.SetTreeLimit(5); err == nil {
		t.Fatal("expected an error for a tree limit past the end")
	}
}

func TestConcatenatePreservesDump(t *testing.T) {
	// Concatenating any partition of a tree list must reproduce the
	// original model's dump.
	single := buildTreeStump(t, model.TypeInfoFloat64)
	parts := make([]*model.Model, 4)
	for i := range parts {
		parts[i] = buildTreeStump(t, model.TypeInfoFloat64)
	}
	combined, err := model.Concatenate(parts)
	if err != nil {
		t.Fatal(err)
	}
	recombined, err := model.Concatenate([]*model.Model{combined})
	if err != nil {
		t.Fatal(err)
	}
	if combined.DumpAsJSON(false) != recombined.DumpAsJSON(false) {
		t.Error("re-concatenation changed the dump")
	}
	halves := make([]*model.Model, 2)
	for i, half := range [][]*model.Model{parts[:2], parts[2:]} {
		if halves[i], err = model.Concatenate(half); err != nil {
			t.Fatal(err)
		}
	}
	fromHalves, err := model.Concatenate(halves)
	if err != nil {
		t.Fatal(err)
	}
	if combined.DumpAsJSON(false) != fromHalves.DumpAsJSON(false) {
		t.Error("concatenating a two-way partition changed the dump")
	}
	if combined.NumTree() != 4*single.NumTree() {
		t.Errorf("expected %d trees, got %d", 4*single.NumTree(), combined.NumTree())
	}
}

func TestConcatenateRejectsMismatches(t *testing.T) {
	f32 := buildTreeStump(t, model.TypeInfoFloat32)
	f64 := buildTreeStump(t, model.TypeInfoFloat64)
	if _, err := model.Concatenate([]*model.Model{f32, f64}); err == nil {
		t.Fatal("expected an error for mismatched type specializations")
	}

	other := buildTreeStump(t, model.TypeInfoFloat32)
	other.NumFeature = 10
	if _, err := model.Concatenate([]*model.Model{f32, other}); err == nil {
		t.Fatal("expected an error for mismatched num_feature")
	}

	if _, err := model.Concatenate(nil); err == nil {
		t.Fatal("expected an error for an empty input")
	}
}

func TestNewModelRejectsReservedTypePairs(t *testing.T) {
	cases := []struct {
		threshold, leafOutput model.TypeInfo
	}{
		{model.TypeInfoFloat32, model.TypeInfoFloat64},
		{model.TypeInfoFloat64, model.TypeInfoFloat32},
		{model.TypeInfoUInt32, model.TypeInfoFloat32},
		{model.TypeInfoUInt32, model.TypeInfoFloat64},
		{model.TypeInfoFloat32, model.TypeInfoUInt32},
		{model.TypeInfoFloat64, model.TypeInfoUInt32},
		{model.TypeInfoInvalid, model.TypeInfoInvalid},
	}
	for _, c := range cases {
		_, err := model.NewModel(c.threshold, c.leafOutput)
		if model.KindOf(err) != model.TypeMismatch {
			t.Errorf("NewModel(%v, %v): expected TypeMismatch, got %v",
				c.threshold, c.leafOutput, err)
		}
	}
}

func ExampleModel_DumpAsJSON() {
	metadata, _ := builder.NewMetadata(2, model.TaskRegressor, false, 1, []uint32{1},
		[2]uint32{1, 1})
	annotation, _ := builder.NewTreeAnnotation(1, []int32{0}, []int32{0})
	b, _ := builder.New(model.TypeInfoFloat32, model.TypeInfoFloat32, metadata, annotation,
		builder.PostProcessorFunc{Name: "identity"}, []float64{0.0}, "")
	b.StartTree()
	b.StartNode(0)
	b.LeafScalar(0.5)
	b.EndNode()
	b.EndTree()
	m, _ := b.CommitModel()

	var doc struct {
		NumFeature int    `json:"num_feature"`
		TaskType   string `json:"task_type"`
	}
	json.Unmarshal([]byte(m.DumpAsJSON(false)), &doc)
	fmt.Println(doc.NumFeature, doc.TaskType)
	// Output: 2 kRegressor
}
