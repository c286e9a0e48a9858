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

// Concatenate combines multiple models into a single model by copying all
// member trees, in order, into a fresh model. All inputs must agree on the
// type specialization and on the ensemble metadata; Attributes is not
// compared and is taken from the first model.
func Concatenate(models []*Model) (*Model, error) {
	if len(models) == 0 {
		return nil, NewError(ValidationError, "no models to concatenate")
	}
	first := models[0]
	for i, m := range models[1:] {
		if err := checkConcatenable(first, m, i+1); err != nil {
			return nil, err
		}
	}

	out, err := NewModel(first.ThresholdType(), first.LeafOutputType())
	if err != nil {
		return nil, err
	}
	out.NumFeature = first.NumFeature
	out.TaskType = first.TaskType
	out.AverageTreeOutput = first.AverageTreeOutput
	out.NumTarget = first.NumTarget
	out.NumClass = append([]uint32(nil), first.NumClass...)
	out.LeafVectorShape = first.LeafVectorShape
	out.Postprocessor = first.Postprocessor
	out.SigmoidAlpha = first.SigmoidAlpha
	out.RatioC = first.RatioC
	out.BaseScores = append([]float64(nil), first.BaseScores...)
	out.Attributes = first.Attributes
	for _, m := range models {
		out.TargetID = append(out.TargetID, m.TargetID...)
		out.ClassID = append(out.ClassID, m.ClassID...)
	}

	switch first.ThresholdType() {
	case TypeInfoFloat32:
		err = concatenateTrees[float32](out, models)
	case TypeInfoFloat64:
		err = concatenateTrees[float64](out, models)
	}
	if err != nil {
		return nil, err
	}
	return out, nil
}

func concatenateTrees[T FloatType](out *Model, models []*Model) error {
	dst, _ := Preset[T](out)
	for i, m := range models {
		src, ok := Preset[T](m)
		if !ok {
			return NewError(TypeMismatch, "model %d holds a different type specialization", i)
		}
		for j := range src.Trees {
			dst.Trees = append(dst.Trees, src.Trees[j].Clone())
		}
	}
	return nil
}

func checkConcatenable(a, b *Model, idx int) error {
	if a.ThresholdType() != b.ThresholdType() || a.LeafOutputType() != b.LeafOutputType() {
		return NewError(TypeMismatch,
			"model %d has type (%v, %v), expected (%v, %v)", idx,
			b.ThresholdType(), b.LeafOutputType(), a.ThresholdType(), a.LeafOutputType())
	}
	if a.NumFeature != b.NumFeature {
		return NewError(ValidationError, "model %d has num_feature %d, expected %d",
			idx, b.NumFeature, a.NumFeature)
	}
	if a.TaskType != b.TaskType {
		return NewError(ValidationError, "model %d has task type %v, expected %v",
			idx, b.TaskType, a.TaskType)
	}
	if a.AverageTreeOutput != b.AverageTreeOutput {
		return NewError(ValidationError, "model %d disagrees on average_tree_output", idx)
	}
	if a.NumTarget != b.NumTarget || !equalUint32(a.NumClass, b.NumClass) {
		return NewError(ValidationError, "model %d disagrees on the target/class layout", idx)
	}
	if a.LeafVectorShape != b.LeafVectorShape {
		return NewError(ValidationError, "model %d disagrees on leaf_vector_shape", idx)
	}
	if a.Postprocessor != b.Postprocessor ||
		a.SigmoidAlpha != b.SigmoidAlpha || a.RatioC != b.RatioC {
		return NewError(ValidationError, "model %d disagrees on the post-processor", idx)
	}
	if !equalFloat64(a.BaseScores, b.BaseScores) {
		return NewError(ValidationError, "model %d disagrees on base_scores", idx)
	}
	return nil
}

func equalUint32(a, b []uint32) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func equalFloat64(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
