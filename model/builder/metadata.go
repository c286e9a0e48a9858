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

package builder

import (
	"encoding/json"

	"github.com/dmlc/treelite-go/model"
)

// Metadata carries the ensemble-wide parameters that must be fixed before
// any tree is constructed.
type Metadata struct {
	NumFeature        int32
	TaskType          model.TaskType
	AverageTreeOutput bool
	NumTarget         uint32
	NumClass          []uint32
	LeafVectorShape   [2]uint32
}

// NewMetadata validates and assembles the ensemble metadata.
func NewMetadata(numFeature int32, taskType model.TaskType, averageTreeOutput bool,
	numTarget uint32, numClass []uint32, leafVectorShape [2]uint32) (*Metadata, error) {
	if numFeature < 0 {
		return nil, model.NewError(model.ValidationError,
			"num_feature must not be negative, got %d", numFeature)
	}
	if numTarget < 1 {
		return nil, model.NewError(model.ValidationError, "num_target must be at least 1")
	}
	if uint32(len(numClass)) != numTarget {
		return nil, model.NewError(model.ValidationError,
			"num_class must have length equal to num_target (%d), got %d",
			numTarget, len(numClass))
	}
	maxNumClass := uint32(1)
	for _, c := range numClass {
		if c < 1 {
			return nil, model.NewError(model.ValidationError,
				"all elements of num_class must be at least 1")
		}
		if c > maxNumClass {
			maxNumClass = c
		}
	}
	if leafVectorShape[0] != 1 && leafVectorShape[0] != numTarget {
		return nil, model.NewError(model.ValidationError,
			"leaf_vector_shape[0] must be 1 or num_target (%d), got %d",
			numTarget, leafVectorShape[0])
	}
	if leafVectorShape[1] != 1 && leafVectorShape[1] != maxNumClass {
		return nil, model.NewError(model.ValidationError,
			"leaf_vector_shape[1] must be 1 or max(num_class) (%d), got %d",
			maxNumClass, leafVectorShape[1])
	}
	return &Metadata{
		NumFeature:        numFeature,
		TaskType:          taskType,
		AverageTreeOutput: averageTreeOutput,
		NumTarget:         numTarget,
		NumClass:          append([]uint32(nil), numClass...),
		LeafVectorShape:   leafVectorShape,
	}, nil
}

// MaxNumClass returns the largest per-target class count.
func (m *Metadata) MaxNumClass() uint32 {
	max := uint32(1)
	for _, c := range m.NumClass {
		if c > max {
			max = c
		}
	}
	return max
}

// TreeAnnotation assigns each tree of the ensemble to an output slot. A -1
// entry means "spans the whole axis" (used with vector leaves).
type TreeAnnotation struct {
	NumTree  uint32
	TargetID []int32
	ClassID  []int32
}

// NewTreeAnnotation validates and assembles a per-tree output annotation.
func NewTreeAnnotation(numTree uint32, targetID, classID []int32) (*TreeAnnotation, error) {
	if uint32(len(targetID)) != numTree {
		return nil, model.NewError(model.ValidationError,
			"target_id must have length equal to num_tree (%d), got %d",
			numTree, len(targetID))
	}
	if uint32(len(classID)) != numTree {
		return nil, model.NewError(model.ValidationError,
			"class_id must have length equal to num_tree (%d), got %d",
			numTree, len(classID))
	}
	return &TreeAnnotation{
		NumTree:  numTree,
		TargetID: append([]int32(nil), targetID...),
		ClassID:  append([]int32(nil), classID...),
	}, nil
}

// PostProcessorFunc names the post-processor together with its optional JSON
// configuration.
type PostProcessorFunc struct {
	Name string
	// ConfigJSON optionally configures the named function; an empty string
	// stands for "{}". Unknown keys are ignored.
	ConfigJSON string
}

// configurePostProcessor applies the post-processor choice to a model,
// honoring the optional per-function parameters.
func configurePostProcessor(m *model.Model, postproc PostProcessorFunc) error {
	m.Postprocessor = postproc.Name
	configJSON := postproc.ConfigJSON
	if configJSON == "" {
		configJSON = "{}"
	}
	var config map[string]interface{}
	if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
		return model.WrapError(model.ParseError, err,
			"malformed post-processor configuration")
	}
	if postproc.Name == "sigmoid" {
		if raw, ok := config["sigmoid_alpha"]; ok {
			alpha, ok := raw.(float64)
			if !ok {
				return model.NewError(model.ParseError, "sigmoid_alpha must be a number")
			}
			m.SigmoidAlpha = float32(alpha)
		}
	}
	if postproc.Name == "exponential_standard_ratio" {
		if raw, ok := config["ratio_c"]; ok {
			ratioC, ok := raw.(float64)
			if !ok {
				return model.NewError(model.ParseError, "ratio_c must be a number")
			}
			m.RatioC = float32(ratioC)
		}
	}
	return nil
}
