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

package xgboost_test

import (
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmlc/treelite-go/frontend/xgboost"
	"github.com/dmlc/treelite-go/gtil"
	"github.com/dmlc/treelite-go/model"
)

// A regression booster with two stumps:
// "feature 0 < 0 ? 1 : 2" (missing goes left) and
// "feature 1 < 0.5 ? -1 : 3" (missing goes right).
const regressionDoc = `{
  "version": [2, 0, 0],
  "learner": {
    "learner_model_param": {
      "base_score": "5E-1", "num_class": "0", "num_feature": "2", "num_target": "1"
    },
    "objective": {"name": "reg:squarederror"},
    "gradient_booster": {
      "name": "gbtree",
      "model": {
        "gbtree_model_param": {"num_trees": "2", "num_parallel_tree": "1"},
        "tree_info": [0, 0],
        "trees": [{
          "tree_param": {"num_nodes": "3", "size_leaf_vector": "1"},
          "left_children": [1, -1, -1],
          "right_children": [2, -1, -1],
          "split_indices": [0, 0, 0],
          "split_conditions": [0.0, 1.0, 2.0],
          "default_left": [1, 0, 0],
          "split_type": [0, 0, 0],
          "loss_changes": [1.5, 0.0, 0.0],
          "sum_hessian": [10.0, 4.0, 6.0],
          "base_weights": [0.0, 0.0, 0.0]
        }, {
          "tree_param": {"num_nodes": "3", "size_leaf_vector": "1"},
          "left_children": [1, -1, -1],
          "right_children": [2, -1, -1],
          "split_indices": [1, 0, 0],
          "split_conditions": [0.5, -1.0, 3.0],
          "default_left": [0, 0, 0],
          "split_type": [0, 0, 0],
          "loss_changes": [0.5, 0.0, 0.0],
          "sum_hessian": [10.0, 5.0, 5.0],
          "base_weights": [0.0, 0.0, 0.0]
        }]
      }
    }
  }
}`

func TestLoadRegressionModel(t *testing.T) {
	m, err := xgboost.LoadModelFromBytes([]byte(regressionDoc), "")
	require.NoError(t, err)

	assert.Equal(t, model.TaskRegressor, m.TaskType)
	assert.Equal(t, int32(2), m.NumFeature)
	assert.Equal(t, 2, m.NumTree())
	assert.Equal(t, "identity", m.Postprocessor)
	assert.Equal(t, []float64{0.5}, m.BaseScores)
	assert.Equal(t, []int32{0, 0}, m.TargetID)
	assert.Equal(t, []int32{0, 0}, m.ClassID)
	assert.False(t, m.AverageTreeOutput)

	config := &gtil.Configuration{PredType: gtil.PredictRaw, NThread: 1}
	output := make([]float32, 1)
	// Row (1.0, 1.0): tree 0 goes right (2.0), tree 1 goes right (3.0).
	require.NoError(t, gtil.Predict(m, []float32{1.0, 1.0}, 1, output, config))
	assert.InDelta(t, 2.0+3.0+0.5, float64(output[0]), 1e-6)
	// Missing feature 0 goes left in tree 0 (default_left = 1).
	nan := float32(math.NaN())
	require.NoError(t, gtil.Predict(m, []float32{nan, 0.0}, 1, output, config))
	assert.InDelta(t, 1.0+(-1.0)+0.5, float64(output[0]), 1e-6)
}

func TestLoadModelFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "model.json")
	require.NoError(t, os.WriteFile(path, []byte(regressionDoc), 0o644))
	m, err := xgboost.LoadModel(path, `{}`)
	require.NoError(t, err)
	assert.Equal(t, 2, m.NumTree())
}

const logisticDoc = `{
  "version": [1, 7, 0],
  "learner": {
    "learner_model_param": {
      "base_score": "5E-1", "num_class": "0", "num_feature": "1", "num_target": "1"
    },
    "objective": {"name": "binary:logistic"},
    "gradient_booster": {
      "name": "gbtree",
      "model": {
        "tree_info": [0],
        "trees": [{
          "tree_param": {"num_nodes": "1", "size_leaf_vector": "1"},
          "left_children": [-1],
          "right_children": [-1],
          "split_indices": [0],
          "split_conditions": [0.8],
          "default_left": [0],
          "split_type": [0],
          "loss_changes": [0.0],
          "sum_hessian": [10.0],
          "base_weights": [0.8]
        }]
      }
    }
  }
}`

func TestLoadLogisticModel(t *testing.T) {
	m, err := xgboost.LoadModelFromBytes([]byte(logisticDoc), "")
	require.NoError(t, err)

	assert.Equal(t, model.TaskBinaryClf, m.TaskType)
	assert.Equal(t, "sigmoid", m.Postprocessor)
	// base_score 0.5 is a probability; the margin is logit(0.5) = 0.
	require.Len(t, m.BaseScores, 1)
	assert.InDelta(t, 0.0, m.BaseScores[0], 1e-9)

	config := &gtil.Configuration{PredType: gtil.PredictDefault, NThread: 1}
	output := make([]float32, 1)
	require.NoError(t, gtil.Predict(m, []float32{0.0}, 1, output, config))
	want := 1.0 / (1.0 + math.Exp(-0.8))
	assert.InDelta(t, want, float64(output[0]), 1e-6)
}

const multiclassDoc = `{
  "version": [2, 0, 0],
  "learner": {
    "learner_model_param": {
      "base_score": "0", "num_class": "3", "num_feature": "1", "num_target": "1"
    },
    "objective": {"name": "multi:softprob"},
    "gradient_booster": {
      "name": "gbtree",
      "model": {
        "tree_info": [0, 1, 2],
        "trees": [{
          "tree_param": {"num_nodes": "1", "size_leaf_vector": "1"},
          "left_children": [-1], "right_children": [-1], "split_indices": [0],
          "split_conditions": [0.5], "default_left": [0], "split_type": [0],
          "loss_changes": [0.0], "sum_hessian": [1.0], "base_weights": [0.5]
        }, {
          "tree_param": {"num_nodes": "1", "size_leaf_vector": "1"},
          "left_children": [-1], "right_children": [-1], "split_indices": [0],
          "split_conditions": [1.5], "default_left": [0], "split_type": [0],
          "loss_changes": [0.0], "sum_hessian": [1.0], "base_weights": [1.5]
        }, {
          "tree_param": {"num_nodes": "1", "size_leaf_vector": "1"},
          "left_children": [-1], "right_children": [-1], "split_indices": [0],
          "split_conditions": [2.5], "default_left": [0], "split_type": [0],
          "loss_changes": [0.0], "sum_hessian": [1.0], "base_weights": [2.5]
        }]
      }
    }
  }
}`

func TestLoadMulticlassModel(t *testing.T) {
	m, err := xgboost.LoadModelFromBytes([]byte(multiclassDoc), "")
	require.NoError(t, err)

	assert.Equal(t, model.TaskMultiClf, m.TaskType)
	assert.Equal(t, []uint32{3}, m.NumClass)
	assert.Equal(t, "softmax", m.Postprocessor)
	assert.Equal(t, []int32{0, 1, 2}, m.ClassID)

	config := &gtil.Configuration{PredType: gtil.PredictRaw, NThread: 1}
	output := make([]float32, 3)
	require.NoError(t, gtil.Predict(m, []float32{0.0}, 1, output, config))
	assert.Equal(t, []float32{0.5, 1.5, 2.5}, output)
}

func TestLoadModelErrors(t *testing.T) {
	// Malformed JSON
	_, err := xgboost.LoadModelFromBytes([]byte(`{"learner": `), "")
	require.Error(t, err)
	assert.Equal(t, model.ParseError, model.KindOf(err))

	// Unsupported booster
	doc := `{"version": [2,0,0], "learner": {
		"learner_model_param": {"base_score": "0", "num_class": "0", "num_feature": "1", "num_target": "1"},
		"objective": {"name": "reg:squarederror"},
		"gradient_booster": {"name": "gblinear"}}}`
	_, err = xgboost.LoadModelFromBytes([]byte(doc), "")
	require.Error(t, err)

	// Unknown objective
	doc = `{"version": [2,0,0], "learner": {
		"learner_model_param": {"base_score": "0", "num_class": "0", "num_feature": "1", "num_target": "1"},
		"objective": {"name": "reg:fancy"},
		"gradient_booster": {"name": "gbtree", "model": {"tree_info": [], "trees": []}}}}`
	_, err = xgboost.LoadModelFromBytes([]byte(doc), "")
	require.Error(t, err)
	assert.Equal(t, model.UnknownIdentifier, model.KindOf(err))

	// Malformed loader configuration
	_, err = xgboost.LoadModelFromBytes([]byte(regressionDoc), `{bad`)
	require.Error(t, err)
	assert.Equal(t, model.ParseError, model.KindOf(err))
}

func TestUnknownFieldHandling(t *testing.T) {
	doc := `{
	  "version": [2, 0, 0],
	  "mystery_field": 42,
	  "learner": {
	    "learner_model_param": {
	      "base_score": "0", "num_class": "0", "num_feature": "1", "num_target": "1"
	    },
	    "objective": {"name": "reg:squarederror"},
	    "gradient_booster": {
	      "name": "gbtree",
	      "model": {
	        "tree_info": [0],
	        "trees": [{
	          "tree_param": {"num_nodes": "1", "size_leaf_vector": "1"},
	          "left_children": [-1], "right_children": [-1], "split_indices": [0],
	          "split_conditions": [0.5], "default_left": [0], "split_type": [0],
	          "loss_changes": [0.0], "sum_hessian": [1.0], "base_weights": [0.5]
	        }]
	      }
	    }
	  }
	}`
	// Unrecognized fields are rejected by default...
	_, err := xgboost.LoadModelFromBytes([]byte(doc), "")
	require.Error(t, err)
	assert.Equal(t, model.ParseError, model.KindOf(err))
	_, err = xgboost.LoadModelFromBytes([]byte(doc), `{"allow_unknown_field": false}`)
	require.Error(t, err)

	// ...and accepted when the loader is told to allow them.
	m, err := xgboost.LoadModelFromBytes([]byte(doc), `{"allow_unknown_field": true}`)
	require.NoError(t, err)
	assert.Equal(t, 1, m.NumTree())

	// The recognized auxiliary fields pass the strict parse.
	_, err = xgboost.LoadModelFromBytes([]byte(regressionDoc), "")
	require.NoError(t, err)

	// Per-objective parameter blocks are not subject to the strict check.
	withObjectiveParam := `{
	  "version": [2, 0, 0],
	  "learner": {
	    "learner_model_param": {
	      "base_score": "0", "num_class": "0", "num_feature": "1", "num_target": "1"
	    },
	    "objective": {"name": "reg:squarederror", "reg_loss_param": {"scale_pos_weight": "1"}},
	    "gradient_booster": {
	      "name": "gbtree",
	      "model": {
	        "tree_info": [0],
	        "trees": [{
	          "tree_param": {"num_nodes": "1", "size_leaf_vector": "1"},
	          "left_children": [-1], "right_children": [-1], "split_indices": [0],
	          "split_conditions": [0.5], "default_left": [0], "split_type": [0],
	          "loss_changes": [0.0], "sum_hessian": [1.0], "base_weights": [0.5]
	        }]
	      }
	    }
	  }
	}`
	_, err = xgboost.LoadModelFromBytes([]byte(withObjectiveParam), "")
	require.NoError(t, err)
}

// tree_info must follow the grove-per-target rotation for scalar-leaf
// models; a stray entry is an error rather than silently trusted.
func TestInvalidTreeInfo(t *testing.T) {
	doc := `{
	  "version": [2, 0, 0],
	  "learner": {
	    "learner_model_param": {
	      "base_score": "0", "num_class": "0", "num_feature": "1", "num_target": "1"
	    },
	    "objective": {"name": "reg:squarederror"},
	    "gradient_booster": {
	      "name": "gbtree",
	      "model": {
	        "tree_info": [0, 1],
	        "trees": [{
	          "tree_param": {"num_nodes": "1", "size_leaf_vector": "1"},
	          "left_children": [-1], "right_children": [-1], "split_indices": [0],
	          "split_conditions": [0.5], "default_left": [0], "split_type": [0],
	          "loss_changes": [0.0], "sum_hessian": [1.0], "base_weights": [0.5]
	        }, {
	          "tree_param": {"num_nodes": "1", "size_leaf_vector": "1"},
	          "left_children": [-1], "right_children": [-1], "split_indices": [0],
	          "split_conditions": [1.5], "default_left": [0], "split_type": [0],
	          "loss_changes": [0.0], "sum_hessian": [1.0], "base_weights": [1.5]
	        }]
	      }
	    }
	  }
	}`
	_, err := xgboost.LoadModelFromBytes([]byte(doc), "")
	require.Error(t, err)
	assert.Equal(t, model.ValidationError, model.KindOf(err))
}

func TestLoadCategoricalSplit(t *testing.T) {
	doc := `{
	  "version": [2, 0, 0],
	  "learner": {
	    "learner_model_param": {
	      "base_score": "0", "num_class": "0", "num_feature": "1", "num_target": "1"
	    },
	    "objective": {"name": "reg:squarederror"},
	    "gradient_booster": {
	      "name": "gbtree",
	      "model": {
	        "tree_info": [0],
	        "trees": [{
	          "tree_param": {"num_nodes": "3", "size_leaf_vector": "1"},
	          "left_children": [1, -1, -1],
	          "right_children": [2, -1, -1],
	          "split_indices": [0, 0, 0],
	          "split_conditions": [0.0, -1.0, 1.0],
	          "default_left": [0, 0, 0],
	          "split_type": [1, 0, 0],
	          "categories_nodes": [0],
	          "categories_segments": [0],
	          "categories_sizes": [2],
	          "categories": [1, 3],
	          "loss_changes": [1.0, 0.0, 0.0],
	          "sum_hessian": [4.0, 2.0, 2.0],
	          "base_weights": [0.0, 0.0, 0.0]
	        }]
	      }
	    }
	  }
	}`
	m, err := xgboost.LoadModelFromBytes([]byte(doc), "")
	require.NoError(t, err)

	config := &gtil.Configuration{PredType: gtil.PredictRaw, NThread: 1}
	output := make([]float32, 1)
	// Category 3 is in the right-child list.
	require.NoError(t, gtil.Predict(m, []float32{3.0}, 1, output, config))
	assert.Equal(t, float32(1.0), output[0])
	// Category 2 is not.
	require.NoError(t, gtil.Predict(m, []float32{2.0}, 1, output, config))
	assert.Equal(t, float32(-1.0), output[0])
}
