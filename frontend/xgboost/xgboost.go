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

// Package xgboost loads XGBoost models saved in the JSON format (XGBoost
// 1.0+). The loader parses the document, checks the XGBoost-specific fields
// (tree_info, weight_drop, per-tree array lengths, category bounds), and
// replays it through the model builder, which validates the model itself.
package xgboost

import (
	"bytes"
	"encoding/json"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/dmlc/treelite-go/model"
	"github.com/dmlc/treelite-go/model/builder"
)

// loaderConfig holds the loader options. Unknown configuration keys are
// ignored, like the builder's post-processor configuration.
type loaderConfig struct {
	// AllowUnknownField accepts model documents carrying fields this loader
	// does not recognize. By default an unrecognized field is a parse error.
	AllowUnknownField bool `json:"allow_unknown_field"`
}

// LoadModel reads an XGBoost JSON model file. The configuration document
// carries loader options ({"allow_unknown_field": bool}); pass "" or "{}"
// for defaults.
func LoadModel(path string, configJSON string) (*model.Model, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, model.WrapError(model.ParseError, err, "cannot read %q", path)
	}
	return LoadModelFromBytes(data, configJSON)
}

// LoadModelFromBytes parses an XGBoost JSON document held in memory.
func LoadModelFromBytes(data []byte, configJSON string) (*model.Model, error) {
	var config loaderConfig
	if configJSON != "" {
		if err := json.Unmarshal([]byte(configJSON), &config); err != nil {
			return nil, model.WrapError(model.ParseError, err,
				"malformed loader configuration")
		}
	}
	var doc document
	if config.AllowUnknownField {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, model.WrapError(model.ParseError, err, "malformed XGBoost model")
		}
	} else {
		decoder := json.NewDecoder(bytes.NewReader(data))
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&doc); err != nil {
			return nil, model.WrapError(model.ParseError, err,
				"malformed XGBoost model (pass allow_unknown_field to accept "+
					"unrecognized fields)")
		}
	}
	return convert(&doc)
}

// flexBool accepts both JSON booleans and 0/1 integers; XGBoost has emitted
// both over time.
type flexBool bool

func (b *flexBool) UnmarshalJSON(data []byte) error {
	switch string(data) {
	case "true", "1":
		*b = true
	case "false", "0":
		*b = false
	default:
		return model.NewError(model.ParseError, "invalid boolean value %s", data)
	}
	return nil
}

// The struct fields below enumerate the keys this loader recognizes; with
// allow_unknown_field unset, any other key fails the parse. Fields typed
// json.RawMessage are recognized but carry no information the converter
// needs.

type document struct {
	Version []int   `json:"version"`
	Learner learner `json:"learner"`
}

type learner struct {
	LearnerModelParam learnerModelParam `json:"learner_model_param"`
	GradientBooster   gradientBooster   `json:"gradient_booster"`
	Objective         objective         `json:"objective"`
	Attributes        json.RawMessage   `json:"attributes"`
	FeatureNames      json.RawMessage   `json:"feature_names"`
	FeatureTypes      json.RawMessage   `json:"feature_types"`
}

// XGBoost stores numeric learner parameters as JSON strings.
type learnerModelParam struct {
	BaseScore        string          `json:"base_score"`
	NumClass         string          `json:"num_class"`
	NumFeature       string          `json:"num_feature"`
	NumTarget        string          `json:"num_target"`
	BoostFromAverage json.RawMessage `json:"boost_from_average"`
}

type objective struct {
	Name string `json:"name"`
}

// UnmarshalJSON extracts the objective name; the per-objective parameter
// blocks ("reg_loss_param" and friends) vary by objective and are ignored.
func (o *objective) UnmarshalJSON(data []byte) error {
	var raw struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	o.Name = raw.Name
	return nil
}

type gradientBooster struct {
	Name       string           `json:"name"`
	Model      *gbTreeModel     `json:"model"`
	GBTree     *gradientBooster `json:"gbtree"` // "dart" nests a gbtree here
	WeightDrop []float64        `json:"weight_drop"`
}

type gbTreeModel struct {
	Trees            []regTree       `json:"trees"`
	TreeInfo         []int32         `json:"tree_info"`
	GbtreeModelParam json.RawMessage `json:"gbtree_model_param"`
	IterationIndptr  json.RawMessage `json:"iteration_indptr"`
}

type regTree struct {
	TreeParam          regTreeParam    `json:"tree_param"`
	LossChanges        []float64       `json:"loss_changes"`
	SumHessian         []float64       `json:"sum_hessian"`
	BaseWeights        []float64       `json:"base_weights"`
	CategoriesSegments []int           `json:"categories_segments"`
	CategoriesSizes    []int           `json:"categories_sizes"`
	CategoriesNodes    []int           `json:"categories_nodes"`
	Categories         []int           `json:"categories"`
	LeafChildCounts    json.RawMessage `json:"leaf_child_counts"`
	LeftChildren       []int           `json:"left_children"`
	RightChildren      []int           `json:"right_children"`
	Parents            json.RawMessage `json:"parents"`
	SplitIndices       []int           `json:"split_indices"`
	SplitType          []int           `json:"split_type"`
	SplitConditions    []float64       `json:"split_conditions"`
	DefaultLeft        []flexBool      `json:"default_left"`
	ID                 json.RawMessage `json:"id"`
}

type regTreeParam struct {
	NumNodes       string          `json:"num_nodes"`
	SizeLeafVector string          `json:"size_leaf_vector"`
	NumFeature     json.RawMessage `json:"num_feature"`
	NumDeleted     json.RawMessage `json:"num_deleted"`
}

const categoricalSplitType = 1

// postProcessorForObjective maps an XGBoost objective to the post-processor
// catalog.
func postProcessorForObjective(objective string) (string, error) {
	switch objective {
	case "multi:softprob", "multi:softmax":
		return "softmax", nil
	case "reg:logistic", "binary:logistic":
		return "sigmoid", nil
	case "count:poisson", "reg:gamma", "reg:tweedie", "survival:cox", "survival:aft":
		return "exponential", nil
	case "binary:hinge":
		return "hinge", nil
	case "reg:squarederror", "reg:linear", "reg:squaredlogerror", "reg:pseudohubererror",
		"binary:logitraw", "rank:pairwise", "rank:ndcg", "rank:map":
		return "identity", nil
	}
	return "", model.NewError(model.UnknownIdentifier,
		"unrecognized XGBoost objective %q", objective)
}

// transformBaseScoreToMargin undoes the probability-space base score: since
// XGBoost 1.0 the saved value is in the output space of the objective, while
// tree margins accumulate before the post-processor.
func transformBaseScoreToMargin(postprocessor string, baseScore float64) float64 {
	switch postprocessor {
	case "sigmoid":
		return -math.Log(1.0/baseScore - 1.0)
	case "exponential":
		return math.Log(baseScore)
	}
	return baseScore
}

func parseUintField(value string, name string) (int, error) {
	if value == "" {
		return 0, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil || parsed < 0 {
		return 0, model.NewError(model.ParseError, "invalid %s %q", name, value)
	}
	return parsed, nil
}

func convert(doc *document) (*model.Model, error) {
	booster := &doc.Learner.GradientBooster
	var weightDrop []float64
	switch booster.Name {
	case "gbtree":
	case "dart":
		weightDrop = booster.WeightDrop
		if booster.GBTree != nil {
			booster = booster.GBTree
		}
	default:
		return nil, model.NewError(model.ValidationError,
			"only gbtree and dart boosters are supported, got %q", booster.Name)
	}
	if booster.Model == nil {
		return nil, model.NewError(model.ParseError, "model is missing the tree collection")
	}
	trees := booster.Model.Trees
	treeInfo := booster.Model.TreeInfo
	numTree := len(trees)
	if len(treeInfo) != numTree {
		return nil, model.NewError(model.ParseError,
			"tree_info has %d entries for %d trees", len(treeInfo), numTree)
	}
	if weightDrop != nil && len(weightDrop) != numTree {
		return nil, model.NewError(model.ParseError,
			"weight_drop has %d entries for %d trees", len(weightDrop), numTree)
	}

	numFeature, err := parseUintField(doc.Learner.LearnerModelParam.NumFeature, "num_feature")
	if err != nil {
		return nil, err
	}
	numClass, err := parseUintField(doc.Learner.LearnerModelParam.NumClass, "num_class")
	if err != nil {
		return nil, err
	}
	if numClass < 1 {
		numClass = 1
	}
	numTarget, err := parseUintField(doc.Learner.LearnerModelParam.NumTarget, "num_target")
	if err != nil {
		return nil, err
	}
	if numTarget < 1 {
		numTarget = 1
	}
	baseScore := 0.0
	if doc.Learner.LearnerModelParam.BaseScore != "" {
		baseScore, err = strconv.ParseFloat(doc.Learner.LearnerModelParam.BaseScore, 64)
		if err != nil {
			return nil, model.NewError(model.ParseError,
				"invalid base_score %q", doc.Learner.LearnerModelParam.BaseScore)
		}
	}

	objectiveName := doc.Learner.Objective.Name
	postprocessor, err := postProcessorForObjective(objectiveName)
	if err != nil {
		return nil, err
	}

	sizeLeafVector := 1
	for i := range trees {
		size, err := parseUintField(trees[i].TreeParam.SizeLeafVector, "size_leaf_vector")
		if err != nil {
			return nil, err
		}
		if size > sizeLeafVector {
			sizeLeafVector = size
		}
	}
	if sizeLeafVector > 1 && weightDrop != nil {
		return nil, model.NewError(model.ValidationError,
			"dart with vector-leaf output is not supported")
	}

	var (
		taskType        model.TaskType
		numClassPerTgt  []uint32
		leafVectorShape [2]uint32
		targetID        []int32
		classID         []int32
	)
	targetID = make([]int32, numTree)
	classID = make([]int32, numTree)
	if numClass > 1 {
		// Multi-class classifier; XGBoost only emits single-target models here.
		if numTarget != 1 {
			return nil, model.NewError(model.ValidationError,
				"multi-class models must have a single target, got %d", numTarget)
		}
		taskType = model.TaskMultiClf
		numClassPerTgt = []uint32{uint32(numClass)}
		leafVectorShape = [2]uint32{1, uint32(sizeLeafVector)}
		for i := range classID {
			if sizeLeafVector > 1 {
				classID[i] = -1
			} else {
				classID[i] = treeInfo[i]
			}
		}
	} else {
		switch {
		case strings.HasPrefix(objectiveName, "binary:"):
			taskType = model.TaskBinaryClf
		case strings.HasPrefix(objectiveName, "rank:"):
			taskType = model.TaskLearningToRank
		default:
			taskType = model.TaskRegressor
		}
		numClassPerTgt = make([]uint32, numTarget)
		for i := range numClassPerTgt {
			numClassPerTgt[i] = 1
		}
		if sizeLeafVector > 1 {
			// Vector-leaf multi-target output
			if sizeLeafVector != numTarget {
				return nil, model.NewError(model.ValidationError,
					"leaf vectors of size %d do not match num_target %d",
					sizeLeafVector, numTarget)
			}
			leafVectorShape = [2]uint32{uint32(numTarget), 1}
			for i := range targetID {
				targetID[i] = -1
			}
		} else {
			// Grove per target: the i-th tree serves target i % num_target.
			leafVectorShape = [2]uint32{1, 1}
			for i := range targetID {
				expectedGroveID := int32(i % numTarget)
				if treeInfo[i] != expectedGroveID {
					return nil, model.NewError(model.ValidationError,
						"tree_info for tree %d is not valid: expected %d, got %d",
						i, expectedGroveID, treeInfo[i])
				}
				targetID[i] = treeInfo[i]
			}
		}
	}

	needMarginTransform := len(doc.Version) == 0 || doc.Version[0] >= 1
	if needMarginTransform {
		baseScore = transformBaseScoreToMargin(postprocessor, baseScore)
	}
	baseScores := make([]float64, numTarget*numClass)
	for i := range baseScores {
		baseScores[i] = baseScore
	}

	metadata, err := builder.NewMetadata(int32(numFeature), taskType, false,
		uint32(numTarget), numClassPerTgt, leafVectorShape)
	if err != nil {
		return nil, err
	}
	annotation, err := builder.NewTreeAnnotation(uint32(numTree), targetID, classID)
	if err != nil {
		return nil, err
	}
	b, err := builder.New(model.TypeInfoFloat32, model.TypeInfoFloat32, metadata, annotation,
		builder.PostProcessorFunc{Name: postprocessor}, baseScores, "")
	if err != nil {
		return nil, err
	}

	for treeID := range trees {
		scale := 1.0
		if weightDrop != nil {
			scale = weightDrop[treeID]
		}
		if err := replayTree(b, &trees[treeID], sizeLeafVector, scale); err != nil {
			return nil, err
		}
	}
	return b.CommitModel()
}

// replayTree walks one XGBoost tree in breadth-first order and replays it
// through the builder, using the original node IDs as node keys.
func replayTree(b builder.Builder, tree *regTree, sizeLeafVector int, scale float64) error {
	numNodes := len(tree.LeftChildren)
	if numNodes == 0 {
		return model.NewError(model.ParseError, "tree with zero nodes")
	}
	for _, field := range [][2]int{
		{len(tree.RightChildren), numNodes},
		{len(tree.SplitIndices), numNodes},
		{len(tree.SplitConditions), numNodes},
		{len(tree.DefaultLeft), numNodes},
		{len(tree.SumHessian), numNodes},
		{len(tree.LossChanges), numNodes},
	} {
		if field[0] != field[1] {
			return model.NewError(model.ParseError,
				"tree field has %d entries, expected %d", field[0], field[1])
		}
	}
	if err := b.StartTree(); err != nil {
		return err
	}
	queue := []int{0}
	for len(queue) > 0 {
		nodeID := queue[0]
		queue = queue[1:]
		if nodeID < 0 || nodeID >= numNodes {
			return model.NewError(model.ParseError, "node ID %d out of range", nodeID)
		}
		if err := b.StartNode(nodeID); err != nil {
			return err
		}
		if tree.LeftChildren[nodeID] == -1 {
			if sizeLeafVector > 1 {
				begin := nodeID * sizeLeafVector
				end := begin + sizeLeafVector
				if end > len(tree.BaseWeights) {
					return model.NewError(model.ParseError,
						"base_weights too short for vector leaves")
				}
				leafVector := make([]float32, sizeLeafVector)
				for i, w := range tree.BaseWeights[begin:end] {
					leafVector[i] = float32(w)
				}
				if err := b.LeafVectorFloat32(leafVector); err != nil {
					return err
				}
			} else {
				if err := b.LeafScalar(tree.SplitConditions[nodeID] * scale); err != nil {
					return err
				}
			}
		} else {
			left, right := tree.LeftChildren[nodeID], tree.RightChildren[nodeID]
			if isCategorical(tree, nodeID) {
				categoryList, err := rightCategories(tree, nodeID)
				if err != nil {
					return err
				}
				err = b.CategoricalTest(int32(tree.SplitIndices[nodeID]),
					bool(tree.DefaultLeft[nodeID]), categoryList, true, left, right)
				if err != nil {
					return err
				}
			} else {
				err := b.NumericalTest(int32(tree.SplitIndices[nodeID]),
					tree.SplitConditions[nodeID], bool(tree.DefaultLeft[nodeID]),
					model.OpLT, left, right)
				if err != nil {
					return err
				}
			}
			if err := b.Gain(tree.LossChanges[nodeID]); err != nil {
				return err
			}
			queue = append(queue, left, right)
		}
		if err := b.SumHess(tree.SumHessian[nodeID]); err != nil {
			return err
		}
		if err := b.EndNode(); err != nil {
			return err
		}
	}
	return b.EndTree()
}

func isCategorical(tree *regTree, nodeID int) bool {
	return nodeID < len(tree.SplitType) && tree.SplitType[nodeID] == categoricalSplitType
}

// rightCategories extracts the category list of a categorical split; the
// list always describes the right child in XGBoost.
func rightCategories(tree *regTree, nodeID int) ([]uint32, error) {
	for i, splitNode := range tree.CategoriesNodes {
		if splitNode != nodeID {
			continue
		}
		offset := tree.CategoriesSegments[i]
		size := tree.CategoriesSizes[i]
		if offset < 0 || offset+size > len(tree.Categories) {
			return nil, model.NewError(model.ParseError,
				"categorical split of node %d is out of bounds", nodeID)
		}
		categoryList := make([]uint32, 0, size)
		for _, c := range tree.Categories[offset : offset+size] {
			if c < 0 {
				return nil, model.NewError(model.ParseError,
					"negative category %d in node %d", c, nodeID)
			}
			categoryList = append(categoryList, uint32(c))
		}
		return categoryList, nil
	}
	return nil, model.NewError(model.ParseError,
		"no category record for the categorical split in node %d", nodeID)
}
