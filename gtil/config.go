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

// Package gtil is the General Tree Inference Library: a reference prediction
// engine for tree-ensemble models. Rows are evaluated in parallel with a
// static partition; outputs are bit-identical regardless of the number of
// workers.
package gtil

import (
	"bytes"
	"encoding/json"

	"github.com/dmlc/treelite-go/model"
)

// PredictKind selects what Predict writes into the output buffer.
type PredictKind int8

// Known prediction kinds.
const (
	// PredictDefault sums over trees and applies the model's post-processor.
	PredictDefault PredictKind = iota
	// PredictRaw sums over trees but skips post-processing.
	PredictRaw
	// PredictLeafID emits one leaf node ID per tree.
	PredictLeafID
	// PredictPerTree emits one or more unsummed margin scores per tree.
	PredictPerTree
)

func (k PredictKind) String() string {
	switch k {
	case PredictDefault:
		return "default"
	case PredictRaw:
		return "raw"
	case PredictLeafID:
		return "leaf_id"
	case PredictPerTree:
		return "score_per_tree"
	}
	return "invalid"
}

// PredictKindFromString parses the canonical name of a prediction kind.
func PredictKindFromString(s string) (PredictKind, error) {
	switch s {
	case "default":
		return PredictDefault, nil
	case "raw":
		return PredictRaw, nil
	case "leaf_id":
		return PredictLeafID, nil
	case "score_per_tree":
		return PredictPerTree, nil
	}
	return PredictDefault, model.NewError(model.UnknownIdentifier,
		"unknown predict type %q", s)
}

// Configuration controls a Predict call.
type Configuration struct {
	// NThread is the number of workers; zero or negative means "use all
	// cores".
	NThread int
	// PredType selects the prediction kind.
	PredType PredictKind
}

// configJSON is the wire form of Configuration.
type configJSON struct {
	PredictType *string `json:"predict_type"`
	NThread     *int    `json:"nthread"`
}

// NewConfiguration parses a JSON configuration document. Unknown keys are
// rejected.
func NewConfiguration(doc string) (*Configuration, error) {
	decoder := json.NewDecoder(bytes.NewReader([]byte(doc)))
	decoder.DisallowUnknownFields()
	var raw configJSON
	if err := decoder.Decode(&raw); err != nil {
		return nil, model.WrapError(model.ParseError, err,
			"malformed prediction configuration")
	}
	config := &Configuration{PredType: PredictDefault}
	if raw.PredictType != nil {
		kind, err := PredictKindFromString(*raw.PredictType)
		if err != nil {
			return nil, err
		}
		config.PredType = kind
	}
	if raw.NThread != nil {
		config.NThread = *raw.NThread
	}
	return config, nil
}
