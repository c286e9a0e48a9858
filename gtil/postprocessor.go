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

	"github.com/chewxy/math32"

	"github.com/dmlc/treelite-go/model"
)

// A postProcessor transforms one output row (the class axis of a single
// target) in place. Element-wise functions are lifted to rows; softmax and
// its relatives genuinely work across the row.
type postProcessor[T model.FloatType] func(m *model.Model, row []T)

// getPostProcessor resolves a post-processor by its registered name. The set
// of names is closed; an unknown name fails with UnknownIdentifier.
func getPostProcessor[T model.FloatType](name string) (postProcessor[T], error) {
	switch name {
	case "identity":
		return func(m *model.Model, row []T) {}, nil
	case "signed_square":
		return elementWise[T](func(m *model.Model, x T) T {
			return copysignT(x*x, x)
		}), nil
	case "hinge":
		return elementWise[T](func(m *model.Model, x T) T {
			if x > 0 {
				return 1
			}
			return 0
		}), nil
	case "sigmoid":
		return elementWise[T](sigmoid[T]), nil
	case "exponential":
		return elementWise[T](func(m *model.Model, x T) T {
			return expT(x)
		}), nil
	case "exponential_standard_ratio":
		return elementWise[T](func(m *model.Model, x T) T {
			return exp2T(-x / T(m.RatioC))
		}), nil
	case "logarithm_one_plus_exp":
		return elementWise[T](func(m *model.Model, x T) T {
			return log1pT(expT(x))
		}), nil
	case "identity_multiclass":
		return func(m *model.Model, row []T) {}, nil
	case "softmax":
		return softmax[T], nil
	case "multiclass_ova":
		return func(m *model.Model, row []T) {
			for i, x := range row {
				row[i] = sigmoid(m, x)
			}
		}, nil
	}
	return nil, model.NewError(model.UnknownIdentifier,
		"post-processor named %q not found", name)
}

func elementWise[T model.FloatType](fn func(m *model.Model, x T) T) postProcessor[T] {
	return func(m *model.Model, row []T) {
		for i, x := range row {
			row[i] = fn(m, x)
		}
	}
}

func sigmoid[T model.FloatType](m *model.Model, x T) T {
	return 1 / (1 + expT(-T(m.SigmoidAlpha)*x))
}

// softmax is the numerically stable softmax: margins are shifted by the row
// maximum, and the normalizer accumulates in float64.
func softmax[T model.FloatType](m *model.Model, row []T) {
	if len(row) == 0 {
		return
	}
	maxMargin := row[0]
	for _, x := range row[1:] {
		if x > maxMargin {
			maxMargin = x
		}
	}
	var normalizer float64
	for i, x := range row {
		t := expT(x - maxMargin)
		normalizer += float64(t)
		row[i] = t
	}
	for i := range row {
		row[i] /= T(normalizer)
	}
}

func expT[T model.FloatType](x T) T {
	switch v := interface{}(x).(type) {
	case float32:
		return T(math32.Exp(v))
	case float64:
		return T(math.Exp(v))
	}
	return 0
}

func exp2T[T model.FloatType](x T) T {
	switch v := interface{}(x).(type) {
	case float32:
		return T(math32.Exp2(v))
	case float64:
		return T(math.Exp2(v))
	}
	return 0
}

func log1pT[T model.FloatType](x T) T {
	switch v := interface{}(x).(type) {
	case float32:
		return T(math32.Log1p(v))
	case float64:
		return T(math.Log1p(v))
	}
	return 0
}

func copysignT[T model.FloatType](x, sign T) T {
	switch v := interface{}(x).(type) {
	case float32:
		return T(math32.Copysign(v, float32(sign)))
	case float64:
		return T(math.Copysign(v, float64(sign)))
	}
	return 0
}
