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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/sbinet/npyio"
	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/mat"

	"github.com/dmlc/treelite-go/gtil"
	"github.com/dmlc/treelite-go/model"
	model_io "github.com/dmlc/treelite-go/model/io"
)

func predictCmd() *cobra.Command {
	var (
		inputPath   string
		outputPath  string
		predictType string
		nthread     int
	)
	cmd := &cobra.Command{
		Use:   "predict <model file>",
		Short: "Run reference predictions over a .npy input matrix",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := model_io.LoadModel(args[0])
			if err != nil {
				return err
			}
			matrix, err := loadMatrix(inputPath)
			if err != nil {
				return err
			}
			config := &gtil.Configuration{NThread: nthread}
			if config.PredType, err = gtil.PredictKindFromString(predictType); err != nil {
				return err
			}
			numRow, _ := matrix.Dims()
			shape := gtil.GetOutputShape(m, uint64(numRow), config)
			output, err := runPrediction(m, matrix, config)
			if err != nil {
				return err
			}
			if outputPath != "" {
				return writeMatrix(outputPath, output)
			}
			return json.NewEncoder(os.Stdout).Encode(struct {
				Shape []uint64  `json:"shape"`
				Data  []float64 `json:"data"`
			}{Shape: shape, Data: output})
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "path to the input matrix (.npy)")
	cmd.Flags().StringVar(&outputPath, "output", "", "write predictions to this .npy file instead of stdout")
	cmd.Flags().StringVar(&predictType, "type", "default", "prediction kind: default, raw, leaf_id or score_per_tree")
	cmd.Flags().IntVar(&nthread, "nthread", 0, "number of workers; 0 means all cores")
	cmd.MarkFlagRequired("input")
	return cmd
}

// loadMatrix reads a 2-dimensional .npy file.
func loadMatrix(path string) (*mat.Dense, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()
	var matrix mat.Dense
	if err := npyio.Read(file, &matrix); err != nil {
		return nil, fmt.Errorf("cannot read matrix from %q: %w", path, err)
	}
	return &matrix, nil
}

func writeMatrix(path string, values []float64) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()
	return npyio.Write(file, values)
}

// runPrediction dispatches on the model's float type; the result is widened
// to float64 for uniform output handling.
func runPrediction(m *model.Model, matrix *mat.Dense, config *gtil.Configuration) ([]float64, error) {
	numRow, numCol := matrix.Dims()
	if int32(numCol) != m.NumFeature {
		return nil, fmt.Errorf("input matrix has %d columns, model needs %d",
			numCol, m.NumFeature)
	}
	outputLen := int(productOf(gtil.GetOutputShape(m, uint64(numRow), config)))
	switch m.ThresholdType() {
	case model.TypeInfoFloat32:
		input := make([]float32, numRow*numCol)
		for i := 0; i < numRow; i++ {
			for j := 0; j < numCol; j++ {
				input[i*numCol+j] = float32(matrix.At(i, j))
			}
		}
		output := make([]float32, outputLen)
		if err := gtil.Predict(m, input, uint64(numRow), output, config); err != nil {
			return nil, err
		}
		widened := make([]float64, len(output))
		for i, v := range output {
			widened[i] = float64(v)
		}
		return widened, nil
	default:
		input := make([]float64, numRow*numCol)
		for i := 0; i < numRow; i++ {
			for j := 0; j < numCol; j++ {
				input[i*numCol+j] = matrix.At(i, j)
			}
		}
		output := make([]float64, outputLen)
		if err := gtil.Predict(m, input, uint64(numRow), output, config); err != nil {
			return nil, err
		}
		return output, nil
	}
}

func productOf(shape []uint64) uint64 {
	product := uint64(1)
	for _, dim := range shape {
		product *= dim
	}
	return product
}
