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
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"gonum.org/v1/gonum/floats"

	"github.com/dmlc/treelite-go/gtil"
	model_io "github.com/dmlc/treelite-go/model/io"
)

func benchCmd() *cobra.Command {
	var (
		inputPath  string
		numRuns    int
		warmupRuns int
		nthread    int
	)
	cmd := &cobra.Command{
		Use:   "bench <model file>",
		Short: "Benchmark the inference speed of a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if numRuns <= 0 {
				return fmt.Errorf("num-runs should be greater or equal to 1")
			}
			if warmupRuns < 0 {
				return fmt.Errorf("warmup-runs should not be negative")
			}

			fmt.Println("Load model")
			m, err := model_io.LoadModel(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("\tFound a %v model with %d trees and %d features\n",
				m.TaskType, m.NumTree(), m.NumFeature)

			fmt.Println("Load dataset")
			matrix, err := loadMatrix(inputPath)
			if err != nil {
				return err
			}
			numRow, _ := matrix.Dims()
			fmt.Printf("\tRead %d rows\n", numRow)

			config := &gtil.Configuration{NThread: nthread, PredType: gtil.PredictRaw}
			for run := 0; run < warmupRuns; run++ {
				if _, err := runPrediction(m, matrix, config); err != nil {
					return err
				}
			}

			durations := make([]float64, 0, numRuns)
			for run := 0; run < numRuns; run++ {
				start := time.Now()
				if _, err := runPrediction(m, matrix, config); err != nil {
					return err
				}
				durations = append(durations, time.Since(start).Seconds())
			}

			mean := floats.Sum(durations) / float64(len(durations))
			fmt.Println("Results")
			fmt.Printf("\truns:      %d\n", numRuns)
			fmt.Printf("\tmean:      %.6fs (%.0f rows/s)\n", mean, float64(numRow)/mean)
			fmt.Printf("\tfastest:   %.6fs\n", floats.Min(durations))
			fmt.Printf("\tslowest:   %.6fs\n", floats.Max(durations))
			return nil
		},
	}
	cmd.Flags().StringVar(&inputPath, "input", "", "path to the input matrix (.npy)")
	cmd.Flags().IntVar(&numRuns, "num-runs", 20, "number of timed runs over the dataset")
	cmd.Flags().IntVar(&warmupRuns, "warmup-runs", 2, "number of untimed runs before the benchmark")
	cmd.Flags().IntVar(&nthread, "nthread", 0, "number of workers; 0 means all cores")
	cmd.MarkFlagRequired("input")
	return cmd
}
