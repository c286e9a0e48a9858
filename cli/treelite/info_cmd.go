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

	"github.com/spf13/cobra"

	model_io "github.com/dmlc/treelite-go/model/io"
)

func infoCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "info <model file>",
		Short: "Print a summary of a model checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := model_io.LoadModel(args[0])
			if err != nil {
				return err
			}
			version := m.Version()
			fmt.Printf("serialized by:      treelite %d.%d.%d\n",
				version.Major, version.Minor, version.Patch)
			fmt.Printf("threshold type:     %v\n", m.ThresholdType())
			fmt.Printf("leaf output type:   %v\n", m.LeafOutputType())
			fmt.Printf("task type:          %v\n", m.TaskType)
			fmt.Printf("num feature:        %d\n", m.NumFeature)
			fmt.Printf("num tree:           %d\n", m.NumTree())
			fmt.Printf("num target:         %d\n", m.NumTarget)
			fmt.Printf("num class:          %v\n", m.NumClass)
			fmt.Printf("leaf vector shape:  [%d, %d]\n",
				m.LeafVectorShape[0], m.LeafVectorShape[1])
			fmt.Printf("average outputs:    %v\n", m.AverageTreeOutput)
			fmt.Printf("post-processor:     %s\n", m.Postprocessor)
			fmt.Printf("base scores:        %v\n", m.BaseScores)
			return nil
		},
	}
}
