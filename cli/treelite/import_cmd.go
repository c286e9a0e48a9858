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

	"github.com/dmlc/treelite-go/frontend/xgboost"
	model_io "github.com/dmlc/treelite-go/model/io"
)

func importXGBoostCmd() *cobra.Command {
	var outputPath string
	cmd := &cobra.Command{
		Use:   "import-xgboost <model.json>",
		Short: "Convert an XGBoost JSON model into a treelite checkpoint",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := xgboost.LoadModel(args[0], "")
			if err != nil {
				return err
			}
			if err := model_io.SaveModel(outputPath, m); err != nil {
				return err
			}
			fmt.Printf("Imported %d trees into %s\n", m.NumTree(), outputPath)
			return nil
		},
	}
	cmd.Flags().StringVarP(&outputPath, "output", "o", "model.tl", "output checkpoint file")
	return cmd
}
