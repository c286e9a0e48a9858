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

// Command treelite inspects tree-ensemble checkpoints and runs reference
// inference on them from the command line.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dmlc/treelite-go/model"
)

func main() {
	if err := cliParser().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func cliParser() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "treelite",
		Short:         "treelite is a tool to inspect and evaluate tree-ensemble models",
		Long:          "A tool to inspect tree-ensemble checkpoints, import XGBoost models, and run reference predictions on them.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.AddCommand(versionCmd(), infoCmd(), dumpCmd(), predictCmd(), benchCmd(),
		drawCmd(), importXGBoostCmd())
	return rootCmd
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the library version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("treelite %d.%d.%d\n", model.VerMajor, model.VerMinor, model.VerPatch)
		},
	}
}
