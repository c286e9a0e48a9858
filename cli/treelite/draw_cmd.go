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
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
	"github.com/spf13/cobra"

	"github.com/dmlc/treelite-go/model"
	model_io "github.com/dmlc/treelite-go/model/io"
)

func drawCmd() *cobra.Command {
	var (
		treeID     int
		outputPath string
		format     string
	)
	cmd := &cobra.Command{
		Use:   "draw <model file>",
		Short: "Render one tree of a model with graphviz",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := model_io.LoadModel(args[0])
			if err != nil {
				return err
			}
			if treeID < 0 || treeID >= m.NumTree() {
				return fmt.Errorf("tree %d out of range; the model has %d trees",
					treeID, m.NumTree())
			}

			gv := graphviz.New()
			graph, err := gv.Graph()
			if err != nil {
				return err
			}
			defer func() {
				graph.Close()
				gv.Close()
			}()

			if preset, ok := model.Preset[float32](m); ok {
				err = drawTree(graph, &preset.Trees[treeID])
			} else if preset, ok := model.Preset[float64](m); ok {
				err = drawTree(graph, &preset.Trees[treeID])
			}
			if err != nil {
				return err
			}

			var renderFormat graphviz.Format
			switch format {
			case "svg":
				renderFormat = graphviz.SVG
			case "png":
				renderFormat = graphviz.PNG
			case "dot":
				renderFormat = graphviz.XDOT
			default:
				return fmt.Errorf("unknown format %q; use svg, png or dot", format)
			}
			return gv.RenderFilename(graph, renderFormat, outputPath)
		},
	}
	cmd.Flags().IntVar(&treeID, "tree", 0, "index of the tree to render")
	cmd.Flags().StringVarP(&outputPath, "output", "o", "tree.svg", "output file")
	cmd.Flags().StringVar(&format, "format", "svg", "output format: svg, png or dot")
	return cmd
}

func drawTree[T model.FloatType](graph *cgraph.Graph, tree *model.Tree[T]) error {
	return drawNode(graph, tree, 0, nil)
}

func drawNode[T model.FloatType](graph *cgraph.Graph, tree *model.Tree[T], nid int,
	parent *cgraph.Node) error {
	node, err := graph.CreateNode(fmt.Sprint(nid))
	if err != nil {
		return err
	}
	if parent != nil {
		if _, err := graph.CreateEdge("", parent, node); err != nil {
			return err
		}
	}
	if tree.IsLeaf(nid) {
		node.Set("shape", "box")
		node.Set("label", leafLabel(tree, nid))
		return nil
	}
	node.Set("label", splitLabel(tree, nid))
	if err := drawNode(graph, tree, tree.LeftChild(nid), node); err != nil {
		return err
	}
	return drawNode(graph, tree, tree.RightChild(nid), node)
}

func leafLabel[T model.FloatType](tree *model.Tree[T], nid int) string {
	if tree.HasLeafVector(nid) {
		values := make([]string, 0, len(tree.LeafVector(nid)))
		for _, v := range tree.LeafVector(nid) {
			values = append(values, fmt.Sprintf("%g", float64(v)))
		}
		return "[" + strings.Join(values, ", ") + "]"
	}
	return fmt.Sprintf("%g", float64(tree.LeafValue(nid)))
}

func splitLabel[T model.FloatType](tree *model.Tree[T], nid int) string {
	if tree.NodeType(nid) == model.CategoricalTestNode {
		side := "left"
		if tree.CategoryListRightChild(nid) {
			side = "right"
		}
		return fmt.Sprintf("feature %d in %v -> %s",
			tree.SplitIndex(nid), tree.CategoryList(nid), side)
	}
	return fmt.Sprintf("feature %d %v %g",
		tree.SplitIndex(nid), tree.ComparisonOp(nid), float64(tree.Threshold(nid)))
}
