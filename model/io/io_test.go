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

package io_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/dmlc/treelite-go/model"
	"github.com/dmlc/treelite-go/model/builder"
	model_io "github.com/dmlc/treelite-go/model/io"
)

func buildModel(t *testing.T) *model.Model {
	t.Helper()
	metadata, err := builder.NewMetadata(2, model.TaskRegressor, false, 1, []uint32{1},
		[2]uint32{1, 1})
	if err != nil {
		t.Fatal(err)
	}
	annotation, err := builder.NewTreeAnnotation(1, []int32{0}, []int32{0})
	if err != nil {
		t.Fatal(err)
	}
	b, err := builder.New(model.TypeInfoFloat64, model.TypeInfoFloat64, metadata, annotation,
		builder.PostProcessorFunc{Name: "identity"}, []float64{0.0}, "")
	if err != nil {
		t.Fatal(err)
	}
	for _, err := range []error{
		b.StartTree(),
		b.StartNode(0),
		b.NumericalTest(1, 0.75, false, model.OpGE, 1, 2),
		b.EndNode(),
		b.StartNode(1), b.LeafScalar(1.5), b.EndNode(),
		b.StartNode(2), b.LeafScalar(-0.5), b.EndNode(),
		b.EndTree(),
	} {
		if err != nil {
			t.Fatal(err)
		}
	}
	m, err := b.CommitModel()
	if err != nil {
		t.Fatal(err)
	}
	return m
}

// The file round trip must survive arbitrary UTF-8 paths.
func TestFileRoundTrip(t *testing.T) {
	m := buildModel(t)
	for _, name := range []string{"model.tl", "モデル-□□-🌲.tl", "ünïcödé model.tl"} {
		path := filepath.Join(t.TempDir(), name)
		if err := model_io.SaveModel(path, m); err != nil {
			t.Fatalf("SaveModel(%q): %v", name, err)
		}
		loaded, err := model_io.LoadModel(path)
		if err != nil {
			t.Fatalf("LoadModel(%q): %v", name, err)
		}
		if m.DumpAsJSON(false) != loaded.DumpAsJSON(false) {
			t.Fatalf("file round trip through %q changed the model", name)
		}
	}
}

func TestLoadModelMissingFile(t *testing.T) {
	_, err := model_io.LoadModel(filepath.Join(t.TempDir(), "no-such-file.tl"))
	if err == nil {
		t.Fatal("expected an error for a missing file")
	}
	if model.KindOf(err) != model.SerializationError {
		t.Fatalf("expected SerializationError, got %v", err)
	}
}

func TestLoadModelCorruptedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "corrupt.tl")
	if err := os.WriteFile(path, []byte("not a model"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := model_io.LoadModel(path); err == nil {
		t.Fatal("expected an error for a corrupted file")
	}
}
