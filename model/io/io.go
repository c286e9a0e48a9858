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

// Package io saves and loads model checkpoints on the local file system,
// using the versioned binary stream format. Paths may contain arbitrary
// UTF-8 characters.
package io

import (
	"os"

	"github.com/dmlc/treelite-go/model"
)

// SaveModel writes the model checkpoint to a file. The file either receives
// a complete checkpoint or is removed again.
func SaveModel(path string, m *model.Model) error {
	file, err := os.Create(path)
	if err != nil {
		return model.WrapError(model.SerializationError, err, "cannot create %q", path)
	}
	if err := m.SerializeToStream(file); err != nil {
		file.Close()
		os.Remove(path)
		return err
	}
	if err := file.Close(); err != nil {
		os.Remove(path)
		return model.WrapError(model.SerializationError, err, "cannot close %q", path)
	}
	return nil
}

// LoadModel reads a model checkpoint previously written by SaveModel.
func LoadModel(path string) (*model.Model, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, model.WrapError(model.SerializationError, err, "cannot open %q", path)
	}
	defer file.Close()
	return model.DeserializeFromStream(file)
}
