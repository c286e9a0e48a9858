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

package model

import (
	"bufio"
	"encoding/binary"
	"io"
)

// Stream transport: scalars are packed little-endian; arrays and strings are
// prefixed with a uint64 element count. An optional (extension slot) field
// is self-describing: a name string, a uint64 byte count, and the payload.

// maxStreamElems bounds a single array read, so that a corrupted length
// prefix fails cleanly instead of exhausting memory.
const maxStreamElems = 1 << 36

// SerializeToStream writes the model onto a byte stream. The write either
// completes fully or returns the first I/O error.
func (m *Model) SerializeToStream(w io.Writer) error {
	buffered := bufio.NewWriter(w)
	if err := serializeModel(m, &streamWriter{w: buffered}); err != nil {
		return err
	}
	if err := buffered.Flush(); err != nil {
		return WrapError(SerializationError, err, "cannot flush stream")
	}
	return nil
}

// DeserializeFromStream reads a model from a byte stream previously written
// by SerializeToStream. On any failure the partially read model is discarded.
func DeserializeFromStream(r io.Reader) (*Model, error) {
	return deserializeModel(&streamReader{r: bufio.NewReader(r)})
}

type streamWriter struct {
	w io.Writer
}

func (s *streamWriter) write(v interface{}) error {
	if err := binary.Write(s.w, binary.LittleEndian, v); err != nil {
		return WrapError(SerializationError, err, "cannot write to stream")
	}
	return nil
}

func (s *streamWriter) writeCount(n int) error {
	return s.write(uint64(n))
}

func (s *streamWriter) ScalarInt32(v int32) error     { return s.write(v) }
func (s *streamWriter) ScalarUint8(v uint8) error     { return s.write(v) }
func (s *streamWriter) ScalarUint32(v uint32) error   { return s.write(v) }
func (s *streamWriter) ScalarUint64(v uint64) error   { return s.write(v) }
func (s *streamWriter) ScalarFloat32(v float32) error { return s.write(v) }

func (s *streamWriter) ScalarBool(v bool) error {
	return s.write(boolToByte(v))
}

func (s *streamWriter) ArrayInt8(v []int8) error {
	if err := s.writeCount(len(v)); err != nil {
		return err
	}
	return s.write(v)
}

func (s *streamWriter) ArrayInt32(v []int32) error {
	if err := s.writeCount(len(v)); err != nil {
		return err
	}
	return s.write(v)
}

func (s *streamWriter) ArrayUint32(v []uint32) error {
	if err := s.writeCount(len(v)); err != nil {
		return err
	}
	return s.write(v)
}

func (s *streamWriter) ArrayUint64(v []uint64) error {
	if err := s.writeCount(len(v)); err != nil {
		return err
	}
	return s.write(v)
}

func (s *streamWriter) ArrayFloat32(v []float32) error {
	if err := s.writeCount(len(v)); err != nil {
		return err
	}
	return s.write(v)
}

func (s *streamWriter) ArrayFloat64(v []float64) error {
	if err := s.writeCount(len(v)); err != nil {
		return err
	}
	return s.write(v)
}

func (s *streamWriter) ArrayBool(v []bool) error {
	if err := s.writeCount(len(v)); err != nil {
		return err
	}
	return s.write(boolsToBytes(v))
}

func (s *streamWriter) String(v string) error {
	if err := s.writeCount(len(v)); err != nil {
		return err
	}
	return s.write([]byte(v))
}

type streamReader struct {
	r io.Reader
}

func (s *streamReader) read(v interface{}) error {
	if err := binary.Read(s.r, binary.LittleEndian, v); err != nil {
		return WrapError(SerializationError, err, "cannot read from stream")
	}
	return nil
}

func (s *streamReader) readCount() (int, error) {
	var n uint64
	if err := s.read(&n); err != nil {
		return 0, err
	}
	if n > maxStreamElems {
		return 0, NewError(SerializationError, "implausible array length %d", n)
	}
	return int(n), nil
}

func (s *streamReader) ScalarInt32() (int32, error) {
	var v int32
	err := s.read(&v)
	return v, err
}

func (s *streamReader) ScalarUint8() (uint8, error) {
	var v uint8
	err := s.read(&v)
	return v, err
}

func (s *streamReader) ScalarUint32() (uint32, error) {
	var v uint32
	err := s.read(&v)
	return v, err
}

func (s *streamReader) ScalarUint64() (uint64, error) {
	var v uint64
	err := s.read(&v)
	return v, err
}

func (s *streamReader) ScalarFloat32() (float32, error) {
	var v float32
	err := s.read(&v)
	return v, err
}

func (s *streamReader) ScalarBool() (bool, error) {
	var v uint8
	err := s.read(&v)
	return v != 0, err
}

func (s *streamReader) ArrayInt8() ([]int8, error) {
	n, err := s.readCount()
	if err != nil {
		return nil, err
	}
	v := make([]int8, n)
	return v, s.read(v)
}

func (s *streamReader) ArrayInt32() ([]int32, error) {
	n, err := s.readCount()
	if err != nil {
		return nil, err
	}
	v := make([]int32, n)
	return v, s.read(v)
}

func (s *streamReader) ArrayUint32() ([]uint32, error) {
	n, err := s.readCount()
	if err != nil {
		return nil, err
	}
	v := make([]uint32, n)
	return v, s.read(v)
}

func (s *streamReader) ArrayUint64() ([]uint64, error) {
	n, err := s.readCount()
	if err != nil {
		return nil, err
	}
	v := make([]uint64, n)
	return v, s.read(v)
}

func (s *streamReader) ArrayFloat32() ([]float32, error) {
	n, err := s.readCount()
	if err != nil {
		return nil, err
	}
	v := make([]float32, n)
	return v, s.read(v)
}

func (s *streamReader) ArrayFloat64() ([]float64, error) {
	n, err := s.readCount()
	if err != nil {
		return nil, err
	}
	v := make([]float64, n)
	return v, s.read(v)
}

func (s *streamReader) ArrayBool() ([]bool, error) {
	n, err := s.readCount()
	if err != nil {
		return nil, err
	}
	raw := make([]byte, n)
	if err := s.read(raw); err != nil {
		return nil, err
	}
	return bytesToBools(raw), nil
}

func (s *streamReader) String() (string, error) {
	n, err := s.readCount()
	if err != nil {
		return "", err
	}
	raw := make([]byte, n)
	if err := s.read(raw); err != nil {
		return "", err
	}
	return string(raw), nil
}

func (s *streamReader) SkipOptionalField() error {
	if _, err := s.String(); err != nil { // field name
		return err
	}
	nbytes, err := s.ScalarUint64()
	if err != nil {
		return err
	}
	if nbytes > maxStreamElems {
		return NewError(SerializationError, "implausible optional field size %d", nbytes)
	}
	_, err = io.CopyN(io.Discard, s.r, int64(nbytes))
	if err != nil {
		return WrapError(SerializationError, err, "cannot skip optional field")
	}
	return nil
}

func boolToByte(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

func boolsToBytes(v []bool) []byte {
	out := make([]byte, len(v))
	for i, b := range v {
		out[i] = boolToByte(b)
	}
	return out
}

func bytesToBools(v []byte) []bool {
	out := make([]bool, len(v))
	for i, b := range v {
		out[i] = b != 0
	}
	return out
}
