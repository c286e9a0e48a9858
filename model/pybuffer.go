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
	"encoding/binary"
	"math"
)

// Framed transport: every logical field becomes one typed frame, suitable
// for zero-copy interchange with a Python buffer consumer. Format strings
// follow the Python struct module ("=l" is a little-endian int32, and so on).

// Frame is one typed block of the framed serialization format.
type Frame struct {
	// Format is the Python-struct format string of the items.
	Format string
	// ItemSize is the size of one item in bytes.
	ItemSize uint64
	// NItems is the number of items in Data.
	NItems uint64
	// Data holds NItems * ItemSize bytes, little-endian.
	Data []byte
}

// Frame format strings.
const (
	formatInt8    = "=b"
	formatUint8   = "=B"
	formatInt32   = "=l"
	formatUint32  = "=L"
	formatUint64  = "=Q"
	formatFloat32 = "=f"
	formatFloat64 = "=d"
	formatBool    = "=?"
	formatChar    = "=c"
)

// GetPyBuffer serializes the model into a sequence of typed frames. The
// frames reference freshly allocated buffers; they stay valid independently
// of the model.
func (m *Model) GetPyBuffer() ([]Frame, error) {
	w := &frameWriter{}
	if err := serializeModel(m, w); err != nil {
		return nil, err
	}
	return w.frames, nil
}

// FromPyBuffer reconstructs a model from a frame sequence produced by
// GetPyBuffer.
func FromPyBuffer(frames []Frame) (*Model, error) {
	return deserializeModel(&frameReader{frames: frames})
}

type frameWriter struct {
	frames []Frame
}

func (w *frameWriter) push(format string, itemSize uint64, nItems int, data []byte) error {
	w.frames = append(w.frames, Frame{
		Format:   format,
		ItemSize: itemSize,
		NItems:   uint64(nItems),
		Data:     data,
	})
	return nil
}

func (w *frameWriter) ScalarInt32(v int32) error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, uint32(v))
	return w.push(formatInt32, 4, 1, data)
}

func (w *frameWriter) ScalarUint8(v uint8) error {
	return w.push(formatUint8, 1, 1, []byte{v})
}

func (w *frameWriter) ScalarUint32(v uint32) error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, v)
	return w.push(formatUint32, 4, 1, data)
}

func (w *frameWriter) ScalarUint64(v uint64) error {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, v)
	return w.push(formatUint64, 8, 1, data)
}

func (w *frameWriter) ScalarFloat32(v float32) error {
	data := make([]byte, 4)
	binary.LittleEndian.PutUint32(data, math.Float32bits(v))
	return w.push(formatFloat32, 4, 1, data)
}

func (w *frameWriter) ScalarBool(v bool) error {
	return w.push(formatBool, 1, 1, []byte{boolToByte(v)})
}

func (w *frameWriter) ArrayInt8(v []int8) error {
	data := make([]byte, len(v))
	for i, x := range v {
		data[i] = byte(x)
	}
	return w.push(formatInt8, 1, len(v), data)
}

func (w *frameWriter) ArrayInt32(v []int32) error {
	data := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(data[4*i:], uint32(x))
	}
	return w.push(formatInt32, 4, len(v), data)
}

func (w *frameWriter) ArrayUint32(v []uint32) error {
	data := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(data[4*i:], x)
	}
	return w.push(formatUint32, 4, len(v), data)
}

func (w *frameWriter) ArrayUint64(v []uint64) error {
	data := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(data[8*i:], x)
	}
	return w.push(formatUint64, 8, len(v), data)
}

func (w *frameWriter) ArrayFloat32(v []float32) error {
	data := make([]byte, 4*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint32(data[4*i:], math.Float32bits(x))
	}
	return w.push(formatFloat32, 4, len(v), data)
}

func (w *frameWriter) ArrayFloat64(v []float64) error {
	data := make([]byte, 8*len(v))
	for i, x := range v {
		binary.LittleEndian.PutUint64(data[8*i:], math.Float64bits(x))
	}
	return w.push(formatFloat64, 8, len(v), data)
}

func (w *frameWriter) ArrayBool(v []bool) error {
	return w.push(formatBool, 1, len(v), boolsToBytes(v))
}

func (w *frameWriter) String(v string) error {
	return w.push(formatChar, 1, len(v), []byte(v))
}

type frameReader struct {
	frames []Frame
	next   int
}

func (r *frameReader) pop(format string, itemSize uint64) (Frame, error) {
	if r.next >= len(r.frames) {
		return Frame{}, NewError(SerializationError,
			"truncated frame sequence: %d frames consumed", r.next)
	}
	frame := r.frames[r.next]
	r.next++
	if frame.Format != format {
		return Frame{}, NewError(SerializationError,
			"frame %d has format %q, expected %q", r.next-1, frame.Format, format)
	}
	if frame.ItemSize != itemSize {
		return Frame{}, NewError(SerializationError,
			"frame %d has item size %d, expected %d", r.next-1, frame.ItemSize, itemSize)
	}
	if uint64(len(frame.Data)) != frame.NItems*frame.ItemSize {
		return Frame{}, NewError(SerializationError,
			"frame %d holds %d bytes, expected %d items of %d bytes",
			r.next-1, len(frame.Data), frame.NItems, frame.ItemSize)
	}
	return frame, nil
}

func (r *frameReader) popScalar(format string, itemSize uint64) (Frame, error) {
	frame, err := r.pop(format, itemSize)
	if err != nil {
		return Frame{}, err
	}
	if frame.NItems != 1 {
		return Frame{}, NewError(SerializationError,
			"frame %d holds %d items, expected a scalar", r.next-1, frame.NItems)
	}
	return frame, nil
}

func (r *frameReader) ScalarInt32() (int32, error) {
	frame, err := r.popScalar(formatInt32, 4)
	if err != nil {
		return 0, err
	}
	return int32(binary.LittleEndian.Uint32(frame.Data)), nil
}

func (r *frameReader) ScalarUint8() (uint8, error) {
	frame, err := r.popScalar(formatUint8, 1)
	if err != nil {
		return 0, err
	}
	return frame.Data[0], nil
}

func (r *frameReader) ScalarUint32() (uint32, error) {
	frame, err := r.popScalar(formatUint32, 4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(frame.Data), nil
}

func (r *frameReader) ScalarUint64() (uint64, error) {
	frame, err := r.popScalar(formatUint64, 8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(frame.Data), nil
}

func (r *frameReader) ScalarFloat32() (float32, error) {
	frame, err := r.popScalar(formatFloat32, 4)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(binary.LittleEndian.Uint32(frame.Data)), nil
}

func (r *frameReader) ScalarBool() (bool, error) {
	frame, err := r.popScalar(formatBool, 1)
	if err != nil {
		return false, err
	}
	return frame.Data[0] != 0, nil
}

func (r *frameReader) ArrayInt8() ([]int8, error) {
	frame, err := r.pop(formatInt8, 1)
	if err != nil {
		return nil, err
	}
	out := make([]int8, frame.NItems)
	for i := range out {
		out[i] = int8(frame.Data[i])
	}
	return out, nil
}

func (r *frameReader) ArrayInt32() ([]int32, error) {
	frame, err := r.pop(formatInt32, 4)
	if err != nil {
		return nil, err
	}
	out := make([]int32, frame.NItems)
	for i := range out {
		out[i] = int32(binary.LittleEndian.Uint32(frame.Data[4*i:]))
	}
	return out, nil
}

func (r *frameReader) ArrayUint32() ([]uint32, error) {
	frame, err := r.pop(formatUint32, 4)
	if err != nil {
		return nil, err
	}
	out := make([]uint32, frame.NItems)
	for i := range out {
		out[i] = binary.LittleEndian.Uint32(frame.Data[4*i:])
	}
	return out, nil
}

func (r *frameReader) ArrayUint64() ([]uint64, error) {
	frame, err := r.pop(formatUint64, 8)
	if err != nil {
		return nil, err
	}
	out := make([]uint64, frame.NItems)
	for i := range out {
		out[i] = binary.LittleEndian.Uint64(frame.Data[8*i:])
	}
	return out, nil
}

func (r *frameReader) ArrayFloat32() ([]float32, error) {
	frame, err := r.pop(formatFloat32, 4)
	if err != nil {
		return nil, err
	}
	out := make([]float32, frame.NItems)
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(frame.Data[4*i:]))
	}
	return out, nil
}

func (r *frameReader) ArrayFloat64() ([]float64, error) {
	frame, err := r.pop(formatFloat64, 8)
	if err != nil {
		return nil, err
	}
	out := make([]float64, frame.NItems)
	for i := range out {
		out[i] = math.Float64frombits(binary.LittleEndian.Uint64(frame.Data[8*i:]))
	}
	return out, nil
}

func (r *frameReader) ArrayBool() ([]bool, error) {
	frame, err := r.pop(formatBool, 1)
	if err != nil {
		return nil, err
	}
	return bytesToBools(frame.Data), nil
}

func (r *frameReader) String() (string, error) {
	frame, err := r.pop(formatChar, 1)
	if err != nil {
		return "", err
	}
	return string(frame.Data), nil
}

// SkipOptionalField drops one extension field: a name frame followed by a
// payload frame.
func (r *frameReader) SkipOptionalField() error {
	for i := 0; i < 2; i++ {
		if r.next >= len(r.frames) {
			return NewError(SerializationError, "truncated optional field")
		}
		r.next++
	}
	return nil
}
