package gguf

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"
)

// KV is metadata to be written. Keys outside the general and tokenizer
// namespaces are prefixed with general.architecture.
type KV map[string]any

// Tensor describes a tensor to be written. Offset is assigned by WriteGGUF.
type Tensor struct {
	Name   string
	Type   TensorType
	Shape  []uint64
	Offset uint64

	io.WriterTo
}

func (t Tensor) info() TensorInfo {
	return TensorInfo{Name: t.Name, Type: t.Type, Shape: t.Shape, Offset: t.Offset}
}

// F32 returns an F32 tensor holding values. Shape lists dimensions innermost
// first, so a rows x cols matrix has shape {cols, rows}.
func F32(name string, values []float32, shape ...uint64) *Tensor {
	bts := make([]byte, 4*len(values))
	for i, v := range values {
		binary.LittleEndian.PutUint32(bts[i*4:], math.Float32bits(v))
	}

	return &Tensor{
		Name:     name,
		Type:     TensorTypeF32,
		Shape:    shape,
		WriterTo: bytes.NewReader(bts),
	}
}

// WriteGGUF writes a version 3 file holding kv and ts.
func WriteGGUF(f *os.File, kv KV, ts []*Tensor) error {
	arch, _ := kv["general.architecture"].(string)
	if arch == "" {
		return fmt.Errorf("architecture not set")
	}

	if _, err := f.Write([]byte(magic)); err != nil {
		return err
	}

	for _, v := range []any{uint32(3), uint64(len(ts)), uint64(len(kv))} {
		if err := binary.Write(f, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	for _, key := range slices.Sorted(maps.Keys(kv)) {
		if err := writeKeyValue(f, arch, key, kv[key]); err != nil {
			return err
		}
	}

	alignment := int64(defaultAlignment)
	if a, ok := kv["general.alignment"].(uint32); ok {
		alignment = int64(a)
	}

	var s int64
	for _, t := range ts {
		t.Offset = uint64(s)
		if err := writeTensorInfo(f, t); err != nil {
			return err
		}
		s += t.info().NumBytes()
		s += padding(s, alignment)
	}

	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	offset += padding(offset, alignment)

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for _, t := range ts {
		w := io.NewOffsetWriter(f, offset+int64(t.Offset))
		g.Go(func() error {
			_, err := t.WriteTo(w)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// pad the final tensor so the file ends on an aligned boundary
	if len(ts) > 0 {
		return f.Truncate(offset + s)
	}
	return nil
}

func writeValue[V any](w io.Writer, t uint32, v V) error {
	if err := binary.Write(w, binary.LittleEndian, t); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, v)
}

func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func writeArray[S ~[]E, E any](w io.Writer, t uint32, s S) error {
	for _, v := range []uint32{typeArray, t} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}

	if t == typeString {
		for _, e := range any(s).([]string) {
			if err := writeString(w, e); err != nil {
				return err
			}
		}
		return nil
	}

	return binary.Write(w, binary.LittleEndian, s)
}

func writeKeyValue(w io.Writer, arch, k string, v any) error {
	if !strings.HasPrefix(k, arch+".") && !strings.HasPrefix(k, "general.") && !strings.HasPrefix(k, "tokenizer.") {
		k = arch + "." + k
	}

	if err := writeString(w, k); err != nil {
		return err
	}

	switch v := v.(type) {
	case uint8:
		return writeValue(w, typeUint8, v)
	case int32:
		return writeValue(w, typeInt32, v)
	case int64:
		return writeValue(w, typeInt64, v)
	case uint32:
		return writeValue(w, typeUint32, v)
	case uint64:
		return writeValue(w, typeUint64, v)
	case float32:
		return writeValue(w, typeFloat32, v)
	case float64:
		return writeValue(w, typeFloat64, v)
	case bool:
		return writeValue(w, typeBool, v)
	case string:
		if err := binary.Write(w, binary.LittleEndian, typeString); err != nil {
			return err
		}
		return writeString(w, v)
	case []int32:
		return writeArray(w, typeInt32, v)
	case []int64:
		return writeArray(w, typeInt64, v)
	case []uint32:
		return writeArray(w, typeUint32, v)
	case []float32:
		return writeArray(w, typeFloat32, v)
	case []string:
		return writeArray(w, typeString, v)
	case []bool:
		return writeArray(w, typeBool, v)
	default:
		return fmt.Errorf("improper type %T for %q", v, k)
	}
}

func writeTensorInfo(w io.Writer, t *Tensor) error {
	if err := writeString(w, t.Name); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(len(t.Shape))); err != nil {
		return err
	}

	for _, n := range t.Shape {
		if err := binary.Write(w, binary.LittleEndian, n); err != nil {
			return err
		}
	}

	if err := binary.Write(w, binary.LittleEndian, uint32(t.Type)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, t.Offset)
}
