package gguf

import (
	"cmp"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"iter"
	"log/slog"
	"os"
	"strings"

	"github.com/qwenrun/qwenrun/envconfig"
	"github.com/qwenrun/qwenrun/fs"
	"github.com/qwenrun/qwenrun/internal/orderedmap"
)

const (
	typeUint8 uint32 = iota
	typeInt8
	typeUint16
	typeInt16
	typeUint32
	typeInt32
	typeFloat32
	typeBool
	typeString
	typeArray
	typeUint64
	typeInt64
	typeFloat64
)

const (
	magic = "GGUF"

	defaultAlignment = 32

	// upper bounds on header sizes so a corrupt count fails fast instead
	// of exhausting memory
	maxStringLength = 1 << 30
	maxArrayLength  = 1 << 28
)

var ErrUnsupported = errors.New("unsupported")

// File is an open GGUF model file. Metadata and the tensor directory are
// parsed eagerly by Open; tensor data is read on demand from a read-only
// mapping of the file.
type File struct {
	Magic   [4]byte
	Version uint32

	keyValues *orderedmap.Map[string, KeyValue]
	tensors   *orderedmap.Map[string, TensorInfo]

	// offset is the start of the tensor data section
	offset int64

	file   *os.File
	mapped []byte
}

var _ fs.TensorSource = (*File)(nil)

func Open(path string) (*File, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	f, err := open(file)
	if err != nil {
		file.Close()
		return nil, err
	}

	slog.Debug("opened gguf", "path", path, "version", f.Version, "key_values", f.keyValues.Len(), "tensors", f.tensors.Len(), "mmap", f.mapped != nil)
	return f, nil
}

func open(file *os.File) (*File, error) {
	f := &File{file: file}
	r := newReader(f.file, 32<<10)
	if err := binary.Read(r, binary.LittleEndian, &f.Magic); err != nil {
		return nil, err
	}

	if string(f.Magic[:]) != magic {
		return nil, fmt.Errorf("%w file type %q", ErrUnsupported, f.Magic[:])
	}

	if err := binary.Read(r, binary.LittleEndian, &f.Version); err != nil {
		return nil, err
	}

	if f.Version < 2 || f.Version > 3 {
		return nil, fmt.Errorf("%w version %v", ErrUnsupported, f.Version)
	}

	var numTensors, numKeyValues uint64
	if err := binary.Read(r, binary.LittleEndian, &numTensors); err != nil {
		return nil, err
	}

	if err := binary.Read(r, binary.LittleEndian, &numKeyValues); err != nil {
		return nil, err
	}

	if numTensors > maxArrayLength || numKeyValues > maxArrayLength {
		return nil, fmt.Errorf("gguf: implausible header: %d tensors, %d key values", numTensors, numKeyValues)
	}

	f.keyValues = orderedmap.New[string, KeyValue](int(numKeyValues))
	for range numKeyValues {
		kv, err := readKeyValue(r)
		if err != nil {
			return nil, fmt.Errorf("gguf: reading key value: %w", err)
		}
		f.keyValues.Set(kv.Key, kv)
	}

	f.tensors = orderedmap.New[string, TensorInfo](int(numTensors))
	for range numTensors {
		ti, err := readTensorInfo(r)
		if err != nil {
			return nil, fmt.Errorf("gguf: reading tensor info: %w", err)
		}
		f.tensors.Set(ti.Name, ti)
	}

	alignment := cmp.Or(f.KeyValue("general.alignment").Int(), int64(f.KeyValue("general.alignment").Uint()), defaultAlignment)
	f.offset = r.offset + padding(r.offset, alignment)

	stat, err := f.file.Stat()
	if err != nil {
		return nil, err
	}

	for _, ti := range f.tensors.All() {
		if end := f.offset + int64(ti.Offset) + ti.NumBytes(); end > stat.Size() {
			return nil, fmt.Errorf("gguf: tensor %q ends at %d, beyond end of file at %d", ti.Name, end, stat.Size())
		}
	}

	if !envconfig.NoMmap() {
		f.mapped, err = mmap(f.file, stat.Size())
		if err != nil {
			slog.Warn("mmap failed, reading tensors from file", "error", err)
			f.mapped = nil
		}
	}

	return f, nil
}

func (f *File) Close() error {
	var err error
	if f.mapped != nil {
		err = munmap(f.mapped)
		f.mapped = nil
	}
	return errors.Join(err, f.file.Close())
}

func padding(offset, align int64) int64 {
	return (align - offset%align) % align
}

// KeyValue looks up a metadata entry. Keys outside the general and
// tokenizer namespaces are prefixed with the architecture name.
func (f *File) KeyValue(key string) KeyValue {
	if !strings.HasPrefix(key, "general.") && !strings.HasPrefix(key, "tokenizer.") {
		arch, _ := f.keyValues.Get("general.architecture")
		key = arch.String() + "." + key
	}

	kv, _ := f.keyValues.Get(key)
	return kv
}

func (f *File) NumKeyValues() int {
	return f.keyValues.Len()
}

func (f *File) KeyValues() iter.Seq2[int, KeyValue] {
	return func(yield func(int, KeyValue) bool) {
		var i int
		for _, kv := range f.keyValues.All() {
			if !yield(i, kv) {
				return
			}
			i++
		}
	}
}

func (f *File) TensorInfo(name string) TensorInfo {
	ti, _ := f.tensors.Get(name)
	return ti
}

func (f *File) NumTensors() int {
	return f.tensors.Len()
}

func (f *File) TensorInfos() iter.Seq2[int, TensorInfo] {
	return func(yield func(int, TensorInfo) bool) {
		var i int
		for _, ti := range f.tensors.All() {
			if !yield(i, ti) {
				return
			}
			i++
		}
	}
}

// Config returns the file metadata as an fs.Config.
func (f *File) Config() fs.Config {
	return kv{f}
}

// TensorReader returns a reader over the raw bytes of the named tensor.
func (f *File) TensorReader(name string) (TensorInfo, io.Reader, error) {
	ti, ok := f.tensors.Get(name)
	if !ok {
		return TensorInfo{}, nil, fmt.Errorf("%w: %q", fs.ErrTensorNotFound, name)
	}

	return ti, io.NewSectionReader(f.file, f.offset+int64(ti.Offset), ti.NumBytes()), nil
}

func (f *File) tensorBytes(ti TensorInfo) ([]byte, error) {
	start := f.offset + int64(ti.Offset)
	if f.mapped != nil {
		return f.mapped[start : start+ti.NumBytes()], nil
	}

	bts := make([]byte, ti.NumBytes())
	if _, err := f.file.ReadAt(bts, start); err != nil {
		return nil, err
	}
	return bts, nil
}

// Tensor decodes the named tensor to float32.
func (f *File) Tensor(name string) ([]float32, error) {
	ti, ok := f.tensors.Get(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", fs.ErrTensorNotFound, name)
	}

	bts, err := f.tensorBytes(ti)
	if err != nil {
		return nil, fmt.Errorf("gguf: reading %q: %w", name, err)
	}

	values, err := Dequantize(ti.Type, bts, int(ti.NumValues()))
	if err != nil {
		return nil, fmt.Errorf("gguf: decoding %q: %w", name, err)
	}
	return values, nil
}

func (f *File) Shape(name string) ([]uint64, bool) {
	ti, ok := f.tensors.Get(name)
	return ti.Shape, ok
}

func (f *File) TensorNames() []string {
	names := make([]string, 0, f.tensors.Len())
	for name := range f.tensors.Keys() {
		names = append(names, name)
	}
	return names
}
