package gguf

import (
	"encoding/binary"
	"fmt"
	"io"
)

func readTensorInfo(r *reader) (TensorInfo, error) {
	name, err := readString(r)
	if err != nil {
		return TensorInfo{}, err
	}

	dims, err := read[uint32](r)
	if err != nil {
		return TensorInfo{}, err
	}

	if dims == 0 || dims > 4 {
		return TensorInfo{}, fmt.Errorf("tensor %q: %w rank %d", name, ErrUnsupported, dims)
	}

	shape := make([]uint64, dims)
	for i := range dims {
		shape[i], err = read[uint64](r)
		if err != nil {
			return TensorInfo{}, err
		}
	}

	kind, err := read[uint32](r)
	if err != nil {
		return TensorInfo{}, err
	}

	offset, err := read[uint64](r)
	if err != nil {
		return TensorInfo{}, err
	}

	ti := TensorInfo{
		Name:   name,
		Offset: offset,
		Shape:  shape,
		Type:   TensorType(kind),
	}

	if ti.Type.BlockSize() == 0 {
		return TensorInfo{}, fmt.Errorf("tensor %q: %w type %d", name, ErrUnsupported, kind)
	}

	if ti.NumValues()%ti.Type.BlockSize() != 0 {
		return TensorInfo{}, fmt.Errorf("tensor %q: %d values is not a multiple of the %s block size", name, ti.NumValues(), ti.Type)
	}

	return ti, nil
}

func readKeyValue(r *reader) (KeyValue, error) {
	key, err := readString(r)
	if err != nil {
		return KeyValue{}, err
	}

	t, err := read[uint32](r)
	if err != nil {
		return KeyValue{}, err
	}

	var v any
	if t == typeArray {
		v, err = readArray(r)
	} else {
		v, err = readScalar(r, t)
	}
	if err != nil {
		return KeyValue{}, fmt.Errorf("key %q: %w", key, err)
	}

	return KeyValue{
		Key:   key,
		Value: Value{v},
	}, nil
}

func readScalar(r *reader, t uint32) (any, error) {
	switch t {
	case typeUint8:
		return read[uint8](r)
	case typeInt8:
		return read[int8](r)
	case typeUint16:
		return read[uint16](r)
	case typeInt16:
		return read[int16](r)
	case typeUint32:
		return read[uint32](r)
	case typeInt32:
		return read[int32](r)
	case typeUint64:
		return read[uint64](r)
	case typeInt64:
		return read[int64](r)
	case typeFloat32:
		return read[float32](r)
	case typeFloat64:
		return read[float64](r)
	case typeBool:
		return read[bool](r)
	case typeString:
		return readString(r)
	default:
		return nil, fmt.Errorf("%w type %d", ErrUnsupported, t)
	}
}

func read[T any](r *reader) (t T, err error) {
	err = binary.Read(r, binary.LittleEndian, &t)
	return t, err
}

func readString(r *reader) (string, error) {
	n, err := read[uint64](r)
	if err != nil {
		return "", err
	}

	if n > maxStringLength {
		return "", fmt.Errorf("string length %d too large", n)
	}

	if int(n) > len(r.bts) {
		r.bts = make([]byte, n)
	}

	bts := r.bts[:n]
	if _, err := io.ReadFull(r, bts); err != nil {
		return "", err
	}

	return string(bts), nil
}

func readArray(r *reader) (any, error) {
	t, err := read[uint32](r)
	if err != nil {
		return nil, err
	}

	n, err := read[uint64](r)
	if err != nil {
		return nil, err
	}

	if n > maxArrayLength {
		return nil, fmt.Errorf("array length %d too large", n)
	}

	switch t {
	case typeUint8:
		return readArrayData[uint8](r, n)
	case typeInt8:
		return readArrayData[int8](r, n)
	case typeUint16:
		return readArrayData[uint16](r, n)
	case typeInt16:
		return readArrayData[int16](r, n)
	case typeUint32:
		return readArrayData[uint32](r, n)
	case typeInt32:
		return readArrayData[int32](r, n)
	case typeUint64:
		return readArrayData[uint64](r, n)
	case typeInt64:
		return readArrayData[int64](r, n)
	case typeFloat32:
		return readArrayData[float32](r, n)
	case typeFloat64:
		return readArrayData[float64](r, n)
	case typeBool:
		return readArrayData[bool](r, n)
	case typeString:
		s := make([]string, n)
		for i := range n {
			if s[i], err = readString(r); err != nil {
				return nil, err
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("%w array type %d", ErrUnsupported, t)
	}
}

// readArrayData reads fixed width elements in one call.
func readArrayData[T any](r *reader, n uint64) ([]T, error) {
	s := make([]T, n)
	if err := binary.Read(r, binary.LittleEndian, s); err != nil {
		return nil, err
	}
	return s, nil
}
