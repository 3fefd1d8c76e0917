package gguf

import (
	"fmt"
)

type TensorType uint32

const (
	TensorTypeF32 TensorType = iota
	TensorTypeF16
	TensorTypeQ4_0
	TensorTypeQ4_1
	tensorTypeQ4_2 // unused by GGML
	tensorTypeQ4_3 // unused by GGML
	TensorTypeQ5_0
	TensorTypeQ5_1
	TensorTypeQ8_0
	TensorTypeQ8_1
	TensorTypeQ2_K
	TensorTypeQ3_K
	TensorTypeQ4_K
	TensorTypeQ5_K
	TensorTypeQ6_K
	TensorTypeQ8_K
)

const TensorTypeBF16 TensorType = 30

func (tt TensorType) String() string {
	switch tt {
	case TensorTypeF32:
		return "F32"
	case TensorTypeF16:
		return "F16"
	case TensorTypeQ4_0:
		return "Q4_0"
	case TensorTypeQ4_1:
		return "Q4_1"
	case TensorTypeQ5_0:
		return "Q5_0"
	case TensorTypeQ5_1:
		return "Q5_1"
	case TensorTypeQ8_0:
		return "Q8_0"
	case TensorTypeQ8_1:
		return "Q8_1"
	case TensorTypeQ2_K:
		return "Q2_K"
	case TensorTypeQ3_K:
		return "Q3_K"
	case TensorTypeQ4_K:
		return "Q4_K"
	case TensorTypeQ5_K:
		return "Q5_K"
	case TensorTypeQ6_K:
		return "Q6_K"
	case TensorTypeQ8_K:
		return "Q8_K"
	case TensorTypeBF16:
		return "BF16"
	default:
		return fmt.Sprintf("unknown(%d)", uint32(tt))
	}
}

// BlockSize is the number of values that share one quantization block.
func (tt TensorType) BlockSize() int64 {
	switch tt {
	case TensorTypeF32, TensorTypeF16, TensorTypeBF16:
		return 1
	case TensorTypeQ4_0, TensorTypeQ4_1, TensorTypeQ5_0, TensorTypeQ5_1, TensorTypeQ8_0, TensorTypeQ8_1:
		return 32
	case TensorTypeQ2_K, TensorTypeQ3_K, TensorTypeQ4_K, TensorTypeQ5_K, TensorTypeQ6_K, TensorTypeQ8_K:
		return 256
	default:
		return 0
	}
}

// TypeSize is the number of bytes in one block.
func (tt TensorType) TypeSize() int64 {
	switch tt {
	case TensorTypeF32:
		return 4
	case TensorTypeF16, TensorTypeBF16:
		return 2
	case TensorTypeQ4_0:
		return 2 + 16
	case TensorTypeQ4_1:
		return 2 + 2 + 16
	case TensorTypeQ5_0:
		return 2 + 4 + 16
	case TensorTypeQ5_1:
		return 2 + 2 + 4 + 16
	case TensorTypeQ8_0:
		return 2 + 32
	case TensorTypeQ8_1:
		return 2 + 2 + 32
	case TensorTypeQ2_K:
		return 256/16 + 256/4 + 2 + 2
	case TensorTypeQ3_K:
		return 256/8 + 256/4 + 12 + 2
	case TensorTypeQ4_K:
		return 2 + 2 + 12 + 256/2
	case TensorTypeQ5_K:
		return 2 + 2 + 12 + 256/8 + 256/2
	case TensorTypeQ6_K:
		return 256/2 + 256/4 + 256/16 + 2
	case TensorTypeQ8_K:
		return 4 + 256 + 2*256/16
	default:
		return 0
	}
}

type TensorInfo struct {
	Name   string
	Offset uint64
	Shape  []uint64
	Type   TensorType
}

func (ti TensorInfo) Valid() bool {
	return ti.Name != "" && ti.Type.BlockSize() > 0 && len(ti.Shape) > 0
}

func (ti TensorInfo) NumValues() int64 {
	var numItems int64 = 1
	for _, dim := range ti.Shape {
		numItems *= int64(dim)
	}
	return numItems
}

// NumBytes returns the number of bytes the tensor occupies in the data section.
func (ti TensorInfo) NumBytes() int64 {
	if ti.Type.BlockSize() == 0 {
		return 0
	}
	return ti.NumValues() * ti.Type.TypeSize() / ti.Type.BlockSize()
}
