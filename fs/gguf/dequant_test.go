package gguf

import (
	"encoding/binary"
	"testing"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/x448/float16"
)

func putHalf(b []byte, f float32) {
	binary.LittleEndian.PutUint16(b, float16.Fromfloat32(f).Bits())
}

func TestDequantizeQ4_0(t *testing.T) {
	block := make([]byte, TensorTypeQ4_0.TypeSize())
	putHalf(block, 0.5)
	for i := range 16 {
		block[2+i] = byte(i) | byte(15-i)<<4
	}

	got, err := Dequantize(TensorTypeQ4_0, block, 32)
	require.NoError(t, err)

	want := make([]float32, 32)
	for i := range 16 {
		want[i] = float32(i-8) * 0.5
		want[i+16] = float32(7-i) * 0.5
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Q4_0 mismatch (-want +got):\n%s", diff)
	}
}

func TestDequantizeQ8_0(t *testing.T) {
	// two blocks with different scales
	data := make([]byte, 2*TensorTypeQ8_0.TypeSize())
	putHalf(data[0:], 0.25)
	putHalf(data[34:], -2)
	for i := range 32 {
		data[2+i] = byte(int8(i - 16))
		data[36+i] = byte(int8(i))
	}

	got, err := Dequantize(TensorTypeQ8_0, data, 64)
	require.NoError(t, err)

	want := make([]float32, 64)
	for i := range 32 {
		want[i] = float32(i-16) * 0.25
		want[32+i] = float32(i) * -2
	}

	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("Q8_0 mismatch (-want +got):\n%s", diff)
	}
}

func TestDequantizeQ4_K(t *testing.T) {
	block := make([]byte, TensorTypeQ4_K.TypeSize())
	putHalf(block[0:], 1)
	putHalf(block[2:], 0)
	scales := block[4:16]
	for j := range 4 {
		scales[j] = 1
		scales[j+8] = 1
	}
	for i := range 128 {
		block[16+i] = 0x21
	}

	got, err := Dequantize(TensorTypeQ4_K, block, 256)
	require.NoError(t, err)

	for i, v := range got {
		want := float32(1)
		if i%64 >= 32 {
			want = 2
		}
		if v != want {
			t.Fatalf("value %d = %v, want %v", i, v, want)
		}
	}
}

func TestDequantizeQ6_K(t *testing.T) {
	block := make([]byte, TensorTypeQ6_K.TypeSize())
	for i := range 128 {
		block[i] = 0x21
	}
	for i := range 16 {
		block[192+i] = 1
	}
	putHalf(block[208:], 1)

	got, err := Dequantize(TensorTypeQ6_K, block, 256)
	require.NoError(t, err)

	for i, v := range got {
		want := float32(-31)
		if i%128 >= 64 {
			want = -30
		}
		if v != want {
			t.Fatalf("value %d = %v, want %v", i, v, want)
		}
	}
}

func TestDequantizeF16(t *testing.T) {
	values := []float32{1, -0.5, 2048, 0}
	data := make([]byte, 2*len(values))
	for i, v := range values {
		putHalf(data[i*2:], v)
	}

	got, err := Dequantize(TensorTypeF16, data, len(values))
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestDequantizeBF16(t *testing.T) {
	values := []float32{1, -2, 0.5, 3}
	got, err := Dequantize(TensorTypeBF16, bfloat16.EncodeFloat32(values), len(values))
	require.NoError(t, err)
	assert.Equal(t, values, got)
}

func TestDequantizeManyChunks(t *testing.T) {
	n := 3*dequantizeChunk + 5
	data := make([]byte, 2*n)
	for i := range n {
		putHalf(data[i*2:], float32(i%7))
	}

	got, err := Dequantize(TensorTypeF16, data, n)
	require.NoError(t, err)
	for i, v := range got {
		if v != float32(i%7) {
			t.Fatalf("value %d = %v, want %v", i, v, float32(i%7))
		}
	}
}

func TestDequantizeErrors(t *testing.T) {
	_, err := Dequantize(TensorTypeQ5_K, make([]byte, TensorTypeQ5_K.TypeSize()), 256)
	assert.ErrorIs(t, err, ErrUnsupported)

	_, err = Dequantize(TensorTypeQ8_0, make([]byte, 34), 31)
	assert.Error(t, err)

	_, err = Dequantize(TensorTypeQ8_0, make([]byte, 33), 32)
	assert.Error(t, err)
}

func TestTensorInfoNumBytes(t *testing.T) {
	cases := []struct {
		ti   TensorInfo
		want int64
	}{
		{TensorInfo{Name: "a", Type: TensorTypeF32, Shape: []uint64{8, 4}}, 128},
		{TensorInfo{Name: "b", Type: TensorTypeF16, Shape: []uint64{8, 4}}, 64},
		{TensorInfo{Name: "c", Type: TensorTypeQ8_0, Shape: []uint64{64, 2}}, 4 * 34},
		{TensorInfo{Name: "d", Type: TensorTypeQ4_0, Shape: []uint64{32}}, 18},
		{TensorInfo{Name: "e", Type: TensorTypeQ4_K, Shape: []uint64{256, 3}}, 3 * 144},
		{TensorInfo{Name: "f", Type: TensorTypeQ6_K, Shape: []uint64{512}}, 2 * 210},
	}

	for _, tt := range cases {
		t.Run(tt.ti.Type.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, tt.ti.NumBytes())
			assert.True(t, tt.ti.Valid())
		})
	}
}
