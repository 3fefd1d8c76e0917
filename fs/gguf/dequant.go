package gguf

import (
	"encoding/binary"
	"fmt"
	"math"
	"runtime"

	bfloat16 "github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"
	"golang.org/x/sync/errgroup"
)

// blocks decoded by one worker
const dequantizeChunk = 4096

type blockDecoder func(block []byte, out []float32)

var decoders = map[TensorType]blockDecoder{
	TensorTypeF32:  decodeF32,
	TensorTypeF16:  decodeF16,
	TensorTypeBF16: decodeBF16,
	TensorTypeQ4_0: decodeQ4_0,
	TensorTypeQ8_0: decodeQ8_0,
	TensorTypeQ4_K: decodeQ4_K,
	TensorTypeQ6_K: decodeQ6_K,
}

// Dequantize decodes n values of type t from data.
func Dequantize(t TensorType, data []byte, n int) ([]float32, error) {
	decode, ok := decoders[t]
	if !ok {
		return nil, fmt.Errorf("%w tensor type %s", ErrUnsupported, t)
	}

	blockSize, typeSize := int(t.BlockSize()), int(t.TypeSize())
	if n%blockSize != 0 {
		return nil, fmt.Errorf("%d values is not a multiple of the %s block size %d", n, t, blockSize)
	}

	numBlocks := n / blockSize
	if need := numBlocks * typeSize; len(data) < need {
		return nil, fmt.Errorf("%s data is %d bytes, need %d", t, len(data), need)
	}

	out := make([]float32, n)
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for start := 0; start < numBlocks; start += dequantizeChunk {
		end := min(start+dequantizeChunk, numBlocks)
		g.Go(func() error {
			if blockSize == 1 {
				decode(data[start*typeSize:end*typeSize], out[start:end])
				return nil
			}

			for b := start; b < end; b++ {
				decode(data[b*typeSize:(b+1)*typeSize], out[b*blockSize:(b+1)*blockSize])
			}
			return nil
		})
	}

	return out, g.Wait()
}

func decodeF32(data []byte, out []float32) {
	for i := range out {
		out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
}

// Unquantized decoders receive a run of values rather than a single one.

func decodeF16(data []byte, out []float32) {
	for i := range out {
		out[i] = half(data[i*2:])
	}
}

func decodeBF16(data []byte, out []float32) {
	copy(out, bfloat16.DecodeFloat32(data))
}

func half(b []byte) float32 {
	return float16.Frombits(binary.LittleEndian.Uint16(b)).Float32()
}

// decodeQ4_0 decodes 32 values: fp16 scale, then 16 bytes whose low nibbles
// hold values 0..15 and high nibbles values 16..31, offset by 8.
func decodeQ4_0(block []byte, out []float32) {
	d := half(block)
	qs := block[2:18]
	for i, q := range qs {
		out[i] = float32(int(q&0x0f)-8) * d
		out[i+16] = float32(int(q>>4)-8) * d
	}
}

// decodeQ8_0 decodes 32 values: fp16 scale, then 32 signed bytes.
func decodeQ8_0(block []byte, out []float32) {
	d := half(block)
	for i, q := range block[2:34] {
		out[i] = float32(int8(q)) * d
	}
}

func scaleMinK4(j int, scales []byte) (sc, m uint8) {
	if j < 4 {
		return scales[j] & 63, scales[j+4] & 63
	}
	sc = (scales[j+4] & 0x0f) | ((scales[j-4] >> 6) << 4)
	m = (scales[j+4] >> 4) | ((scales[j] >> 6) << 4)
	return sc, m
}

// decodeQ4_K decodes a 256 value super-block: fp16 d and dmin, 12 bytes of
// packed 6-bit scales and mins for eight sub-blocks, then 128 bytes of nibbles.
func decodeQ4_K(block []byte, out []float32) {
	d, dmin := half(block[0:]), half(block[2:])
	scales, qs := block[4:16], block[16:144]

	for j := 0; j < 4; j++ {
		sc0, m0 := scaleMinK4(2*j, scales)
		sc1, m1 := scaleMinK4(2*j+1, scales)
		d0, min0 := d*float32(sc0), dmin*float32(m0)
		d1, min1 := d*float32(sc1), dmin*float32(m1)

		q := qs[32*j : 32*(j+1)]
		y := out[64*j : 64*(j+1)]
		for l := range 32 {
			y[l] = d0*float32(q[l]&0x0f) - min0
			y[l+32] = d1*float32(q[l]>>4) - min1
		}
	}
}

// decodeQ6_K decodes a 256 value super-block: 128 bytes of low nibbles,
// 64 bytes of high bit pairs, 16 signed sub-block scales, then fp16 d.
func decodeQ6_K(block []byte, out []float32) {
	d := half(block[208:])
	for n := range 2 {
		ql := block[64*n:]
		qh := block[128+32*n:]
		sc := block[192+8*n:]
		y := out[128*n:]
		for l := range 32 {
			is := l / 16
			q1 := int(ql[l]&0x0f|(qh[l]>>0&3)<<4) - 32
			q2 := int(ql[l+32]&0x0f|(qh[l]>>2&3)<<4) - 32
			q3 := int(ql[l]>>4|(qh[l]>>4&3)<<4) - 32
			q4 := int(ql[l+32]>>4|(qh[l]>>6&3)<<4) - 32

			y[l] = d * float32(int8(sc[is])) * float32(q1)
			y[l+32] = d * float32(int8(sc[is+2])) * float32(q2)
			y[l+64] = d * float32(int8(sc[is+4])) * float32(q3)
			y[l+96] = d * float32(int8(sc[is+6])) * float32(q4)
		}
	}
}
