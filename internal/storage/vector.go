package storage

import (
	"encoding/binary"
	"math"
)

// EncodeVector converts a float32 slice to the little endian byte format
// expected by sqlite-vec.
func EncodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:(i+1)*4], math.Float32bits(v))
	}
	return buf
}

// DecodeVector is the inverse of EncodeVector. Trailing bytes are ignored.
func DecodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4 : (i+1)*4]))
	}
	return vec
}
