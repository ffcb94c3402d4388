package gpu

import (
	"encoding/binary"
	"math"
)

// MaxRank matches the maximum tensor rank.
const MaxRank = 8

// ParamsSize is the byte size of the packed uniform block.
const ParamsSize = 160

// Params is the uniform block shared by every kernel. Field meaning is
// kernel specific; see the WGSL Params struct in shaders.go.
type Params struct {
	N      uint32
	Rank   uint32
	Mode   uint32
	Axis   uint32
	OffA   uint32
	OffB   uint32
	Extent uint32
	Scalar float32

	Shape   [MaxRank]uint32
	StrideA [MaxRank]uint32
	StrideB [MaxRank]uint32
	Aux     [MaxRank]uint32
}

// Bytes packs p in the std140-compatible layout the kernels declare.
func (p *Params) Bytes() []byte {
	buf := make([]byte, ParamsSize)
	le := binary.LittleEndian
	le.PutUint32(buf[0:], p.N)
	le.PutUint32(buf[4:], p.Rank)
	le.PutUint32(buf[8:], p.Mode)
	le.PutUint32(buf[12:], p.Axis)
	le.PutUint32(buf[16:], p.OffA)
	le.PutUint32(buf[20:], p.OffB)
	le.PutUint32(buf[24:], p.Extent)
	le.PutUint32(buf[28:], math.Float32bits(p.Scalar))

	off := 32
	for _, arr := range [][MaxRank]uint32{p.Shape, p.StrideA, p.StrideB, p.Aux} {
		for _, v := range arr {
			le.PutUint32(buf[off:], v)
			off += 4
		}
	}
	return buf
}

// SetInts copies dims into dst, converting to uint32.
func SetInts(dst *[MaxRank]uint32, dims []int) {
	for i := range dst {
		dst[i] = 0
	}
	for i, d := range dims {
		dst[i] = uint32(d) //nolint:gosec // dims are validated non-negative tensor extents
	}
}
