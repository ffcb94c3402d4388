package gputest

import (
	"github.com/orchard-ml/orchard/internal/backend/cpu"
	"github.com/orchard-ml/orchard/internal/gpu"
)

type kernel func(bufs [][]float32, p *gpu.Params)

func ints(src []uint32) []int {
	out := make([]int, len(src))
	for i, v := range src {
		out[i] = int(v)
	}
	return out
}

func operandA(data []float32, p *gpu.Params) cpu.Operand {
	return cpu.Operand{Data: data, Strides: ints(p.StrideA[:p.Rank]), Offset: int(p.OffA)}
}

func operandB(data []float32, p *gpu.Params) cpu.Operand {
	return cpu.Operand{Data: data, Strides: ints(p.StrideB[:p.Rank]), Offset: int(p.OffB)}
}

func binary(op cpu.BinaryOp) kernel {
	return func(bufs [][]float32, p *gpu.Params) {
		shape := ints(p.Shape[:p.Rank])
		cpu.Binary(op, bufs[2], shape, operandA(bufs[0], p), operandB(bufs[1], p), p.Mode != 0)
	}
}

var kernels = map[string]kernel{
	gpu.KernelAdd: binary(cpu.OpAdd),
	gpu.KernelMul: binary(cpu.OpMul),
	gpu.KernelDiv: binary(cpu.OpDiv),
	gpu.KernelDivScalar: func(bufs [][]float32, p *gpu.Params) {
		cpu.DivScalar(bufs[1], ints(p.Shape[:p.Rank]), operandA(bufs[0], p), p.Scalar, p.Mode != 0)
	},
	gpu.KernelDivScalarInPlace: func(bufs [][]float32, p *gpu.Params) {
		cpu.DivScalarInPlace(ints(p.Shape[:p.Rank]), operandA(bufs[0], p), p.Scalar, p.Mode != 0)
	},
	gpu.KernelFill: func(bufs [][]float32, p *gpu.Params) {
		cpu.Fill(ints(p.Shape[:p.Rank]), operandA(bufs[0], p), p.Scalar)
	},
	gpu.KernelCopyStrided: func(bufs [][]float32, p *gpu.Params) {
		cpu.Gather(bufs[1], ints(p.Shape[:p.Rank]), operandA(bufs[0], p))
	},
	gpu.KernelMatMul: func(bufs [][]float32, p *gpu.Params) {
		a := cpu.Operand{Data: bufs[0], Strides: ints(p.StrideA[:2]), Offset: int(p.OffA)}
		b := cpu.Operand{Data: bufs[1], Strides: ints(p.StrideB[:2]), Offset: int(p.OffB)}
		cpu.MatMul(bufs[2], int(p.Shape[0]), int(p.Extent), int(p.Shape[1]), a, b)
	},
	gpu.KernelSum: func(bufs [][]float32, p *gpu.Params) {
		bufs[1][0] = cpu.Sum(ints(p.Shape[:p.Rank]), operandA(bufs[0], p))
	},
	gpu.KernelMean: func(bufs [][]float32, p *gpu.Params) {
		bufs[1][0] = cpu.Mean(ints(p.Shape[:p.Rank]), operandA(bufs[0], p))
	},
	gpu.KernelSumAxis: func(bufs [][]float32, p *gpu.Params) {
		cpu.SumAxis(bufs[1], ints(p.Shape[:p.Rank]), int(p.Axis), operandA(bufs[0], p))
	},
	gpu.KernelMeanAxis: func(bufs [][]float32, p *gpu.Params) {
		cpu.MeanAxis(bufs[1], ints(p.Shape[:p.Rank]), int(p.Axis), operandA(bufs[0], p))
	},
	gpu.KernelReduceTo: func(bufs [][]float32, p *gpu.Params) {
		cpu.ReduceTo(bufs[1], ints(p.Shape[:p.Rank]), ints(p.Aux[:p.Rank]), operandA(bufs[0], p))
	},
}
