package tensor

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// Transpose selects whether a Gemm operand is used as stored or transposed.
type Transpose bool

const (
	NoTrans Transpose = false
	Trans   Transpose = true
)

func (t Transpose) blas() blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}

// Band returns rows [r0, r0+rows) and columns [c0, c0+cols) of m as a strided
// BLAS view sharing m's storage, eg one attention head of a fused QKV matrix.
func (m *Mat) Band(r0, rows, c0, cols int) blas32.General {
	if r0 < 0 || c0 < 0 || r0+rows > m.R || c0+cols > m.C {
		panic("band out of range")
	}
	return blas32.General{Rows: rows, Cols: cols, Stride: m.Stride, Data: m.Data[r0*m.Stride+c0:]}
}

func (m *Mat) general() blas32.General {
	return blas32.General{Rows: m.R, Cols: m.C, Stride: m.Stride, Data: m.Data}
}

// Gemm computes C = alpha*op(A)*op(B) + beta*C using gonum's float32 BLAS.
// Shapes are checked by the BLAS implementation, which panics on mismatch.
func Gemm(tA, tB Transpose, alpha float32, A, B *Mat, beta float32, C *Mat) {
	blas32.Gemm(tA.blas(), tB.blas(), alpha, A.general(), B.general(), beta, C.general())
}

// GemmGeneral is Gemm over explicit strided views.
func GemmGeneral(tA, tB Transpose, alpha float32, a, b blas32.General, beta float32, c blas32.General) {
	blas32.Gemm(tA.blas(), tB.blas(), alpha, a, b, beta, c)
}
