package tensor

import (
	"math"
	"testing"
)

func gemmNaive(C, A, B *Mat) {
	for i := 0; i < A.R; i++ {
		for j := 0; j < B.C; j++ {
			var sum float32
			for kk := 0; kk < A.C; kk++ {
				sum += A.Row(i)[kk] * B.Row(kk)[j]
			}
			C.Row(i)[j] = sum
		}
	}
}

func transposed(m *Mat) Mat {
	out := NewMat(m.C, m.R)
	for i := 0; i < m.R; i++ {
		for j := 0; j < m.C; j++ {
			out.Row(j)[i] = m.Row(i)[j]
		}
	}
	return out
}

func maxAbsDiff(a, b []float32) float64 {
	var maxAbs float64
	for i := range a {
		d := math.Abs(float64(a[i] - b[i]))
		if d > maxAbs {
			maxAbs = d
		}
	}
	return maxAbs
}

func TestGemmMatchesNaive(t *testing.T) {
	A := NewMat(50, 70)
	B := NewMat(70, 45)
	C0 := NewMat(50, 45)

	FillRand(&A, 1)
	FillRand(&B, 2)

	gemmNaive(&C0, &A, &B)
	C1 := NewMat(50, 45)
	Gemm(NoTrans, NoTrans, 1, &A, &B, 0, &C1)

	if maxAbs := maxAbsDiff(C0.Data, C1.Data); maxAbs > 1e-6 {
		t.Fatalf("max abs diff %g", maxAbs)
	}
}

func TestGemmTransposedOperands(t *testing.T) {
	A := NewMat(7, 5)
	B := NewMat(5, 3)
	FillRand(&A, 3)
	FillRand(&B, 4)

	want := NewMat(7, 3)
	gemmNaive(&want, &A, &B)

	At := transposed(&A)
	Bt := transposed(&B)
	got := NewMat(7, 3)
	Gemm(Trans, Trans, 1, &At, &Bt, 0, &got)
	if maxAbs := maxAbsDiff(want.Data, got.Data); maxAbs > 1e-6 {
		t.Fatalf("A^T B^T mismatch: max abs diff %g", maxAbs)
	}
}

func TestGemmAccumulatesWithBeta(t *testing.T) {
	A := NewMatFromData(1, 2, []float32{1, 2})
	B := NewMatFromData(2, 1, []float32{3, 4})
	C := NewMatFromData(1, 1, []float32{10})
	Gemm(NoTrans, NoTrans, 1, &A, &B, 1, &C)
	if C.Data[0] != 21 {
		t.Fatalf("expected 21, got %v", C.Data[0])
	}
}

func TestGemmGeneralColumnBand(t *testing.T) {
	// Two 2x2 blocks side by side in a 2x4 matrix; multiply only the right block.
	wide := NewMatFromData(2, 4, []float32{
		1, 2, 5, 6,
		3, 4, 7, 8,
	})
	id := NewMatFromData(2, 2, []float32{1, 0, 0, 1})
	out := NewMat(3, 4)
	GemmGeneral(NoTrans, NoTrans, 1, wide.Band(0, 2, 2, 2), id.Band(0, 2, 0, 2), 0, out.Band(1, 2, 1, 2))
	want := []float32{
		0, 0, 0, 0,
		0, 5, 6, 0,
		0, 7, 8, 0,
	}
	for i := range want {
		if out.Data[i] != want[i] {
			t.Fatalf("band[%d]: got %v want %v", i, out.Data[i], want[i])
		}
	}
	defer func() {
		if recover() == nil {
			t.Fatal("expected panic for a band past the last column")
		}
	}()
	wide.Band(0, 2, 3, 2)
}

func TestSoftmaxSumsToOne(t *testing.T) {
	x := []float32{1000, 1001, 999}
	Softmax(x)
	var sum float32
	for _, v := range x {
		if !IsFinite(v) {
			t.Fatalf("non-finite softmax output %v", x)
		}
		sum += v
	}
	if math.Abs(float64(sum-1)) > 1e-5 {
		t.Fatalf("softmax sum %v", sum)
	}
}

func TestLogSumExpStable(t *testing.T) {
	got := LogSumExp([]float32{1000, 1000})
	want := 1000 + math.Log(2)
	if math.Abs(got-want) > 1e-6 {
		t.Fatalf("got %v want %v", got, want)
	}
}

func TestGELUGradMatchesFiniteDifference(t *testing.T) {
	for _, x := range []float32{-3, -0.5, 0, 0.7, 2.5} {
		const h = 1e-3
		fd := (float64(GELU(x+h)) - float64(GELU(x-h))) / (2 * h)
		if math.Abs(fd-float64(GELUGrad(x))) > 1e-3 {
			t.Fatalf("x=%v: finite diff %v, analytic %v", x, fd, GELUGrad(x))
		}
	}
}
