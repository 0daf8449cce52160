package layers

import (
	"gonum.org/v1/gonum/blas"
	"gonum.org/v1/gonum/blas/blas32"
)

// matrix views data as a dense row-major rows×cols matrix.
func matrix(rows, cols int, data []float32) blas32.General {
	return blas32.General{Rows: rows, Cols: cols, Stride: cols, Data: data[:rows*cols]}
}

// mul computes c = op(a)·op(b) + beta·c, where op transposes when the
// matching flag is set.
func mul(transA, transB bool, a, b blas32.General, beta float32, c blas32.General) {
	blas32.Gemm(transpose(transA), transpose(transB), 1, a, b, beta, c)
}

func transpose(t bool) blas.Transpose {
	if t {
		return blas.Trans
	}
	return blas.NoTrans
}
