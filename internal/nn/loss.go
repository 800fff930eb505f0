package nn

import (
	"fmt"
	"math"

	"github.com/samcharles93/chatlm/internal/tensor"
)

// CrossEntropy returns the mean negative log-likelihood of targets under the
// row-wise softmax of logits, as a 1x1 value.
//
//	L = -(1/N) * sum_r log(softmax(logits[r])[targets[r]])
//
// The log-softmax is computed with log-sum-exp so large logits do not overflow.
func CrossEntropy(t *Tape, logits *Var, targets []int) (*Var, error) {
	n, vocab := logits.Value.R, logits.Value.C
	if len(targets) != n {
		return nil, fmt.Errorf("cross entropy: %d targets for %d rows", len(targets), n)
	}
	lse := make([]float64, n)
	var total float64
	for r := 0; r < n; r++ {
		tgt := targets[r]
		if tgt < 0 || tgt >= vocab {
			return nil, fmt.Errorf("cross entropy: target %d at row %d out of range [0, %d)", tgt, r, vocab)
		}
		row := logits.Value.Row(r)
		lse[r] = tensor.LogSumExp(row)
		total += lse[r] - float64(row[tgt])
	}
	loss := NewVar(tensor.NewMat(1, 1))
	loss.Value.Data[0] = float32(total / float64(n))

	t.record(func() {
		if loss.Grad == nil {
			return
		}
		g := loss.Grad[0] / float32(n)
		dLogits := logits.gradMat()
		for r := 0; r < n; r++ {
			row := logits.Value.Row(r)
			dRow := dLogits.Row(r)
			for v := range row {
				dRow[v] += g * float32(math.Exp(float64(row[v])-lse[r]))
			}
			dRow[targets[r]] -= g
		}
	})
	return loss, nil
}
