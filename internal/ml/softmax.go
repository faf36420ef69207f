package ml

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Softmax converts one row of logits into a probability distribution. The
// maximum logit is subtracted first so large scores do not overflow.
func Softmax(logits []float64) []float64 {
	if len(logits) == 0 {
		return nil
	}
	out := make([]float64, len(logits))
	peak := floats.Max(logits)
	for i, v := range logits {
		out[i] = math.Exp(v - peak)
	}
	floats.Scale(1/floats.Sum(out), out)
	return out
}

// SoftmaxRows applies Softmax to every row.
func SoftmaxRows(logits [][]float64) [][]float64 {
	out := make([][]float64, len(logits))
	for i, row := range logits {
		out[i] = Softmax(row)
	}
	return out
}

// Argmax returns the index of the largest entry, the lowest index on ties.
func Argmax(row []float64) int {
	if len(row) == 0 {
		return -1
	}
	return floats.MaxIdx(row)
}

// ArgmaxRows applies Argmax to every row.
func ArgmaxRows(rows [][]float64) []int {
	out := make([]int, len(rows))
	for i, row := range rows {
		out[i] = Argmax(row)
	}
	return out
}

// CheckLogits verifies a logits matrix has rows x classes entries.
func CheckLogits(logits [][]float64, rows, classes int) error {
	if len(logits) != rows {
		return fmt.Errorf("expected %d logit rows, got %d", rows, len(logits))
	}
	for i, row := range logits {
		if len(row) != classes {
			return fmt.Errorf("logit row %d has %d classes, expected %d", i, len(row), classes)
		}
	}
	return nil
}
