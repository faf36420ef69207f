// Package eval scores predicted labels against ground truth.
package eval

import (
	"fmt"
)

// PositiveLabel is the class treated as positive for the binary
// precision/recall/F1 fields.
const PositiveLabel = 1

// Report holds the classification metrics tracked per iteration.
type Report struct {
	Accuracy       float64 `json:"accuracy"`
	MacroPrecision float64 `json:"macro_precision"`
	MacroRecall    float64 `json:"macro_recall"`
	MacroF1        float64 `json:"macro_f1"`
	Precision      float64 `json:"precision"`
	Recall         float64 `json:"recall"`
	F1             float64 `json:"f1"`
	Confusion      [][]int `json:"confusion_matrix"`
	Support        int     `json:"support"`
}

// Compute builds a report. Confusion rows are true labels, columns predictions.
// Macro averages run over the labels that appear in either yTrue or yPred;
// a class with no predicted (or no true) examples scores 0 precision (recall).
func Compute(yTrue, yPred []int, classes int) (Report, error) {
	if len(yTrue) != len(yPred) {
		return Report{}, fmt.Errorf("got %d true labels and %d predictions", len(yTrue), len(yPred))
	}
	if classes < 1 {
		return Report{}, fmt.Errorf("classes must be positive, got %d", classes)
	}

	r := Report{Confusion: make([][]int, classes), Support: len(yTrue)}
	for c := range r.Confusion {
		r.Confusion[c] = make([]int, classes)
	}
	correct := 0
	for i := range yTrue {
		t, p := yTrue[i], yPred[i]
		if t < 0 || t >= classes || p < 0 || p >= classes {
			return Report{}, fmt.Errorf("row %d: label pair (%d,%d) outside [0,%d)", i, t, p, classes)
		}
		r.Confusion[t][p]++
		if t == p {
			correct++
		}
	}
	if len(yTrue) == 0 {
		return r, nil
	}
	r.Accuracy = float64(correct) / float64(len(yTrue))

	present := 0
	for c := 0; c < classes; c++ {
		tp, predicted, actual := r.classCounts(c)
		if predicted == 0 && actual == 0 {
			continue
		}
		present++
		p, rec, f1 := prf(tp, predicted, actual)
		r.MacroPrecision += p
		r.MacroRecall += rec
		r.MacroF1 += f1
	}
	if present > 0 {
		r.MacroPrecision /= float64(present)
		r.MacroRecall /= float64(present)
		r.MacroF1 /= float64(present)
	}

	if classes > PositiveLabel {
		r.Precision, r.Recall, r.F1 = prf(r.classCounts(PositiveLabel))
	}
	return r, nil
}

func (r Report) classCounts(c int) (tp, predicted, actual int) {
	tp = r.Confusion[c][c]
	for k := range r.Confusion {
		predicted += r.Confusion[k][c]
		actual += r.Confusion[c][k]
	}
	return tp, predicted, actual
}

func prf(tp, predicted, actual int) (precision, recall, f1 float64) {
	if predicted > 0 {
		precision = float64(tp) / float64(predicted)
	}
	if actual > 0 {
		recall = float64(tp) / float64(actual)
	}
	if precision+recall > 0 {
		f1 = 2 * precision * recall / (precision + recall)
	}
	return precision, recall, f1
}
