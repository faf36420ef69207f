// Package dataset holds the tokenized inputs the self-training loop works on.
// Features are stored column-wise, one row per example, with the three
// sequence fields a BERT-style classifier expects. Rows are padded to a fixed
// maximum sequence length by whoever tokenized the corpus.
package dataset

import (
	"errors"
	"fmt"
	"math/rand/v2"
)

// ErrShapeMismatch is returned when feature columns or labels disagree in shape.
var ErrShapeMismatch = errors.New("feature shape mismatch")

// Features is a column-oriented batch of tokenized examples.
type Features struct {
	InputIDs      [][]int32 `json:"input_ids"`
	TokenTypeIDs  [][]int32 `json:"token_type_ids"`
	AttentionMask [][]int32 `json:"attention_mask"`
}

// Len returns the number of examples.
func (f Features) Len() int {
	return len(f.InputIDs)
}

// Slice returns the rows in [lo, hi). The returned value shares rows with f.
func (f Features) Slice(lo, hi int) Features {
	return Features{
		InputIDs:      f.InputIDs[lo:hi],
		TokenTypeIDs:  f.TokenTypeIDs[lo:hi],
		AttentionMask: f.AttentionMask[lo:hi],
	}
}

// Gather returns the rows at the given indices, in order.
func (f Features) Gather(indices []int) Features {
	out := Features{
		InputIDs:      make([][]int32, len(indices)),
		TokenTypeIDs:  make([][]int32, len(indices)),
		AttentionMask: make([][]int32, len(indices)),
	}
	for i, idx := range indices {
		out.InputIDs[i] = f.InputIDs[idx]
		out.TokenTypeIDs[i] = f.TokenTypeIDs[idx]
		out.AttentionMask[i] = f.AttentionMask[idx]
	}
	return out
}

// Append adds the rows of o to f.
func (f *Features) Append(o Features) {
	f.InputIDs = append(f.InputIDs, o.InputIDs...)
	f.TokenTypeIDs = append(f.TokenTypeIDs, o.TokenTypeIDs...)
	f.AttentionMask = append(f.AttentionMask, o.AttentionMask...)
}

// Clone copies every row into freshly allocated memory.
func (f Features) Clone() Features {
	n := f.Len()
	out := Features{
		InputIDs:      make([][]int32, n),
		TokenTypeIDs:  make([][]int32, n),
		AttentionMask: make([][]int32, n),
	}
	for i := 0; i < n; i++ {
		out.InputIDs[i] = append([]int32(nil), f.InputIDs[i]...)
		out.TokenTypeIDs[i] = append([]int32(nil), f.TokenTypeIDs[i]...)
		out.AttentionMask[i] = append([]int32(nil), f.AttentionMask[i]...)
	}
	return out
}

// Validate checks that the three columns have the same number of rows and,
// when maxSeqLen > 0, that every row has exactly maxSeqLen tokens.
func (f Features) Validate(maxSeqLen int) error {
	n := len(f.InputIDs)
	if len(f.TokenTypeIDs) != n || len(f.AttentionMask) != n {
		return fmt.Errorf("%w: input_ids=%d token_type_ids=%d attention_mask=%d",
			ErrShapeMismatch, n, len(f.TokenTypeIDs), len(f.AttentionMask))
	}
	if maxSeqLen <= 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		if len(f.InputIDs[i]) != maxSeqLen || len(f.TokenTypeIDs[i]) != maxSeqLen || len(f.AttentionMask[i]) != maxSeqLen {
			return fmt.Errorf("%w: row %d has lengths %d/%d/%d, expected %d",
				ErrShapeMismatch, i, len(f.InputIDs[i]), len(f.TokenTypeIDs[i]), len(f.AttentionMask[i]), maxSeqLen)
		}
	}
	return nil
}

// Labeled pairs features with integer class labels.
type Labeled struct {
	X Features `json:"x"`
	Y []int    `json:"y"`
}

// Len returns the number of labeled examples.
func (l Labeled) Len() int {
	return len(l.Y)
}

// Slice returns the examples in [lo, hi).
func (l Labeled) Slice(lo, hi int) Labeled {
	return Labeled{X: l.X.Slice(lo, hi), Y: l.Y[lo:hi]}
}

// Validate checks feature shapes, label count and label range. classes <= 0
// skips the range check.
func (l Labeled) Validate(maxSeqLen, classes int) error {
	if err := l.X.Validate(maxSeqLen); err != nil {
		return err
	}
	if len(l.Y) != l.X.Len() {
		return fmt.Errorf("%w: %d labels for %d examples", ErrShapeMismatch, len(l.Y), l.X.Len())
	}
	if classes <= 0 {
		return nil
	}
	for i, y := range l.Y {
		if y < 0 || y >= classes {
			return fmt.Errorf("label %d at row %d outside [0,%d)", y, i, classes)
		}
	}
	return nil
}

// ClassCount returns max(label)+1 over all given label slices.
func ClassCount(labels ...[]int) int {
	maxLabel := -1
	for _, ys := range labels {
		for _, y := range ys {
			if y > maxLabel {
				maxLabel = y
			}
		}
	}
	return maxLabel + 1
}

// Histogram counts labels per class.
func Histogram(y []int, classes int) []int {
	counts := make([]int, classes)
	for _, label := range y {
		if label >= 0 && label < classes {
			counts[label]++
		}
	}
	return counts
}

// Split divides labeled data into train and dev partitions. The first
// (1-validSplit) fraction becomes train. With validSplit == 0 the whole set is
// used for training and test doubles as the dev partition.
func Split(l Labeled, validSplit float64, test Labeled) (train, dev Labeled) {
	if validSplit <= 0 {
		return l, test
	}
	trainSize := int((1.0 - validSplit) * float64(l.Len()))
	return l.Slice(0, trainSize), l.Slice(trainSize, l.Len())
}

// Sample draws size rows without replacement. When the pool holds no more than
// size rows the pool itself is returned together with the identity index.
func Sample(pool Features, size int, rng *rand.Rand) (Features, []int) {
	n := pool.Len()
	if size >= n {
		indices := make([]int, n)
		for i := range indices {
			indices[i] = i
		}
		return pool, indices
	}
	indices := rng.Perm(n)[:size]
	return pool.Gather(indices), indices
}
