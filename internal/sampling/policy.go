// Package sampling picks which unlabeled examples get pseudo-labeled in a
// self-training iteration.
//
// Strategies are chosen by a Scheme. BALD-easiness prefers examples the model
// is confident about and stable on across MC-dropout passes; the class-balanced
// variant spreads the batch evenly over predicted classes so self-training
// does not drift toward the majority class.
package sampling

import (
	"cmp"
	"fmt"
	"slices"

	"lsfts/internal/dataset"

	"github.com/rs/zerolog/log"
)

// Decoder turns token ids back into text. It is only used for debug logging.
type Decoder interface {
	Decode(ids []int32) string
}

// Request carries everything a policy may look at. Mean, Variance and
// PassProbs are nil for schemes that skip uncertainty estimation.
type Request struct {
	Tokenizer Decoder
	X         dataset.Features
	Mean      [][]float64   // N x C
	Variance  [][]float64   // N x C
	Labels    []int         // N, predicted labels
	Probs     [][]float64   // N x C, distribution Labels came from
	PassProbs [][][]float64 // T x N x C
	Size      int
	Classes   int
}

// Selection is a pseudo-labeled batch.
type Selection struct {
	X          dataset.Features
	Labels     []int
	Confidence []float64
	Indices    []int // rows of Request.X, in selection order
	Quotas     []int // per-class quota before redistribution; nil if not balanced
	PerClass   []int
	Borrowed   int // slots filled from other classes' leftovers
}

// Len returns the number of selected examples.
func (s Selection) Len() int {
	return len(s.Labels)
}

// Policy selects a pseudo-labeled batch.
type Policy interface {
	Select(req Request) (Selection, error)
}

// NewPolicy returns the policy for a scheme.
func NewPolicy(s Scheme) (Policy, error) {
	switch s.Kind {
	case BaldEasiness:
		return &baldPolicy{classBalanced: s.ClassBalanced}, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedScheme, s.ID)
	}
}

type candidate struct {
	index int
	score float64
	conf  float64
}

// sortCandidates orders by score, then confidence, both descending, then by
// index.
func sortCandidates(c []candidate) {
	slices.SortFunc(c, func(a, b candidate) int {
		if r := cmp.Compare(b.score, a.score); r != 0 {
			return r
		}
		if r := cmp.Compare(b.conf, a.conf); r != 0 {
			return r
		}
		return cmp.Compare(a.index, b.index)
	})
}

func checkMatrix(name string, m [][]float64, rows, classes int) error {
	if m == nil {
		return nil
	}
	if len(m) != rows {
		return fmt.Errorf("%w: %s has %d rows, expected %d", dataset.ErrShapeMismatch, name, len(m), rows)
	}
	for i, row := range m {
		if len(row) != classes {
			return fmt.Errorf("%w: %s row %d has %d entries, expected %d", dataset.ErrShapeMismatch, name, i, len(row), classes)
		}
	}
	return nil
}

func (r Request) validate() error {
	n := r.X.Len()
	if r.Classes < 1 {
		return fmt.Errorf("class count must be positive, got %d", r.Classes)
	}
	if r.Size < 0 {
		return fmt.Errorf("requested size must not be negative, got %d", r.Size)
	}
	if len(r.Labels) != n {
		return fmt.Errorf("%w: %d labels for %d examples", dataset.ErrShapeMismatch, len(r.Labels), n)
	}
	for i, l := range r.Labels {
		if l < 0 || l >= r.Classes {
			return fmt.Errorf("predicted label %d at row %d outside [0,%d)", l, i, r.Classes)
		}
	}
	if r.Mean == nil && r.Probs == nil {
		return fmt.Errorf("either mean or probabilities are required for confidence scores")
	}
	if err := checkMatrix("mean", r.Mean, n, r.Classes); err != nil {
		return err
	}
	if err := checkMatrix("variance", r.Variance, n, r.Classes); err != nil {
		return err
	}
	if err := checkMatrix("probs", r.Probs, n, r.Classes); err != nil {
		return err
	}
	for t, pass := range r.PassProbs {
		if err := checkMatrix(fmt.Sprintf("pass %d", t), pass, n, r.Classes); err != nil {
			return err
		}
	}
	return nil
}

// confidence is the probability mass on the predicted label, taken from the
// MC-dropout mean when available.
func (r Request) confidence(i int) float64 {
	src := r.Mean
	if src == nil {
		src = r.Probs
	}
	return src[i][r.Labels[i]]
}

func (r Request) build(chosen, quotas []int, borrowed int) Selection {
	s := Selection{
		X:          r.X.Gather(chosen),
		Labels:     make([]int, len(chosen)),
		Confidence: make([]float64, len(chosen)),
		Indices:    chosen,
		Quotas:     quotas,
		Borrowed:   borrowed,
	}
	for k, i := range chosen {
		s.Labels[k] = r.Labels[i]
		s.Confidence[k] = r.confidence(i)
	}
	s.PerClass = dataset.Histogram(s.Labels, r.Classes)

	if r.Tokenizer != nil {
		for k := 0; k < min(3, len(chosen)); k++ {
			log.Debug().
				Int("label", s.Labels[k]).
				Float64("confidence", s.Confidence[k]).
				Str("text", r.Tokenizer.Decode(s.X.InputIDs[k])).
				Msg("Selected example")
		}
	}
	return s
}

// Quotas splits size equally over the classes. The remainder goes one slot at
// a time to the classes with the most available candidates, lower class index
// first on ties.
func Quotas(size int, available []int) []int {
	classes := len(available)
	quotas := make([]int, classes)
	if classes == 0 {
		return quotas
	}
	for c := range quotas {
		quotas[c] = size / classes
	}
	order := make([]int, classes)
	for c := range order {
		order[c] = c
	}
	slices.SortStableFunc(order, func(a, b int) int {
		return cmp.Compare(available[b], available[a])
	})
	for _, c := range order[:size%classes] {
		quotas[c]++
	}
	return quotas
}

// takeBalanced fills per-class quotas from ranked buckets. A class that cannot
// fill its quota leaves a shortfall, which is covered by the best-ranked
// leftovers of all classes.
func takeBalanced(cands []candidate, labels []int, classes, size int) (chosen, quotas []int, borrowed int) {
	buckets := make([][]candidate, classes)
	for _, c := range cands {
		buckets[labels[c.index]] = append(buckets[labels[c.index]], c)
	}
	available := make([]int, classes)
	for cls := range buckets {
		sortCandidates(buckets[cls])
		available[cls] = len(buckets[cls])
	}

	quotas = Quotas(size, available)
	chosen = make([]int, 0, size)
	var leftovers []candidate
	for cls, bucket := range buckets {
		take := min(quotas[cls], len(bucket))
		for _, c := range bucket[:take] {
			chosen = append(chosen, c.index)
		}
		leftovers = append(leftovers, bucket[take:]...)
	}

	if short := size - len(chosen); short > 0 {
		sortCandidates(leftovers)
		borrowed = min(short, len(leftovers))
		for _, c := range leftovers[:borrowed] {
			chosen = append(chosen, c.index)
		}
		log.Info().
			Int("shortfall", short).
			Int("borrowed", borrowed).
			Ints("quotas", quotas).
			Ints("available", available).
			Msg("Redistributed class quota shortfall")
	}
	return chosen, quotas, borrowed
}

func takeTop(cands []candidate, size int) []int {
	sortCandidates(cands)
	chosen := make([]int, size)
	for k := range chosen {
		chosen[k] = cands[k].index
	}
	return chosen
}
