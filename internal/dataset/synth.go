package dataset

import (
	"fmt"
	"math/rand/v2"
)

// Reserved token ids
const (
	PadToken = 0
	ClsToken = 1
	SepToken = 2
	// firstWordToken is the first id available for ordinary vocabulary.
	firstWordToken = 3
)

// SynthConfig controls Synthesize.
type SynthConfig struct {
	Examples     int
	Classes      int
	MaxSeqLength int
	VocabSize    int
	// Signal is the probability that a token is drawn from the class-specific
	// vocabulary band rather than the shared noise vocabulary.
	Signal float64
}

// Synthesize builds a toy classification corpus: each class owns a band of the
// vocabulary and documents mix tokens from their class band with shared noise.
// Class labels are assigned round-robin so the result is balanced.
func Synthesize(c SynthConfig, rng *rand.Rand) (Labeled, error) {
	if c.Classes < 1 || c.MaxSeqLength < 4 || c.Examples < 0 {
		return Labeled{}, fmt.Errorf("invalid synth config: classes=%d max_seq_length=%d examples=%d",
			c.Classes, c.MaxSeqLength, c.Examples)
	}
	words := c.VocabSize - firstWordToken
	band := words / (c.Classes + 1)
	if band < 1 {
		return Labeled{}, fmt.Errorf("vocab size %d too small for %d classes", c.VocabSize, c.Classes)
	}
	noiseLo := firstWordToken + band*c.Classes

	var out Labeled
	for i := 0; i < c.Examples; i++ {
		label := i % c.Classes
		// Leave room for [CLS] and [SEP].
		length := c.MaxSeqLength/2 + rng.IntN(c.MaxSeqLength/2-1)

		ids := make([]int32, c.MaxSeqLength)
		types := make([]int32, c.MaxSeqLength)
		mask := make([]int32, c.MaxSeqLength)

		ids[0], mask[0] = ClsToken, 1
		for j := 1; j < length; j++ {
			var tok int
			if rng.Float64() < c.Signal {
				tok = firstWordToken + label*band + rng.IntN(band)
			} else {
				tok = noiseLo + rng.IntN(max(1, c.VocabSize-noiseLo))
			}
			ids[j], mask[j] = int32(tok), 1
		}
		ids[length], mask[length] = SepToken, 1

		out.X.InputIDs = append(out.X.InputIDs, ids)
		out.X.TokenTypeIDs = append(out.X.TokenTypeIDs, types)
		out.X.AttentionMask = append(out.X.AttentionMask, mask)
		out.Y = append(out.Y, label)
	}

	// Shuffle so that label order carries no signal.
	rng.Shuffle(out.Len(), func(a, b int) {
		out.Y[a], out.Y[b] = out.Y[b], out.Y[a]
		out.X.InputIDs[a], out.X.InputIDs[b] = out.X.InputIDs[b], out.X.InputIDs[a]
		out.X.TokenTypeIDs[a], out.X.TokenTypeIDs[b] = out.X.TokenTypeIDs[b], out.X.TokenTypeIDs[a]
		out.X.AttentionMask[a], out.X.AttentionMask[b] = out.X.AttentionMask[b], out.X.AttentionMask[a]
	})
	return out, nil
}
