package dataset

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog/log"
)

// Record is one line of a JSON-lines dataset file.
type Record struct {
	InputIDs      []int32 `json:"input_ids"`
	TokenTypeIDs  []int32 `json:"token_type_ids"`
	AttentionMask []int32 `json:"attention_mask"`
	Label         *int    `json:"label,omitempty"`
}

const maxLineBytes = 16 * 1024 * 1024

func readRecords(path string, fn func(line int, rec Record) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open dataset %s: %w", path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	line := 0
	for scanner.Scan() {
		line++
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			return fmt.Errorf("%s:%d: parse record: %w", path, line, err)
		}
		if err := fn(line, rec); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read dataset %s: %w", path, err)
	}
	return nil
}

func (f *Features) appendRecord(rec Record) {
	f.InputIDs = append(f.InputIDs, rec.InputIDs)
	f.TokenTypeIDs = append(f.TokenTypeIDs, rec.TokenTypeIDs)
	f.AttentionMask = append(f.AttentionMask, rec.AttentionMask)
}

// LoadLabeled reads a labeled JSON-lines file. Every record must carry a label.
func LoadLabeled(path string) (Labeled, error) {
	var out Labeled
	err := readRecords(path, func(line int, rec Record) error {
		if rec.Label == nil {
			return fmt.Errorf("%s:%d: missing label", path, line)
		}
		out.X.appendRecord(rec)
		out.Y = append(out.Y, *rec.Label)
		return nil
	})
	if err != nil {
		return Labeled{}, err
	}
	log.Info().Str("path", path).Int("examples", out.Len()).Msg("Loaded labeled dataset")
	return out, nil
}

// LoadUnlabeled reads an unlabeled JSON-lines file. Labels, if present, are ignored.
func LoadUnlabeled(path string) (Features, error) {
	var out Features
	err := readRecords(path, func(_ int, rec Record) error {
		out.appendRecord(rec)
		return nil
	})
	if err != nil {
		return Features{}, err
	}
	log.Info().Str("path", path).Int("examples", out.Len()).Msg("Loaded unlabeled dataset")
	return out, nil
}

// WriteJSONL writes features, and labels when y is non-nil, as JSON lines.
func WriteJSONL(path string, x Features, y []int) error {
	if y != nil && len(y) != x.Len() {
		return fmt.Errorf("%w: %d labels for %d examples", ErrShapeMismatch, len(y), x.Len())
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", path, err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for i := 0; i < x.Len(); i++ {
		rec := Record{
			InputIDs:      x.InputIDs[i],
			TokenTypeIDs:  x.TokenTypeIDs[i],
			AttentionMask: x.AttentionMask[i],
		}
		if y != nil {
			label := y[i]
			rec.Label = &label
		}
		if err := enc.Encode(rec); err != nil {
			return fmt.Errorf("encode row %d: %w", i, err)
		}
	}
	if err := w.Flush(); err != nil {
		return fmt.Errorf("flush %s: %w", path, err)
	}
	return nil
}
