package storage

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"lsfts/internal/eval"
)

// BaseRunRecord is one base model attempt.
type BaseRunRecord struct {
	RunID       string      `json:"run_id"`
	Attempt     int         `json:"attempt"`
	Seed        uint64      `json:"seed"`
	ValLoss     float64     `json:"val_loss"`
	Resumed     bool        `json:"resumed"`
	Report      eval.Report `json:"report"`
	Predictions []int       `json:"predictions,omitempty"`
	Labels      []int       `json:"labels,omitempty"`
	Timestamp   time.Time   `json:"timestamp"`
}

// IterationRecord is one self-training iteration.
type IterationRecord struct {
	RunID          string      `json:"run_id"`
	Scheme         string      `json:"scheme"`
	Iteration      int         `json:"iteration"`
	Resumed        bool        `json:"resumed"`
	Test           eval.Report `json:"test"`
	ValAccuracy    float64     `json:"val_accuracy"`
	TestAccuracy   float64     `json:"test_accuracy"`
	PoolSize       int         `json:"pool_size"`
	Selected       int         `json:"selected"`
	PerClass       []int       `json:"per_class,omitempty"`
	Borrowed       int         `json:"borrowed"`
	MeanConfidence float64     `json:"mean_confidence"`
	MeanWeight     float64     `json:"mean_weight"`
	BestValTestAcc float64     `json:"best_val_test_acc"`
	MaxTestAcc     float64     `json:"max_test_acc"`
	Timestamp      time.Time   `json:"timestamp"`
}

// StoreBaseRun archives a base model attempt under "runID_attempt".
func (s *Store) StoreBaseRun(r BaseRunRecord) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return s.put(baseRunsBucket, fmt.Sprintf("%s_%04d", r.RunID, r.Attempt), r)
}

// StoreIteration archives an iteration under "scheme_iteration_runID". A
// resumed run writes a new record next to the original one.
func (s *Store) StoreIteration(r IterationRecord) error {
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}
	return s.put(iterationsBucket, fmt.Sprintf("%s_%04d_%s", r.Scheme, r.Iteration, r.RunID), r)
}

// GetBaseRuns returns base attempts, all runs when runID is empty, ordered by
// time then attempt.
func (s *Store) GetBaseRuns(runID string) ([]BaseRunRecord, error) {
	prefix := ""
	if runID != "" {
		prefix = runID + "_"
	}
	var out []BaseRunRecord
	err := s.scan(baseRunsBucket, prefix, func(v []byte) {
		var r BaseRunRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return
		}
		out = append(out, r)
	})
	if err != nil {
		return nil, err
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].Timestamp.Before(out[j].Timestamp)
		}
		return out[i].Attempt < out[j].Attempt
	})
	return out, nil
}

// GetIterations returns the records of a scheme ordered by iteration.
func (s *Store) GetIterations(scheme string) ([]IterationRecord, error) {
	var out []IterationRecord
	err := s.scan(iterationsBucket, scheme+"_", func(v []byte) {
		var r IterationRecord
		if err := json.Unmarshal(v, &r); err != nil {
			return
		}
		// "easy_bald_" is also a prefix of "easy_bald_class_...".
		if r.Scheme == scheme {
			out = append(out, r)
		}
	})
	return out, err
}

// Schemes lists the schemes with at least one archived iteration.
func (s *Store) Schemes() ([]string, error) {
	seen := map[string]bool{}
	var out []string
	err := s.scan(iterationsBucket, "", func(v []byte) {
		var r IterationRecord
		if err := json.Unmarshal(v, &r); err != nil || seen[r.Scheme] {
			return
		}
		seen[r.Scheme] = true
		out = append(out, r.Scheme)
	})
	sort.Strings(out)
	return out, err
}
