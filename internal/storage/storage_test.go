package storage

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"lsfts/internal/eval"
)

func TestNew(t *testing.T) {
	tempDir := t.TempDir()

	store, err := New(tempDir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	if store.db == nil {
		t.Error("Store database is nil")
	}

	dbPath := filepath.Join(tempDir, "results.db")
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Error("Database file was not created")
	}
}

func TestNew_InvalidPath(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "missing", "dir"))
	if err == nil {
		t.Error("Expected error for invalid path, got nil")
	}
}

func TestStore_Close(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	if err := store.Close(); err != nil {
		t.Errorf("Error closing store: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Errorf("Error closing already closed store: %v", err)
	}
	if err := store.StoreIteration(IterationRecord{Scheme: "uni"}); err == nil {
		t.Error("Expected error writing to a closed store")
	}
}

func TestStoreBaseRun(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	for attempt := 0; attempt < 3; attempt++ {
		rec := BaseRunRecord{
			RunID:       "run-a",
			Attempt:     attempt,
			Seed:        uint64(42 + attempt),
			ValLoss:     0.5 - 0.1*float64(attempt),
			Report:      eval.Report{Accuracy: 0.8, Confusion: [][]int{{4, 1}, {1, 4}}},
			Predictions: []int{0, 1, 1},
			Labels:      []int{0, 1, 0},
			Timestamp:   base.Add(time.Duration(attempt) * time.Minute),
		}
		if err := store.StoreBaseRun(rec); err != nil {
			t.Fatalf("Failed to store base run: %v", err)
		}
	}
	if err := store.StoreBaseRun(BaseRunRecord{RunID: "run-b", Timestamp: base.Add(time.Hour)}); err != nil {
		t.Fatalf("Failed to store base run: %v", err)
	}

	runs, err := store.GetBaseRuns("run-a")
	if err != nil {
		t.Fatalf("Failed to get base runs: %v", err)
	}
	if len(runs) != 3 {
		t.Fatalf("Expected 3 base runs, got %d", len(runs))
	}
	if runs[2].Attempt != 2 || runs[2].Seed != 44 {
		t.Errorf("Unexpected last attempt: %+v", runs[2])
	}
	if runs[0].Report.Confusion[0][1] != 1 {
		t.Errorf("Confusion matrix not preserved: %v", runs[0].Report.Confusion)
	}
	if len(runs[1].Predictions) != 3 || runs[1].Labels[2] != 0 {
		t.Errorf("Predictions or labels not preserved: %+v", runs[1])
	}

	all, err := store.GetBaseRuns("")
	if err != nil {
		t.Fatalf("Failed to get all base runs: %v", err)
	}
	if len(all) != 4 {
		t.Errorf("Expected 4 base runs in total, got %d", len(all))
	}
	if all[3].RunID != "run-b" {
		t.Errorf("Expected newest run last, got %s", all[3].RunID)
	}
}

func TestStoreIteration(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	records := []IterationRecord{
		{RunID: "r1", Scheme: "uni", Iteration: 1, TestAccuracy: 0.7},
		{RunID: "r1", Scheme: "uni", Iteration: 0, TestAccuracy: 0.6},
		{RunID: "r1", Scheme: "uni_class", Iteration: 0, TestAccuracy: 0.65, PerClass: []int{5, 5}},
		{RunID: "r1", Scheme: "easy_bald_class_conf", Iteration: 0, Resumed: true},
	}
	for _, r := range records {
		if err := store.StoreIteration(r); err != nil {
			t.Fatalf("Failed to store iteration: %v", err)
		}
	}

	uni, err := store.GetIterations("uni")
	if err != nil {
		t.Fatalf("Failed to get iterations: %v", err)
	}
	if len(uni) != 2 {
		t.Fatalf("Expected 2 uni iterations, got %d", len(uni))
	}
	if uni[0].Iteration != 0 || uni[1].Iteration != 1 {
		t.Errorf("Iterations not ordered: %d, %d", uni[0].Iteration, uni[1].Iteration)
	}
	if uni[0].Timestamp.IsZero() {
		t.Error("Timestamp was not set")
	}

	classBalanced, err := store.GetIterations("uni_class")
	if err != nil {
		t.Fatalf("Failed to get iterations: %v", err)
	}
	if len(classBalanced) != 1 || classBalanced[0].PerClass[1] != 5 {
		t.Errorf("Unexpected uni_class records: %+v", classBalanced)
	}

	schemes, err := store.Schemes()
	if err != nil {
		t.Fatalf("Failed to list schemes: %v", err)
	}
	expected := []string{"easy_bald_class_conf", "uni", "uni_class"}
	if len(schemes) != len(expected) {
		t.Fatalf("Expected schemes %v, got %v", expected, schemes)
	}
	for i := range expected {
		if schemes[i] != expected[i] {
			t.Errorf("Expected scheme %s at %d, got %s", expected[i], i, schemes[i])
		}
	}
}

func TestGetIterations_Empty(t *testing.T) {
	store, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	defer store.Close()

	recs, err := store.GetIterations("easy_bald")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(recs) != 0 {
		t.Errorf("Expected no records, got %d", len(recs))
	}
}

func TestStore_ReopenKeepsRecords(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	if err := store.StoreIteration(IterationRecord{RunID: "r", Scheme: "easy_bald", Iteration: 3}); err != nil {
		t.Fatalf("Failed to store iteration: %v", err)
	}
	store.Close()

	reopened, err := New(dir)
	if err != nil {
		t.Fatalf("Failed to reopen store: %v", err)
	}
	defer reopened.Close()

	recs, err := reopened.GetIterations("easy_bald")
	if err != nil {
		t.Fatalf("Failed to get iterations: %v", err)
	}
	if len(recs) != 1 || recs[0].Iteration != 3 {
		t.Errorf("Expected the stored iteration after reopening, got %+v", recs)
	}
}
