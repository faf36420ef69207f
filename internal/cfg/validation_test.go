package cfg

import (
	"errors"
	"strings"
	"testing"
	"time"

	"lsfts/internal/sampling"
)

// createValidSettings creates a valid Settings struct for testing
func createValidSettings() *Settings {
	return &Settings{
		LabeledPath:         "train.jsonl",
		TestPath:            "test.jsonl",
		UnlabeledPath:       "pool.jsonl",
		Classes:             2,
		MaxSeqLength:        128,
		ValidSplit:          0.5,
		ModelDir:            "models",
		ModelTimeout:        time.Minute,
		HashDim:             256,
		DenseDropout:        0.5,
		AttentionDropout:    0.3,
		HiddenDropout:       0.3,
		NBase:               10,
		SupEpochs:           70,
		SupBatchSize:        4,
		InitialLearningRate: 3e-5,
		EndLearningRate:     1e-7,
		Patience:            10,
		Replicas:            1,
		Seed:                42,
		SampleScheme:        "easy_bald_class_conf",
		Iterations:          25,
		SampleSize:          16384,
		UnsupSize:           4096,
		Passes:              30,
		Alpha:               0.1,
		UnsupEpochs:         25,
		UnsupBatchSize:      32,
		PredictBatchSize:    64,
		LargeBatchThreshold: 1000000,
		MetricsPort:         8080,
		EventsPort:          8081,
		LogLevel:            "info",
	}
}

func TestValidateSettings_ValidConfig(t *testing.T) {
	settings := createValidSettings()

	err := validateSettings(settings)
	if err != nil {
		t.Errorf("Expected valid config to pass, got error: %v", err)
	}
	if settings.Scheme.ID != "easy_bald_class_conf" {
		t.Errorf("Expected scheme to be parsed, got %+v", settings.Scheme)
	}
}

func TestValidateSettings_MissingDataPaths(t *testing.T) {
	for _, clear := range []func(s *Settings){
		func(s *Settings) { s.LabeledPath = "" },
		func(s *Settings) { s.TestPath = "" },
		func(s *Settings) { s.UnlabeledPath = "" },
	} {
		settings := createValidSettings()
		clear(settings)
		if err := validateSettings(settings); err == nil {
			t.Error("Expected error for missing data path")
		}
	}
}

func TestValidateSettings_Classes(t *testing.T) {
	tests := []struct {
		classes int
		wantErr bool
	}{
		{-1, true},
		{0, false}, // inferred from labels
		{1, true},
		{2, false},
		{20, false},
	}

	for _, tt := range tests {
		settings := createValidSettings()
		settings.Classes = tt.classes
		err := validateSettings(settings)
		if tt.wantErr && err == nil {
			t.Errorf("Expected error for classes %d", tt.classes)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("Unexpected error for classes %d: %v", tt.classes, err)
		}
	}
}

func TestValidateSettings_InvalidMaxSeqLength(t *testing.T) {
	for _, n := range []int{0, 3, 5000} {
		settings := createValidSettings()
		settings.MaxSeqLength = n
		if err := validateSettings(settings); err == nil {
			t.Errorf("Expected error for max sequence length %d", n)
		}
	}
}

func TestValidateSettings_ValidSplit(t *testing.T) {
	tests := []struct {
		split   float64
		wantErr bool
	}{
		{-0.1, true},
		{0, false}, // test set doubles as dev
		{0.5, false},
		{1, true},
	}

	for _, tt := range tests {
		settings := createValidSettings()
		settings.ValidSplit = tt.split
		err := validateSettings(settings)
		if tt.wantErr && err == nil {
			t.Errorf("Expected error for valid split %f", tt.split)
		}
		if !tt.wantErr && err != nil {
			t.Errorf("Unexpected error for valid split %f: %v", tt.split, err)
		}
	}
}

func TestValidateSettings_InvalidDropout(t *testing.T) {
	for _, p := range []float64{-0.1, 1, 1.5} {
		settings := createValidSettings()
		settings.HiddenDropout = p
		err := validateSettings(settings)
		if err == nil {
			t.Errorf("Expected error for dropout %f", p)
			continue
		}
		if !strings.Contains(err.Error(), "hidden dropout") {
			t.Errorf("Expected error to name the dropout, got: %v", err)
		}
	}
}

func TestValidateSettings_InvalidModelTimeout(t *testing.T) {
	for _, d := range []time.Duration{0, 500 * time.Millisecond, 25 * time.Hour} {
		settings := createValidSettings()
		settings.ModelTimeout = d
		if err := validateSettings(settings); err == nil {
			t.Errorf("Expected error for model timeout %v", d)
		}
	}
}

func TestValidateSettings_InvalidTraining(t *testing.T) {
	tests := []struct {
		name   string
		modify func(s *Settings)
	}{
		{"zero base models", func(s *Settings) { s.NBase = 0 }},
		{"zero sup epochs", func(s *Settings) { s.SupEpochs = 0 }},
		{"zero sup batch", func(s *Settings) { s.SupBatchSize = 0 }},
		{"zero initial rate", func(s *Settings) { s.InitialLearningRate = 0 }},
		{"rising rate", func(s *Settings) { s.EndLearningRate = 1 }},
		{"negative patience", func(s *Settings) { s.Patience = -1 }},
		{"zero replicas", func(s *Settings) { s.Replicas = 0 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.modify(settings)
			if err := validateSettings(settings); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestValidateSettings_InvalidSelfTraining(t *testing.T) {
	tests := []struct {
		name   string
		modify func(s *Settings)
	}{
		{"negative iterations", func(s *Settings) { s.Iterations = -1 }},
		{"zero sample size", func(s *Settings) { s.SampleSize = 0 }},
		{"zero unsup size", func(s *Settings) { s.UnsupSize = 0 }},
		{"unsup size above sample size", func(s *Settings) { s.UnsupSize = s.SampleSize + 1 }},
		{"zero passes", func(s *Settings) { s.Passes = 0 }},
		{"too many passes", func(s *Settings) { s.Passes = 1001 }},
		{"negative alpha", func(s *Settings) { s.Alpha = -0.1 }},
		{"zero unsup epochs", func(s *Settings) { s.UnsupEpochs = 0 }},
		{"zero predict batch", func(s *Settings) { s.PredictBatchSize = 0 }},
		{"negative large batch threshold", func(s *Settings) { s.LargeBatchThreshold = -1 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			tt.modify(settings)
			if err := validateSettings(settings); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestValidateSettings_ZeroIterationsAllowed(t *testing.T) {
	settings := createValidSettings()
	settings.Iterations = 0
	if err := validateSettings(settings); err != nil {
		t.Errorf("Expected zero iterations to be valid, got: %v", err)
	}
}

func TestValidateSettings_Schemes(t *testing.T) {
	tests := []struct {
		scheme  string
		wantErr bool
	}{
		{"easy_bald_class_conf", false},
		{"bald_easy", false},
		{"soft_easy_bald_class", false},
		{"uni", true},
		{"uni_class", true},
		{"uni_class_conf", true},
		{"easy_bald/../../tmp/x", true},
		{"easy_bald.conf", true},
		{"random_scheme", true},
		{"bald", true},
		{"uni_bald_easy", true},
		{"uni_soft", true},
		{"", true},
	}

	for _, tt := range tests {
		t.Run(tt.scheme, func(t *testing.T) {
			settings := createValidSettings()
			settings.SampleScheme = tt.scheme
			err := validateSettings(settings)
			if tt.wantErr {
				if !errors.Is(err, sampling.ErrUnsupportedScheme) {
					t.Errorf("Expected ErrUnsupportedScheme, got %v", err)
				}
				return
			}
			if err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestValidateSettings_InvalidPorts(t *testing.T) {
	tests := []struct {
		name    string
		metrics int
		events  int
	}{
		{"metrics too low", 80, 8081},
		{"events too high", 8080, 70000},
		{"same port", 9000, 9000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			settings := createValidSettings()
			settings.MetricsPort = tt.metrics
			settings.EventsPort = tt.events
			if err := validateSettings(settings); err == nil {
				t.Error("Expected error but got none")
			}
		})
	}
}

func TestValidateSettings_InvalidLogLevel(t *testing.T) {
	settings := createValidSettings()
	settings.LogLevel = "loud"
	if err := validateSettings(settings); err == nil {
		t.Error("Expected error for invalid log level")
	}
}
