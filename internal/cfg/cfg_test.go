package cfg

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"lsfts/internal/common"
	"lsfts/internal/sampling"
)

func TestLoadFromEnv(t *testing.T) {
	tests := []struct {
		name     string
		envVars  map[string]string
		wantErr  bool
		validate func(t *testing.T, settings Settings)
	}{
		{
			name: "valid config with required fields",
			envVars: map[string]string{
				"LABELED_PATH":   "train.jsonl",
				"TEST_PATH":      "test.jsonl",
				"UNLABELED_PATH": "pool.jsonl",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.LabeledPath != "train.jsonl" {
					t.Errorf("expected LabeledPath 'train.jsonl', got %s", settings.LabeledPath)
				}
				// Test defaults
				if settings.SampleScheme != "easy_bald_class_conf" {
					t.Errorf("expected default scheme, got %s", settings.SampleScheme)
				}
				if settings.Scheme.Kind != sampling.BaldEasiness || !settings.Scheme.ClassBalanced || !settings.Scheme.Confidence {
					t.Errorf("expected parsed default scheme, got %+v", settings.Scheme)
				}
				if settings.Iterations != 25 {
					t.Errorf("expected default Iterations 25, got %d", settings.Iterations)
				}
				if settings.Passes != 30 {
					t.Errorf("expected default Passes 30, got %d", settings.Passes)
				}
				if settings.Alpha != 0.1 {
					t.Errorf("expected default Alpha 0.1, got %f", settings.Alpha)
				}
				if settings.UnsupSize != 4096 || settings.SampleSize != 16384 {
					t.Errorf("expected default sizes 4096/16384, got %d/%d", settings.UnsupSize, settings.SampleSize)
				}
				if settings.ModelDir != "models" {
					t.Errorf("expected default ModelDir 'models', got %s", settings.ModelDir)
				}
				if settings.ModelTimeout != 10*time.Minute {
					t.Errorf("expected default ModelTimeout 10m, got %v", settings.ModelTimeout)
				}
				if settings.Seed != 42 {
					t.Errorf("expected default Seed 42, got %d", settings.Seed)
				}
				if settings.Classes != 0 {
					t.Errorf("expected Classes 0 (infer), got %d", settings.Classes)
				}
			},
		},
		{
			name: "custom scheme and settings",
			envVars: map[string]string{
				"LABELED_PATH":   "train.jsonl",
				"TEST_PATH":      "test.jsonl",
				"UNLABELED_PATH": "pool.jsonl",
				"SAMPLE_SCHEME":  "easy_bald_class",
				"ITERATIONS":     "3",
				"MC_PASSES":      "5",
				"ALPHA":          "0.25",
				"SEED":           "7",
				"CLASSES":        "4",
				"METRICS_PORT":   "9090",
				"PROGRESS":       "true",
				"MODEL_TIMEOUT":  "30s",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.Scheme.Kind != sampling.BaldEasiness || !settings.Scheme.ClassBalanced || settings.Scheme.Confidence {
					t.Errorf("expected class-balanced BALD scheme, got %+v", settings.Scheme)
				}
				if settings.Iterations != 3 {
					t.Errorf("expected Iterations 3, got %d", settings.Iterations)
				}
				if settings.Passes != 5 {
					t.Errorf("expected Passes 5, got %d", settings.Passes)
				}
				if settings.Alpha != 0.25 {
					t.Errorf("expected Alpha 0.25, got %f", settings.Alpha)
				}
				if settings.Seed != 7 {
					t.Errorf("expected Seed 7, got %d", settings.Seed)
				}
				if settings.Classes != 4 {
					t.Errorf("expected Classes 4, got %d", settings.Classes)
				}
				if settings.MetricsPort != 9090 {
					t.Errorf("expected MetricsPort 9090, got %d", settings.MetricsPort)
				}
				if !settings.Progress {
					t.Error("expected Progress to be true")
				}
				if settings.ModelTimeout != 30*time.Second {
					t.Errorf("expected ModelTimeout 30s, got %v", settings.ModelTimeout)
				}
			},
		},
		{
			name: "unsupported scheme",
			envVars: map[string]string{
				"LABELED_PATH":   "train.jsonl",
				"TEST_PATH":      "test.jsonl",
				"UNLABELED_PATH": "pool.jsonl",
				"SAMPLE_SCHEME":  "random_scheme",
			},
			wantErr: true,
		},
		{
			name: "missing labeled path",
			envVars: map[string]string{
				"TEST_PATH":      "test.jsonl",
				"UNLABELED_PATH": "pool.jsonl",
			},
			wantErr: true,
		},
		{
			name:    "missing all paths",
			envVars: map[string]string{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)

			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			settings, err := loadFromEnv()

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromEnv_UnsupportedSchemeIsTyped(t *testing.T) {
	clearTestEnv(t)
	t.Setenv("LABELED_PATH", "train.jsonl")
	t.Setenv("TEST_PATH", "test.jsonl")
	t.Setenv("UNLABELED_PATH", "pool.jsonl")
	t.Setenv("SAMPLE_SCHEME", "bald_uni")

	_, err := loadFromEnv()
	if !errors.Is(err, sampling.ErrUnsupportedScheme) {
		t.Errorf("expected ErrUnsupportedScheme, got %v", err)
	}
}

const validYAML = `
data:
  labeledPath: "data/train.jsonl"
  testPath: "data/test.jsonl"
  unlabeledPath: "data/pool.jsonl"
  classes: 2
  maxSeqLength: 64
  validSplit: 0.25

model:
  dir: "/tmp/lsfts-models"
  timeout: "2m"
  hashDim: 128
  denseDropout: 0.4

training:
  nBase: 3
  supEpochs: 10
  supBatchSize: 8
  initialLearningRate: 0.5
  endLearningRate: 0.01
  seed: 11

selfTraining:
  sampleScheme: "soft_easy_bald_class"
  iterations: 4
  sampleSize: 1000
  unsupSize: 200
  passes: 8
  alpha: 0.2

system:
  metricsPort: 9100
  eventsPort: 9101
  logLevel: "debug"
  progress: true
`

func TestLoadFromYAML(t *testing.T) {
	tests := []struct {
		name         string
		yamlContent  string
		envOverrides map[string]string
		wantErr      bool
		validate     func(t *testing.T, settings Settings)
	}{
		{
			name:        "valid YAML config",
			yamlContent: validYAML,
			wantErr:     false,
			validate: func(t *testing.T, settings Settings) {
				if settings.LabeledPath != "data/train.jsonl" {
					t.Errorf("expected LabeledPath 'data/train.jsonl', got %s", settings.LabeledPath)
				}
				if settings.Classes != 2 {
					t.Errorf("expected Classes 2, got %d", settings.Classes)
				}
				if settings.ValidSplit != 0.25 {
					t.Errorf("expected ValidSplit 0.25, got %f", settings.ValidSplit)
				}
				if settings.ModelTimeout != 2*time.Minute {
					t.Errorf("expected ModelTimeout 2m, got %v", settings.ModelTimeout)
				}
				if settings.HashDim != 128 {
					t.Errorf("expected HashDim 128, got %d", settings.HashDim)
				}
				if settings.NBase != 3 {
					t.Errorf("expected NBase 3, got %d", settings.NBase)
				}
				if settings.Seed != 11 {
					t.Errorf("expected Seed 11, got %d", settings.Seed)
				}
				if !settings.Scheme.Soft || !settings.Scheme.ClassBalanced || settings.Scheme.Confidence {
					t.Errorf("unexpected parsed scheme %+v", settings.Scheme)
				}
				if settings.EventsPort != 9101 {
					t.Errorf("expected EventsPort 9101, got %d", settings.EventsPort)
				}
				if settings.LogLevel != "debug" {
					t.Errorf("expected LogLevel debug, got %s", settings.LogLevel)
				}
				// Unset values fall back to defaults
				if settings.UnsupEpochs != common.DefaultUnsupEpochs {
					t.Errorf("expected default UnsupEpochs, got %d", settings.UnsupEpochs)
				}
				if settings.Patience != common.DefaultPatience {
					t.Errorf("expected default Patience, got %d", settings.Patience)
				}
			},
		},
		{
			name:        "YAML with env overrides",
			yamlContent: validYAML,
			envOverrides: map[string]string{
				"SAMPLE_SCHEME": "easy_bald",
				"ITERATIONS":    "9",
				"MODEL_URL":     "http://localhost:8090",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.SampleScheme != "easy_bald" {
					t.Errorf("expected env override scheme 'easy_bald', got %s", settings.SampleScheme)
				}
				if settings.Scheme.ClassBalanced {
					t.Error("expected scheme to be parsed from the override")
				}
				if settings.Iterations != 9 {
					t.Errorf("expected env override Iterations 9, got %d", settings.Iterations)
				}
				if settings.ModelURL != "http://localhost:8090" {
					t.Errorf("expected ModelURL from env, got %s", settings.ModelURL)
				}
				if settings.NBase != 3 {
					t.Errorf("expected YAML NBase 3, got %d", settings.NBase)
				}
			},
		},
		{
			name: "missing data paths",
			yamlContent: `
selfTraining:
  sampleScheme: "easy_bald"
`,
			wantErr: true,
		},
		{
			name:        "invalid YAML",
			yamlContent: "data: [unterminated",
			wantErr:     true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)
			for key, value := range tt.envOverrides {
				t.Setenv(key, value)
			}

			configPath := filepath.Join(t.TempDir(), "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.yamlContent), 0o644); err != nil {
				t.Fatalf("failed to write test config file: %v", err)
			}

			settings, err := loadFromYAML(configPath)

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoadFromYAML_MissingFile(t *testing.T) {
	clearTestEnv(t)
	if _, err := loadFromYAML(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("expected error for missing config file")
	}
}

func TestLoad(t *testing.T) {
	tests := []struct {
		name        string
		configFile  string
		yamlContent string
		envVars     map[string]string
		wantErr     bool
		validate    func(t *testing.T, settings Settings)
	}{
		{
			name: "load from env when no config file",
			envVars: map[string]string{
				"LABELED_PATH":   "env_train.jsonl",
				"TEST_PATH":      "env_test.jsonl",
				"UNLABELED_PATH": "env_pool.jsonl",
			},
			wantErr: false,
			validate: func(t *testing.T, settings Settings) {
				if settings.LabeledPath != "env_train.jsonl" {
					t.Errorf("expected LabeledPath 'env_train.jsonl', got %s", settings.LabeledPath)
				}
			},
		},
		{
			name:        "load from YAML when config file specified",
			configFile:  "config.yaml",
			yamlContent: validYAML,
			wantErr:     false,
			validate: func(t *testing.T, settings Settings) {
				if settings.LabeledPath != "data/train.jsonl" {
					t.Errorf("expected LabeledPath 'data/train.jsonl', got %s", settings.LabeledPath)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearTestEnv(t)
			t.Setenv("ENV_FILE", filepath.Join(t.TempDir(), "missing.env"))

			for key, value := range tt.envVars {
				t.Setenv(key, value)
			}

			if tt.configFile != "" && tt.yamlContent != "" {
				configPath := filepath.Join(t.TempDir(), tt.configFile)
				err := os.WriteFile(configPath, []byte(tt.yamlContent), 0o644)
				if err != nil {
					t.Fatalf("failed to write test config file: %v", err)
				}
				t.Setenv("CONFIG_FILE", configPath)
			}

			settings, err := Load()

			if tt.wantErr && err == nil {
				t.Error("expected error but got none")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}

			if !tt.wantErr && tt.validate != nil {
				tt.validate(t, settings)
			}
		})
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	clearTestEnv(t)
	envPath := filepath.Join(t.TempDir(), "test.env")
	content := "LABELED_PATH=dot_train.jsonl\nTEST_PATH=dot_test.jsonl\nUNLABELED_PATH=dot_pool.jsonl\nITERATIONS=2\n"
	if err := os.WriteFile(envPath, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write env file: %v", err)
	}
	t.Setenv("ENV_FILE", envPath)
	// Values already in the environment win over the file.
	t.Setenv("ITERATIONS", "6")
	t.Cleanup(func() {
		for _, key := range []string{"LABELED_PATH", "TEST_PATH", "UNLABELED_PATH"} {
			os.Unsetenv(key)
		}
	})

	settings, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if settings.LabeledPath != "dot_train.jsonl" {
		t.Errorf("expected LabeledPath from env file, got %s", settings.LabeledPath)
	}
	if settings.Iterations != 6 {
		t.Errorf("expected process env to win, got Iterations %d", settings.Iterations)
	}
}

func TestRunConfig(t *testing.T) {
	settings := createValidSettings()
	if err := validateSettings(settings); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	c := settings.RunConfig("run-1", 3)
	if c.RunID != "run-1" {
		t.Errorf("expected RunID run-1, got %s", c.RunID)
	}
	if c.Classes != 3 || c.Model.Classes != 3 {
		t.Errorf("expected 3 classes, got %d/%d", c.Classes, c.Model.Classes)
	}
	if c.Scheme.ID != settings.SampleScheme {
		t.Errorf("expected scheme %s, got %s", settings.SampleScheme, c.Scheme.ID)
	}
	if c.Passes != settings.Passes || c.UnsupSize != settings.UnsupSize || c.SampleSize != settings.SampleSize {
		t.Errorf("self-training sizes not carried over: %+v", c)
	}
	if c.Model.HashDim != settings.HashDim || c.Model.DenseDropout != settings.DenseDropout {
		t.Errorf("model template not carried over: %+v", c.Model)
	}
	if c.InitialLearningRate != settings.InitialLearningRate || c.EndLearningRate != settings.EndLearningRate {
		t.Errorf("learning rates not carried over: %g -> %g", c.InitialLearningRate, c.EndLearningRate)
	}
}

// clearTestEnv clears potentially conflicting environment variables
func clearTestEnv(t *testing.T) {
	envVars := []string{
		common.EnvConfigFile, common.EnvLabeledPath, common.EnvTestPath, common.EnvUnlabeledPath,
		common.EnvClasses, common.EnvMaxSeqLength, common.EnvModelDir, common.EnvModelURL,
		common.EnvHashDim, common.EnvDenseDropout, common.EnvAttentionDropout, common.EnvHiddenDropout,
		common.EnvSupBatchSize, common.EnvUnsupBatchSize, common.EnvSupEpochs, common.EnvUnsupEpochs,
		common.EnvNBase, common.EnvValidSplit, common.EnvPatience, common.EnvReplicas, common.EnvSeed,
		common.EnvSampleScheme, common.EnvIterations, common.EnvUnsupSize, common.EnvSampleSize,
		common.EnvPasses, common.EnvAlpha, common.EnvLargeBatchThreshold, common.EnvMetricsPort,
		common.EnvEventsPort, common.EnvLogLevel, common.EnvProgress, common.EnvInitialLearningRate,
		common.EnvEndLearningRate, common.EnvPredictBatchSize, common.EnvModelTimeout, common.EnvEnvFile,
	}

	for _, env := range envVars {
		if val := os.Getenv(env); val != "" {
			t.Setenv(env, "")
		}
	}
}
