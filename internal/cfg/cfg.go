package cfg

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"lsfts/internal/common"
	"lsfts/internal/sampling"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

type Settings struct {
	// Data
	LabeledPath   string
	TestPath      string
	UnlabeledPath string
	Classes       int
	MaxSeqLength  int
	ValidSplit    float64

	// Model
	ModelDir         string
	ModelURL         string
	ModelTimeout     time.Duration
	HashDim          int
	DenseDropout     float64
	AttentionDropout float64
	HiddenDropout    float64

	// Base model training
	NBase               int
	SupEpochs           int
	SupBatchSize        int
	InitialLearningRate float64
	EndLearningRate     float64
	Patience            int
	Replicas            int
	Seed                uint64

	// Self-training
	SampleScheme        string
	Scheme              sampling.Scheme
	Iterations          int
	SampleSize          int
	UnsupSize           int
	Passes              int
	Alpha               float64
	UnsupEpochs         int
	UnsupBatchSize      int
	PredictBatchSize    int
	LargeBatchThreshold int

	// System
	MetricsPort int
	EventsPort  int
	LogLevel    string
	Progress    bool
}

type ConfigFile struct {
	Data struct {
		LabeledPath   string  `yaml:"labeledPath"`
		TestPath      string  `yaml:"testPath"`
		UnlabeledPath string  `yaml:"unlabeledPath"`
		Classes       int     `yaml:"classes"`
		MaxSeqLength  int     `yaml:"maxSeqLength"`
		ValidSplit    float64 `yaml:"validSplit"`
	} `yaml:"data"`

	Model struct {
		Dir              string  `yaml:"dir"`
		URL              string  `yaml:"url"`
		Timeout          string  `yaml:"timeout"`
		HashDim          int     `yaml:"hashDim"`
		DenseDropout     float64 `yaml:"denseDropout"`
		AttentionDropout float64 `yaml:"attentionDropout"`
		HiddenDropout    float64 `yaml:"hiddenDropout"`
	} `yaml:"model"`

	Training struct {
		NBase               int     `yaml:"nBase"`
		SupEpochs           int     `yaml:"supEpochs"`
		SupBatchSize        int     `yaml:"supBatchSize"`
		InitialLearningRate float64 `yaml:"initialLearningRate"`
		EndLearningRate     float64 `yaml:"endLearningRate"`
		Patience            int     `yaml:"patience"`
		Replicas            int     `yaml:"replicas"`
		Seed                uint64  `yaml:"seed"`
	} `yaml:"training"`

	SelfTraining struct {
		SampleScheme        string  `yaml:"sampleScheme"`
		Iterations          int     `yaml:"iterations"`
		SampleSize          int     `yaml:"sampleSize"`
		UnsupSize           int     `yaml:"unsupSize"`
		Passes              int     `yaml:"passes"`
		Alpha               float64 `yaml:"alpha"`
		UnsupEpochs         int     `yaml:"unsupEpochs"`
		UnsupBatchSize      int     `yaml:"unsupBatchSize"`
		PredictBatchSize    int     `yaml:"predictBatchSize"`
		LargeBatchThreshold int     `yaml:"largeBatchThreshold"`
	} `yaml:"selfTraining"`

	System struct {
		MetricsPort int    `yaml:"metricsPort"`
		EventsPort  int    `yaml:"eventsPort"`
		LogLevel    string `yaml:"logLevel"`
		Progress    bool   `yaml:"progress"`
	} `yaml:"system"`
}

// Load reads an optional .env file, then the YAML file named by CONFIG_FILE
// if set, and finally applies environment overrides.
func Load() (Settings, error) {
	if err := loadDotEnv(getEnvOrDefault(common.EnvEnvFile, common.DefaultEnvFile)); err != nil {
		return Settings{}, err
	}

	if configPath := os.Getenv(common.EnvConfigFile); configPath != "" {
		return loadFromYAML(configPath)
	}
	return loadFromEnv()
}

// loadDotEnv loads path into the environment without overriding variables
// that are already set. A missing file is not an error.
func loadDotEnv(path string) error {
	err := godotenv.Load(path)
	if err == nil {
		log.Debug().Str("path", path).Msg("Loaded environment file")
		return nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("failed to load env file %s: %w", path, err)
}

func loadFromYAML(path string) (Settings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Settings{}, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config ConfigFile
	if err := yaml.Unmarshal(data, &config); err != nil {
		return Settings{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	timeout, err := time.ParseDuration(config.Model.Timeout)
	if err != nil {
		timeout = 10 * time.Minute
	}

	settings := Settings{
		LabeledPath:   getEnvOrDefault(common.EnvLabeledPath, config.Data.LabeledPath),
		TestPath:      getEnvOrDefault(common.EnvTestPath, config.Data.TestPath),
		UnlabeledPath: getEnvOrDefault(common.EnvUnlabeledPath, config.Data.UnlabeledPath),
		Classes:       getIntFromEnvOrConfig(common.EnvClasses, config.Data.Classes, 0),
		MaxSeqLength:  getIntFromEnvOrConfig(common.EnvMaxSeqLength, config.Data.MaxSeqLength, common.DefaultMaxSeqLength),
		ValidSplit:    getFloatFromEnvOrConfig(common.EnvValidSplit, config.Data.ValidSplit, common.DefaultValidSplit),

		ModelDir:         getEnvOrDefault(common.EnvModelDir, orDefault(config.Model.Dir, common.DefaultModelDir)),
		ModelURL:         getEnvOrDefault(common.EnvModelURL, config.Model.URL),
		ModelTimeout:     getDurationOrDefault(common.EnvModelTimeout, timeout),
		HashDim:          getIntFromEnvOrConfig(common.EnvHashDim, config.Model.HashDim, common.DefaultHashDim),
		DenseDropout:     getFloatFromEnvOrConfig(common.EnvDenseDropout, config.Model.DenseDropout, common.DefaultDenseDropout),
		AttentionDropout: getFloatFromEnvOrConfig(common.EnvAttentionDropout, config.Model.AttentionDropout, common.DefaultAttentionDropout),
		HiddenDropout:    getFloatFromEnvOrConfig(common.EnvHiddenDropout, config.Model.HiddenDropout, common.DefaultHiddenDropout),

		NBase:               getIntFromEnvOrConfig(common.EnvNBase, config.Training.NBase, common.DefaultNBase),
		SupEpochs:           getIntFromEnvOrConfig(common.EnvSupEpochs, config.Training.SupEpochs, common.DefaultSupEpochs),
		SupBatchSize:        getIntFromEnvOrConfig(common.EnvSupBatchSize, config.Training.SupBatchSize, common.DefaultSupBatchSize),
		InitialLearningRate: getFloatFromEnvOrConfig(common.EnvInitialLearningRate, config.Training.InitialLearningRate, common.BaseInitialLearningRate),
		EndLearningRate:     getFloatFromEnvOrConfig(common.EnvEndLearningRate, config.Training.EndLearningRate, common.BaseEndLearningRate),
		Patience:            getIntFromEnvOrConfig(common.EnvPatience, config.Training.Patience, common.DefaultPatience),
		Replicas:            getIntFromEnvOrConfig(common.EnvReplicas, config.Training.Replicas, common.DefaultReplicas),
		Seed:                getUintFromEnvOrConfig(common.EnvSeed, config.Training.Seed, common.DefaultSeed),

		SampleScheme:        getEnvOrDefault(common.EnvSampleScheme, orDefault(config.SelfTraining.SampleScheme, common.DefaultSampleScheme)),
		Iterations:          getIntFromEnvOrConfig(common.EnvIterations, config.SelfTraining.Iterations, common.DefaultIterations),
		SampleSize:          getIntFromEnvOrConfig(common.EnvSampleSize, config.SelfTraining.SampleSize, common.DefaultSampleSize),
		UnsupSize:           getIntFromEnvOrConfig(common.EnvUnsupSize, config.SelfTraining.UnsupSize, common.DefaultUnsupSize),
		Passes:              getIntFromEnvOrConfig(common.EnvPasses, config.SelfTraining.Passes, common.DefaultPasses),
		Alpha:               getFloatFromEnvOrConfig(common.EnvAlpha, config.SelfTraining.Alpha, common.DefaultAlpha),
		UnsupEpochs:         getIntFromEnvOrConfig(common.EnvUnsupEpochs, config.SelfTraining.UnsupEpochs, common.DefaultUnsupEpochs),
		UnsupBatchSize:      getIntFromEnvOrConfig(common.EnvUnsupBatchSize, config.SelfTraining.UnsupBatchSize, common.DefaultUnsupBatchSize),
		PredictBatchSize:    getIntFromEnvOrConfig(common.EnvPredictBatchSize, config.SelfTraining.PredictBatchSize, common.DefaultPredictBatchSize),
		LargeBatchThreshold: getIntFromEnvOrConfig(common.EnvLargeBatchThreshold, config.SelfTraining.LargeBatchThreshold, common.DefaultLargeBatchThreshold),

		MetricsPort: getIntFromEnvOrConfig(common.EnvMetricsPort, config.System.MetricsPort, common.DefaultMetricsPort),
		EventsPort:  getIntFromEnvOrConfig(common.EnvEventsPort, config.System.EventsPort, common.DefaultEventsPort),
		LogLevel:    getEnvOrDefault(common.EnvLogLevel, orDefault(config.System.LogLevel, common.DefaultLogLevel)),
		Progress:    getBoolFromEnvOrConfig(common.EnvProgress, config.System.Progress),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func loadFromEnv() (Settings, error) {
	labeled, err := getEnvRequired(common.EnvLabeledPath)
	if err != nil {
		return Settings{}, err
	}
	test, err := getEnvRequired(common.EnvTestPath)
	if err != nil {
		return Settings{}, err
	}
	unlabeled, err := getEnvRequired(common.EnvUnlabeledPath)
	if err != nil {
		return Settings{}, err
	}

	settings := Settings{
		LabeledPath:   labeled,
		TestPath:      test,
		UnlabeledPath: unlabeled,
		Classes:       getIntOrDefault(common.EnvClasses, 0), // 0 = infer from labels
		MaxSeqLength:  getIntOrDefault(common.EnvMaxSeqLength, common.DefaultMaxSeqLength),
		ValidSplit:    getFloatOrDefault(common.EnvValidSplit, common.DefaultValidSplit),

		ModelDir:         getEnvOrDefault(common.EnvModelDir, common.DefaultModelDir),
		ModelURL:         os.Getenv(common.EnvModelURL), // optional
		ModelTimeout:     getDurationOrDefault(common.EnvModelTimeout, 10*time.Minute),
		HashDim:          getIntOrDefault(common.EnvHashDim, common.DefaultHashDim),
		DenseDropout:     getFloatOrDefault(common.EnvDenseDropout, common.DefaultDenseDropout),
		AttentionDropout: getFloatOrDefault(common.EnvAttentionDropout, common.DefaultAttentionDropout),
		HiddenDropout:    getFloatOrDefault(common.EnvHiddenDropout, common.DefaultHiddenDropout),

		NBase:               getIntOrDefault(common.EnvNBase, common.DefaultNBase),
		SupEpochs:           getIntOrDefault(common.EnvSupEpochs, common.DefaultSupEpochs),
		SupBatchSize:        getIntOrDefault(common.EnvSupBatchSize, common.DefaultSupBatchSize),
		InitialLearningRate: getFloatOrDefault(common.EnvInitialLearningRate, common.BaseInitialLearningRate),
		EndLearningRate:     getFloatOrDefault(common.EnvEndLearningRate, common.BaseEndLearningRate),
		Patience:            getIntOrDefault(common.EnvPatience, common.DefaultPatience),
		Replicas:            getIntOrDefault(common.EnvReplicas, common.DefaultReplicas),
		Seed:                getUintOrDefault(common.EnvSeed, common.DefaultSeed),

		SampleScheme:        getEnvOrDefault(common.EnvSampleScheme, common.DefaultSampleScheme),
		Iterations:          getIntOrDefault(common.EnvIterations, common.DefaultIterations),
		SampleSize:          getIntOrDefault(common.EnvSampleSize, common.DefaultSampleSize),
		UnsupSize:           getIntOrDefault(common.EnvUnsupSize, common.DefaultUnsupSize),
		Passes:              getIntOrDefault(common.EnvPasses, common.DefaultPasses),
		Alpha:               getFloatOrDefault(common.EnvAlpha, common.DefaultAlpha),
		UnsupEpochs:         getIntOrDefault(common.EnvUnsupEpochs, common.DefaultUnsupEpochs),
		UnsupBatchSize:      getIntOrDefault(common.EnvUnsupBatchSize, common.DefaultUnsupBatchSize),
		PredictBatchSize:    getIntOrDefault(common.EnvPredictBatchSize, common.DefaultPredictBatchSize),
		LargeBatchThreshold: getIntOrDefault(common.EnvLargeBatchThreshold, common.DefaultLargeBatchThreshold),

		MetricsPort: getIntOrDefault(common.EnvMetricsPort, common.DefaultMetricsPort),
		EventsPort:  getIntOrDefault(common.EnvEventsPort, common.DefaultEventsPort),
		LogLevel:    getEnvOrDefault(common.EnvLogLevel, common.DefaultLogLevel),
		Progress:    getBoolOrDefault(common.EnvProgress, false),
	}

	if err := validateSettings(&settings); err != nil {
		return Settings{}, fmt.Errorf("configuration validation failed: %w", err)
	}
	return settings, nil
}

func getEnvRequired(key string) (string, error) {
	v := os.Getenv(key)
	if v == "" {
		return "", fmt.Errorf("required environment variable %s is missing", key)
	}
	return v, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func orDefault(v, defaultValue string) string {
	if v != "" {
		return v
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return defaultValue
}

func getUintOrDefault(key string, defaultValue uint64) uint64 {
	if v := os.Getenv(key); v != "" {
		if u, err := strconv.ParseUint(v, 10, 64); err == nil {
			return u
		}
	}
	return defaultValue
}

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultValue
}

func getIntFromEnvOrConfig(key string, configValue, defaultValue int) int {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.Atoi(env); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getUintFromEnvOrConfig(key string, configValue, defaultValue uint64) uint64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseUint(env, 10, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getFloatFromEnvOrConfig(key string, configValue, defaultValue float64) float64 {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseFloat(env, 64); err == nil {
			return val
		}
	}
	if configValue != 0 {
		return configValue
	}
	return defaultValue
}

func getBoolFromEnvOrConfig(key string, configValue bool) bool {
	if env := os.Getenv(key); env != "" {
		if val, err := strconv.ParseBool(env); err == nil {
			return val
		}
	}
	return configValue
}

// validateSettings range-checks every value and parses the sampling scheme,
// so that a bad scheme fails before any data is loaded.
func validateSettings(settings *Settings) error {
	// Data
	if settings.LabeledPath == "" || settings.TestPath == "" || settings.UnlabeledPath == "" {
		return fmt.Errorf("labeled, test and unlabeled data paths are required")
	}
	if settings.Classes < 0 || settings.Classes == 1 {
		return fmt.Errorf("classes must be 0 (infer) or at least 2, got %d", settings.Classes)
	}
	if settings.MaxSeqLength < 4 || settings.MaxSeqLength > common.MaxSeqLengthLimit {
		return fmt.Errorf("max sequence length must be between 4 and %d, got %d", common.MaxSeqLengthLimit, settings.MaxSeqLength)
	}
	if settings.ValidSplit < 0 || settings.ValidSplit >= 1 {
		return fmt.Errorf("valid split must be in [0, 1), got %f", settings.ValidSplit)
	}

	// Model
	if settings.ModelDir == "" {
		return fmt.Errorf("model directory cannot be empty")
	}
	if settings.ModelTimeout < time.Second || settings.ModelTimeout > 24*time.Hour {
		return fmt.Errorf("model timeout must be between 1s and 24h, got %v", settings.ModelTimeout)
	}
	if settings.HashDim <= 0 {
		return fmt.Errorf("hash dimension must be positive, got %d", settings.HashDim)
	}
	for name, p := range map[string]float64{
		"dense":     settings.DenseDropout,
		"attention": settings.AttentionDropout,
		"hidden":    settings.HiddenDropout,
	} {
		if p < 0 || p >= 1 {
			return fmt.Errorf("%s dropout must be in [0, 1), got %f", name, p)
		}
	}

	// Base model training
	if settings.NBase <= 0 {
		return fmt.Errorf("number of base models must be positive, got %d", settings.NBase)
	}
	if settings.SupEpochs <= 0 || settings.SupBatchSize <= 0 {
		return fmt.Errorf("sup epochs and batch size must be positive, got %d and %d", settings.SupEpochs, settings.SupBatchSize)
	}
	if settings.InitialLearningRate <= 0 || settings.EndLearningRate < 0 || settings.EndLearningRate > settings.InitialLearningRate {
		return fmt.Errorf("learning rate must decay from a positive value, got %g -> %g", settings.InitialLearningRate, settings.EndLearningRate)
	}
	if settings.Patience < 0 {
		return fmt.Errorf("patience must not be negative, got %d", settings.Patience)
	}
	if settings.Replicas <= 0 {
		return fmt.Errorf("replicas must be positive, got %d", settings.Replicas)
	}

	// Self-training
	scheme, err := sampling.ParseScheme(settings.SampleScheme)
	if err != nil {
		return err
	}
	settings.Scheme = scheme
	if settings.Iterations < 0 {
		return fmt.Errorf("iterations must not be negative, got %d", settings.Iterations)
	}
	if settings.SampleSize <= 0 || settings.UnsupSize <= 0 {
		return fmt.Errorf("sample size and unsup size must be positive, got %d and %d", settings.SampleSize, settings.UnsupSize)
	}
	if settings.UnsupSize > settings.SampleSize {
		return fmt.Errorf("unsup size %d exceeds sample size %d", settings.UnsupSize, settings.SampleSize)
	}
	if settings.Passes <= 0 || settings.Passes > common.MaxPassesLimit {
		return fmt.Errorf("MC dropout passes must be between 1 and %d, got %d", common.MaxPassesLimit, settings.Passes)
	}
	if settings.Alpha < 0 {
		return fmt.Errorf("alpha must not be negative, got %f", settings.Alpha)
	}
	if settings.UnsupEpochs <= 0 || settings.UnsupBatchSize <= 0 || settings.PredictBatchSize <= 0 {
		return fmt.Errorf("unsup epochs, unsup batch size and predict batch size must be positive")
	}
	if settings.LargeBatchThreshold < 0 {
		return fmt.Errorf("large batch threshold must not be negative, got %d", settings.LargeBatchThreshold)
	}

	// System
	for name, port := range map[string]int{"metrics": settings.MetricsPort, "events": settings.EventsPort} {
		if port < common.MinPort || port > common.MaxPort {
			return fmt.Errorf("%s port must be between %d and %d, got %d", name, common.MinPort, common.MaxPort, port)
		}
	}
	if settings.MetricsPort == settings.EventsPort {
		return fmt.Errorf("metrics and events ports must differ, both are %d", settings.MetricsPort)
	}
	if _, err := zerolog.ParseLevel(settings.LogLevel); err != nil {
		return fmt.Errorf("invalid log level %q: %w", settings.LogLevel, err)
	}

	return nil
}
