package common

// Environment variable keys
const (
	EnvConfigFile          = "CONFIG_FILE"
	EnvLabeledPath         = "LABELED_PATH"
	EnvTestPath            = "TEST_PATH"
	EnvUnlabeledPath       = "UNLABELED_PATH"
	EnvClasses             = "CLASSES"
	EnvMaxSeqLength        = "MAX_SEQ_LENGTH"
	EnvModelDir            = "MODEL_DIR"
	EnvModelURL            = "MODEL_URL"
	EnvHashDim             = "HASH_DIM"
	EnvDenseDropout        = "DENSE_DROPOUT"
	EnvAttentionDropout    = "ATTENTION_PROBS_DROPOUT"
	EnvHiddenDropout       = "HIDDEN_DROPOUT"
	EnvSupBatchSize        = "SUP_BATCH_SIZE"
	EnvUnsupBatchSize      = "UNSUP_BATCH_SIZE"
	EnvSupEpochs           = "SUP_EPOCHS"
	EnvUnsupEpochs         = "UNSUP_EPOCHS"
	EnvNBase               = "N_BASE"
	EnvValidSplit          = "VALID_SPLIT"
	EnvPatience            = "PATIENCE"
	EnvReplicas            = "REPLICAS"
	EnvSeed                = "SEED"
	EnvSampleScheme        = "SAMPLE_SCHEME"
	EnvIterations          = "ITERATIONS"
	EnvUnsupSize           = "UNSUP_SIZE"
	EnvSampleSize          = "SAMPLE_SIZE"
	EnvPasses              = "MC_PASSES"
	EnvAlpha               = "ALPHA"
	EnvLargeBatchThreshold = "LARGE_BATCH_THRESHOLD"
	EnvMetricsPort         = "METRICS_PORT"
	EnvEventsPort          = "EVENTS_PORT"
	EnvLogLevel            = "LOG_LEVEL"
	EnvProgress            = "PROGRESS"
	EnvInitialLearningRate = "INITIAL_LEARNING_RATE"
	EnvEndLearningRate     = "END_LEARNING_RATE"
	EnvPredictBatchSize    = "PREDICT_BATCH_SIZE"
	EnvModelTimeout        = "MODEL_TIMEOUT"
	EnvEnvFile             = "ENV_FILE"
)

// Configuration defaults
const (
	DefaultMaxSeqLength        = 128
	DefaultModelDir            = "models"
	DefaultHashDim             = 256
	DefaultDenseDropout        = 0.5
	DefaultAttentionDropout    = 0.3
	DefaultHiddenDropout       = 0.3
	DefaultSupBatchSize        = 4
	DefaultUnsupBatchSize      = 32
	DefaultSupEpochs           = 70
	DefaultUnsupEpochs         = 25
	DefaultNBase               = 10
	DefaultValidSplit          = 0.5
	DefaultPatience            = 10
	DefaultReplicas            = 1
	DefaultSeed                = 42
	DefaultSampleScheme        = "easy_bald_class_conf"
	DefaultIterations          = 25
	DefaultUnsupSize           = 4096
	DefaultSampleSize          = 16384
	DefaultPasses              = 30
	DefaultAlpha               = 0.1
	DefaultLargeBatchThreshold = 1000000
	DefaultLogLevel            = "info"
	DefaultPredictBatchSize    = 64
	DefaultMetricsPort         = 8080
	DefaultEventsPort          = 8081
	DefaultModelPort           = 8090
	DefaultEnvFile             = ".env"
)

// Base model optimizer schedule
const (
	BaseInitialLearningRate = 3e-5
	BaseEndLearningRate     = 1e-7
)

// File layout inside the model directory
const (
	BaseCheckpointName     = "model.json"
	IterationCheckpointFmt = "model_%d_%s.json"
	ManifestName           = "checkpoints.json"
	ResultsDBName          = "results.db"
)

// Validation constants
const (
	MaxSeqLengthLimit = 4096
	MaxPassesLimit    = 1000
	MinPort           = 1024
	MaxPort           = 65535
)
