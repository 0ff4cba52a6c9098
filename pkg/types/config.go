// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

package types

import "time"

// Stage names of the training pipeline, in execution order.
const (
	StageReadData       = "read-data"
	StageAddFeatures    = "add-features"
	StageTune           = "tune"
	StageTrainBest      = "train-best"
	StageUpdateChampion = "update-champion"
)

// AllStages lists every pipeline stage in execution order.
var AllStages = []string{
	StageReadData,
	StageAddFeatures,
	StageTune,
	StageTrainBest,
	StageUpdateChampion,
}

// PromotionTarget selects which model version the champion alias is moved to.
type PromotionTarget string

const (
	// PromoteMinLossRun promotes the version registered by the run with the
	// lowest recorded loss.
	PromoteMinLossRun PromotionTarget = "min-loss-run"

	// PromoteLatestVersion promotes the highest version number regardless of
	// which run produced it.
	PromoteLatestVersion PromotionTarget = "latest-version"
)

// DataConfig holds settings for locating trip data files.
type DataConfig struct {
	// Dir is the directory holding the monthly trip files.
	Dir string `json:"dir" yaml:"dir"`

	// Color is the taxi fleet prefix of the file names (e.g. "green").
	Color string `json:"color" yaml:"color"`
}

// TrackingConfig holds settings for the experiment tracking store.
type TrackingConfig struct {
	// Dir is the root directory of the tracking database and artifacts.
	Dir string `json:"dir" yaml:"dir"`

	// Experiment is the experiment name recorded on every run.
	Experiment string `json:"experiment" yaml:"experiment"`
}

// RegistryConfig holds settings for model registration and promotion.
type RegistryConfig struct {
	// ModelName is the registered model name versions are created under.
	ModelName string `json:"model_name" yaml:"model_name"`

	// Alias is the champion alias reassigned by the update-champion stage.
	Alias string `json:"alias" yaml:"alias"`

	// PromotionTarget is either "min-loss-run" (default) or "latest-version".
	PromotionTarget PromotionTarget `json:"promotion_target" yaml:"promotion_target"`

	// Metric is the run metric that ranks runs (lower is better).
	Metric string `json:"metric" yaml:"metric"`
}

// SearchConfig holds settings for the hyperparameter search.
type SearchConfig struct {
	// MaxEvals is the number of trials evaluated by the search loop.
	MaxEvals int `json:"max_evals" yaml:"max_evals"`

	// Gamma is the fraction of observations treated as "good" by TPE.
	Gamma float64 `json:"gamma" yaml:"gamma"`

	// Candidates is the number of samples drawn from the good density per proposal.
	Candidates int `json:"candidates" yaml:"candidates"`

	// Startup is the number of trials drawn from the prior before TPE takes over.
	Startup int `json:"startup" yaml:"startup"`

	// Seed seeds the proposer's random source.
	Seed uint64 `json:"seed" yaml:"seed"`
}

// TrainingConfig holds boosting settings shared by trials and the final fit.
type TrainingConfig struct {
	// NumRounds is the upper bound of boosting rounds.
	NumRounds int `json:"num_rounds" yaml:"num_rounds"`

	// EarlyStoppingRounds stops training when validation loss has not
	// improved for this many rounds.
	EarlyStoppingRounds int `json:"early_stopping_rounds" yaml:"early_stopping_rounds"`
}

// PipelineConfig holds orchestration settings.
type PipelineConfig struct {
	// Stages lists the enabled stages. Empty means all stages.
	Stages []string `json:"stages" yaml:"stages"`

	// IngestRetries is the number of retries of the read-data stage.
	IngestRetries int `json:"ingest_retries" yaml:"ingest_retries"`

	// IngestRetryDelay is the fixed delay between read-data attempts.
	IngestRetryDelay time.Duration `json:"ingest_retry_delay" yaml:"ingest_retry_delay"`

	// ModelsDir is where the fitted preprocessor is written before it is logged.
	ModelsDir string `json:"models_dir" yaml:"models_dir"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `json:"level" yaml:"level"`

	// Format is "json" (default) or "console".
	Format string `json:"format" yaml:"format"`
}

// MetricsConfig holds Prometheus export settings.
type MetricsConfig struct {
	// Textfile is the path of a node-exporter textfile written after a run.
	// Empty disables the export.
	Textfile string `json:"textfile" yaml:"textfile"`
}

// Config groups all settings of the trip-trainer pipeline.
type Config struct {
	Data     DataConfig     `json:"data" yaml:"data"`
	Tracking TrackingConfig `json:"tracking" yaml:"tracking"`
	Registry RegistryConfig `json:"registry" yaml:"registry"`
	Search   SearchConfig   `json:"search" yaml:"search"`
	Training TrainingConfig `json:"training" yaml:"training"`
	Pipeline PipelineConfig `json:"pipeline" yaml:"pipeline"`
	Log      LogConfig      `json:"log" yaml:"log"`
	Metrics  MetricsConfig  `json:"metrics" yaml:"metrics"`
}

// DefaultConfig returns the configuration used when no file or environment
// override is present.
func DefaultConfig() Config {
	return Config{
		Data: DataConfig{
			Dir:   "data",
			Color: "green",
		},
		Tracking: TrackingConfig{
			Dir:        "mlruns",
			Experiment: "nyc-taxi-experiment",
		},
		Registry: RegistryConfig{
			ModelName:       "nyc-taxi-model",
			Alias:           "champion",
			PromotionTarget: PromoteMinLossRun,
			Metric:          "rmse",
		},
		Search: SearchConfig{
			MaxEvals:   10,
			Gamma:      0.25,
			Candidates: 24,
			Startup:    1,
			Seed:       42,
		},
		Training: TrainingConfig{
			NumRounds:           100,
			EarlyStoppingRounds: 10,
		},
		Pipeline: PipelineConfig{
			Stages:           append([]string(nil), AllStages...),
			IngestRetries:    4,
			IngestRetryDelay: 10 * time.Second,
			ModelsDir:        "models",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
