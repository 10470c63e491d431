package sluice

import (
	"fmt"
	"os"
	"runtime"
	"time"

	"github.com/go-sif/sluice/logging"
	"github.com/go-sif/sluice/substrate"
	"go.uber.org/zap"
	"gopkg.in/yaml.v2"
)

// Options configure a Pipeline. The zero value of every field selects its default.
type Options struct {
	Parallelism          int                 `yaml:"parallelism"`            // Maximum number of tasks running at once. Defaults to runtime.NumCPU().
	ShuffleShards        int                 `yaml:"shuffle_shards"`         // Number of tasks reading each GroupByKey. Defaults to Parallelism.
	MaxTaskAttempts      int                 `yaml:"max_task_attempts"`      // Attempts allowed per task before its stage fails. Defaults to 4.
	RetryInitialInterval time.Duration       `yaml:"retry_initial_interval"` // Delay before a task's first retry. Defaults to 100ms.
	RetryMaxInterval     time.Duration       `yaml:"retry_max_interval"`     // Upper bound on the delay between retries. Defaults to 5s.
	DisableCombiner      bool                `yaml:"disable_combiner"`       // Never run combiners before a shuffle
	IgnoreRecordErrors   bool                `yaml:"ignore_record_errors"`   // Log and skip records for which a DoFn or Combiner fails, rather than failing the task
	ShuffleMemoryLimit   int64               `yaml:"shuffle_memory_limit"`   // Bytes of compressed shuffle data held in memory before older outputs spill to disk. Defaults to no limit.
	TempDir              string              `yaml:"temp_dir"`               // Directory for shuffle spill files. Defaults to os.TempDir().
	LogLevel             string              `yaml:"log_level"`              // Level of the default logger. Defaults to "info".
	Logger               *zap.Logger         `yaml:"-"`                      // Overrides the default logger
	Substrate            substrate.Substrate `yaml:"-"`                      // Overrides the default in-process substrate. The Pipeline does not close it.
}

// LoadOptions reads Options from a YAML file
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	opts := &Options{}
	if err := yaml.UnmarshalStrict(data, opts); err != nil {
		return nil, fmt.Errorf("parse options %s: %w", path, err)
	}
	return opts, nil
}

// ensureDefaultOptionsValues fills in defaults for any option which was not supplied
func ensureDefaultOptionsValues(opts *Options) error {
	if opts.Parallelism <= 0 {
		opts.Parallelism = runtime.NumCPU()
	}
	if opts.ShuffleShards <= 0 {
		opts.ShuffleShards = opts.Parallelism
	}
	if opts.MaxTaskAttempts <= 0 {
		opts.MaxTaskAttempts = 4
	}
	if opts.RetryInitialInterval <= 0 {
		opts.RetryInitialInterval = 100 * time.Millisecond
	}
	if opts.RetryMaxInterval <= 0 {
		opts.RetryMaxInterval = 5 * time.Second
	}
	if opts.LogLevel == "" {
		opts.LogLevel = logging.InfoLevel
	}
	if opts.Logger == nil {
		logger, err := logging.New(opts.LogLevel)
		if err != nil {
			return err
		}
		opts.Logger = logger
	}
	return nil
}
