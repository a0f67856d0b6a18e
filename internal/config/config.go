// Package config provides configuration loading with layered overrides.
// Load order: defaults -> YAML file -> environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	configloader "github.com/GabrielNunesIT/go-libs/config-loader"
)

// EnvPrefix prefixes every environment override, e.g. EDGE_EVENTS_LOGLEVEL.
const EnvPrefix = "EDGE_EVENTS_"

// DefaultPaths are searched in order when no config file is given.
var DefaultPaths = []string{"./config.yaml", "/etc/edge-events/config.yaml"}

// Backend names.
const (
	BackendElasticsearch = "elasticsearch"
	BackendDynamoDB      = "dynamodb"
)

// Object source names.
const (
	SourceS3         = "s3"
	SourceFilesystem = "filesystem"
)

// Ledger types.
const (
	LedgerNone  = "none"
	LedgerFile  = "file"
	LedgerRedis = "redis"
)

// MaxBatchSize is the largest batch a single backend write accepts.
const MaxBatchSize = 25

// Config is the root configuration structure.
type Config struct {
	LogLevel      string              `koanf:"loglevel" yaml:"log_level" json:"log_level"`
	Logging       LoggingConfig       `koanf:"logging"`
	Backend       string              `koanf:"backend"`
	ObjectSource  string              `koanf:"objectsource" yaml:"object_source" json:"object_source"`
	Filesystem    FilesystemConfig    `koanf:"filesystem"`
	S3            S3Config            `koanf:"s3"`
	Elasticsearch ElasticsearchConfig `koanf:"elasticsearch"`
	DynamoDB      DynamoDBConfig      `koanf:"dynamodb"`
	Pipeline      PipelineConfig      `koanf:"pipeline"`
	Query         QueryConfig         `koanf:"query"`
	Server        ServerConfig        `koanf:"server"`
	Ledger        LedgerConfig        `koanf:"ledger"`
	Watch         WatchConfig         `koanf:"watch"`
	Output        OutputConfig        `koanf:"output"`
}

// LoggingConfig controls the log output. An empty File logs to stderr only.
type LoggingConfig struct {
	Format     string `koanf:"format"` // "console" or "json"
	File       string `koanf:"file"`
	MaxSizeMB  int    `koanf:"maxsizemb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `koanf:"maxbackups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `koanf:"maxagedays" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// FilesystemConfig configures the local object source. Objects live at
// <root>/<bucket>/<key>.
type FilesystemConfig struct {
	Root string `koanf:"root"`
}

// S3Config configures the remote object source and archival.
type S3Config struct {
	Region             string `koanf:"region"`
	Endpoint           string `koanf:"endpoint"`
	UsePathStyle       bool   `koanf:"usepathstyle" yaml:"use_path_style" json:"use_path_style"`
	ArchiveBucket      string `koanf:"archivebucket" yaml:"archive_bucket" json:"archive_bucket"`
	ArchivePrefix      string `koanf:"archiveprefix" yaml:"archive_prefix" json:"archive_prefix"`
	DeleteAfterArchive bool   `koanf:"deleteafterarchive" yaml:"delete_after_archive" json:"delete_after_archive"`
}

// ElasticsearchConfig configures the document store.
type ElasticsearchConfig struct {
	Addresses   []string      `koanf:"addresses"`
	Index       string        `koanf:"index"`
	Username    string        `koanf:"username"`
	Password    string        `koanf:"password"`
	FlushBytes  int           `koanf:"flushbytes" yaml:"flush_bytes" json:"flush_bytes"`
	Workers     int           `koanf:"workers"`
	EnsureIndex bool          `koanf:"ensureindex" yaml:"ensure_index" json:"ensure_index"`
	Timeout     time.Duration `koanf:"timeout"`
}

// DynamoDBConfig configures the wide-column store.
type DynamoDBConfig struct {
	Region       string `koanf:"region"`
	Endpoint     string `koanf:"endpoint"`
	Table        string `koanf:"table"`
	Index        string `koanf:"index"`
	Source       string `koanf:"source"`
	WriteRetries int    `koanf:"writeretries" yaml:"write_retries" json:"write_retries"`
	EnsureTable  bool   `koanf:"ensuretable" yaml:"ensure_table" json:"ensure_table"`
}

// PipelineConfig controls ingestion.
type PipelineConfig struct {
	BatchSize        int    `koanf:"batchsize" yaml:"batch_size" json:"batch_size"`
	Concurrency      int    `koanf:"concurrency"`
	BatchConcurrency int    `koanf:"batchconcurrency" yaml:"batch_concurrency" json:"batch_concurrency"`
	ContentType      string `koanf:"contenttype" yaml:"content_type" json:"content_type"`
	Timezone         string `koanf:"timezone"`
}

// QueryConfig controls filter validation.
type QueryConfig struct {
	StrictOperators bool `koanf:"strictoperators" yaml:"strict_operators" json:"strict_operators"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Address         string        `koanf:"address"`
	ReadTimeout     time.Duration `koanf:"readtimeout" yaml:"read_timeout" json:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"writetimeout" yaml:"write_timeout" json:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdowntimeout" yaml:"shutdown_timeout" json:"shutdown_timeout"`
	MaxBodyBytes    int64         `koanf:"maxbodybytes" yaml:"max_body_bytes" json:"max_body_bytes"`
}

// LedgerConfig selects where processed objects are remembered.
type LedgerConfig struct {
	Type  string      `koanf:"type"`
	Path  string      `koanf:"path"`
	Redis RedisConfig `koanf:"redis"`
}

// RedisConfig configures the Redis ledger.
type RedisConfig struct {
	Address  string `koanf:"address"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db"`
	Key      string `koanf:"key"`
}

// WatchConfig configures the local drop directory.
type WatchConfig struct {
	Dir      string        `koanf:"dir"`
	Debounce time.Duration `koanf:"debounce"`
}

// OutputConfig configures where dry-run ingestion writes events. An empty
// Path writes to stdout.
type OutputConfig struct {
	Format     string `koanf:"format"` // "json" or "text"
	Path       string `koanf:"path"`
	MaxSizeMB  int    `koanf:"maxsizemb" yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `koanf:"maxbackups" yaml:"max_backups" json:"max_backups"`
	MaxAgeDays int    `koanf:"maxagedays" yaml:"max_age_days" json:"max_age_days"`
	Compress   bool   `koanf:"compress"`
}

// defaults returns the default configuration values.
func defaults() Config {
	return Config{
		LogLevel: "info",
		Logging: LoggingConfig{
			Format:     "console",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
		Backend:      BackendElasticsearch,
		ObjectSource: SourceS3,
		Filesystem: FilesystemConfig{
			Root: "./data",
		},
		S3: S3Config{
			Region: "us-east-1",
		},
		Elasticsearch: ElasticsearchConfig{
			Addresses:  []string{"http://localhost:9200"},
			Index:      "edge-events",
			FlushBytes: 5e+6,
			Workers:    2,
			Timeout:    30 * time.Second,
		},
		DynamoDB: DynamoDBConfig{
			Region:       "us-east-1",
			Table:        "edge-events",
			Index:        "event_source-event_timeStamp-index",
			Source:       "Website",
			WriteRetries: 5,
		},
		Pipeline: PipelineConfig{
			BatchSize:        MaxBatchSize,
			Concurrency:      4,
			BatchConcurrency: 1,
			ContentType:      "application/x-gzip",
		},
		Query: QueryConfig{
			StrictOperators: true,
		},
		Server: ServerConfig{
			Address:         ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			MaxBodyBytes:    1 << 20,
		},
		Ledger: LedgerConfig{
			Type: LedgerFile,
			Path: "./edge-events-ledger.json",
			Redis: RedisConfig{
				Address: "localhost:6379",
				Key:     "edge-events:processed",
			},
		},
		Watch: WatchConfig{
			Dir:      "./inbox",
			Debounce: 500 * time.Millisecond,
		},
		Output: OutputConfig{
			Format:     "json",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
			Compress:   true,
		},
	}
}

// Load reads configuration from all sources with proper override order.
// Order: defaults -> config file -> environment variables.
func Load(configPath string) (*Config, error) {
	opts := []configloader.Option[Config]{
		configloader.WithDefaults[Config](defaults()),
	}

	if configPath != "" {
		opts = append(opts, configloader.WithFile[Config](configPath))
	} else {
		for _, path := range DefaultPaths {
			if _, err := os.Stat(path); err == nil {
				opts = append(opts, configloader.WithFile[Config](path))
				break
			}
		}
	}

	opts = append(opts, configloader.WithEnv[Config](EnvPrefix))

	loader := configloader.NewConfigLoader[Config](opts...)
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate reports every setting that would prevent the process from running.
func (c *Config) Validate() error {
	var errs []error

	switch c.Backend {
	case BackendElasticsearch:
		if len(c.Elasticsearch.Addresses) == 0 {
			errs = append(errs, errors.New("elasticsearch.addresses must not be empty"))
		}
		if c.Elasticsearch.Index == "" {
			errs = append(errs, errors.New("elasticsearch.index is required"))
		}
	case BackendDynamoDB:
		if c.DynamoDB.Table == "" {
			errs = append(errs, errors.New("dynamodb.table is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown backend %q", c.Backend))
	}

	switch c.ObjectSource {
	case SourceS3:
	case SourceFilesystem:
		if c.Filesystem.Root == "" {
			errs = append(errs, errors.New("filesystem.root is required"))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown objectsource %q", c.ObjectSource))
	}

	if c.Pipeline.BatchSize < 1 || c.Pipeline.BatchSize > MaxBatchSize {
		errs = append(errs, fmt.Errorf("pipeline.batchsize must be between 1 and %d, got %d", MaxBatchSize, c.Pipeline.BatchSize))
	}
	if c.Pipeline.Concurrency < 1 {
		errs = append(errs, fmt.Errorf("pipeline.concurrency must be positive, got %d", c.Pipeline.Concurrency))
	}
	if c.Pipeline.BatchConcurrency < 1 {
		errs = append(errs, fmt.Errorf("pipeline.batchconcurrency must be positive, got %d", c.Pipeline.BatchConcurrency))
	}
	if _, err := c.Location(); err != nil {
		errs = append(errs, err)
	}

	switch c.Ledger.Type {
	case LedgerNone, LedgerFile, LedgerRedis:
	default:
		errs = append(errs, fmt.Errorf("unknown ledger.type %q", c.Ledger.Type))
	}

	return errors.Join(errs...)
}

// Location returns the timezone log timestamps are interpreted in.
func (c *Config) Location() (*time.Location, error) {
	if c.Pipeline.Timezone == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(c.Pipeline.Timezone)
	if err != nil {
		return nil, fmt.Errorf("pipeline.timezone: %w", err)
	}
	return loc, nil
}
