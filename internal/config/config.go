// Package config holds the command line and environment configuration of
// the worlds service and sets up logging from it.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/aleksaelezovic/worlds/pkg/codec"
)

// Backend names accepted by the *Backend options
const (
	BackendMemory   = "memory"
	BackendBadger   = "badger"
	BackendMinio    = "minio"
	BackendDynamoDB = "dynamodb"
	BackendDuckDB   = "duckdb"
	BackendNone     = "none"
)

// The top level config for all worlds operations
type Config struct {
	Storage   StorageConfig
	Minio     MinioConfig
	RateLimit RateLimitConfig
	Usage     UsageConfig
	Service   ServiceConfig
	Telemetry TelemetryConfig
}

// The config for the local data directory and the blob backend
type StorageConfig struct {
	DataDir     string `arg:"--data-dir,env:WORLDS_DATA_DIR" help:"directory of the badger database" default:"./worlds_data"`
	BlobBackend string `arg:"--blob-backend,env:WORLDS_BLOB_BACKEND" help:"where world blobs live: badger or minio" default:"badger"`
	Format      string `arg:"--format,env:WORLDS_FORMAT" help:"serialization of stored blobs: n-quads or trig" default:"n-quads"`
	Compression string `arg:"--compression,env:WORLDS_COMPRESSION" help:"compression of stored blobs" default:"gzip"`
}

// The config for minio/s3 blob storage
type MinioConfig struct {
	Endpoint  string `arg:"--s3-endpoint,env:WORLDS_S3_ENDPOINT" help:"host:port of the s3 server" default:"127.0.0.1:9000"`
	AccessKey string `arg:"--s3-access-key,env:WORLDS_S3_ACCESS_KEY" help:"Access Key (i.e. username)" default:"minioadmin"`
	SecretKey string `arg:"--s3-secret-key,env:WORLDS_S3_SECRET_KEY" help:"Secret Key (i.e. password)" default:"minioadmin"`
	Bucket    string `arg:"--s3-bucket,env:WORLDS_S3_BUCKET" help:"bucket holding the blobs" default:"worlds"`
	Prefix    string `arg:"--s3-prefix,env:WORLDS_S3_PREFIX" help:"object name prefix inside the bucket"`
	SSL       bool   `arg:"--s3-ssl,env:WORLDS_S3_SSL" help:"Use SSL when connecting to s3"`
}

// The config for rate limiting
type RateLimitConfig struct {
	BucketBackend  string `arg:"--bucket-backend,env:WORLDS_BUCKET_BACKEND" help:"token bucket state: memory, badger or dynamodb" default:"badger"`
	PolicyFile     string `arg:"--policy-file,env:WORLDS_POLICY_FILE" help:"JSON file overriding the default rate limit policies"`
	DynamoTable    string `arg:"--dynamo-table,env:WORLDS_DYNAMO_TABLE" help:"DynamoDB table of the token buckets" default:"worlds-rate-limits"`
	DynamoRegion   string `arg:"--dynamo-region,env:WORLDS_DYNAMO_REGION" help:"AWS region of the table" default:"us-east-1"`
	DynamoEndpoint string `arg:"--dynamo-endpoint,env:WORLDS_DYNAMO_ENDPOINT" help:"custom DynamoDB endpoint, e.g. for DynamoDB local"`
}

// The config for usage metering
type UsageConfig struct {
	MeterBackend string `arg:"--meter-backend,env:WORLDS_METER_BACKEND" help:"usage ledger: badger, duckdb or none" default:"badger"`
	// defaults to usage.duckdb inside the data dir
	DuckDBPath string `arg:"--duckdb-path,env:WORLDS_DUCKDB_PATH" help:"DuckDB database file of the usage ledger"`
}

// The config for request handling and index rebuilds
type ServiceConfig struct {
	Timeout            time.Duration `arg:"--timeout,env:WORLDS_TIMEOUT" help:"upper bound of every request" default:"30s"`
	RebuildConcurrency int           `arg:"--rebuild-concurrency,env:WORLDS_REBUILD_CONCURRENCY" help:"worlds indexed in parallel by rebuild" default:"4"`
	// 0 means unpaced
	RebuildRate float64 `arg:"--rebuild-rate,env:WORLDS_REBUILD_RATE" help:"worlds per second started by rebuild, 0 for no limit"`
}

// The config for logs and traces
type TelemetryConfig struct {
	LogLevel     string `arg:"--log-level,env:WORLDS_LOG_LEVEL" default:"INFO"`
	LogJSON      bool   `arg:"--log-json,env:WORLDS_LOG_JSON" help:"log as JSON instead of text"`
	OtelEndpoint string `arg:"--otel-endpoint,env:WORLDS_OTEL_ENDPOINT" help:"OTLP gRPC endpoint; tracing is off when empty"`
}

func oneOf(option, value string, allowed ...string) error {
	for _, a := range allowed {
		if value == a {
			return nil
		}
	}
	return fmt.Errorf("%s must be one of %s, got %q", option, strings.Join(allowed, ", "), value)
}

// Validate reports every invalid option at once
func (c Config) Validate() error {
	var errs []error
	errs = append(errs,
		oneOf("blob backend", c.Storage.BlobBackend, BackendBadger, BackendMinio),
		oneOf("bucket backend", c.RateLimit.BucketBackend, BackendMemory, BackendBadger, BackendDynamoDB),
		oneOf("meter backend", c.Usage.MeterBackend, BackendBadger, BackendDuckDB, BackendNone),
	)
	if format, err := codec.ParseFormat(c.Storage.Format); err != nil {
		errs = append(errs, err)
	} else if !format.Storable() {
		errs = append(errs, fmt.Errorf("format %q does not round-trip blank node labels and is not usable for storage", c.Storage.Format))
	}
	if _, err := codec.ParseCompression(c.Storage.Compression); err != nil {
		errs = append(errs, err)
	}
	if c.Storage.BlobBackend == BackendMinio && c.Minio.Bucket == "" {
		errs = append(errs, errors.New("the minio blob backend needs a bucket"))
	}
	if c.Service.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout must not be negative, got %s", c.Service.Timeout))
	}
	if c.Service.RebuildRate < 0 {
		errs = append(errs, fmt.Errorf("rebuild rate must not be negative, got %v", c.Service.RebuildRate))
	}
	return errors.Join(errs...)
}

// NeedsBadger reports whether any backend keeps its state in the local
// badger database
func (c Config) NeedsBadger() bool {
	return c.Storage.BlobBackend == BackendBadger ||
		c.RateLimit.BucketBackend == BackendBadger ||
		c.Usage.MeterBackend == BackendBadger
}

// DuckDBFile returns the usage ledger path
func (c Config) DuckDBFile() string {
	if c.Usage.DuckDBPath != "" {
		return c.Usage.DuckDBPath
	}
	return filepath.Join(c.Storage.DataDir, "usage.duckdb")
}

// SetupLogging applies the level and formatter to the standard logger
func SetupLogging(cfg TelemetryConfig) error {
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %s: %w", cfg.LogLevel, err)
	}
	log.SetLevel(level)
	if cfg.LogJSON {
		log.SetFormatter(&log.JSONFormatter{})
	} else {
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	}
	return nil
}
