package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/aleksaelezovic/worlds/internal/config"
	"github.com/aleksaelezovic/worlds/internal/storage"
	"github.com/aleksaelezovic/worlds/pkg/blob"
	"github.com/aleksaelezovic/worlds/pkg/codec"
	"github.com/aleksaelezovic/worlds/pkg/ratelimit"
	"github.com/aleksaelezovic/worlds/pkg/store"
	"github.com/aleksaelezovic/worlds/pkg/usage"
	"github.com/aleksaelezovic/worlds/pkg/world"
)

// backends are the opened storage systems behind one world.Service
type backends struct {
	deps    world.Deps
	closers []func() error
}

func (b *backends) Close() error {
	var errs []error
	for i := len(b.closers) - 1; i >= 0; i-- {
		errs = append(errs, b.closers[i]())
	}
	return errors.Join(errs...)
}

// openBackends connects every backend cfg selects. On failure whatever was
// already opened is closed again.
func openBackends(ctx context.Context, cfg config.Config, reg prometheus.Registerer) (_ *backends, err error) {
	b := &backends{}
	defer func() {
		if err != nil {
			_ = b.Close()
		}
	}()

	var kv store.Storage
	if cfg.NeedsBadger() {
		badgerStorage, err := storage.NewBadgerStorage(cfg.Storage.DataDir)
		if err != nil {
			return nil, fmt.Errorf("failed to open badger at %s: %w", cfg.Storage.DataDir, err)
		}
		b.closers = append(b.closers, badgerStorage.Close)
		kv = badgerStorage
	}

	switch cfg.Storage.BlobBackend {
	case config.BackendMinio:
		client, err := blob.NewMinioClient(ctx, blob.MinioConfig{
			Endpoint:  cfg.Minio.Endpoint,
			AccessKey: cfg.Minio.AccessKey,
			SecretKey: cfg.Minio.SecretKey,
			Bucket:    cfg.Minio.Bucket,
			UseSSL:    cfg.Minio.SSL,
		})
		if err != nil {
			return nil, err
		}
		b.deps.Blobs = blob.NewMinioStore(client, cfg.Minio.Bucket, cfg.Minio.Prefix)
	default:
		b.deps.Blobs = blob.NewBadgerStore(kv)
	}

	switch cfg.RateLimit.BucketBackend {
	case config.BackendMemory:
		b.deps.Buckets = ratelimit.NewMemoryBucketStore()
	case config.BackendDynamoDB:
		buckets, err := ratelimit.NewDynamoBucketStoreFromEnv(ctx, cfg.RateLimit.DynamoTable, cfg.RateLimit.DynamoRegion, cfg.RateLimit.DynamoEndpoint)
		if err != nil {
			return nil, err
		}
		b.deps.Buckets = buckets
	default:
		b.deps.Buckets = ratelimit.NewBadgerBucketStore(kv)
	}

	switch cfg.Usage.MeterBackend {
	case config.BackendNone:
		b.deps.Meter = usage.Nop{}
	case config.BackendDuckDB:
		if cfg.Usage.DuckDBPath == "" {
			if err := os.MkdirAll(cfg.Storage.DataDir, 0o750); err != nil {
				return nil, err
			}
		}
		meter, err := usage.NewDuckDBMeter(cfg.DuckDBFile())
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, meter.Close)
		b.deps.Meter = meter
	default:
		b.deps.Meter = usage.NewBadgerMeter(kv)
	}

	b.deps.Policies = ratelimit.DefaultPolicies()
	if cfg.RateLimit.PolicyFile != "" {
		if b.deps.Policies, err = ratelimit.LoadPolicies(cfg.RateLimit.PolicyFile); err != nil {
			return nil, err
		}
	}

	if b.deps.Format, err = codec.ParseFormat(cfg.Storage.Format); err != nil {
		return nil, err
	}
	if b.deps.Compression, err = codec.ParseCompression(cfg.Storage.Compression); err != nil {
		return nil, err
	}
	b.deps.Timeout = cfg.Service.Timeout
	b.deps.RebuildConcurrency = cfg.Service.RebuildConcurrency
	b.deps.RebuildRate = rate.Limit(cfg.Service.RebuildRate)
	b.deps.Metrics = world.NewMetrics(reg)
	b.deps.Logger = log.WithField("service", "worlds")

	log.WithFields(log.Fields{
		"blobs":   cfg.Storage.BlobBackend,
		"buckets": cfg.RateLimit.BucketBackend,
		"meter":   cfg.Usage.MeterBackend,
	}).Debug("backends opened")
	return b, nil
}
