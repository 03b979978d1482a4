// Package store mirrors terminal investigation reports to Redis so that a
// restarted or sibling instance can still serve recent fingerprints.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

var (
	// ErrNotFound means no report and no tombstone exist for the fingerprint.
	ErrNotFound = errors.New("report not found")
	// ErrExpired means the report existed but its TTL has elapsed.
	ErrExpired = errors.New("report expired")
)

// Config holds Redis connection settings.
type Config struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	PasswordEnv  string        `yaml:"password_env"`
	DB           int           `yaml:"db"`
	PoolSize     int           `yaml:"pool_size"`
	KeyPrefix    string        `yaml:"key_prefix"`
	TombstoneTTL time.Duration `yaml:"tombstone_ttl"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		Addr:         "localhost:6379",
		PoolSize:     10,
		KeyPrefix:    "osintforge",
		TombstoneTTL: 24 * time.Hour,
	}
}

// NewClient builds a Redis client from cfg.
func NewClient(cfg Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: os.Getenv(cfg.PasswordEnv),
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})
}

// RedisStore stores reports as JSON under "<prefix>:report:<fingerprint>"
// with a companion tombstone key that outlives it.
type RedisStore struct {
	client       redis.UniversalClient
	prefix       string
	ttl          time.Duration
	tombstoneTTL time.Duration
	logger       *zap.Logger
	loads        singleflight.Group
}

// NewRedisStore creates a store. ttl bounds how long a report is served
// after completion.
func NewRedisStore(client redis.UniversalClient, cfg Config, ttl time.Duration, logger *zap.Logger) *RedisStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "osintforge"
	}
	return &RedisStore{
		client:       client,
		prefix:       prefix,
		ttl:          ttl,
		tombstoneTTL: cfg.TombstoneTTL,
		logger:       logger,
	}
}

func (s *RedisStore) reportKey(fp string) string    { return s.prefix + ":report:" + fp }
func (s *RedisStore) tombstoneKey(fp string) string { return s.prefix + ":tombstone:" + fp }

// Save stores a terminal report for the remainder of its TTL.
func (s *RedisStore) Save(ctx context.Context, report investigation.Report) error {
	if !report.Status.Terminal() {
		return fmt.Errorf("store: report %s is %s, only terminal reports are stored", report.ID, report.Status)
	}

	ttl := s.ttl
	if report.CompletedAt != nil {
		ttl -= time.Since(*report.CompletedAt)
	}
	if ttl <= 0 {
		return nil
	}

	data, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("store: encoding report: %w", err)
	}

	tombstoneTTL := s.tombstoneTTL
	if tombstoneTTL < ttl {
		tombstoneTTL = ttl
	}

	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.reportKey(report.Fingerprint), data, ttl)
		pipe.Set(ctx, s.tombstoneKey(report.Fingerprint), report.ID, tombstoneTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("store: saving report %s: %w", report.Fingerprint, err)
	}
	return nil
}

// Load returns the stored report for fp. Concurrent loads of the same
// fingerprint share one round trip.
func (s *RedisStore) Load(ctx context.Context, fp string) (investigation.Report, error) {
	v, err, _ := s.loads.Do(fp, func() (interface{}, error) {
		return s.load(ctx, fp)
	})
	if err != nil {
		return investigation.Report{}, err
	}
	return v.(investigation.Report).Clone(), nil
}

func (s *RedisStore) load(ctx context.Context, fp string) (investigation.Report, error) {
	data, err := s.client.Get(ctx, s.reportKey(fp)).Bytes()
	if errors.Is(err, redis.Nil) {
		n, exErr := s.client.Exists(ctx, s.tombstoneKey(fp)).Result()
		if exErr != nil {
			return investigation.Report{}, fmt.Errorf("store: checking tombstone: %w", exErr)
		}
		if n > 0 {
			return investigation.Report{}, ErrExpired
		}
		return investigation.Report{}, ErrNotFound
	}
	if err != nil {
		return investigation.Report{}, fmt.Errorf("store: loading report %s: %w", fp, err)
	}

	var report investigation.Report
	if err := json.Unmarshal(data, &report); err != nil {
		s.logger.Warn("discarding undecodable stored report", zap.String("fingerprint", fp), zap.Error(err))
		return investigation.Report{}, ErrNotFound
	}
	return report, nil
}

// Ping checks connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close releases the client.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
