package app

import (
	"context"
	"testing"
	"time"

	"github.com/JonMunkholm/ofximport/internal/config"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenRedis(t *testing.T) {
	mr := miniredis.RunT(t)

	rdb, err := OpenRedis(context.Background(), config.RedisConfig{URL: "redis://" + mr.Addr() + "/0", DialTimeout: time.Second})
	require.NoError(t, err)
	defer rdb.Close()
	assert.Equal(t, time.Second, rdb.Options().DialTimeout)

	_, err = OpenRedis(context.Background(), config.RedisConfig{URL: "localhost:6379"})
	assert.ErrorContains(t, err, "parse redis url")
}

func TestOpenRedis_Unreachable(t *testing.T) {
	mr := miniredis.RunT(t)
	addr := mr.Addr()
	mr.Close()

	_, err := OpenRedis(context.Background(), config.RedisConfig{URL: "redis://" + addr, DialTimeout: 100 * time.Millisecond})
	assert.ErrorContains(t, err, "ping redis")
}

func TestServiceConfig(t *testing.T) {
	cfg := &config.Config{Import: config.ImportConfig{
		BatchSize:       250,
		LeaseTTL:        2 * time.Minute,
		LeaseRenewAfter: time.Minute,
		MaxFileSize:     1024,
		MaxConcurrent:   3,
		MaxWaitTime:     5 * time.Second,
		Timeout:         time.Hour,
		StaleAfter:      20 * time.Minute,
		SweepInterval:   time.Minute,
	}}

	got := ServiceConfig(cfg)
	assert.Equal(t, 250, got.BatchSize)
	assert.Equal(t, time.Minute, got.RenewAfter)
	assert.Equal(t, int64(1024), got.MaxFileSize)
	assert.Equal(t, time.Hour, got.Timeout)

	sweep := SweepConfig(cfg)
	assert.Equal(t, 20*time.Minute, sweep.StaleAfter)
	assert.Equal(t, time.Minute, sweep.CheckInterval)
}

func TestRetryConfig(t *testing.T) {
	got := RetryConfig(config.RetryConfig{MaxRetries: 2, MedianFirstDelay: time.Millisecond, CancelledDelay: time.Second, Budget: time.Minute})
	assert.Equal(t, 2, got.MaxRetries)
	assert.Equal(t, time.Second, got.CancelledDelay)
	assert.Zero(t, got.MaxDelay, "left to the retry default")
}

func TestDatabaseName(t *testing.T) {
	assert.Equal(t, "ledger", databaseName("postgres://user:pw@db:5432/ledger?sslmode=disable"))
	assert.Equal(t, "", databaseName("host=db dbname=ledger"))
}
