package store

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/lvonguyen/osintforge/internal/investigation"
)

func newTestStore(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	cfg := DefaultConfig()
	cfg.TombstoneTTL = time.Hour
	return NewRedisStore(client, cfg, ttl, zaptest.NewLogger(t)), mr
}

func completedReport(fp string) investigation.Report {
	now := time.Now().UTC()
	identity := investigation.NewMergedIdentity()
	identity.Breaches = []investigation.BreachRecord{{Name: "Adobe", Date: "2013-10-04", Severity: investigation.SeverityHigh}}
	identity.RiskScore = 0.3
	return investigation.Report{
		ID:             "id-" + fp,
		Fingerprint:    fp,
		Status:         investigation.StateCompleted,
		MergedIdentity: identity,
		PerSourceStatus: map[investigation.SourceKind]investigation.SourceOutcome{
			investigation.SourceBreachLookup: {Status: investigation.OutcomeSuccess, Attempts: 1},
		},
		StartedAt:   now.Add(-time.Second),
		CompletedAt: &now,
	}
}

func TestRedisStore_RoundTrip(t *testing.T) {
	s, _ := newTestStore(t, 15*time.Minute)
	ctx := context.Background()

	want := completedReport("abc")
	require.NoError(t, s.Save(ctx, want))

	got, err := s.Load(ctx, "abc")
	require.NoError(t, err)
	assert.Equal(t, want.ID, got.ID)
	assert.Equal(t, investigation.StateCompleted, got.Status)
	assert.Equal(t, 0.3, got.MergedIdentity.RiskScore)
	assert.Equal(t, investigation.OutcomeSuccess, got.PerSourceStatus[investigation.SourceBreachLookup].Status)
	require.Len(t, got.MergedIdentity.Breaches, 1)
}

func TestRedisStore_NotFoundAndExpired(t *testing.T) {
	s, mr := newTestStore(t, time.Minute)
	ctx := context.Background()

	_, err := s.Load(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Save(ctx, completedReport("abc")))
	mr.FastForward(2 * time.Minute)

	_, err = s.Load(ctx, "abc")
	assert.ErrorIs(t, err, ErrExpired)

	mr.FastForward(2 * time.Hour)
	_, err = s.Load(ctx, "abc")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestRedisStore_RejectsRunningReports(t *testing.T) {
	s, _ := newTestStore(t, time.Minute)
	r := completedReport("abc")
	r.Status = investigation.StateRunning
	assert.Error(t, s.Save(context.Background(), r))
}

func TestRedisStore_Ping(t *testing.T) {
	s, mr := newTestStore(t, time.Minute)
	assert.NoError(t, s.Ping(context.Background()))
	mr.Close()
	assert.Error(t, s.Ping(context.Background()))
}
