package store_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/couchcryptid/quake-loss-estimator/internal/domain"
	"github.com/couchcryptid/quake-loss-estimator/internal/observability"
	"github.com/couchcryptid/quake-loss-estimator/internal/pipeline"
	"github.com/couchcryptid/quake-loss-estimator/internal/store"
)

func run(id string) *pipeline.Assessment {
	return &pipeline.Assessment{RunInfo: domain.RunInfo{ID: id}}
}

func cachedGauge(t *testing.T, reg *prometheus.Registry) float64 {
	t.Helper()
	families, err := reg.Gather()
	require.NoError(t, err)
	for _, f := range families {
		if f.GetName() == "quake_loss_runs_cached" {
			return f.GetMetric()[0].GetGauge().GetValue()
		}
	}
	t.Fatal("runs_cached gauge not registered")
	return 0
}

func TestStore_PutGet(t *testing.T) {
	s := store.New(4, observability.NewMetricsForTesting())

	s.Put(run("r1"))
	got, ok := s.Get("r1")
	require.True(t, ok)
	assert.Equal(t, "r1", got.ID)

	_, ok = s.Get("missing")
	assert.False(t, ok)
}

func TestStore_EvictsOldestRun(t *testing.T) {
	s := store.New(2, observability.NewMetricsForTesting())

	s.Put(run("r1"))
	s.Put(run("r2"))
	s.Get("r1")
	s.Put(run("r3"))

	_, ok := s.Get("r2")
	assert.False(t, ok, "least recently viewed run is evicted")
	assert.Equal(t, 2, s.Len())
}

func TestStore_Recent(t *testing.T) {
	s := store.New(8, observability.NewMetricsForTesting())
	for _, id := range []string{"r1", "r2", "r3"} {
		s.Put(run(id))
	}

	recent := s.Recent(2)
	require.Len(t, recent, 2)
	assert.Equal(t, "r3", recent[0].ID)
	assert.Equal(t, "r2", recent[1].ID)

	assert.Len(t, s.Recent(10), 3)
	assert.Equal(t, "r3", s.Recent(1)[0].ID, "listing does not reorder runs")
}

func TestStore_UpdatesGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := store.New(2, observability.NewMetricsWithRegistry(reg))

	s.Put(run("r1"))
	assert.Equal(t, 1.0, cachedGauge(t, reg))
	s.Put(run("r2"))
	s.Put(run("r3"))
	assert.Equal(t, 2.0, cachedGauge(t, reg))
}
