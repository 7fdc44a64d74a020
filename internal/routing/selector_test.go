package routing

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/traffic-router/internal/models"
)

func candidate(version string, pct int) models.VersionedServiceConfig {
	return models.VersionedServiceConfig{
		ServiceName:       "svc",
		Version:           version,
		Status:            models.VersionStatusCanary,
		TrafficPercentage: pct,
	}
}

func TestSelectEmptyCandidates(t *testing.T) {
	s := NewSelector(rand.New(rand.NewSource(1)))
	_, err := s.Select(nil)
	require.Error(t, err)
}

func TestSelectSingleCandidate(t *testing.T) {
	s := NewSelector(rand.New(rand.NewSource(1)))
	chosen, err := s.Select([]models.VersionedServiceConfig{candidate("1.0.0", 0)})
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", chosen.Version)
}

func TestSelectWeightedDistribution(t *testing.T) {
	s := NewSelector(rand.New(rand.NewSource(42)))
	candidates := []models.VersionedServiceConfig{
		candidate("1.0.0", 70),
		candidate("1.1.0", 30),
	}

	const draws = 10000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		chosen, err := s.Select(candidates)
		require.NoError(t, err)
		counts[chosen.Version]++
	}

	ratio := float64(counts["1.0.0"]) / draws
	assert.InDelta(t, 0.70, ratio, 0.05, "70-weight candidate selected %.1f%%", ratio*100)
}

func TestSelectAllZeroWeightsIsUniform(t *testing.T) {
	s := NewSelector(rand.New(rand.NewSource(7)))
	candidates := []models.VersionedServiceConfig{
		candidate("1.0.0", 0),
		candidate("1.1.0", 0),
		candidate("1.2.0", 0),
	}

	const draws = 9000
	counts := map[string]int{}
	for i := 0; i < draws; i++ {
		chosen, err := s.Select(candidates)
		require.NoError(t, err)
		counts[chosen.Version]++
	}

	for version, n := range counts {
		assert.InDelta(t, 1.0/3.0, float64(n)/draws, 0.05, "version %s", version)
	}
}

func TestSelectZeroWeightNeverChosenAmongWeighted(t *testing.T) {
	s := NewSelector(rand.New(rand.NewSource(3)))
	candidates := []models.VersionedServiceConfig{
		candidate("1.0.0", 100),
		candidate("1.1.0", 0),
	}
	for i := 0; i < 1000; i++ {
		chosen, err := s.Select(candidates)
		require.NoError(t, err)
		assert.Equal(t, "1.0.0", chosen.Version)
	}
}
