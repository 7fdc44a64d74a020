// Package routing implements weighted selection among the routable versions
// of a service.
package routing

import (
	"math/rand"
	"sync"
	"time"

	"github.com/noah-isme/traffic-router/internal/models"
	appErrors "github.com/noah-isme/traffic-router/pkg/errors"
)

// Selector picks one version record from a candidate set in proportion to
// traffic percentages. The RNG is injectable so tests can seed it and verify
// the distribution; a mutex guards it because rand.Rand is not safe for
// concurrent use.
type Selector struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewSelector builds a selector. A nil rng gets a time-seeded source.
func NewSelector(rng *rand.Rand) *Selector {
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}
	return &Selector{rng: rng}
}

// Select returns one candidate chosen by traffic-percentage-weighted random
// draw. Candidates must be non-empty; the caller checks emptiness first.
// When every weight is zero the choice is uniform; a fully drained
// distribution is still routable, not an error. Candidate order is
// the store's stable order, so results are reproducible for a fixed seed.
func (s *Selector) Select(candidates []models.VersionedServiceConfig) (models.VersionedServiceConfig, error) {
	if len(candidates) == 0 {
		return models.VersionedServiceConfig{}, appErrors.Clone(appErrors.ErrValidation, "no candidates to select from")
	}
	if len(candidates) == 1 {
		return candidates[0], nil
	}

	total := 0
	for _, c := range candidates {
		total += c.TrafficPercentage
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if total <= 0 {
		return candidates[s.rng.Intn(len(candidates))], nil
	}

	r := s.rng.Intn(total)
	cumulative := 0
	for _, c := range candidates {
		cumulative += c.TrafficPercentage
		if r < cumulative {
			return c, nil
		}
	}

	// Unreachable with non-negative weights; keep the last entry as fallback.
	return candidates[len(candidates)-1], nil
}
