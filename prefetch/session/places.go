package session

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tastedeck/prefetch-engine/prefetch"
)

// ErrPlacesUnavailable is returned by SimulatedPlaces for injected failures.
var ErrPlacesUnavailable = errors.New("places: upstream unavailable")

// SimulatedPlaces is an in-process prefetch.PlacesClient with configurable
// latency and failure rate.
type SimulatedPlaces struct {
	Latency     time.Duration
	FailureRate float64

	mu  sync.Mutex
	rng *rand.Rand

	detailCalls atomic.Int64
	photoCalls  atomic.Int64
}

// NewSimulatedPlaces creates a client whose failures are drawn from rng.
func NewSimulatedPlaces(rng *rand.Rand, latency time.Duration, failureRate float64) *SimulatedPlaces {
	return &SimulatedPlaces{Latency: latency, FailureRate: failureRate, rng: rng}
}

// FetchDetails returns synthetic details for cardID.
func (p *SimulatedPlaces) FetchDetails(ctx context.Context, cardID string) (prefetch.Details, error) {
	p.detailCalls.Add(1)
	if err := p.call(ctx); err != nil {
		return prefetch.Details{}, fmt.Errorf("details %s: %w", cardID, err)
	}
	return prefetch.Details{
		CardID:       cardID,
		Address:      fmt.Sprintf("%s Main St", cardID),
		Phone:        "+1-555-0100",
		OpeningHours: []string{"Mon-Sun 11:00-22:00"},
	}, nil
}

// FetchPhoto returns a synthetic photo URL for photoRef.
func (p *SimulatedPlaces) FetchPhoto(ctx context.Context, cardID, photoRef string, maxWidth, maxHeight int) (string, error) {
	p.photoCalls.Add(1)
	if err := p.call(ctx); err != nil {
		return "", fmt.Errorf("photo %s: %w", cardID, err)
	}
	return fmt.Sprintf("https://photos.invalid/%s?w=%d&h=%d", photoRef, maxWidth, maxHeight), nil
}

// Calls returns the number of details and photo requests received.
func (p *SimulatedPlaces) Calls() (details, photos int64) {
	return p.detailCalls.Load(), p.photoCalls.Load()
}

func (p *SimulatedPlaces) call(ctx context.Context) error {
	if p.Latency > 0 {
		timer := time.NewTimer(p.Latency)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
		}
	} else if err := ctx.Err(); err != nil {
		return err
	}
	if p.FailureRate <= 0 || p.rng == nil {
		return nil
	}
	p.mu.Lock()
	fail := p.rng.Float64() < p.FailureRate
	p.mu.Unlock()
	if fail {
		return ErrPlacesUnavailable
	}
	return nil
}
