package prefetch

import (
	"context"
	"time"

	"github.com/tastedeck/prefetch-engine/prefetch/ledger"
)

// ResourceType identifies a metered resource pool.
type ResourceType = ledger.Resource

const (
	ResourceDetails = ledger.ResourceDetails
	ResourcePhotos  = ledger.ResourcePhotos
)

// Card is a restaurant card in the deck. Optional data is nil when the
// places search did not return it.
type Card struct {
	ID               string
	Name             string
	Rating           *float64 // 0–5
	UserRatingsTotal int
	PriceLevel       *int // 0–4
	Cuisines         []string
	PhotoRefs        []string
	DistanceKm       float64
	OpenNow          *bool

	HasCachedDetails bool
	HasCachedPhotos  bool
}

// Candidate is a card plus its distance (in queue positions) from the cursor.
// Candidates live for a single trigger cycle.
type Candidate struct {
	Card     Card
	Position int
}

// Details is the payload of a place-details lookup.
type Details struct {
	CardID       string
	Address      string
	Phone        string
	Website      string
	OpeningHours []string
	ReviewCount  int
}

// UserPreferences are the active filters for the deck (from settings or voice).
type UserPreferences struct {
	Cuisines      []string
	Keywords      []string
	MaxPriceLevel *int
	MinRating     float64
	MaxDistanceKm float64
}

// UserBehaviorMetrics is the historical behavior summary from the tracker.
type UserBehaviorMetrics struct {
	TotalSessions        int
	TotalCardsViewed     int
	AvgViewDuration      time.Duration
	AvgSessionLength     float64 // cards per session
	DetailViewRate       float64 // fraction of viewed cards whose details were opened
	ViewThroughRate      float64 // fraction of queued cards the user actually reaches
	LikeRate             float64
	CuisineAffinity      map[string]float64 // lowercase cuisine → affinity in [0,1]
	PreferredPriceLevels []int
}

// CurrentSessionMetrics describes the live session.
type CurrentSessionMetrics struct {
	SessionID        string
	StartedAt        time.Time
	CardsViewed      int
	DetailViews      int
	Likes            int
	AvgSwipeInterval time.Duration
	EngagementTrend  float64 // [-1,1]; negative means the user is cooling off
}

// PredictiveSignals are the tracker's short-horizon predictions.
type PredictiveSignals struct {
	IsSlowingDown           bool
	LikelyToEndSoon         bool
	ConfidenceLevel         float64
	EstimatedRemainingCards int
}

// SessionContext is the session-dependent input to scoring.
type SessionContext struct {
	Session CurrentSessionMetrics
	Now     time.Time
}

// BehaviorEventType names a tracker event the engine reacts to.
type BehaviorEventType string

const (
	BehaviorCardViewed     BehaviorEventType = "card_viewed"
	BehaviorDetailViewed   BehaviorEventType = "detail_viewed"
	BehaviorSessionStarted BehaviorEventType = "session_started"
	BehaviorSessionEnded   BehaviorEventType = "session_ended"
)

// BehaviorEvent is a raw interaction observed by the tracker.
type BehaviorEvent struct {
	Type   BehaviorEventType
	CardID string
	At     time.Time
}

// BehaviorTracker is the read-only view of user behavior the engine consumes.
// Subscribe returns a function that removes the subscription.
type BehaviorTracker interface {
	Metrics() UserBehaviorMetrics
	CurrentSession() CurrentSessionMetrics
	PredictiveSignals() PredictiveSignals
	Subscribe(fn func(BehaviorEvent)) (unsubscribe func())
}

// PlacesClient fetches the auxiliary data the engine pays for.
// Both calls are treated as idempotent; the engine never retries them.
type PlacesClient interface {
	FetchDetails(ctx context.Context, cardID string) (Details, error)
	FetchPhoto(ctx context.Context, cardID, photoRef string, maxWidth, maxHeight int) (string, error)
}
