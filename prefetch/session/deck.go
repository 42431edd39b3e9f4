package session

import (
	"fmt"
	"math"
	"math/rand"

	"github.com/tastedeck/prefetch-engine/prefetch"
)

// DeckConfig shapes a synthetic restaurant deck.
type DeckConfig struct {
	Size              int     `yaml:"size"`
	PhotoRate         float64 `yaml:"photo_rate"`          // fraction of cards with at least one photo
	MissingRatingRate float64 `yaml:"missing_rating_rate"` // fraction of cards without a rating
	OpenRate          float64 `yaml:"open_rate"`           // fraction of cards open now; the rest split closed/unknown
}

// DefaultDeckConfig returns a deck resembling a typical nearby-search page.
func DefaultDeckConfig() DeckConfig {
	return DeckConfig{
		Size:              40,
		PhotoRate:         0.9,
		MissingRatingRate: 0.1,
		OpenRate:          0.7,
	}
}

var deckCuisines = []string{
	"thai", "italian", "sushi", "mexican", "indian", "burgers",
	"pizza", "vietnamese", "korean", "mediterranean", "vegan", "bbq",
}

// GenerateDeck returns a deterministic deck for rng. Card IDs are unique
// within the deck and prefixed with prefix.
func GenerateDeck(rng *rand.Rand, prefix string, cfg DeckConfig) []prefetch.Card {
	cards := make([]prefetch.Card, cfg.Size)
	for i := range cards {
		c := prefetch.Card{
			ID:         fmt.Sprintf("%s-%03d", prefix, i),
			Name:       fmt.Sprintf("Place %d", i),
			DistanceKm: math.Round(rng.Float64()*80) / 10,
		}

		// one or two cuisines
		c.Cuisines = []string{deckCuisines[rng.Intn(len(deckCuisines))]}
		if rng.Float64() < 0.3 {
			second := deckCuisines[rng.Intn(len(deckCuisines))]
			if second != c.Cuisines[0] {
				c.Cuisines = append(c.Cuisines, second)
			}
		}

		if rng.Float64() >= cfg.MissingRatingRate {
			rating := math.Round((2.5+rng.Float64()*2.5)*10) / 10
			c.Rating = &rating
			// heavy-tailed review counts
			c.UserRatingsTotal = int(math.Exp(rng.Float64() * 8))
		}
		if rng.Float64() < 0.85 {
			level := 1 + rng.Intn(4)
			c.PriceLevel = &level
		}
		switch p := rng.Float64(); {
		case p < cfg.OpenRate:
			open := true
			c.OpenNow = &open
		case p < cfg.OpenRate+(1-cfg.OpenRate)/2:
			closed := false
			c.OpenNow = &closed
		}
		if rng.Float64() < cfg.PhotoRate {
			n := 1 + rng.Intn(3)
			for j := 0; j < n; j++ {
				c.PhotoRefs = append(c.PhotoRefs, fmt.Sprintf("%s-photo-%d", c.ID, j))
			}
		}
		cards[i] = c
	}
	return cards
}
