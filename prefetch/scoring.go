package prefetch

import (
	"fmt"
	"math"
	"strings"
	"time"
)

// Factor names, in the order they appear in CardScore.Factors.
const (
	FactorPosition             = "position"
	FactorContentRelevance     = "content_relevance"
	FactorRating               = "rating"
	FactorPopularity           = "popularity"
	FactorUserPattern          = "user_pattern"
	FactorTimeContext          = "time_context"
	FactorSessionContext       = "session_context"
	FactorEngagementPrediction = "engagement_prediction"
)

// neutralScore is used for any factor whose inputs are missing, so sparse
// cards are not pushed to the bottom.
const neutralScore = 50.0

const (
	positionDecay     = 0.3     // per queue position
	popularityCeiling = 10000.0 // review count that maps to 100
	trendAdjustment   = 0.2     // max ±20% final-score swing from engagement trend
)

// ScoringWeights are the relative weights of the eight factors.
// They are normalized to sum to 1.0 before use.
type ScoringWeights struct {
	Position             float64 `yaml:"position"`
	ContentRelevance     float64 `yaml:"content_relevance"`
	Rating               float64 `yaml:"rating"`
	Popularity           float64 `yaml:"popularity"`
	UserPattern          float64 `yaml:"user_pattern"`
	TimeContext          float64 `yaml:"time_context"`
	SessionContext       float64 `yaml:"session_context"`
	EngagementPrediction float64 `yaml:"engagement_prediction"`
}

// DefaultScoringWeights returns the default factor weights.
// Position dominates because imminence is the best predictor of a view.
func DefaultScoringWeights() ScoringWeights {
	return ScoringWeights{
		Position:             0.25,
		ContentRelevance:     0.15,
		Rating:               0.10,
		Popularity:           0.10,
		UserPattern:          0.15,
		TimeContext:          0.05,
		SessionContext:       0.10,
		EngagementPrediction: 0.10,
	}
}

func (w ScoringWeights) list() []float64 {
	return []float64{
		w.Position, w.ContentRelevance, w.Rating, w.Popularity,
		w.UserPattern, w.TimeContext, w.SessionContext, w.EngagementPrediction,
	}
}

// Validate checks that every weight is finite and non-negative and that at
// least one is positive.
func (w ScoringWeights) Validate() error {
	total := 0.0
	for i, v := range w.list() {
		if v < 0 || math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("scoring weight %s must be a finite non-negative number, got %v", factorNames[i], v)
		}
		total += v
	}
	if total <= 0 {
		return fmt.Errorf("scoring weights sum to %v; must be positive", total)
	}
	return nil
}

var factorNames = []string{
	FactorPosition, FactorContentRelevance, FactorRating, FactorPopularity,
	FactorUserPattern, FactorTimeContext, FactorSessionContext, FactorEngagementPrediction,
}

// normalized returns the weights scaled to sum to 1.0.
// Invalid weights fall back to the defaults.
func (w ScoringWeights) normalized() []float64 {
	if w.Validate() != nil {
		w = DefaultScoringWeights()
	}
	raw := w.list()
	total := 0.0
	for _, v := range raw {
		total += v
	}
	out := make([]float64, len(raw))
	for i, v := range raw {
		out[i] = v / total
	}
	return out
}

// ScoreFactor is one line of the explainability breakdown.
type ScoreFactor struct {
	Name         string
	Score        float64 // 0–100
	Weight       float64 // normalized
	Contribution float64 // Score × Weight
}

// CardScore is an immutable scoring snapshot for one card at one position.
type CardScore struct {
	CardID   string
	Position int

	PositionScore        float64
	ContentRelevance     float64
	RatingScore          float64
	Popularity           float64
	UserPattern          float64
	TimeContext          float64
	SessionContext       float64
	EngagementPrediction float64

	BaseScore  float64
	FinalScore float64
	Confidence float64

	Factors      []ScoreFactor
	CalculatedAt time.Time
}

// CandidateScorer scores a card at a queue position.
type CandidateScorer interface {
	Score(card Card, position int, metrics UserBehaviorMetrics, session SessionContext, prefs UserPreferences) CardScore
}

// Scorer is the default CandidateScorer. It never mutates its inputs.
type Scorer struct {
	weights []float64
	now     func() time.Time
}

// NewScorer creates a scorer. A nil clock uses time.Now.
func NewScorer(weights ScoringWeights, now func() time.Time) *Scorer {
	if now == nil {
		now = time.Now
	}
	return &Scorer{weights: weights.normalized(), now: now}
}

// Score computes the eight sub-scores, the weighted base score, the
// trend-adjusted final score and the history-driven confidence.
func (s *Scorer) Score(card Card, position int, metrics UserBehaviorMetrics, session SessionContext, prefs UserPreferences) CardScore {
	userPattern := scoreUserPattern(card, metrics)
	subs := []float64{
		scorePosition(position),
		scoreContentRelevance(card, prefs),
		scoreRating(card.Rating),
		scorePopularity(card.UserRatingsTotal),
		userPattern,
		scoreTimeContext(card.OpenNow, session.Now),
		scoreSessionContext(session.Session, metrics),
		scoreEngagement(session.Session, userPattern),
	}

	factors := make([]ScoreFactor, len(subs))
	base := 0.0
	for i, v := range subs {
		v = clampScore(v)
		subs[i] = v
		contribution := v * s.weights[i]
		factors[i] = ScoreFactor{Name: factorNames[i], Score: v, Weight: s.weights[i], Contribution: contribution}
		base += contribution
	}
	base = clampScore(base)
	final := clampScore(base * (1 + trendAdjustment*clampUnitSigned(session.Session.EngagementTrend)))

	return CardScore{
		CardID:               card.ID,
		Position:             position,
		PositionScore:        subs[0],
		ContentRelevance:     subs[1],
		RatingScore:          subs[2],
		Popularity:           subs[3],
		UserPattern:          subs[4],
		TimeContext:          subs[5],
		SessionContext:       subs[6],
		EngagementPrediction: subs[7],
		BaseScore:            base,
		FinalScore:           final,
		Confidence:           scoreConfidence(card, metrics, session.Session),
		Factors:              factors,
		CalculatedAt:         s.now(),
	}
}

func scorePosition(position int) float64 {
	if position < 0 {
		position = 0
	}
	return 100 * math.Exp(-positionDecay*float64(position))
}

// scoreContentRelevance measures how well the card matches active filters.
func scoreContentRelevance(card Card, prefs UserPreferences) float64 {
	terms := make([]string, 0, len(prefs.Cuisines)+len(prefs.Keywords))
	for _, t := range append(append([]string(nil), prefs.Cuisines...), prefs.Keywords...) {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			terms = append(terms, t)
		}
	}
	if len(terms) == 0 && prefs.MaxPriceLevel == nil && prefs.MinRating <= 0 && prefs.MaxDistanceKm <= 0 {
		return neutralScore
	}

	score := neutralScore
	if len(terms) > 0 && (len(card.Cuisines) > 0 || card.Name != "") {
		haystack := strings.ToLower(card.Name + " " + strings.Join(card.Cuisines, " "))
		matched := 0
		for _, t := range terms {
			if strings.Contains(haystack, t) {
				matched++
			}
		}
		score = 25 + 75*float64(matched)/float64(len(terms))
	}
	if prefs.MaxPriceLevel != nil && card.PriceLevel != nil {
		if *card.PriceLevel > *prefs.MaxPriceLevel {
			score -= 25
		} else {
			score += 5
		}
	}
	if prefs.MinRating > 0 && card.Rating != nil && *card.Rating < prefs.MinRating {
		score -= 25
	}
	if prefs.MaxDistanceKm > 0 && card.DistanceKm > prefs.MaxDistanceKm {
		score -= 25
	}
	return score
}

func scoreRating(rating *float64) float64 {
	if rating == nil || math.IsNaN(*rating) {
		return neutralScore
	}
	return math.Max(0, math.Min(5, *rating)) / 5 * 100
}

func scorePopularity(reviews int) float64 {
	if reviews <= 0 {
		return neutralScore
	}
	return math.Min(100, 100*math.Log10(1+float64(reviews))/math.Log10(1+popularityCeiling))
}

// scoreUserPattern matches the card against historical cuisine affinity and
// preferred price levels. No history yields the neutral score.
func scoreUserPattern(card Card, metrics UserBehaviorMetrics) float64 {
	if metrics.TotalCardsViewed == 0 || (len(metrics.CuisineAffinity) == 0 && len(metrics.PreferredPriceLevels) == 0) {
		return neutralScore
	}

	cuisine := 0.5
	if len(metrics.CuisineAffinity) > 0 && len(card.Cuisines) > 0 {
		cuisine = 0
		for _, c := range card.Cuisines {
			if a, ok := metrics.CuisineAffinity[strings.ToLower(c)]; ok && a > cuisine {
				cuisine = math.Min(1, a)
			}
		}
	}

	price := 0.5
	if len(metrics.PreferredPriceLevels) > 0 && card.PriceLevel != nil {
		price = 0.3
		for _, p := range metrics.PreferredPriceLevels {
			if p == *card.PriceLevel {
				price = 1
				break
			}
		}
	}
	return 100 * (0.7*cuisine + 0.3*price)
}

func scoreTimeContext(openNow *bool, now time.Time) float64 {
	score := neutralScore
	if openNow != nil {
		if *openNow {
			score = 75
		} else {
			score = 15
		}
	}
	if !now.IsZero() {
		h := now.Hour()
		if (h >= 11 && h < 14) || (h >= 17 && h < 21) {
			score += 10
		}
	}
	return score
}

// scoreSessionContext favors cards early in a typical-length session.
func scoreSessionContext(session CurrentSessionMetrics, metrics UserBehaviorMetrics) float64 {
	if metrics.AvgSessionLength <= 0 {
		return neutralScore
	}
	remaining := 1 - float64(session.CardsViewed)/metrics.AvgSessionLength
	return 20 + 80*math.Max(0, math.Min(1, remaining))
}

// scoreEngagement blends the live engagement trend with historical fit.
func scoreEngagement(session CurrentSessionMetrics, userPattern float64) float64 {
	trendScore := neutralScore
	if session.CardsViewed > 0 {
		trendScore = 50 + 50*clampUnitSigned(session.EngagementTrend)
	}
	return 0.5*trendScore + 0.5*userPattern
}

// scoreConfidence grows monotonically with behavioral history and is capped
// at 1. Sparse card data shaves up to 15% off.
func scoreConfidence(card Card, metrics UserBehaviorMetrics, session CurrentSessionMetrics) float64 {
	history := 1 - math.Exp(-float64(max(0, metrics.TotalCardsViewed))/60)
	sessions := 1 - math.Exp(-float64(max(0, metrics.TotalSessions))/5)
	live := 1 - math.Exp(-float64(max(0, session.CardsViewed))/10)
	h := 0.6*history + 0.25*sessions + 0.15*live

	present := 0
	if card.Rating != nil {
		present++
	}
	if len(card.PhotoRefs) > 0 {
		present++
	}
	if len(card.Cuisines) > 0 {
		present++
	}
	if card.PriceLevel != nil {
		present++
	}
	if card.OpenNow != nil {
		present++
	}
	completeness := 0.85 + 0.15*float64(present)/5

	return clampUnit((0.1 + 0.85*h) * completeness)
}

func clampScore(v float64) float64 {
	if math.IsNaN(v) {
		return neutralScore
	}
	return math.Max(0, math.Min(100, v))
}

func clampUnit(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}

func clampUnitSigned(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(-1, math.Min(1, v))
}
