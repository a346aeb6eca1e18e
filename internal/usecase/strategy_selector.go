package usecase

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/vitos/options_signal_engine/internal/domain"
)

const (
	baseStrategyScore = 5.0
	defaultVolatility = 30.0

	// Sizing placeholders until sizing reads the live account.
	assumedPortfolioValue = 100000.0
	assumedContractRisk   = 500.0
	minContracts          = 1
	maxContracts          = 10
	fallbackStrikeCount   = 2
)

type VolatilityRegime string

const (
	VolatilityLow    VolatilityRegime = "low"
	VolatilityNormal VolatilityRegime = "normal"
	VolatilityHigh   VolatilityRegime = "high"
)

type SentimentRegime string

const (
	SentimentPositive SentimentRegime = "positive"
	SentimentNeutral  SentimentRegime = "neutral"
	SentimentNegative SentimentRegime = "negative"
)

// MarketRegime is the classified market state a strategy is scored against.
type MarketRegime struct {
	Volatility      VolatilityRegime
	VolatilityLevel float64
	Sentiment       SentimentRegime
}

// ClassifyMarket maps historical volatility and average news sentiment onto regimes.
// Unknown volatility is treated as normal.
func ClassifyMarket(hv *float64, summary *domain.SentimentSummary) MarketRegime {
	r := MarketRegime{Volatility: VolatilityNormal, VolatilityLevel: defaultVolatility, Sentiment: SentimentNeutral}
	if hv != nil && *hv != 0 {
		r.VolatilityLevel = *hv
		switch {
		case *hv > 50:
			r.Volatility = VolatilityHigh
		case *hv < 20:
			r.Volatility = VolatilityLow
		}
	}
	if summary != nil {
		switch {
		case summary.AvgSentiment > 0.3:
			r.Sentiment = SentimentPositive
		case summary.AvgSentiment < -0.3:
			r.Sentiment = SentimentNegative
		}
	}
	return r
}

func (r MarketRegime) directional() bool {
	return r.Sentiment != SentimentNeutral
}

// ScoreStrategy applies the additive heuristic for one strategy family, floored at zero.
func ScoreStrategy(strategy domain.StrategyType, r MarketRegime) float64 {
	score := baseStrategyScore
	switch strategy {
	case domain.StrategyCreditSpread:
		switch r.Volatility {
		case VolatilityLow:
			score += 2
		case VolatilityHigh:
			score -= 1
		}
		if r.Sentiment == SentimentNeutral {
			score += 1
		}
	case domain.StrategyDebitSpread:
		if r.directional() {
			score += 2
		}
		if r.Volatility == VolatilityLow {
			score += 1
		}
	case domain.StrategyIronCondor:
		if r.Volatility == VolatilityLow && r.Sentiment == SentimentNeutral {
			score += 3
		} else if r.Volatility == VolatilityHigh {
			score -= 2
		}
	case domain.StrategyCoveredCall:
		if r.Sentiment == SentimentNeutral || r.Sentiment == SentimentPositive {
			score += 1.5
		}
		if r.Volatility == VolatilityHigh {
			score += 1
		}
	}
	return math.Max(score, 0)
}

type strategyRules struct {
	minDTE int
	maxDTE int
}

var strategyDTE = map[domain.StrategyType]strategyRules{
	domain.StrategyCreditSpread: {minDTE: 7, maxDTE: 45},
	domain.StrategyDebitSpread:  {minDTE: 14, maxDTE: 60},
	domain.StrategyIronCondor:   {minDTE: 14, maxDTE: 45},
	domain.StrategyCoveredCall:  {minDTE: 7, maxDTE: 45},
}

// Recommendation is a concrete single-leg trade proposed for a symbol.
type Recommendation struct {
	Strategy        domain.StrategyType
	Side            domain.OrderSide
	OptionSymbol    string
	OptionType      domain.OptionType
	Strike          float64
	Expiration      time.Time
	Quantity        int
	LimitPrice      *float64
	FallbackStrikes []float64
	Confidence      float64
	Reasoning       string
	Regime          MarketRegime
}

// StrategySelector is a pure function of market inputs and user preferences.
type StrategySelector struct {
	timeNow func() time.Time // For testing
}

func NewStrategySelector() *StrategySelector {
	return &StrategySelector{timeNow: time.Now}
}

// Select picks the best-scoring allowed strategy and builds a trade for it.
// It returns nil when nothing qualifies. Equal scores resolve to the
// lexicographically smallest strategy name.
func (s *StrategySelector) Select(
	symbol string,
	price float64,
	chain *domain.OptionChain,
	hv *float64,
	summary *domain.SentimentSummary,
	cfg *domain.UserConfig,
) *Recommendation {
	if cfg == nil || len(cfg.AllowedStrategies) == 0 || chain == nil || price <= 0 {
		return nil
	}

	regime := ClassifyMarket(hv, summary)

	allowed := append([]domain.StrategyType(nil), cfg.AllowedStrategies...)
	sort.Slice(allowed, func(i, j int) bool { return allowed[i] < allowed[j] })

	var best domain.StrategyType
	bestScore := 0.0
	for _, st := range allowed {
		score := ScoreStrategy(st, regime)
		if score > bestScore {
			best, bestScore = st, score
		}
	}
	if bestScore <= 0 {
		return nil
	}

	rules, ok := strategyDTE[best]
	if !ok {
		return nil
	}
	exp := findExpiration(chain, s.timeNow(), rules, cfg)
	if exp == nil {
		return nil
	}

	leg := findStrike(best, exp, price, regime)
	if leg == nil {
		return nil
	}
	leg.Strategy = best
	leg.Expiration = exp.Date
	leg.Quantity = PositionSize(cfg.MaxPositionSizePct)
	leg.Confidence = math.Min(bestScore*10, 100)
	leg.Regime = regime
	leg.Reasoning = BuildReasoning(best, regime, leg.Strike, leg.OptionType, leg.Side)
	return leg
}

// findExpiration returns the earliest expiration inside both the strategy's
// DTE band and one of the user's allowed buckets.
func findExpiration(chain *domain.OptionChain, now time.Time, rules strategyRules, cfg *domain.UserConfig) *domain.ChainExpiration {
	today := truncateDay(now)
	for i := range chain.Expirations {
		exp := &chain.Expirations[i]
		dte := int(truncateDay(exp.Date).Sub(today).Hours() / 24)
		if dte < rules.minDTE || dte > rules.maxDTE {
			continue
		}
		if cfg.AllowsExpiration(dte) {
			return exp
		}
	}
	return nil
}

func findStrike(strategy domain.StrategyType, exp *domain.ChainExpiration, price float64, r MarketRegime) *Recommendation {
	var (
		optType domain.OptionType
		side    domain.OrderSide
		target  float64
	)
	switch strategy {
	case domain.StrategyCreditSpread:
		optType, side, target = domain.OptionPut, domain.OrderSideSell, price*0.95
	case domain.StrategyDebitSpread:
		side = domain.OrderSideBuy
		if r.Sentiment == SentimentPositive {
			optType, target = domain.OptionCall, price*1.03
		} else {
			optType, target = domain.OptionPut, price*0.97
		}
	case domain.StrategyCoveredCall:
		optType, side, target = domain.OptionCall, domain.OrderSideSell, price*1.05
	default:
		// Multi-leg strategies have no single-strike finder.
		return nil
	}

	contracts := exp.Side(optType)
	if len(contracts) == 0 {
		return nil
	}
	ranked := append([]domain.OptionContract(nil), contracts...)
	sort.SliceStable(ranked, func(i, j int) bool {
		return math.Abs(ranked[i].Strike-target) < math.Abs(ranked[j].Strike-target)
	})

	var fallbacks []float64
	for _, c := range ranked[1:] {
		if len(fallbacks) == fallbackStrikeCount {
			break
		}
		fallbacks = append(fallbacks, c.Strike)
	}

	return &Recommendation{
		Side:            side,
		OptionSymbol:    ranked[0].Ticker,
		OptionType:      optType,
		Strike:          ranked[0].Strike,
		FallbackStrikes: fallbacks,
	}
}

// PositionSize converts a percentage of the assumed portfolio into a contract count in [1,10].
func PositionSize(maxPositionSizePct float64) int {
	contracts := int(math.Floor(assumedPortfolioValue * maxPositionSizePct / 100 / assumedContractRisk))
	if contracts < minContracts {
		return minContracts
	}
	if contracts > maxContracts {
		return maxContracts
	}
	return contracts
}

// BuildReasoning renders the human-readable summary attached to a signal.
func BuildReasoning(strategy domain.StrategyType, r MarketRegime, strike float64, optType domain.OptionType, side domain.OrderSide) string {
	return strings.Join([]string{
		"Strategy: " + titleWords(string(strategy)),
		fmt.Sprintf("Market Analysis: %s volatility, %s sentiment", titleWords(string(r.Volatility)), titleWords(string(r.Sentiment))),
		fmt.Sprintf("Strike: $%.2f %s", strike, strings.ToUpper(string(optType))),
		"Action: " + strings.ToUpper(string(side)),
	}, " | ")
}

func titleWords(s string) string {
	words := strings.Split(s, "_")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}

func truncateDay(t time.Time) time.Time {
	return domain.UTCDay(t)
}
