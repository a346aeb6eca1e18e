package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/vitos/options_signal_engine/internal/domain"
	"go.uber.org/zap"
)

const (
	newsLookbackHours   = 12
	maxScoredArticles   = 10
	vetoHeadlineCount   = 3
	highImpactThreshold = 0.6
	vetoAvgThreshold    = -0.6
	vetoHighImpactCount = 2
	labelThreshold      = 0.3
)

var riskKeywords = []string{"bankruptcy", "fraud", "lawsuit", "investigation", "recall", "fda rejection"}

var newsCategories = []struct {
	name  string
	words []string
}{
	{"earnings", []string{"earnings", "revenue", "profit", "eps"}},
	{"fda", []string{"fda", "approval", "drug", "trial"}},
	{"analyst_rating", []string{"upgrade", "downgrade", "rating", "target"}},
	{"ma", []string{"merger", "acquisition", "buyout"}},
	{"legal", []string{"lawsuit", "investigation", "fraud"}},
}

// NewsSentimentService scores recent headlines for a symbol and decides whether
// the news flow should block new trades.
type NewsSentimentService struct {
	news    domain.NewsProvider
	scorer  domain.SentimentScorer
	repo    domain.NewsRepository
	cache   *MarketDataCache
	limiter *RateLimiter
	logger  *zap.Logger
}

func NewNewsSentimentService(
	news domain.NewsProvider,
	scorer domain.SentimentScorer,
	repo domain.NewsRepository,
	cache *MarketDataCache,
	limiter *RateLimiter,
	logger *zap.Logger,
) *NewsSentimentService {
	return &NewsSentimentService{
		news:    news,
		scorer:  scorer,
		repo:    repo,
		cache:   cache,
		limiter: limiter,
		logger:  logger,
	}
}

func (s *NewsSentimentService) GetSentimentSummary(ctx context.Context, symbol string) (*domain.SentimentSummary, error) {
	headlines, err := GetOrFetch(ctx, s.cache, NewsKey(symbol), NewsTTL, func(ctx context.Context) ([]domain.NewsHeadline, error) {
		if err := s.limiter.Acquire(ctx, ServiceNews); err != nil {
			return nil, err
		}
		return s.news.FetchHeadlines(ctx, symbol, newsLookbackHours)
	})
	if err != nil {
		return nil, domain.External(err, "news unavailable for "+symbol)
	}

	sorted := append([]domain.NewsHeadline(nil), headlines...)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].PublishedAt.After(sorted[j].PublishedAt) })
	if len(sorted) > maxScoredArticles {
		sorted = sorted[:maxScoredArticles]
	}

	summary := &domain.SentimentSummary{
		Symbol:       symbol,
		ArticleCount: len(headlines),
		Label:        "neutral",
		Categories:   make(map[string]int),
	}
	if len(sorted) == 0 {
		return summary, nil
	}

	var total float64
	for _, h := range sorted {
		score, err := s.scorer.ScoreSentiment(ctx, strings.TrimSpace(h.Headline+" "+h.Description))
		if err != nil {
			s.logger.Warn("Sentiment scoring failed, treating as neutral", zap.String("symbol", symbol), zap.Error(err))
			score = domain.SentimentScore{Label: "neutral"}
		}
		article := domain.ScoredArticle{NewsHeadline: h, SentimentScore: score, Category: CategorizeHeadline(h.Headline)}
		summary.Articles = append(summary.Articles, article)
		summary.Categories[article.Category]++
		total += score.Score

		switch {
		case score.Score > labelThreshold:
			summary.PositiveCount++
		case score.Score < -labelThreshold:
			summary.NegativeCount++
		default:
			summary.NeutralCount++
		}
		if math.Abs(score.Score) > highImpactThreshold {
			summary.HighImpact = append(summary.HighImpact, article)
		}
	}

	summary.AvgSentiment = round2(total / float64(len(sorted)))
	switch {
	case summary.AvgSentiment > labelThreshold:
		summary.Label = "positive"
	case summary.AvgSentiment < -labelThreshold:
		summary.Label = "negative"
	}

	if s.repo != nil {
		if err := s.repo.SaveScoredArticles(ctx, symbol, summary.Articles); err != nil {
			s.logger.Warn("Failed to store scored news", zap.String("symbol", symbol), zap.Error(err))
		}
	}
	return summary, nil
}

// CheckVeto reports whether the news flow should suppress new signals for the symbol.
func CheckVeto(summary *domain.SentimentSummary) (bool, string) {
	if summary == nil {
		return false, ""
	}

	vetoed, reason := false, ""
	if summary.AvgSentiment < vetoAvgThreshold {
		vetoed, reason = true, "Very negative news sentiment detected"
	}

	negatives := 0
	for _, a := range summary.HighImpact {
		if a.Score < vetoAvgThreshold {
			negatives++
		}
	}
	if negatives >= vetoHighImpactCount {
		vetoed, reason = true, "Multiple high-impact negative news articles"
	}

	for i, a := range summary.Articles {
		if i == vetoHeadlineCount {
			break
		}
		headline := strings.ToLower(a.Headline)
		for _, kw := range riskKeywords {
			if strings.Contains(headline, kw) {
				return true, fmt.Sprintf("High-risk news detected: %s", truncate(a.Headline, 50))
			}
		}
	}
	return vetoed, reason
}

// CategorizeHeadline buckets a headline by keyword, falling back to general.
func CategorizeHeadline(headline string) string {
	lower := strings.ToLower(headline)
	for _, c := range newsCategories {
		for _, w := range c.words {
			if strings.Contains(lower, w) {
				return c.name
			}
		}
	}
	return "general"
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
