package sentiment

import (
	"context"
	"math"
	"strings"
	"unicode"

	"github.com/vitos/options_signal_engine/internal/domain"
)

// maxTextRunes caps how much of a headline is scored.
const maxTextRunes = 512

var positiveWords = []string{
	"beat", "beats", "surge", "surges", "soar", "soars", "rally", "rallies", "gain", "gains",
	"upgrade", "upgraded", "outperform", "record", "growth", "profit", "profits", "strong",
	"bullish", "approval", "approved", "raise", "raises", "raised", "exceeds", "boost",
	"jump", "jumps", "rebound", "optimistic", "buyback", "dividend", "win", "wins",
}

var negativeWords = []string{
	"miss", "misses", "plunge", "plunges", "drop", "drops", "fall", "falls", "slump",
	"downgrade", "downgraded", "underperform", "loss", "losses", "weak", "bearish",
	"lawsuit", "investigation", "probe", "recall", "fraud", "bankruptcy", "layoffs",
	"cut", "cuts", "warning", "warns", "decline", "declines", "delay", "delayed",
	"rejected", "halt", "halted", "default", "subpoena", "sell-off", "crash",
}

var negators = map[string]bool{"not": true, "no": true, "never": true, "without": true}

// LexiconScorer scores finance headlines from fixed word lists.
// A negator flips the polarity of the word that follows it.
type LexiconScorer struct {
	positive map[string]bool
	negative map[string]bool
}

func NewLexiconScorer() *LexiconScorer {
	s := &LexiconScorer{
		positive: make(map[string]bool, len(positiveWords)),
		negative: make(map[string]bool, len(negativeWords)),
	}
	for _, w := range positiveWords {
		s.positive[w] = true
	}
	for _, w := range negativeWords {
		s.negative[w] = true
	}
	return s
}

func (s *LexiconScorer) ScoreSentiment(ctx context.Context, text string) (domain.SentimentScore, error) {
	if err := ctx.Err(); err != nil {
		return domain.SentimentScore{}, err
	}
	if r := []rune(text); len(r) > maxTextRunes {
		text = string(r[:maxTextRunes])
	}

	tokens := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '-'
	})

	var pos, neg int
	negate := false
	for _, tok := range tokens {
		if negators[tok] {
			negate = true
			continue
		}
		polarity := 0
		switch {
		case s.positive[tok]:
			polarity = 1
		case s.negative[tok]:
			polarity = -1
		}
		if negate {
			polarity = -polarity
			negate = false
		}
		switch polarity {
		case 1:
			pos++
		case -1:
			neg++
		}
	}

	hits := pos + neg
	if hits == 0 {
		return domain.SentimentScore{Score: 0, Label: "neutral", Confidence: 0}, nil
	}

	// Three matching words give full confidence.
	confidence := math.Min(1, float64(hits)/3)
	polarity := float64(pos-neg) / float64(hits)
	score := round2(polarity * confidence)

	label := "neutral"
	switch {
	case score > 0.1:
		label = "positive"
	case score < -0.1:
		label = "negative"
	}
	return domain.SentimentScore{Score: score, Label: label, Confidence: round2(confidence)}, nil
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
