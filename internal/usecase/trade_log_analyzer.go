package usecase

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/vitos/options_signal_engine/internal/domain"
	"go.uber.org/zap"
)

// closeLogMessage is the audit line written for every closed position.
const closeLogMessage = "Position closed"

type closeLogEntry struct {
	Msg            string             `json:"msg"`
	Symbol         string             `json:"symbol"`
	Strategy       string             `json:"strategy"`
	Reason         domain.CloseReason `json:"reason"`
	RealizedPnL    float64            `json:"realized_pnl"`
	RealizedPnLPct float64            `json:"realized_pnl_pct"`
}

type StrategyPerformance struct {
	Strategy      string                     `json:"strategy"`
	Trades        int                        `json:"trades"`
	WinningTrades int                        `json:"winning_trades"`
	WinRate       float64                    `json:"win_rate"`
	TotalPnL      float64                    `json:"total_pnl"`
	AvgPnL        float64                    `json:"avg_pnl"`
	AvgPnLPct     float64                    `json:"avg_pnl_pct"`
	CloseReasons  map[domain.CloseReason]int `json:"close_reasons"`
}

type TradeLogAnalyzer struct {
	logger *zap.Logger
}

func NewTradeLogAnalyzer(logger *zap.Logger) *TradeLogAnalyzer {
	return &TradeLogAnalyzer{logger: logger}
}

func (a *TradeLogAnalyzer) AnalyzeFile(path string) ([]StrategyPerformance, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("error opening file: %w", err)
	}
	defer file.Close()
	return a.Analyze(file)
}

// Analyze aggregates closed positions per strategy, best total P&L first.
// Lines that are not JSON close records are skipped.
func (a *TradeLogAnalyzer) Analyze(r io.Reader) ([]StrategyPerformance, error) {
	type totals struct {
		perf      StrategyPerformance
		sumPnLPct float64
	}
	byStrategy := make(map[string]*totals)

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		var entry closeLogEntry
		if err := json.Unmarshal(scanner.Bytes(), &entry); err != nil {
			a.logger.Debug("Skipping malformed trade log line", zap.Int("line", line), zap.Error(err))
			continue
		}
		if entry.Msg != closeLogMessage {
			continue
		}

		strategy := entry.Strategy
		if strategy == "" {
			strategy = "unknown"
		}
		t, ok := byStrategy[strategy]
		if !ok {
			t = &totals{perf: StrategyPerformance{Strategy: strategy, CloseReasons: make(map[domain.CloseReason]int)}}
			byStrategy[strategy] = t
		}
		t.perf.Trades++
		if entry.RealizedPnL > 0 {
			t.perf.WinningTrades++
		}
		t.perf.TotalPnL += entry.RealizedPnL
		t.sumPnLPct += entry.RealizedPnLPct
		t.perf.CloseReasons[entry.Reason]++
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read trade log: %w", err)
	}

	results := make([]StrategyPerformance, 0, len(byStrategy))
	for _, t := range byStrategy {
		p := t.perf
		n := float64(p.Trades)
		p.WinRate = round2(float64(p.WinningTrades) / n * 100)
		p.AvgPnL = round2(p.TotalPnL / n)
		p.AvgPnLPct = round2(t.sumPnLPct / n)
		p.TotalPnL = round2(p.TotalPnL)
		results = append(results, p)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].TotalPnL != results[j].TotalPnL {
			return results[i].TotalPnL > results[j].TotalPnL
		}
		return results[i].Strategy < results[j].Strategy
	})
	return results, nil
}
