package main

import (
	"flag"
	"fmt"
	"os"
	"sort"

	"github.com/vitos/options_signal_engine/internal/domain"
	"github.com/vitos/options_signal_engine/internal/usecase"
	"go.uber.org/zap"
)

func main() {
	path := flag.String("log", "trades.log", "trade audit log written by the engine")
	flag.Parse()

	fmt.Printf("Analyzing file: %s\n", *path)

	results, err := usecase.NewTradeLogAnalyzer(zap.NewNop()).AnalyzeFile(*path)
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
	if len(results) == 0 {
		fmt.Println("No closed positions found.")
		return
	}

	fmt.Printf("\n%-15s %7s %7s %9s %12s %10s %9s\n", "STRATEGY", "TRADES", "WINS", "WIN RATE", "TOTAL P&L", "AVG P&L", "AVG %")
	for _, r := range results {
		fmt.Printf("%-15s %7d %7d %8.2f%% %12.2f %10.2f %8.2f%%\n",
			r.Strategy, r.Trades, r.WinningTrades, r.WinRate, r.TotalPnL, r.AvgPnL, r.AvgPnLPct)

		reasons := make([]string, 0, len(r.CloseReasons))
		for reason := range r.CloseReasons {
			reasons = append(reasons, string(reason))
		}
		sort.Strings(reasons)
		for _, reason := range reasons {
			fmt.Printf("    %-13s %d\n", reason, r.CloseReasons[domain.CloseReason(reason)])
		}
	}
}
