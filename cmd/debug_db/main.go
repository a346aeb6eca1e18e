package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/vitos/options_signal_engine/internal/domain"
	"github.com/vitos/options_signal_engine/internal/infrastructure/storage"
)

func main() {
	dbPath := flag.String("db", "engine.db", "sqlite database path")
	flag.Parse()

	store, err := storage.NewSQLiteStore(*dbPath)
	if err != nil {
		fmt.Printf("Failed to init sqlite: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	ctx := context.Background()
	users, err := store.ListConfiguredUsers(ctx)
	if err != nil {
		fmt.Printf("Failed to list users: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Found %d users:\n", len(users))
	for _, u := range users {
		fmt.Printf("- User: %s\n", u)

		watchlist, err := store.ListActiveWatchlist(ctx, u)
		if err != nil {
			fmt.Printf("  ❌ Failed to list watchlist: %v\n", err)
		} else if len(watchlist) == 0 {
			fmt.Printf("  ⚠️ Empty watchlist\n")
		} else {
			for _, w := range watchlist {
				fmt.Printf("  ✅ Watching %s\n", w.Symbol)
			}
		}

		signals, err := store.ListSignals(ctx, domain.SignalFilter{UserID: u, Limit: 10})
		if err != nil {
			fmt.Printf("  ❌ Failed to list signals: %v\n", err)
			continue
		}
		for _, s := range signals {
			fmt.Printf("  Signal %s: %s %s %s strike=%.2f qty=%d status=%s\n",
				s.ID, s.Side, s.Symbol, s.StrategyType, s.StrikePrice, s.Quantity, s.Status)
		}

		positions, err := store.ListPositions(ctx, domain.PositionFilter{UserID: u, Statuses: []domain.PositionStatus{domain.PositionOpen}})
		if err != nil {
			fmt.Printf("  ❌ Failed to list positions: %v\n", err)
			continue
		}
		for _, p := range positions {
			pnl := 0.0
			if p.UnrealizedPnLPct != nil {
				pnl = *p.UnrealizedPnLPct
			}
			fmt.Printf("  Position %s: %s qty=%d entry=%.2f pnl=%.2f%% peak=%.2f%%\n",
				p.ID, p.OptionSymbol, p.Quantity, p.EntryPrice, pnl, p.PeakPnLPct)
		}
	}
}
