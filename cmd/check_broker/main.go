package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/options_signal_engine/internal/config"
	"github.com/vitos/options_signal_engine/internal/infrastructure/broker"
	"github.com/vitos/options_signal_engine/internal/infrastructure/marketdata"
	"github.com/vitos/options_signal_engine/internal/infrastructure/news"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	symbol := flag.String("symbol", "SPY", "underlying to probe")
	flag.Parse()

	godotenv.Load()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	brokerURL := cfg.Broker.BaseURL
	if brokerURL == "" && !cfg.Broker.Paper {
		brokerURL = broker.AlpacaLiveURL
	}
	alpaca := broker.NewAlpacaAdapter(cfg.Broker.Key, cfg.Broker.Secret, brokerURL, cfg.Broker.DataURL)
	fmt.Printf("Testing broker interaction (paper=%v)...\n", cfg.Broker.Paper)

	// 2. Account & Clock
	acct, err := alpaca.GetAccount(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get account: %v\n", err)
	} else {
		fmt.Printf("✅ Account: equity=%.2f buying_power=%.2f blocked=%v\n", acct.Equity, acct.BuyingPower, acct.TradingBlocked)
	}

	clock, err := alpaca.GetClock(ctx)
	if err != nil {
		fmt.Printf("❌ Failed to get clock: %v\n", err)
	} else {
		fmt.Printf("✅ Market open=%v next_open=%s next_close=%s\n", clock.IsOpen, clock.NextOpen.Format(time.RFC3339), clock.NextClose.Format(time.RFC3339))
	}

	// 3. Stock quote
	quote, err := alpaca.GetLatestQuote(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to get quote: %v\n", err)
	} else {
		fmt.Printf("✅ %s bid=%.2f ask=%.2f mid=%.2f\n", *symbol, quote.Bid, quote.Ask, quote.Mid())
	}

	// 4. Options listing & quote
	polygon := marketdata.NewPolygonClient(cfg.MarketData.APIKey, cfg.MarketData.BaseURL)
	contracts, err := polygon.ListOptionContracts(ctx, *symbol)
	if err != nil {
		fmt.Printf("❌ Failed to list contracts: %v\n", err)
	} else {
		fmt.Printf("✅ %d contracts listed for %s\n", len(contracts), *symbol)
		if len(contracts) > 0 {
			oq, err := polygon.GetLastOptionQuote(ctx, contracts[0].Ticker)
			if err != nil {
				fmt.Printf("❌ Failed to get option quote: %v\n", err)
			} else {
				fmt.Printf("✅ %s bid=%.2f ask=%.2f spread=%.2f%%\n", oq.OptionSymbol, oq.Bid, oq.Ask, oq.SpreadPct)
			}
		}
	}

	// 5. News
	headlines, err := news.NewNewsAPIClient(cfg.News.APIKey, cfg.News.BaseURL).FetchHeadlines(ctx, *symbol, 12)
	if err != nil {
		fmt.Printf("❌ Failed to fetch headlines: %v\n", err)
	} else {
		fmt.Printf("✅ %d headlines in the last 12h\n", len(headlines))
	}
}
