package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/vitos/options_signal_engine/internal/config"
	"github.com/vitos/options_signal_engine/internal/domain"
	"github.com/vitos/options_signal_engine/internal/infrastructure/broker"
	"github.com/vitos/options_signal_engine/internal/infrastructure/marketdata"
)

// Places a far-from-market limit order on the paper account, then cancels it.
func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	symbol := flag.String("symbol", "SPY", "underlying whose first listed contract is used")
	flag.Parse()

	godotenv.Load()

	// 1. Load Config
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	if !cfg.Broker.Paper {
		fmt.Println("Refusing to place test orders on a live account (broker.paper is false)")
		os.Exit(1)
	}

	ctx := context.Background()
	alpaca := broker.NewAlpacaAdapter(cfg.Broker.Key, cfg.Broker.Secret, cfg.Broker.BaseURL, cfg.Broker.DataURL)
	polygon := marketdata.NewPolygonClient(cfg.MarketData.APIKey, cfg.MarketData.BaseURL)

	contracts, err := polygon.ListOptionContracts(ctx, *symbol)
	if err != nil || len(contracts) == 0 {
		fmt.Printf("❌ No contracts for %s: %v\n", *symbol, err)
		os.Exit(1)
	}
	contract := contracts[0]
	fmt.Printf("Testing order round trip on %s (paper)...\n", contract.Ticker)

	// 2. Submit
	limit := 0.01
	order, err := alpaca.SubmitOrder(ctx, domain.OrderRequest{
		Symbol:      contract.Ticker,
		Qty:         1,
		Side:        domain.OrderSideBuy,
		TimeInForce: domain.TimeInForceDay,
		LimitPrice:  &limit,
	})
	if err != nil {
		fmt.Printf("❌ Failed to submit: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✅ Order %s submitted (status=%s)\n", order.ID, order.Status)

	// 3. Poll
	for i := 0; i < 5; i++ {
		time.Sleep(time.Second)
		o, err := alpaca.GetOrder(ctx, order.ID)
		if err != nil {
			fmt.Printf("⚠️ Failed to get order (attempt %d): %v\n", i+1, err)
			continue
		}
		fmt.Printf("⏳ Order status: %s\n", o.Status)
		if o.Status.IsDeadWithoutFill() || o.Status == domain.OrderFilled {
			break
		}
	}

	// 4. Cancel
	if err := alpaca.CancelOrder(ctx, order.ID); err != nil {
		fmt.Printf("❌ Failed to cancel: %v\n", err)
	} else {
		fmt.Println("✅ Order canceled")
	}
}
