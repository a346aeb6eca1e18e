package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/vitos/options_signal_engine/internal/config"
	"github.com/vitos/options_signal_engine/internal/domain"
	"github.com/vitos/options_signal_engine/internal/infrastructure/storage"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "path to the YAML config")
	userID := flag.String("user", "", "user id")
	symbols := flag.String("symbols", "", "comma separated symbols, e.g. AAPL,MSFT")
	flag.Parse()

	godotenv.Load()

	if *userID == "" || *symbols == "" {
		log.Fatalf("Both -user and -symbols are required")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	store, err := storage.NewSQLiteStore(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	ctx := context.Background()

	// A user without a config gets the defaults, otherwise no signals are generated.
	if _, err := store.GetLatestUserConfig(ctx, *userID); errors.Is(err, domain.ErrNotFound) {
		userCfg := domain.DefaultUserConfig(*userID)
		userCfg.CreatedAt = time.Now()
		if err := store.SaveUserConfig(ctx, userCfg); err != nil {
			log.Fatalf("Failed to save user config: %v", err)
		}
		fmt.Printf("✅ Default config created for %s\n", *userID)
	} else if err != nil {
		log.Fatalf("Failed to load user config: %v", err)
	}

	for _, sym := range strings.Split(*symbols, ",") {
		sym = strings.ToUpper(strings.TrimSpace(sym))
		if sym == "" {
			continue
		}
		item := &domain.WatchlistItem{
			ID:        uuid.NewString(),
			UserID:    *userID,
			Symbol:    sym,
			IsActive:  true,
			Notes:     "added from cli",
			CreatedAt: time.Now(),
		}
		if err := store.AddWatchlistItem(ctx, item); err != nil {
			log.Fatalf("Failed to add %s: %v", sym, err)
		}
		fmt.Printf("✅ Watching %s\n", sym)
	}
}
