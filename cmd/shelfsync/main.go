package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"golang.org/x/time/rate"

	"github.com/shelfsync/shelfsync/internal/catalog"
	"github.com/shelfsync/shelfsync/internal/config"
	"github.com/shelfsync/shelfsync/internal/httpapi"
)

func main() {
	_ = godotenv.Load()

	logger := log.New(os.Stdout, "shelfsync ", log.LstdFlags)

	cfg, holder, watcher := loadConfig(logger)
	if watcher != nil {
		defer watcher.Close()
	}

	shopifyClient := catalog.NewShopifyHTTPClient(catalog.BackendHTTPOptions{
		BaseURL:       cfg.Shopify.BaseURL,
		UserAgent:     "shelfsync",
		TokenProvider: tokenFromHolder(holder, func(c *config.Config) string { return c.Shopify.Token }),
	})
	squareClient := catalog.NewSquareHTTPClient(catalog.BackendHTTPOptions{
		BaseURL:       cfg.Square.BaseURL,
		UserAgent:     "shelfsync",
		TokenProvider: tokenFromHolder(holder, func(c *config.Config) string { return c.Square.Token }),
	})

	var limiter *rate.Limiter
	if cfg.SquareLookupsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.SquareLookupsPerSecond), 1)
	}

	cat := catalog.NewCatalog(catalog.CatalogOptions{
		Adapters: []catalog.SourceAdapter{
			catalog.NewShopifyAdapter(shopifyClient, logger),
			catalog.NewSquareAdapter(squareClient, catalog.SquareAdapterOptions{
				Limiter: limiter,
				Logger:  logger,
			}),
		},
		Logger: logger,
	})

	history, err := catalog.BuildHistoryFromDSN(cfg.HistoryDSN)
	if err != nil {
		logger.Fatalf("failed to initialize mutation history: %v", err)
	}

	coordinator := catalog.NewCoordinator(catalog.CoordinatorOptions{
		Catalog:  cat,
		Debounce: cfg.Debounce(),
		History:  history,
		Logger:   logger,
	})
	defer coordinator.Close()

	server := httpapi.NewServer(httpapi.ServerOptions{
		Catalog:     cat,
		Coordinator: coordinator,
		History:     history,
		Logger:      logger,
		AuthToken:   os.Getenv("SHELFSYNC_API_TOKEN"),
	})

	logger.Printf("shelfsync listening on %s", cfg.Addr)
	if err := http.ListenAndServe(cfg.Addr, server); err != nil {
		logger.Fatalf("server failed: %v", err)
	}
}

// loadConfig reads the yaml file named by SHELFSYNC_CONFIG when set, falling
// back to environment variables alone. A file-backed config is watched so
// token rotations apply without a restart.
func loadConfig(logger *log.Logger) (*config.Config, *config.Holder, *config.Watcher) {
	path := strings.TrimSpace(os.Getenv("SHELFSYNC_CONFIG"))
	if path == "" {
		cfg := config.FromEnv()
		return cfg, config.NewHolder(cfg), nil
	}
	cfg, err := config.Load(path)
	if err != nil {
		logger.Fatalf("failed to load config %s: %v", path, err)
	}
	holder := config.NewHolder(cfg)
	watcher, err := config.Watch(path, holder, logger)
	if err != nil {
		logger.Printf("config watch disabled: %v", err)
		return cfg, holder, nil
	}
	return cfg, holder, watcher
}

func tokenFromHolder(holder *config.Holder, pick func(*config.Config) string) catalog.TokenProvider {
	return func(ctx context.Context) (string, error) {
		return pick(holder.Load()), nil
	}
}
