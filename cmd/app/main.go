package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"books_nepal/internal/browse"
	"books_nepal/internal/catalog"
	"books_nepal/internal/config"
	"books_nepal/internal/db"
	"books_nepal/internal/httpapi"
	"books_nepal/internal/logger"
	"books_nepal/internal/models"
	"books_nepal/internal/network"
	"books_nepal/internal/storage"
	"books_nepal/internal/telegram"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	if err := cfg.ValidateBot(); err != nil {
		logrus.WithError(err).Fatal("config")
	}
	logger.Setup(cfg.LogLevel, os.Stderr)

	logrus.Info("=== BOOKS NEPAL BOT STARTING ===")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	httpClient, err := network.NewClient(cfg.ProxyAddr, cfg.HTTPTimeout)
	if err != nil {
		logrus.WithError(err).Fatal("network")
	}
	books := catalog.NewClient(httpClient, cfg.CatalogURL)

	store, err := db.Open(cfg.SQLitePath)
	if err != nil {
		logrus.WithError(err).Fatal("sqlite")
	}
	defer store.Close()
	logrus.WithField("path", cfg.SQLitePath).Info("sqlite ready")

	covers, err := storage.NewCovers(cfg.CoverDir)
	if err != nil {
		logrus.WithError(err).Fatal("cover cache")
	}

	// One rental set per Telegram user, shared by the bot and the Mini App API.
	rentals := browse.NewRentalDirectory(func(ownerID int64) browse.RentalStorage {
		return store.Rentals(ownerID)
	}, logrus.WithField("component", "rentals"))

	api := httpapi.New(httpapi.Options{
		Catalog:         books,
		Store:           store,
		Rentals:         rentals,
		Verifier:        httpapi.NewInitDataVerifier(cfg.TelegramToken, nil),
		DefaultCategory: cfg.DefaultCategory,
		RateLimit:       cfg.APIRateLimit,
		RateBurst:       cfg.APIRateBurst,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logrus.WithField("addr", cfg.HTTPAddr).Info("http api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.WithError(err).Fatal("http api")
		}
	}()

	bot, err := telegram.NewBot(cfg.TelegramToken, telegram.Options{
		Catalog:  books,
		Books:    store,
		Covers:   covers,
		Rentals:  rentals,
		Debounce: cfg.SearchDebounce,
		DefaultQuery: models.SearchQuery{
			Text:     cfg.DefaultQuery,
			Category: cfg.DefaultCategory,
		},
		MiniAppURL: cfg.MiniAppURL,
	})
	if err != nil {
		logrus.WithError(err).Fatal("telegram")
	}

	logrus.Info("bot started, send /start or a book title in Telegram")
	bot.Start(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("http api shutdown")
	}
	logrus.Info("bye")
}
