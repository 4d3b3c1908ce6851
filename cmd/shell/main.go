package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/peterh/liner"
	"github.com/sirupsen/logrus"

	"books_nepal/internal/browse"
	"books_nepal/internal/catalog"
	"books_nepal/internal/config"
	"books_nepal/internal/db"
	"books_nepal/internal/logger"
	"books_nepal/internal/models"
	"books_nepal/internal/network"
)

// The shell keeps its rentals under a local owner id that no Telegram user has.
const localOwner int64 = 0

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config")
	}
	logger.Setup(cfg.LogLevel, os.Stderr)
	// Keep log lines from tearing through the prompt unless asked for.
	if cfg.LogLevel == "info" {
		logrus.SetLevel(logrus.WarnLevel)
	}

	httpClient, err := network.NewClient(cfg.ProxyAddr, cfg.HTTPTimeout)
	if err != nil {
		logrus.WithError(err).Fatal("network")
	}

	store, err := db.Open(cfg.SQLitePath)
	if err != nil {
		logrus.WithError(err).Fatal("sqlite")
	}
	defer store.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rentals := browse.NewRentalStore(store.Rentals(localOwner), logrus.WithField("component", "rentals"))
	rentals.Load(ctx)

	sh := newShell(ctx, shellConfig{
		Query: browse.QueryConfig{
			Fetcher:  catalog.NewClient(httpClient, cfg.CatalogURL),
			Debounce: cfg.SearchDebounce,
			Initial:  models.SearchQuery{Text: cfg.DefaultQuery, Category: cfg.DefaultCategory},
		},
		Rentals: rentals,
		Books:   store,
		Out:     os.Stdout,
	})
	defer sh.query.Close()

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)
	line.SetCompleter(completions)

	historyPath := filepath.Join(filepath.Dir(cfg.SQLitePath), ".books_history")
	if f, err := os.Open(historyPath); err == nil {
		_, _ = line.ReadHistory(f)
		f.Close()
	}

	fmt.Println(shellHelp)
	sh.query.Start()

	for {
		input, err := line.Prompt("books> ")
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			logrus.WithError(err).Error("read input")
			break
		}
		if input != "" {
			line.AppendHistory(input)
		}
		if sh.execute(input) {
			break
		}
	}

	if f, err := os.Create(historyPath); err == nil {
		_, _ = line.WriteHistory(f)
		f.Close()
	}
}
