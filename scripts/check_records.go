package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"labbooking/internal/config"
	"labbooking/internal/models"
	"labbooking/internal/repository"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type CatalogConfig struct {
	Labs []models.Lab `yaml:"labs"`
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	var (
		dir         = flag.String("dir", "./data/prenotazioni", "path to the record directory")
		catalogPath = flag.String("catalog", "", "optional path to labs.yaml")
	)
	flag.Parse()

	catalog := models.NewCatalog(nil)
	if *catalogPath != "" {
		data, err := os.ReadFile(*catalogPath)
		if err != nil {
			return fmt.Errorf("read catalog: %w", err)
		}
		var cfg CatalogConfig
		if err = yaml.Unmarshal(data, &cfg); err != nil {
			return fmt.Errorf("parse catalog: %w", err)
		}
		if err = config.ValidateCatalog(cfg.Labs); err != nil {
			return fmt.Errorf("catalog: %w", err)
		}
		catalog = models.NewCatalog(cfg.Labs)
	}

	store := repository.NewFileReservationRepository(config.StorageConfig{Dir: *dir}, &logger)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	records, err := store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("scan %s: %w", *dir, err)
	}

	valid, invalid, misplaced := 0, 0, 0
	for _, stored := range records {
		res, err := models.FromRecord(stored.Record)
		if err == nil {
			err = res.Validate()
		}
		if err == nil {
			err = catalog.Check(res.Lab(), res.Exams())
		}
		if err != nil {
			fmt.Printf("invalid  %s: %v\n", stored.Locator, err)
			invalid++
			continue
		}
		if want := store.Locate(res.Key()); want != stored.Locator {
			fmt.Printf("misnamed %s: content belongs to %s\n", stored.Locator, want)
			misplaced++
			continue
		}
		valid++
	}

	fmt.Printf("done: valid=%d invalid=%d misnamed=%d\n", valid, invalid, misplaced)
	if invalid+misplaced > 0 {
		return fmt.Errorf("%d records need attention", invalid+misplaced)
	}
	return nil
}
