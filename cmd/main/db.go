package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/KobraKid/bestiary-sub000/pkg/store"
)

// sqlBackedStore closes the database together with the statements.
type sqlBackedStore struct {
	*store.SQLStore
	db *sql.DB
}

func (s *sqlBackedStore) Close() error {
	_ = s.SQLStore.Close()
	return s.db.Close()
}

// openStore opens the backend selected by the server config.
func openStore(ctx context.Context, cfg *ServerConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.DatabaseDriver {
	case "mongo":
		ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := store.NewMongoStore(ctx, store.MongoConfig{URI: cfg.MongoURI, Database: cfg.MongoDatabase})
		if err != nil {
			return nil, err
		}
		s.SetLogger(logger)
		logger.Info("Connected to MongoDB", "database", cfg.MongoDatabase)
		return s, nil

	case "", "sqlite":
		db, err := initDB(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err = store.SetupSchema(db); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to set up schema: %w", err)
		}
		s, err := store.NewSQLStore(db)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		s.SetLogger(logger)
		logger.Info("Opened SQLite database", "path", cfg.DatabasePath)
		return &sqlBackedStore{SQLStore: s, db: db}, nil

	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.DatabaseDriver)
	}
}
