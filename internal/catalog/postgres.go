package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/Adithya-Monish-Kumar-K/prefix-search/internal/search"
	"github.com/Adithya-Monish-Kumar-K/prefix-search/pkg/postgres"
)

const schema = `CREATE TABLE IF NOT EXISTS movies (
	id   BIGINT PRIMARY KEY,
	name TEXT    NOT NULL,
	year INTEGER NOT NULL
)`

// PostgresSource reads records from the PostgreSQL movies table.
type PostgresSource struct {
	db     *postgres.Client
	logger *slog.Logger
}

// NewPostgresSource creates a catalogue source over db.
func NewPostgresSource(db *postgres.Client) *PostgresSource {
	return &PostgresSource{
		db:     db,
		logger: slog.Default().With("component", "catalog"),
	}
}

// EnsureSchema creates the movies table when it does not exist.
func (s *PostgresSource) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating movies table: %w", err)
	}
	return nil
}

// Records loads every movie ordered by id.
func (s *PostgresSource) Records(ctx context.Context) ([]search.Record, error) {
	rows, err := s.db.DB.QueryContext(ctx, `SELECT id, name, year FROM movies ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing movies: %w", err)
	}
	defer rows.Close()

	var records []search.Record
	for rows.Next() {
		var r search.Record
		if err := rows.Scan(&r.ID, &r.Name, &r.Year); err != nil {
			return nil, fmt.Errorf("scanning movie row: %w", err)
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating movies: %w", err)
	}
	s.logger.Info("catalog loaded", "records", len(records))
	return records, nil
}

// Seed upserts records in a single transaction.
func (s *PostgresSource) Seed(ctx context.Context, records []search.Record) error {
	err := s.db.InTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx,
			`INSERT INTO movies (id, name, year) VALUES ($1, $2, $3)
			 ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, year = EXCLUDED.year`,
		)
		if err != nil {
			return fmt.Errorf("preparing movie upsert: %w", err)
		}
		defer stmt.Close()
		for _, r := range records {
			if _, err := stmt.ExecContext(ctx, r.ID, r.Name, r.Year); err != nil {
				return fmt.Errorf("upserting movie %d: %w", r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Info("catalog seeded", "records", len(records))
	return nil
}
