package database

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"

	"github.com/rickgao/livefeed/internal/model"
)

// DefaultFetchLimit caps the rows returned by one Fetch.
const DefaultFetchLimit = 10_000

// DB is the subset of *pgxpool.Pool the store uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

// CustomStore reads custom data points from a table. It satisfies
// source.Fetcher.
type CustomStore struct {
	db     DB
	table  string // sanitized identifier
	limit  int
	logger *slog.Logger
}

// NewCustomStore creates a store over table.
func NewCustomStore(db DB, table string, logger *slog.Logger) *CustomStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &CustomStore{
		db:     db,
		table:  pgx.Identifier{table}.Sanitize(),
		limit:  DefaultFetchLimit,
		logger: logger,
	}
}

// EnsureSchema creates the table if it does not exist.
func (s *CustomStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			source_key TEXT        NOT NULL,
			end_time   TIMESTAMPTZ NOT NULL,
			value      NUMERIC     NOT NULL,
			payload    JSONB,
			PRIMARY KEY (source_key, end_time)
		)`, s.table))
	if err != nil {
		return fmt.Errorf("create %s: %w", s.table, err)
	}
	return nil
}

// SourceKey returns the row key for cfg.
func SourceKey(cfg model.SubscriptionConfig) string {
	if cfg.Source != "" {
		return cfg.Source
	}
	return cfg.Symbol.String()
}

// customRow is one scanned row.
type customRow struct {
	EndTime time.Time
	Value   string
	Payload *string
}

func (r customRow) toDataPoint(sym model.Symbol) (model.DataPoint, error) {
	value, err := decimal.NewFromString(r.Value)
	if err != nil {
		return model.DataPoint{}, fmt.Errorf("parse value %q: %w", r.Value, err)
	}

	var payload map[string]string
	if r.Payload != nil && *r.Payload != "" {
		if err := json.Unmarshal([]byte(*r.Payload), &payload); err != nil {
			return model.DataPoint{}, fmt.Errorf("parse payload: %w", err)
		}
	}

	return model.NewCustomData(sym, r.EndTime, value, payload), nil
}

// Fetch returns rows for cfg with end_time after since, oldest first.
func (s *CustomStore) Fetch(ctx context.Context, cfg model.SubscriptionConfig, since time.Time) ([]model.DataPoint, error) {
	query := fmt.Sprintf(`
		SELECT end_time, value::text, payload::text
		FROM %s
		WHERE source_key = $1 AND end_time > $2
		ORDER BY end_time
		LIMIT $3
	`, s.table)

	rows, err := s.db.Query(ctx, query, SourceKey(cfg), since.UTC(), s.limit)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", cfg.Symbol, err)
	}
	defer rows.Close()

	var out []model.DataPoint
	for rows.Next() {
		var r customRow
		if err := rows.Scan(&r.EndTime, &r.Value, &r.Payload); err != nil {
			return nil, fmt.Errorf("scan %s: %w", cfg.Symbol, err)
		}
		dp, err := r.toDataPoint(cfg.Symbol)
		if err != nil {
			s.logger.Warn("skipping bad custom row", "symbol", cfg.Symbol, "end_time", r.EndTime, "err", err)
			continue
		}
		out = append(out, dp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows %s: %w", cfg.Symbol, err)
	}

	return out, nil
}

// Insert stores points under key using pgx.Batch with ON CONFLICT DO
// NOTHING. It returns how many rows were new.
func (s *CustomStore) Insert(ctx context.Context, key string, points []model.DataPoint) (inserted int, err error) {
	if len(points) == 0 {
		return 0, nil
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (source_key, end_time, value, payload)
		VALUES ($1, $2, $3::numeric, $4::jsonb)
		ON CONFLICT (source_key, end_time) DO NOTHING
	`, s.table)

	batch := &pgx.Batch{}
	for _, p := range points {
		var payload *string
		if len(p.Payload) > 0 {
			data, err := json.Marshal(p.Payload)
			if err != nil {
				return 0, fmt.Errorf("marshal payload: %w", err)
			}
			str := string(data)
			payload = &str
		}
		batch.Queue(query, key, p.EndTime.UTC(), p.Value.String(), payload)
	}

	results := s.db.SendBatch(ctx, batch)
	defer results.Close()

	for range points {
		ct, err := results.Exec()
		if err != nil {
			return inserted, err
		}
		inserted += int(ct.RowsAffected())
	}

	return inserted, nil
}
