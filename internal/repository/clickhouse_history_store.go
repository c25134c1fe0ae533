package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"Flowcast/internal/domain/models"
	domrepo "Flowcast/internal/domain/repository"
	pkgch "Flowcast/pkg/clickhouse"
	applogger "Flowcast/pkg/logger"
)

// CHHistoryStore implements HistoryStore backed by ClickHouse.
type CHHistoryStore struct {
	ch *pkgch.Client
	db *sql.DB
	l  *applogger.Logger
}

func NewCHHistoryStore(ch *pkgch.Client) *CHHistoryStore {
	return &CHHistoryStore{ch: ch, db: ch.DB()}
}

// SetLogger injects a structured logger.
func (s *CHHistoryStore) SetLogger(l *applogger.Logger) { s.l = l }

// HistorySchema creates the price history table. Passed to the client's
// InitSchema at startup.
var HistorySchema = []string{`
    CREATE TABLE IF NOT EXISTS flowcast.price_history (
        product_id LowCardinality(String),
        ts         DateTime64(3, 'UTC'),
        price      Float64,
        demand     Float64,
        stock      Int32
    )
    ENGINE = MergeTree
    PARTITION BY toYYYYMM(ts)
    ORDER BY (product_id, ts)
    TTL toDateTime(ts) + INTERVAL 180 DAY
`}

func (s *CHHistoryStore) GetHistory(ctx context.Context, productID string, window time.Duration) ([]models.HistoryPoint, error) {
	start := time.Now()
	since := time.Now().UTC().Add(-window)
	const q = `
        SELECT ts, price, demand, stock
        FROM flowcast.price_history
        WHERE product_id = ? AND ts >= ?
        ORDER BY ts ASC
    `
	rows, err := s.db.QueryContext(ctx, q, productID, since)
	if err != nil {
		if s.l != nil {
			s.l.Error("clickhouse get_history query error",
				applogger.String("product", productID),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("get history: %w", err)
	}
	defer rows.Close()

	out := make([]models.HistoryPoint, 0, 64)
	for rows.Next() {
		var p models.HistoryPoint
		if err := rows.Scan(&p.Timestamp, &p.Price, &p.Demand, &p.Stock); err != nil {
			if s.l != nil {
				s.l.Error("clickhouse get_history scan error",
					applogger.String("product", productID),
					applogger.Error(err),
				)
			}
			return nil, fmt.Errorf("scan history point: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		if s.l != nil {
			s.l.Error("clickhouse get_history rows error",
				applogger.String("product", productID),
				applogger.Error(err),
			)
		}
		return nil, fmt.Errorf("rows: %w", err)
	}
	if s.l != nil {
		s.l.Info("clickhouse get_history ok",
			applogger.String("product", productID),
			applogger.Int("rows", len(out)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return out, nil
}

func (s *CHHistoryStore) AppendHistory(ctx context.Context, productID string, pts []models.HistoryPoint) error {
	if len(pts) == 0 {
		return nil
	}
	start := time.Now()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch: %w", err)
	}
	stmt, err := tx.PrepareContext(ctx, `
        INSERT INTO flowcast.price_history (product_id, ts, price, demand, stock)
        VALUES (?, ?, ?, ?, ?)
    `)
	if err != nil {
		_ = tx.Rollback()
		return fmt.Errorf("prepare batch: %w", err)
	}
	defer stmt.Close()

	for _, p := range pts {
		if _, err := stmt.ExecContext(ctx, productID, p.Timestamp.UTC(), p.Price, p.Demand, int32(p.Stock)); err != nil {
			_ = tx.Rollback()
			if s.l != nil {
				s.l.Error("clickhouse append_history exec error",
					applogger.String("product", productID),
					applogger.Error(err),
				)
			}
			return fmt.Errorf("append history point: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}

	if s.l != nil {
		s.l.Info("clickhouse append_history ok",
			applogger.String("product", productID),
			applogger.Int("rows", len(pts)),
			applogger.Duration("duration_ms", time.Since(start)),
		)
	}
	return nil
}

func (s *CHHistoryStore) Health(ctx context.Context) error {
	return s.ch.Health(ctx)
}

func (s *CHHistoryStore) Close() error {
	return s.ch.Close()
}

var _ domrepo.HistoryStore = (*CHHistoryStore)(nil)
