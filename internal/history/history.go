package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/tradebot/gobinance/internal/domain"
)

var log = logrus.WithField("component", "history")

// TradeRecord 一条落库的成交记录
type TradeRecord struct {
	ID         int64     `json:"id"`
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	Quantity   float64   `json:"quantity"`
	Price      float64   `json:"price"`
	StrategyID string    `json:"strategy_id"`
	Timestamp  time.Time `json:"timestamp"`
}

// Store 成交历史存储（SQLite）。写入是尽力而为的：
// 落库失败只记日志，不影响交易链路。
type Store struct {
	db *sql.DB
}

// New 打开成交历史库并完成建表
func New(dbPath string) (*Store, error) {
	if dbPath == "" {
		return nil, fmt.Errorf("history: db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1) // SQLite：单连接更稳定
	db.SetMaxIdleConns(1)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`
CREATE TABLE IF NOT EXISTS trades (
  id INTEGER PRIMARY KEY AUTOINCREMENT,
  order_id TEXT NOT NULL,
  symbol TEXT NOT NULL,
  side TEXT NOT NULL,
  quantity REAL NOT NULL,
  price REAL NOT NULL,
  strategy_id TEXT,
  ts TEXT NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_trades_symbol_ts ON trades(symbol, ts);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// AppendTrade 追加一条成交记录
func (s *Store) AppendTrade(trade domain.Trade) error {
	ts := trade.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.Exec(
		`INSERT INTO trades (order_id, symbol, side, quantity, price, strategy_id, ts) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		trade.OrderID, trade.Symbol, string(trade.Side), trade.Quantity, trade.Price, trade.StrategyID,
		ts.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		log.Errorf("成交落库失败: %v", err)
	}
	return err
}

// RecentTrades 最近的成交记录，按时间倒序
func (s *Store) RecentTrades(symbol string, limit int) ([]TradeRecord, error) {
	if limit <= 0 {
		limit = 100
	}

	var rows *sql.Rows
	var err error
	if symbol == "" {
		rows, err = s.db.Query(
			`SELECT id, order_id, symbol, side, quantity, price, COALESCE(strategy_id, ''), ts
			 FROM trades ORDER BY id DESC LIMIT ?`, limit)
	} else {
		rows, err = s.db.Query(
			`SELECT id, order_id, symbol, side, quantity, price, COALESCE(strategy_id, ''), ts
			 FROM trades WHERE symbol = ? ORDER BY id DESC LIMIT ?`, symbol, limit)
	}
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TradeRecord
	for rows.Next() {
		var r TradeRecord
		var ts string
		if err := rows.Scan(&r.ID, &r.OrderID, &r.Symbol, &r.Side, &r.Quantity, &r.Price, &r.StrategyID, &ts); err != nil {
			return nil, err
		}
		r.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
		out = append(out, r)
	}
	return out, rows.Err()
}
