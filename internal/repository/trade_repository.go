package repository

import (
	"database/sql"
	"errors"
	"time"

	"pairbot/internal/models"
)

// Ошибки репозитория сделок
var (
	ErrTradeNotFound = errors.New("trade not found")
)

// TradeRepository - работа с таблицей trades (одна строка на финализированную пару)
type TradeRepository struct {
	db *sql.DB
}

// NewTradeRepository создает новый экземпляр репозитория
func NewTradeRepository(db *sql.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

const tradeColumns = `id, pair_id, signal_id, symbol, side, category, lot_each, entry_price, sl, tp,
		reason, partial_closed, break_even, opened_at, closed_at`

// Create записывает сделку. Повторная запись той же пары игнорируется.
func (r *TradeRepository) Create(t *models.TradeRecord) error {
	query := `
		INSERT INTO trades (pair_id, signal_id, symbol, side, category, lot_each, entry_price, sl, tp,
			reason, partial_closed, break_even, opened_at, closed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		ON CONFLICT (pair_id) DO NOTHING
		RETURNING id`

	err := r.db.QueryRow(
		query,
		t.PairID,
		t.SignalID,
		t.Symbol,
		t.Side,
		t.Category,
		t.LotEach,
		t.EntryPrice,
		t.SL,
		t.TP,
		t.Reason,
		t.Partial,
		t.BreakEven,
		t.OpenedAt,
		t.ClosedAt,
	).Scan(&t.ID)

	// ON CONFLICT DO NOTHING не возвращает строк
	if errors.Is(err, sql.ErrNoRows) {
		return nil
	}
	return err
}

// GetByPairID возвращает сделку пары
func (r *TradeRepository) GetByPairID(pairID string) (*models.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + ` FROM trades WHERE pair_id = $1`

	t, err := scanTrade(r.db.QueryRow(query, pairID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrTradeNotFound
		}
		return nil, err
	}
	return t, nil
}

// GetRecent возвращает последние N сделок
func (r *TradeRepository) GetRecent(limit int) ([]*models.TradeRecord, error) {
	query := `SELECT ` + tradeColumns + `
		FROM trades
		ORDER BY closed_at DESC
		LIMIT $1`

	rows, err := r.db.Query(query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []*models.TradeRecord
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return trades, nil
}

// CountByReason возвращает число сделок по причинам закрытия с указанного времени
func (r *TradeRepository) CountByReason(since time.Time) (map[string]int, error) {
	rows, err := r.db.Query(`
		SELECT reason, COUNT(*)
		FROM trades
		WHERE closed_at >= $1
		GROUP BY reason`, since)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, err
		}
		counts[reason] = n
	}

	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTrade(row rowScanner) (*models.TradeRecord, error) {
	t := &models.TradeRecord{}
	var signalID sql.NullString
	var sl, tp sql.NullFloat64
	err := row.Scan(
		&t.ID,
		&t.PairID,
		&signalID,
		&t.Symbol,
		&t.Side,
		&t.Category,
		&t.LotEach,
		&t.EntryPrice,
		&sl,
		&tp,
		&t.Reason,
		&t.Partial,
		&t.BreakEven,
		&t.OpenedAt,
		&t.ClosedAt,
	)
	if err != nil {
		return nil, err
	}
	t.SignalID = signalID.String
	t.SL = sl.Float64
	t.TP = tp.Float64
	return t, nil
}
