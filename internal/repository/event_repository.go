package repository

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"pairbot/internal/models"
)

// EventRepository - работа с таблицей pair_events
//
// Функции:
// - Create: записать событие жизненного цикла пары
// - GetRecent: последние N событий
// - GetByPair: история одной пары
// - GetByTypes: события определенных типов
// - DeleteOlderThan: автоочистка старых событий
type EventRepository struct {
	db *sql.DB
}

// NewEventRepository создает новый экземпляр репозитория
func NewEventRepository(db *sql.DB) *EventRepository {
	return &EventRepository{db: db}
}

const eventColumns = `id, timestamp, type, severity, pair_id, symbol, message, meta`

// Create записывает событие
func (r *EventRepository) Create(n *models.Notification) error {
	query := `
		INSERT INTO pair_events (timestamp, type, severity, pair_id, symbol, message, meta)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	if n.Timestamp.IsZero() {
		n.Timestamp = time.Now()
	}

	var meta []byte
	if len(n.Meta) > 0 {
		var err error
		meta, err = json.Marshal(n.Meta)
		if err != nil {
			return fmt.Errorf("marshal event meta: %w", err)
		}
	}

	return r.db.QueryRow(
		query,
		n.Timestamp,
		n.Type,
		n.Severity,
		nullString(n.PairID),
		nullString(n.Symbol),
		n.Message,
		meta,
	).Scan(&n.ID)
}

// GetRecent возвращает последние N событий
func (r *EventRepository) GetRecent(limit int) ([]*models.Notification, error) {
	query := `SELECT ` + eventColumns + `
		FROM pair_events
		ORDER BY timestamp DESC
		LIMIT $1`

	return r.query(query, limit)
}

// GetByPair возвращает события пары в хронологическом порядке
func (r *EventRepository) GetByPair(pairID string) ([]*models.Notification, error) {
	query := `SELECT ` + eventColumns + `
		FROM pair_events
		WHERE pair_id = $1
		ORDER BY timestamp ASC`

	return r.query(query, pairID)
}

// GetByTypes возвращает последние события указанных типов
func (r *EventRepository) GetByTypes(types []string, limit int) ([]*models.Notification, error) {
	if len(types) == 0 {
		return r.GetRecent(limit)
	}

	query := `SELECT ` + eventColumns + `
		FROM pair_events
		WHERE type = ANY($1)
		ORDER BY timestamp DESC
		LIMIT $2`

	return r.query(query, pq.Array(types), limit)
}

// DeleteOlderThan удаляет события старше указанного времени
func (r *EventRepository) DeleteOlderThan(before time.Time) (int64, error) {
	res, err := r.db.Exec(`DELETE FROM pair_events WHERE timestamp < $1`, before)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (r *EventRepository) query(query string, args ...interface{}) ([]*models.Notification, error) {
	rows, err := r.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*models.Notification
	for rows.Next() {
		n := &models.Notification{}
		var pairID, symbol sql.NullString
		var meta []byte
		if err := rows.Scan(&n.ID, &n.Timestamp, &n.Type, &n.Severity, &pairID, &symbol, &n.Message, &meta); err != nil {
			return nil, err
		}
		n.PairID = pairID.String
		n.Symbol = symbol.String
		if len(meta) > 0 {
			if err := json.Unmarshal(meta, &n.Meta); err != nil {
				return nil, fmt.Errorf("unmarshal event meta: %w", err)
			}
		}
		events = append(events, n)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}

	return events, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
