package repository

import (
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"pairbot/internal/models"
)

// ============================================================
// TradeRepository Tests
// ============================================================

var tradeRowColumns = []string{
	"id", "pair_id", "signal_id", "symbol", "side", "category", "lot_each", "entry_price", "sl", "tp",
	"reason", "partial_closed", "break_even", "opened_at", "closed_at",
}

func testTrade() *models.TradeRecord {
	opened := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	return &models.TradeRecord{
		PairID:     "p1",
		SignalID:   "sig-1",
		Symbol:     "XAUUSD",
		Side:       "BUY",
		Category:   "T_BUY",
		LotEach:    0.02,
		EntryPrice: 2000,
		SL:         1990,
		TP:         2008,
		Reason:     "TP_HIT",
		Partial:    true,
		BreakEven:  true,
		OpenedAt:   opened,
		ClosedAt:   opened.Add(10 * time.Minute),
	}
}

func TestTradeRepositoryCreate(t *testing.T) {
	tests := []struct {
		name        string
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
		expectID    int
	}{
		{
			name: "success",
			mockSetup: func(mock sqlmock.Sqlmock) {
				tr := testTrade()
				mock.ExpectQuery(`INSERT INTO trades .+ ON CONFLICT \(pair_id\) DO NOTHING`).
					WithArgs(tr.PairID, tr.SignalID, tr.Symbol, tr.Side, tr.Category, tr.LotEach, tr.EntryPrice,
						tr.SL, tr.TP, tr.Reason, tr.Partial, tr.BreakEven, tr.OpenedAt, tr.ClosedAt).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))
			},
			expectID: 7,
		},
		{
			name: "duplicate pair is ignored",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO trades`).
					WillReturnRows(sqlmock.NewRows([]string{"id"}))
			},
			expectID: 0,
		},
		{
			name: "database error",
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO trades`).
					WillReturnError(errors.New("database error"))
			},
			expectError: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			if err != nil {
				t.Fatalf("failed to create mock: %v", err)
			}
			defer db.Close()

			tt.mockSetup(mock)

			tr := testTrade()
			err = NewTradeRepository(db).Create(tr)
			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if tr.ID != tt.expectID {
					t.Errorf("id = %d, want %d", tr.ID, tt.expectID)
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestTradeRepositoryGetByPairID(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	tr := testTrade()
	mock.ExpectQuery(`SELECT .+ FROM trades WHERE pair_id = \$1`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(tradeRowColumns).AddRow(
			7, tr.PairID, nil, tr.Symbol, tr.Side, tr.Category, tr.LotEach, tr.EntryPrice, nil, 2008.0,
			tr.Reason, true, false, tr.OpenedAt, tr.ClosedAt))
	mock.ExpectQuery(`SELECT .+ FROM trades WHERE pair_id = \$1`).
		WithArgs("missing").
		WillReturnError(sql.ErrNoRows)

	repo := NewTradeRepository(db)
	got, err := repo.GetByPairID("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ID != 7 || got.SignalID != "" || got.SL != 0 || got.TP != 2008 || !got.Partial || got.BreakEven {
		t.Errorf("trade = %+v", got)
	}

	if _, err := repo.GetByPairID("missing"); !errors.Is(err, ErrTradeNotFound) {
		t.Errorf("err = %v, want ErrTradeNotFound", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestTradeRepositoryGetRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	tr := testTrade()
	rows := sqlmock.NewRows(tradeRowColumns)
	for i := 1; i <= 3; i++ {
		rows.AddRow(i, tr.PairID, tr.SignalID, tr.Symbol, tr.Side, tr.Category, tr.LotEach, tr.EntryPrice,
			tr.SL, tr.TP, tr.Reason, tr.Partial, tr.BreakEven, tr.OpenedAt, tr.ClosedAt)
	}
	mock.ExpectQuery(`SELECT .+ FROM trades\s+ORDER BY closed_at DESC`).
		WithArgs(3).
		WillReturnRows(rows)

	trades, err := NewTradeRepository(db).GetRecent(3)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(trades) != 3 {
		t.Fatalf("expected 3 trades, got %d", len(trades))
	}
}

func TestTradeRepositoryCountByReason(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	since := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT reason, COUNT\(\*\)`).
		WithArgs(since).
		WillReturnRows(sqlmock.NewRows([]string{"reason", "count"}).
			AddRow("TP_HIT", 4).
			AddRow("SYNC_CLOSED", 1))

	counts, err := NewTradeRepository(db).CountByReason(since)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if counts["TP_HIT"] != 4 || counts["SYNC_CLOSED"] != 1 || len(counts) != 2 {
		t.Errorf("counts = %v", counts)
	}
}
