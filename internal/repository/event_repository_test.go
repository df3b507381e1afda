package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"pairbot/internal/models"
)

// ============================================================
// EventRepository Tests
// ============================================================

var eventRowColumns = []string{"id", "timestamp", "type", "severity", "pair_id", "symbol", "message", "meta"}

func TestNewEventRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	repo := NewEventRepository(db)
	if repo == nil {
		t.Fatal("NewEventRepository returned nil")
	}
	if repo.db != db {
		t.Error("db not set correctly")
	}
}

func TestEventRepositoryCreate(t *testing.T) {
	tests := []struct {
		name        string
		event       *models.Notification
		mockSetup   func(mock sqlmock.Sqlmock)
		expectError bool
		expectID    int
	}{
		{
			name: "success without meta",
			event: &models.Notification{
				Type:     models.EventEntryPlaced,
				Severity: models.SeverityInfo,
				PairID:   "p1",
				Symbol:   "XAUUSD",
				Message:  "LEG1 placed",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO pair_events`).
					WithArgs(sqlmock.AnyArg(), models.EventEntryPlaced, models.SeverityInfo, "p1", "XAUUSD", "LEG1 placed", []byte(nil)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(1))
			},
			expectID: 1,
		},
		{
			name: "success with meta and no pair",
			event: &models.Notification{
				Type:     models.EventExternalClosed,
				Severity: models.SeverityWarn,
				Message:  "external position closed",
				Meta:     map[string]interface{}{"ticket": "T9"},
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO pair_events`).
					WithArgs(sqlmock.AnyArg(), models.EventExternalClosed, models.SeverityWarn, nil, nil, "external position closed", []byte(`{"ticket":"T9"}`)).
					WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(2))
			},
			expectID: 2,
		},
		{
			name: "database error",
			event: &models.Notification{
				Type:     models.EventSLHit,
				Severity: models.SeverityWarn,
				PairID:   "p2",
				Message:  "stop loss",
			},
			mockSetup: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery(`INSERT INTO pair_events`).
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

			repo := NewEventRepository(db)
			err = repo.Create(tt.event)

			if tt.expectError {
				if err == nil {
					t.Error("expected error, got nil")
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				if tt.event.ID != tt.expectID {
					t.Errorf("id = %d, want %d", tt.event.ID, tt.expectID)
				}
				if tt.event.Timestamp.IsZero() {
					t.Error("timestamp must be set")
				}
			}

			if err := mock.ExpectationsWereMet(); err != nil {
				t.Errorf("unfulfilled expectations: %v", err)
			}
		})
	}
}

func TestEventRepositoryGetRecent(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	rows := sqlmock.NewRows(eventRowColumns).
		AddRow(2, now, models.EventTPHit, models.SeverityInfo, "p1", "XAUUSD", "take profit", []byte(`{"price":2010.5}`)).
		AddRow(1, now.Add(-time.Minute), models.EventExternalClosed, models.SeverityWarn, nil, nil, "external", nil)

	mock.ExpectQuery(`SELECT .+ FROM pair_events\s+ORDER BY timestamp DESC\s+LIMIT`).
		WithArgs(10).
		WillReturnRows(rows)

	repo := NewEventRepository(db)
	events, err := repo.GetRecent(10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].PairID != "p1" || events[0].Meta["price"] != 2010.5 {
		t.Errorf("first event = %+v", events[0])
	}
	if events[1].PairID != "" || events[1].Meta != nil {
		t.Errorf("second event = %+v, want empty pair and meta", events[1])
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEventRepositoryGetByPair(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery(`SELECT .+ FROM pair_events\s+WHERE pair_id = \$1`).
		WithArgs("p1").
		WillReturnRows(sqlmock.NewRows(eventRowColumns).
			AddRow(1, now, models.EventEntryPlaced, models.SeverityInfo, "p1", "XAUUSD", "placed", nil).
			AddRow(2, now.Add(time.Second), models.EventLeg2Adopted, models.SeverityInfo, "p1", "XAUUSD", "adopted", nil))

	events, err := NewEventRepository(db).GetByPair("p1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 2 || events[1].Type != models.EventLeg2Adopted {
		t.Fatalf("events = %+v", events)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestEventRepositoryGetByTypes(t *testing.T) {
	t.Run("filters by types", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`WHERE type = ANY\(\$1\)`).
			WithArgs(sqlmock.AnyArg(), 5).
			WillReturnRows(sqlmock.NewRows(eventRowColumns).
				AddRow(3, time.Now(), models.EventSLHit, models.SeverityWarn, "p3", "XAUUSD", "sl", nil))

		events, err := NewEventRepository(db).GetByTypes([]string{models.EventSLHit, models.EventTPHit}, 5)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if len(events) != 1 {
			t.Fatalf("expected 1 event, got %d", len(events))
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})

	t.Run("empty types falls back to recent", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		if err != nil {
			t.Fatalf("failed to create mock: %v", err)
		}
		defer db.Close()

		mock.ExpectQuery(`ORDER BY timestamp DESC\s+LIMIT \$1`).
			WithArgs(5).
			WillReturnRows(sqlmock.NewRows(eventRowColumns))

		if _, err := NewEventRepository(db).GetByTypes(nil, 5); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if err := mock.ExpectationsWereMet(); err != nil {
			t.Errorf("unfulfilled expectations: %v", err)
		}
	})
}

func TestEventRepositoryQueryErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery(`SELECT`).WillReturnError(errors.New("connection lost"))
	mock.ExpectQuery(`SELECT`).WillReturnRows(sqlmock.NewRows(eventRowColumns).
		AddRow(1, time.Now(), "x", "info", nil, nil, "m", []byte(`{broken`)))

	repo := NewEventRepository(db)
	if _, err := repo.GetRecent(1); err == nil {
		t.Error("expected query error")
	}
	if _, err := repo.GetRecent(1); err == nil {
		t.Error("expected meta decode error")
	}
}

func TestEventRepositoryDeleteOlderThan(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer db.Close()

	before := time.Now().Add(-30 * 24 * time.Hour)
	mock.ExpectExec(`DELETE FROM pair_events WHERE timestamp < \$1`).
		WithArgs(before).
		WillReturnResult(sqlmock.NewResult(0, 42))

	n, err := NewEventRepository(db).DeleteOlderThan(before)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 42 {
		t.Errorf("deleted = %d, want 42", n)
	}
}
