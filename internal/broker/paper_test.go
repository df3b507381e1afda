package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"pairbot/internal/models"
)

var paperStart = time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

func newTestPaper(t *testing.T, mirror bool) (*PaperBroker, *time.Time) {
	t.Helper()
	now := paperStart
	pb := NewPaperBroker(PaperConfig{
		Symbol:          "XAUUSD",
		Mid:             2000,
		Spread:          0.5,
		MirrorSecondLeg: mirror,
		MirrorDelay:     time.Second,
	})
	pb.SetClock(func() time.Time { return now })
	return pb, &now
}

func TestPaperBroker_PlaceAndList(t *testing.T) {
	pb, _ := newTestPaper(t, false)
	ctx := context.Background()

	res, err := pb.PlaceMarket(ctx, "XAUUSD", models.SideBuy, 0.02, 1990, 2010)
	if err != nil {
		t.Fatalf("PlaceMarket: %v", err)
	}
	if res.Ticket == "" || res.Price != 2000.25 {
		t.Fatalf("result = %+v, want ticket and ask fill", res)
	}

	res2, err := pb.PlaceMarket(ctx, "XAUUSD", models.SideSell, 0.02, 0, 0)
	if err != nil {
		t.Fatalf("PlaceMarket SELL: %v", err)
	}
	if res2.Price != 1999.75 {
		t.Fatalf("SELL fill = %v, want bid", res2.Price)
	}

	list, err := pb.ListPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(list) != 2 {
		t.Fatalf("positions = %d, want 2", len(list))
	}
	for _, p := range list {
		if !p.HasOpenTime() || p.Symbol != "XAUUSD" || p.Volume != 0.02 {
			t.Fatalf("position = %+v", p)
		}
	}
}

func TestPaperBroker_PlaceValidation(t *testing.T) {
	pb, _ := newTestPaper(t, false)
	ctx := context.Background()

	tests := []struct {
		name   string
		symbol string
		side   models.Side
		lot    float64
		code   string
	}{
		{"bad side", "XAUUSD", models.Side("HOLD"), 0.01, "INVALID_SIDE"},
		{"zero lot", "XAUUSD", models.SideBuy, 0, "INVALID_VOLUME"},
		{"other symbol", "EURUSD", models.SideBuy, 0.01, "INVALID_SYMBOL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := pb.PlaceMarket(ctx, tt.symbol, tt.side, tt.lot, 0, 0)
			var be *Error
			if !errors.As(err, &be) || be.Code != tt.code {
				t.Fatalf("err = %v, want code %s", err, tt.code)
			}
		})
	}
}

func TestPaperBroker_MirrorBecomesVisibleLater(t *testing.T) {
	pb, now := newTestPaper(t, true)
	ctx := context.Background()

	res, _ := pb.PlaceMarket(ctx, "XAUUSD", models.SideBuy, 0.02, 0, 0)

	list, _ := pb.ListPositions(ctx)
	if len(list) != 1 || list[0].Ticket != res.Ticket {
		t.Fatalf("before mirror delay: %+v", list)
	}

	*now = now.Add(time.Second)
	list, _ = pb.ListPositions(ctx)
	if len(list) != 2 {
		t.Fatalf("after mirror delay: %d positions, want 2", len(list))
	}
	mirror := list[0]
	if mirror.Ticket == res.Ticket {
		mirror = list[1]
	}
	if mirror.Side != models.SideBuy || mirror.Volume != 0.02 || !mirror.OpenTime.Equal(paperStart) {
		t.Fatalf("mirror = %+v", mirror)
	}
}

func TestPaperBroker_Close(t *testing.T) {
	pb, _ := newTestPaper(t, false)
	ctx := context.Background()
	res, _ := pb.PlaceMarket(ctx, "XAUUSD", models.SideBuy, 0.04, 0, 0)

	out, err := pb.ClosePosition(ctx, res.Ticket, 0.01)
	if err != nil || out.AlreadyClosed {
		t.Fatalf("partial close = %+v, %v", out, err)
	}
	list, _ := pb.ListPositions(ctx)
	if len(list) != 1 || list[0].Volume < 0.0299 || list[0].Volume > 0.0301 {
		t.Fatalf("after partial: %+v", list)
	}

	if out, err = pb.ClosePosition(ctx, res.Ticket, 0); err != nil || out.AlreadyClosed || out.Price != 1999.75 {
		t.Fatalf("full close = %+v, %v", out, err)
	}
	out, err = pb.ClosePosition(ctx, res.Ticket, 0)
	if err != nil || !out.AlreadyClosed {
		t.Fatalf("second close = %+v, %v, want AlreadyClosed", out, err)
	}
}

func TestPaperBroker_ServerStops(t *testing.T) {
	pb, _ := newTestPaper(t, false)
	ctx := context.Background()
	buy, _ := pb.PlaceMarket(ctx, "XAUUSD", models.SideBuy, 0.01, 1990, 2010)
	sell, _ := pb.PlaceMarket(ctx, "XAUUSD", models.SideSell, 0.01, 2010, 1990)

	pb.SetQuote(2010.1, 2010.5)

	list, _ := pb.ListPositions(ctx)
	if len(list) != 0 {
		t.Fatalf("positions = %+v, want both stopped out", list)
	}
	closed := pb.ClosedByStops()
	if len(closed) != 2 {
		t.Fatalf("closed by stops = %d, want 2", len(closed))
	}
	seen := map[string]bool{closed[0].Ticket: true, closed[1].Ticket: true}
	if !seen[buy.Ticket] || !seen[sell.Ticket] {
		t.Fatal("BUY TP and SELL SL must both trigger")
	}
}

func TestPaperBroker_LastPrice(t *testing.T) {
	pb, _ := newTestPaper(t, false)
	ctx := context.Background()

	q, err := pb.LastPrice(ctx, "XAUUSD")
	if err != nil || q == nil {
		t.Fatalf("LastPrice = %v, %v", q, err)
	}
	if q.Bid != 1999.75 || q.Ask != 2000.25 || !q.Time.Equal(paperStart) {
		t.Fatalf("quote = %+v", q)
	}

	if q, err := pb.LastPrice(ctx, "EURUSD"); err != nil || q != nil {
		t.Fatalf("unknown symbol = %v, %v, want nil quote", q, err)
	}
}

func TestPaperBroker_Open(t *testing.T) {
	pb, _ := newTestPaper(t, false)
	if err := pb.Open(models.Position{}); err == nil {
		t.Fatal("Open without ticket must fail")
	}
	if err := pb.Open(models.Position{Ticket: "manual-1", Symbol: "XAUUSD", Side: models.SideSell, Volume: 0.1}); err != nil {
		t.Fatal(err)
	}
	list, _ := pb.ListPositions(context.Background())
	if len(list) != 1 || list[0].HasOpenTime() {
		t.Fatalf("manual position = %+v, want no open time", list)
	}
}

func TestPaperBroker_CancelledContext(t *testing.T) {
	pb, _ := newTestPaper(t, false)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := pb.PlaceMarket(ctx, "XAUUSD", models.SideBuy, 0.01, 0, 0); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if _, err := pb.ListPositions(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
}
