package broker

import (
	"context"
	"errors"
	"math/rand"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"pairbot/internal/models"
)

// PaperConfig - параметры paper счёта
type PaperConfig struct {
	Symbol string
	Mid    float64 // стартовая mid цена
	Spread float64

	// MirrorSecondLeg - брокер сам открывает зеркальную позицию на каждую
	// рыночную заявку (так ведут себя copy-trade счета, от которых берётся LEG2)
	MirrorSecondLeg bool
	MirrorDelay     time.Duration // зеркальная позиция становится видна с задержкой

	// Walk - максимальный шаг случайного блуждания mid на каждый LastPrice
	Walk float64
}

type paperPosition struct {
	models.Position
	sl, tp    float64
	visibleAt time.Time
}

// PaperBroker - брокерский счёт в памяти. Исполняет рыночные заявки по
// текущей котировке и сам закрывает позиции по серверным SL/TP.
type PaperBroker struct {
	cfg PaperConfig
	now func() time.Time
	rnd *rand.Rand

	mu        sync.Mutex
	bid, ask  float64
	positions map[string]*paperPosition
	history   []models.Position // закрытые брокером по SL/TP
}

// NewPaperBroker создаёт paper счёт
func NewPaperBroker(cfg PaperConfig) *PaperBroker {
	if cfg.Mid <= 0 {
		cfg.Mid = 2000
	}
	if cfg.Spread < 0 {
		cfg.Spread = 0
	}
	pb := &PaperBroker{
		cfg:       cfg,
		now:       time.Now,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
		positions: make(map[string]*paperPosition),
	}
	pb.bid = cfg.Mid - cfg.Spread/2
	pb.ask = cfg.Mid + cfg.Spread/2
	return pb
}

// Name возвращает тип брокера
func (pb *PaperBroker) Name() string { return KindPaper }

// SetClock подменяет источник времени (тесты)
func (pb *PaperBroker) SetClock(now func() time.Time) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.now = now
}

// SetQuote выставляет котировку и исполняет серверные SL/TP
func (pb *PaperBroker) SetQuote(bid, ask float64) {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.bid, pb.ask = bid, ask
	pb.triggerStopsLocked()
}

// PlaceMarket открывает позицию по ask (BUY) или bid (SELL)
func (pb *PaperBroker) PlaceMarket(ctx context.Context, symbol string, side models.Side, lot, sl, tp float64) (models.PlaceResult, error) {
	if err := ctx.Err(); err != nil {
		return models.PlaceResult{}, err
	}
	if !side.Valid() {
		return models.PlaceResult{}, &Error{Broker: KindPaper, Op: "place", Code: "INVALID_SIDE", Message: "invalid side " + string(side)}
	}
	if lot <= 0 {
		return models.PlaceResult{}, &Error{Broker: KindPaper, Op: "place", Code: "INVALID_VOLUME", Message: "lot must be positive"}
	}
	if symbol != pb.cfg.Symbol {
		return models.PlaceResult{}, &Error{Broker: KindPaper, Op: "place", Code: "INVALID_SYMBOL", Message: "unknown symbol " + symbol}
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()

	now := pb.now()
	price := pb.ask
	if side == models.SideSell {
		price = pb.bid
	}

	pos := pb.openLocked(symbol, side, lot, price, sl, tp, now, now)
	if pb.cfg.MirrorSecondLeg {
		pb.openLocked(symbol, side, lot, price, sl, tp, now, now.Add(pb.cfg.MirrorDelay))
	}
	return models.PlaceResult{Ticket: pos.Ticket, Price: price}, nil
}

func (pb *PaperBroker) openLocked(symbol string, side models.Side, lot, price, sl, tp float64, openedAt, visibleAt time.Time) *paperPosition {
	pos := &paperPosition{
		Position: models.Position{
			Ticket:   uuid.NewString(),
			Symbol:   symbol,
			Side:     side,
			Volume:   lot,
			Price:    price,
			OpenTime: openedAt,
		},
		sl:        sl,
		tp:        tp,
		visibleAt: visibleAt,
	}
	pb.positions[pos.Ticket] = pos
	return pos
}

// ClosePosition закрывает позицию целиком (lot <= 0 или >= объёма) или частично
func (pb *PaperBroker) ClosePosition(ctx context.Context, ticket string, lot float64) (models.CloseResult, error) {
	if err := ctx.Err(); err != nil {
		return models.CloseResult{}, err
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()

	pos, ok := pb.positions[ticket]
	if !ok {
		return models.CloseResult{AlreadyClosed: true}, nil
	}

	price := pb.bid
	if pos.Side == models.SideSell {
		price = pb.ask
	}
	if lot <= 0 || lot >= pos.Volume {
		delete(pb.positions, ticket)
	} else {
		pos.Volume -= lot
	}
	return models.CloseResult{Price: price}, nil
}

// ListPositions возвращает видимые открытые позиции, старые первыми
func (pb *PaperBroker) ListPositions(ctx context.Context) ([]models.Position, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()

	now := pb.now()
	out := make([]models.Position, 0, len(pb.positions))
	for _, pos := range pb.positions {
		if now.Before(pos.visibleAt) {
			continue
		}
		out = append(out, pos.Position)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].OpenTime.Equal(out[j].OpenTime) {
			return out[i].Ticket < out[j].Ticket
		}
		return out[i].OpenTime.Before(out[j].OpenTime)
	})
	return out, nil
}

// LastPrice возвращает котировку, сдвигая mid на случайный шаг при Walk > 0
func (pb *PaperBroker) LastPrice(ctx context.Context, symbol string) (*models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if symbol != pb.cfg.Symbol {
		return nil, nil
	}

	pb.mu.Lock()
	defer pb.mu.Unlock()

	if pb.cfg.Walk > 0 {
		step := (pb.rnd.Float64()*2 - 1) * pb.cfg.Walk
		pb.bid += step
		pb.ask += step
		pb.triggerStopsLocked()
	}
	return &models.Quote{Symbol: symbol, Bid: pb.bid, Ask: pb.ask, Time: pb.now()}, nil
}

// Open добавляет позицию в обход заявки (ручная сделка оператора, тесты)
func (pb *PaperBroker) Open(pos models.Position) error {
	if pos.Ticket == "" {
		return errors.New("ticket is required")
	}
	pb.mu.Lock()
	defer pb.mu.Unlock()
	pb.positions[pos.Ticket] = &paperPosition{Position: pos}
	return nil
}

// ClosedByStops возвращает позиции, закрытые серверными SL/TP
func (pb *PaperBroker) ClosedByStops() []models.Position {
	pb.mu.Lock()
	defer pb.mu.Unlock()
	out := make([]models.Position, len(pb.history))
	copy(out, pb.history)
	return out
}

func (pb *PaperBroker) triggerStopsLocked() {
	for ticket, pos := range pb.positions {
		if !stopTriggered(pos, pb.bid, pb.ask) {
			continue
		}
		pb.history = append(pb.history, pos.Position)
		delete(pb.positions, ticket)
	}
}

func stopTriggered(pos *paperPosition, bid, ask float64) bool {
	if pos.Side == models.SideBuy {
		return (pos.sl > 0 && bid <= pos.sl) || (pos.tp > 0 && bid >= pos.tp)
	}
	return (pos.sl > 0 && ask >= pos.sl) || (pos.tp > 0 && ask <= pos.tp)
}
