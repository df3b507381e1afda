package bot

import (
	"github.com/shopspring/decimal"

	"pairbot/internal/config"
	"pairbot/internal/models"
)

// priceDigits - точность округления уровней SL/TP
const priceDigits = 5

// LotSizer рассчитывает объём одной ноги
type LotSizer interface {
	LotFor(sig models.Signal, quote models.Quote) float64
}

// StopPlanner рассчитывает SL/TP от цены входа (индикаторный слой).
// ok = false - данных недостаточно, движок использует фиксированные дистанции.
type StopPlanner interface {
	Plan(side models.Side, entry float64) (sl, tp float64, ok bool)
}

// FixedLotSizer - постоянный объём, округлённый к шагу лота брокера
type FixedLotSizer struct {
	Lot  float64
	Step float64
	Min  float64
}

// NewFixedLotSizer создаёт sizer из настроек движка
func NewFixedLotSizer(cfg config.BotConfig) FixedLotSizer {
	return FixedLotSizer{Lot: cfg.Lot, Step: cfg.LotStep, Min: cfg.MinLot}
}

// LotFor возвращает объём ноги
func (s FixedLotSizer) LotFor(models.Signal, models.Quote) float64 {
	return roundLot(s.Lot, s.Step, s.Min)
}

// roundLot округляет объём вниз к шагу, но не ниже минимального
func roundLot(lot, step, min float64) float64 {
	d := decimal.NewFromFloat(lot)
	if step > 0 {
		st := decimal.NewFromFloat(step)
		d = d.Div(st).Floor().Mul(st)
	}
	if m := decimal.NewFromFloat(min); d.LessThan(m) {
		d = m
	}
	return d.InexactFloat64()
}

// fixedLevels рассчитывает SL/TP на фиксированных дистанциях от входа
func fixedLevels(side models.Side, entry, slDist, tpDist float64) (sl, tp float64) {
	e := decimal.NewFromFloat(entry)
	s := decimal.NewFromFloat(slDist)
	t := decimal.NewFromFloat(tpDist)

	if side == models.SideBuy {
		sl = e.Sub(s).Round(priceDigits).InexactFloat64()
		tp = e.Add(t).Round(priceDigits).InexactFloat64()
	} else {
		sl = e.Add(s).Round(priceDigits).InexactFloat64()
		tp = e.Sub(t).Round(priceDigits).InexactFloat64()
	}
	return sl, tp
}

// tightenSL сжимает дистанцию стопа в factor раз
func tightenSL(side models.Side, entry, sl, factor float64) float64 {
	if sl == 0 || factor <= 0 || factor >= 1 {
		return sl
	}
	e := decimal.NewFromFloat(entry)
	dist := e.Sub(decimal.NewFromFloat(sl)).Abs().Mul(decimal.NewFromFloat(factor))
	if side == models.SideBuy {
		return e.Sub(dist).Round(priceDigits).InexactFloat64()
	}
	return e.Add(dist).Round(priceDigits).InexactFloat64()
}
