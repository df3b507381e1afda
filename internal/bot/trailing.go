package bot

import (
	"math"

	"pairbot/internal/config"
	"pairbot/internal/models"
)

// TrailingPolicy предлагает новый рабочий стоп после безубытка.
// 0 - предложения нет. Движок применяет предложение только если оно
// улучшает стоп (advanceStop).
type TrailingPolicy interface {
	Name() string
	Next(p *models.Pair, price float64) float64
}

// NewTrailingPolicy выбирает политику по настройкам
func NewTrailingPolicy(cfg config.BotConfig) TrailingPolicy {
	if cfg.TrailingPolicy == "step" {
		return StepTrailing{Trigger: cfg.TrailTrigger, Step: cfg.TrailStep}
	}
	return StaticTrailing{}
}

// StaticTrailing - стоп остаётся на уровне безубытка
type StaticTrailing struct{}

func (StaticTrailing) Name() string                       { return "static" }
func (StaticTrailing) Next(*models.Pair, float64) float64 { return 0 }

// StepTrailing подтягивает стоп шагами Step, когда цена ушла от стопа
// дальше чем Trigger + Step
type StepTrailing struct {
	Trigger float64
	Step    float64
}

func (StepTrailing) Name() string { return "step" }

// Next возвращает стоп, подтянутый на целое число шагов
func (t StepTrailing) Next(p *models.Pair, price float64) float64 {
	stop := p.EffectiveSL()
	if stop == 0 || t.Step <= 0 {
		return 0
	}

	var dist float64
	if p.Side == models.SideBuy {
		dist = price - stop
	} else {
		dist = stop - price
	}
	if dist < t.Trigger+t.Step {
		return 0
	}

	steps := math.Floor((dist - t.Trigger) / t.Step)
	if p.Side == models.SideBuy {
		return stop + steps*t.Step
	}
	return stop - steps*t.Step
}

// advanceStop возвращает candidate, если он улучшает текущий стоп:
// для BUY стоп только растёт, для SELL только снижается
func advanceStop(side models.Side, current, candidate float64) (float64, bool) {
	if candidate == 0 {
		return current, false
	}
	if current == 0 {
		return candidate, true
	}
	if side == models.SideBuy && candidate > current {
		return candidate, true
	}
	if side == models.SideSell && candidate < current {
		return candidate, true
	}
	return current, false
}

// progressToTP - доля пройденного пути от входа к TP
func progressToTP(p *models.Pair, price float64) float64 {
	if p.TP == 0 || p.TP == p.EntryPrice {
		return 0
	}
	if p.Side == models.SideBuy {
		return (price - p.EntryPrice) / (p.TP - p.EntryPrice)
	}
	return (p.EntryPrice - price) / (p.EntryPrice - p.TP)
}

// takeProfitHit - цена достигла TP
func takeProfitHit(side models.Side, price, tp float64) bool {
	if tp == 0 {
		return false
	}
	if side == models.SideBuy {
		return price >= tp
	}
	return price <= tp
}

// stopHit - цена достигла стопа
func stopHit(side models.Side, price, stop float64) bool {
	if stop == 0 {
		return false
	}
	if side == models.SideBuy {
		return price <= stop
	}
	return price >= stop
}
