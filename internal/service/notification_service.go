package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"pairbot/internal/models"
	"pairbot/pkg/utils"
)

// ErrJournalDisabled - журнал (БД) не подключён
var ErrJournalDisabled = errors.New("journal is disabled")

// NotificationService разбирает очередь событий движка.
//
// Каждое событие пишется в журнал, уходит websocket клиентам и, для
// выбранных типов, в чат оператора. Финализирующие события дополнительно
// пишут строку сделки. Ошибки получателей логируются и не повторяются.
type NotificationService struct {
	eventRepo EventRepositoryInterface
	tradeRepo TradeRepositoryInterface
	wsHub     WebSocketBroadcaster
	chat      ChatSender
	chatTypes map[string]bool
	retention time.Duration
	log       *utils.Logger
}

// DefaultChatTypes - события, отправляемые в чат по умолчанию
var DefaultChatTypes = []string{
	models.EventEntryPlaced,
	models.EventPartialClosed,
	models.EventSLHit,
	models.EventTPHit,
	models.EventBreakEvenExit,
	models.EventSyncClosed,
	models.EventEntryTimeout,
	models.EventEntryFailed,
	models.EventManualClose,
	models.EventPairClosed,
}

// closingEvents - события финализации пары
var closingEvents = map[string]bool{
	models.EventTPHit:         true,
	models.EventSLHit:         true,
	models.EventBreakEvenExit: true,
	models.EventSyncClosed:    true,
	models.EventEntryTimeout:  true,
	models.EventEntryFailed:   true,
	models.EventManualClose:   true,
	models.EventPairClosed:    true,
}

// NewNotificationService создает новый экземпляр NotificationService.
// Репозитории могут быть nil, если журнал отключён.
func NewNotificationService(eventRepo EventRepositoryInterface, tradeRepo TradeRepositoryInterface, log *utils.Logger) *NotificationService {
	if log == nil {
		log = utils.L()
	}
	s := &NotificationService{
		eventRepo: eventRepo,
		tradeRepo: tradeRepo,
		log:       log.WithComponent("notifications"),
	}
	s.SetChatTypes(DefaultChatTypes)
	return s
}

// SetWebSocketHub устанавливает WebSocket hub для broadcast событий
func (s *NotificationService) SetWebSocketHub(hub WebSocketBroadcaster) {
	s.wsHub = hub
}

// SetChatSender устанавливает отправку в чат оператора
func (s *NotificationService) SetChatSender(chat ChatSender) {
	s.chat = chat
}

// SetChatTypes задаёт типы событий, отправляемые в чат
func (s *NotificationService) SetChatTypes(types []string) {
	s.chatTypes = make(map[string]bool, len(types))
	for _, t := range types {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			s.chatTypes[t] = true
		}
	}
}

// SetRetention задаёт срок хранения событий журнала (0 - хранить всё)
func (s *NotificationService) SetRetention(d time.Duration) {
	s.retention = d
}

// Run разбирает очередь до её закрытия или отмены контекста
func (s *NotificationService) Run(ctx context.Context, events <-chan *models.Notification) {
	var cleanup <-chan time.Time
	if s.retention > 0 && s.eventRepo != nil {
		t := time.NewTicker(time.Hour)
		defer t.Stop()
		cleanup = t.C
		s.cleanup()
	}

	for {
		select {
		case <-ctx.Done():
			s.drain(events)
			return
		case n, ok := <-events:
			if !ok {
				return
			}
			s.Handle(n)
		case <-cleanup:
			s.cleanup()
		}
	}
}

// drain обрабатывает то, что уже лежит в очереди на момент остановки
func (s *NotificationService) drain(events <-chan *models.Notification) {
	for {
		select {
		case n, ok := <-events:
			if !ok {
				return
			}
			s.Handle(n)
		default:
			return
		}
	}
}

// Handle доставляет одно событие всем получателям
func (s *NotificationService) Handle(n *models.Notification) {
	if n == nil {
		return
	}

	if s.eventRepo != nil {
		if err := s.eventRepo.Create(n); err != nil {
			s.log.Error("failed to journal event", utils.String("type", n.Type), utils.PairID(n.PairID), utils.Err(err))
		}
	}

	if s.tradeRepo != nil && closingEvents[n.Type] && n.Pair != nil {
		if err := s.tradeRepo.Create(models.TradeFromPair(n.Pair)); err != nil {
			s.log.Error("failed to journal trade", utils.PairID(n.PairID), utils.Err(err))
		}
	}

	if s.wsHub != nil {
		s.wsHub.BroadcastNotification(n)
	}

	if s.chat != nil && s.chatTypes[n.Type] {
		if err := s.chat.Send(FormatEvent(n)); err != nil {
			s.log.Warn("failed to send chat notification", utils.String("type", n.Type), utils.Err(err))
		}
	}
}

func (s *NotificationService) cleanup() {
	n, err := s.eventRepo.DeleteOlderThan(time.Now().Add(-s.retention))
	if err != nil {
		s.log.Warn("event cleanup failed", utils.Err(err))
		return
	}
	if n > 0 {
		s.log.Info("old events removed", utils.Int64("count", n))
	}
}

// GetNotifications возвращает список событий с фильтрацией.
//
// Параметры:
// - types: типы для фильтрации (например: ["sl_hit", "tp_hit"]), пусто - все
// - limit: максимальное количество записей (по умолчанию 100, не больше 500)
func (s *NotificationService) GetNotifications(types []string, limit int) ([]*models.Notification, error) {
	if s.eventRepo == nil {
		return nil, ErrJournalDisabled
	}

	if limit <= 0 {
		limit = 100
	}
	if limit > 500 {
		limit = 500
	}

	normalized := make([]string, 0, len(types))
	for _, t := range types {
		if t = strings.ToLower(strings.TrimSpace(t)); t != "" {
			normalized = append(normalized, t)
		}
	}

	if len(normalized) > 0 {
		return s.eventRepo.GetByTypes(normalized, limit)
	}
	return s.eventRepo.GetRecent(limit)
}

// GetPairHistory возвращает события одной пары
func (s *NotificationService) GetPairHistory(pairID string) ([]*models.Notification, error) {
	if s.eventRepo == nil {
		return nil, ErrJournalDisabled
	}
	return s.eventRepo.GetByPair(pairID)
}

// GetTrades возвращает последние финализированные пары
func (s *NotificationService) GetTrades(limit int) ([]*models.TradeRecord, error) {
	if s.tradeRepo == nil {
		return nil, ErrJournalDisabled
	}
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return s.tradeRepo.GetRecent(limit)
}

// GetExitStats возвращает число закрытий по причинам за период
func (s *NotificationService) GetExitStats(period time.Duration) (map[string]int, error) {
	if s.tradeRepo == nil {
		return nil, ErrJournalDisabled
	}
	if period <= 0 {
		period = 24 * time.Hour
	}
	return s.tradeRepo.CountByReason(time.Now().Add(-period))
}
