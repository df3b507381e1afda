package bot

import "pairbot/internal/models"

// tryEnqueueNotification отправляет уведомление в канал с метриками переполнения.
// Возвращает true, если уведомление поставлено в очередь.
func tryEnqueueNotification(ch chan<- *models.Notification, notif *models.Notification) bool {
	if ch == nil || notif == nil {
		return false
	}

	select {
	case ch <- notif:
		return true
	default:
		RecordBufferOverflow("notification")
		RecordBufferBacklog("notification", cap(ch), len(ch))
		return false
	}
}

// ChannelNotifier - Notifier поверх буферизованного канала.
// Переполнение канала = потеря события (best-effort доставка).
type ChannelNotifier struct {
	ch chan<- *models.Notification
}

// NewChannelNotifier создаёт Notifier, пишущий в ch
func NewChannelNotifier(ch chan<- *models.Notification) *ChannelNotifier {
	return &ChannelNotifier{ch: ch}
}

// Emit ставит событие в очередь без блокировки
func (n *ChannelNotifier) Emit(notif *models.Notification) {
	tryEnqueueNotification(n.ch, notif)
}

// tryEnqueueQuote кладёт котировку в почтовый ящик на одно место.
// Если там уже лежит необработанная котировка, она вытесняется (latest wins).
func tryEnqueueQuote(ch chan models.Quote, q models.Quote) (coalesced bool) {
	for {
		select {
		case ch <- q:
			return coalesced
		default:
		}
		select {
		case <-ch:
			coalesced = true
		default:
		}
	}
}
