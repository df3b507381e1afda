package websocket

import (
	"bytes"
	"context"
	"sync"
	"sync/atomic"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"pairbot/internal/models"
	"pairbot/pkg/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ============ Метрики ============

var connectedClients = promauto.NewGauge(
	prometheus.GaugeOpts{
		Namespace: "pairbot",
		Subsystem: "ws",
		Name:      "clients",
		Help:      "Connected websocket clients",
	},
)

var droppedMessages = promauto.NewCounter(
	prometheus.CounterOpts{
		Namespace: "pairbot",
		Subsystem: "ws",
		Name:      "dropped_messages_total",
		Help:      "Broadcast messages dropped because the hub queue was full",
	},
)

// ============ sync.Pool для JSON буферов ============

var jsonBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

const broadcastQueueSize = 256

// Hub управляет всеми активными WebSocket соединениями.
//
// Рассылает клиентам снимки пар и события движка. Broadcast никогда не
// блокирует вызывающего: при переполненной очереди сообщение отбрасывается,
// клиент, не успевающий читать, отключается.
//
// Использование:
// 1. Создать hub: hub := NewHub(origins, log)
// 2. Запустить в горутине: go hub.Run(ctx)
// 3. Отправлять сообщения: hub.BroadcastNotification(n)
type Hub struct {
	clients map[*Client]bool

	broadcast  chan []byte
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	stopOnce   sync.Once

	origins *OriginChecker
	dropped atomic.Int64

	mu  sync.RWMutex
	log *utils.Logger
}

// NewHub создает новый Hub. Пустой список origins разрешает любые.
func NewHub(allowedOrigins []string, log *utils.Logger) *Hub {
	if log == nil {
		log = utils.L()
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, broadcastQueueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		origins:    NewOriginChecker(allowedOrigins),
		log:        log.WithComponent("ws_hub"),
	}
}

// Run запускает главный цикл Hub до отмены контекста или Stop
func (h *Hub) Run(ctx context.Context) {
	defer h.closeAll()
	defer h.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-h.done:
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			total := len(h.clients)
			h.mu.Unlock()
			connectedClients.Set(float64(total))
			h.log.Debug("client connected", utils.Int("total", total))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			total := len(h.clients)
			h.mu.Unlock()
			connectedClients.Set(float64(total))
			h.log.Debug("client disconnected", utils.Int("total", total))

		case message := <-h.broadcast:
			h.deliver(message)
		}
	}
}

// deliver копирует список клиентов под RLock, отправляет без блокировки
// и удаляет медленных клиентов под Write Lock
func (h *Hub) deliver(message []byte) {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	var toRemove []*Client
	for _, client := range clients {
		select {
		case client.send <- message:
		default:
			toRemove = append(toRemove, client)
		}
	}

	if len(toRemove) == 0 {
		return
	}

	h.mu.Lock()
	for _, client := range toRemove {
		if _, ok := h.clients[client]; ok {
			delete(h.clients, client)
			close(client.send)
		}
	}
	total := len(h.clients)
	h.mu.Unlock()
	connectedClients.Set(float64(total))
	h.log.Warn("removed slow clients", utils.Int("removed", len(toRemove)), utils.Int("total", total))
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	connectedClients.Set(0)
}

// Stop останавливает Run. Повторный вызов безопасен.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() { close(h.done) })
}

// Broadcast сериализует сообщение и ставит его в очередь рассылки
func (h *Hub) Broadcast(message interface{}) {
	buf := jsonBufferPool.Get().(*bytes.Buffer)
	buf.Reset()

	if err := json.NewEncoder(buf).Encode(message); err != nil {
		h.log.Error("failed to marshal broadcast message", utils.Err(err))
		jsonBufferPool.Put(buf)
		return
	}

	data := bytes.TrimRight(buf.Bytes(), "\n")
	msgCopy := make([]byte, len(data))
	copy(msgCopy, data)
	jsonBufferPool.Put(buf)

	select {
	case h.broadcast <- msgCopy:
	default:
		h.dropped.Add(1)
		droppedMessages.Inc()
	}
}

// BroadcastPairUpdate отправляет снимок открытых пар
func (h *Hub) BroadcastPairUpdate(pairs []*models.Pair) {
	h.Broadcast(NewPairUpdateMessage(pairs))
}

// BroadcastNotification отправляет событие пары
func (h *Hub) BroadcastNotification(n *models.Notification) {
	if n == nil {
		return
	}
	h.Broadcast(NewNotificationMessage(n))
}

// ClientCount возвращает количество подключенных клиентов
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// DroppedMessages - число сообщений, отброшенных из-за переполнения очереди
func (h *Hub) DroppedMessages() int64 {
	return h.dropped.Load()
}
