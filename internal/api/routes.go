package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"pairbot/internal/api/handlers"
	"pairbot/internal/api/middleware"
	"pairbot/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Engine  handlers.Engine
	Journal handlers.Journal // nil - журнал отключён

	// StreamHandler - websocket поток UI (/ws/stream)
	StreamHandler http.HandlerFunc

	WebhookPassphraseHash string
	APIToken              string
	AllowedOrigins        []string

	Logger *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/
//
//	├── POST /webhook - внешний сигнал ENTRY / CLOSE
//	├── GET /status - лок входа, пары по состояниям, сверка
//	├── /pairs/
//	│   ├── GET / - список пар
//	│   ├── GET /{id} - одна пара
//	│   └── POST /{id}/close - закрыть пару (Bearer токен)
//	├── GET /events - журнал событий
//	└── /trades/
//	    ├── GET / - закрытые пары
//	    └── GET /stats - закрытия по причинам
//
// /ws/stream - WebSocket для real-time обновлений
// /health, /metrics
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. BearerAuth (только для операций оператора)
func SetupRoutes(deps *Dependencies) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.Recovery(deps.Logger))
	router.Use(middleware.Logging(deps.Logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	api := router.PathPrefix("/api/v1").Subrouter()

	if deps.Engine != nil {
		webhookHandler := handlers.NewWebhookHandler(deps.Engine, deps.WebhookPassphraseHash, deps.Logger)
		pairHandler := handlers.NewPairHandler(deps.Engine, deps.Logger)

		api.HandleFunc("/webhook", webhookHandler.HandleSignal).Methods("POST", "OPTIONS")
		api.HandleFunc("/status", pairHandler.GetStatus).Methods("GET")
		api.HandleFunc("/pairs", pairHandler.GetPairs).Methods("GET")
		api.HandleFunc("/pairs/{id}", pairHandler.GetPair).Methods("GET")

		api.Handle("/pairs/{id}/close",
			middleware.BearerAuth(deps.APIToken)(http.HandlerFunc(pairHandler.ClosePair)),
		).Methods("POST", "OPTIONS")
	}

	if deps.Journal != nil {
		notificationHandler := handlers.NewNotificationHandler(deps.Journal)

		api.HandleFunc("/events", notificationHandler.GetNotifications).Methods("GET")
		api.HandleFunc("/trades", notificationHandler.GetTrades).Methods("GET")
		api.HandleFunc("/trades/stats", notificationHandler.GetExitStats).Methods("GET")
	}

	if deps.StreamHandler != nil {
		router.HandleFunc("/ws/stream", deps.StreamHandler).Methods("GET")
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	return router
}
