package middleware

import (
	"net/http"
	"runtime/debug"

	"go.uber.org/zap"

	"pairbot/pkg/utils"
)

// Recovery - middleware для восстановления после паники в handlers.
//
// Логирует значение panic и stack trace, клиенту отдаёт 500 без деталей.
func Recovery(log *utils.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = utils.L()
	}
	log = log.WithComponent("http")

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					if err == http.ErrAbortHandler {
						panic(err)
					}
					log.Error("panic in http handler",
						zap.Any("panic", err),
						utils.String("method", r.Method),
						utils.String("path", r.URL.Path),
						zap.ByteString("stack", debug.Stack()))

					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
