package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/FidelCoder/GlobeLinkPay/internal/handler"
	"github.com/FidelCoder/GlobeLinkPay/internal/middleware"
)

func SetupRoutes(r chi.Router, h *handler.PaymentHandler, jwtSecret string) chi.Router {
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	auth := middleware.RequireAuth(jwtSecret)

	// ============================================================
	// Public Endpoints (Webhooks & Health)
	// ============================================================
	r.Group(func(pub chi.Router) {
		pub.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ok"))
		})

		pub.Post("/api/mpesa/stk-webhook", h.STKWebhookHandler)
		pub.Post("/api/mpesa/b2c-webhook", h.B2CWebhookHandler)
		pub.Post("/api/mpesa/queue-webhook", h.QueueWebhookHandler)
	})

	// ============================================================
	// Authenticated Endpoints
	// ============================================================
	r.Group(func(pr chi.Router) {
		pr.Use(auth)

		pr.Get("/api/ws", h.StatusWebSocketHandler)

		pr.Post("/api/mpesa/deposit", h.DepositHandler)
		pr.Post("/api/mpesa/withdraw", h.WithdrawHandler)

		pr.Post("/api/token/otp", h.RequestTransferOTP)
		pr.Post("/api/token/send", h.SendTokenHandler)
		pr.Post("/api/token/pay", h.PayMerchantHandler)
		pr.Get("/api/token/balance", h.BalanceHandler)
		pr.Get("/api/token/history", h.HistoryHandler)
		pr.Get("/api/token/events", h.TokenEventsHandler)
		pr.Post("/api/token/unify", h.UnifyHandler)

		pr.Post("/api/business/transfer-to-personal", h.BusinessTransferHandler)

		pr.Get("/api/usdc/rate", h.RateHandler)
		pr.Get("/api/fees/quote", h.FeeQuoteHandler)
	})

	return r
}
