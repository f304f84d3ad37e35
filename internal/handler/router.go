package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	custommiddleware "github.com/mmeshcher/ecofund-system/internal/middleware"
)

// SetupRouter настраивает HTTP-маршруты и middleware сервиса пожертвований.
func (h *Handler) SetupRouter() *chi.Mux {
	r := chi.NewRouter()

	r.Use(custommiddleware.GzipMiddleware)
	r.Use(custommiddleware.Logger(h.logger))

	r.Post("/api/admin/login", h.AdminLogin)

	r.Route("/api/donations", func(r chi.Router) {
		r.Post("/intents/{provider}", h.CreateIntent)
		r.Post("/confirmations/{provider}", h.ConfirmPayment)

		r.Group(func(r chi.Router) {
			r.Use(h.authMiddleware.Middleware)

			r.Get("/", h.ListDonations)
			r.Get("/stats", h.GetStats)

			r.Post("/{donationID}/refund", h.Refund)
			r.Post("/{donationID}/tax-receipt", h.IssueTaxReceipt)
		})
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusNotFound), http.StatusNotFound)
	})

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
	})

	return r
}
